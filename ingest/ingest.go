// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest 把解码、转换、分区、落盘串成一条针对单个输入文件的流水线
package ingest

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/telemetryd/telemetryd/common"
	"github.com/telemetryd/telemetryd/converter"
	"github.com/telemetryd/telemetryd/decoder"
	"github.com/telemetryd/telemetryd/dimension"
	"github.com/telemetryd/telemetryd/histogramcache"
	"github.com/telemetryd/telemetryd/internal/fasttime"
	"github.com/telemetryd/telemetryd/logger"
	"github.com/telemetryd/telemetryd/writer"
)

// warnSuppressWindow 是同一分区重复告警之间的最小间隔 避免单个持续出问题
// 的分区刷屏日志
const warnSuppressWindow = int64(10)

// Stats 是一个 Ingester 的累计摄取计数 由 controller 累加进 promauto 指标
type Stats struct {
	RecordsRead    uint64
	RecordsFailed  uint64
	BytesRead      uint64
	FramesResynced uint64
}

// Ingester 拥有一个 decoder.Decoder + 共享的 *histogramcache.Cache +
// *dimension.Schema + writer.Writer 把一个输入文件消费到底
//
// 每个被监视目录可以有多个并发运行的 Ingester（每个处理一个文件）；
// 结构上对应 controller.Controller.consumeRoundTrip 的 for-select 消费
// 循环，这里换成了"读文件字节 -> 解码 -> 转换 -> 路由 -> 写出"
type Ingester struct {
	cache  *histogramcache.Cache
	schema *dimension.Schema
	w      writer.Writer

	readBufSize int

	stats Stats

	warnMu   sync.Mutex
	warnedAt map[uint64]int64
}

// New 创建一个共享 cache/schema/writer 的 Ingester
func New(cache *histogramcache.Cache, schema *dimension.Schema, w writer.Writer) *Ingester {
	return &Ingester{
		cache:       cache,
		schema:      schema,
		w:           w,
		readBufSize: 64 * 1024,
		warnedAt:    make(map[uint64]int64),
	}
}

// warnf 对同一分区的重复告警按 warnSuppressWindow 限流
func (ig *Ingester) warnf(metadata map[string]any, template string, args ...any) {
	key := ig.schema.Labels(metadata).Hash()
	now := fasttime.UnixTimestamp()

	ig.warnMu.Lock()
	last, seen := ig.warnedAt[key]
	if seen && now-last < warnSuppressWindow {
		ig.warnMu.Unlock()
		return
	}
	ig.warnedAt[key] = now
	ig.warnMu.Unlock()

	logger.Warnf(template, args...)
}

// Stats 返回当前累计的摄取统计
func (ig *Ingester) Stats() Stats {
	return Stats{
		RecordsRead:    atomic.LoadUint64(&ig.stats.RecordsRead),
		RecordsFailed:  atomic.LoadUint64(&ig.stats.RecordsFailed),
		BytesRead:      atomic.LoadUint64(&ig.stats.BytesRead),
		FramesResynced: atomic.LoadUint64(&ig.stats.FramesResynced),
	}
}

// IngestFile 打开 path 把它完整消费到底 单个记录失败不会中止整个文件
func (ig *Ingester) IngestFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "ingest: open %q failed", path)
	}
	defer f.Close()

	return ig.Drain(f)
}

// Drain 从 r 读取字节直到 EOF 逐条解码、转换、路由、写出
func (ig *Ingester) Drain(r io.Reader) error {
	d := decoder.New()
	buf := make([]byte, ig.readBufSize)
	defer ig.carryDecoderStats(d)

	for {
		rec, err := d.Next()
		switch {
		case err == nil:
			ig.handleRecord(rec)
			continue
		case errors.Is(err, decoder.ErrNeedMore):
			// fallthrough to reading more bytes below
		default:
			// decoder already counted this in its own Stats; keep draining.
			atomic.AddUint64(&ig.stats.RecordsFailed, 1)
			continue
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
			atomic.AddUint64(&ig.stats.BytesRead, uint64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return errors.Wrap(rerr, "ingest: read failed")
		}
	}
}

// carryDecoderStats 把本次 Drain 用到的 decoder 的累计计数并入 ig.stats
//
// 目前只有 FramesResynced 需要这样搬运：RecordsRead/RecordsFailed/BytesRead
// 已经在 handleRecord/Drain 自身的循环里直接累加了
func (ig *Ingester) carryDecoderStats(d *decoder.Decoder) {
	atomic.AddUint64(&ig.stats.FramesResynced, d.Stats().FramesResynced)
}

// handleRecord 转换一条记录 计算分区路径并写出
func (ig *Ingester) handleRecord(rec *common.Record) {
	atomic.AddUint64(&ig.stats.RecordsRead, 1)

	if err := converter.Convert(ig.cache, rec, loggerAdapter{}); err != nil {
		ig.warnf(rec.Document, "ingest: convert failed: %v", err)
		atomic.AddUint64(&ig.stats.RecordsFailed, 1)
		return
	}

	partitionPath := ig.schema.Path(rec.Document)
	line, err := writer.FormatLine(rec.UUIDPrefix(), rec.Document)
	if err != nil {
		ig.warnf(rec.Document, "ingest: format line failed: %v", err)
		atomic.AddUint64(&ig.stats.RecordsFailed, 1)
		return
	}

	if err := ig.w.Write(partitionPath, line); err != nil {
		ig.warnf(rec.Document, "ingest: write failed: %v", err)
		atomic.AddUint64(&ig.stats.RecordsFailed, 1)
	}
}

type loggerAdapter struct{}

func (loggerAdapter) Warnf(template string, args ...any) {
	logger.Warnf(template, args...)
}
