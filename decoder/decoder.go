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

// Package decoder 从任意切分的字节流中提取变长的遥测记录
//
// 实现了 spec 描述的分隔符重同步状态机：0x1E 分隔符 + 小端长度前缀头部
// 一旦头部字段越界 分隔符即被视为伪造 扫描从下一字节重新开始 不会永久失去同步
package decoder

import (
	"bytes"
	"encoding/binary"

	"github.com/telemetryd/telemetryd/common"
)

const (
	sepByte = 0x1E

	// headerFieldsSize path_length(2) + data_length(4) + timestamp(8)
	headerFieldsSize = 2 + 4 + 8
)

// state 记录着 decoder 的处理状态 对应 spec 中的 SEEKING_SEP/READING_HDR/READING_BODY
type state uint8

const (
	stateSeekSep state = iota
	stateReadHeader
	stateReadBody
)

// Stats 累计解码过程中的计数 供上层汇报指标
type Stats struct {
	RecordsOK       uint64
	RecordsFailed   uint64
	FramesResynced  uint64
	BytesDiscarded  uint64
}

// Decoder 从连续追加的字节流中逐条解出 *common.Record
//
// 非阻塞：Next 在数据不足时返回 ErrNeedMore 调用方 Feed 更多字节后重试
// path/data 直接从环形缓冲区切出 不经中间缓冲；path 在构造 Record 时被拷贝成 string
type Decoder struct {
	buf   []byte
	state state

	pendingPathLen uint16
	pendingDataLen uint32
	pendingTS      uint64

	stats Stats
}

// New 创建并返回 *Decoder 实例
func New() *Decoder {
	return &Decoder{}
}

// Feed 向解码器追加新读取到的字节
//
// 新字节追加在尚未消费的数据之后 任何时候调用都不会丢失已缓冲的数据
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	d.buf = append(d.buf, p...)
}

// Stats 返回当前累计的解码统计
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Next 尝试从当前缓冲区中解出下一条记录
//
// 返回 (nil, ErrNeedMore) 代表需要更多字节；返回 (nil, err) 代表记录被丢弃（已计入失败统计）
// 扫描已经恢复到下一个分隔符之后 调用方可以立即再次调用 Next
func (d *Decoder) Next() (*common.Record, error) {
	for {
		switch d.state {
		case stateSeekSep:
			idx := bytes.IndexByte(d.buf, sepByte)
			if idx == -1 {
				d.stats.BytesDiscarded += uint64(len(d.buf))
				d.buf = d.buf[:0]
				return nil, ErrNeedMore
			}
			d.stats.BytesDiscarded += uint64(idx)
			d.buf = d.buf[idx+1:]
			d.state = stateReadHeader

		case stateReadHeader:
			if len(d.buf) < headerFieldsSize {
				return nil, ErrNeedMore
			}

			pathLen := binary.LittleEndian.Uint16(d.buf[0:2])
			dataLen := binary.LittleEndian.Uint32(d.buf[2:6])
			ts := binary.LittleEndian.Uint64(d.buf[6:14])

			if pathLen > common.MaxPathSize || dataLen > common.MaxDataSize {
				// spurious separator (already consumed): count it as discarded and
				// resume scanning at the byte right after it
				d.stats.FramesResynced++
				d.stats.BytesDiscarded++
				d.state = stateSeekSep
				continue
			}

			d.pendingPathLen, d.pendingDataLen, d.pendingTS = pathLen, dataLen, ts
			d.buf = d.buf[headerFieldsSize:]
			d.state = stateReadBody

		case stateReadBody:
			need := int(d.pendingPathLen) + int(d.pendingDataLen)
			if len(d.buf) < need {
				return nil, ErrNeedMore
			}

			path := d.buf[:d.pendingPathLen]
			data := d.buf[d.pendingPathLen:need]
			d.buf = d.buf[need:]
			ts := d.pendingTS
			d.state = stateSeekSep

			rec, err := decodeFrame(path, data, ts)
			if err != nil {
				d.stats.RecordsFailed++
				return nil, err
			}
			d.stats.RecordsOK++
			return rec, nil
		}
	}
}
