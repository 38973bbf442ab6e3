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

package writer

import (
	"container/list"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// CompressionPreset 选择滚动文件的 gzip 压缩级别
type CompressionPreset int

const (
	// PresetDefault 对应未识别的 compression_preset 取值
	PresetDefault CompressionPreset = iota
	PresetBestSpeed
	PresetBestCompression
)

func (p CompressionPreset) level() int {
	switch p {
	case PresetBestSpeed:
		return gzip.BestSpeed
	case PresetBestCompression:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// Config 配置一个 RollingWriter
type Config struct {
	// StoragePath 是分区当前正在写入的文件所在的根目录
	StoragePath string

	// UploadPath 是文件滚动完成后被移交的根目录
	UploadPath string

	// MaxUncompressed 是单个分区文件滚动前允许写入的未压缩字节数上限
	MaxUncompressed uint64

	// MemoryConstraint 是同时保持打开的分区文件句柄数上限
	//
	// 超出时按最近最少写入淘汰；零值表示不设上限
	MemoryConstraint int

	// CompressionPreset 选择 gzip 压缩级别
	CompressionPreset CompressionPreset
}

// partition 是一个分区当前打开的目标文件
type partition struct {
	path string

	file    *os.File
	gz      *gzip.Writer
	written uint64
}

// RollingWriter 是 Writer 的具体实现：按分区路径维持一组有界的打开文件
// 句柄，超过 max_uncompressed 时滚动到 upload_path
type RollingWriter struct {
	conf Config

	mu    sync.Mutex
	open  map[string]*partition
	lru   *list.List
	elems map[string]*list.Element
}

// New 创建一个按 conf 配置的 RollingWriter
func New(conf Config) *RollingWriter {
	return &RollingWriter{
		conf:  conf,
		open:  make(map[string]*partition),
		lru:   list.New(),
		elems: make(map[string]*list.Element),
	}
}

// Write 把 p 追加到 partitionPath 对应的当前文件 必要时先滚动再打开
func (w *RollingWriter) Write(partitionPath string, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	part, err := w.getOrOpen(partitionPath)
	if err != nil {
		return err
	}

	n, err := part.gz.Write(p)
	if err != nil {
		return errors.Wrapf(err, "writer: write to partition %q failed", partitionPath)
	}
	part.written += uint64(n)
	w.touch(partitionPath)

	if w.conf.MaxUncompressed > 0 && part.written >= w.conf.MaxUncompressed {
		return w.roll(partitionPath)
	}
	return nil
}

// Close 滚动并关闭所有当前打开的分区
func (w *RollingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var merr error
	for path := range w.open {
		if err := w.roll(path); err != nil && merr == nil {
			merr = err
		}
	}
	return merr
}

// getOrOpen 返回 partitionPath 对应的打开文件 不存在则创建
//
// 若已打开的句柄数已达 MemoryConstraint 先淘汰最近最少写入的分区
func (w *RollingWriter) getOrOpen(partitionPath string) (*partition, error) {
	if part, ok := w.open[partitionPath]; ok {
		return part, nil
	}

	if w.conf.MemoryConstraint > 0 && len(w.open) >= w.conf.MemoryConstraint {
		if err := w.evictOldest(); err != nil {
			return nil, err
		}
	}

	dir, err := safeJoin(w.conf.StoragePath, partitionPath)
	if err != nil {
		return nil, errors.Wrapf(err, "writer: partition %q", partitionPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "writer: mkdir %q failed", dir)
	}

	filename := filepath.Join(dir, "current.ndjson.gz")
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "writer: open %q failed", filename)
	}

	gz, err := gzip.NewWriterLevel(f, w.conf.CompressionPreset.level())
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "writer: gzip writer init failed")
	}

	part := &partition{path: partitionPath, file: f, gz: gz}
	w.open[partitionPath] = part
	w.elems[partitionPath] = w.lru.PushFront(partitionPath)
	return part, nil
}

// touch 把 partitionPath 移动到 LRU 列表前端，标记为最近写入
func (w *RollingWriter) touch(partitionPath string) {
	if elem, ok := w.elems[partitionPath]; ok {
		w.lru.MoveToFront(elem)
	}
}

// evictOldest 滚动并关闭 LRU 列表末端（最近最少写入）的分区
func (w *RollingWriter) evictOldest() error {
	back := w.lru.Back()
	if back == nil {
		return nil
	}
	partitionPath := back.Value.(string)
	return w.roll(partitionPath)
}

// roll 关闭 partitionPath 当前文件 压缩数据已经就地写入 把文件改名
// 移交到 upload_path 下
func (w *RollingWriter) roll(partitionPath string) error {
	part, ok := w.open[partitionPath]
	if !ok {
		return nil
	}

	if err := part.gz.Close(); err != nil {
		part.file.Close()
		return errors.Wrapf(err, "writer: close gzip writer for %q failed", partitionPath)
	}
	if err := part.file.Close(); err != nil {
		return errors.Wrapf(err, "writer: close file for %q failed", partitionPath)
	}

	delete(w.open, partitionPath)
	if elem, ok := w.elems[partitionPath]; ok {
		w.lru.Remove(elem)
		delete(w.elems, partitionPath)
	}

	storageDir, err := safeJoin(w.conf.StoragePath, partitionPath)
	if err != nil {
		return errors.Wrapf(err, "writer: partition %q", partitionPath)
	}

	if part.written == 0 {
		return os.Remove(filepath.Join(storageDir, "current.ndjson.gz"))
	}

	uploadDir, err := safeJoin(w.conf.UploadPath, partitionPath)
	if err != nil {
		return errors.Wrapf(err, "writer: partition %q", partitionPath)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return errors.Wrapf(err, "writer: mkdir %q failed", uploadDir)
	}

	src := filepath.Join(storageDir, "current.ndjson.gz")
	dst := filepath.Join(uploadDir, uuid.NewString()+".ndjson.gz")
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "writer: rename %q to %q failed", src, dst)
	}
	return nil
}

// safeJoin joins root and rel the way filepath.Join does, but rejects a
// result that escapes root: partitionPath is derived from dimension.Schema,
// which allows '.' and '/' through sanitize() to preserve legitimate nested
// segments, so a crafted telemetry submission could otherwise smuggle ".."
// components and write outside the storage/upload trees.
func safeJoin(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", errors.Errorf("partition path %q escapes root %q", rel, root)
	}
	return joined, nil
}
