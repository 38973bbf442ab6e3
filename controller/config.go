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

package controller

import "time"

// Config 是 telemetry 摄取守护进程的顶层配置
type Config struct {
	// InputDirectory 是被监视的、包含原始遥测记录文件的目录
	InputDirectory string `config:"input_directory"`

	// TelemetrySchema 是 dimension schema 文件路径
	TelemetrySchema string `config:"telemetry_schema"`

	// HistogramServer 是 histogram_buckets 服务的 host[:port]
	HistogramServer string `config:"histogram_server"`

	// StoragePath 是分区当前文件的落盘根目录
	StoragePath string `config:"storage_path"`

	// LogPath 是日志文件路径
	LogPath string `config:"log_path"`

	// UploadPath 是滚动完成文件的移交根目录
	UploadPath string `config:"upload_path"`

	// MaxUncompressed 是单个分区文件滚动前的未压缩字节数上限
	MaxUncompressed uint64 `config:"max_uncompressed"`

	// MemoryConstraint 是同时保持打开的分区文件句柄数上限
	MemoryConstraint int `config:"memory_constraint"`

	// CompressionPreset 选择滚动文件的 gzip 压缩级别
	CompressionPreset int `config:"compression_preset"`

	// HTTPTimeout 限制 histogram_buckets 单次取回的总时长
	HTTPTimeout time.Duration `config:"http_timeout"`
}

func (c Config) httpTimeout() time.Duration {
	if c.HTTPTimeout <= 0 {
		return 10 * time.Second
	}
	return c.HTTPTimeout
}
