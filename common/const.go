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

package common

const (
	// App 应用程序名称
	App = "telemetryd"

	// Version 应用程序版本
	Version = "v0.0.1"

	// MaxPathSize 单条记录 path 字段的最大字节数
	MaxPathSize = 10 * 1024

	// MaxDataSize 单条记录 data 字段（解压前）的最大字节数
	MaxDataSize = 200 * 1024

	// MaxRecordSize 单条记录 header + path + data 的最大字节数
	//
	// 解码环形缓冲区至少需要增长到这个容量才能保证任意合法记录都能被完整解码
	MaxRecordSize = headerSize + MaxPathSize + MaxDataSize

	// headerSize 记录头部固定字节数：separator(1) + path_length(2) + data_length(4) + timestamp(8)
	headerSize = 1 + 2 + 4 + 8

	// ExtraSummaryFields 每个直方图在 bucket 数组之后追加的汇总字段数量
	//
	// 依次为 sum / log_sum / log_sum_squares / sum_squares_lo / sum_squares_hi
	ExtraSummaryFields = 5
)
