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

import "strings"

// Record 代表一条解码后的遥测提交
//
// Document 在 HistogramConverter 阶段被原地修改 不会在写入之后被复用
type Record struct {
	Timestamp uint64
	Path      string
	Document  map[string]any
}

// UUIDPrefix 返回 path 中第一个 `/` 之前的部分
//
// RecordWriter 用它作为落盘记录行的首个字段
func (r *Record) UUIDPrefix() string {
	if idx := strings.IndexByte(r.Path, '/'); idx >= 0 {
		return r.Path[:idx]
	}
	return r.Path
}
