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

// Package writer 把转换后的记录按分区路径落盘 按大小滚动并移交上传目录
//
// 接口形状沿用 exporter.Sinker 的写入/关闭二元组 只是改了名字贴合这个领域
package writer

import (
	"github.com/goccy/go-json"
)

// Writer 把一条已经格式化好的记录行写入给定分区
//
// 与 exporter.Sinker.Sink/Close 同形：一个写入方法 一个关闭方法
type Writer interface {
	Write(partitionPath string, p []byte) error
	Close() error
}

// FormatLine 按 `<uuid-prefix>\t<json>\n` 组装一条落盘记录行
func FormatLine(uuidPrefix string, doc map[string]any) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	line := make([]byte, 0, len(uuidPrefix)+1+len(body)+1)
	line = append(line, uuidPrefix...)
	line = append(line, '\t')
	line = append(line, body...)
	line = append(line, '\n')
	return line, nil
}
