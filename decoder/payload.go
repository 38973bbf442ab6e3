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

package decoder

import (
	"bytes"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/telemetryd/telemetryd/common"
)

// decodeFrame 解码一个已从环形缓冲区中完整取出的 path/data 对
func decodeFrame(path, data []byte, ts uint64) (*common.Record, error) {
	payload := data
	if isGzipFramed(data) {
		inflated, err := inflate(data)
		if err != nil {
			return nil, errors.Wrap(ErrInflateFailed, err.Error())
		}
		payload = inflated
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.Wrap(ErrJSONParse, err.Error())
	}

	return &common.Record{
		Timestamp: ts,
		Path:      string(path),
		Document:  doc,
	}, nil
}

// isGzipFramed 判断 data 首两字节是否为 gzip magic number
func isGzipFramed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1F && data[1] == 0x8B
}

// inflate 解压 gzip 封装的 payload
//
// 输出被限制在 common.MaxRecordSize 以内 超出视为 data error（对应 spec 中
// "inflation reports output space exhausted and buffer already at max size"）
func inflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	limited := io.LimitReader(r, common.MaxRecordSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(out) > common.MaxRecordSize {
		return nil, errors.New("inflated payload exceeds max record size")
	}
	return out, nil
}
