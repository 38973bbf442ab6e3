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

import "github.com/pkg/errors"

// ErrNeedMore 代表当前缓冲区尚不足以解出下一条完整记录 调用方需要补充更多字节后重试
//
// 这不是一个解码失败 不计入失败计数
var ErrNeedMore = errors.New("decoder: need more bytes")

// ErrInflateFailed gzip 解压失败 记录被丢弃 扫描继续
var ErrInflateFailed = errors.New("decoder: inflate failed")

// ErrJSONParse payload JSON 解析失败 记录被丢弃 扫描继续
var ErrJSONParse = errors.New("decoder: json parse failed")
