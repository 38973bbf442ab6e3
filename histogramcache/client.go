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

package histogramcache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// maxSchemaBodySize bounds how much of a schema response we will read;
// schema documents are on the order of tens of KB, this is generous headroom.
const maxSchemaBodySize = 16 * 1024 * 1024

// HTTPFetcher 取回 schema 字节，走一个手写的 HTTP/1.0 请求
//
// net/http 的 client 不支持显式降级到 HTTP/1.0 也不暴露逐连接的
// `Connection: close` 语义，而 schema 服务协议明确要求两者，所以这里
// 直接拨一条 TCP 连接并手写请求行/头部，解析沿用 net/http 的
// http.ReadResponse（对响应这一侧完全兼容）
type HTTPFetcher struct {
	// Host 是 schema 服务的 host:port
	Host string

	// Timeout 限制单次拨号+读取响应的总时长 零值表示读写不设超时
	// 但拨号仍以 10 秒为限
	Timeout time.Duration
}

// NewHTTPFetcher 创建一个指向 host 的 HTTPFetcher
func NewHTTPFetcher(host string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Host: host, Timeout: timeout}
}

// Fetch 对 /histogram_buckets?revision=<key> 发起一次 HTTP/1.0 GET
//
// 非 200 状态码映射为 (nil, false, nil)：调用方应当将 revision 标记为
// 已知缺失，而不是把它当作需要重试的错误
func (f *HTTPFetcher) Fetch(revisionKey string) ([]byte, bool, error) {
	conn, err := net.DialTimeout("tcp", f.Host, dialTimeout(f.Timeout))
	if err != nil {
		return nil, false, errors.Wrap(err, "histogramcache: dial failed")
	}
	defer conn.Close()

	if f.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(f.Timeout)); err != nil {
			return nil, false, errors.Wrap(err, "histogramcache: set deadline failed")
		}
	}

	// revisionKey ultimately originates from a telemetry submission's
	// info.revision field, so it must be escaped before going into a raw
	// request line: an unescaped CR/LF would let a crafted ping smuggle
	// extra headers or requests to the schema service.
	req := fmt.Sprintf(
		"GET /histogram_buckets?revision=%s HTTP/1.0\r\nHost: %s\r\nAccept: */*\r\nConnection: close\r\n\r\n",
		url.QueryEscape(revisionKey), f.Host,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, false, errors.Wrap(err, "histogramcache: write request failed")
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "histogramcache: read response failed")
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp)
	if err != nil {
		return nil, false, errors.Wrap(err, "histogramcache: read body failed")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}
	return body, true, nil
}

func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func readAllLimited(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxSchemaBodySize))
}
