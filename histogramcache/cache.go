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

// Package histogramcache 按 revision URL 获取并缓存直方图 schema 集合
//
// 两张表：digest（schema 原始字节 MD5）去重相同内容的 schema；revision
// 记录每个 revision key 最近一次解析结果，包括"已知缺失"哨兵，避免对
// 返回 404 的 revision 反复发起请求
package histogramcache

import (
	"crypto/md5" //nolint:gosec // content digest for dedup, not a security boundary
	"encoding/hex"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/telemetryd/telemetryd/histogram"
)

// ErrSchemaMissing 代表 revision 无法解析出任何 schema（网络失败 解析失败
// 或服务端返回非 200 都归一为这个结果）
var ErrSchemaMissing = errors.New("histogramcache: schema not available")

// missing 是 revision 表中的"已知缺失"哨兵 与一条真实 *histogram.Set 区分开
var missing = &histogram.Set{}

// Fetcher 从 histogram_buckets 服务取回一个 revision 对应的原始 schema 字节
//
// 由 httpFetcher 实现 HTTP/1.0 取回；测试里替换为内存实现
type Fetcher interface {
	Fetch(revisionKey string) (body []byte, ok bool, err error)
}

// Cache 持有两张只读共享的 schema-set 映射 由 sync.RWMutex 保护
//
// 保护是必要的：ingest.Ingester 为每个被监视的输入文件各起一个协程 而
// Cache 在这些协程之间共享（§5 的"并行实现需要读写锁"在这里成立）
type Cache struct {
	fetcher Fetcher

	mu       sync.RWMutex
	digests  map[string]*histogram.Set
	revision map[string]*histogram.Set
}

// New 创建一个按给定 Fetcher 取回 schema 的 Cache
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher:  fetcher,
		digests:  make(map[string]*histogram.Set),
		revision: make(map[string]*histogram.Set),
	}
}

// Find 按 revision URL 解析出一个 *histogram.Set 未能解析返回 nil
func (c *Cache) Find(revisionURL string) *histogram.Set {
	if !strings.HasPrefix(revisionURL, "http") {
		return nil
	}
	key := RevisionKey(revisionURL)

	c.mu.RLock()
	if set, ok := c.revision[key]; ok {
		c.mu.RUnlock()
		if set == missing {
			return nil
		}
		return set
	}
	c.mu.RUnlock()

	return c.fetchAndCache(key)
}

// fetchAndCache 执行一次实际的网络取回 解析并落入两张表
func (c *Cache) fetchAndCache(key string) *histogram.Set {
	body, ok, err := c.fetcher.Fetch(key)
	if err != nil || !ok {
		c.markMissing(key)
		return nil
	}

	digest := digestOf(body)

	c.mu.RLock()
	if set, ok := c.digests[digest]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.revision[key] = set
		c.mu.Unlock()
		return set
	}
	c.mu.RUnlock()

	set, err := histogram.Parse(body)
	if err != nil {
		// parse failure is never negatively cached: the server may be
		// updated to serve a corrected schema on the next lookup.
		return nil
	}

	c.mu.Lock()
	c.digests[digest] = set
	c.revision[key] = set
	c.mu.Unlock()
	return set
}

func (c *Cache) markMissing(key string) {
	c.mu.Lock()
	c.revision[key] = missing
	c.mu.Unlock()
}

// RevisionKey 提取 revision URL 最后一个 `/` 之后的部分
//
// 不含 `/` 的裸 key（例如已经是 revision key 本身）原样返回
func RevisionKey(revisionURL string) string {
	if idx := strings.LastIndex(revisionURL, "/"); idx >= 0 {
		return revisionURL[idx+1:]
	}
	return revisionURL
}

func digestOf(body []byte) string {
	sum := md5.Sum(body) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
