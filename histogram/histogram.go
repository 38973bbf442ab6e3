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

// Package histogram 解析直方图 schema 文件并提供 bucket 下界到索引的查找
package histogram

import (
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrBadSchema 代表一次 schema 加载失败 只影响这一次加载 不是进程级 fatal
var ErrBadSchema = errors.New("histogram: bad schema")

// Definition 是一个具名直方图的 schema：kind/min/max/bucket_count 加上
// bucket 下界到规范顺序位置的单射映射
type Definition struct {
	Kind        int
	Min         int
	Max         int
	BucketCount int

	bounds map[int]int
}

// rawDefinition 对应 schema 文件中单个直方图定义的 JSON 形状
type rawDefinition struct {
	Kind        json.Number `json:"kind"`
	Min         int         `json:"min"`
	Max         int         `json:"max"`
	BucketCount int         `json:"bucket_count"`
	Buckets     []int       `json:"buckets"`
}

// newDefinition 从一个解析好的 rawDefinition 构造 Definition
//
// bucket_count 必须等于 buckets 数组长度 否则返回 ErrBadSchema
func newDefinition(name string, raw rawDefinition) (*Definition, error) {
	kind, err := raw.Kind.Int64()
	if err != nil {
		return nil, errors.Wrapf(ErrBadSchema, "%s: kind is not an integer: %s", name, err)
	}

	if len(raw.Buckets) != raw.BucketCount {
		return nil, errors.Wrapf(ErrBadSchema, "%s: bucket_count=%d but %d buckets given",
			name, raw.BucketCount, len(raw.Buckets))
	}

	bounds := make(map[int]int, len(raw.Buckets))
	for idx, lower := range raw.Buckets {
		bounds[lower] = idx
	}

	return &Definition{
		Kind:        int(kind),
		Min:         raw.Min,
		Max:         raw.Max,
		BucketCount: raw.BucketCount,
		bounds:      bounds,
	}, nil
}

// BucketIndex 返回 lowerBound 对应的规范顺序位置 未找到返回 -1
func (d *Definition) BucketIndex(lowerBound int) int {
	if idx, ok := d.bounds[lowerBound]; ok {
		return idx
	}
	return -1
}

// Set 是一组具名直方图定义 由 HistogramCache 按 revision 持有并在多个
// converter 之间只读共享
type Set struct {
	definitions map[string]*Definition
}

// rawSchema 对应 schema 文件的顶层形状：{"histograms": {name: {...}, ...}}
type rawSchema struct {
	Histograms map[string]rawDefinition `json:"histograms"`
}

// Parse 解析一份完整的 schema JSON 字节 构造 *Set
//
// 任意一个直方图定义解析失败都让整份 schema 加载失败（fatal to this one
// load，而非进程级 fatal）：所有定义失败被聚合进一个 multierror 一并
// 返回 调用方不会拿到一个部分可用的 Set
func Parse(data []byte) (*Set, error) {
	var raw rawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrBadSchema, err.Error())
	}

	definitions := make(map[string]*Definition, len(raw.Histograms))

	var merr *multierror.Error
	for name, rd := range raw.Histograms {
		def, err := newDefinition(name, rd)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		definitions[name] = def
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Set{definitions: definitions}, nil
}

// Get 按名称查找一个直方图定义 未找到返回 (nil, false)
func (s *Set) Get(name string) (*Definition, bool) {
	def, ok := s.definitions[name]
	return def, ok
}

// Len 返回 set 中成功解析的定义数量
func (s *Set) Len() int {
	return len(s.definitions)
}
