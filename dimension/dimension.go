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

// Package dimension 把一条记录的元数据映射为落盘分区路径
package dimension

import (
	"path"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/telemetryd/telemetryd/internal/labels"
)

// ErrBadSchema 代表 dimension schema 文件格式不合法
var ErrBadSchema = errors.New("dimension: bad schema")

// kind 标识一个 dimension 的取值接受方式
type kind uint8

const (
	kValue kind = iota
	kSet
	kRange
)

// Dimension 是一条 ordered dimension：字段名 + 接受谓词
type Dimension struct {
	fieldName string
	kind      kind

	value string
	set   map[string]struct{}
	min   float64
	max   float64
}

// rawDimension 对应 schema 文件中单个 dimension 条目的 JSON 形状
type rawDimension struct {
	FieldName     string          `json:"field_name"`
	AllowedValues json.RawMessage `json:"allowed_values"`
}

func newDimension(raw rawDimension) (*Dimension, error) {
	if raw.FieldName == "" {
		return nil, errors.Wrap(ErrBadSchema, "missing field_name")
	}

	var asString string
	if err := json.Unmarshal(raw.AllowedValues, &asString); err == nil {
		return &Dimension{fieldName: raw.FieldName, kind: kValue, value: asString}, nil
	}

	var asSlice []string
	if err := json.Unmarshal(raw.AllowedValues, &asSlice); err == nil {
		set := make(map[string]struct{}, len(asSlice))
		for _, v := range asSlice {
			set[v] = struct{}{}
		}
		return &Dimension{fieldName: raw.FieldName, kind: kSet, set: set}, nil
	}

	var asRange struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}
	if err := json.Unmarshal(raw.AllowedValues, &asRange); err == nil {
		return &Dimension{fieldName: raw.FieldName, kind: kRange, min: asRange.Min, max: asRange.Max}, nil
	}

	return nil, errors.Wrapf(ErrBadSchema, "%s: invalid allowed_values element", raw.FieldName)
}

// Schema 是一个有序的 dimension 序列
//
// 顺序是有意义的：它决定了生成的分区路径各段的顺序
type Schema struct {
	Version    int
	dimensions []*Dimension
}

type rawSchema struct {
	Version    int            `json:"version"`
	Dimensions []rawDimension `json:"dimensions"`
}

// Parse 解析一份完整的 dimension schema JSON 字节
func Parse(data []byte) (*Schema, error) {
	var raw rawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrBadSchema, err.Error())
	}

	dims := make([]*Dimension, 0, len(raw.Dimensions))
	for _, rd := range raw.Dimensions {
		d, err := newDimension(rd)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}

	return &Schema{Version: raw.Version, dimensions: dims}, nil
}

const otherSegment = "other"

// Path 依次处理每个 dimension 构造分区路径
//
// 类型不匹配（数字配 kValue/kSet，字符串配 kRange）的 dimension 被跳过
// 不产生任何路径段
func (s *Schema) Path(metadata map[string]any) string {
	segments := make([]string, 0, len(s.dimensions))
	for _, d := range s.dimensions {
		seg, skip := d.segment(metadata[d.fieldName])
		if skip {
			continue
		}
		segments = append(segments, seg)
	}
	return path.Join(segments...)
}

// Labels 以 Path 同样的规则解析每个 dimension 但返回有序的字段名/取值对
// 而不是拼接好的路径字符串
//
// 供调用方派生一个稳定的分区身份哈希（例如为同一分区的重复失败日志限流）
// 而不必重新解析 path 字符串
func (s *Schema) Labels(metadata map[string]any) labels.Labels {
	ls := make(labels.Labels, 0, len(s.dimensions))
	for _, d := range s.dimensions {
		seg, skip := d.segment(metadata[d.fieldName])
		if skip {
			continue
		}
		ls = append(ls, labels.Label{Name: d.fieldName, Value: seg})
	}
	return ls
}

func (d *Dimension) segment(v any) (segment string, skip bool) {
	switch val := v.(type) {
	case string:
		switch d.kind {
		case kValue:
			if d.value == "*" || d.value == val {
				return sanitize(val), false
			}
			return otherSegment, false
		case kSet:
			if _, ok := d.set[val]; ok {
				return sanitize(val), false
			}
			return otherSegment, false
		default:
			// string value against a kRange dimension: type mismatch, skip.
			return "", true
		}
	case float64:
		if d.kind != kRange {
			// numeric value against a non-range dimension: type mismatch, skip.
			return "", true
		}
		if val >= d.min && val <= d.max {
			return cast.ToString(val), false
		}
		return otherSegment, false
	default:
		return "", true
	}
}

// sanitize 把不在 [A-Za-z0-9_./] 范围内的字节替换为 `_`
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
