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

// Package converter 用解析出的直方图 schema 就地改写一条记录的直方图数据
//
// 输入文档的 "bucket-lower-bound -> count" 对象被替换为按 bucket 序号
// 对齐的稠密数组，末尾附加 5 个汇总字段
package converter

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/telemetryd/telemetryd/common"
	"github.com/telemetryd/telemetryd/histogram"
	"github.com/telemetryd/telemetryd/histogramcache"
)

// ErrBadBucketLowerBound 代表某个 value key 不在对应 schema 中 记录被判失败
var ErrBadBucketLowerBound = errors.New("converter: bucket lower bound not in schema")

// ErrSchemaMissing 代表 revision 未能解析出 schema（转发 histogramcache.ErrSchemaMissing 的语义）
var ErrSchemaMissing = histogramcache.ErrSchemaMissing

// ErrMalformedRecord 代表文档缺少 info/histograms/ver 等必需字段
var ErrMalformedRecord = errors.New("converter: malformed record")

// startupPrefix 是遗留 "startup" 直方图名称的兼容前缀
const startupPrefix = "STARTUP_"

// extraFields 是每个直方图数组末尾追加的汇总字段 顺序固定
var extraFields = [common.ExtraSummaryFields]string{
	"sum", "log_sum", "log_sum_squares", "sum_squares_lo", "sum_squares_hi",
}

// Logger 是 converter 记录 UnknownHistogramName 一类警告所需的最小接口
// 由 logger.Logger 满足
type Logger interface {
	Warnf(template string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// Convert 就地改写 rec.Document 中的直方图 数据来源于 cache 按
// info.revision 解析出的 schema
//
// 返回 nil 代表整条记录转换成功（doc["ver"] 已被置为 2）；非 nil 代表
// 记录失败（doc["ver"] 已被置为 -1）。ver == 2 的输入被当作已转换的
// no-op 立即成功返回，不触碰 histograms
func Convert(cache *histogramcache.Cache, rec *common.Record, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}

	doc := rec.Document
	ver, ok := asInt(doc["ver"])
	if !ok {
		doc["ver"] = -1
		return errors.Wrap(ErrMalformedRecord, "missing or non-numeric ver")
	}

	switch ver {
	case 2:
		return nil
	case 1:
		// falls through below
	default:
		doc["ver"] = -1
		return errors.Wrapf(ErrMalformedRecord, "invalid ver: %d", ver)
	}

	info, ok := doc["info"].(map[string]any)
	if !ok {
		doc["ver"] = -1
		return errors.Wrap(ErrMalformedRecord, "missing info object")
	}
	revision, ok := info["revision"].(string)
	if !ok {
		doc["ver"] = -1
		return errors.Wrap(ErrMalformedRecord, "missing info.revision")
	}

	histograms, ok := doc["histograms"].(map[string]any)
	if !ok {
		doc["ver"] = -1
		return errors.Wrap(ErrMalformedRecord, "missing histograms object")
	}

	set := cache.Find(revision)
	if set == nil {
		doc["ver"] = -1
		return errors.Wrapf(ErrSchemaMissing, "revision %q", revision)
	}

	if err := rewriteHistograms(set, histograms, logger); err != nil {
		doc["ver"] = -1
		return err
	}

	doc["ver"] = 2
	return nil
}

// rewriteHistograms 遍历 histograms 对象的每个条目 就地改写
func rewriteHistograms(set *histogram.Set, histograms map[string]any, logger Logger) error {
	for name, raw := range histograms {
		submission, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		def, resolvedName, found := resolveDefinition(set, name)
		if !found {
			logger.Warnf("unknown histogram name: %s", name)
			continue
		}

		array, err := rewriteOne(def, submission)
		if err != nil {
			return err
		}

		if resolvedName != name {
			delete(histograms, name)
		}
		histograms[resolvedName] = array
	}
	return nil
}

// resolveDefinition 查找 name 对应的定义 如果未命中且 name 以 STARTUP_
// 开头 则用去掉前缀后的名称重试
func resolveDefinition(set *histogram.Set, name string) (*histogram.Definition, string, bool) {
	if def, ok := set.Get(name); ok {
		return def, name, true
	}
	if strings.HasPrefix(name, startupPrefix) {
		stripped := name[len(startupPrefix):]
		if def, ok := set.Get(stripped); ok {
			return def, stripped, true
		}
	}
	return nil, name, false
}

// rewriteOne 把一个直方图提交对象改写成 bucket_count+5 长度的 []float64
func rewriteOne(def *histogram.Definition, submission map[string]any) ([]float64, error) {
	arraySize := def.BucketCount + common.ExtraSummaryFields
	array := make([]float64, arraySize)

	values, ok := submission["values"].(map[string]any)
	if !ok {
		return nil, errors.Wrap(ErrMalformedRecord, "missing values object")
	}

	for key, v := range values {
		lowerBound, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Wrapf(ErrBadBucketLowerBound, "non-numeric key %q", key)
		}
		count, ok := asFloat(v)
		if !ok {
			return nil, errors.Wrapf(ErrBadBucketLowerBound, "non-numeric count for key %q", key)
		}

		idx := def.BucketIndex(lowerBound)
		if idx == -1 {
			return nil, errors.Wrapf(ErrBadBucketLowerBound, "lower bound %d", lowerBound)
		}
		array[idx] = count
	}

	for i, field := range extraFields {
		if v, ok := asFloat(submission[field]); ok {
			array[def.BucketCount+i] = v
		} else {
			array[def.BucketCount+i] = -1
		}
	}

	return array, nil
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
