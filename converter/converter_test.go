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

package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetryd/telemetryd/common"
	"github.com/telemetryd/telemetryd/histogramcache"
)

const schemaJSON = `{
	"histograms": {
		"CYCLE_COLLECTOR": {"kind": "1", "min": 0, "max": 10, "bucket_count": 3, "buckets": [0, 1, 2]},
		"A11Y_CONSUMERS":  {"kind": "1", "min": 0, "max": 10, "bucket_count": 2, "buckets": [0, 1]}
	}
}`

type fakeFetcher struct{ body string }

func (f fakeFetcher) Fetch(string) ([]byte, bool, error) {
	if f.body == "" {
		return nil, false, nil
	}
	return []byte(f.body), true, nil
}

func newTestCache(body string) *histogramcache.Cache {
	return histogramcache.New(fakeFetcher{body: body})
}

func baseDoc(ver int, histograms map[string]any) map[string]any {
	return map[string]any{
		"ver":        ver,
		"info":       map[string]any{"revision": "http://hg.example.org/rev/rev1"},
		"histograms": mergeHistograms(histograms),
	}
}

func mergeHistograms(h map[string]any) map[string]any {
	if h == nil {
		return map[string]any{}
	}
	return h
}

func TestConvertSuccess(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(1, map[string]any{
		"A11Y_CONSUMERS": map[string]any{
			"values":  map[string]any{"0": float64(5), "1": float64(3)},
			"sum":     float64(11),
			"log_sum": float64(1.5),
		},
	})
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc["ver"])

	arr, ok := doc["histograms"].(map[string]any)["A11Y_CONSUMERS"].([]float64)
	require.True(t, ok)
	require.Len(t, arr, 2+5)
	assert.Equal(t, float64(5), arr[0])
	assert.Equal(t, float64(3), arr[1])
	assert.Equal(t, float64(11), arr[2])   // sum
	assert.Equal(t, float64(1.5), arr[3])  // log_sum
	assert.Equal(t, float64(-1), arr[4])   // log_sum_squares missing -> -1
	assert.Equal(t, float64(-1), arr[5])   // sum_squares_lo missing -> -1
	assert.Equal(t, float64(-1), arr[6])   // sum_squares_hi missing -> -1
}

func TestConvertVerTwoIsNoop(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(2, map[string]any{
		"A11Y_CONSUMERS": map[string]any{"values": map[string]any{"0": float64(1)}},
	})
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc["ver"])

	// untouched: still the original submission object, not an array.
	_, isArray := doc["histograms"].(map[string]any)["A11Y_CONSUMERS"].([]float64)
	assert.False(t, isArray)
}

func TestConvertInvalidVerFails(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(99, nil)
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	assert.Error(t, err)
	assert.EqualValues(t, -1, doc["ver"])
}

func TestConvertSchemaMissingFails(t *testing.T) {
	cache := newTestCache("") // 404 for every revision
	doc := baseDoc(1, nil)
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMissing)
	assert.EqualValues(t, -1, doc["ver"])
}

func TestConvertStartupFallback(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(1, map[string]any{
		"STARTUP_CYCLE_COLLECTOR": map[string]any{
			"values": map[string]any{"0": float64(1), "1": float64(2), "2": float64(3)},
		},
	})
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	require.NoError(t, err)

	histograms := doc["histograms"].(map[string]any)
	_, stillStartup := histograms["STARTUP_CYCLE_COLLECTOR"]
	assert.False(t, stillStartup)

	arr, ok := histograms["CYCLE_COLLECTOR"].([]float64)
	require.True(t, ok)
	assert.Len(t, arr, 3+5)
	assert.Equal(t, float64(1), arr[0])
	assert.Equal(t, float64(2), arr[1])
	assert.Equal(t, float64(3), arr[2])
}

func TestConvertUnknownHistogramLeftUnconverted(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(1, map[string]any{
		"SOME_UNKNOWN_HISTOGRAM": map[string]any{
			"values": map[string]any{"0": float64(1)},
		},
	})
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc["ver"])

	histograms := doc["histograms"].(map[string]any)
	_, stillMap := histograms["SOME_UNKNOWN_HISTOGRAM"].(map[string]any)
	assert.True(t, stillMap)
}

func TestConvertBadBucketLowerBoundFailsRecord(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := baseDoc(1, map[string]any{
		"A11Y_CONSUMERS": map[string]any{
			"values": map[string]any{"999": float64(1)},
		},
	})
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrBadBucketLowerBound)
	assert.EqualValues(t, -1, doc["ver"])
}

func TestConvertMalformedRecordMissingInfo(t *testing.T) {
	cache := newTestCache(schemaJSON)
	doc := map[string]any{"ver": 1, "histograms": map[string]any{}}
	rec := &common.Record{Document: doc}

	err := Convert(cache, rec, nil)
	assert.Error(t, err)
	assert.EqualValues(t, -1, doc["ver"])
}
