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

package ingest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetryd/telemetryd/dimension"
	"github.com/telemetryd/telemetryd/histogramcache"
	"github.com/telemetryd/telemetryd/writer"
)

const releaseFrameDoc = `{"ver":1,"info":{"revision":"http://hg.example.org/rev/rev1"},"channel":"release","histograms":{}}`

const schemaJSON = `{"histograms":{"A11Y_CONSUMERS":{"kind":"1","min":0,"max":10,"bucket_count":2,"buckets":[0,1]}}}`
const dimensionSchemaJSON = `{"version":1,"dimensions":[{"field_name":"channel","allowed_values":"*"}]}`

type fakeFetcher struct{ body string }

func (f fakeFetcher) Fetch(string) ([]byte, bool, error) {
	return []byte(f.body), true, nil
}

func frame(ts uint64, path, data []byte) []byte {
	buf := []byte{0x1E}
	pathLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(pathLen, uint16(len(path)))
	buf = append(buf, pathLen...)
	dataLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(dataLen, uint32(len(data)))
	buf = append(buf, dataLen...)
	tsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBytes, ts)
	buf = append(buf, tsBytes...)
	buf = append(buf, path...)
	buf = append(buf, data...)
	return buf
}

func TestIngesterDrainWritesConvertedRecord(t *testing.T) {
	cache := histogramcache.New(fakeFetcher{body: schemaJSON})
	schema, err := dimension.Parse([]byte(dimensionSchemaJSON))
	require.NoError(t, err)

	storageDir := t.TempDir()
	uploadDir := t.TempDir()
	w := writer.New(writer.Config{StoragePath: storageDir, UploadPath: uploadDir, MaxUncompressed: 1 << 20})

	ig := New(cache, schema, w)

	doc := []byte(`{"ver":1,"info":{"revision":"http://hg.example.org/rev/rev1"},"channel":"release",` +
		`"histograms":{"A11Y_CONSUMERS":{"values":{"0":5,"1":3},"sum":8}}}`)
	input := frame(123, []byte("uuid-1/submit/1"), doc)

	require.NoError(t, ig.Drain(bytes.NewReader(input)))
	require.NoError(t, w.Close())

	stats := ig.Stats()
	assert.EqualValues(t, 1, stats.RecordsRead)
	assert.EqualValues(t, 0, stats.RecordsFailed)

	entries, err := os.ReadDir(filepath.Join(uploadDir, "release"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIngesterDrainCountsFailuresAndContinues(t *testing.T) {
	cache := histogramcache.New(fakeFetcher{body: schemaJSON})
	schema, err := dimension.Parse([]byte(dimensionSchemaJSON))
	require.NoError(t, err)

	storageDir := t.TempDir()
	uploadDir := t.TempDir()
	w := writer.New(writer.Config{StoragePath: storageDir, UploadPath: uploadDir, MaxUncompressed: 1 << 20})
	ig := New(cache, schema, w)

	bad := frame(1, []byte("uuid-1/submit/1"), []byte(`not json`))
	good := frame(2, []byte("uuid-2/submit/1"), []byte(
		`{"ver":1,"info":{"revision":"http://hg.example.org/rev/rev1"},"channel":"release",`+
			`"histograms":{}}`))

	require.NoError(t, ig.Drain(bytes.NewReader(append(bad, good...))))

	stats := ig.Stats()
	assert.EqualValues(t, 1, stats.RecordsRead)
	assert.EqualValues(t, 1, stats.RecordsFailed)
}

func TestIngesterDrainCarriesFramesResyncedFromDecoder(t *testing.T) {
	cache := histogramcache.New(fakeFetcher{body: schemaJSON})
	schema, err := dimension.Parse([]byte(dimensionSchemaJSON))
	require.NoError(t, err)

	storageDir := t.TempDir()
	uploadDir := t.TempDir()
	w := writer.New(writer.Config{StoragePath: storageDir, UploadPath: uploadDir, MaxUncompressed: 1 << 20})
	ig := New(cache, schema, w)

	bad := frame(1, []byte("uuid-1/submit/1"), []byte(releaseFrameDoc))
	// overwrite path_length with something larger than common.MaxPathSize so the
	// separator the frame starts with is treated as spurious and resynced past.
	binary.LittleEndian.PutUint16(bad[1:3], 0xFFFF)

	good := frame(2, []byte("uuid-2/submit/1"), []byte(releaseFrameDoc))

	require.NoError(t, ig.Drain(bytes.NewReader(append(bad, good...))))

	stats := ig.Stats()
	assert.EqualValues(t, 1, stats.RecordsRead)
	assert.EqualValues(t, 1, stats.FramesResynced)
}
