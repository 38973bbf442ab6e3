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
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame 按照 spec 描述的线格式拼出一条原始记录：
// separator(1) + path_length(2,LE) + data_length(4,LE) + timestamp(8,LE) + path + data
func frame(ts uint64, path, data []byte) []byte {
	buf := make([]byte, 0, 1+2+4+8+len(path)+len(data))
	buf = append(buf, sepByte)

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

func gzipBytes(t *testing.T, raw []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

func TestDecoderSingleRecordUncompressed(t *testing.T) {
	d := New()
	d.Feed(frame(1, []byte("abcd"), []byte(`{"a":8}`)))

	rec, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 1, rec.Timestamp)
	assert.Equal(t, "abcd", rec.Path)
	assert.EqualValues(t, 8, rec.Document["a"])

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestDecoderTwoConcatenatedRecords(t *testing.T) {
	d := New()
	first := frame(1, []byte("abcd"), []byte(`{"a":1}`))
	second := frame(2, []byte("efgh"), []byte(`{"b":2}`))
	d.Feed(append(first, second...))

	rec1, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", rec1.Path)
	assert.EqualValues(t, 1, rec1.Document["a"])

	rec2, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "efgh", rec2.Path)
	assert.EqualValues(t, 2, rec2.Document["b"])

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestDecoderPartialThenCompletion(t *testing.T) {
	d := New()
	full := frame(3, []byte("abcd"), []byte(`{"a":9}`))

	d.Feed(full[:5])
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)

	d.Feed(full[5:])
	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", rec.Path)
	assert.EqualValues(t, 9, rec.Document["a"])
}

func TestDecoderFedOneByteAtATime(t *testing.T) {
	d := New()
	full := frame(4, []byte("abcdef"), []byte(`{"z":1}`))

	var got = struct {
		path string
		ts   uint64
	}{}

	for i := 0; i < len(full); i++ {
		d.Feed(full[i : i+1])
		r, err := d.Next()
		if err == nil {
			got.path = r.Path
			got.ts = r.Timestamp
		}
	}

	assert.Equal(t, "abcdef", got.path)
	assert.EqualValues(t, 4, got.ts)
}

func TestDecoderOversizePathLength(t *testing.T) {
	d := New()

	bad := frame(5, []byte("abcd"), []byte(`{"a":1}`))
	// overwrite path_length with something larger than common.MaxPathSize
	binary.LittleEndian.PutUint16(bad[1:3], 0xFFFF)

	good := frame(6, []byte("efgh"), []byte(`{"b":2}`))
	d.Feed(append(bad, good...))

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "efgh", rec.Path)
	assert.EqualValues(t, 2, rec.Document["b"])

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.FramesResynced)
	assert.EqualValues(t, 1, stats.RecordsOK)
}

func TestDecoderOversizeDataLength(t *testing.T) {
	d := New()

	bad := frame(5, []byte("abcd"), []byte(`{"a":1}`))
	binary.LittleEndian.PutUint32(bad[3:7], 0xFFFFFFFF)

	good := frame(6, []byte("efgh"), []byte(`{"b":2}`))
	d.Feed(append(bad, good...))

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "efgh", rec.Path)

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.FramesResynced)
}

func TestDecoderSpuriousSeparatorInsideData(t *testing.T) {
	d := New()
	// data payload contains a byte equal to sepByte; this must not confuse
	// the scanner once it is inside READING_BODY, since lengths are
	// authoritative there.
	data := append([]byte{'{', '"', 'a', '"', ':', '1', sepByte, '}'})
	d.Feed(frame(7, []byte("abcd"), data))

	// the embedded separator makes this payload invalid JSON, so decoding
	// the frame itself fails, but the frame boundaries are still respected.
	_, err := d.Next()
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrJSONParse)
}

func TestDecoderGzipCompressedPayload(t *testing.T) {
	d := New()
	raw := []byte(`{"a":42}`)
	d.Feed(frame(8, []byte("abcd"), gzipBytes(t, raw)))

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", rec.Path)
	assert.EqualValues(t, 42, rec.Document["a"])
}

func TestDecoderMalformedJSONIsDroppedNotFatal(t *testing.T) {
	d := New()
	d.Feed(frame(9, []byte("abcd"), []byte(`not json`)))
	good := frame(10, []byte("efgh"), []byte(`{"b":1}`))
	d.Feed(good)

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrJSONParse)

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "efgh", rec.Path)

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.RecordsFailed)
	assert.EqualValues(t, 1, stats.RecordsOK)
}

func TestDecoderLeadingGarbageBeforeSeparator(t *testing.T) {
	d := New()
	garbage := []byte("garbage-not-a-frame")
	good := frame(11, []byte("abcd"), []byte(`{"a":1}`))
	d.Feed(append(garbage, good...))

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", rec.Path)

	stats := d.Stats()
	assert.EqualValues(t, len(garbage), stats.BytesDiscarded)
}

func TestDecoderEmptyFeedIsNoop(t *testing.T) {
	d := New()
	d.Feed(nil)
	d.Feed([]byte{})
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
}
