// Copyright 2019 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bam

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/encoding/bgzf"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRefs = []Reference{
	{Name: "chr1", Length: 249250621},
	{Name: "chr2", Length: 243199373},
}

func writeTestBAM(t *testing.T, refs []Reference, recs []Record) []byte {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, refs, 1)
	require.NoError(t, err)
	for i := range recs {
		require.NoError(t, w.WriteRecord(&recs[i]))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestHeaderRoundTrip(t *testing.T) {
	data := writeTestBAM(t, testRefs, nil)
	r := NewReader(data)
	require.NoError(t, r.ReadHeader())
	assert.Equal(t, testRefs, r.Refs())

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Subsequent reads keep reporting end-of-records.
	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordRoundTrip(t *testing.T) {
	recs := []Record{
		{RefID: 0, Pos: 10007, MapQ: 60, Flags: 0x2, Seq: []byte("ACGTN"), Qual: []byte{30, 31, 32, 33, 2}},
		{RefID: 1, Pos: 0, MapQ: 0, Flags: FlagUnmapped, Seq: []byte("AC"), Qual: []byte{20, 20}},
		{RefID: 1, Pos: 999999, MapQ: 13, Flags: FlagDuplicate | FlagSecondary, Seq: []byte("GGGG"), Qual: []byte{40, 40, 40, 40}},
	}
	data := writeTestBAM(t, testRefs, recs)

	r := NewReader(data)
	require.NoError(t, r.ReadHeader())
	for i := range recs {
		rec, err := r.ReadRecord()
		require.NoError(t, err)
		require.NotNil(t, rec, "record %d", i)
		assert.Equal(t, recs[i].RefID, rec.RefID)
		assert.Equal(t, recs[i].Pos, rec.Pos)
		assert.Equal(t, recs[i].MapQ, rec.MapQ)
		assert.Equal(t, recs[i].Flags, rec.Flags)
		assert.Equal(t, recs[i].Seq, rec.Seq)
		assert.Equal(t, recs[i].Qual, rec.Qual)
	}
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFlagHelpers(t *testing.T) {
	rec := Record{Flags: FlagUnmapped}
	assert.True(t, rec.IsUnmapped())
	assert.False(t, rec.IsDuplicate())
	assert.False(t, rec.IsSecondary())

	rec.Flags = FlagDuplicate | FlagSecondary
	assert.False(t, rec.IsUnmapped())
	assert.True(t, rec.IsDuplicate())
	assert.True(t, rec.IsSecondary())
}

func TestBadMagic(t *testing.T) {
	// Valid BGZF container, invalid BAM payload.
	var buf bytes.Buffer
	bg, err := bgzf.NewWriter(&buf, 1)
	require.NoError(t, err)
	_, err = bg.Write([]byte("SAM\x01 definitely not a BAM header"))
	require.NoError(t, err)
	require.NoError(t, bg.Close())

	r := NewReader(buf.Bytes())
	err = r.ReadHeader()
	require.Error(t, err)
	assert.True(t, depth.IsFormat(err))
}

func TestNotBGZF(t *testing.T) {
	r := NewReader([]byte("plain text, not even gzip"))
	err := r.ReadHeader()
	require.Error(t, err)
	assert.True(t, depth.IsFormat(err))
}

func TestTruncatedHeader(t *testing.T) {
	// A BGZF stream that ends in the middle of the reference list.
	var buf bytes.Buffer
	bg, err := bgzf.NewWriter(&buf, 1)
	require.NoError(t, err)
	payload := []byte("BAM\x01")
	payload = append(payload, 0, 0, 0, 0) // l_text = 0
	payload = append(payload, 2, 0, 0, 0) // n_ref = 2, but no references follow
	_, err = bg.Write(payload)
	require.NoError(t, err)
	require.NoError(t, bg.Close())

	r := NewReader(buf.Bytes())
	err = r.ReadHeader()
	require.Error(t, err)
	assert.True(t, depth.IsFormat(err))
}

func TestReadRecordBeforeHeader(t *testing.T) {
	r := NewReader(writeTestBAM(t, testRefs, nil))
	_, err := r.ReadRecord()
	require.Error(t, err)
	assert.True(t, depth.IsFormat(err))
}

func TestEvenAndOddSeqLengths(t *testing.T) {
	// The 4-bit packing pads odd-length sequences; both parities must
	// round-trip.
	recs := []Record{
		{RefID: 0, Pos: 1, MapQ: 50, Seq: []byte("ACG"), Qual: []byte{10, 11, 12}},
		{RefID: 0, Pos: 2, MapQ: 50, Seq: []byte("ACGT"), Qual: []byte{10, 11, 12, 13}},
	}
	data := writeTestBAM(t, testRefs, recs)
	r := NewReader(data)
	require.NoError(t, r.ReadHeader())
	for i := range recs {
		rec, err := r.ReadRecord()
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, recs[i].Seq, rec.Seq)
	}
}

func TestFileRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	recs := []Record{
		{RefID: 0, Pos: 100, MapQ: 60, Seq: []byte("ACGT"), Qual: []byte{30, 30, 30, 30}},
		{RefID: 1, Pos: 200, MapQ: 60, Flags: FlagDuplicate, Seq: []byte("TTAA"), Qual: []byte{20, 20, 20, 20}},
	}
	path := filepath.Join(tempDir, "test.bam")
	require.NoError(t, ioutil.WriteFile(path, writeTestBAM(t, testRefs, recs), 0644))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	r := NewReader(data)
	require.NoError(t, r.ReadHeader())
	assert.Equal(t, testRefs, r.Refs())
	for i := range recs {
		rec, err := r.ReadRecord()
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, recs[i].Pos, rec.Pos)
		assert.Equal(t, recs[i].Seq, rec.Seq)
	}
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}
