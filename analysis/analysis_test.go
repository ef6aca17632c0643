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
package analysis

import (
	"bytes"
	"testing"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/cnv"
	"github.com/grailbio/depth/encoding/bam"
	"github.com/grailbio/depth/pileup/snp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const winSize = 10000

var scanRefs = []bam.Reference{
	{Name: "chr1", Length: 100 * winSize},
	{Name: "chr2", Length: 30 * winSize},
}

// depthPerWindow generates reads so that each window of the given
// chromosome holds exactly depth records.
func depthPerWindow(refID int32, windows, depth int) []bam.Record {
	var recs []bam.Record
	for w := 0; w < windows; w++ {
		for d := 0; d < depth; d++ {
			recs = append(recs, bam.Record{
				RefID: refID,
				Pos:   int32(w*winSize + d),
				MapQ:  60,
				Seq:   []byte("ACGT"),
				Qual:  []byte{30, 30, 30, 30},
			})
		}
	}
	return recs
}

// amplifiedScanInput is the two-chromosome fixture: chr1 uniformly 30x,
// chr2 uniformly 30x except windows 10-19 (100kb-200kb) at 90x.
func amplifiedScanInput(t *testing.T) []byte {
	recs := depthPerWindow(0, 100, 30)
	recs = append(recs, depthPerWindow(1, 30, 30)...)
	for w := 10; w < 20; w++ {
		for d := 0; d < 60; d++ {
			recs = append(recs, bam.Record{
				RefID: 1,
				Pos:   int32(w*winSize + d),
				MapQ:  60,
				Seq:   []byte("ACGT"),
				Qual:  []byte{30, 30, 30, 30},
			})
		}
	}
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, scanRefs, 1)
	require.NoError(t, err)
	for i := range recs {
		require.NoError(t, w.WriteRecord(&recs[i]))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestScanAmplificationScenario(t *testing.T) {
	buf := amplifiedScanInput(t)
	res, err := Scan(buf, ScanConfig{WindowSize: winSize, Mode: ModeAdaptive})
	require.NoError(t, err)

	assert.Equal(t, 30.0, res.CoverageStats.Median)
	assert.Equal(t, []string{"chr1", "chr2"}, res.ChromosomesProcessed)
	assert.Equal(t, winSize, res.WindowSize)
	assert.Len(t, res.Windows, 130)

	require.Len(t, res.CNVRegions, 1)
	r := res.CNVRegions[0]
	assert.Equal(t, "chr2", r.Chromosome)
	assert.Equal(t, 10*winSize, r.Start)
	assert.Equal(t, 20*winSize, r.End)
	assert.Equal(t, cnv.Amplification, r.Type)
	assert.InDelta(t, 6.0, r.CopyNumberEstimate, 1e-9)
}

func TestScanUniformCoverageNoRegions(t *testing.T) {
	recs := depthPerWindow(0, 100, 30)
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, scanRefs, 1)
	require.NoError(t, err)
	for i := range recs {
		require.NoError(t, w.WriteRecord(&recs[i]))
	}
	require.NoError(t, w.Close())

	for _, cfg := range []ScanConfig{
		{WindowSize: winSize, Mode: ModeAdaptive, ChromosomeFilter: map[string]bool{"chr1": true}},
		{WindowSize: winSize, Mode: ModeManual, Manual: cnv.Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 3},
			ChromosomeFilter: map[string]bool{"chr1": true}},
	} {
		res, err := Scan(buf.Bytes(), cfg)
		require.NoError(t, err)
		assert.Empty(t, res.CNVRegions, "mode %s", cfg.Mode)
	}
}

func TestScanConfigValidation(t *testing.T) {
	bad := []ScanConfig{
		{WindowSize: 0, Mode: ModeAdaptive},
		{WindowSize: winSize, Mode: "turbo"},
		{WindowSize: winSize, Mode: ModeManual, Manual: cnv.Thresholds{Amp: 0.9, Del: 0.5, MinWindows: 3}},
	}
	for i, cfg := range bad {
		_, err := Scan(nil, cfg)
		require.Error(t, err, "case %d", i)
		assert.True(t, depth.IsConfiguration(err), "case %d", i)
	}
}

func TestScanFormatError(t *testing.T) {
	res, err := Scan([]byte("not a BAM file"), ScanConfig{WindowSize: winSize, Mode: ModeAdaptive})
	require.Error(t, err)
	assert.True(t, depth.IsFormat(err))
	assert.Nil(t, res)
}

func TestScanEmptyResult(t *testing.T) {
	// Header only, zero records.
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, scanRefs, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	res, err := Scan(buf.Bytes(), ScanConfig{WindowSize: winSize, Mode: ModeAdaptive})
	require.Error(t, err)
	assert.True(t, depth.IsEmptyResult(err))
	assert.Nil(t, res)
}

func TestScanShardedMatchesScan(t *testing.T) {
	buf := amplifiedScanInput(t)
	cfg := ScanConfig{WindowSize: winSize, Mode: ModeAdaptive}
	single, err := Scan(buf, cfg)
	require.NoError(t, err)
	for _, parallelism := range []int{1, 2, 4} {
		sharded, err := ScanSharded(buf, cfg, parallelism)
		require.NoError(t, err)
		assert.Equal(t, single, sharded, "parallelism %d", parallelism)
	}
}

func TestCallVariants(t *testing.T) {
	var recs []bam.Record
	for i := 0; i < 15; i++ {
		recs = append(recs, bam.Record{RefID: 0, Pos: 1000, MapQ: 60, Seq: []byte("A"), Qual: []byte{30}})
	}
	for i := 0; i < 5; i++ {
		recs = append(recs, bam.Record{RefID: 0, Pos: 1000, MapQ: 60, Seq: []byte("G"), Qual: []byte{30}})
	}
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, scanRefs, 1)
	require.NoError(t, err)
	for i := range recs {
		require.NoError(t, w.WriteRecord(&recs[i]))
	}
	require.NoError(t, w.Close())

	opts := snp.DefaultOpts
	opts.MinAlleleFreq = 0.05
	res, err := CallVariants(buf.Bytes(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalVariants)
	assert.Equal(t, []string{"chr1", "chr2"}, res.ChromosomesProcessed)
	assert.Equal(t, 10, res.FiltersApplied.MinDepth)
	require.Len(t, res.Variants, 1)
	assert.Equal(t, "G", res.Variants[0].AlternateAllele)
	assert.InDelta(t, 0.25, res.Variants[0].AlleleFrequency, 1e-9)
}

func TestCallVariantsConfigError(t *testing.T) {
	opts := snp.DefaultOpts
	opts.MinDepth = 0
	_, err := CallVariants(nil, opts)
	require.Error(t, err)
	assert.True(t, depth.IsConfiguration(err))
}
