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
package cnv

import (
	"testing"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/coverage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const winSize = 10000

// uniformWindows builds n windows on chrom with the given raw coverage,
// normalized against median.
func uniformWindows(chrom string, n, raw int, median float64) []coverage.Window {
	ws := make([]coverage.Window, n)
	for i := range ws {
		ws[i] = coverage.Window{
			Chromosome:         chrom,
			Start:              i * winSize,
			End:                (i + 1) * winSize,
			RawCoverage:        raw,
			NormalizedCoverage: float64(raw) / median,
		}
	}
	return ws
}

func TestAdaptiveThresholdTable(t *testing.T) {
	assert.Equal(t, Thresholds{Amp: 2.0, Del: 0.3, MinWindows: 5}, AdaptiveThresholds(coverage.ClassLow))
	assert.Equal(t, Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 3}, AdaptiveThresholds(coverage.ClassMedium))
	assert.Equal(t, Thresholds{Amp: 1.3, Del: 0.7, MinWindows: 2}, AdaptiveThresholds(coverage.ClassHigh))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		th Thresholds
		ok bool
	}{
		{Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 3}, true},
		{Thresholds{Amp: 1.0, Del: 0.5, MinWindows: 3}, false},
		{Thresholds{Amp: 1.5, Del: 0, MinWindows: 3}, false},
		{Thresholds{Amp: 1.5, Del: 1.0, MinWindows: 3}, false},
		{Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 0}, false},
	}
	for _, tt := range tests {
		err := tt.th.Validate()
		if tt.ok {
			assert.NoError(t, err, "%+v", tt.th)
		} else {
			require.Error(t, err, "%+v", tt.th)
			assert.True(t, depth.IsConfiguration(err))
		}
	}
}

func TestUniformCoverageYieldsNoRegions(t *testing.T) {
	ws := uniformWindows("chr1", 100, 30, 30)
	for _, class := range []coverage.Class{coverage.ClassLow, coverage.ClassMedium, coverage.ClassHigh} {
		regions := Call(ws, class, AdaptiveThresholds(class))
		assert.Empty(t, regions, "class %v", class)
	}
	// Manual mode too.
	regions := Call(ws, coverage.ClassMedium, Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 3})
	assert.Empty(t, regions)
}

func TestHighCoverageAmplificationScenario(t *testing.T) {
	// chr1 uniform 30x, chr2 30x except 100kb-200kb at 90x (3x the median).
	// Median 30 => high class => amp 1.3, min 2 windows.
	ws := uniformWindows("chr1", 100, 30, 30)
	chr2 := uniformWindows("chr2", 30, 30, 30)
	for i := 10; i < 20; i++ {
		chr2[i].RawCoverage = 90
		chr2[i].NormalizedCoverage = 3.0
	}
	ws = append(ws, chr2...)

	regions := Call(ws, coverage.ClassHigh, AdaptiveThresholds(coverage.ClassHigh))
	require.Len(t, regions, 1)
	r := regions[0]
	assert.Equal(t, "chr2", r.Chromosome)
	assert.Equal(t, 100000, r.Start)
	assert.Equal(t, 200000, r.End)
	assert.Equal(t, Amplification, r.Type)
	assert.Len(t, r.Windows, 10)
	assert.InDelta(t, 6.0, r.CopyNumberEstimate, 1e-9)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
}

func TestManualModeMinWindowsFilter(t *testing.T) {
	// Two consecutive amplified windows with a 3-window minimum: dropped.
	ws := uniformWindows("chr1", 10, 30, 30)
	ws[4].NormalizedCoverage = 2.0
	ws[5].NormalizedCoverage = 2.0
	regions := Call(ws, coverage.ClassMedium, Thresholds{Amp: 1.5, Del: 0.5, MinWindows: 3})
	assert.Empty(t, regions)
}

func TestDeletionRegion(t *testing.T) {
	ws := uniformWindows("chr1", 20, 30, 30)
	for i := 5; i < 10; i++ {
		ws[i].RawCoverage = 10
		ws[i].NormalizedCoverage = 10.0 / 30.0
	}
	regions := Call(ws, coverage.ClassMedium, AdaptiveThresholds(coverage.ClassMedium))
	require.Len(t, regions, 1)
	assert.Equal(t, Deletion, regions[0].Type)
	assert.Equal(t, 50000, regions[0].Start)
	assert.Equal(t, 100000, regions[0].End)
	assert.InDelta(t, 2.0/3.0, regions[0].CopyNumberEstimate, 1e-9)
}

func TestZeroCoverageWindowIsNeutral(t *testing.T) {
	// A zero-coverage window splits a deletion run: deleted means
	// 0 < normalized <= del.
	ws := uniformWindows("chr1", 12, 30, 30)
	for i := 3; i < 9; i++ {
		ws[i].RawCoverage = 10
		ws[i].NormalizedCoverage = 10.0 / 30.0
	}
	ws[6].RawCoverage = 0
	ws[6].NormalizedCoverage = 0
	regions := Call(ws, coverage.ClassMedium, AdaptiveThresholds(coverage.ClassMedium))
	require.Len(t, regions, 1)
	// Only the first half reaches the 3-window minimum.
	assert.Equal(t, 30000, regions[0].Start)
	assert.Equal(t, 60000, regions[0].End)
}

func TestNoRegionSpansChromosomes(t *testing.T) {
	a := uniformWindows("chr1", 4, 90, 30)
	b := uniformWindows("chr2", 4, 90, 30)
	// chr2 windows restart at position 0; adjacency must still break.
	regions := Call(append(a, b...), coverage.ClassHigh, AdaptiveThresholds(coverage.ClassHigh))
	require.Len(t, regions, 2)
	assert.Equal(t, "chr1", regions[0].Chromosome)
	assert.Equal(t, "chr2", regions[1].Chromosome)
}

func TestTypeChangeClosesRegion(t *testing.T) {
	ws := uniformWindows("chr1", 8, 30, 30)
	for i := 0; i < 4; i++ {
		ws[i].NormalizedCoverage = 2.0
	}
	for i := 4; i < 8; i++ {
		ws[i].NormalizedCoverage = 0.3
	}
	regions := Call(ws, coverage.ClassMedium, AdaptiveThresholds(coverage.ClassMedium))
	require.Len(t, regions, 2)
	assert.Equal(t, Amplification, regions[0].Type)
	assert.Equal(t, Deletion, regions[1].Type)
}

func TestCallDeterminism(t *testing.T) {
	ws := uniformWindows("chr1", 50, 30, 30)
	for i := 10; i < 16; i++ {
		ws[i].NormalizedCoverage = 1.8
	}
	for i := 30; i < 40; i++ {
		ws[i].NormalizedCoverage = 0.2
	}
	first := Call(ws, coverage.ClassMedium, AdaptiveThresholds(coverage.ClassMedium))
	second := Call(ws, coverage.ClassMedium, AdaptiveThresholds(coverage.ClassMedium))
	assert.Equal(t, first, second)
}

func TestConfidenceBands(t *testing.T) {
	tests := []struct {
		class coverage.Class
		n     int
		sd    float64
		want  Confidence
	}{
		{coverage.ClassHigh, 5, 0.1, ConfidenceHigh},
		{coverage.ClassHigh, 4, 0.1, ConfidenceMedium},
		{coverage.ClassHigh, 3, 0.6, ConfidenceLow},
		{coverage.ClassMedium, 6, 0.2, ConfidenceHigh},
		{coverage.ClassMedium, 4, 0.5, ConfidenceMedium},
		{coverage.ClassMedium, 3, 0.1, ConfidenceLow},
		{coverage.ClassLow, 8, 0.3, ConfidenceHigh},
		{coverage.ClassLow, 6, 0.5, ConfidenceMedium},
		{coverage.ClassLow, 5, 0.1, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confidence(tt.class, tt.n, tt.sd), "%+v", tt)
	}
}
