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

// Package coverage bins alignment records into fixed-width genomic windows
// and computes per-window read depth.  A single linear pass over the record
// stream suffices: memory is proportional to genome length / window size,
// independent of the number of records.
package coverage

import (
	"sort"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/encoding/bam"
	"github.com/mingzhi/gomath/stat/desc/meanvar"
)

// Class buckets the observed median raw coverage; the CNV caller keys its
// adaptive thresholds off it.
type Class int

const (
	// ClassLow is median coverage below 15x.
	ClassLow Class = iota
	// ClassMedium is median coverage of at least 15x but below 30x.
	ClassMedium
	// ClassHigh is median coverage of 30x and up.
	ClassHigh
)

// String returns the lower-case class name used in JSON output.
func (c Class) String() string {
	switch c {
	case ClassLow:
		return "low"
	case ClassMedium:
		return "medium"
	}
	return "high"
}

// MarshalJSON renders the class as its name.
func (c Class) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// ClassForMedian returns the coverage class for a median raw coverage.
func ClassForMedian(median float64) Class {
	switch {
	case median < 15:
		return ClassLow
	case median < 30:
		return ClassMedium
	}
	return ClassHigh
}

// Window is one fixed-width genomic window with its read depth.
// NormalizedCoverage is RawCoverage divided by the median raw coverage over
// all non-empty windows of the analysis.
type Window struct {
	Chromosome         string  `json:"chromosome"`
	Start              int     `json:"start"`
	End                int     `json:"end"`
	RawCoverage        int     `json:"rawCoverage"`
	NormalizedCoverage float64 `json:"normalizedCoverage"`
}

// Stats summarizes the raw coverage distribution of one analysis run.
// Zero-coverage windows are excluded: they usually mark unsequenced or
// unmappable genome rather than homozygous loss everywhere.
type Stats struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Class  Class   `json:"class"`
}

// Set holds per-chromosome window counts for one analysis run.  Chromosomes
// preserve BAM header order so that downstream region merging is
// deterministic.
type Set struct {
	WindowSize  int
	Chromosomes []string
	Counts      map[string][]int
	TotalReads  int64
	Retained    int64
}

// Compute reads the header and streams every alignment record of r, binning
// retained records into windows of windowSize bases.  Records that are
// unmapped, duplicates or secondary alignments are skipped, as are records
// on chromosomes outside filter (when filter is non-nil).
func Compute(r *bam.Reader, windowSize int, filter map[string]bool) (*Set, error) {
	if windowSize <= 0 {
		return nil, depth.ConfigurationErrorf("window size must be positive, got %d", windowSize)
	}
	if err := r.ReadHeader(); err != nil {
		return nil, err
	}
	refs := r.Refs()
	s := &Set{
		WindowSize: windowSize,
		Counts:     make(map[string][]int),
	}
	// perRef[i] is the count slice for refs[i], nil when filtered out.
	perRef := make([][]int, len(refs))
	for i, ref := range refs {
		if filter != nil && !filter[ref.Name] {
			continue
		}
		n := (ref.Length + windowSize - 1) / windowSize
		perRef[i] = make([]int, n)
		s.Chromosomes = append(s.Chromosomes, ref.Name)
		s.Counts[ref.Name] = perRef[i]
	}

	for {
		rec, err := r.ReadRecord()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		s.TotalReads++
		if rec.IsUnmapped() || rec.IsDuplicate() || rec.IsSecondary() {
			continue
		}
		if rec.RefID < 0 || int(rec.RefID) >= len(perRef) {
			continue
		}
		counts := perRef[rec.RefID]
		if counts == nil {
			continue
		}
		w := int(rec.Pos) / windowSize
		if w < 0 || w >= len(counts) {
			continue
		}
		counts[w]++
		s.Retained++
	}
	return s, nil
}

// Merge adds the window counts of other into s.  Both sets must come from
// the same input with the same window size; chromosomes present only in
// other are appended.  Used to combine partitioned analysis runs before
// normalization, since the median must be computed on the merged data.
func (s *Set) Merge(other *Set) error {
	if s.WindowSize != other.WindowSize {
		return depth.ConfigurationErrorf("cannot merge window sizes %d and %d", s.WindowSize, other.WindowSize)
	}
	for _, chrom := range other.Chromosomes {
		src := other.Counts[chrom]
		dst, ok := s.Counts[chrom]
		if !ok {
			s.Chromosomes = append(s.Chromosomes, chrom)
			s.Counts[chrom] = append([]int(nil), src...)
			continue
		}
		if len(dst) < len(src) {
			dst = append(dst, make([]int, len(src)-len(dst))...)
			s.Counts[chrom] = dst
		}
		for i, c := range src {
			dst[i] += c
		}
	}
	s.TotalReads += other.TotalReads
	s.Retained += other.Retained
	return nil
}

// Stats computes the raw coverage distribution over non-empty windows.  It
// returns an EmptyResultError when every window is empty (e.g. zero mapped
// reads).
func (s *Set) Stats() (Stats, error) {
	var nonzero []int
	mv := meanvar.New()
	for _, chrom := range s.Chromosomes {
		for _, c := range s.Counts[chrom] {
			if c > 0 {
				nonzero = append(nonzero, c)
				mv.Increment(float64(c))
			}
		}
	}
	if len(nonzero) == 0 {
		return Stats{}, depth.EmptyResultErrorf("no coverage data: all windows are empty")
	}
	sort.Ints(nonzero)
	var median float64
	mid := len(nonzero) / 2
	if len(nonzero)%2 == 1 {
		median = float64(nonzero[mid])
	} else {
		median = float64(nonzero[mid-1]+nonzero[mid]) / 2
	}
	return Stats{
		Median: median,
		Mean:   mv.Mean.GetResult(),
		Class:  ClassForMedian(median),
	}, nil
}

// Windows materializes every window of the set in chromosome-then-position
// order, normalized by the median from stats.  Zero-coverage windows are
// retained so that region merging sees contiguous window runs.
func (s *Set) Windows(stats Stats) []Window {
	var out []Window
	for _, chrom := range s.Chromosomes {
		counts := s.Counts[chrom]
		for i, c := range counts {
			out = append(out, Window{
				Chromosome:         chrom,
				Start:              i * s.WindowSize,
				End:                (i + 1) * s.WindowSize,
				RawCoverage:        c,
				NormalizedCoverage: float64(c) / stats.Median,
			})
		}
	}
	return out
}
