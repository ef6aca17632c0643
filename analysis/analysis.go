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

// Package analysis exposes the depth pipeline as pure functions of
// (byte buffer, configuration): no global state, so independent invocations
// may run concurrently without locking.  Each result type has a fixed shape
// so callers can tell "empty but valid" from "errored" without probing
// optional fields.
package analysis

import (
	"github.com/grailbio/depth"
	"github.com/grailbio/depth/cnv"
	"github.com/grailbio/depth/coverage"
	"github.com/grailbio/depth/encoding/bam"
	"github.com/grailbio/depth/pileup/snp"
)

// Analysis modes for CNV thresholding.
const (
	// ModeAdaptive derives thresholds from the observed median coverage.
	ModeAdaptive = "adaptive"
	// ModeManual uses caller-supplied thresholds.
	ModeManual = "manual"
)

// ScanConfig configures a coverage/CNV run.
type ScanConfig struct {
	// WindowSize is the coverage window width in bases.
	WindowSize int
	// ChromosomeFilter restricts the scan to the named chromosomes; nil
	// means all of them.
	ChromosomeFilter map[string]bool
	// Mode is ModeAdaptive or ModeManual.
	Mode string
	// Manual supplies the thresholds for ModeManual; ignored otherwise.
	Manual cnv.Thresholds
}

// Validate checks cfg before any input bytes are touched.
func (cfg *ScanConfig) Validate() error {
	if cfg.WindowSize < 1 {
		return depth.ConfigurationErrorf("window size must be positive, got %d", cfg.WindowSize)
	}
	switch cfg.Mode {
	case ModeAdaptive:
	case ModeManual:
		if err := cfg.Manual.Validate(); err != nil {
			return err
		}
	default:
		return depth.ConfigurationErrorf("unknown mode %q", cfg.Mode)
	}
	return nil
}

// CoverageResult is the output of a coverage/CNV scan.
type CoverageResult struct {
	TotalReads           int64             `json:"totalReads"`
	Windows              []coverage.Window `json:"windows"`
	CNVRegions           []cnv.Region      `json:"cnvRegions"`
	WindowSize           int               `json:"windowSize"`
	ChromosomesProcessed []string          `json:"chromosomesProcessed"`
	CoverageStats        coverage.Stats    `json:"coverageStats"`
}

// Scan parses buf as a BGZF-compressed BAM, aggregates windowed coverage
// and calls CNV regions.  It returns a ConfigurationError before parsing
// anything when cfg is invalid, a FormatError on malformed input, and an
// EmptyResultError when the input holds no usable coverage.
func Scan(buf []byte, cfg ScanConfig) (*CoverageResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := coverage.Compute(bam.NewReader(buf), cfg.WindowSize, cfg.ChromosomeFilter)
	if err != nil {
		return nil, err
	}
	return finishScan(set, cfg)
}

// finishScan normalizes a coverage set and runs the CNV caller, shared by
// Scan and ScanSharded.  It runs strictly after all record counting so that
// thresholds see the global median.
func finishScan(set *coverage.Set, cfg ScanConfig) (*CoverageResult, error) {
	stats, err := set.Stats()
	if err != nil {
		return nil, err
	}
	windows := set.Windows(stats)
	th := cfg.Manual
	if cfg.Mode == ModeAdaptive {
		th = cnv.AdaptiveThresholds(stats.Class)
	}
	return &CoverageResult{
		TotalReads:           set.TotalReads,
		Windows:              windows,
		CNVRegions:           cnv.Call(windows, stats.Class, th),
		WindowSize:           cfg.WindowSize,
		ChromosomesProcessed: set.Chromosomes,
		CoverageStats:        stats,
	}, nil
}

// VariantFilters echoes the filter settings applied to a variant run.
type VariantFilters struct {
	MinDepth        int     `json:"minDepth"`
	MinBaseQuality  int     `json:"minBaseQuality"`
	MinMappingQual  int     `json:"minMappingQuality"`
	MinVariantReads int     `json:"minVariantReads"`
	MinAlleleFreq   float64 `json:"minAlleleFreq"`
}

// VariantResult is the output of a variant-calling run.
type VariantResult struct {
	Variants             []snp.Variant  `json:"variants"`
	TotalVariants        int            `json:"totalVariants"`
	FiltersApplied       VariantFilters `json:"filtersApplied"`
	ChromosomesProcessed []string       `json:"chromosomesProcessed"`
}

// CallVariants parses buf as a BGZF-compressed BAM and calls SNVs on the
// target chromosomes.
func CallVariants(buf []byte, opts snp.Opts) (*VariantResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := bam.NewReader(buf)
	variants, err := snp.Call(r, &opts)
	if err != nil {
		return nil, err
	}
	var chroms []string
	for _, ref := range r.Refs() {
		if opts.TargetChromosomes == nil || opts.TargetChromosomes[ref.Name] {
			chroms = append(chroms, ref.Name)
		}
	}
	return &VariantResult{
		Variants:      variants,
		TotalVariants: len(variants),
		FiltersApplied: VariantFilters{
			MinDepth:        opts.MinDepth,
			MinBaseQuality:  int(opts.MinBaseQual),
			MinMappingQual:  int(opts.MinMapQ),
			MinVariantReads: opts.MinVariantReads,
			MinAlleleFreq:   opts.MinAlleleFreq,
		},
		ChromosomesProcessed: chroms,
	}, nil
}
