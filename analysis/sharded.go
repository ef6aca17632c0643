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
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/depth/coverage"
	"github.com/grailbio/depth/encoding/bam"
)

// ScanSharded runs the coverage pass in parallel across disjoint chromosome
// partitions of buf and merges the results.  Each worker runs the whole
// single-threaded pipeline over its own bam.Reader; there is no shared
// mutable state between workers.  Normalization and CNV calling happen once
// on the merged window set, after all workers finish, because the adaptive
// thresholds depend on the global median.
//
// ScanSharded(buf, cfg, 1) and Scan(buf, cfg) produce identical results.
func ScanSharded(buf []byte, cfg ScanConfig, parallelism int) (*CoverageResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if parallelism < 1 {
		parallelism = runtime.NumCPU()
	}

	// One header pass to learn the chromosome list being processed.
	hdr := bam.NewReader(buf)
	if err := hdr.ReadHeader(); err != nil {
		return nil, err
	}
	var chroms []string
	for _, ref := range hdr.Refs() {
		if cfg.ChromosomeFilter == nil || cfg.ChromosomeFilter[ref.Name] {
			chroms = append(chroms, ref.Name)
		}
	}
	if parallelism > len(chroms) {
		parallelism = len(chroms)
	}
	if parallelism <= 1 {
		return Scan(buf, cfg)
	}
	log.Debug.Printf("analysis.ScanSharded: %d chromosomes across %d jobs", len(chroms), parallelism)

	sets := make([]*coverage.Set, parallelism)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		part := make(map[string]bool)
		for i := jobIdx; i < len(chroms); i += parallelism {
			part[chroms[i]] = true
		}
		set, err := coverage.Compute(bam.NewReader(buf), cfg.WindowSize, part)
		if err != nil {
			return err
		}
		sets[jobIdx] = set
		return nil
	})
	if err != nil {
		return nil, err
	}

	merged := sets[0]
	for _, set := range sets[1:] {
		if err := merged.Merge(set); err != nil {
			return nil, err
		}
	}
	// Partitioned workers each see the full record stream, so TotalReads
	// would be multiply counted; rescale to one pass worth.
	merged.TotalReads /= int64(parallelism)
	// Restore header chromosome order: merge appends in worker order.
	reorderChromosomes(merged, chroms)
	return finishScan(merged, cfg)
}

func reorderChromosomes(set *coverage.Set, order []string) {
	present := make(map[string]bool, len(set.Chromosomes))
	for _, c := range set.Chromosomes {
		present[c] = true
	}
	out := set.Chromosomes[:0]
	for _, c := range order {
		if present[c] {
			out = append(out, c)
		}
	}
	set.Chromosomes = out
}
