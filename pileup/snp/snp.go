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

// Package snp calls single-nucleotide variants from a per-position base
// pileup, without a reference genome: the majority base at each position
// acts as the implicit reference.
//
// The caller runs in two phases.  Phase 1 makes a single linear pass over
// the record stream and retains {position, bases, quals} for every read on
// a target chromosome that passes the mapping filters; this amortizes one
// scan of the file across any number of target chromosomes.  Phase 2 walks
// each chromosome in fixed-size genomic windows, tallying per-position base
// counts and emitting variants that pass the depth/quality/frequency
// filters.  The window size only bounds peak memory; results are identical
// for any positive choice.
package snp

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/depth"
	"github.com/grailbio/depth/encoding/bam"
	"github.com/grailbio/depth/pileup"
)

// Opts are the variant-calling filters.
type Opts struct {
	// TargetChromosomes restricts calling to the named chromosomes; nil
	// means all of them.
	TargetChromosomes map[string]bool
	// MinDepth is the minimum pileup depth at a position.
	MinDepth int
	// MinBaseQual drops individual bases below this Phred quality.
	MinBaseQual byte
	// MinMapQ drops whole reads below this mapping quality.
	MinMapQ byte
	// MinVariantReads is the minimum number of reads supporting an
	// alternate base.
	MinVariantReads int
	// MinAlleleFreq is the minimum alternate-allele fraction of the depth.
	MinAlleleFreq float64
	// PileupWindowSize bounds phase-2 memory; it has no effect on results.
	PileupWindowSize int
}

// DefaultOpts are the commandline defaults.
var DefaultOpts = Opts{
	MinDepth:         10,
	MinBaseQual:      20,
	MinMapQ:          30,
	MinVariantReads:  3,
	MinAlleleFreq:    0.1,
	PileupWindowSize: 1 << 20,
}

// Assumed per-base sequencing error rate for the quality heuristic.
const errorRate = 0.01

// Variant is one called single-nucleotide variant.  Position is 1-based, as
// is conventional for text output of genomic coordinates.
//
// QualityScore is the Phred-like heuristic
// min(-10*log10(max(errorRate^AlternateCount, 1e-100)), 999).  It is a
// monotone confidence score, not a calibrated statistical test; keep the
// formula as-is for output compatibility.
type Variant struct {
	Chromosome      string  `json:"chromosome"`
	Position        int     `json:"position"`
	ReferenceAllele string  `json:"referenceAllele"`
	AlternateAllele string  `json:"alternateAllele"`
	QualityScore    float64 `json:"qualityScore"`
	Type            string  `json:"type"`
	TotalDepth      int     `json:"totalDepth"`
	ReferenceCount  int     `json:"referenceCount"`
	AlternateCount  int     `json:"alternateCount"`
	AlleleFrequency float64 `json:"alleleFrequency"`
}

// Validate checks the filter settings before any parsing starts.
func (o *Opts) Validate() error {
	if o.MinDepth < 1 {
		return depth.ConfigurationErrorf("minimum depth must be at least 1, got %d", o.MinDepth)
	}
	if o.MinVariantReads < 1 {
		return depth.ConfigurationErrorf("minimum variant reads must be at least 1, got %d", o.MinVariantReads)
	}
	if o.MinAlleleFreq <= 0 || o.MinAlleleFreq > 1 {
		return depth.ConfigurationErrorf("minimum allele frequency must be in (0, 1], got %g", o.MinAlleleFreq)
	}
	if o.PileupWindowSize < 1 {
		return depth.ConfigurationErrorf("pileup window size must be positive, got %d", o.PileupWindowSize)
	}
	return nil
}

// read is the retained slice of an alignment record: phase 1 keeps only
// what the pileup needs.
type read struct {
	pos  int32
	seq  []byte
	qual []byte
}

// Call runs both phases over r, which must not have had its header read
// yet, and returns the variants sorted by (chromosome, position).
func Call(r *bam.Reader, opts *Opts) ([]Variant, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := r.ReadHeader(); err != nil {
		return nil, err
	}
	refs := r.Refs()

	// Phase 1: one linear pass, bucketing retained reads by reference.
	byRef := make([][]read, len(refs))
	targeted := make([]bool, len(refs))
	for i, ref := range refs {
		targeted[i] = opts.TargetChromosomes == nil || opts.TargetChromosomes[ref.Name]
	}
	var nRetained int64
	for {
		rec, err := r.ReadRecord()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if rec.IsUnmapped() || rec.IsDuplicate() || rec.IsSecondary() {
			continue
		}
		if rec.RefID < 0 || int(rec.RefID) >= len(refs) || !targeted[rec.RefID] {
			continue
		}
		if rec.MapQ < opts.MinMapQ {
			continue
		}
		byRef[rec.RefID] = append(byRef[rec.RefID], read{
			pos:  rec.Pos,
			seq:  append([]byte(nil), rec.Seq...),
			qual: append([]byte(nil), rec.Qual...),
		})
		nRetained++
	}
	log.Debug.Printf("snp.Call: retained %d reads across %d references", nRetained, len(refs))

	// Phase 2: windowed pileup per chromosome.
	var variants []Variant
	for refID, reads := range byRef {
		if len(reads) == 0 {
			continue
		}
		variants = append(variants, pileupChromosome(refs[refID].Name, reads, opts)...)
	}
	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].Chromosome != variants[j].Chromosome {
			return variants[i].Chromosome < variants[j].Chromosome
		}
		return variants[i].Position < variants[j].Position
	})
	return variants, nil
}

// pileupChromosome tallies one chromosome's reads in fixed windows and
// emits its variants in position order.
func pileupChromosome(chrom string, reads []read, opts *Opts) []Variant {
	sort.SliceStable(reads, func(i, j int) bool { return reads[i].pos < reads[j].pos })

	span := opts.PileupWindowSize
	last := int(reads[len(reads)-1].pos)
	for _, rd := range reads {
		if end := int(rd.pos) + len(rd.seq); end > last {
			last = end
		}
	}

	var variants []Variant
	counts := make([][pileup.NBase]int32, span)
	lo := 0 // first read that can still overlap the current window
	for wstart := windowFloor(int(reads[0].pos), span); wstart <= last; wstart += span {
		wend := wstart + span
		for i := range counts {
			counts[i] = [pileup.NBase]int32{}
		}
		any := false
		for i := lo; i < len(reads); i++ {
			rd := &reads[i]
			if int(rd.pos) >= wend {
				break
			}
			if int(rd.pos)+len(rd.seq) <= wstart {
				if i == lo {
					lo++
				}
				continue
			}
			any = true
			addRead(counts, wstart, wend, rd, opts.MinBaseQual)
		}
		if !any {
			continue
		}
		variants = append(variants, callWindow(chrom, wstart, counts, opts)...)
	}
	return variants
}

func windowFloor(pos, span int) int { return (pos / span) * span }

// addRead distributes the read's bases into the window's position buckets,
// skipping Ns and bases below minBaseQual.
func addRead(counts [][pileup.NBase]int32, wstart, wend int, rd *read, minBaseQual byte) {
	for i, base := range rd.seq {
		gpos := int(rd.pos) + i
		if gpos < wstart || gpos >= wend {
			continue
		}
		if rd.qual[i] < minBaseQual {
			continue
		}
		enum := pileup.ASCIIToEnumTable[base]
		if enum == pileup.BaseX {
			continue
		}
		counts[gpos-wstart][enum]++
	}
}

// callWindow scans the tallied window and emits a Variant for every
// non-majority base passing the filters.  The majority base is the implicit
// reference; ties break toward the alphabetically first base so repeated
// runs produce identical output.
func callWindow(chrom string, wstart int, counts [][pileup.NBase]int32, opts *Opts) []Variant {
	var variants []Variant
	for off := range counts {
		c := &counts[off]
		total := int(c[0] + c[1] + c[2] + c[3])
		if total < opts.MinDepth {
			continue
		}
		refEnum := 0
		for b := 1; b < pileup.NBase; b++ {
			if c[b] > c[refEnum] {
				refEnum = b
			}
		}
		for b := 0; b < pileup.NBase; b++ {
			if b == refEnum {
				continue
			}
			altCount := int(c[b])
			if altCount < opts.MinVariantReads {
				continue
			}
			freq := float64(altCount) / float64(total)
			if freq < opts.MinAlleleFreq {
				continue
			}
			variants = append(variants, Variant{
				Chromosome:      chrom,
				Position:        wstart + off + 1, // 1-based in output
				ReferenceAllele: string(pileup.EnumToASCIITable[refEnum]),
				AlternateAllele: string(pileup.EnumToASCIITable[b]),
				QualityScore:    qualityScore(altCount),
				Type:            "SNV",
				TotalDepth:      total,
				ReferenceCount:  int(c[refEnum]),
				AlternateCount:  altCount,
				AlleleFrequency: freq,
			})
		}
	}
	return variants
}

// qualityScore is the simplified Phred-like confidence heuristic.
func qualityScore(altCount int) float64 {
	p := math.Pow(errorRate, float64(altCount))
	if p < 1e-100 {
		p = 1e-100
	}
	q := -10 * math.Log10(p)
	if q > 999 {
		q = 999
	}
	return q
}
