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

// Package cnv calls copy-number variations from normalized window coverage.
//
// Windows are classified as amplified, deleted or neutral against a pair of
// coverage-ratio thresholds; adjacent same-type windows on the same
// chromosome merge into candidate regions, and regions shorter than a
// minimum window run are dropped outright.  Thresholds come either from a
// fixed table keyed by the observed coverage class (adaptive mode) or from
// the caller (manual mode).  The threshold table is a deliberate heuristic
// that downstream consumers depend on; do not retune it casually.
package cnv

import (
	"math"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/coverage"
	"github.com/mingzhi/gomath/stat/desc/meanvar"
)

// Type is the kind of copy-number event.
type Type int

const (
	// Amplification is depth significantly above the diploid baseline.
	Amplification Type = iota
	// Deletion is depth significantly below the diploid baseline.
	Deletion
)

// String returns the lower-case type name used in JSON output.
func (t Type) String() string {
	if t == Amplification {
		return "amplification"
	}
	return "deletion"
}

// MarshalJSON renders the type as its name.
func (t Type) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Confidence grades an emitted region.
type Confidence int

const (
	// ConfidenceLow marks short or noisy regions.
	ConfidenceLow Confidence = iota
	// ConfidenceMedium marks regions of moderate support.
	ConfidenceMedium
	// ConfidenceHigh marks long, low-variance regions.
	ConfidenceHigh
)

// String returns the lower-case confidence name used in JSON output.
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	}
	return "high"
}

// MarshalJSON renders the confidence as its name.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Region is one called copy-number event: a maximal run of adjacent
// same-type windows on a single chromosome.
type Region struct {
	Chromosome string `json:"chromosome"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Type       Type   `json:"type"`
	// Windows are the constituent coverage windows in position order.
	Windows []coverage.Window `json:"constituentWindows"`
	// AverageCoverage is the mean normalized coverage across Windows.
	AverageCoverage float64 `json:"averageCoverage"`
	// CopyNumberEstimate is AverageCoverage times two (diploid baseline).
	CopyNumberEstimate float64    `json:"copyNumberEstimate"`
	Confidence         Confidence `json:"confidence"`
}

// Thresholds configures window classification: a window is amplified when
// its normalized coverage is at least Amp, deleted when it is positive and
// at most Del.  Regions with fewer than MinWindows windows are dropped.
type Thresholds struct {
	Amp        float64
	Del        float64
	MinWindows int
}

// adaptiveTable maps coverage class to thresholds.  Lower coverage gets more
// permissive ratio cutoffs but demands longer window runs, since shallow
// data is noisier per window.
var adaptiveTable = map[coverage.Class]Thresholds{
	coverage.ClassLow:    {Amp: 2.0, Del: 0.3, MinWindows: 5},
	coverage.ClassMedium: {Amp: 1.5, Del: 0.5, MinWindows: 3},
	coverage.ClassHigh:   {Amp: 1.3, Del: 0.7, MinWindows: 2},
}

// AdaptiveThresholds returns the threshold row for a coverage class.
func AdaptiveThresholds(class coverage.Class) Thresholds {
	return adaptiveTable[class]
}

// Validate checks manually-supplied thresholds.  Amp must exceed the
// diploid baseline ratio of 1.0, Del must be a ratio in (0, 1), and at least
// one window is required per region.
func (t Thresholds) Validate() error {
	if t.Amp <= 1.0 {
		return depth.ConfigurationErrorf("amplification threshold must exceed 1.0, got %g", t.Amp)
	}
	if t.Del <= 0 || t.Del >= 1.0 {
		return depth.ConfigurationErrorf("deletion threshold must be in (0, 1), got %g", t.Del)
	}
	if t.MinWindows < 1 {
		return depth.ConfigurationErrorf("minimum window count must be at least 1, got %d", t.MinWindows)
	}
	return nil
}

// Call scans windows in their given chromosome-then-position order and
// returns the called regions.  class selects the confidence bands; th
// selects the classification thresholds (adaptive or manual).  The scan is
// deterministic: identical input yields identical output.
func Call(windows []coverage.Window, class coverage.Class, th Thresholds) []Region {
	var (
		out     []Region
		current []coverage.Window
		curType Type
		open    bool
	)
	emit := func() {
		if open && len(current) >= th.MinWindows {
			out = append(out, finalize(current, curType, class))
		}
		current = nil
		open = false
	}
	for _, w := range windows {
		t, ok := classify(w.NormalizedCoverage, th)
		switch {
		case !ok:
			emit()
		case open && t == curType && w.Chromosome == current[0].Chromosome:
			current = append(current, w)
		default:
			emit()
			current = append(current, w)
			curType = t
			open = true
		}
	}
	emit()
	return out
}

func classify(normalized float64, th Thresholds) (Type, bool) {
	switch {
	case normalized >= th.Amp:
		return Amplification, true
	case normalized > 0 && normalized <= th.Del:
		return Deletion, true
	}
	return 0, false
}

// finalize scores a closed region.
func finalize(windows []coverage.Window, t Type, class coverage.Class) Region {
	mv := meanvar.New()
	for _, w := range windows {
		mv.Increment(w.NormalizedCoverage)
	}
	mean := mv.Mean.GetResult()
	sd := 0.0
	if len(windows) > 1 {
		sd = math.Sqrt(mv.Var.GetResult())
	}
	return Region{
		Chromosome:         windows[0].Chromosome,
		Start:              windows[0].Start,
		End:                windows[len(windows)-1].End,
		Type:               t,
		Windows:            windows,
		AverageCoverage:    mean,
		CopyNumberEstimate: mean * 2,
		Confidence:         confidence(class, len(windows), sd),
	}
}

// confidence grades a region by window count and the standard deviation of
// its normalized coverage.  Stricter (higher) coverage classes get a lower
// bar: each window carries more reads, so short clean runs are already
// trustworthy.
func confidence(class coverage.Class, n int, sd float64) Confidence {
	switch class {
	case coverage.ClassHigh:
		if n >= 5 && sd < 0.25 {
			return ConfidenceHigh
		}
		if n >= 3 && sd < 0.5 {
			return ConfidenceMedium
		}
	case coverage.ClassMedium:
		if n >= 6 && sd < 0.3 {
			return ConfidenceHigh
		}
		if n >= 4 && sd < 0.6 {
			return ConfidenceMedium
		}
	default:
		if n >= 8 && sd < 0.35 {
			return ConfidenceHigh
		}
		if n >= 6 && sd < 0.7 {
			return ConfidenceMedium
		}
	}
	return ConfidenceLow
}
