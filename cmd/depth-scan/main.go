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
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/depth/analysis"
	"github.com/grailbio/depth/cnv"
	"github.com/grailbio/depth/encoding/bgzf"
	"github.com/pkg/errors"
)

var (
	windowSize  = flag.Int("window", 10000, "Coverage window width in bases")
	chroms      = flag.String("chroms", "", "Comma-separated chromosome filter; empty means all chromosomes")
	mode        = flag.String("mode", analysis.ModeAdaptive, "CNV threshold mode; 'adaptive' or 'manual'")
	ampRatio    = flag.Float64("amp", 1.5, "Manual-mode amplification ratio threshold")
	delRatio    = flag.Float64("del", 0.5, "Manual-mode deletion ratio threshold")
	minWindows  = flag.Int("min-windows", 3, "Manual-mode minimum windows per region")
	parallelism = flag.Int("parallelism", 1, "Number of chromosome-partitioned pipeline jobs; 0 = runtime.NumCPU()")
	outPrefix   = flag.String("out", "depth-scan", "Output path prefix")
	format      = flag.String("format", "json", "Output format; 'json', 'tsv', and 'tsv-gz' supported")
)

func depthScanUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = depthScanUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Exactly one positional argument (bampath) expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()

	cfg := analysis.ScanConfig{
		WindowSize:       *windowSize,
		ChromosomeFilter: parseChroms(*chroms),
		Mode:             *mode,
		Manual:           cnv.Thresholds{Amp: *ampRatio, Del: *delRatio, MinWindows: *minWindows},
	}
	buf, err := readInput(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}
	res, err := analysis.ScanSharded(buf, cfg, *parallelism)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("depth-scan: %d reads, %d windows, %d CNV regions", res.TotalReads, len(res.Windows), len(res.CNVRegions))

	if err := writeJSON(ctx, *outPrefix+".json", res); err != nil {
		log.Fatalf("%v", err)
	}
	switch *format {
	case "json":
	case "tsv", "tsv-gz":
		gz := *format == "tsv-gz"
		if err := writeWindowsTSV(ctx, *outPrefix, res, gz); err != nil {
			log.Fatalf("%v", err)
		}
		if err := writeRegionsTSV(ctx, *outPrefix, res, gz); err != nil {
			log.Fatalf("%v", err)
		}
	default:
		log.Fatalf("unsupported -format %q", *format)
	}
	log.Debug.Printf("exiting")
}

func parseChroms(s string) map[string]bool {
	if s == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, c := range strings.Split(s, ",") {
		filter[strings.TrimSpace(c)] = true
	}
	return filter
}

func readInput(ctx context.Context, path string) (buf []byte, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if buf, err = ioutil.ReadAll(in.Reader(ctx)); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return buf, nil
}

func writeJSON(ctx context.Context, path string, v interface{}) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	enc := json.NewEncoder(out.Writer(ctx))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openTSV creates path (plus .gz when compressing) and layers a TSV writer
// on top.  The returned closer flushes the TSV writer and the bgzf layer.
func openTSV(ctx context.Context, path string, gz bool) (*tsv.Writer, func() error, error) {
	if gz {
		path += ".gz"
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating %s", path)
	}
	var w io.Writer = out.Writer(ctx)
	var bg *bgzf.Writer
	if gz {
		if bg, err = bgzf.NewWriter(w, 6); err != nil {
			return nil, nil, err
		}
		w = bg
	}
	tw := tsv.NewWriter(w)
	closer := func() error {
		if err := tw.Flush(); err != nil {
			return err
		}
		if bg != nil {
			if err := bg.Close(); err != nil {
				return err
			}
		}
		return out.Close(ctx)
	}
	return tw, closer, nil
}

func writeWindowsTSV(ctx context.Context, prefix string, res *analysis.CoverageResult, gz bool) error {
	tw, closer, err := openTSV(ctx, prefix+".windows.tsv", gz)
	if err != nil {
		return err
	}
	tw.WriteString("#CHROM\tSTART\tEND\tRAW\tNORMALIZED")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, w := range res.Windows {
		tw.WriteString(w.Chromosome)
		tw.WriteInt64(int64(w.Start))
		tw.WriteInt64(int64(w.End))
		tw.WriteInt64(int64(w.RawCoverage))
		tw.WriteString(strconv.FormatFloat(w.NormalizedCoverage, 'g', 6, 64))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return closer()
}

func writeRegionsTSV(ctx context.Context, prefix string, res *analysis.CoverageResult, gz bool) error {
	tw, closer, err := openTSV(ctx, prefix+".cnv.tsv", gz)
	if err != nil {
		return err
	}
	tw.WriteString("#CHROM\tSTART\tEND\tTYPE\tWINDOWS\tAVG_COVERAGE\tCOPY_NUMBER\tCONFIDENCE")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, r := range res.CNVRegions {
		tw.WriteString(r.Chromosome)
		tw.WriteInt64(int64(r.Start))
		tw.WriteInt64(int64(r.End))
		tw.WriteString(r.Type.String())
		tw.WriteInt64(int64(len(r.Windows)))
		tw.WriteString(strconv.FormatFloat(r.AverageCoverage, 'g', 6, 64))
		tw.WriteString(strconv.FormatFloat(r.CopyNumberEstimate, 'g', 6, 64))
		tw.WriteString(r.Confidence.String())
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return closer()
}
