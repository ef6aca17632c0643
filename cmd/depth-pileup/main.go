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
	"github.com/grailbio/depth/encoding/bgzf"
	"github.com/grailbio/depth/pileup/snp"
	"github.com/pkg/errors"
)

var (
	chroms          = flag.String("chroms", "", "Comma-separated target chromosomes; empty means all chromosomes")
	minDepth        = flag.Int("min-depth", snp.DefaultOpts.MinDepth, "Minimum pileup depth at a position")
	minBaseQual     = flag.Int("min-base-qual", int(snp.DefaultOpts.MinBaseQual), "Bases below this Phred quality are skipped")
	mapq            = flag.Int("mapq", int(snp.DefaultOpts.MinMapQ), "Reads with MAPQ below this level are skipped")
	minVariantReads = flag.Int("min-variant-reads", snp.DefaultOpts.MinVariantReads, "Minimum reads supporting an alternate base")
	minAlleleFreq   = flag.Float64("min-allele-freq", snp.DefaultOpts.MinAlleleFreq, "Minimum alternate-allele frequency")
	pileupWindow    = flag.Int("pileup-window", snp.DefaultOpts.PileupWindowSize, "Pileup window size in bases; bounds memory only")
	outPrefix       = flag.String("out", "depth-pileup", "Output path prefix")
	format          = flag.String("format", "json", "Output format; 'json', 'tsv', and 'tsv-gz' supported")
)

func depthPileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = depthPileupUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Exactly one positional argument (bampath) expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()

	opts := snp.Opts{
		TargetChromosomes: parseChroms(*chroms),
		MinDepth:          *minDepth,
		MinBaseQual:       byte(*minBaseQual),
		MinMapQ:           byte(*mapq),
		MinVariantReads:   *minVariantReads,
		MinAlleleFreq:     *minAlleleFreq,
		PileupWindowSize:  *pileupWindow,
	}
	buf, err := readInput(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}
	res, err := analysis.CallVariants(buf, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("depth-pileup: %d variants across %d chromosomes", res.TotalVariants, len(res.ChromosomesProcessed))

	if err := writeJSON(ctx, *outPrefix+".json", res); err != nil {
		log.Fatalf("%v", err)
	}
	switch *format {
	case "json":
	case "tsv", "tsv-gz":
		if err := writeVariantsTSV(ctx, *outPrefix, res, *format == "tsv-gz"); err != nil {
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
	targets := make(map[string]bool)
	for _, c := range strings.Split(s, ",") {
		targets[strings.TrimSpace(c)] = true
	}
	return targets
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

func writeVariantsTSV(ctx context.Context, prefix string, res *analysis.VariantResult, gz bool) (err error) {
	path := prefix + ".variants.tsv"
	if gz {
		path += ".gz"
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	var w io.Writer = out.Writer(ctx)
	var bg *bgzf.Writer
	if gz {
		if bg, err = bgzf.NewWriter(w, 6); err != nil {
			return err
		}
		w = bg
	}
	tw := tsv.NewWriter(w)
	tw.WriteString("#CHROM\tPOS\tREF\tALT\tQUAL\tDP\tRO\tAO\tAF")
	if err = tw.EndLine(); err != nil {
		return err
	}
	for _, v := range res.Variants {
		tw.WriteString(v.Chromosome)
		tw.WriteInt64(int64(v.Position))
		tw.WriteString(v.ReferenceAllele)
		tw.WriteString(v.AlternateAllele)
		tw.WriteString(strconv.FormatFloat(v.QualityScore, 'g', 6, 64))
		tw.WriteInt64(int64(v.TotalDepth))
		tw.WriteInt64(int64(v.ReferenceCount))
		tw.WriteInt64(int64(v.AlternateCount))
		tw.WriteString(strconv.FormatFloat(v.AlleleFrequency, 'g', 6, 64))
		if err = tw.EndLine(); err != nil {
			return err
		}
	}
	if err = tw.Flush(); err != nil {
		return err
	}
	if bg != nil {
		return bg.Close()
	}
	return nil
}
