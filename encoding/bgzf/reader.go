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

// Package bgzf reads and writes the .bgzf (block gzipped) file format.  A
// .bgzf file consists of one or more complete gzip blocks concatenated
// together.  Each gzip block holds at most 64KB of uncompressed data and
// carries a BC Extra subfield recording the compressed block size, so a
// reader can step from block to block without inflating anything.  The
// payload of the .bgzf file is the in-order concatenation of the
// uncompressed block payloads.  A valid .bgzf file ends with a 28-byte
// terminator block containing an empty payload.
//
// The .bgzf format is used by .bam files.  For details see the SAM/BAM
// spec: https://samtools.github.io/hts-specs/SAMv1.pdf
package bgzf

import (
	"bytes"
	"io"

	"github.com/grailbio/depth"
	"github.com/klauspost/compress/gzip"
)

const (
	// gzip FLG bit indicating the presence of an Extra field.
	flgExtra = 0x04

	// Size of the fixed gzip header preceding the Extra field.
	fixedHeaderSize = 12

	// Consumed bytes are trimmed from the front of the accumulation buffer
	// once they exceed this threshold.
	trimThreshold = 1 << 20
)

// Reader decodes a .bgzf byte buffer one block at a time, exposing the
// concatenated uncompressed payload through ReadBytes.  Blocks are inflated
// lazily: only as many as needed to satisfy the outstanding read, so peak
// memory stays proportional to the consumer's read window rather than the
// whole file.
//
// A Reader owns all of its state; independent Readers over the same buffer
// may be used concurrently.
type Reader struct {
	src []byte // remaining compressed bytes
	buf []byte // inflated accumulation buffer
	off int    // consumed prefix of buf

	gz      gzip.Reader
	started bool
}

// NewReader returns a Reader over the full compressed byte buffer.  No
// bytes are examined until the first ReadBytes call.
func NewReader(data []byte) *Reader {
	return &Reader{src: data}
}

// ReadBytes returns the next n uncompressed bytes.  It returns io.EOF when
// the remaining blocks cannot supply n more bytes; callers must treat that
// as end-of-stream, not as a failure.  The returned slice is only valid
// until the next ReadBytes call.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if r.off > trimThreshold {
		r.buf = append(r.buf[:0:0], r.buf[r.off:]...)
		r.off = 0
	}
	for len(r.buf)-r.off < n {
		more, err := r.inflateBlock()
		if err != nil {
			return nil, err
		}
		if !more {
			return nil, io.EOF
		}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Skip discards the next n uncompressed bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.ReadBytes(n)
	return err
}

// inflateBlock decodes the next compressed block into the accumulation
// buffer.  It returns false with a nil error once the compressed stream is
// exhausted.
func (r *Reader) inflateBlock() (bool, error) {
	if len(r.src) == 0 {
		return false, nil
	}
	bsize, err := r.blockSize()
	if err != nil {
		return false, err
	}
	if bsize > len(r.src) {
		return false, depth.FormatErrorf("bgzf: truncated block (%d bytes declared, %d remain)", bsize, len(r.src))
	}
	block := r.src[:bsize]
	r.src = r.src[bsize:]

	br := bytes.NewReader(block)
	if err = r.gz.Reset(br); err != nil {
		return false, depth.FormatErrorf("bgzf: bad gzip block header: %v", err)
	}
	r.gz.Multistream(false)
	var inflated bytes.Buffer
	if _, err = inflated.ReadFrom(&r.gz); err != nil {
		return false, depth.FormatErrorf("bgzf: inflating block: %v", err)
	}
	r.buf = append(r.buf, inflated.Bytes()...)
	return true, nil
}

// blockSize parses the fixed gzip header plus the BC Extra subfield at the
// front of r.src and returns the total compressed size of the next block.
// The very first block doubles as the stream's magic-number check.
func (r *Reader) blockSize() (int, error) {
	src := r.src
	if len(src) < fixedHeaderSize {
		return 0, depth.FormatErrorf("bgzf: truncated block header (%d bytes)", len(src))
	}
	if src[0] != 0x1f || src[1] != 0x8b {
		if !r.started {
			return 0, depth.FormatErrorf("bgzf: missing gzip magic at stream start")
		}
		return 0, depth.FormatErrorf("bgzf: missing gzip magic at block boundary")
	}
	if src[3]&flgExtra == 0 {
		return 0, depth.FormatErrorf("bgzf: gzip block without an Extra field")
	}
	r.started = true
	xlen := int(src[10]) | int(src[11])<<8
	extra := src[fixedHeaderSize:]
	if len(extra) < xlen {
		return 0, depth.FormatErrorf("bgzf: truncated Extra field")
	}
	extra = extra[:xlen]
	for len(extra) >= 4 {
		si1, si2 := extra[0], extra[1]
		slen := int(extra[2]) | int(extra[3])<<8
		if len(extra) < 4+slen {
			break
		}
		if si1 == 'B' && si2 == 'C' && slen == 2 {
			bsize := int(extra[4]) | int(extra[5])<<8
			return bsize + 1, nil
		}
		extra = extra[4+slen:]
	}
	return 0, depth.FormatErrorf("bgzf: no BC subfield in gzip Extra header")
}
