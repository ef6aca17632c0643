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

// Package bam parses the subset of the BAM format needed for read-depth
// analysis: the header reference list plus per-record position, flags,
// mapping quality, sequence and base qualities.  Read names, CIGAR
// operations and aux tags are skipped.
package bam

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/depth"
	"github.com/grailbio/depth/encoding/bgzf"
)

var bamMagic = []byte("BAM\x01")

// No reference name is longer than this in practice; the bound exists only
// to stop a corrupt length field from driving a huge allocation.
const maxNameLength = 1024

// Fixed-size portion of a BAM alignment record, after the block_size prefix.
const recordFixedBytes = 32

type readerState int

const (
	stateUnopened readerState = iota
	stateHeaderRead
	stateStreaming
	stateExhausted
)

// Reader decodes a BGZF-compressed BAM byte buffer.  Usage:
//
//	r := bam.NewReader(buf)
//	if err := r.ReadHeader(); err != nil { ... }
//	for {
//		rec, err := r.ReadRecord()
//		if err != nil { ... }
//		if rec == nil { break } // end of records
//		...
//	}
//
// A Reader owns all its state, so independent Readers over the same buffer
// may run concurrently.
type Reader struct {
	r     *bgzf.Reader
	refs  []Reference
	state readerState
	rec   Record
}

// NewReader returns a Reader over the full compressed byte buffer.
func NewReader(data []byte) *Reader {
	return &Reader{r: bgzf.NewReader(data)}
}

// Refs returns the reference list parsed by ReadHeader, in header order.
func (r *Reader) Refs() []Reference { return r.refs }

// ReadHeader validates the BAM magic number and parses the reference list.
// The free-text SAM header is skipped.  Any truncation inside the header is
// a FormatError: unlike the record stream, the header has a definite length
// and must be complete.
func (r *Reader) ReadHeader() error {
	if r.state != stateUnopened {
		return depth.FormatErrorf("bam: header already read")
	}
	magic, err := r.r.ReadBytes(4)
	if err != nil {
		return depth.FormatErrorf("bam: reading magic: %v", err)
	}
	if string(magic) != string(bamMagic) {
		return depth.FormatErrorf("bam: bad magic %q", magic)
	}
	lText, err := r.readInt32("header text length")
	if err != nil {
		return err
	}
	if lText < 0 {
		return depth.FormatErrorf("bam: negative header text length %d", lText)
	}
	if err := r.r.Skip(int(lText)); err != nil {
		return depth.FormatErrorf("bam: skipping header text: %v", err)
	}
	nRef, err := r.readInt32("reference count")
	if err != nil {
		return err
	}
	if nRef < 0 {
		return depth.FormatErrorf("bam: negative reference count %d", nRef)
	}
	r.refs = make([]Reference, 0, nRef)
	for i := int32(0); i < nRef; i++ {
		lName, err := r.readInt32("reference name length")
		if err != nil {
			return err
		}
		// The name length includes a NUL terminator.
		if lName < 1 || lName > maxNameLength {
			return depth.FormatErrorf("bam: invalid reference name length %d", lName)
		}
		name, err := r.r.ReadBytes(int(lName))
		if err != nil {
			return depth.FormatErrorf("bam: reading reference name: %v", err)
		}
		nameStr := string(name[:lName-1])
		lRef, err := r.readInt32("reference length")
		if err != nil {
			return err
		}
		if lRef < 0 {
			return depth.FormatErrorf("bam: negative length for reference %q", nameStr)
		}
		r.refs = append(r.refs, Reference{Name: nameStr, Length: int(lRef)})
	}
	r.state = stateHeaderRead
	return nil
}

// ReadRecord parses the next alignment record.  It returns (nil, nil) once
// the record stream is exhausted.  The returned Record is reused by the
// next call.
func (r *Reader) ReadRecord() (*Record, error) {
	switch r.state {
	case stateUnopened:
		return nil, depth.FormatErrorf("bam: ReadRecord before ReadHeader")
	case stateExhausted:
		return nil, nil
	}
	r.state = stateStreaming

	b, err := r.r.ReadBytes(4)
	if err == io.EOF {
		// Clean end of the record stream.
		r.state = stateExhausted
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	blockSize := int32(binary.LittleEndian.Uint32(b))
	if blockSize < recordFixedBytes {
		return nil, depth.FormatErrorf("bam: record block size %d too small", blockSize)
	}
	if b, err = r.r.ReadBytes(recordFixedBytes); err != nil {
		return nil, depth.FormatErrorf("bam: truncated record core: %v", err)
	}
	rec := &r.rec
	rec.RefID = int32(binary.LittleEndian.Uint32(b[0:4]))
	rec.Pos = int32(binary.LittleEndian.Uint32(b[4:8]))
	lReadName := int(b[8])
	rec.MapQ = b[9]
	// b[10:12] is the BAI bin, unused here.
	nCigarOp := int(binary.LittleEndian.Uint16(b[12:14]))
	rec.Flags = binary.LittleEndian.Uint16(b[14:16])
	lSeq := int(int32(binary.LittleEndian.Uint32(b[16:20])))
	// b[20:32] is mate refID/pos and template length, unused here.
	if lSeq < 0 {
		return nil, depth.FormatErrorf("bam: negative sequence length %d", lSeq)
	}

	if err = r.r.Skip(lReadName + 4*nCigarOp); err != nil {
		return nil, depth.FormatErrorf("bam: truncated record name/cigar: %v", err)
	}
	seq8 := (lSeq + 1) / 2
	if b, err = r.r.ReadBytes(seq8); err != nil {
		return nil, depth.FormatErrorf("bam: truncated record sequence: %v", err)
	}
	if cap(rec.Seq) < lSeq {
		rec.Seq = make([]byte, lSeq)
	}
	rec.Seq = rec.Seq[:lSeq]
	for i := 0; i < lSeq; i++ {
		nib := b[i>>1]
		if i&1 == 0 {
			nib >>= 4
		}
		rec.Seq[i] = baseASCII[nib&0xf]
	}
	if b, err = r.r.ReadBytes(lSeq); err != nil {
		return nil, depth.FormatErrorf("bam: truncated record qualities: %v", err)
	}
	rec.Qual = append(rec.Qual[:0], b...)

	// Whatever remains of the record is aux tags; skip using the block size.
	remainder := int(blockSize) - recordFixedBytes - lReadName - 4*nCigarOp - seq8 - lSeq
	if remainder < 0 {
		return nil, depth.FormatErrorf("bam: record fields exceed block size %d", blockSize)
	}
	if err = r.r.Skip(remainder); err != nil {
		return nil, depth.FormatErrorf("bam: truncated record aux data: %v", err)
	}
	return rec, nil
}

func (r *Reader) readInt32(what string) (int32, error) {
	b, err := r.r.ReadBytes(4)
	if err != nil {
		if err == io.EOF {
			return 0, depth.FormatErrorf("bam: truncated header reading %s", what)
		}
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}
