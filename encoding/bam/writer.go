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
package bam

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/depth/encoding/bgzf"
)

// seqNibble maps an ASCII base to its 4-bit .bam sequence code.  Anything
// outside the IUPAC alphabet encodes as N.
var seqNibble = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 15 // N
	}
	for code, base := range baseASCII {
		t[base] = byte(code)
	}
	return t
}()

// Writer emits BAM files restricted to the record subset Reader understands:
// read names are written as a single placeholder byte, records carry no
// CIGAR operations and no aux tags.  That is enough for depth-analysis
// fixtures and for re-emitting filtered record streams.
type Writer struct {
	bg   *bgzf.Writer
	refs []Reference
	buf  []byte
}

// NewWriter writes a BAM header with the given reference list to w and
// returns a Writer for appending records.  The free-text SAM header is left
// empty.
func NewWriter(w io.Writer, refs []Reference, level int) (*Writer, error) {
	bg, err := bgzf.NewWriter(w, level)
	if err != nil {
		return nil, err
	}
	bw := &Writer{bg: bg, refs: refs}
	bw.buf = append(bw.buf, "BAM\x01"...)
	bw.appendInt32(0) // l_text
	bw.appendInt32(int32(len(refs)))
	for _, ref := range refs {
		bw.appendInt32(int32(len(ref.Name) + 1))
		bw.buf = append(bw.buf, ref.Name...)
		bw.buf = append(bw.buf, 0)
		bw.appendInt32(int32(ref.Length))
	}
	if err := bw.flush(); err != nil {
		return nil, err
	}
	return bw, nil
}

// WriteRecord appends one alignment record.
func (w *Writer) WriteRecord(rec *Record) error {
	if len(rec.Seq) != len(rec.Qual) {
		return fmt.Errorf("bam: seq/qual length mismatch: %d != %d", len(rec.Seq), len(rec.Qual))
	}
	if int(rec.RefID) >= len(w.refs) {
		return fmt.Errorf("bam: refID %d out of range", rec.RefID)
	}
	lSeq := len(rec.Seq)
	seq8 := (lSeq + 1) / 2
	const lReadName = 2 // "*" plus NUL
	blockSize := recordFixedBytes + lReadName + seq8 + lSeq

	w.appendInt32(int32(blockSize))
	w.appendInt32(rec.RefID)
	w.appendInt32(rec.Pos)
	w.buf = append(w.buf, byte(lReadName), rec.MapQ)
	w.appendUint16(0) // bin
	w.appendUint16(0) // n_cigar_op
	w.appendUint16(rec.Flags)
	w.appendInt32(int32(lSeq))
	w.appendInt32(-1) // next_refID
	w.appendInt32(-1) // next_pos
	w.appendInt32(0)  // tlen
	w.buf = append(w.buf, '*', 0)
	for i := 0; i < lSeq; i += 2 {
		nib := seqNibble[rec.Seq[i]] << 4
		if i+1 < lSeq {
			nib |= seqNibble[rec.Seq[i+1]]
		}
		w.buf = append(w.buf, nib)
	}
	w.buf = append(w.buf, rec.Qual...)
	return w.flush()
}

// Close flushes buffered records and writes the BGZF terminator.
func (w *Writer) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	return w.bg.Close()
}

func (w *Writer) appendInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) appendUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.bg.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}
