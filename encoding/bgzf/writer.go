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
package bgzf

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/gzip"
	"v.io/x/lib/vlog"
)

const (
	// DefaultUncompressedBlockSize is the default bgzf uncompressedBlockSize
	// chosen by both sambamba and biogo.  See the SAM/BAM specification for
	// details.
	DefaultUncompressedBlockSize = 0x0ff00

	// MaxUncompressedBlockSize is the largest legal value for
	// uncompressedBlockSize.
	MaxUncompressedBlockSize = 0x10000

	// compressedBlockSize is the maximum size of the compressed data for a
	// bgzf block.  See the SAM/BAM specification for details.
	compressedBlockSize = 0x10000
)

var (
	// bgzfExtra goes into the gzip Extra subfield, with subfield ids 66, 67
	// and length 2.  See the SAM/BAM spec.
	bgzfExtra       = [...]byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the bgzf EOF marker.  It belongs at the end of a valid
	// bgzf file and is itself a legal gzip block with an empty payload.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// Writer compresses data into .bgzf format: gzip blocks concatenated
// together, each holding at most 64KB of uncompressed payload and carrying a
// BC Extra subfield with the compressed block size minus one.  Close appends
// the bgzf EOF terminator.
type Writer struct {
	level            int
	uncompressedSize int
	w                io.Writer
	gz               *gzip.Writer
	original         bytes.Buffer
	compressed       bytes.Buffer
}

// NewWriter returns a new .bgzf writer with the given flate compression
// level.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	if _, err := gzip.NewWriterLevel(ioutil.Discard, level); err != nil {
		return nil, err
	}
	return &Writer{
		level:            level,
		uncompressedSize: DefaultUncompressedBlockSize,
		w:                w,
	}, nil
}

// Write appends buf to the .bgzf payload, emitting complete blocks as they
// fill.  It returns the number of bytes consumed from buf and any error
// encountered.
func (w *Writer) Write(buf []byte) (int, error) {
	for i := 0; i < len(buf); {
		// Write one block at a time to avoid copying the whole input.
		end := len(buf)
		limit := i + w.uncompressedSize - w.original.Len()
		if limit < end {
			end = limit
		}
		n, _ := w.original.Write(buf[i:end])
		i += n
		if err := w.tryCompress(false); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// CloseWithoutTerminator flushes the current .bgzf block but does not append
// the .bgzf terminator.  The output is not a complete .bgzf file until
// Close() is called on the writer producing the final shard.
func (w *Writer) CloseWithoutTerminator() error {
	return w.tryCompress(true)
}

// Close flushes the current .bgzf block and appends the .bgzf terminator.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	_, err := w.w.Write(terminator)
	return err
}

// tryCompress removes a block from w.original, compresses it, patches the
// BSIZE field in its header, and writes it to the underlying writer.
func (w *Writer) tryCompress(compressRemainder bool) error {
	for w.original.Len() >= w.uncompressedSize || (compressRemainder && w.original.Len() > 0) {
		if w.gz == nil {
			var err error
			if w.gz, err = gzip.NewWriterLevel(&w.compressed, w.level); err != nil {
				return err
			}
		} else {
			w.gz.Reset(&w.compressed)
		}
		w.gz.Header.Extra = append([]byte(nil), bgzfExtra[:]...)
		w.gz.Header.OS = 0xff // unknown OS, per the BAM convention

		if _, err := w.gz.Write(w.original.Next(w.uncompressedSize)); err != nil {
			return err
		}
		if err := w.gz.Close(); err != nil {
			return err
		}

		// Patch the bgzf BSIZE subfield with compressed length - 1.
		b := w.compressed.Bytes()
		offset := 12 // offset of the Extra field in the gzip header
		bsize := w.compressed.Len() - 1
		if bsize >= compressedBlockSize {
			return fmt.Errorf("bgzf: compressed block is too big: %d > %d", bsize,
				compressedBlockSize)
		}
		if w.compressed.Len() < offset+len(bgzfExtra) {
			vlog.Fatalf("compressed length is too short: %d < %d", w.compressed.Len(),
				offset+len(bgzfExtra))
		}
		if !bytes.Equal(b[offset:offset+len(bgzfExtraPrefix)], bgzfExtraPrefix[:]) {
			vlog.Fatalf("could not find bgzf extra prefix")
		}
		b[offset+4] = byte(bsize)
		b[offset+5] = byte(bsize >> 8)

		if _, err := w.compressed.WriteTo(w.w); err != nil {
			return err
		}
	}
	return nil
}
