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

// Flag bits from the BAM spec that depth analysis cares about.
const (
	// FlagUnmapped is set on records with no alignment position.
	FlagUnmapped = 0x4
	// FlagSecondary is set on secondary alignments of a multi-mapping read.
	FlagSecondary = 0x100
	// FlagDuplicate is set on PCR or optical duplicates.
	FlagDuplicate = 0x400
)

// baseASCII maps a 4-bit .bam sequence code to its ASCII base.
var baseASCII = [16]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// Reference is one reference sequence (chromosome/contig) declared in the
// BAM header.  The ordered reference list defines the refID -> name mapping
// used by every alignment record.
type Reference struct {
	Name   string
	Length int
}

// Record is a single alignment record.  Only the fields needed for
// depth-based analysis are decoded; read names, CIGAR operations and aux
// tags are skipped during parsing.
//
// A Record returned by Reader.ReadRecord is only valid until the next
// ReadRecord call; callers that retain one must copy Seq and Qual.
type Record struct {
	// RefID indexes the header reference list; -1 means unmapped.
	RefID int32
	// Pos is the 0-based leftmost alignment position.
	Pos int32
	// MapQ is the mapping quality, 255 = unavailable.
	MapQ byte
	// Flags is the BAM flag bitfield.
	Flags uint16
	// Seq holds the read bases as ASCII (A/C/G/T/N and IUPAC codes).
	Seq []byte
	// Qual holds one Phred base quality per base in Seq.
	Qual []byte
}

// IsUnmapped reports whether the record has no alignment.
func (r *Record) IsUnmapped() bool { return r.Flags&FlagUnmapped != 0 }

// IsDuplicate reports whether the record is flagged as a duplicate.
func (r *Record) IsDuplicate() bool { return r.Flags&FlagDuplicate != 0 }

// IsSecondary reports whether the record is a secondary alignment.
func (r *Record) IsSecondary() bool { return r.Flags&FlagSecondary != 0 }
