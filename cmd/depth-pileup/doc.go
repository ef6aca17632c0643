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

/*Command depth-pileup calls single-nucleotide variants from a BAM file by
  building a per-position base pileup.  No reference genome is required: the
  majority base at each position acts as the implicit reference.  Output is
  a JSON document, optionally accompanied by a TSV table of variants.

  Usage: depth-pileup [flags] input.bam
*/
package main
