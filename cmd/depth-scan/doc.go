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

/*Command depth-scan computes windowed read-depth coverage over a BAM file
  and calls copy-number variations from the normalized window profile.
  Output is a JSON document, optionally accompanied by TSV tables of the
  coverage windows and called regions.

  Usage: depth-scan [flags] input.bam
*/
package main
