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

// Package depth holds the error taxonomy shared by the BAM parsing and
// depth-analysis packages.
//
// Three failure classes are distinguishable by the caller:
//
//   FormatError         malformed binary input; the whole analysis aborts
//                       with no partial output.
//   EmptyResultError    well-formed input with no usable signal (e.g. zero
//                       mapped reads).
//   ConfigurationError  invalid caller-supplied options, detected before any
//                       parsing begins.
package depth

import (
	"fmt"

	"github.com/pkg/errors"
)

// FormatError indicates malformed binary input: a bad magic number, a
// truncated block, or a record that extends past the end of the stream.
type FormatError struct {
	msg string
}

func (e *FormatError) Error() string { return "format error: " + e.msg }

// FormatErrorf constructs a *FormatError with fmt.Sprintf semantics.
func FormatErrorf(format string, args ...interface{}) error {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// IsFormat reports whether err (or its cause chain) is a *FormatError.
func IsFormat(err error) bool {
	_, ok := errors.Cause(err).(*FormatError)
	return ok
}

// EmptyResultError indicates that the input parsed cleanly but produced no
// usable coverage signal.
type EmptyResultError struct {
	msg string
}

func (e *EmptyResultError) Error() string { return "empty result: " + e.msg }

// EmptyResultErrorf constructs an *EmptyResultError with fmt.Sprintf
// semantics.
func EmptyResultErrorf(format string, args ...interface{}) error {
	return &EmptyResultError{msg: fmt.Sprintf(format, args...)}
}

// IsEmptyResult reports whether err (or its cause chain) is an
// *EmptyResultError.
func IsEmptyResult(err error) bool {
	_, ok := errors.Cause(err).(*EmptyResultError)
	return ok
}

// ConfigurationError indicates invalid analysis options.  It is always
// raised before any input bytes are consumed.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.msg }

// ConfigurationErrorf constructs a *ConfigurationError with fmt.Sprintf
// semantics.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err (or its cause chain) is a
// *ConfigurationError.
func IsConfiguration(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationError)
	return ok
}
