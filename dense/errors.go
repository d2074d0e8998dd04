// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

// Error represents a precondition violation of a dense view operation.
// Views and permutations panic with Error values, so a recovered panic can be
// matched with errors.Is.
type Error struct{ string }

func (err Error) Error() string { return err.string }

var (
	ErrNegativeDimension = Error{"dense: negative dimension"}
	ErrIndexOutOfRange   = Error{"dense: index out of range"}
	ErrShape             = Error{"dense: dimension mismatch"}
	ErrBadStride         = Error{"dense: stride must be positive"}
	ErrShortBuffer       = Error{"dense: buffer too short for requested extent"}
	ErrNotPermutation    = Error{"dense: indices do not form a permutation"}
)
