// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"errors"
	"fmt"
)

const (
	p1    = 0.1
	p25   = 0.25
	p5    = 0.5
	p75   = 0.75
	p0001 = 1e-4
	hun   = 100.0
	eps   = float64(7)/3 - float64(4)/3 - 1.
	dwarf = 0x1p-1022 // smallest positive normalized float64

	maxTrials = 10 // trial steps per Iterate call
	maxSearch = 10 // damping values per lmpar call
)

var (
	ErrDimension   = errors.New("lmder: invalid dimensions")
	ErrTolerance   = errors.New("lmder: tolerance must not be negative")
	ErrNotReady    = errors.New("lmder: solver is not ready to iterate")
	ErrNoObjective = errors.New("lmder: objective is required")
	ErrNotFinite   = errors.New("lmder: initial point is not finite")
)

// EvalError reports a failed residual or Jacobian evaluation.
type EvalError struct {
	Op  string // "residual" or "jacobian"
	Err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("lmder: %s evaluation failed: %v", e.Op, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Outcome describes how a single Iterate call ended.
type Outcome int

const (
	// StepAccepted a trial step reduced the residual and was committed.
	StepAccepted Outcome = iota
	// StepStalled no acceptable trial step within the retry budget.
	StepStalled
	// StallReduction actual and predicted reductions are both at machine precision (MINPACK info 6).
	StallReduction
	// StallRadius trust-region radius collapsed relative to ‖𝐃x‖ (MINPACK info 7).
	StallRadius
	// StallGradient scaled gradient is orthogonal to the residual at machine precision (MINPACK info 8).
	StallGradient
	// ZeroResidual the residual vanishes at the current position.
	ZeroResidual
)

func (o Outcome) String() string {
	switch o {
	case StepAccepted:
		return "step accepted"
	case StepStalled:
		return "no acceptable step in trial budget"
	case StallReduction:
		return "cannot reduce the sum of squares further"
	case StallRadius:
		return "trust region radius collapsed"
	case StallGradient:
		return "gradient vanishes at machine precision"
	case ZeroResidual:
		return "residual is zero"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Converged reports whether the outcome is a terminal machine-precision stall.
func (o Outcome) Converged() bool {
	return o == StallReduction || o == StallRadius || o == StallGradient
}

// State of the Solver state machine.
//
//	Idle ─Set→ Ready ─Iterate→ Ready | Converged | Exhausted | Failed
//
// Only Ready accepts Iterate. Set restarts from any state.
type State int

const (
	Idle State = iota
	Ready
	Converged
	Exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
