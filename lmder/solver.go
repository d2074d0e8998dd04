// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/lmfit/dense"
	"github.com/curioloop/lmfit/linalg"
	"github.com/curioloop/lmfit/numdiff"
)

// SolverOptions configures a Solver.
type SolverOptions struct {
	// NoScale fixes the variable scaling at 𝐃 = 𝐈 instead of adapting it
	// to the column norms of the Jacobian.
	NoScale bool
	// Finite difference method used when the objective has no analytic Jacobian.
	Diff numdiff.Method
	// Optional logger, output is disabled when nil.
	Logger *Logger
}

// Solver is a trust-region Levenberg-Marquardt solver for nonlinear least squares
//
//	𝚖𝚒𝚗 ½‖f(x)‖²  f: ℝⁿ → ℝᵐ, m ≥ n
//
// Each accepted step x₊ = x + dx solves the trust-region subproblem
//
//	𝚖𝚒𝚗 ‖ f + 𝐉dx ‖  subject to ‖𝐃dx‖ ≤ 𝚫
//
// through its Levenberg-Marquardt form (𝐉ᵀ𝐉 + λ𝐃ᵀ𝐃)dx = -𝐉ᵀf, where λ is chosen by lmpar.
// The radius 𝚫 grows or shrinks with the agreement between the actual and the predicted
// reduction of ‖f‖. The scale 𝐃 tracks the largest column norms of 𝐉 seen so far.
//
// All buffers are allocated by NewSolver and reused by every Set and Iterate call.
// A Solver must not be used by multiple goroutines concurrently.
//
// J.J. Moré, B.S. Garbow, K.E. Hillstrom, 'User Guide for MINPACK-1', ANL-80-74, 1980. (subroutine lmder)
type Solver struct {
	m, n    int
	noScale bool
	diff    numdiff.Approx
	logger  *Logger

	obj  Objective
	der  Differentiable
	both Evaluator

	state State
	err   error

	iter   int // accepted steps since Set
	nf, nj int // residual and Jacobian evaluations since Set

	fnorm, xnorm float64
	delta, par   float64

	x, f, dx dense.Vector
	J        dense.Matrix
	step     dense.Vector // trial step, copied to dx once the trial is resolved

	// pivoted QR factors of J, with qtf = Qᵀf
	r    dense.Matrix
	tau  dense.Vector
	perm dense.Permutation
	qtf  dense.Vector

	diag     dense.Vector
	newton   dense.Vector
	gradient dense.Vector
	xTrial   dense.Vector
	fTrial   dense.Vector
	df       dense.Vector
	sdiag    dense.Vector
	rptdx    dense.Vector
	g        dense.Vector
	w, work  dense.Vector
}

// NewSolver allocates a solver for problems with m residuals and n parameters.
func NewSolver(m, n int, opts SolverOptions) (*Solver, error) {
	switch {
	case n <= 0:
		return nil, fmt.Errorf("%w: parameter count %d must be positive", ErrDimension, n)
	case m < n:
		return nil, fmt.Errorf("%w: %d residuals cannot determine %d parameters", ErrDimension, m, n)
	case opts.Diff != numdiff.Forward && opts.Diff != numdiff.Central:
		return nil, fmt.Errorf("%w: %v", numdiff.ErrMethod, opts.Diff)
	}

	logger := opts.Logger
	if logger == nil {
		logger = &Logger{Level: LogNoop}
	}
	logger.normalize()

	s := &Solver{
		m: m, n: n,
		noScale: opts.NoScale,
		diff:    numdiff.Approx{Method: opts.Diff},
		logger:  logger,

		x:    dense.NewVector(n, nil),
		f:    dense.NewVector(m, nil),
		dx:   dense.NewVector(n, nil),
		J:    dense.NewMatrix(m, n, nil),
		step: dense.NewVector(n, nil),

		r:    dense.NewMatrix(m, n, nil),
		tau:  dense.NewVector(n, nil),
		perm: dense.NewPermutation(n),
		qtf:  dense.NewVector(m, nil),

		diag:     dense.NewVector(n, nil),
		newton:   dense.NewVector(n, nil),
		gradient: dense.NewVector(n, nil),
		xTrial:   dense.NewVector(n, nil),
		fTrial:   dense.NewVector(m, nil),
		df:       dense.NewVector(m, nil),
		sdiag:    dense.NewVector(n, nil),
		rptdx:    dense.NewVector(n, nil),
		g:        dense.NewVector(n, nil),
		w:        dense.NewVector(n, nil),
		work:     dense.NewVector(n, nil),
	}
	return s, nil
}

// Dims returns the problem size the solver was allocated for.
func (s *Solver) Dims() (m, n int) { return s.m, s.n }

// Set starts a new fit of obj from x0.
//
// It evaluates f and 𝐉 at x0, initializes the scale 𝐃 from the column norms of 𝐉
// (zero columns scale to one), sets 𝚫 = 100‖𝐃x₀‖ (or 100 when that is zero)
// and factors 𝐉. No step is taken. Set may be called in any state.
func (s *Solver) Set(obj Objective, x0 dense.Vector) error {
	if obj == nil {
		return ErrNoObjective
	}
	if m, n := obj.Dims(); m != s.m || n != s.n {
		return fmt.Errorf("%w: objective is %d×%d, solver is %d×%d", ErrDimension, m, n, s.m, s.n)
	}
	if x0.Len() != s.n {
		return fmt.Errorf("%w: x0 has %d elements, want %d", ErrDimension, x0.Len(), s.n)
	}
	for i := 0; i < s.n; i++ {
		if v := x0.At(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: x0[%d] = %v", ErrNotFinite, i, v)
		}
	}

	s.obj = obj
	s.der, _ = obj.(Differentiable)
	s.both, _ = obj.(Evaluator)
	s.state, s.err = Idle, nil
	s.iter, s.nf, s.nj = 0, 0, 0

	s.x.Assign(x0)
	if err := s.evaluate(s.x, s.f, s.J); err != nil {
		s.state, s.err = Failed, err
		return err
	}

	s.fnorm = s.f.Norm()
	s.dx.Fill(0)
	s.par = 0

	if s.noScale {
		s.diag.Fill(1)
	} else {
		for j := 0; j < s.n; j++ {
			c := s.J.Col(j).Norm()
			if c == 0 {
				c = 1
			}
			s.diag.Set(j, c)
		}
	}

	s.xnorm = s.x.ScaledNorm(s.diag)
	s.delta = hun * s.xnorm
	if s.delta == 0 {
		s.delta = hun
	}

	linalg.QRPTInto(s.r, s.J, s.tau, s.perm, s.work)
	s.qtf.Assign(s.f)
	linalg.QTMulVec(s.r, s.tau, s.qtf)

	s.rptdx.Fill(0)
	s.w.Fill(0)
	s.fTrial.Fill(0)

	s.state = Ready
	if log := s.logger; log.enable(LogTrace) {
		log.log("SET m= %d  n= %d  |f|= %12.5e  |Dx|= %12.5e  delta= %12.5e\n", s.m, s.n, s.fnorm, s.xnorm, s.delta)
		if log.enable(LogVerbose) {
			log.vec("X0", s.x)
			log.vec("D ", s.diag)
		}
	}
	return nil
}

// Iterate performs one outer iteration, trying at most 10 trial steps.
//
// A trial step dx from lmpar is accepted when the ratio ρ of the actual to the predicted
// reduction of ‖f‖ is at least 10⁻⁴. On acceptance x, f and 𝐉 are committed and 𝐉 is
// re-factored; otherwise 𝚫 shrinks and another step is tried with the same factorization.
//
// Outcomes other than StepAccepted and ZeroResidual end the Ready state: StepStalled moves the
// solver to Exhausted, the machine-precision stalls move it to Converged. A failed evaluation
// is returned as *EvalError and moves the solver to Failed, with x, f, the step, the radius
// and the damping parameter left as they were after the last accepted step.
func (s *Solver) Iterate() (Outcome, error) {
	switch s.state {
	case Idle:
		return 0, ErrNoObjective
	case Ready:
	default:
		return 0, fmt.Errorf("%w: solver is %v", ErrNotReady, s.state)
	}

	out, err := s.iterate()
	switch {
	case err != nil:
		s.state, s.err = Failed, err
	case out == StepStalled:
		s.state = Exhausted
	case out.Converged():
		s.state = Converged
	}

	if log := s.logger; log.enable(LogTrace) {
		log.log("ITERATE %4d  %v  |f|= %12.5e  delta= %12.5e  par= %12.5e\n", s.iter, out, s.fnorm, s.delta, s.par)
	}
	return out, err
}

func (s *Solver) iterate() (Outcome, error) {
	log := s.logger

	if s.fnorm == 0 {
		return ZeroResidual, nil
	}

	// A failed evaluation leaves the solver at the last accepted step.
	delta, par := s.delta, s.par
	fail := func(err error) (Outcome, error) {
		s.delta, s.par = delta, par
		return 0, err
	}

	// Infinity norm of the scaled gradient, relative to ‖f‖.
	// qtf is kept in step with the factorization.
	gradientDirection(s.r, s.perm, s.qtf, s.diag, s.gradient)
	gnorm := math.Abs(s.gradient.At(s.gradient.Iamax())) / s.fnorm

	for trial := 1; ; trial++ {
		s.par = lmpar(s.r, s.perm, s.qtf, s.diag, s.delta, s.par,
			s.newton, s.gradient, s.sdiag, s.step, s.w, log)

		// lmpar solves for the ascent direction
		s.step.Scale(-1)
		s.xTrial.Assign(s.x)
		s.xTrial.AddScaled(1, s.step)

		pnorm := s.step.ScaledNorm(s.diag)
		if s.iter == 0 && pnorm < s.delta {
			s.delta = pnorm
		}

		if err := s.residual(s.xTrial, s.fTrial); err != nil {
			return fail(err)
		}
		fnorm1 := s.fTrial.Norm()

		// Scaled actual reduction 1 - (‖f₊‖/‖f‖)², or -1 when ‖f₊‖ ≥ 10‖f‖.
		actred := -1.0
		if p1*fnorm1 < s.fnorm {
			u := fnorm1 / s.fnorm
			actred = 1 - u*u
		}

		// Scaled predicted reduction (‖𝐉dx‖² + 2λ‖𝐃dx‖²) / ‖f‖² with ‖𝐉dx‖ = ‖𝐑𝐏ᵀdx‖
		rptdx(s.r, s.perm, s.step, s.rptdx)
		t1 := s.rptdx.Norm() / s.fnorm
		t2 := math.Sqrt(s.par) * pnorm / s.fnorm
		prered := t1*t1 + t2*t2/p5
		dirder := -(t1*t1 + t2*t2)

		ratio := 0.0
		if prered > 0 {
			ratio = actred / prered
		}

		if ratio > p25 {
			if s.par == 0 || ratio >= p75 {
				s.delta = pnorm / p5
				s.par *= p5
			}
		} else {
			temp := p5
			if actred < 0 {
				temp = p5 * dirder / (dirder + p5*actred)
			}
			if p1*fnorm1 >= s.fnorm || temp < p1 {
				temp = p1
			}
			s.delta = temp * math.Min(s.delta, pnorm/p1)
			s.par /= temp
		}

		if log.enable(LogTrace) {
			log.log("  trial %2d  |Ddx|= %12.5e  |f+|= %12.5e  ratio= %12.5e  delta= %12.5e  par= %12.5e\n",
				trial, pnorm, fnorm1, ratio, s.delta, s.par)
		}

		if ratio >= p0001 {
			if err := s.jacobian(s.xTrial, s.fTrial, s.r); err != nil {
				return fail(err)
			}
			s.x.Assign(s.xTrial)
			s.f.Assign(s.fTrial)
			s.J.Assign(s.r)
			s.dx.Assign(s.step)

			s.xnorm = s.x.ScaledNorm(s.diag)
			s.fnorm = fnorm1
			s.iter++

			if !s.noScale {
				s.updateDiag()
			}

			linalg.QRPT(s.r, s.tau, s.perm, s.work)
			s.qtf.Assign(s.f)
			linalg.QTMulVec(s.r, s.tau, s.qtf)

			if log.enable(LogVerbose) {
				log.vec("X ", s.x)
				log.vec("DX", s.dx)
			}
			return StepAccepted, nil
		}

		out := StepAccepted
		switch {
		case math.Abs(actred) <= eps && prered <= eps && p5*ratio <= 1:
			out = StallReduction
		case s.delta <= eps*s.xnorm:
			out = StallRadius
		case gnorm <= eps:
			out = StallGradient
		case trial >= maxTrials:
			out = StepStalled
		}
		if out != StepAccepted {
			s.dx.Assign(s.step)
			return out, nil
		}
	}
}

// updateDiag grows dⱼ to the norm of column j of 𝐉 when that is larger.
func (s *Solver) updateDiag() {
	for j := 0; j < s.n; j++ {
		c := s.J.Col(j).Norm()
		if c == 0 {
			c = 1
		}
		if c > s.diag.At(j) {
			s.diag.Set(j, c)
		}
	}
}

// call runs an objective callback, converting errors and panics into *EvalError.
func (s *Solver) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EvalError{Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err = fn(); err != nil {
		err = &EvalError{Op: op, Err: err}
	}
	return
}

func (s *Solver) residual(x, f dense.Vector) error {
	s.nf++
	return s.call("residual", func() error { return s.obj.Residual(x, f) })
}

// jacobian evaluates 𝐉(x) into jac; f must hold the residual at x.
func (s *Solver) jacobian(x, f dense.Vector, jac dense.Matrix) error {
	s.nj++
	if s.both != nil {
		return s.call("jacobian", func() error { return s.both.Evaluate(x, s.df, jac) })
	}
	if s.der != nil {
		err := s.call("jacobian", func() error { return s.der.Jacobian(x, jac) })
		if !errors.Is(err, errors.ErrUnsupported) {
			return err
		}
		s.der = nil
	}
	return s.call("jacobian", func() error { return s.diff.Jacobian(s.obj.Residual, x, f, jac) })
}

func (s *Solver) evaluate(x, f dense.Vector, jac dense.Matrix) error {
	if s.both != nil {
		s.nf++
		s.nj++
		return s.call("residual", func() error { return s.both.Evaluate(x, f, jac) })
	}
	if err := s.residual(x, f); err != nil {
		return err
	}
	return s.jacobian(x, f, jac)
}

// Position returns a view of the current point x. It must not be modified.
func (s *Solver) Position() dense.Vector { return s.x }

// Residual returns a view of f(x) at the current point. It must not be modified.
func (s *Solver) Residual() dense.Vector { return s.f }

// Jacobian returns a view of 𝐉(x) at the current point. It must not be modified.
func (s *Solver) Jacobian() dense.Matrix { return s.J }

// Step returns a view of the last step dx taken, or tried by an iteration that stalled.
// It is left unchanged by a failed evaluation.
func (s *Solver) Step() dense.Vector { return s.dx }

// Scale returns a view of the scale vector diag(𝐃).
func (s *Solver) Scale() dense.Vector { return s.diag }

// ResidualNorm returns ‖f(x)‖ at the current point.
func (s *Solver) ResidualNorm() float64 { return s.fnorm }

// Radius returns the trust-region radius 𝚫.
func (s *Solver) Radius() float64 { return s.delta }

// Damping returns the last Levenberg-Marquardt parameter λ.
func (s *Solver) Damping() float64 { return s.par }

// Iterations returns the number of accepted steps since Set.
func (s *Solver) Iterations() int { return s.iter }

// Evaluations returns the number of residual and Jacobian evaluations since Set.
// Residual calls made internally by finite differences are not counted.
func (s *Solver) Evaluations() (nf, nj int) { return s.nf, s.nj }

func (s *Solver) State() State { return s.state }

// Err returns the error that moved the solver to Failed.
func (s *Solver) Err() error { return s.err }

// Gradient stores 𝐉ᵀf, the gradient of ½‖f‖², into g.
func (s *Solver) Gradient(g dense.Vector) {
	Gradient(s.J, s.f, g)
}

// TestStep reports whether the last step satisfies |dxᵢ| < epsAbs + epsRel|xᵢ| for every i.
func (s *Solver) TestStep(epsAbs, epsRel float64) (bool, error) {
	return TestDelta(s.dx, s.x, epsAbs, epsRel)
}

// TestGradient reports whether the gradient satisfies ∑|gᵢ| < epsAbs.
func (s *Solver) TestGradient(epsAbs float64) (bool, error) {
	Gradient(s.J, s.f, s.g)
	return TestGradient(s.g, epsAbs)
}

// Covariance returns the covariance estimate (𝐉ᵀ𝐉)⁻¹ at the current point.
func (s *Solver) Covariance(epsrel float64) (dense.Matrix, error) {
	return Covariance(s.J, epsrel)
}
