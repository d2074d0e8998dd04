// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/lmfit/dense"
	"github.com/curioloop/lmfit/numdiff"
)

func newSolver(t *testing.T, obj Objective, x0 ...float64) *Solver {
	m, n := obj.Dims()
	s, err := NewSolver(m, n, SolverOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Set(obj, dense.NewVector(n, x0)))
	require.Equal(t, Ready, s.State())
	return s
}

// run iterates until the outcome is not StepAccepted or the step is below tol.
func run(t *testing.T, s *Solver, maxIter int, tol float64) Outcome {
	prev := s.ResidualNorm()
	for k := 0; k < maxIter; k++ {
		out, err := s.Iterate()
		require.NoError(t, err)
		if out != StepAccepted {
			return out
		}
		require.LessOrEqual(t, s.ResidualNorm(), prev, "residual must not grow on an accepted step")
		prev = s.ResidualNorm()
		if ok, err := s.TestStep(tol, tol); err == nil && ok {
			return out
		}
	}
	t.Fatalf("no convergence after %d iterations", maxIter)
	return 0
}

func TestNewSolver(t *testing.T) {
	_, err := NewSolver(2, 0, SolverOptions{})
	require.ErrorIs(t, err, ErrDimension)
	_, err = NewSolver(2, 3, SolverOptions{})
	require.ErrorIs(t, err, ErrDimension)
	_, err = NewSolver(3, 2, SolverOptions{Diff: numdiff.Method(7)})
	require.ErrorIs(t, err, numdiff.ErrMethod)

	s, err := NewSolver(3, 2, SolverOptions{})
	require.NoError(t, err)
	require.Equal(t, Idle, s.State())
	m, n := s.Dims()
	require.Equal(t, 3, m)
	require.Equal(t, 2, n)

	_, err = s.Iterate()
	require.ErrorIs(t, err, ErrNoObjective)
	require.ErrorIs(t, s.Set(nil, dense.NewVector(2, nil)), ErrNoObjective)
}

func TestSetValidation(t *testing.T) {
	obj := newExpModel(10, 2, 0.5, nil)
	s, err := NewSolver(10, 2, SolverOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, s.Set(obj, dense.NewVector(3, nil)), ErrDimension)
	require.ErrorIs(t, s.Set(newExpModel(11, 2, 0.5, nil), dense.NewVector(2, nil)), ErrDimension)
	require.ErrorIs(t, s.Set(obj, dense.NewVector(2, []float64{math.NaN(), 1})), ErrNotFinite)
	require.ErrorIs(t, s.Set(obj, dense.NewVector(2, []float64{1, math.Inf(-1)})), ErrNotFinite)
	require.Equal(t, Idle, s.State())
}

func TestSetInitialState(t *testing.T) {
	obj := newExpModel(10, 2, 0.5, nil)
	s := newSolver(t, obj, 1, 1)

	// 𝐃 is the column norms of 𝐉 at x₀ and 𝚫 = 100‖𝐃x₀‖
	for j := 0; j < 2; j++ {
		require.InDelta(t, s.Jacobian().Col(j).Norm(), s.Scale().At(j), 1e-12)
	}
	require.InDelta(t, 100*s.Position().ScaledNorm(s.Scale()), s.Radius(), 1e-9)
	require.Equal(t, 0, s.Iterations())
	require.Equal(t, 0., s.Step().Norm())
	require.InDelta(t, s.Residual().Norm(), s.ResidualNorm(), 1e-15)

	// zero x₀ falls back to 𝚫 = 100
	require.NoError(t, s.Set(obj, dense.NewVector(2, nil)))
	require.Equal(t, 100., s.Radius())

	// without scaling 𝐃 = 𝐈
	u, err := NewSolver(10, 2, SolverOptions{NoScale: true})
	require.NoError(t, err)
	require.NoError(t, u.Set(obj, dense.NewVector(2, []float64{1, 1})))
	require.Equal(t, []float64{1, 1}, u.Scale().Values())
}

func TestLinearOneStep(t *testing.T) {
	t0 := floats.Span(make([]float64, 12), -1, 1)
	y := make([]float64, len(t0))
	for i, ti := range t0 {
		y[i] = 0.5 - 1.5*ti + 0.1*math.Sin(7*ti)
	}
	obj := lineModel(t0, y)

	// least-squares optimum from gonum
	a := mat.NewDense(len(t0), 2, nil)
	for i, ti := range t0 {
		a.Set(i, 0, 1)
		a.Set(i, 1, ti)
	}
	var want mat.VecDense
	require.NoError(t, want.SolveVec(a, mat.NewVecDense(len(y), y)))

	for _, x0 := range [][]float64{{0, 0}, {3, -2}, {-40, 25}} {
		s := newSolver(t, obj, x0...)
		out, err := s.Iterate()
		require.NoError(t, err)
		require.Equal(t, StepAccepted, out)
		require.Equal(t, 1, s.Iterations())
		require.InDeltaSlice(t, want.RawVector().Data, s.Position().Values(), 1e-10)
		require.Equal(t, 0., s.Damping())
	}
}

func TestExponentialFit(t *testing.T) {
	obj := newExpModel(20, 2, 0.5, nil)
	s := newSolver(t, obj, 1, 1)

	run(t, s, 100, 1e-10)
	require.InDelta(t, 2, s.Position().At(0), 1e-6)
	require.InDelta(t, 0.5, s.Position().At(1), 1e-6)
	require.Less(t, s.ResidualNorm(), 1e-8)

	nf, nj := s.Evaluations()
	require.Equal(t, s.Iterations()+1, nj)
	require.GreaterOrEqual(t, nf, nj)
}

func TestNumericJacobian(t *testing.T) {
	model := newExpModel(20, 2, 0.5, nil)
	for _, method := range []numdiff.Method{numdiff.Forward, numdiff.Central} {
		obj := Func{M: 20, N: 2, F: model.Residual}
		s, err := NewSolver(20, 2, SolverOptions{Diff: method})
		require.NoError(t, err)
		require.NoError(t, s.Set(obj, dense.NewVector(2, []float64{1, 1})))

		run(t, s, 100, 1e-10)
		require.InDelta(t, 2, s.Position().At(0), 1e-5, method.String())
		require.InDelta(t, 0.5, s.Position().At(1), 1e-5, method.String())
	}
}

func TestCombinedEvaluation(t *testing.T) {
	obj := &expCombined{expModel: *newExpModel(20, 2, 0.5, nil)}
	s := newSolver(t, obj, 1, 1)
	require.Equal(t, 1, obj.calls)

	run(t, s, 100, 1e-10)
	require.InDelta(t, 2, s.Position().At(0), 1e-6)
	require.InDelta(t, 0.5, s.Position().At(1), 1e-6)

	// Evaluate is used for every Jacobian, Residual alone for trial points
	_, nj := s.Evaluations()
	require.Equal(t, nj, obj.calls)
}

func TestZeroResidual(t *testing.T) {
	obj := Func{
		M: 2, N: 1,
		F: func(x, f dense.Vector) error {
			f.Set(0, x.At(0)-1)
			f.Set(1, 2*(x.At(0)-1))
			return nil
		},
	}
	s := newSolver(t, obj, 1)
	for k := 0; k < 3; k++ {
		out, err := s.Iterate()
		require.NoError(t, err)
		require.Equal(t, ZeroResidual, out)
		require.Equal(t, Ready, s.State())
		require.Equal(t, []float64{1}, s.Position().Values())
		require.Equal(t, 0, s.Iterations())
	}
}

func TestStepStalled(t *testing.T) {
	// the Jacobian has the wrong sign, so every trial step goes uphill
	obj := Func{
		M: 1, N: 1,
		F: func(x, f dense.Vector) error {
			f.Set(0, x.At(0)-3)
			return nil
		},
		DF: func(_ dense.Vector, jac dense.Matrix) error {
			jac.Set(0, 0, -1)
			return nil
		},
	}
	s := newSolver(t, obj, 0)
	out, err := s.Iterate()
	require.NoError(t, err)
	require.Equal(t, StepStalled, out)
	require.Equal(t, Exhausted, s.State())
	require.Equal(t, []float64{0}, s.Position().Values())
	require.Equal(t, 3., s.ResidualNorm())

	nf, _ := s.Evaluations()
	require.Equal(t, 1+maxTrials, nf)

	_, err = s.Iterate()
	require.ErrorIs(t, err, ErrNotReady)

	// Set restarts from any state
	require.NoError(t, s.Set(obj, dense.NewVector(1, []float64{3})))
	require.Equal(t, Ready, s.State())
}

func TestConvergedIsTerminal(t *testing.T) {
	obj := newExpModel(20, 2, 0.5, func(i int) float64 { return 0.01 * math.Cos(float64(3*i)) })
	s := newSolver(t, obj, 1, 1)

	var out Outcome
	for k := 0; k < 500; k++ {
		var err error
		out, err = s.Iterate()
		require.NoError(t, err)
		if out != StepAccepted {
			break
		}
	}
	// with a nonzero residual the step eventually stalls at machine precision
	require.True(t, out.Converged() || out == StepStalled, out.String())
	if out.Converged() {
		require.Equal(t, Converged, s.State())
	} else {
		require.Equal(t, Exhausted, s.State())
	}

	x := s.Position().Values()
	_, err := s.Iterate()
	require.ErrorIs(t, err, ErrNotReady)
	require.Equal(t, x, s.Position().Values())
}

// snapshot records what a failed Iterate must leave untouched.
type snapshot struct {
	x, f, dx        []float64
	radius, damping float64
	iter            int
}

func takeSnapshot(s *Solver) snapshot {
	return snapshot{
		x: s.Position().Values(), f: s.Residual().Values(), dx: s.Step().Values(),
		radius: s.Radius(), damping: s.Damping(), iter: s.Iterations(),
	}
}

func TestEvalError(t *testing.T) {
	boom := errors.New("boom")
	model := newExpModel(20, 2, 0.5, nil)

	for name, fail := range map[string]func(x, f dense.Vector) error{
		"error": func(x, f dense.Vector) error { return boom },
		"panic": func(x, f dense.Vector) error { panic(boom) },
	} {
		failing := false
		obj := Func{
			M: 20, N: 2,
			F: func(x, f dense.Vector) error {
				if failing {
					return fail(x, f)
				}
				return model.Residual(x, f)
			},
			DF: model.Jacobian,
		}
		s := newSolver(t, obj, 1, 1)
		out, err := s.Iterate()
		require.NoError(t, err, name)
		require.Equal(t, StepAccepted, out, name)
		before := takeSnapshot(s)
		require.NotZero(t, s.Step().Norm(), name)

		failing = true
		_, err = s.Iterate()
		require.Error(t, err, name)
		var evalErr *EvalError
		require.ErrorAs(t, err, &evalErr, name)
		require.Equal(t, "residual", evalErr.Op)
		if name == "error" {
			require.ErrorIs(t, err, boom)
		}
		require.Equal(t, Failed, s.State())
		require.Equal(t, err, s.Err())
		require.Equal(t, before, takeSnapshot(s), name)

		ok, err := s.TestStep(0, 0)
		require.NoError(t, err)
		require.False(t, ok, "the step of the last accepted iteration is still reported")

		_, err = s.Iterate()
		require.ErrorIs(t, err, ErrNotReady)
	}
}

func TestJacobianErrorOnAccept(t *testing.T) {
	boom := errors.New("boom")
	model := newExpModel(20, 2, 0.5, nil)
	failing := false
	obj := Func{
		M: 20, N: 2,
		F: model.Residual,
		DF: func(x dense.Vector, jac dense.Matrix) error {
			if failing {
				return boom
			}
			return model.Jacobian(x, jac)
		},
	}
	s := newSolver(t, obj, 1, 1)
	out, err := s.Iterate()
	require.NoError(t, err)
	require.Equal(t, StepAccepted, out)
	before := takeSnapshot(s)

	failing = true
	_, err = s.Iterate()
	require.ErrorIs(t, err, boom)
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, "jacobian", evalErr.Op)
	require.Equal(t, before, takeSnapshot(s))
	require.Equal(t, 1, s.Iterations())
}

func TestSetPanicRestoresPosition(t *testing.T) {
	model := newExpModel(20, 2, 0.5, nil)
	for _, method := range []numdiff.Method{numdiff.Forward, numdiff.Central} {
		calls := 0
		obj := Func{
			M: 20, N: 2,
			F: func(x, f dense.Vector) error {
				// the first call evaluates f(x₀), later ones are finite differences
				if calls++; calls > 1 {
					panic("residual blew up")
				}
				return model.Residual(x, f)
			},
		}
		s, err := NewSolver(20, 2, SolverOptions{Diff: method})
		require.NoError(t, err)

		err = s.Set(obj, dense.NewVector(2, []float64{1, 1}))
		var evalErr *EvalError
		require.ErrorAs(t, err, &evalErr, method.String())
		require.Equal(t, "jacobian", evalErr.Op)
		require.Equal(t, Failed, s.State())
		require.Equal(t, []float64{1, 1}, s.Position().Values(), method.String())
	}
}

func TestRankOneJacobian(t *testing.T) {
	// f depends on x₀ + x₁ only, so both columns of 𝐉 are equal everywhere
	ts := floats.Span(make([]float64, 8), 0, 1)
	obj := Func{
		M: len(ts), N: 2,
		F: func(x, f dense.Vector) error {
			for i, ti := range ts {
				f.Set(i, math.Exp((x.At(0)+x.At(1))*ti)-math.Exp(0.7*ti))
			}
			return nil
		},
		DF: func(x dense.Vector, jac dense.Matrix) error {
			for i, ti := range ts {
				v := ti * math.Exp((x.At(0)+x.At(1))*ti)
				jac.Set(i, 0, v)
				jac.Set(i, 1, v)
			}
			return nil
		},
	}
	s := newSolver(t, obj, 1, 1)
	for k := 0; k < 100; k++ {
		out, err := s.Iterate()
		require.NoError(t, err)
		if out != StepAccepted {
			break
		}
		if ok, _ := s.TestStep(1e-12, 1e-12); ok {
			break
		}
	}
	require.InDelta(t, 0.7, s.Position().At(0)+s.Position().At(1), 1e-8)

	c, err := s.Covariance(1e-10)
	require.NoError(t, err)
	zeros := 0
	for i := 0; i < 2; i++ {
		if c.At(i, 0) == 0 && c.At(i, 1) == 0 && c.At(0, i) == 0 && c.At(1, i) == 0 {
			zeros++
		}
	}
	require.Equal(t, 1, zeros)
}

func TestSolverGradient(t *testing.T) {
	obj := newExpModel(20, 2, 0.5, nil)
	s := newSolver(t, obj, 1, 1)

	g := dense.NewVector(2, nil)
	s.Gradient(g)
	want := make([]float64, 2)
	j := toMat(s.Jacobian())
	mat.NewVecDense(2, want).MulVec(j.T(), mat.NewVecDense(20, s.Residual().Values()))
	require.InDeltaSlice(t, want, g.Values(), 1e-10)

	ok, err := s.TestGradient(0)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.TestGradient(2 * floats.Norm(want, 1))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.TestGradient(-1)
	require.ErrorIs(t, err, ErrTolerance)
	_, err = s.TestStep(-1, 0)
	require.ErrorIs(t, err, ErrTolerance)
}

func TestSolverTrace(t *testing.T) {
	var buf bytes.Buffer
	obj := newExpModel(20, 2, 0.5, nil)
	s, err := NewSolver(20, 2, SolverOptions{Logger: &Logger{Level: LogVerbose, Msg: &buf}})
	require.NoError(t, err)
	require.NoError(t, s.Set(obj, dense.NewVector(2, []float64{1, 1})))
	_, err = s.Iterate()
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "SET m= 20  n= 2")
	require.Contains(t, out, "trial  1")
	require.Contains(t, out, "ITERATE")
	require.Contains(t, out, "X0 = ")
}
