// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/lmfit/dense"
	"github.com/curioloop/lmfit/numdiff"
)

// Status reports why Fit stopped.
type Status int

const (
	// ConvStep the last step satisfied |dxᵢ| < StepAbsTol + StepRelTol|xᵢ|.
	ConvStep Status = iota + 1
	// ConvGrad the gradient satisfied ∑|(𝐉ᵀf)ᵢ| < GradTolerance.
	ConvGrad
	// ConvZero the residual vanished.
	ConvZero
	// WarnReduction no further reduction of ‖f‖ is possible at machine precision.
	WarnReduction
	// WarnRadius the trust region collapsed at machine precision.
	WarnRadius
	// WarnGradient the scaled gradient vanished at machine precision.
	WarnGradient
	// WarnTrial no acceptable step was found within the trial budget of one iteration.
	WarnTrial
	// OverIterLimit more than max iterations.
	OverIterLimit
	// OverEvalLimit max residual evaluations reached before an iteration.
	OverEvalLimit
	// HaltEvalError the residual or Jacobian evaluation failed.
	HaltEvalError
	// HaltBadInput the initial x is not finite.
	HaltBadInput
)

func (s Status) String() string {
	switch s {
	case ConvStep:
		return "CONVERGENCE: STEP SIZE BELOW TOLERANCE"
	case ConvGrad:
		return "CONVERGENCE: GRADIENT BELOW TOLERANCE"
	case ConvZero:
		return "CONVERGENCE: ZERO RESIDUAL"
	case WarnReduction:
		return "STALL: NO FURTHER REDUCTION IN THE SUM OF SQUARES"
	case WarnRadius:
		return "STALL: TRUST REGION TOO SMALL"
	case WarnGradient:
		return "STALL: GRADIENT ORTHOGONAL TO RESIDUAL"
	case WarnTrial:
		return "ABNORMAL: NO ACCEPTABLE STEP FOUND"
	case OverIterLimit:
		return "STOP: TOTAL NO. OF ITERATIONS REACHED LIMIT"
	case OverEvalLimit:
		return "STOP: TOTAL NO. OF EVALUATIONS REACHED LIMIT"
	case HaltEvalError:
		return "HALT: EVALUATION FAILED"
	case HaltBadInput:
		return "HALT: INITIAL X IS NOT FINITE"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// OK reports whether x is a point the solver cannot improve on.
// The machine-precision stalls count as success: they usually occur at the minimum
// of a problem with a nonzero residual when the tolerances are tighter than achievable.
func (s Status) OK() bool {
	return s >= ConvStep && s <= WarnGradient
}

func statusOf(out Outcome) Status {
	switch out {
	case ZeroResidual:
		return ConvZero
	case StallReduction:
		return WarnReduction
	case StallRadius:
		return WarnRadius
	case StallGradient:
		return WarnGradient
	case StepStalled:
		return WarnTrial
	}
	return 0
}

// Termination specifies the stopping criteria for the fit.
// NaN or zero tolerances disable the corresponding test.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The iteration stop when the number of residual evaluations reaches limit (0 means unlimited).
	// The count is checked between iterations and excludes finite-difference evaluations,
	// so the final iteration may overrun the limit by up to its trial budget.
	MaxEvaluations int
	// The iteration stop when every component of the step satisfied:
	//   |dxᵢ| < 𝚜𝚝𝚎𝚙𝚊𝚋𝚜 + 𝚜𝚝𝚎𝚙𝚛𝚎𝚕 × |xᵢ|
	StepAbsTol, StepRelTol float64
	// The iteration stop when the gradient satisfied:
	//   ∑|(𝐉ᵀf)ᵢ| < 𝚐𝚝𝚘𝚕
	GradTolerance float64
}

// Problem specifies a nonlinear least-squares problem for the Levenberg-Marquardt optimizer.
type Problem struct {
	Object  Objective      // Residual function and optional Jacobian
	Stop    Termination    // Stop condition
	NoScale bool           // Disable adaptive variable scaling
	Diff    numdiff.Method // Finite difference method when Jacobian is absent
	// Columns of R with |rₖₖ| ≤ 𝙲𝚘𝚟𝚊𝚛𝚁𝚎𝚕 × |r₀₀| are treated as dependent when
	// estimating the covariance. NaN means the default 0.
	CovarRel float64
}

// New creates a new Levenberg-Marquardt optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	logger.normalize()

	stop := p.Stop
	for _, tol := range []*float64{&stop.StepAbsTol, &stop.StepRelTol, &stop.GradTolerance} {
		if math.IsNaN(*tol) {
			*tol = 0
		}
	}
	stop.MaxEvaluations = max(stop.MaxEvaluations, 0)
	if stop.MaxEvaluations == 0 {
		stop.MaxEvaluations = math.MaxInt
	}

	covarRel := p.CovarRel
	if math.IsNaN(covarRel) {
		covarRel = 0
	}

	var m, n int
	switch {
	case p.Object == nil:
		err = ErrNoObjective
	case stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 0")
	case stop.StepAbsTol < 0 || stop.StepRelTol < 0:
		err = fmt.Errorf("%w: step tolerance", ErrTolerance)
	case stop.GradTolerance < 0:
		err = fmt.Errorf("%w: gradient tolerance", ErrTolerance)
	case covarRel < 0:
		err = fmt.Errorf("%w: covariance tolerance", ErrTolerance)
	case p.Diff != numdiff.Forward && p.Diff != numdiff.Central:
		err = numdiff.ErrMethod
	default:
		if m, n = p.Object.Dims(); n <= 0 || m < n {
			err = fmt.Errorf("%w: %d residuals and %d parameters", ErrDimension, m, n)
		}
	}

	if err != nil {
		return
	}

	optimizer = &Optimizer{
		m: m, n: n,
		obj:      p.Object,
		stop:     stop,
		noScale:  p.NoScale,
		diff:     p.Diff,
		covarRel: covarRel,
		logger:   *logger,
	}
	return
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	m, n     int
	obj      Objective
	stop     Termination
	noScale  bool
	diff     numdiff.Method
	covarRel float64
	logger   Logger
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the solver stopped at a point it cannot improve on.
	X, F    []float64 // Final solution and residual.
	Norm    float64   // Final residual norm ‖f‖.
	ChiSq   float64   // Final sum of squares ‖f‖².
	Covar   []float64 // Row-major n × n covariance (𝐉ᵀ𝐉)⁻¹, nil when halted.
	Err     error     // Cause of a HaltEvalError or HaltBadInput status.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  Status // Final status after optimization.
	NumIter int    // Number of accepted steps.
	NumEval int    // Number of residual evaluations.
	NumJac  int    // Number of Jacobian evaluations.
}

// Init allocate the solver workspace for the optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Solver {
	s, err := NewSolver(o.m, o.n, SolverOptions{NoScale: o.noScale, Diff: o.diff, Logger: &o.logger})
	if err != nil {
		panic(err) // dimensions were validated by New
	}
	return s
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Solver) *Result {

	if len(x) != o.n {
		panic("initial x dimension not match problem")
	}

	if m, n := w.Dims(); m != o.m || n != o.n {
		panic("workspace dimension not match problem")
	}

	log := &o.logger
	o.printInit(x)

	var (
		status  Status
		haltErr error
	)
	if err := w.Set(o.obj, dense.NewVector(o.n, slices.Clone(x))); err != nil {
		status, haltErr = o.haltOn(err)
	}

	for k := 0; status == 0; {
		if k >= o.stop.MaxIterations {
			status = OverIterLimit
			break
		}
		if nf, _ := w.Evaluations(); nf >= o.stop.MaxEvaluations {
			status = OverEvalLimit
			break
		}

		out, err := w.Iterate()
		k++
		if err != nil {
			status, haltErr = o.haltOn(err)
			break
		}
		o.printIter(k, out, w)

		if status = statusOf(out); status != 0 {
			break
		}
		if ok, _ := w.TestStep(o.stop.StepAbsTol, o.stop.StepRelTol); ok {
			status = ConvStep
		} else if ok, _ = w.TestGradient(o.stop.GradTolerance); ok {
			status = ConvGrad
		}
	}

	nf, nj := w.Evaluations()
	res := &Result{
		OK: status.OK(),
		X:  w.Position().Values(), F: w.Residual().Values(),
		Norm: w.ResidualNorm(),
		Err:  haltErr,
		Summary: Summary{
			Status:  status,
			NumIter: w.Iterations(),
			NumEval: nf,
			NumJac:  nj,
		},
	}
	if status == HaltBadInput {
		res.X = slices.Clone(x)
	}
	res.ChiSq = floats.Dot(res.F, res.F)

	if status < HaltEvalError {
		if c, err := w.Covariance(o.covarRel); err == nil {
			res.Covar = c.RawMatrix().Data
		} else if log.enable(LogLast) {
			log.log("Covariance estimation failed: %v\n", err)
		}
	}

	o.printExit(res)
	return res
}

// haltOn maps a Set or Iterate failure to a status.
func (o *Optimizer) haltOn(err error) (Status, error) {
	if log := &o.logger; log.enable(LogLast) {
		log.log("%v\n", err)
	}
	var evalErr *EvalError
	switch {
	case errors.As(err, &evalErr):
		return HaltEvalError, err
	case errors.Is(err, ErrNotFinite):
		return HaltBadInput, err
	}
	panic(err) // dimensions were validated by New and Fit
}

func (o *Optimizer) printInit(x []float64) {
	log := &o.logger
	if log.enable(LogLast) {
		log.log("RUNNING THE LEVENBERG-MARQUARDT CODE\n")
		log.log("           * * *\n")
		log.log("Machine precision = %10.3e\n", eps)
		log.log("M = %d    N = %d    scaled = %v\n", o.m, o.n, !o.noScale)

		if log.enable(LogEval) {
			log.out("\n   it   nf   nj      |f|        delta        par\n")
			if log.enable(LogVerbose) {
				log.vec("X0", dense.NewVector(len(x), x))
			}
		}
	}
}

func (o *Optimizer) printIter(k int, out Outcome, w *Solver) {
	log := &o.logger
	if log.enable(LogEval) {
		nf, nj := w.Evaluations()
		log.log("At iterate %5d    |f|= %12.5e    delta= %12.5e    %v\n", k, w.ResidualNorm(), w.Radius(), out)
		log.out(" %4d %4d %4d %12.5e %10.3e %10.3e\n", k, nf, nj, w.ResidualNorm(), w.Radius(), w.Damping())
	}
}

func (o *Optimizer) printExit(res *Result) {
	log := &o.logger
	if log.enable(LogLast) {
		log.log("\n           * * *\n\n")
		log.log("Tit   = total number of accepted steps\n")
		log.log("Tnf   = total number of residual evaluations\n")
		log.log("Tnj   = total number of Jacobian evaluations\n")
		log.log("|f|   = final residual norm\n\n")
		log.log("           * * *\n\n")
		log.log("   N    Tit     Tnf     Tnj       |f|\n")
		log.log("%5d %6d %6d %6d   %10.3e\n", o.n, res.NumIter, res.NumEval, res.NumJac, res.Norm)
		log.log("\n%v\n", res.Status)
		if log.enable(LogVerbose) {
			log.vec("X ", dense.NewVector(len(res.X), res.X))
		}
	}
}
