package opt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	epsmch = 2.220446049250313e-16
	dwarf  = 2.2250738585072014e-308

	// DefaultXTol is the relative step tolerance used by LevMar
	DefaultXTol = 1.49012e-8
)

// LMStatus is the termination code of a Levenberg-Marquardt run. The values
// follow MINPACK's lmder info codes.
type LMStatus int

const (
	// LMImproperInput invalid settings or problem dimensions.
	LMImproperInput LMStatus = iota
	// LMFTol relative reduction in the sum of squares is at most ftol.
	LMFTol
	// LMXTol relative error between two iterates is at most xtol.
	LMXTol
	// LMFXTol both LMFTol and LMXTol hold.
	LMFXTol
	// LMGTol residuals are orthogonal to the Jacobian columns within gtol.
	LMGTol
	// LMMaxEvaluations evaluation budget exhausted.
	LMMaxEvaluations
	// LMFTolTooSmall no further reduction in the sum of squares is possible.
	LMFTolTooSmall
	// LMXTolTooSmall no further improvement in the solution is possible.
	LMXTolTooSmall
	// LMGTolTooSmall residuals are orthogonal to the Jacobian to machine precision.
	LMGTolTooSmall
)

var lmMessages = map[LMStatus]string{
	LMImproperInput:  "improper input parameters",
	LMFTol:           "both actual and predicted relative reductions in the sum of squares are at most ftol",
	LMXTol:           "relative error between two consecutive iterates is at most xtol",
	LMFXTol:          "both ftol and xtol conditions are satisfied",
	LMGTol:           "the residual vector is orthogonal to the Jacobian columns",
	LMMaxEvaluations: "number of residual evaluations reached the limit",
	LMFTolTooSmall:   "ftol is too small, no further reduction in the sum of squares is possible",
	LMXTolTooSmall:   "xtol is too small, no further improvement in the approximate solution is possible",
	LMGTolTooSmall:   "gtol is too small, the residual vector is orthogonal to the Jacobian to machine precision",
}

// Converged reports whether the status is one of the success codes 1-4
func (s LMStatus) Converged() bool {
	return s >= LMFTol && s <= LMGTol
}

func (s LMStatus) String() string {
	if msg, ok := lmMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// LevMar is a trust-region Levenberg-Marquardt least-squares solver.
type LevMar struct {
	MaxEvaluations int
	Factor         float64   // initial step bound is Factor*||D x|| (or Factor if that is zero)
	FTol           float64
	XTol           float64
	GTol           float64
	Diag           []float64 // fixed positive scaling; nil scales by Jacobian column norms
}

// NewLevMar creates a LevMar solver with MINPACK's default xtol and gtol
func NewLevMar(maxEvals int, factor, ftol float64, diag []float64) *LevMar {
	return &LevMar{
		MaxEvaluations: maxEvals,
		Factor:         factor,
		FTol:           ftol,
		XTol:           DefaultXTol,
		GTol:           0,
		Diag:           diag,
	}
}

// Name implements Solver
func (lm *LevMar) Name() string { return MethodLevMar }

func (lm *LevMar) check(p Problem, x0 []float64) error {
	if err := validate(p, x0); err != nil {
		return err
	}
	if lm.MaxEvaluations <= 0 {
		return errors.New("opt: evaluation budget must be positive")
	}
	if lm.Factor <= 0 {
		return errors.New("opt: step factor must be positive")
	}
	if lm.FTol < 0 || lm.XTol < 0 || lm.GTol < 0 {
		return errors.New("opt: tolerances must be non-negative")
	}
	if lm.Diag != nil {
		if len(lm.Diag) != p.Dim {
			return fmt.Errorf("opt: diagonal scaling has %d entries, want %d", len(lm.Diag), p.Dim)
		}
		for _, d := range lm.Diag {
			if !(d > 0) {
				return errors.New("opt: diagonal scaling entries must be positive")
			}
		}
	}
	return nil
}

// Solve implements Solver. Bounds in p are ignored.
func (lm *LevMar) Solve(p Problem, x0 []float64) (*Result, error) {
	if err := lm.check(p, x0); err != nil {
		return nil, err
	}
	if p.Lower != nil || p.Upper != nil {
		slog.Debug("Levenberg-Marquardt ignores parameter bounds")
	}

	n := p.Dim
	nfev := 0
	eval := func(x []float64) []float64 {
		nfev++
		return p.Residual(x)
	}

	x := append([]float64(nil), x0...)
	fvec := eval(x)
	m := len(fvec)
	if m < n {
		return nil, fmt.Errorf("opt: %d residuals cannot determine %d parameters", m, n)
	}
	fnorm := floats.Norm(fvec, 2)

	diag := make([]float64, n)
	jnorms := make([]float64, n)
	xNew := make([]float64, n)
	var (
		delta, xnorm, par float64
		status            LMStatus
		iter              = 1
	)

outer:
	for {
		var jac *mat.Dense
		if p.Jacobian != nil {
			jac = p.Jacobian(x)
		} else {
			jac = forwardJacobian(eval, x, fvec)
		}
		if r, c := jac.Dims(); r != n || c != m {
			return nil, fmt.Errorf("opt: Jacobian is %dx%d, want %dx%d", r, c, n, m)
		}

		for j := 0; j < n; j++ {
			jnorms[j] = floats.Norm(jac.RawRowView(j), 2)
		}

		if iter == 1 {
			if lm.Diag != nil {
				copy(diag, lm.Diag)
			} else {
				for j, v := range jnorms {
					diag[j] = v
					if v == 0 {
						diag[j] = 1
					}
				}
			}
			xnorm = scaledNorm(diag, x)
			delta = lm.Factor * xnorm
			if delta == 0 {
				delta = lm.Factor
			}
		}

		g := mat.NewVecDense(n, nil)
		g.MulVec(jac, mat.NewVecDense(m, fvec))

		var gnorm float64
		if fnorm != 0 {
			for j := 0; j < n; j++ {
				if jnorms[j] != 0 {
					gnorm = math.Max(gnorm, math.Abs(g.AtVec(j)/(fnorm*jnorms[j])))
				}
			}
		}
		if gnorm <= lm.GTol {
			status = LMGTol
			break
		}

		if lm.Diag == nil {
			for j := range diag {
				diag[j] = math.Max(diag[j], jnorms[j])
			}
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac)

		for {
			var step []float64
			step, par = trustStep(&jtj, g, diag, delta, par)
			pnorm := scaledNorm(diag, step)

			floats.AddTo(xNew, x, step)
			if iter == 1 {
				delta = math.Min(delta, pnorm)
			}

			fNew := eval(xNew)
			fnorm1 := floats.Norm(fNew, 2)

			actred := -1.0
			if 0.1*fnorm1 < fnorm {
				actred = 1 - (fnorm1/fnorm)*(fnorm1/fnorm)
			}

			var jp mat.VecDense
			jp.MulVec(jac.T(), mat.NewVecDense(n, step))
			temp1 := mat.Norm(&jp, 2) / fnorm
			temp2 := math.Sqrt(par) * pnorm / fnorm
			prered := temp1*temp1 + temp2*temp2/0.5
			dirder := -(temp1*temp1 + temp2*temp2)

			var ratio float64
			if prered != 0 {
				ratio = actred / prered
			}

			if ratio <= 0.25 {
				temp := 0.5
				if actred < 0 {
					temp = 0.5 * dirder / (dirder + 0.5*actred)
				}
				if 0.1*fnorm1 >= fnorm || temp < 0.1 {
					temp = 0.1
				}
				delta = temp * math.Min(delta, pnorm/0.1)
				par /= temp
			} else if par == 0 || ratio >= 0.75 {
				delta = pnorm / 0.5
				par *= 0.5
			}

			if ratio >= 1e-4 {
				copy(x, xNew)
				fvec = fNew
				fnorm = fnorm1
				xnorm = scaledNorm(diag, x)
				iter++
			}

			if math.Abs(actred) <= lm.FTol && prered <= lm.FTol && 0.5*ratio <= 1 {
				status = LMFTol
			}
			if delta <= lm.XTol*xnorm {
				if status == LMFTol {
					status = LMFXTol
				} else {
					status = LMXTol
				}
			}
			if status != LMImproperInput {
				break outer
			}

			switch {
			case nfev >= lm.MaxEvaluations:
				status = LMMaxEvaluations
			case math.Abs(actred) <= epsmch && prered <= epsmch && 0.5*ratio <= 1:
				status = LMFTolTooSmall
			case delta <= epsmch*xnorm:
				status = LMXTolTooSmall
			case gnorm <= epsmch:
				status = LMGTolTooSmall
			}
			if status != LMImproperInput {
				break outer
			}

			if ratio >= 1e-4 {
				break
			}
		}
	}

	slog.Debug("Levenberg-Marquardt finished", "status", int(status), "evaluations", nfev, "iterations", iter-1, "norm", fnorm)

	return &Result{
		X:           x,
		Cost:        fnorm * fnorm,
		Success:     status.Converged(),
		Status:      fmt.Sprintf("%d", int(status)),
		Message:     status.String(),
		Iterations:  iter - 1,
		Evaluations: nfev,
	}, nil
}

// trustStep returns a step δ solving (JᵀJ + λD²)δ = -g whose scaled length
// ||Dδ|| is within 10% of delta, or the Gauss-Newton step when that is
// already short enough. It returns the damping λ used.
func trustStep(jtj *mat.SymDense, g *mat.VecDense, diag []float64, delta, par float64) ([]float64, float64) {
	n := len(diag)

	solve := func(lambda float64) (*mat.Cholesky, []float64, bool) {
		a := mat.NewSymDense(n, nil)
		a.CopySym(jtj)
		for j := 0; j < n; j++ {
			a.SetSym(j, j, a.At(j, j)+lambda*diag[j]*diag[j])
		}
		var chol mat.Cholesky
		if !chol.Factorize(a) {
			return nil, nil, false
		}
		var s mat.VecDense
		if err := chol.SolveVecTo(&s, g); err != nil {
			return nil, nil, false
		}
		step := make([]float64, n)
		for j := range step {
			step[j] = -s.AtVec(j)
		}
		return &chol, step, true
	}

	if _, step, ok := solve(0); ok {
		if scaledNorm(diag, step)-delta <= 0.1*delta {
			return step, 0
		}
	}

	var gscaled float64
	for j := 0; j < n; j++ {
		v := g.AtVec(j) / diag[j]
		gscaled += v * v
	}
	gscaled = math.Sqrt(gscaled)

	parl := 0.0
	paru := gscaled / delta
	if paru == 0 {
		paru = dwarf / math.Min(delta, 0.1)
	}
	par = math.Max(par, parl)
	par = math.Min(par, paru)

	var best []float64
	for it := 0; it < 10; it++ {
		if par == 0 {
			par = math.Max(dwarf, 0.001*paru)
		}
		chol, step, ok := solve(par)
		if !ok {
			parl = par
			par = math.Max(2*par, math.Sqrt(parl*paru))
			continue
		}
		best = step

		dxnorm := scaledNorm(diag, step)
		fp := dxnorm - delta
		if math.Abs(fp) <= 0.1*delta {
			break
		}

		// d||Dδ||/dλ = -(uᵀ A⁻¹ u)/||Dδ|| with u = D²δ
		u := mat.NewVecDense(n, nil)
		for j := 0; j < n; j++ {
			u.SetVec(j, diag[j]*diag[j]*step[j])
		}
		var w mat.VecDense
		if err := chol.SolveVecTo(&w, u); err != nil {
			break
		}
		uw := mat.Dot(u, &w)
		if uw <= 0 {
			break
		}

		if fp > 0 {
			parl = math.Max(parl, par)
		} else {
			paru = math.Min(paru, par)
		}
		par = math.Max(parl, par+(fp/delta)*dxnorm*dxnorm/uw)
	}

	if best == nil {
		// steepest descent scaled to the trust region
		best = make([]float64, n)
		if gscaled > 0 {
			for j := range best {
				best[j] = -g.AtVec(j) / (diag[j] * diag[j]) * delta / gscaled
			}
		}
	}
	return best, par
}

func scaledNorm(diag, v []float64) float64 {
	var s float64
	for j, x := range v {
		d := diag[j] * x
		s += d * d
	}
	return math.Sqrt(s)
}
