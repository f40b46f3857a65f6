package opt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Problem is a nonlinear least-squares problem over a flat parameter vector.
type Problem struct {
	// Dim is the number of parameters
	Dim int

	// Residual returns the residual vector at x. It must not retain x.
	Residual func(x []float64) []float64

	// Jacobian returns the Dim×M matrix of partial derivatives of the
	// residuals (row = parameter, column = residual). When nil, solvers fall
	// back to finite differences.
	Jacobian func(x []float64) *mat.Dense

	// Lower and Upper are per-parameter bounds; nil or ±Inf means unbounded.
	// Not every solver honours them.
	Lower, Upper []float64
}

// Result is the outcome of one solver invocation
type Result struct {
	X           []float64
	Cost        float64 // sum of squared residuals at X
	Success     bool
	Status      string
	Message     string
	Iterations  int
	Evaluations int // residual evaluations, including finite-difference ones
}

// Solver runs a bounded number of iterations of a nonlinear optimizer
type Solver interface {
	// Name identifies the method
	Name() string

	// Solve starts from x0 and returns the best vector found. A run that
	// stops without converging is not an error; it reports Success=false.
	Solve(p Problem, x0 []float64) (*Result, error)
}

// Settings configures NewSolver. MaxIterations caps one invocation: it is
// the evaluation budget for LMA and the iteration budget for the others.
type Settings struct {
	MaxIterations int
	Tolerance     float64
	Factor        float64   // LMA initial step bound
	Diag          []float64 // LMA diagonal scaling; nil for automatic
	PopSize       int       // Mayfly population
	Seed          int64     // Mayfly random seed
}

// Method names
const (
	MethodLevMar = "LMA"
	MethodMayfly = "Mayfly"
)

// ErrUnknownMethod is returned by NewSolver for unsupported method names
var ErrUnknownMethod = errors.New("unknown optimization method")

// NewSolver returns the solver for the named method
func NewSolver(method string, s Settings) (Solver, error) {
	switch method {
	case MethodLevMar:
		return NewLevMar(s.MaxIterations, s.Factor, s.Tolerance, s.Diag), nil
	case MethodMayfly:
		return NewMayfly(s.MaxIterations, s.PopSize, s.Seed, s.Tolerance), nil
	}
	if _, ok := minimizerMethods[strings.ToLower(method)]; ok {
		return NewMinimizer(method, s.MaxIterations, s.Tolerance), nil
	}
	return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownMethod, method, strings.Join(Methods(), ", "))
}

// Methods lists the supported method names
func Methods() []string {
	return []string{MethodLevMar, "L-BFGS-B", "LBFGS", "BFGS", "CG", "Nelder-Mead", "GD", MethodMayfly}
}

// SumOfSquares returns the squared Euclidean norm of r
func SumOfSquares(r []float64) float64 {
	var sum float64
	for _, v := range r {
		sum += v * v
	}
	return sum
}

// SumOfSquaresGradient writes the gradient of SumOfSquares(residual) into
// grad: grad_j = Σ_i 2 r_i ∂r_i/∂x_j, with jac laid out parameter × residual.
func SumOfSquaresGradient(grad, r []float64, jac *mat.Dense) {
	n, m := jac.Dims()
	if len(grad) != n || len(r) != m {
		panic(fmt.Sprintf("opt: gradient shape mismatch: jac %dx%d, grad %d, residual %d", n, m, len(grad), len(r)))
	}
	for j := 0; j < n; j++ {
		row := jac.RawRowView(j)
		var s float64
		for i, ri := range r {
			s += 2 * ri * row[i]
		}
		grad[j] = s
	}
}

// forwardJacobian approximates the Jacobian by forward differences around x
// given the residual f0 already evaluated there. eval counts evaluations.
func forwardJacobian(eval func([]float64) []float64, x, f0 []float64) *mat.Dense {
	n, m := len(x), len(f0)
	jac := mat.NewDense(n, m, nil)
	step := math.Sqrt(epsmch)
	xh := append([]float64(nil), x...)
	for j := 0; j < n; j++ {
		h := step * math.Abs(x[j])
		if h == 0 {
			h = step
		}
		xh[j] = x[j] + h
		fh := eval(xh)
		xh[j] = x[j]
		row := jac.RawRowView(j)
		for i := range row {
			row[i] = (fh[i] - f0[i]) / h
		}
	}
	return jac
}

func boundVectors(p Problem) (lower, upper []float64) {
	lower = make([]float64, p.Dim)
	upper = make([]float64, p.Dim)
	for i := 0; i < p.Dim; i++ {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
		if p.Lower != nil {
			lower[i] = p.Lower[i]
		}
		if p.Upper != nil {
			upper[i] = p.Upper[i]
		}
	}
	return lower, upper
}

func project(dst, x, lower, upper []float64) {
	for i, v := range x {
		dst[i] = math.Max(lower[i], math.Min(upper[i], v))
	}
}

func validate(p Problem, x0 []float64) error {
	if p.Dim <= 0 {
		return fmt.Errorf("opt: problem dimension must be positive, got %d", p.Dim)
	}
	if len(x0) != p.Dim {
		return fmt.Errorf("opt: initial vector has length %d, want %d", len(x0), p.Dim)
	}
	if p.Residual == nil {
		return errors.New("opt: problem has no residual function")
	}
	if (p.Lower != nil && len(p.Lower) != p.Dim) || (p.Upper != nil && len(p.Upper) != p.Dim) {
		return fmt.Errorf("opt: bounds must have length %d", p.Dim)
	}
	return nil
}
