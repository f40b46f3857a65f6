package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/morsefit/internal/opt"
)

// State is the driver lifecycle state
type State int

const (
	Idle State = iota
	Running
	Converged
	StepsExhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Converged:
		return "converged"
	case StepsExhausted:
		return "steps_exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of State.String
func ParseState(s string) (State, error) {
	for st := Idle; st <= StepsExhausted; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Idle, fmt.Errorf("fit: unknown state %q", s)
}

// Options configures a Driver
type Options struct {
	Steps      int       // maximum number of trunks
	TrunkSize  int       // solver iteration/evaluation budget per trunk
	Method     string    // solver name, see opt.Methods
	Factor     float64   // LMA initial step bound
	Diag       []float64 // LMA diagonal scaling; nil for automatic
	Tolerance  float64
	NoJacobian bool // let the solver use finite differences
	PopSize    int  // Mayfly population
	Seed       int64
	Stall      StallConfig

	// TrunkOffset is added to reported trunk indices, for resumed runs
	TrunkOffset int

	// OnTrunk is called after every trunk
	OnTrunk func(TrunkReport)
}

// DefaultOptions returns the command-line defaults
func DefaultOptions() Options {
	return Options{
		Steps:     50,
		TrunkSize: 1000,
		Method:    opt.MethodLevMar,
		Factor:    0.01,
		Tolerance: 1e-8,
		PopSize:   30,
		Seed:      42,
	}
}

// TrunkReport describes the state after one trunk
type TrunkReport struct {
	Trunk       int // 1-based, including TrunkOffset
	Iterations  int // cumulative iteration budget, Trunk × TrunkSize
	Evaluations int // cumulative residue evaluations reported by the solver
	ResidueNorm float64
	Params      []float64
	Success     bool
	Status      string
	Message     string
	Elapsed     time.Duration
}

// Result is the outcome of Driver.Run
type Result struct {
	State       State
	Params      []float64
	InitialNorm float64
	ResidueNorm float64
	Trunks      int
	Evaluations int
	Status      string // last solver status
	Message     string // last solver message or stop reason
	Stalled     bool
	History     []float64 // residue norm after every trunk
}

// Driver runs the selected solver trunk by trunk over an Engine
type Driver struct {
	engine *Engine
	solver opt.Solver
	opts   Options
	state  State
}

// NewDriver validates opts and creates the solver
func NewDriver(engine *Engine, opts Options) (*Driver, error) {
	if engine == nil {
		return nil, errors.New("fit: nil engine")
	}
	if opts.Steps <= 0 {
		return nil, fmt.Errorf("fit: steps must be positive, got %d", opts.Steps)
	}
	if opts.TrunkSize <= 0 {
		return nil, fmt.Errorf("fit: trunk size must be positive, got %d", opts.TrunkSize)
	}
	n, _ := engine.Dims()
	if opts.Diag != nil && len(opts.Diag) != n {
		return nil, fmt.Errorf("fit: diagonal has %d entries, want %d", len(opts.Diag), n)
	}

	solver, err := opt.NewSolver(opts.Method, opt.Settings{
		MaxIterations: opts.TrunkSize,
		Tolerance:     opts.Tolerance,
		Factor:        opts.Factor,
		Diag:          opts.Diag,
		PopSize:       opts.PopSize,
		Seed:          opts.Seed,
	})
	if err != nil {
		return nil, err
	}

	return &Driver{engine: engine, solver: solver, opts: opts, state: Idle}, nil
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return d.state
}

// Problem returns the least-squares problem handed to the solver
func (d *Driver) Problem() opt.Problem {
	n, _ := d.engine.Dims()
	p := opt.Problem{
		Dim:      n,
		Residual: d.engine.Residue,
	}
	if !d.opts.NoJacobian {
		p.Jacobian = d.engine.Jacobian
	}
	if set := d.engine.Set(); set.Bounded() {
		p.Lower, p.Upper = set.BoundVectors()
	}
	return p
}

// Run fits from x0 until a trunk converges, the run stalls, or Steps trunks
// have been run. ctx is checked between trunks; on cancellation the best
// vector so far is returned together with the context error.
func (d *Driver) Run(ctx context.Context, x0 []float64) (*Result, error) {
	if d.state != Idle {
		return nil, fmt.Errorf("fit: driver already used (state %s)", d.state)
	}
	n, m := d.engine.Dims()
	if len(x0) != n {
		return nil, fmt.Errorf("fit: initial vector has length %d, want %d", len(x0), n)
	}

	problem := d.Problem()
	if problem.Lower != nil && d.solver.Name() == opt.MethodLevMar {
		slog.Debug("Bounds are not applied by the LMA solver")
	}

	x := append([]float64(nil), x0...)
	tracker := NewStallTracker(d.opts.Stall)
	res := &Result{
		InitialNorm: floats.Norm(d.engine.Residue(x), 2),
	}

	d.state = Running
	slog.Info("Starting fit",
		"method", d.solver.Name(),
		"parameters", n,
		"configurations", m,
		"steps", d.opts.Steps,
		"trunk_size", d.opts.TrunkSize,
		"initial_norm", res.InitialNorm,
	)

	for step := 0; step < d.opts.Steps; step++ {
		if err := ctx.Err(); err != nil {
			d.state = StepsExhausted
			d.finish(res, x, tracker)
			res.Message = "interrupted"
			return res, fmt.Errorf("fit interrupted after %d trunks: %w", res.Trunks, err)
		}

		start := time.Now()
		sr, err := d.solver.Solve(problem, x)
		if err != nil {
			d.state = StepsExhausted
			return nil, fmt.Errorf("trunk %d: %w", step+1, err)
		}

		// the solver result replaces the vector even without convergence
		x = sr.X
		res.Trunks++
		res.Evaluations += sr.Evaluations
		res.Status = sr.Status
		res.Message = sr.Message
		norm := floats.Norm(d.engine.Residue(x), 2)

		report := TrunkReport{
			Trunk:       d.opts.TrunkOffset + step + 1,
			Iterations:  (d.opts.TrunkOffset + step + 1) * d.opts.TrunkSize,
			Evaluations: res.Evaluations,
			ResidueNorm: norm,
			Params:      append([]float64(nil), x...),
			Success:     sr.Success,
			Status:      sr.Status,
			Message:     sr.Message,
			Elapsed:     time.Since(start),
		}
		slog.Info("Trunk complete",
			"trunk", report.Trunk,
			"iterations", report.Iterations,
			"residue_norm", norm,
			"success", sr.Success,
		)
		if d.opts.OnTrunk != nil {
			d.opts.OnTrunk(report)
		}

		stalled := tracker.Update(norm)

		if sr.Success {
			d.state = Converged
			d.finish(res, x, tracker)
			slog.Info("Fit converged", "trunks", res.Trunks, "residue_norm", res.ResidueNorm, "message", sr.Message)
			return res, nil
		}
		slog.Warn("Trunk did not converge", "trunk", report.Trunk, "status", sr.Status, "message", sr.Message)

		if stalled {
			res.Stalled = true
			break
		}
	}

	d.state = StepsExhausted
	d.finish(res, x, tracker)
	if res.Stalled {
		res.Message = fmt.Sprintf("stalled: no improvement for %d trunks", d.opts.Stall.Patience)
	}
	slog.Warn("Fit did not converge", "trunks", res.Trunks, "residue_norm", res.ResidueNorm, "reason", res.Message)
	return res, nil
}

func (d *Driver) finish(res *Result, x []float64, tracker *StallTracker) {
	res.State = d.state
	res.Params = append([]float64(nil), x...)
	res.ResidueNorm = floats.Norm(d.engine.Residue(x), 2)
	res.History = tracker.History()
}
