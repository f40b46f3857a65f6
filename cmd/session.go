package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/morsefit/internal/config"
	"github.com/cwbudde/morsefit/internal/fit"
	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/params"
	"github.com/cwbudde/morsefit/internal/report"
	"github.com/cwbudde/morsefit/internal/store"
	"github.com/cwbudde/morsefit/internal/structure"
)

// fitSession is one invocation of the driver over a loaded problem, with
// optional persistence of the run
type fitSession struct {
	settings  *config.Settings
	confs     []*structure.Configuration
	set       *params.Set
	engine    *fit.Engine
	diag      []float64
	runConfig store.RunConfig
	out       io.Writer

	runID      string
	store      *store.FSStore // nil when persistence is off
	record     *store.RunRecord
	trace      *store.TraceWriter
	priorEvals int
}

func cutoffOf(s *config.Settings) structure.Cutoff {
	if s.Cutoff == nil {
		return structure.NoCutoff
	}
	return structure.WithCutoff(*s.Cutoff)
}

// newSession reads the configurations and the guess file and builds the
// engine. Any missing pair fails here, before a solver is created.
func newSession(s *config.Settings, confPaths []string, out io.Writer) (*fitSession, error) {
	if len(confPaths) == 0 {
		return nil, fmt.Errorf("no configuration files given")
	}
	cutoff := cutoffOf(s)

	confs := make([]*structure.Configuration, 0, len(confPaths))
	for _, path := range confPaths {
		c, err := structure.ReadConfiguration(path, cutoff)
		if err != nil {
			return nil, err
		}
		confs = append(confs, c)
	}
	slog.Info("Loaded configurations", "count", len(confs), "cutoff", cutoff.Enabled)

	set, err := params.ReadGuess(s.Guess)
	if err != nil {
		return nil, err
	}

	engine, err := fit.NewEngine(confs, set, morse.Default)
	if err != nil {
		return nil, err
	}

	var diag []float64
	if s.Diagonal != "" {
		diag, err = config.ParseDiagonal(s.Diagonal, set.Dim())
		if err != nil {
			return nil, err
		}
	}

	rc, err := runConfigOf(s, confPaths, diag)
	if err != nil {
		return nil, err
	}

	return &fitSession{
		settings:  s,
		confs:     confs,
		set:       set,
		engine:    engine,
		diag:      diag,
		runConfig: rc,
		out:       out,
	}, nil
}

// runConfigOf records the settings with absolute paths so a run can be
// resumed from another directory
func runConfigOf(s *config.Settings, confPaths []string, diag []float64) (store.RunConfig, error) {
	abs := make([]string, len(confPaths))
	for i, p := range confPaths {
		a, err := filepath.Abs(p)
		if err != nil {
			return store.RunConfig{}, fmt.Errorf("resolve %s: %w", p, err)
		}
		abs[i] = a
	}
	guess, err := filepath.Abs(s.Guess)
	if err != nil {
		return store.RunConfig{}, fmt.Errorf("resolve %s: %w", s.Guess, err)
	}

	rc := store.RunConfig{
		Configurations: abs,
		Guess:          guess,
		Method:         s.Method,
		Steps:          s.Steps,
		TrunkSize:      s.TrunkSize,
		Factor:         s.Factor,
		Diag:           diag,
		Tolerance:      s.Tolerance,
		NoJacobian:     s.NoJacobian,
		PopSize:        s.PopSize,
		Seed:           s.Seed,
		Patience:       s.Patience,
	}
	if s.Cutoff != nil {
		rc.CutoffEnabled = true
		rc.Cutoff = *s.Cutoff
	}
	return rc, nil
}

// settingsOf is the inverse of runConfigOf
func settingsOf(rc store.RunConfig, dataDir string) *config.Settings {
	s := config.DefaultSettings()
	s.Guess = rc.Guess
	s.Method = rc.Method
	s.Steps = rc.Steps
	s.TrunkSize = rc.TrunkSize
	s.Factor = rc.Factor
	s.Tolerance = rc.Tolerance
	s.NoJacobian = rc.NoJacobian
	s.PopSize = rc.PopSize
	s.Seed = rc.Seed
	s.Patience = rc.Patience
	s.DataDir = dataDir
	if rc.CutoffEnabled {
		c := rc.Cutoff
		s.Cutoff = &c
	}
	if len(rc.Diag) > 0 {
		parts := make([]string, len(rc.Diag))
		for i, v := range rc.Diag {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		s.Diagonal = strings.Join(parts, ",")
	}
	return s
}

func (fs *fitSession) pairNames() []string {
	names := make([]string, fs.set.Len())
	for i, e := range fs.set.Entries {
		names[i] = e.Pair.String()
	}
	return names
}

func (fs *fitSession) options() fit.Options {
	s := fs.settings
	return fit.Options{
		Steps:      s.Steps,
		TrunkSize:  s.TrunkSize,
		Method:     s.Method,
		Factor:     s.Factor,
		Diag:       fs.diag,
		Tolerance:  s.Tolerance,
		NoJacobian: s.NoJacobian,
		PopSize:    s.PopSize,
		Seed:       s.Seed,
		Stall:      fit.StallConfig{Patience: s.Patience},
	}
}

// openStore enables persistence under the settings' data directory. prior
// is the record of a resumed run, nil for a new one.
func (fs *fitSession) openStore(runID string, prior *store.RunRecord) error {
	if fs.settings.DataDir == "" {
		return nil
	}
	st, err := store.NewFSStore(fs.settings.DataDir)
	if err != nil {
		return err
	}
	trace, err := store.NewTraceWriter(st.BaseDir(), runID, prior != nil)
	if err != nil {
		return err
	}

	record := prior
	if record == nil {
		record = store.NewRunRecord(runID, fs.set.Vector(), fs.pairNames(), fs.runConfig)
		record.InitialNorm = residueNorm(fs.engine, record.Params)
		record.ResidueNorm = record.InitialNorm
	} else {
		fs.priorEvals = record.Evaluations
	}
	record.State = fit.Running.String()
	record.Config = fs.runConfig

	fs.runID = runID
	fs.store = st
	fs.record = record
	fs.trace = trace
	return fs.save()
}

func (fs *fitSession) save() error {
	fs.record.Timestamp = time.Now()
	return fs.store.SaveRun(fs.runID, fs.record)
}

func (fs *fitSession) close() {
	if fs.trace != nil {
		if err := fs.trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "run_id", fs.runID, "error", err)
		}
	}
}

func (fs *fitSession) onTrunk(r fit.TrunkReport) {
	fmt.Fprintln(fs.out, report.TrunkLine(r))
	if err := report.ParameterTable(fs.out, fs.set, r.Params); err != nil {
		slog.Warn("Failed to print parameters", "error", err)
	}
	fmt.Fprintln(fs.out)

	if fs.store == nil {
		return
	}
	entry := store.TraceEntry{
		Trunk:       r.Trunk,
		Iterations:  r.Iterations,
		Evaluations: fs.priorEvals + r.Evaluations,
		ResidueNorm: r.ResidueNorm,
		Success:     r.Success,
		Status:      r.Status,
		Timestamp:   time.Now(),
		Params:      r.Params,
	}
	err := fs.trace.Write(entry)
	if err == nil {
		err = fs.trace.Flush()
	}
	if err != nil {
		slog.Warn("Failed to write trace entry", "run_id", fs.runID, "error", err)
	}

	fs.record.Params = r.Params
	fs.record.ResidueNorm = r.ResidueNorm
	fs.record.Trunk = r.Trunk
	fs.record.Evaluations = entry.Evaluations
	fs.record.Message = r.Message
	if err := fs.save(); err != nil {
		slog.Warn("Failed to save run", "run_id", fs.runID, "error", err)
	}
}

// run drives the fit from x0 and prints the final report. trunkOffset is
// the number of trunks already completed by earlier sessions.
func (fs *fitSession) run(ctx context.Context, x0 []float64, trunkOffset int) (*fit.Result, error) {
	opts := fs.options()
	opts.TrunkOffset = trunkOffset
	opts.OnTrunk = fs.onTrunk

	driver, err := fit.NewDriver(fs.engine, opts)
	if err != nil {
		return nil, err
	}

	res, runErr := driver.Run(ctx, x0)
	if res == nil {
		return nil, runErr
	}

	if fs.store != nil {
		fs.record.Params = res.Params
		fs.record.ResidueNorm = res.ResidueNorm
		fs.record.Trunk = trunkOffset + res.Trunks
		fs.record.Evaluations = fs.priorEvals + res.Evaluations
		fs.record.State = res.State.String()
		fs.record.Message = res.Message
		if err := fs.save(); err != nil {
			slog.Warn("Failed to save run", "run_id", fs.runID, "error", err)
		}
	}

	if err := fs.printResult(res); err != nil {
		return res, err
	}
	return res, runErr
}

func (fs *fitSession) printResult(res *fit.Result) error {
	out := fs.out
	fmt.Fprintln(out, report.Heading("Result"))
	report.Summary(out, res)
	if fs.runID != "" {
		fmt.Fprintf(out, "run id:       %s\n", fs.runID)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, report.Heading("Energies"))
	if err := report.ComparisonTable(out, fs.confs, fs.engine.Energies(res.Params)); err != nil {
		return err
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, report.Heading("Parameters"))
	if err := report.ParameterTable(out, fs.set, res.Params); err != nil {
		return err
	}

	if fs.settings.Plot {
		if graph := report.Plot(res.History); graph != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, graph)
		}
	}
	return nil
}

func residueNorm(e *fit.Engine, x []float64) float64 {
	return floats.Norm(e.Residue(x), 2)
}
