package store

import (
	"fmt"
	"slices"
	"time"
)

// paramsPerPair mirrors morse.ParamsPerPair; the store only sees flat vectors
const paramsPerPair = 3

// RunConfig is the copy of the fit settings kept with a run, enough to
// rebuild the problem on resume
type RunConfig struct {
	Configurations []string  `json:"configurations"`
	Guess          string    `json:"guess"`
	Cutoff         float64   `json:"cutoff,omitempty"`
	CutoffEnabled  bool      `json:"cutoffEnabled,omitempty"`
	Method         string    `json:"method"`
	Steps          int       `json:"steps"`
	TrunkSize      int       `json:"trunkSize"`
	Factor         float64   `json:"factor"`
	Diag           []float64 `json:"diag,omitempty"`
	Tolerance      float64   `json:"tolerance"`
	NoJacobian     bool      `json:"noJacobian,omitempty"`
	PopSize        int       `json:"popSize,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	Patience       int       `json:"patience,omitempty"`
}

// RunRecord is the persisted state of a fit run. It is rewritten after every
// trunk, so an interrupted run can be resumed from the last vector.
//
// Only the flat parameter vector is kept. Solver internals (LM trust region,
// Mayfly population) are rebuilt on resume, as they are at every trunk
// boundary anyway.
type RunRecord struct {
	RunID string `json:"runId"`

	// Params is the flat parameter vector after the last trunk, three
	// values (De, a, r0) per entry of Pairs
	Params []float64 `json:"params"`

	// Pairs names the entries in vector order, e.g. "He-He"
	Pairs []string `json:"pairs"`

	InitialNorm float64 `json:"initialNorm"`
	ResidueNorm float64 `json:"residueNorm"`

	// Trunk is the number of trunks completed over all sessions
	Trunk       int `json:"trunk"`
	Evaluations int `json:"evaluations"`

	State   string `json:"state"`
	Message string `json:"message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`
}

// RunInfo is the listing view of a run, without the parameter vector
type RunInfo struct {
	RunID          string    `json:"runId"`
	State          string    `json:"state"`
	ResidueNorm    float64   `json:"residueNorm"`
	Trunk          int       `json:"trunk"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	Pairs          int       `json:"pairs"`
	Configurations int       `json:"configurations"`
}

// NewRunRecord creates a record stamped with the current time
func NewRunRecord(runID string, params []float64, pairs []string, config RunConfig) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Params:    params,
		Pairs:     pairs,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a full record to its listing metadata
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:          r.RunID,
		State:          r.State,
		ResidueNorm:    r.ResidueNorm,
		Trunk:          r.Trunk,
		Timestamp:      r.Timestamp,
		Method:         r.Config.Method,
		Pairs:          len(r.Pairs),
		Configurations: len(r.Config.Configurations),
	}
}

// Validate checks that the record is complete and self-consistent
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(r.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if len(r.Params)%paramsPerPair != 0 {
		return &ValidationError{Field: "Params", Reason: "length must be multiple of 3"}
	}
	if len(r.Pairs)*paramsPerPair != len(r.Params) {
		return &ValidationError{
			Field:  "Pairs",
			Reason: fmt.Sprintf("length mismatch: %d pairs for %d parameters", len(r.Pairs), len(r.Params)),
		}
	}
	if r.InitialNorm < 0 {
		return &ValidationError{Field: "InitialNorm", Reason: "cannot be negative"}
	}
	if r.ResidueNorm < 0 {
		return &ValidationError{Field: "ResidueNorm", Reason: "cannot be negative"}
	}
	if r.Trunk < 0 {
		return &ValidationError{Field: "Trunk", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if len(r.Config.Configurations) == 0 {
		return &ValidationError{Field: "Config.Configurations", Reason: "cannot be empty"}
	}
	if r.Config.Guess == "" {
		return &ValidationError{Field: "Config.Guess", Reason: "cannot be empty"}
	}
	if r.Config.Method == "" {
		return &ValidationError{Field: "Config.Method", Reason: "cannot be empty"}
	}
	if r.Config.Steps <= 0 {
		return &ValidationError{Field: "Config.Steps", Reason: "must be positive"}
	}
	if r.Config.TrunkSize <= 0 {
		return &ValidationError{Field: "Config.TrunkSize", Reason: "must be positive"}
	}
	return nil
}

// ValidationError represents an invalid run record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks that a resumed run fits the same problem: the same
// configuration files, guess file and cutoff.
func (r *RunRecord) IsCompatible(config RunConfig) error {
	if !slices.Equal(r.Config.Configurations, config.Configurations) {
		return &CompatibilityError{
			Field:    "Configurations",
			Expected: fmt.Sprint(r.Config.Configurations),
			Actual:   fmt.Sprint(config.Configurations),
		}
	}
	if r.Config.Guess != config.Guess {
		return &CompatibilityError{
			Field:    "Guess",
			Expected: r.Config.Guess,
			Actual:   config.Guess,
		}
	}
	if r.Config.CutoffEnabled != config.CutoffEnabled || r.Config.Cutoff != config.Cutoff {
		return &CompatibilityError{
			Field:    "Cutoff",
			Expected: cutoffString(r.Config),
			Actual:   cutoffString(config),
		}
	}
	return nil
}

func cutoffString(c RunConfig) string {
	if !c.CutoffEnabled {
		return "none"
	}
	return fmt.Sprintf("%g", c.Cutoff)
}

// CompatibilityError represents a run that cannot be resumed with a config.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
