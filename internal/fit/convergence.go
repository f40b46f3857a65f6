package fit

import (
	"log/slog"
	"math"
)

// StallConfig defines when a run counts as stalled between trunks
type StallConfig struct {
	// Patience is the number of trunks with no significant improvement of
	// the residue norm before the run is stopped. Zero disables detection.
	Patience int

	// Threshold is the minimum relative improvement required to count as
	// progress: (lastSignificant - norm) / lastSignificant
	Threshold float64
}

// DefaultStallThreshold is used when a patience is given without threshold
const DefaultStallThreshold = 1e-6

// Enabled reports whether stall detection is active
func (c StallConfig) Enabled() bool {
	return c.Patience > 0
}

// StallTracker records the residue norm after every trunk and detects when
// it stops improving
type StallTracker struct {
	config          StallConfig
	history         []float64
	best            float64 // best norm ever seen
	lastSignificant float64 // last norm that was a significant improvement
	staleCount      int     // trunks without significant improvement
}

// NewStallTracker creates a tracker with the given config
func NewStallTracker(config StallConfig) *StallTracker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultStallThreshold
	}
	return &StallTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new residue norm and returns true if the run stalled.
// The history is recorded even when detection is disabled.
func (c *StallTracker) Update(norm float64) bool {
	c.history = append(c.history, norm)
	if norm < c.best {
		c.best = norm
	}

	if !c.config.Enabled() {
		return false
	}

	if len(c.history) == 1 {
		c.lastSignificant = norm
		return false
	}

	var improvement float64
	if c.lastSignificant > 0 {
		improvement = (c.lastSignificant - norm) / c.lastSignificant
	}

	if improvement >= c.config.Threshold {
		c.lastSignificant = norm
		c.staleCount = 0
		slog.Debug("Residue norm improved",
			"norm", norm,
			"relative_improvement", improvement,
		)
		return false
	}

	c.staleCount++
	slog.Debug("No significant residue norm improvement",
		"norm", norm,
		"last_significant", c.lastSignificant,
		"relative_improvement", improvement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience {
		slog.Info("Residue norm stalled - stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_norm", c.best,
		)
		return true
	}
	return false
}

// Best returns the best residue norm seen so far
func (c *StallTracker) Best() float64 {
	return c.best
}

// History returns the residue norm after every trunk
func (c *StallTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the current number of trunks without improvement
func (c *StallTracker) StaleCount() int {
	return c.staleCount
}
