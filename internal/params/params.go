package params

import (
	"log/slog"
	"math"

	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/structure"
)

// Bound is an optional limit on one side of a parameter
type Bound struct {
	Value float64
	Set   bool
}

// Unbounded is the absent bound
var Unbounded = Bound{}

// At returns a bound at v
func At(v float64) Bound {
	return Bound{Value: v, Set: true}
}

// Limits holds the lower and upper bound of one parameter
type Limits struct {
	Lower Bound
	Upper Bound
}

// Contains reports whether v lies within the limits
func (l Limits) Contains(v float64) bool {
	if l.Lower.Set && v < l.Lower.Value {
		return false
	}
	if l.Upper.Set && v > l.Upper.Value {
		return false
	}
	return true
}

// Entry is one element pair's initial guess and bounds. Guess and Bounds are
// ordered De, a, r0.
type Entry struct {
	Pair   structure.ElementPair
	Guess  morse.Params
	Bounds [morse.ParamsPerPair]Limits
}

// Set is the ordered list of fitted element pairs. Entry i owns flat-vector
// slice [3i, 3i+3).
type Set struct {
	Entries []Entry
}

// NewSet canonicalizes the pairs of entries and returns them as a Set
func NewSet(entries []Entry) *Set {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Pair = e.Pair.Canonical()
		out[i] = e
	}
	return &Set{Entries: out}
}

// Len returns the number of entries
func (s *Set) Len() int {
	return len(s.Entries)
}

// Dim returns the flat-vector length
func (s *Set) Dim() int {
	return morse.ParamsPerPair * len(s.Entries)
}

// Vector returns the initial guesses as a flat vector
func (s *Set) Vector() []float64 {
	v := make([]float64, 0, s.Dim())
	for _, e := range s.Entries {
		v = append(v, e.Guess.Slice()...)
	}
	return v
}

// BoundVectors expands the bounds into per-parameter lower and upper
// vectors, with -Inf/+Inf for absent bounds.
func (s *Set) BoundVectors() (lower, upper []float64) {
	lower = make([]float64, s.Dim())
	upper = make([]float64, s.Dim())
	for i, e := range s.Entries {
		for j, l := range e.Bounds {
			k := i*morse.ParamsPerPair + j
			lower[k] = math.Inf(-1)
			upper[k] = math.Inf(1)
			if l.Lower.Set {
				lower[k] = l.Lower.Value
			}
			if l.Upper.Set {
				upper[k] = l.Upper.Value
			}
		}
	}
	return lower, upper
}

// Bounded reports whether any parameter has a bound
func (s *Set) Bounded() bool {
	for _, e := range s.Entries {
		for _, l := range e.Bounds {
			if l.Lower.Set || l.Upper.Set {
				return true
			}
		}
	}
	return false
}

// Resolve returns the flat-vector base offset for pair. The pair is
// canonicalized first. If several entries match, a warning is logged and the
// first one wins.
func (s *Set) Resolve(pair structure.ElementPair) (int, error) {
	pair = pair.Canonical()
	found := -1
	matches := 0
	for i, e := range s.Entries {
		if e.Pair != pair {
			continue
		}
		if found < 0 {
			found = i
		}
		matches++
	}
	if found < 0 {
		return 0, &MissingGuessError{Pair: pair}
	}
	if matches > 1 {
		slog.Warn("Multiple guesses given for element pair, using the first", "pair", pair.String(), "count", matches)
	}
	return found * morse.ParamsPerPair, nil
}

// Duplicates lists the pairs that appear more than once, in first-seen order
func (s *Set) Duplicates() []structure.ElementPair {
	seen := make(map[structure.ElementPair]int, len(s.Entries))
	var dups []structure.ElementPair
	for _, e := range s.Entries {
		seen[e.Pair]++
		if seen[e.Pair] == 2 {
			dups = append(dups, e.Pair)
		}
	}
	return dups
}

// GuessesOutsideBounds lists the pairs whose initial guess violates one of
// their own bounds
func (s *Set) GuessesOutsideBounds() []structure.ElementPair {
	var out []structure.ElementPair
	for _, e := range s.Entries {
		guess := e.Guess.Slice()
		for j, l := range e.Bounds {
			if !l.Contains(guess[j]) {
				out = append(out, e.Pair)
				break
			}
		}
	}
	return out
}

// Params returns entry i's parameters from the flat vector x
func (s *Set) Params(x []float64, i int) morse.Params {
	return morse.FromSlice(x[i*morse.ParamsPerPair:])
}

// ErrMissingGuess matches any *MissingGuessError via errors.Is
var ErrMissingGuess = &MissingGuessError{}

// MissingGuessError is returned when an element pair used by a configuration
// has no entry in the guess list.
type MissingGuessError struct {
	Pair structure.ElementPair
}

func (e *MissingGuessError) Error() string {
	if e.Pair == (structure.ElementPair{}) {
		return "missing Morse parameter guess"
	}
	return "no Morse parameter guess given for " + e.Pair.First + " and " + e.Pair.Second
}

func (e *MissingGuessError) Is(target error) bool {
	_, ok := target.(*MissingGuessError)
	return ok
}
