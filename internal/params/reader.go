package params

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/structure"
)

const (
	fieldsWithoutBounds = 5
	fieldsWithBounds    = 11
)

// ReadGuess opens and parses a guess file
func ReadGuess(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &structure.FileAccessError{File: path, Err: err}
	}
	defer f.Close()

	return ParseGuess(f, path)
}

// ParseGuess reads one potential per line:
//
//	<sym1> <sym2> <De> <a> <r0> [De_lo De_hi a_lo a_hi r0_lo r0_hi]
//
// Blank lines and lines starting with '#' are skipped. A bound is a float or
// one of the unbounded sentinels None, none, unbounded and "-".
func ParseGuess(r io.Reader, name string) (*Set, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entry, err := parseEntry(text)
		if err != nil {
			return nil, &structure.FormatError{File: name, Line: n, Text: text, Reason: err.Error()}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &structure.FormatError{File: name, Line: n + 1, Reason: "line too long"}
		}
		return nil, &structure.FileAccessError{File: name, Err: err}
	}

	set := NewSet(entries)
	for _, p := range set.Duplicates() {
		slog.Warn("Duplicate guess for element pair, the first entry is used", "file", name, "pair", p.String())
	}
	for _, p := range set.GuessesOutsideBounds() {
		slog.Warn("Initial guess lies outside its bounds", "file", name, "pair", p.String())
	}
	slog.Debug("Guess file read", "file", name, "pairs", set.Len())
	return set, nil
}

func parseEntry(text string) (Entry, error) {
	fields := strings.Fields(text)
	if len(fields) != fieldsWithoutBounds && len(fields) != fieldsWithBounds {
		return Entry{}, fmt.Errorf("expected %d or %d fields, got %d", fieldsWithoutBounds, fieldsWithBounds, len(fields))
	}

	var guess [morse.ParamsPerPair]float64
	for i := range guess {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Entry{}, fmt.Errorf("invalid number %q", fields[2+i])
		}
		guess[i] = v
	}

	entry := Entry{
		Pair:  structure.NewElementPair(fields[0], fields[1]),
		Guess: morse.FromSlice(guess[:]),
	}
	if len(fields) == fieldsWithoutBounds {
		return entry, nil
	}

	for i := range entry.Bounds {
		lo, err := parseBound(fields[fieldsWithoutBounds+2*i])
		if err != nil {
			return Entry{}, err
		}
		hi, err := parseBound(fields[fieldsWithoutBounds+2*i+1])
		if err != nil {
			return Entry{}, err
		}
		if lo.Set && hi.Set && lo.Value > hi.Value {
			return Entry{}, fmt.Errorf("lower bound %g exceeds upper bound %g", lo.Value, hi.Value)
		}
		entry.Bounds[i] = Limits{Lower: lo, Upper: hi}
	}
	return entry, nil
}

// parseBound accepts a float or an unbounded sentinel; infinities are
// treated as unbounded
func parseBound(tok string) (Bound, error) {
	switch tok {
	case "None", "none", "unbounded", "-":
		return Unbounded, nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(v) {
		return Bound{}, fmt.Errorf("invalid bound %q", tok)
	}
	if math.IsInf(v, 0) {
		return Unbounded, nil
	}
	return At(v), nil
}
