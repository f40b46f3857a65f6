package structure

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type numberedLine struct {
	n    int
	text string
}

// ReadConfiguration opens and parses a configuration file, then computes
// its interactions with the given cutoff.
func ReadConfiguration(path string, cutoff Cutoff) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{File: path, Err: err}
	}
	defer f.Close()

	return ParseConfiguration(f, path, cutoff)
}

// ParseConfiguration parses a configuration from r. name is used for error
// messages and as the default tag (its base name).
//
// The input is split into blank-line separated sections. The first holds the
// ab-initio energy and an optional tag; each following section is one
// molecule with a "<symbol> <x> <y> <z>" line per atom.
func ParseConfiguration(r io.Reader, name string, cutoff Cutoff) (*Configuration, error) {
	sections, err := splitSections(r, name)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, &FormatError{File: name, Reason: "missing ab-initio energy"}
	}

	header := sections[0]
	energy, err := parseFinite(header[0].text)
	if err != nil {
		return nil, &FormatError{File: name, Line: header[0].n, Text: header[0].text, Reason: "invalid ab-initio energy"}
	}
	tag := filepath.Base(name)
	if len(header) > 1 {
		tag = header[1].text
	}
	if len(header) > 2 {
		return nil, &FormatError{File: name, Line: header[2].n, Text: header[2].text, Reason: "unexpected line in header section"}
	}

	conf := NewConfiguration(name, tag, energy)
	for _, section := range sections[1:] {
		mol := make(Molecule, 0, len(section))
		for _, line := range section {
			atom, err := parseAtom(line.text)
			if err != nil {
				return nil, &FormatError{File: name, Line: line.n, Text: line.text, Reason: err.Error()}
			}
			mol = append(mol, atom)
		}
		conf.AddMolecule(mol)
	}

	n := conf.ComputeInteractions(cutoff)
	if n == 0 {
		slog.Warn("Configuration has no intermolecular interactions", "file", name, "molecules", len(conf.Molecules()))
	}
	slog.Debug("Configuration read", "file", name, "tag", tag, "molecules", len(conf.Molecules()), "interactions", n)
	return conf, nil
}

// splitSections groups non-blank lines; a trailing section without a
// closing blank line is kept.
func splitSections(r io.Reader, name string) ([][]numberedLine, error) {
	var sections [][]numberedLine
	var cur []numberedLine

	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			if len(cur) > 0 {
				sections = append(sections, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, numberedLine{n: n, text: text})
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &FormatError{File: name, Line: n + 1, Reason: "line too long"}
		}
		return nil, &FileAccessError{File: name, Err: err}
	}
	if len(cur) > 0 {
		sections = append(sections, cur)
	}
	return sections, nil
}

func parseAtom(text string) (Atom, error) {
	fields := strings.Fields(text)
	if len(fields) != 4 {
		return Atom{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	atom := Atom{Symbol: fields[0]}
	for i := 0; i < 3; i++ {
		v, err := parseFinite(fields[i+1])
		if err != nil {
			return Atom{}, fmt.Errorf("invalid coordinate %q", fields[i+1])
		}
		atom.Position[i] = v
	}
	return atom, nil
}

// parseFinite parses a float and rejects NaN and infinities
func parseFinite(text string) (float64, error) {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", text)
	}
	return v, nil
}
