package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/morsefit/internal/opt"
)

// Defaults for the fit command
const (
	DefaultGuess     = "morse.inp"
	DefaultSteps     = 50
	DefaultTrunkSize = 1000
	DefaultFactor    = 0.01
	DefaultTolerance = 1e-8
	DefaultMethod    = opt.MethodLevMar
	DefaultPopSize   = 30
	DefaultSeed      = 42
	DefaultDataDir   = "./data"
)

// Settings holds everything the fit command can be configured with. A YAML
// file provides the base values; command-line flags override them.
type Settings struct {
	Guess      string   `yaml:"guess"`
	Cutoff     *float64 `yaml:"cutoff,omitempty"`
	Steps      int      `yaml:"steps"`
	TrunkSize  int      `yaml:"trunk_size"`
	Factor     float64  `yaml:"factor"`
	Diagonal   string   `yaml:"diagonal,omitempty"`
	Tolerance  float64  `yaml:"tolerance"`
	Method     string   `yaml:"method"`
	NoJacobian bool     `yaml:"no_jacobian"`
	Patience   int      `yaml:"patience"`
	PopSize    int      `yaml:"pop_size"`
	Seed       int64    `yaml:"seed"`
	DataDir    string   `yaml:"data_dir"`
	Plot       bool     `yaml:"plot"`
}

// DefaultSettings returns the settings used when neither a file nor a flag
// sets a value
func DefaultSettings() *Settings {
	return &Settings{
		Guess:     DefaultGuess,
		Steps:     DefaultSteps,
		TrunkSize: DefaultTrunkSize,
		Factor:    DefaultFactor,
		Tolerance: DefaultTolerance,
		Method:    DefaultMethod,
		PopSize:   DefaultPopSize,
		Seed:      DefaultSeed,
		DataDir:   DefaultDataDir,
	}
}

// Load reads a YAML settings file on top of the defaults. Unknown keys are
// rejected.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	s := DefaultSettings()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path as YAML
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks ranges and the method name. The diagonal is checked by
// ParseDiagonal once the parameter count is known.
func (s *Settings) Validate() error {
	var errs []error
	if s.Guess == "" {
		errs = append(errs, errors.New("guess file must be set"))
	}
	if s.Cutoff != nil && !(*s.Cutoff > 0) {
		errs = append(errs, fmt.Errorf("cutoff must be positive, got %g", *s.Cutoff))
	}
	if s.Steps <= 0 {
		errs = append(errs, fmt.Errorf("steps must be positive, got %d", s.Steps))
	}
	if s.TrunkSize <= 0 {
		errs = append(errs, fmt.Errorf("trunk size must be positive, got %d", s.TrunkSize))
	}
	if !(s.Factor > 0) {
		errs = append(errs, fmt.Errorf("factor must be positive, got %g", s.Factor))
	}
	if s.Tolerance < 0 || math.IsNaN(s.Tolerance) {
		errs = append(errs, fmt.Errorf("tolerance must not be negative, got %g", s.Tolerance))
	}
	if s.Patience < 0 {
		errs = append(errs, fmt.Errorf("patience must not be negative, got %d", s.Patience))
	}
	if !slices.Contains(opt.Methods(), s.Method) {
		errs = append(errs, fmt.Errorf("%w: %q (supported: %s)", opt.ErrUnknownMethod, s.Method, strings.Join(opt.Methods(), ", ")))
	}
	if s.Method == opt.MethodMayfly && s.PopSize < 20 {
		errs = append(errs, fmt.Errorf("mayfly population must be at least 20, got %d", s.PopSize))
	}
	return errors.Join(errs...)
}

// ErrDiagonal is wrapped by every ParseDiagonal error
var ErrDiagonal = errors.New("invalid diagonal")

// ParseDiagonal parses a diagonal scaling vector for n parameters. The
// accepted forms are a single positive number, used for every parameter, or
// exactly n positive numbers separated by commas and/or whitespace,
// optionally enclosed in [] or (). Nothing else is evaluated.
func ParseDiagonal(input string, n int) ([]float64, error) {
	s := strings.TrimSpace(input)
	if len(s) >= 2 && ((s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '(' && s[len(s)-1] == ')')) {
		s = s[1 : len(s)-1]
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrDiagonal, input)
	}
	if strings.Count(s, ",") >= len(fields) {
		return nil, fmt.Errorf("%w: %q has an empty element", ErrDiagonal, input)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || strings.HasPrefix(strings.ToLower(strings.TrimLeft(f, "+-")), "0x") {
			return nil, fmt.Errorf("%w: %q is not a number", ErrDiagonal, f)
		}
		if math.IsInf(v, 0) || math.IsNaN(v) || v <= 0 {
			return nil, fmt.Errorf("%w: element %d (%s) must be a positive finite number", ErrDiagonal, i+1, f)
		}
		values[i] = v
	}

	if len(values) == 1 && n > 1 {
		out := make([]float64, n)
		for i := range out {
			out[i] = values[0]
		}
		return out, nil
	}
	if len(values) != n {
		return nil, fmt.Errorf("%w: got %d values for %d parameters", ErrDiagonal, len(values), n)
	}
	return values, nil
}
