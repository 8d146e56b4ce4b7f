// Package paramspace declares a simulation parameter space and expands it
// into concrete, uniquely named sweep cases.
//
// A space is an ordered list of parameters, each contributing one or more
// candidate values: a fixed scalar, an explicit list, a numeric range, a
// range anchored to another parameter, or an element-wise offset of another
// parameter's candidates. Expansion takes the Cartesian product in declared
// order, so re-running on an unchanged file reproduces the same cases with
// the same identifiers.
package paramspace

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptySpace is returned when a space declares no parameters.
	ErrEmptySpace = errors.New("paramspace: no parameters declared")
	// ErrNoCandidates is returned when a parameter resolves to zero values.
	ErrNoCandidates = errors.New("paramspace: parameter has no candidate values")
	// ErrDuplicateParam is returned when two parameters share a name.
	ErrDuplicateParam = errors.New("paramspace: duplicate parameter name")
	// ErrUnknownBase is returned when a derived parameter references a
	// parameter that is not declared before it.
	ErrUnknownBase = errors.New("paramspace: unknown base parameter")
	// ErrBadParam is returned when a parameter declares no value source,
	// or more than one.
	ErrBadParam = errors.New("paramspace: parameter needs exactly one of value, values, range, offset")
)

// Range describes a half-open numeric range [Start, Stop) stepped by Step.
// When Base is set, Start and Stop are offsets relative to the first
// candidate of the named base parameter.
type Range struct {
	Start       float64 `yaml:"start"`
	Stop        float64 `yaml:"stop"`
	Step        float64 `yaml:"step"`
	Base        string  `yaml:"base"`
	StartOffset float64 `yaml:"start_offset"`
	StopOffset  float64 `yaml:"stop_offset"`
}

// Offset derives candidates by adding By to every candidate of Base.
type Offset struct {
	Base string  `yaml:"base"`
	By   float64 `yaml:"by"`
}

// Param is one parameter of the space. Exactly one of Value, Values, Range
// or Offset must be set.
type Param struct {
	Name   string        `yaml:"name"`
	Tag    string        `yaml:"tag"`    // identifier abbreviation, defaults to Name
	Format string        `yaml:"format"` // optional fmt verb for rendering, e.g. "%.1f"
	Value  interface{}   `yaml:"value"`
	Values []interface{} `yaml:"values"`
	Range  *Range        `yaml:"range"`
	Offset *Offset       `yaml:"offset"`
}

// Space is a declarative parameter space.
type Space struct {
	// Prefix starts every case identifier, e.g. "vHpdV".
	Prefix string `yaml:"prefix"`
	// Params are expanded in declared order.
	Params []Param `yaml:"parameters"`
	// Constraints are boolean expressions over parameter names; a
	// combination is kept only if every expression evaluates true.
	Constraints []string `yaml:"constraints"`
}

// Load reads a parameter space from a YAML file.
func Load(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Space
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("paramspace: parsing %s: %w", path, err)
	}
	return &s, nil
}

func (p *Param) tag() string {
	if p.Tag != "" {
		return p.Tag
	}
	return p.Name
}

func (p *Param) sourceCount() int {
	n := 0
	if p.Value != nil {
		n++
	}
	if p.Values != nil {
		n++
	}
	if p.Range != nil {
		n++
	}
	if p.Offset != nil {
		n++
	}
	return n
}

// resolved is a parameter with its candidate list materialized.
type resolved struct {
	Param
	candidates []Value
}

// Varying reports whether the parameter contributes more than one candidate.
func (r *resolved) varying() bool { return len(r.candidates) > 1 }

// resolve materializes every parameter's candidate list, in order. Derived
// parameters (range-with-base, offset) may only reference parameters
// declared before them.
func (s *Space) resolve() ([]resolved, error) {
	if len(s.Params) == 0 {
		return nil, ErrEmptySpace
	}
	byName := make(map[string]*resolved, len(s.Params))
	out := make([]resolved, 0, len(s.Params))
	for i := range s.Params {
		p := s.Params[i]
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter %d has no name", ErrBadParam, i)
		}
		if _, ok := byName[p.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateParam, p.Name)
		}
		if p.sourceCount() != 1 {
			return nil, fmt.Errorf("%w: %q", ErrBadParam, p.Name)
		}
		cands, err := candidatesFor(&p, byName)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoCandidates, p.Name)
		}
		out = append(out, resolved{Param: p, candidates: cands})
		byName[p.Name] = &out[len(out)-1]
	}
	return out, nil
}

func candidatesFor(p *Param, prior map[string]*resolved) ([]Value, error) {
	switch {
	case p.Value != nil:
		v, err := valueFromYAML(p.Value)
		if err != nil {
			return nil, fmt.Errorf("paramspace: %q: %w", p.Name, err)
		}
		return []Value{v}, nil

	case p.Values != nil:
		vals := make([]Value, 0, len(p.Values))
		for _, raw := range p.Values {
			v, err := valueFromYAML(raw)
			if err != nil {
				return nil, fmt.Errorf("paramspace: %q: %w", p.Name, err)
			}
			vals = append(vals, v)
		}
		return vals, nil

	case p.Range != nil:
		r := *p.Range
		if r.Base != "" {
			base, ok := prior[r.Base]
			if !ok {
				return nil, fmt.Errorf("%w: %q references %q", ErrUnknownBase, p.Name, r.Base)
			}
			anchor := base.candidates[0].Float()
			r.Start = anchor + r.StartOffset
			r.Stop = anchor + r.StopOffset
		}
		return stepRange(p.Name, r)

	default: // p.Offset != nil
		base, ok := prior[p.Offset.Base]
		if !ok {
			return nil, fmt.Errorf("%w: %q references %q", ErrUnknownBase, p.Name, p.Offset.Base)
		}
		vals := make([]Value, len(base.candidates))
		for i, b := range base.candidates {
			vals[i] = numericValue(b.Float() + p.Offset.By)
		}
		return vals, nil
	}
}

func stepRange(name string, r Range) ([]Value, error) {
	if r.Step <= 0 {
		return nil, fmt.Errorf("paramspace: %q: range step must be positive", name)
	}
	if r.Stop <= r.Start {
		return nil, fmt.Errorf("%w: %q: empty range [%v, %v)", ErrNoCandidates, name, r.Start, r.Stop)
	}
	// A range declared entirely with whole numbers yields ints; anything
	// else yields floats. The kind is fixed for the whole candidate list.
	integral := isWhole(r.Start) && isWhole(r.Stop) && isWhole(r.Step)
	var vals []Value
	for i := 0; ; i++ {
		x := r.Start + float64(i)*r.Step
		if x >= r.Stop-1e-12 {
			break
		}
		if integral {
			vals = append(vals, IntValue(int64(math.Round(x))))
		} else {
			// Round accumulated float error away so candidates print
			// the way the range was declared (0.6, not 0.6000000000000001).
			vals = append(vals, FloatValue(math.Round(x*1e9)/1e9))
		}
	}
	return vals, nil
}

func isWhole(f float64) bool { return f == math.Trunc(f) }

// numericValue keeps whole numbers as ints so derived candidates print the
// way the source parameters were declared.
func numericValue(f float64) Value {
	if isWhole(f) && math.Abs(f) < 1e15 {
		return IntValue(int64(f))
	}
	return FloatValue(f)
}
