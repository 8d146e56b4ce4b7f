package paramspace

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Case is one concrete assignment of a value to every parameter of a space.
// It is immutable once created.
type Case struct {
	id      string
	names   []string // declared parameter order
	values  map[string]Value
	formats map[string]string
}

// ID returns the deterministic case identifier. It encodes the prefix and,
// for every varying parameter, its tag and chosen value; fixed parameters
// are omitted so identifiers stay stable when irrelevant parameters are
// added to the space.
func (c Case) ID() string { return c.id }

// Names returns the parameter names in declared order.
func (c Case) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Value returns the chosen value for a parameter.
func (c Case) Value(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Formatted renders the chosen value for a parameter using the parameter's
// declared format.
func (c Case) Formatted(name string) (string, bool) {
	v, ok := c.values[name]
	if !ok {
		return "", false
	}
	return v.formatWith(c.formats[name]), true
}

// Assignments returns the full name -> formatted value mapping.
func (c Case) Assignments() map[string]string {
	out := make(map[string]string, len(c.names))
	for _, n := range c.names {
		out[n] = c.values[n].formatWith(c.formats[n])
	}
	return out
}

// VaryingNames returns the names of the space's varying parameters, in
// declared order.
func (s *Space) VaryingNames() ([]string, error) {
	params, err := s.resolve()
	if err != nil {
		return nil, err
	}
	var names []string
	for i := range params {
		if params[i].varying() {
			names = append(names, params[i].Name)
		}
	}
	return names, nil
}

// Expand produces the full Cartesian product of the space's candidate
// lists, in declared parameter order, filtered by the space's constraints.
// It is a pure function of the space: expanding the same space twice yields
// identical cases in identical order.
func (s *Space) Expand() ([]Case, error) {
	params, err := s.resolve()
	if err != nil {
		return nil, err
	}
	exprs, err := s.compileConstraints()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(params))
	formats := make(map[string]string, len(params))
	for i := range params {
		names[i] = params[i].Name
		formats[params[i].Name] = params[i].Format
	}

	var cases []Case
	pick := make([]Value, len(params))
	var walk func(depth int) error
	walk = func(depth int) error {
		if depth == len(params) {
			vals := make(map[string]Value, len(params))
			for i, n := range names {
				vals[n] = pick[i]
			}
			ok, err := satisfies(exprs, vals)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			cases = append(cases, Case{
				id:      s.caseID(params, pick),
				names:   names,
				values:  vals,
				formats: formats,
			})
			return nil
		}
		for _, v := range params[depth].candidates {
			pick[depth] = v
			if err := walk(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *Space) caseID(params []resolved, pick []Value) string {
	parts := make([]string, 0, len(params)+1)
	if s.Prefix != "" {
		parts = append(parts, s.Prefix)
	}
	for i := range params {
		if !params[i].varying() {
			continue
		}
		parts = append(parts, params[i].tag()+pick[i].idToken(params[i].Format))
	}
	return strings.Join(parts, "_")
}

func (s *Space) compileConstraints() ([]*govaluate.EvaluableExpression, error) {
	exprs := make([]*govaluate.EvaluableExpression, 0, len(s.Constraints))
	for _, c := range s.Constraints {
		e, err := govaluate.NewEvaluableExpression(c)
		if err != nil {
			return nil, fmt.Errorf("paramspace: constraint %q: %w", c, err)
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func satisfies(exprs []*govaluate.EvaluableExpression, vals map[string]Value) (bool, error) {
	if len(exprs) == 0 {
		return true, nil
	}
	args := make(map[string]interface{}, len(vals))
	for n, v := range vals {
		args[n] = v.evalArg()
	}
	for _, e := range exprs {
		res, err := e.Evaluate(args)
		if err != nil {
			return false, fmt.Errorf("paramspace: evaluating constraint %q: %w", e.String(), err)
		}
		b, ok := res.(bool)
		if !ok {
			return false, fmt.Errorf("paramspace: constraint %q is not boolean", e.String())
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}
