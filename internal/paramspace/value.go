package paramspace

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the type a parameter value was declared with.
// Values never coerce across kinds: an int stays an int all the way
// into the instantiated script.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "string"
	}
}

// Value is one candidate value for a parameter.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value. Ints widen to float64; strings return 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindFloat:
		return v.f
	default:
		return 0
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool { return v == o }

// String renders the value with its default representation.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	default:
		return v.s
	}
}

// evalArg converts the value for use in a constraint expression.
func (v Value) evalArg() interface{} {
	if v.kind == KindString {
		return v.s
	}
	return v.Float()
}

// valueFromYAML converts a decoded YAML scalar into a typed Value.
func valueFromYAML(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case int:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float64:
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case bool:
		return StringValue(strconv.FormatBool(x)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// formatWith renders the value using an explicit fmt verb, falling back to
// the default representation when no verb is given. String values ignore
// numeric verbs rather than coercing.
func (v Value) formatWith(verb string) string {
	if verb == "" {
		return v.String()
	}
	switch v.kind {
	case KindInt:
		return fmt.Sprintf(verb, v.i)
	case KindFloat:
		return fmt.Sprintf(verb, v.f)
	default:
		return v.s
	}
}

// idToken renders the value for use inside a case identifier. Dots are
// replaced with underscores so identifiers stay filesystem- and
// shell-friendly.
func (v Value) idToken(verb string) string {
	return strings.ReplaceAll(v.formatWith(verb), ".", "_")
}
