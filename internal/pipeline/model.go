// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline reads compiled Kubeflow pipeline artifacts and summarises
// their name and typed input parameters.
package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the semantic type of a pipeline parameter.
type Kind int

const (
	// KindString is the fallback for unrecognised and structured types.
	KindString Kind = iota
	// KindInteger holds a signed 64-bit integer.
	KindInteger
	// KindFloat holds a 64-bit floating point number.
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "string"
	}
}

// Value is an immutable parameter value of a single Kind.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{kind: KindInteger, i: v} }

// FloatValue returns a float value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// StringValue returns a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports the kind the value was created with.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload; zero for other kinds.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload; zero for other kinds.
func (v Value) Float() float64 { return v.f }

// Interface returns the payload as int64, float64 or string.
func (v Value) Interface() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	default:
		return v.s
	}
}

// String renders the literal form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	default:
		return v.s
	}
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	default:
		return v.s == o.s
	}
}

// Convert re-expresses the value as kind k. Integers widen to floats, floats
// with no fractional part narrow to integers, numeric strings are parsed and
// every value converts to a string.
func (v Value) Convert(k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	switch k {
	case KindString:
		return StringValue(v.String()), nil
	case KindInteger:
		switch v.kind {
		case KindFloat:
			if v.f != math.Trunc(v.f) || math.IsInf(v.f, 0) || math.IsNaN(v.f) {
				return Value{}, fmt.Errorf("%s is not representable as %s", v.String(), k)
			}
			return IntValue(int64(v.f)), nil
		default:
			i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%q is not representable as %s", v.s, k)
			}
			return IntValue(i), nil
		}
	case KindFloat:
		switch v.kind {
		case KindInteger:
			return FloatValue(float64(v.i)), nil
		default:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
			if err != nil {
				return Value{}, fmt.Errorf("%q is not representable as %s", v.s, k)
			}
			return FloatValue(f), nil
		}
	}
	return Value{}, fmt.Errorf("unknown kind %d", k)
}

// Parameter is a single named pipeline input.
type Parameter struct {
	Name string
	Type Kind
	// Default is nil when the parameter has no default and must be supplied.
	Default *Value
}

// Required reports whether the parameter has no default.
func (p Parameter) Required() bool { return p.Default == nil }

// TypedDefault returns the default converted into the parameter's Type.
// Defaults coerced from a runtime value kind that differs from the declared
// type are converted here; a default that cannot be represented is an error.
func (p Parameter) TypedDefault() (*Value, error) {
	if p.Default == nil {
		return nil, nil
	}
	v, err := p.Default.Convert(p.Type)
	if err != nil {
		return nil, fmt.Errorf("parameter %q default: %w", p.Name, err)
	}
	return &v, nil
}

// Pipeline summarises a compiled pipeline artifact.
type Pipeline struct {
	Name       string
	Parameters []Parameter
}

// Parameter returns the parameter with the given name.
func (p *Pipeline) Parameter(name string) (Parameter, bool) {
	if p == nil {
		return Parameter{}, false
	}
	for _, param := range p.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
