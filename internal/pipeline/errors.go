// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaError reports an artifact that matches neither recognised shape.
type SchemaError struct {
	Path string
}

func (e *SchemaError) Error() string { return "invalid schema: " + e.Path }

// UnknownTypeError is returned in strict mode for a declared parameter type
// outside the recognised set.
type UnknownTypeError struct {
	Parameter string
	Type      string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("parameter %q: unknown type %q (expected one of %s)",
		e.Parameter, e.Type, strings.Join(sortedKeys(strictTypeNames), ", "))
}

// UnknownValueKindError is returned in strict mode for a runtime value kind
// outside the recognised set.
type UnknownValueKindError struct {
	Parameter string
	Kind      string
}

func (e *UnknownValueKindError) Error() string {
	return fmt.Sprintf("parameter %q: unknown value kind %q (expected one of %s)",
		e.Parameter, e.Kind, strings.Join(sortedKeys(strictValueKinds), ", "))
}

// CoercionError reports a default value that cannot be parsed as the kind its
// value-kind key demands.
type CoercionError struct {
	Parameter string
	Kind      Kind
	Raw       string
	Err       error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("parameter %q: cannot parse %q as %s", e.Parameter, e.Raw, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return e.Err }

func sortedKeys(m map[string]Kind) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
