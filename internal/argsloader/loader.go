// SPDX-License-Identifier: AGPL-3.0-or-later
package argsloader

import (
	"fmt"
	"strings"

	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ArgError reports a pipeline parameter flag that could not be bound.
type ArgError struct {
	Arg string
	Msg string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("--%s: %s", e.Arg, e.Msg)
}

// FlagName converts a parameter name into its flag spelling: underscores
// become dashes and surrounding dashes are dropped.
func FlagName(param string) string {
	return strings.Trim(strings.ReplaceAll(param, "_", "-"), "-")
}

// AttachFlags registers one typed flag per pipeline parameter on fs.
// Parameters without a default are marked required.
func AttachFlags(fs *pflag.FlagSet, p *pipeline.Pipeline) error {
	if p == nil {
		return nil
	}
	seen := make(map[string]string, len(p.Parameters))
	for _, param := range p.Parameters {
		name := FlagName(param.Name)
		if name == "" {
			return fmt.Errorf("parameter %q has no usable flag name", param.Name)
		}
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("parameters %q and %q both map to --%s", prev, param.Name, name)
		}
		if fs.Lookup(name) != nil {
			return fmt.Errorf("parameter %q collides with existing flag --%s", param.Name, name)
		}
		seen[name] = param.Name

		def, err := param.TypedDefault()
		if err != nil {
			return err
		}
		usage := "[required]"
		if def != nil {
			usage = fmt.Sprintf("[default: %s]", def.String())
		}

		// zero is what pflag treats as "no default" when rendering usage; the
		// usage text already carries the real default.
		zero := "0"
		switch param.Type {
		case pipeline.KindInteger:
			var v int64
			if def != nil {
				v = def.Int()
			}
			fs.Int64(name, v, usage)
		case pipeline.KindFloat:
			var v float64
			if def != nil {
				v = def.Float()
			}
			fs.Float64(name, v, usage)
		default:
			var v string
			if def != nil {
				v = def.String()
			}
			fs.String(name, v, usage)
			zero = ""
		}
		fs.Lookup(name).DefValue = zero

		if param.Required() {
			_ = cobra.MarkFlagRequired(fs, name)
		}
	}
	return nil
}

// Bind reads the parsed flag values back into an argument map keyed by the
// original parameter names. Every parameter is included, defaults too.
func Bind(fs *pflag.FlagSet, p *pipeline.Pipeline) (map[string]any, error) {
	out := map[string]any{}
	if p == nil {
		return out, nil
	}
	for _, param := range p.Parameters {
		name := FlagName(param.Name)
		f := fs.Lookup(name)
		if f == nil {
			return nil, &ArgError{Arg: name, Msg: "flag not registered"}
		}
		if param.Required() && !f.Changed {
			return nil, &ArgError{Arg: name, Msg: "required"}
		}
		switch param.Type {
		case pipeline.KindInteger:
			v, err := fs.GetInt64(name)
			if err != nil {
				return nil, &ArgError{Arg: name, Msg: err.Error()}
			}
			out[param.Name] = v
		case pipeline.KindFloat:
			v, err := fs.GetFloat64(name)
			if err != nil {
				return nil, &ArgError{Arg: name, Msg: err.Error()}
			}
			out[param.Name] = v
		default:
			v, err := fs.GetString(name)
			if err != nil {
				return nil, &ArgError{Arg: name, Msg: err.Error()}
			}
			out[param.Name] = v
		}
	}
	return out, nil
}

// Parse builds a throwaway flag set for p, parses args into it and binds the
// result.
func Parse(p *pipeline.Pipeline, args []string) (map[string]any, error) {
	fs := NewFlagSet(p.Name)
	if err := AttachFlags(fs, p); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if extra := fs.Args(); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}
	return Bind(fs, p)
}

// NewFlagSet returns a flag set that reports errors instead of exiting.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {}
	return fs
}

// Usage renders the parameter flags for help output.
func Usage(p *pipeline.Pipeline) (string, error) {
	fs := NewFlagSet(p.Name)
	if err := AttachFlags(fs, p); err != nil {
		return "", err
	}
	return fs.FlagUsages(), nil
}
