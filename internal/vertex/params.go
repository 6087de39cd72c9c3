// SPDX-License-Identifier: AGPL-3.0-or-later

package vertex

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/yamlnode"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// parameterValues merges, in increasing precedence, the extracted defaults,
// the template's untagged parameterValues and the caller's values. As in the
// extractor, a tagged runtimeConfig.parameters entry wins over parameterValues;
// the untagged values are otherwise taken as decoded so lists and structs
// keep their shape.
func parameterValues(decl *pipeline.Pipeline, runtime *yaml.Node, user map[string]any) (map[string]*structpb.Value, error) {
	merged := make(map[string]any, len(decl.Parameters))
	for _, p := range decl.Parameters {
		if p.Default != nil {
			merged[p.Name] = p.Default.Interface()
		}
	}
	tagged, _ := yamlnode.Lookup(runtime, "parameters")
	if node, ok := yamlnode.Lookup(runtime, "parameterValues"); ok && yamlnode.IsMapping(node) {
		var tmpl map[string]any
		if err := node.Decode(&tmpl); err != nil {
			return nil, fmt.Errorf("runtimeConfig.parameterValues: %w", err)
		}
		for k, v := range tmpl {
			if t, ok := yamlnode.Lookup(tagged, k); ok && yamlnode.IsMapping(t) && len(t.Content) > 0 {
				continue
			}
			merged[k] = v
		}
	}
	for k, v := range user {
		if pv, ok := v.(pipeline.Value); ok {
			v = pv.Interface()
		}
		merged[k] = v
	}

	out := make(map[string]*structpb.Value, len(merged))
	for k, v := range merged {
		sv, err := structpb.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

// typedParameters renders every parameter that has a value as the typed
// Value of its declared kind.
func typedParameters(decl *pipeline.Pipeline, user map[string]any) (map[string]*aiplatformpb.Value, error) {
	out := make(map[string]*aiplatformpb.Value, len(decl.Parameters))
	for _, p := range decl.Parameters {
		var v pipeline.Value
		if raw, ok := user[p.Name]; ok {
			uv, err := toValue(raw)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			v = uv
		} else if p.Default != nil {
			v = *p.Default
		} else {
			continue
		}
		converted, err := v.Convert(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		out[p.Name] = typedValue(converted)
	}
	return out, nil
}

func toValue(v any) (pipeline.Value, error) {
	switch x := v.(type) {
	case pipeline.Value:
		return x, nil
	case int64:
		return pipeline.IntValue(x), nil
	case int:
		return pipeline.IntValue(int64(x)), nil
	case float64:
		return pipeline.FloatValue(x), nil
	case string:
		return pipeline.StringValue(x), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return pipeline.Value{}, err
		}
		return pipeline.StringValue(string(data)), nil
	}
}

func typedValue(v pipeline.Value) *aiplatformpb.Value {
	switch v.Kind() {
	case pipeline.KindInteger:
		return &aiplatformpb.Value{Value: &aiplatformpb.Value_IntValue{IntValue: v.Int()}}
	case pipeline.KindFloat:
		return &aiplatformpb.Value{Value: &aiplatformpb.Value_DoubleValue{DoubleValue: v.Float()}}
	default:
		return &aiplatformpb.Value{Value: &aiplatformpb.Value_StringValue{StringValue: v.String()}}
	}
}
