// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/flowd-org/kfpt/internal/yamlnode"
	"gopkg.in/yaml.v3"
)

// typeNames maps declared input-definition types onto parameter kinds.
// Anything absent is a String.
var typeNames = map[string]Kind{
	"Integer":        KindInteger,
	"INT":            KindInteger,
	"NUMBER_INTEGER": KindInteger,
	"Float":          KindFloat,
	"DOUBLE":         KindFloat,
	"NUMBER_DOUBLE":  KindFloat,
}

// valueKinds maps runtime value-kind keys (and legacy declared types, which
// double as keys) onto the kind used to coerce the raw default.
var valueKinds = map[string]Kind{
	"Integer":     KindInteger,
	"intValue":    KindInteger,
	"Float":       KindFloat,
	"doubleValue": KindFloat,
}

// Recognised names in strict mode, including the explicit string spellings.
var (
	strictTypeNames = map[string]Kind{
		"Integer":        KindInteger,
		"INT":            KindInteger,
		"NUMBER_INTEGER": KindInteger,
		"Float":          KindFloat,
		"DOUBLE":         KindFloat,
		"NUMBER_DOUBLE":  KindFloat,
		"String":         KindString,
		"STRING":         KindString,
	}
	strictValueKinds = map[string]Kind{
		"Integer":     KindInteger,
		"intValue":    KindInteger,
		"Float":       KindFloat,
		"doubleValue": KindFloat,
		"String":      KindString,
		"stringValue": KindString,
	}
)

// Input names the legacy compiler synthesises; they are not user parameters.
var syntheticInputs = map[string]struct{}{
	"pipeline-root": {},
	"pipeline-name": {},
}

type extractor struct {
	strict bool
}

func (x extractor) kindForType(param, typeName string) (Kind, error) {
	if x.strict {
		k, ok := strictTypeNames[typeName]
		if !ok {
			return KindString, &UnknownTypeError{Parameter: param, Type: typeName}
		}
		return k, nil
	}
	return typeNames[typeName], nil
}

func (x extractor) kindForValue(param, key string) (Kind, error) {
	if x.strict {
		k, ok := strictValueKinds[key]
		if !ok {
			return KindString, &UnknownValueKindError{Parameter: param, Kind: key}
		}
		return k, nil
	}
	return valueKinds[key], nil
}

// modern extracts parameters from a pipelineSpec/runtimeConfig document.
func (x extractor) modern(doc *yaml.Node) (*Pipeline, error) {
	spec, _ := yamlnode.Lookup(doc, "pipelineSpec")
	nameNode, ok := yamlnode.LookupPath(spec, "pipelineInfo", "name")
	if !ok {
		return nil, errors.New("pipelineSpec.pipelineInfo.name is missing")
	}
	p := &Pipeline{Name: yamlnode.Scalar(nameNode)}

	defs, _ := yamlnode.LookupPath(spec, "root", "inputDefinitions", "parameters")
	runtimeParams, _ := yamlnode.LookupPath(doc, "runtimeConfig", "parameters")
	runtimeValues, _ := yamlnode.LookupPath(doc, "runtimeConfig", "parameterValues")

	err := yamlnode.Pairs(defs, func(name string, def *yaml.Node) error {
		typeName, ok := yamlnode.Lookup(def, "type")
		if !ok {
			typeName, _ = yamlnode.Lookup(def, "parameterType")
		}
		kind, err := x.kindForType(name, yamlnode.Scalar(typeName))
		if err != nil {
			return err
		}
		param := Parameter{Name: name, Type: kind}

		if tagged, ok := yamlnode.Lookup(runtimeParams, name); ok && yamlnode.IsMapping(tagged) && len(tagged.Content) > 0 {
			key := tagged.Content[0].Value
			raw := yamlnode.Content(tagged.Content[1])
			valueKind, err := x.kindForValue(name, key)
			if err != nil {
				return err
			}
			v, err := coerce(name, valueKind, raw)
			if err != nil {
				return err
			}
			param.Default = &v
		} else if raw, ok := yamlnode.Lookup(runtimeValues, name); ok && !yamlnode.IsNull(raw) {
			v, err := coerce(name, kind, raw)
			if err != nil {
				return err
			}
			param.Default = &v
		}

		p.Parameters = append(p.Parameters, param)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// legacySpec mirrors the JSON document stored in the legacy annotation.
type legacySpec struct {
	Name   string        `json:"name"`
	Inputs []legacyInput `json:"inputs"`
}

type legacyInput struct {
	Name string `json:"name"`
	// Type is usually a string; older compilers also emit objects.
	Type    json.RawMessage `json:"type"`
	Default json.RawMessage `json:"default"`
}

func (in legacyInput) typeName() string {
	var name string
	if err := json.Unmarshal(in.Type, &name); err == nil {
		return name
	}
	return string(bytes.TrimSpace(in.Type))
}

// legacy extracts parameters from the JSON spec embedded in the annotation.
func (x extractor) legacy(doc *yaml.Node) (*Pipeline, error) {
	annotation, _ := yamlnode.LookupPath(doc, "metadata", "annotations", LegacySpecAnnotation)

	var spec legacySpec
	if err := json.Unmarshal([]byte(yamlnode.Scalar(annotation)), &spec); err != nil {
		return nil, fmt.Errorf("annotation %s is not valid JSON: %w", LegacySpecAnnotation, err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("annotation %s has no pipeline name", LegacySpecAnnotation)
	}

	p := &Pipeline{Name: spec.Name}
	for _, in := range spec.Inputs {
		if _, skip := syntheticInputs[in.Name]; skip {
			continue
		}
		typeName := in.typeName()
		kind, err := x.kindForType(in.Name, typeName)
		if err != nil {
			return nil, err
		}
		param := Parameter{Name: in.Name, Type: kind}
		if len(in.Default) > 0 {
			raw, err := jsonNode(in.Default)
			if err != nil {
				return nil, fmt.Errorf("input %s: default: %w", in.Name, err)
			}
			if !yamlnode.IsNull(raw) {
				// The declared type doubles as the value-kind key here.
				valueKind, err := x.kindForValue(in.Name, typeName)
				if err != nil {
					return nil, err
				}
				v, err := coerce(in.Name, valueKind, raw)
				if err != nil {
					return nil, err
				}
				param.Default = &v
			}
		}
		p.Parameters = append(p.Parameters, param)
	}
	return p, nil
}

// jsonNode decodes one JSON value into a node tree, keeping key order and
// telling integers from floats by their spelling. A repeated key keeps its
// first position and its last value.
func jsonNode(raw []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return readJSONNode(dec)
}

func readJSONNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		var n *yaml.Node
		switch t {
		case '[':
			n = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				item, err := readJSONNode(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, item)
			}
		case '{':
			n = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				value, err := readJSONNode(dec)
				if err != nil {
					return nil, err
				}
				yamlnode.Set(n, key, value)
			}
		default:
			return nil, fmt.Errorf("unexpected %q", t)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return n, nil
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}, nil
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(t.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: t.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}, nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
}

// coerce parses raw as kind. Integer parsing truncates floats toward zero and
// rejects non-integral strings; string casting renders structured values as
// JSON text.
func coerce(param string, kind Kind, raw *yaml.Node) (Value, error) {
	raw = yamlnode.Content(raw)
	switch kind {
	case KindInteger:
		i, err := parseInt(raw)
		if err != nil {
			return Value{}, &CoercionError{Parameter: param, Kind: kind, Raw: literal(raw), Err: err}
		}
		return IntValue(i), nil
	case KindFloat:
		f, err := parseFloat(raw)
		if err != nil {
			return Value{}, &CoercionError{Parameter: param, Kind: kind, Raw: literal(raw), Err: err}
		}
		return FloatValue(f), nil
	default:
		return StringValue(literal(raw)), nil
	}
}

func parseInt(n *yaml.Node) (int64, error) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, errors.New("not a scalar")
	}
	switch n.ShortTag() {
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return 0, err
		}
		return i, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return 0, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, fmt.Errorf("cannot convert %s to integer", n.Value)
		}
		return int64(f), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case "!!null":
		return 0, errors.New("null value")
	default:
		return strconv.ParseInt(strings.TrimSpace(n.Value), 10, 64)
	}
}

func parseFloat(n *yaml.Node) (float64, error) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, errors.New("not a scalar")
	}
	switch n.ShortTag() {
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return 0, err
		}
		return f, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case "!!null":
		return 0, errors.New("null value")
	default:
		return strconv.ParseFloat(strings.TrimSpace(n.Value), 64)
	}
}

// literal renders a node as text: booleans as True/False, other scalars
// verbatim, collections as JSON with ", " and ": " separators.
func literal(n *yaml.Node) string {
	n = yamlnode.Content(n)
	if n == nil {
		return ""
	}
	if n.Kind == yaml.ScalarNode {
		if n.ShortTag() == "!!bool" {
			var v bool
			if err := n.Decode(&v); err == nil {
				return pythonBool(v)
			}
		}
		return n.Value
	}
	var b strings.Builder
	writeJSON(&b, n)
	return b.String()
}

func writeJSON(b *strings.Builder, n *yaml.Node) {
	n = yamlnode.Content(n)
	if n == nil {
		b.WriteString("null")
		return
	}
	switch n.Kind {
	case yaml.SequenceNode:
		b.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				b.WriteString(", ")
			}
			writeJSON(b, item)
		}
		b.WriteByte(']')
	case yaml.MappingNode:
		b.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				b.WriteString(", ")
			}
			writeQuoted(b, n.Content[i].Value)
			b.WriteString(": ")
			writeJSON(b, n.Content[i+1])
		}
		b.WriteByte('}')
	default:
		switch n.ShortTag() {
		case "!!int", "!!float":
			b.WriteString(n.Value)
		case "!!bool":
			var v bool
			_ = n.Decode(&v)
			b.WriteString(strconv.FormatBool(v))
		case "!!null":
			b.WriteString("null")
		default:
			writeQuoted(b, n.Value)
		}
	}
}

func pythonBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func writeQuoted(b *strings.Builder, s string) {
	out, _ := json.Marshal(s)
	b.Write(out)
}
