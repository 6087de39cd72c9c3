// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowd-org/kfpt/internal/yamlnode"
	"gopkg.in/yaml.v3"
)

// Document is a loaded artifact together with its detected shape.
type Document struct {
	Path   string
	Root   *yaml.Node
	Schema Schema
}

// Load reads path and classifies it. The YAML decoder accepts JSON as well.
// Read failures are returned unchanged; a document matching neither shape is
// a *SchemaError.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBytes(path, data)
}

// LoadBytes classifies data that was read from path.
func LoadBytes(path string, data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	doc := &Document{Path: path, Root: yamlnode.Content(&root)}
	doc.Schema = Classify(doc.Root)
	if doc.Schema == SchemaInvalid {
		return nil, &SchemaError{Path: path}
	}
	return doc, nil
}

// Decode converts the document into plain maps and slices, suitable for JSON
// encoding.
func (d *Document) Decode() (map[string]any, error) {
	var out map[string]any
	if err := d.Root.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return out, nil
}

// JSON renders the document as indented JSON. Mapping keys come out sorted.
func (d *Document) JSON() ([]byte, error) {
	m, err := d.Decode()
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Path, err)
	}
	return append(out, '\n'), nil
}

// Encode renders the document in the format implied by its path: JSON for
// .json files, YAML (in original key order) otherwise.
func (d *Document) Encode() ([]byte, error) {
	if strings.EqualFold(filepath.Ext(d.Path), ".json") {
		return d.JSON()
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.Root); err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Path, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Path, err)
	}
	return buf.Bytes(), nil
}

// Parser turns artifacts into Pipeline summaries.
type Parser struct {
	// Strict rejects unrecognised declared types and value kinds instead of
	// treating them as strings.
	Strict bool
	Logger *slog.Logger
}

// Parse loads the artifact at path with a lenient Parser.
func Parse(path string) (*Pipeline, error) {
	return (&Parser{}).Parse(path)
}

// Parse loads the artifact at path and extracts its parameters.
func (p *Parser) Parse(path string) (*Pipeline, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return p.Extract(doc)
}

// Extract summarises an already loaded document.
func (p *Parser) Extract(doc *Document) (*Pipeline, error) {
	x := extractor{strict: p.Strict}

	var (
		out *Pipeline
		err error
	)
	switch doc.Schema {
	case SchemaModern:
		out, err = x.modern(doc.Root)
	case SchemaLegacy:
		out, err = x.legacy(doc.Root)
	default:
		return nil, &SchemaError{Path: doc.Path}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Path, err)
	}

	p.logger().Debug("parsed pipeline",
		slog.String("path", doc.Path),
		slog.String("schema", doc.Schema.String()),
		slog.String("pipeline", out.Name),
		slog.Int("parameters", len(out.Parameters)),
	)
	return out, nil
}

func (p *Parser) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
