// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"github.com/flowd-org/kfpt/internal/yamlnode"
	"gopkg.in/yaml.v3"
)

// LegacySpecAnnotation holds the JSON-encoded pipeline spec in legacy artifacts.
const LegacySpecAnnotation = "pipelines.kubeflow.org/pipeline_spec"

// Schema identifies the shape of a loaded artifact.
type Schema int

const (
	// SchemaInvalid matches neither known shape.
	SchemaInvalid Schema = iota
	// SchemaModern is keyed by pipelineSpec and runtimeConfig.
	SchemaModern
	// SchemaLegacy embeds the spec inside a metadata annotation.
	SchemaLegacy
)

func (s Schema) String() string {
	switch s {
	case SchemaModern:
		return "modern"
	case SchemaLegacy:
		return "legacy"
	default:
		return "invalid"
	}
}

// Classify determines the artifact shape of a decoded document. Modern is
// checked first; a document matching both shapes is Modern.
func Classify(doc *yaml.Node) Schema {
	doc = yamlnode.Content(doc)
	if !yamlnode.IsMapping(doc) {
		return SchemaInvalid
	}

	if spec, ok := yamlnode.Lookup(doc, "pipelineSpec"); ok && yamlnode.IsMapping(spec) {
		_, hasRoot := yamlnode.Lookup(spec, "root")
		_, hasInfo := yamlnode.Lookup(spec, "pipelineInfo")
		_, hasRuntime := yamlnode.Lookup(doc, "runtimeConfig")
		if hasRoot && hasInfo && hasRuntime {
			return SchemaModern
		}
	}

	if meta, ok := yamlnode.Lookup(doc, "metadata"); ok {
		if annotations, ok := yamlnode.Lookup(meta, "annotations"); ok {
			if _, ok := yamlnode.Lookup(annotations, LegacySpecAnnotation); ok {
				return SchemaLegacy
			}
		}
	}

	return SchemaInvalid
}
