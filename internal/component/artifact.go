// SPDX-License-Identifier: AGPL-3.0-or-later

package component

import (
	"errors"
	"fmt"
	"sort"

	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/yamlnode"
	"gopkg.in/yaml.v3"
)

// Keys used on legacy Argo templates.
const (
	LegacyCachingLabel       = "pipelines.kubeflow.org/enable_caching"
	LegacyDisplayNameAnnot   = "pipelines.kubeflow.org/task_display_name"
	LegacyGPUResource        = "nvidia.com/gpu"
	bytesPerGigabyte         = 1e9
	modernAcceleratorTypeKey = "type"
)

// ErrTaskNotFound is returned by OpenTask for an unknown task name.
var ErrTaskNotFound = errors.New("task not found")

// OpenTask returns the named task of a loaded artifact. Modern artifacts are
// searched in the root DAG first, then in component DAGs; legacy artifacts
// match the Argo template name.
func OpenTask(doc *pipeline.Document, name string) (Task, error) {
	tasks, err := Tasks(doc)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (available: %v)", ErrTaskNotFound, name, names(tasks))
}

// Tasks lists every task of a loaded artifact in document order.
func Tasks(doc *pipeline.Document) ([]Task, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	switch doc.Schema {
	case pipeline.SchemaModern:
		spec, _ := yamlnode.Lookup(doc.Root, "pipelineSpec")
		return ModernTasks(spec), nil
	case pipeline.SchemaLegacy:
		return LegacyTasks(doc.Root), nil
	default:
		return nil, &pipeline.SchemaError{Path: doc.Path}
	}
}

// ModernTasks lists the tasks of a pipeline IR (the value of pipelineSpec):
// the root DAG first, then the DAG of each component.
func ModernTasks(spec *yaml.Node) []Task {
	var out []Task
	collect := func(dag *yaml.Node) {
		tasks, _ := yamlnode.LookupPath(dag, "dag", "tasks")
		_ = yamlnode.Pairs(tasks, func(name string, task *yaml.Node) error {
			if yamlnode.IsMapping(task) {
				out = append(out, &modernTask{name: name, task: task, spec: spec})
			}
			return nil
		})
	}
	root, _ := yamlnode.Lookup(spec, "root")
	collect(root)
	components, _ := yamlnode.Lookup(spec, "components")
	_ = yamlnode.Pairs(components, func(_ string, comp *yaml.Node) error {
		collect(comp)
		return nil
	})
	return out
}

// LegacyTasks lists the container templates of an Argo workflow.
func LegacyTasks(workflow *yaml.Node) []Task {
	var out []Task
	templates, _ := yamlnode.LookupPath(workflow, "spec", "templates")
	templates = yamlnode.Content(templates)
	if templates == nil || templates.Kind != yaml.SequenceNode {
		return nil
	}
	for _, tmpl := range templates.Content {
		tmpl = yamlnode.Content(tmpl)
		if _, ok := yamlnode.Lookup(tmpl, "container"); !ok {
			continue
		}
		name, _ := yamlnode.Lookup(tmpl, "name")
		out = append(out, &legacyTask{name: yamlnode.Scalar(name), tmpl: tmpl})
	}
	return out
}

func names(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Name())
	}
	sort.Strings(out)
	return out
}

type modernTask struct {
	name string
	task *yaml.Node
	spec *yaml.Node
}

func (t *modernTask) Name() string { return t.name }

func (t *modernTask) SetDisplayName(name string) error {
	yamlnode.Set(yamlnode.EnsureMapping(t.task, "taskInfo"), "name", yamlnode.String(name))
	return nil
}

// resources returns the container resources mapping of the task's executor.
func (t *modernTask) resources() (*yaml.Node, error) {
	ref, _ := yamlnode.LookupPath(t.task, "componentRef", "name")
	compName := yamlnode.Scalar(ref)
	if compName == "" {
		return nil, errors.New("task has no componentRef")
	}
	label, _ := yamlnode.LookupPath(t.spec, "components", compName, "executorLabel")
	if yamlnode.Scalar(label) == "" {
		return nil, fmt.Errorf("component %s has no executor", compName)
	}
	container, ok := yamlnode.LookupPath(t.spec, "deploymentSpec", "executors", yamlnode.Scalar(label), "container")
	if !ok || !yamlnode.IsMapping(container) {
		return nil, fmt.Errorf("executor %s is not a container", yamlnode.Scalar(label))
	}
	return yamlnode.EnsureMapping(container, "resources"), nil
}

func (t *modernTask) SetCPULimit(cpu string) error {
	v, err := ParseCPU(cpu)
	if err != nil {
		return err
	}
	res, err := t.resources()
	if err != nil {
		return err
	}
	yamlnode.Set(res, "cpuLimit", yamlnode.Float(v))
	return nil
}

func (t *modernTask) SetMemoryLimit(memory string) error {
	v, err := ParseMemory(memory)
	if err != nil {
		return err
	}
	res, err := t.resources()
	if err != nil {
		return err
	}
	yamlnode.Set(res, "memoryLimit", yamlnode.Float(v/bytesPerGigabyte))
	return nil
}

func (t *modernTask) SetGPULimit(gpu string) error {
	if _, err := ParseGPU(gpu); err != nil {
		return err
	}
	res, err := t.resources()
	if err != nil {
		return err
	}
	yamlnode.Set(yamlnode.EnsureMapping(res, "accelerator"), "count", yamlnode.String(gpu))
	return nil
}

// AddNodeSelectorConstraint supports only the accelerator selector: the
// pipeline IR has no general node selector.
func (t *modernTask) AddNodeSelectorConstraint(key, value string) error {
	if key != AcceleratorNodeSelector {
		return fmt.Errorf("node selector %q is not supported by this artifact format", key)
	}
	res, err := t.resources()
	if err != nil {
		return err
	}
	yamlnode.Set(yamlnode.EnsureMapping(res, "accelerator"), modernAcceleratorTypeKey, yamlnode.String(value))
	return nil
}

func (t *modernTask) SetCachingOptions(enable bool) error {
	yamlnode.Set(yamlnode.EnsureMapping(t.task, "cachingOptions"), "enableCache", yamlnode.Bool(enable))
	return nil
}

type legacyTask struct {
	name string
	tmpl *yaml.Node
}

func (t *legacyTask) Name() string { return t.name }

func (t *legacyTask) SetDisplayName(name string) error {
	annotations := yamlnode.EnsurePath(t.tmpl, "metadata", "annotations")
	yamlnode.Set(annotations, LegacyDisplayNameAnnot, yamlnode.String(name))
	return nil
}

func (t *legacyTask) limits() *yaml.Node {
	return yamlnode.EnsurePath(t.tmpl, "container", "resources", "limits")
}

func (t *legacyTask) SetCPULimit(cpu string) error {
	if _, err := ParseCPU(cpu); err != nil {
		return err
	}
	yamlnode.Set(t.limits(), "cpu", yamlnode.String(cpu))
	return nil
}

func (t *legacyTask) SetMemoryLimit(memory string) error {
	if _, err := ParseMemory(memory); err != nil {
		return err
	}
	yamlnode.Set(t.limits(), "memory", yamlnode.String(memory))
	return nil
}

func (t *legacyTask) SetGPULimit(gpu string) error {
	if _, err := ParseGPU(gpu); err != nil {
		return err
	}
	yamlnode.Set(t.limits(), LegacyGPUResource, yamlnode.String(gpu))
	return nil
}

func (t *legacyTask) AddNodeSelectorConstraint(key, value string) error {
	yamlnode.Set(yamlnode.EnsureMapping(t.tmpl, "nodeSelector"), key, yamlnode.String(value))
	return nil
}

func (t *legacyTask) SetCachingOptions(enable bool) error {
	labels := yamlnode.EnsurePath(t.tmpl, "metadata", "labels")
	yamlnode.Set(labels, LegacyCachingLabel, yamlnode.String(fmt.Sprint(enable)))
	return nil
}
