// SPDX-License-Identifier: AGPL-3.0-or-later

// Package component applies task-level settings (display name, resource
// limits, accelerator and caching) to the tasks of a compiled pipeline.
package component

import (
	"fmt"
	"strings"
)

// AcceleratorNodeSelector is the node selector key used for accelerator types.
const AcceleratorNodeSelector = "cloud.google.com/gke-accelerator"

// Task is the mutable view of a single pipeline task.
type Task interface {
	Name() string
	SetDisplayName(name string) error
	SetCPULimit(cpu string) error
	SetMemoryLimit(memory string) error
	SetGPULimit(gpu string) error
	AddNodeSelectorConstraint(key, value string) error
	SetCachingOptions(enable bool) error
}

// Spec describes the settings to apply to a task. Empty strings and a nil
// Caching leave the task unchanged.
type Spec struct {
	DisplayName string `json:"display_name,omitempty"`
	CPU         string `json:"cpu,omitempty"`
	Memory      string `json:"memory,omitempty"`
	GPU         string `json:"gpu,omitempty"`
	Accelerator string `json:"accelerator,omitempty"`
	Caching     *bool  `json:"caching,omitempty"`
}

// DisplayName returns a Spec that only sets the display name.
func DisplayName(name string) Spec { return Spec{DisplayName: name} }

// Caching returns a Spec that only sets the caching option.
func Caching(enable bool) Spec { return Spec{Caching: &enable} }

// ContainerSpec returns a Spec for container resources.
func ContainerSpec(cpu, memory, gpu, accelerator string) Spec {
	return Spec{CPU: cpu, Memory: memory, GPU: gpu, Accelerator: accelerator}
}

// Merge returns s with every field set in o taking precedence.
func (s Spec) Merge(o Spec) Spec {
	if o.DisplayName != "" {
		s.DisplayName = o.DisplayName
	}
	if o.CPU != "" {
		s.CPU = o.CPU
	}
	if o.Memory != "" {
		s.Memory = o.Memory
	}
	if o.GPU != "" {
		s.GPU = o.GPU
	}
	if o.Accelerator != "" {
		s.Accelerator = o.Accelerator
	}
	if o.Caching != nil {
		v := *o.Caching
		s.Caching = &v
	}
	return s
}

// IsZero reports whether the spec would leave a task unchanged.
func (s Spec) IsZero() bool {
	return s.DisplayName == "" && s.CPU == "" && s.Memory == "" && s.GPU == "" &&
		s.Accelerator == "" && s.Caching == nil
}

// Validate checks the resource quantities without touching any task.
func (s Spec) Validate() error {
	if s.CPU != "" {
		if _, err := ParseCPU(s.CPU); err != nil {
			return err
		}
	}
	if s.Memory != "" {
		if _, err := ParseMemory(s.Memory); err != nil {
			return err
		}
	}
	if s.GPU != "" {
		if _, err := ParseGPU(s.GPU); err != nil {
			return err
		}
	}
	return nil
}

// Apply sets each configured field on t in a fixed order: display name, cpu,
// memory, gpu, accelerator, caching. It stops at the first failure.
func (s Spec) Apply(t Task) error {
	if s.DisplayName != "" {
		if err := t.SetDisplayName(s.DisplayName); err != nil {
			return fmt.Errorf("task %s: display name: %w", t.Name(), err)
		}
	}
	if s.CPU != "" {
		if err := t.SetCPULimit(s.CPU); err != nil {
			return fmt.Errorf("task %s: cpu limit: %w", t.Name(), err)
		}
	}
	if s.Memory != "" {
		if err := t.SetMemoryLimit(s.Memory); err != nil {
			return fmt.Errorf("task %s: memory limit: %w", t.Name(), err)
		}
	}
	if s.GPU != "" {
		if err := t.SetGPULimit(s.GPU); err != nil {
			return fmt.Errorf("task %s: gpu limit: %w", t.Name(), err)
		}
	}
	if s.Accelerator != "" {
		if err := t.AddNodeSelectorConstraint(AcceleratorNodeSelector, s.Accelerator); err != nil {
			return fmt.Errorf("task %s: accelerator: %w", t.Name(), err)
		}
	}
	if s.Caching != nil {
		if err := t.SetCachingOptions(*s.Caching); err != nil {
			return fmt.Errorf("task %s: caching: %w", t.Name(), err)
		}
	}
	return nil
}

// ApplyAll applies s to every task in order.
func (s Spec) ApplyAll(tasks []Task) error {
	for _, t := range tasks {
		if err := s.Apply(t); err != nil {
			return err
		}
	}
	return nil
}

func (s Spec) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("name", s.DisplayName)
	add("cpu", s.CPU)
	add("memory", s.Memory)
	add("gpu", s.GPU)
	add("accelerator", s.Accelerator)
	if s.Caching != nil {
		add("caching", fmt.Sprint(*s.Caching))
	}
	return strings.Join(parts, " ")
}
