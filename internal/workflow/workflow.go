// Package workflow executes ordered step sequences with optional
// all-or-nothing storage semantics.
//
// A workflow is an ordered collection of named steps. Step names beginning
// with the reserved "_" sentinel are meta-configuration (transaction flag,
// resume point) and are excluded from execution order. Steps run strictly in
// declared order: step N+1 may reference step N's result, and steps sharing
// a storage alias rely on a happens-before relation for transactional
// correctness.
package workflow

import (
	"fmt"
	"strings"
)

// MetaPrefix marks a workflow entry as meta-configuration rather than an
// executable step.
const MetaPrefix = "_"

// Recognized meta-configuration keys.
const (
	// MetaTransaction arms transactional mode ("true"/"false").
	MetaTransaction = "_transaction"
	// MetaStartAt names the step execution resumes from.
	MetaStartAt = "_start_at"
)

// Step is one unit of work within a workflow. Execution semantics live in
// the descriptor; the orchestrator only sequences, interpolates, and
// registers results.
type Step struct {
	Name       string
	Descriptor Descriptor
}

// IsMeta reports whether the step is meta-configuration.
func (s Step) IsMeta() bool {
	return strings.HasPrefix(s.Name, MetaPrefix)
}

// Workflow is an ordered map of step name to descriptor. Insertion order is
// execution order and is significant.
type Workflow struct {
	steps []Step
	names map[string]int
}

// NewWorkflow creates an empty workflow.
func NewWorkflow() *Workflow {
	return &Workflow{names: make(map[string]int)}
}

// Add appends a step, preserving insertion order. Duplicate names are
// rejected: the result registry addresses values by name, so names must be
// unique within one workflow.
func (w *Workflow) Add(name string, desc Descriptor) error {
	if name == "" {
		return &RunError{Code: ErrCodeInvalidWorkflow, Message: "step name must not be empty"}
	}
	if _, dup := w.names[name]; dup {
		return &RunError{Code: ErrCodeInvalidWorkflow, Message: fmt.Sprintf("duplicate step name %q", name)}
	}
	w.names[name] = len(w.steps)
	w.steps = append(w.steps, Step{Name: name, Descriptor: desc})
	return nil
}

// MustAdd is Add for statically known workflows; it panics on error.
func (w *Workflow) MustAdd(name string, desc Descriptor) *Workflow {
	if err := w.Add(name, desc); err != nil {
		panic(err)
	}
	return w
}

// Len returns the total number of entries, meta included.
func (w *Workflow) Len() int {
	return len(w.steps)
}

// Steps returns all entries in declared order, meta included.
func (w *Workflow) Steps() []Step {
	out := make([]Step, len(w.steps))
	copy(out, w.steps)
	return out
}

// partition splits the workflow into meta-configuration and ordered
// executable steps.
func (w *Workflow) partition() (meta map[string]Descriptor, steps []Step) {
	meta = make(map[string]Descriptor)
	for _, s := range w.steps {
		if s.IsMeta() {
			meta[s.Name] = s.Descriptor
			continue
		}
		steps = append(steps, s)
	}
	return meta, steps
}
