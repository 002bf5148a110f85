/*
PURPOSE:
  Defines the core data structures used throughout Sheet Runner.
  These models represent scenario outcomes and the run-wide result accumulator.

REQUIREMENTS:
  User-specified:
  - Record which scenarios were served from disk, generated, or failed.
  - Keep every result in invocation order for the contact sheet.

  Implementation-discovered:
  - Need JSON tags for the JSONL manifest.
  - Re-adding a name must keep its first position (ordered-dict semantics).

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/grid, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Results is passed by pointer; there is no package-level accumulator.

USAGE:
  results := model.NewResults()
  results.Add("txt2img", images)

SELF-HEALING INSTRUCTIONS:
  - If new outcome fields are needed, add them here and update the CSV/JSON writers.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update when adding new data to capture per scenario.
*/

package model

import (
	"image"
	"time"
)

// Status describes how a scenario's images were obtained.
type Status string

const (
	StatusCached    Status = "cached"
	StatusGenerated Status = "generated"
	StatusFailed    Status = "failed"

	// StatusSkipped marks a scenario that was not attempted (missing checkpoint or input).
	StatusSkipped Status = "skipped"
)

// Outcome represents the result of running a single scenario.
type Outcome struct {
	RunID     string        `json:"run_id"`
	Scenario  string        `json:"scenario"` // Name as requested by the driver
	Name      string        `json:"name"`     // Effective name, failure-annotated when Status is failed
	Status    Status        `json:"status"`
	Samples   int           `json:"samples"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Results is an insertion-ordered mapping from test name to its stored images.
type Results struct {
	order  []string
	images map[string][]image.Image
}

// NewResults returns an empty accumulator.
func NewResults() *Results {
	return &Results{images: make(map[string][]image.Image)}
}

// Add records images under name. An existing name keeps its position.
func (r *Results) Add(name string, images []image.Image) {
	if _, ok := r.images[name]; !ok {
		r.order = append(r.order, name)
	}
	r.images[name] = images
}

// Get returns the images recorded under name.
func (r *Results) Get(name string) ([]image.Image, bool) {
	images, ok := r.images[name]
	return images, ok
}

// Names returns test names in insertion order.
func (r *Results) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of recorded tests.
func (r *Results) Len() int {
	return len(r.order)
}

// Total returns the number of recorded images across all tests.
func (r *Results) Total() int {
	n := 0
	for _, name := range r.order {
		n += len(r.images[name])
	}
	return n
}

// ServiceStatus is the subset of the remote status document the harness uses.
type ServiceStatus struct {
	Raw map[string]any
}

// GPUName returns status["gpu"]["name"], or "Unknown GPU".
func (s ServiceStatus) GPUName() string {
	if gpu, ok := s.Raw["gpu"].(map[string]any); ok {
		if name, ok := gpu["name"].(string); ok && name != "" {
			return name
		}
	}
	return "Unknown GPU"
}
