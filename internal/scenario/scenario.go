/*
PURPOSE:
  Loads scenario batteries (the list of named requests a run submits) from YAML
  and expands them into the flat, ordered list the runner executes.

REQUIREMENTS:
  User-specified:
  - Scenarios run in file order; names are unique after expansion.
  - "each" fans one template out over a list of values, named "<name>-<value>".
  - "requires" gates a scenario on checkpoints being installed on the service.

  Implementation-discovered:
  - Controlnet scenarios interleave txt2img and img2img per value, so "each"
    may wrap a group of templates instead of a single one.
  - Node images can point at an earlier scenario's output ("result:<name>").

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner), internal/cli
  - Uses: internal/assets (embedded default battery), internal/model

ERROR HANDLING:
  - Load/Parse return wrapped errors; Validate reports the first problem found.

IMPLEMENTATION RULES:
  - Expansion never mutates the parsed battery; nodes are copied per variant.

USAGE:
  b, err := scenario.Load(cfg.ScenarioFile) // "" selects the embedded default
  for _, s := range b.Expand() { ... }

RELATED FILES:
  - internal/assets/scenarios/default.yaml
  - internal/model/params.go

MAINTENANCE:
  - Add new "each" fields to apply() when the service grows new sweepable knobs.
*/

package scenario

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/daryltucker/sheet-runner/internal/assets"
	"github.com/daryltucker/sheet-runner/internal/model"
	"gopkg.in/yaml.v3"
)

// ResultPrefix marks a node image reference to an earlier scenario's output.
const ResultPrefix = "result:"

// Sweepable fields for Each.
const (
	FieldScheduler      = "scheduler"
	FieldMultiScheduler = "multi_scheduler"
	FieldControlnet     = "controlnet"
)

// Battery is an ordered list of scenarios.
type Battery struct {
	Version   int        `yaml:"version"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario is one named request, or a group of them swept by Each.
type Scenario struct {
	Name      string       `yaml:"name,omitempty"`
	Params    model.Params `yaml:"params,omitempty"`
	Requires  []string     `yaml:"requires,omitempty"`
	Each      *Each        `yaml:"each,omitempty"`
	Scenarios []Scenario   `yaml:"scenarios,omitempty"`
}

// Each sweeps Field over Values.
type Each struct {
	Field  string   `yaml:"field"`
	Values []string `yaml:"values"`
}

// Load reads the battery at path, or the embedded default when path is empty.
func Load(path string) (*Battery, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario file %s: %w", path, err)
	}
	return b, nil
}

// Default returns the embedded end-to-end battery.
func Default() (*Battery, error) {
	data, err := fs.ReadFile(assets.Scenarios, assets.DefaultScenarios)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded scenarios: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a battery document.
func Parse(data []byte) (*Battery, error) {
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid scenario YAML: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks sweep fields, name uniqueness and that result references
// point backwards.
func (b *Battery) Validate() error {
	for i, s := range b.Scenarios {
		if s.Each != nil {
			switch s.Each.Field {
			case FieldScheduler, FieldMultiScheduler, FieldControlnet:
			default:
				return fmt.Errorf("scenario %d: unsupported each.field %q", i, s.Each.Field)
			}
			if len(s.Each.Values) == 0 {
				return fmt.Errorf("scenario %d: each.values is empty", i)
			}
		} else if len(s.Scenarios) > 0 {
			return fmt.Errorf("scenario %d: nested scenarios require each", i)
		}
		if s.Name == "" && len(s.Scenarios) == 0 {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		for j, nested := range s.Scenarios {
			if nested.Name == "" {
				return fmt.Errorf("scenario %d.%d: name is required", i, j)
			}
			if nested.Each != nil || len(nested.Scenarios) > 0 {
				return fmt.Errorf("scenario %d.%d: nested sweeps are not supported", i, j)
			}
		}
	}

	seen := make(map[string]bool)
	for _, s := range b.Expand() {
		if strings.ContainsAny(s.Name, `/\`) {
			return fmt.Errorf("scenario %q: name must not contain path separators", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate scenario name %q", s.Name)
		}
		for _, ref := range s.Refs() {
			if name, ok := ResultRef(ref); ok && !seen[name] {
				return fmt.Errorf("scenario %q: %s does not name an earlier scenario", s.Name, ref)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

// Expand flattens the battery into concrete scenarios, in run order.
func (b *Battery) Expand() []Scenario {
	var out []Scenario
	for _, s := range b.Scenarios {
		if s.Each == nil {
			out = append(out, s.leaf(s.Name, s.Requires))
			continue
		}

		templates := s.Scenarios
		if len(templates) == 0 {
			templates = []Scenario{{Name: s.Name, Params: s.Params}}
		}
		for _, value := range s.Each.Values {
			for _, tpl := range templates {
				requires := append(append([]string(nil), s.Requires...), tpl.Requires...)
				leaf := tpl.leaf(tpl.Name+"-"+value, requires)
				leaf.Params = apply(leaf.Params, s.Each.Field, value)
				out = append(out, leaf)
			}
		}
	}
	return out
}

// Names returns the expanded scenario names in order.
func (b *Battery) Names() []string {
	expanded := b.Expand()
	names := make([]string, len(expanded))
	for i, s := range expanded {
		names[i] = s.Name
	}
	return names
}

func (s Scenario) leaf(name string, requires []string) Scenario {
	params := s.Params
	params.Nodes = append([]model.Node(nil), s.Params.Nodes...)
	if len(requires) == 0 {
		requires = nil
	}
	return Scenario{Name: name, Params: params, Requires: requires}
}

func apply(p model.Params, field, value string) model.Params {
	switch field {
	case FieldScheduler:
		p.Scheduler = value
	case FieldMultiScheduler:
		p.MultiScheduler = value
	case FieldControlnet:
		for i := range p.Nodes {
			if p.Nodes[i].Control {
				p.Nodes[i].Controlnet = value
			}
		}
	}
	return p
}

// Missing returns the required checkpoints that are not in available.
func (s Scenario) Missing(available map[string]bool) []string {
	var missing []string
	for _, name := range s.Requires {
		if !available[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// Refs returns the distinct image references used by s's nodes, in order.
func (s Scenario) Refs() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, n := range s.Params.Nodes {
		for _, ref := range []string{n.ImageRef, n.MaskRef} {
			if ref != "" && !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// ResultRef reports whether ref points at an earlier scenario, and which one.
func ResultRef(ref string) (string, bool) {
	name, ok := strings.CutPrefix(ref, ResultPrefix)
	return name, ok && name != ""
}
