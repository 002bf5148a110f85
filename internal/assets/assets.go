// Package assets holds files embedded into the binary.
package assets

import "embed"

// Scenarios contains the bundled scenario batteries under scenarios/.
//
//go:embed scenarios/*.yaml
var Scenarios embed.FS

// DefaultScenarios is the path of the default battery inside Scenarios.
const DefaultScenarios = "scenarios/default.yaml"
