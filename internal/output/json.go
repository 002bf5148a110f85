/*
PURPOSE:
  Streams the run manifest as JSON Lines: one Outcome object per scenario,
  written the moment the scenario settles. run_manifest.jsonl sits next to
  run_manifest.csv and carries the same rows for jq and CI tooling.

REQUIREMENTS:
  User-specified:
  - Every scenario of a run appears exactly once, tagged with the run_id.

  Implementation-discovered:
  - An interrupted run must still leave the finished rows on disk, so each
    row is a complete line and nothing is buffered across writes.
  - Service error text is often an HTML error page. HTML escaping is off so
    "<title>502 Bad Gateway</title>" stays readable in the file.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner.Run, after each scenario)
  - Consumes: internal/model.Outcome

ERROR HANDLING:
  - Creation and encode failures are returned with the manifest path.
    The Runner logs them and keeps going; the sheet matters more.

IMPLEMENTATION RULES:
  - Safe for concurrent Write calls.
  - The file is truncated at open. One manifest per output directory run.

USAGE:
  w, err := output.NewJSONWriter(filepath.Join(dir, "run_manifest.jsonl"))
  w.Write(outcome)
  w.Close()

RELATED FILES:
  - internal/output/csv.go
  - internal/model/types.go
*/

package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/daryltucker/sheet-runner/internal/model"
)

// JSONWriter appends run manifest rows to a JSON Lines file.
type JSONWriter struct {
	path    string
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter truncates path and prepares it for manifest rows.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest %s: %w", path, err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)

	return &JSONWriter{
		path:    path,
		file:    f,
		encoder: enc,
	}, nil
}

// Write records the outcome of one scenario as a single line.
func (jw *JSONWriter) Write(o model.Outcome) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(o); err != nil {
		return fmt.Errorf("failed to write manifest row for %s to %s: %w", o.Name, jw.path, err)
	}
	return nil
}

// Close closes the manifest file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}
