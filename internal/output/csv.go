/*
PURPOSE:
  Writes the run manifest (one row per scenario outcome) to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV.
  - A crashed or interrupted run still leaves every finished row on disk.

  Implementation-discovered:
  - Each run overwrites the manifest; the images on disk are the durable state,
    the manifest only describes the latest pass over them.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner)
  - Consumes: internal/model.Outcome

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Mutex guarded; outcomes may be reported from the invoker callback.

USAGE:
  w, err := output.NewCSVWriter("run_manifest.csv")
  w.Write(outcome)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update CSVHeader and the record conversion together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update Write() mapping when Outcome struct changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/daryltucker/sheet-runner/internal/model"
)

// CSVHeader is the first row of the manifest.
var CSVHeader = []string{
	"run_id", "scenario", "name", "status", "samples",
	"error_kind", "error", "duration_s", "timestamp",
}

// CSVWriter handles writing outcomes to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single outcome to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(o model.Outcome) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		o.RunID,
		o.Scenario,
		o.Name,
		string(o.Status),
		strconv.Itoa(o.Samples),
		o.ErrorKind,
		o.Error,
		fmt.Sprintf("%.4f", o.Duration.Seconds()),
		o.Timestamp.Format(time.RFC3339),
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
