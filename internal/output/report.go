/*
PURPOSE:
  Renders the end-of-run summary table: one row per scenario outcome plus
  a footer with cached / generated / failed / skipped counts.

REQUIREMENTS:
  User-specified:
  - A human can see at a glance which scenarios failed and why.

  Implementation-discovered:
  - Error messages can be long service tracebacks; the column is width-capped.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner)
  - Consumes: internal/model.Outcome

ERROR HANDLING:
  - Write errors from the destination are returned.

IMPLEMENTATION RULES:
  - Use go-pretty tables (light style for terminals, Markdown on request).

USAGE:
  output.NewSummary(outcomes).Write(os.Stdout, false)

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Keep columns in step with the CSV manifest where it makes sense.
*/

package output

import (
	"fmt"
	"io"
	"time"

	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const errorColumnWidth = 60

// Summary aggregates outcomes of one run.
type Summary struct {
	Outcomes []model.Outcome
	Counts   map[model.Status]int
	Images   int
	Elapsed  time.Duration
}

// NewSummary tallies outcomes.
func NewSummary(outcomes []model.Outcome) Summary {
	s := Summary{
		Outcomes: outcomes,
		Counts:   make(map[model.Status]int),
	}
	for _, o := range outcomes {
		s.Counts[o.Status]++
		s.Images += o.Samples
		s.Elapsed += o.Duration
	}
	return s
}

// Failed reports whether any scenario failed.
func (s Summary) Failed() bool {
	return s.Counts[model.StatusFailed] > 0
}

// Render returns the summary as a table string.
func (s Summary) Render(markdown bool) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	// StyleLight upper-cases headers and footers, which mangles "2s" into "2S".
	w.Style().Format.Header = text.FormatDefault
	w.Style().Format.Footer = text.FormatDefault
	w.AppendHeader(table.Row{"#", "Scenario", "Status", "Samples", "Kind", "Error", "Duration"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 6, WidthMax: errorColumnWidth},
		{Number: 7, Align: text.AlignRight},
	})

	for i, o := range s.Outcomes {
		w.AppendRow(table.Row{
			i + 1,
			o.Scenario,
			string(o.Status),
			o.Samples,
			o.ErrorKind,
			o.Error,
			o.Duration.Round(time.Millisecond).String(),
		})
	}

	w.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%s scenarios", humanize.Comma(int64(len(s.Outcomes)))),
		fmt.Sprintf("%d cached, %d generated, %d failed, %d skipped",
			s.Counts[model.StatusCached],
			s.Counts[model.StatusGenerated],
			s.Counts[model.StatusFailed],
			s.Counts[model.StatusSkipped],
		),
		humanize.Comma(int64(s.Images)),
		"",
		"",
		s.Elapsed.Round(time.Second).String(),
	})

	if markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// Write renders the summary to w followed by a newline.
func (s Summary) Write(w io.Writer, markdown bool) error {
	_, err := fmt.Fprintln(w, s.Render(markdown))
	return err
}

// Size formats a file size for log lines.
func Size(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(n))
}
