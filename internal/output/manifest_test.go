package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleOutcomes = []model.Outcome{
	{
		RunID:     "run-1",
		Scenario:  "txt2img",
		Name:      "txt2img",
		Status:    model.StatusGenerated,
		Samples:   1,
		Duration:  1500 * time.Millisecond,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	},
	{
		RunID:     "run-1",
		Scenario:  "inpaint",
		Name:      "inpaint (ConnectionError)",
		Status:    model.StatusFailed,
		Samples:   2,
		ErrorKind: "ConnectionError",
		Error:     "dial tcp: connection refused, retry later",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC),
	},
}

func TestCSVWriter_WritesRowsAsTheyArrive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_manifest.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleOutcomes[0]))

	// Flushed before Close.
	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, CSVHeader, rows[0])

	require.NoError(t, w.Write(sampleOutcomes[1]))
	require.NoError(t, w.Close())

	rows = readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"run-1", "txt2img", "txt2img", "generated", "1", "", "", "1.5000", "2024-05-01T12:00:00Z",
	}, rows[1])
	assert.Equal(t, "inpaint (ConnectionError)", rows[2][2])
	assert.Equal(t, "dial tcp: connection refused, retry later", rows[2][6])
}

func TestCSVWriter_BadPath(t *testing.T) {
	_, err := NewCSVWriter(filepath.Join(t.TempDir(), "missing", "m.csv"))
	assert.Error(t, err)
}

func TestJSONWriter_OneOutcomePerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_manifest.jsonl")
	w, err := NewJSONWriter(path)
	require.NoError(t, err)
	for _, o := range sampleOutcomes {
		require.NoError(t, w.Write(o))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []model.Outcome
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var o model.Outcome
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		got = append(got, o)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, model.StatusFailed, got[1].Status)
	assert.Equal(t, "ConnectionError", got[1].ErrorKind)
}

func TestJSONWriter_KeepsServiceErrorTextReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_manifest.jsonl")
	w, err := NewJSONWriter(path)
	require.NoError(t, err)

	o := sampleOutcomes[1]
	o.ErrorKind = "HTTPError"
	o.Error = "502: <title>Bad Gateway</title> & retry"
	require.NoError(t, w.Write(o))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":"502: <title>Bad Gateway</title> & retry"`)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
}

func TestJSONWriter_MissingDirectory(t *testing.T) {
	_, err := NewJSONWriter(filepath.Join(t.TempDir(), "missing", "m.jsonl"))
	assert.ErrorContains(t, err, "failed to create manifest")
}

func TestSummary_CountsAndRender(t *testing.T) {
	outcomes := append([]model.Outcome{
		{Scenario: "img2img", Name: "img2img", Status: model.StatusCached, Samples: 1},
		{Scenario: "sdxl", Name: "sdxl", Status: model.StatusSkipped},
	}, sampleOutcomes...)

	s := NewSummary(outcomes)
	assert.Equal(t, 1, s.Counts[model.StatusCached])
	assert.Equal(t, 1, s.Counts[model.StatusGenerated])
	assert.Equal(t, 1, s.Counts[model.StatusFailed])
	assert.Equal(t, 1, s.Counts[model.StatusSkipped])
	assert.Equal(t, 4, s.Images)
	assert.True(t, s.Failed())

	out := s.Render(false)
	assert.Contains(t, out, "inpaint")
	assert.Contains(t, out, "ConnectionError")
	assert.Contains(t, out, "1 cached, 1 generated, 1 failed, 1 skipped")
	assert.Contains(t, out, "Scenario")
	assert.Contains(t, out, "2s")
	assert.NotContains(t, out, "2S")

	md := s.Render(true)
	assert.True(t, strings.HasPrefix(md, "|"), md)

	var sb strings.Builder
	require.NoError(t, s.Write(&sb, false))
	assert.Equal(t, out+"\n", sb.String())
}

func TestSummary_NoFailures(t *testing.T) {
	assert.False(t, NewSummary(sampleOutcomes[:1]).Failed())
}

func TestSize(t *testing.T) {
	assert.Equal(t, "1.5 kB", Size(1500))
	assert.Equal(t, "unknown", Size(-1))
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
