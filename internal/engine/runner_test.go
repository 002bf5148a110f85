package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/daryltucker/sheet-runner/internal/config"
	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/scenario"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	fetches []string
	err     error
}

func (f *fakeImages) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	f.fetches = append(f.fetches, ref)
	if f.err != nil {
		return nil, f.err
	}
	return solid(8, 8, color.RGBA{255, 255, 0, 255}), nil
}

const testBattery = `
version: 1
scenarios:
  - name: txt2img
    params: {prompt: a house}
  - name: img2img
    params:
      prompt: a house
      nodes:
        - image: result:txt2img
          infer: true
  - name: inpaint
    params:
      nodes:
        - image: https://example.com/boy.png
          mask: https://example.com/boy_mask.png
          inpaint: true
  - name: outpaint
    params:
      nodes:
        - image: https://example.com/boy.png
  - name: sdxl
    requires: [sdxl.safetensors]
    params: {model: sdxl.safetensors}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Checkpoint = "base.safetensors"
	cfg.CheckpointURL = "https://example.com/base"
	cfg.DefaultModel = "base.safetensors"
	cfg.Grid.CellSize = 32
	cfg.Grid.CaptionHeight = 10
	cfg.Placeholder.Size = 32
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config, remote *fakeRemote, images *fakeImages) (*Runner, *bytes.Buffer) {
	t.Helper()
	battery, err := scenario.Parse([]byte(testBattery))
	require.NoError(t, err)

	r := NewRunner(cfg, remote, images, battery)
	var out bytes.Buffer
	r.Out = &out
	return r, &out
}

func statuses(outcomes []model.Outcome) map[string]model.Status {
	m := make(map[string]model.Status)
	for _, o := range outcomes {
		m[o.Scenario] = o.Status
	}
	return m
}

func TestRunner_FullRun(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{status: model.ServiceStatus{Raw: map[string]any{"gpu": map[string]any{"name": "RTX"}}}}
	images := &fakeImages{}
	r, out := newTestRunner(t, cfg, remote, images)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "RTX", report.GPU)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"checkpoint:base.safetensors"}, remote.downloads)

	want := map[string]model.Status{
		"txt2img":  model.StatusGenerated,
		"img2img":  model.StatusGenerated,
		"inpaint":  model.StatusGenerated,
		"outpaint": model.StatusGenerated,
		"sdxl":     model.StatusSkipped,
	}
	if diff := cmp.Diff(want, statuses(report.Outcomes)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, remote.invokes)
	for _, o := range report.Outcomes {
		assert.Equal(t, report.RunID, o.RunID)
	}

	// img2img is fed the first txt2img image.
	require.Len(t, remote.params[1].Nodes, 1)
	assert.NotNil(t, remote.params[1].Nodes[0].Image)
	assert.Equal(t, image.Rect(0, 0, 512, 512), remote.params[1].Nodes[0].Image.Bounds())

	// Remote references are fetched once per run.
	assert.Equal(t, []string{"https://example.com/boy.png", "https://example.com/boy_mask.png"}, images.fetches)
	assert.NotNil(t, remote.params[2].Nodes[0].Mask)

	assert.Equal(t, filepath.Join(cfg.OutputDir, "grid.png"), report.GridPath)
	assert.FileExists(t, report.GridPath)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, ManifestCSV))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, ManifestJSON))
	assert.Contains(t, out.String(), "1 skipped")
	assert.Equal(t, []string{"txt2img", "img2img", "inpaint", "outpaint"}, report.Results.Names())
}

func TestRunner_RerunIsServedFromDisk(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{ckpts: map[string]bool{"base.safetensors": true}}
	images := &fakeImages{}
	r, _ := newTestRunner(t, cfg, remote, images)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	invokes, fetches := remote.invokes, len(images.fetches)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, invokes, remote.invokes)
	assert.Len(t, images.fetches, fetches)
	assert.Empty(t, remote.downloads)
	assert.Equal(t, model.StatusCached, statuses(report.Outcomes)["img2img"])
}

func TestRunner_FetchFailureIsRecordedNotFatal(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{}
	images := &fakeImages{err: model.Errorf(model.KindHTTP, "404 Not Found")}
	r, _ := newTestRunner(t, cfg, remote, images)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	got := statuses(report.Outcomes)
	assert.Equal(t, model.StatusFailed, got["inpaint"])
	assert.Equal(t, model.StatusFailed, got["outpaint"])
	assert.Contains(t, report.Results.Names(), "inpaint (HTTPError)")
	assert.FileExists(t, report.GridPath)
}

func TestRunner_StatusAndCheckpointErrorsAreWarnings(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{
		statusErr: errors.New("down"),
		downloadFn: func(kind, url, filename string) error {
			return errors.New("no space left")
		},
	}
	r, _ := newTestRunner(t, cfg, remote, &fakeImages{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Unknown GPU", report.GPU)
	assert.Len(t, remote.downloads, 1)
	assert.Equal(t, 4, remote.invokes)
}

func TestRunner_RequiredCheckpointPresent(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{ckpts: map[string]bool{"base.safetensors": true, "sdxl.safetensors": true}}
	r, _ := newTestRunner(t, cfg, remote, &fakeImages{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerated, statuses(report.Outcomes)["sdxl"])
	assert.Equal(t, "sdxl.safetensors", remote.params[4].Model)
}

func TestRunner_CanceledContext(t *testing.T) {
	cfg := testConfig(t)
	remote := &fakeRemote{}
	r, _ := newTestRunner(t, cfg, remote, &fakeImages{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.GridPath)
	assert.Equal(t, 0, remote.invokes)
	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, "grid.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_NothingToCompose(t *testing.T) {
	cfg := testConfig(t)
	battery, err := scenario.Parse([]byte("scenarios: [{name: sdxl, requires: [sdxl.safetensors]}]"))
	require.NoError(t, err)

	r := NewRunner(cfg, &fakeRemote{}, &fakeImages{}, battery)
	r.Out = nil

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.GridPath)
	assert.Len(t, report.Outcomes, 1)
}

func TestRunner_Recompose(t *testing.T) {
	cfg := testConfig(t)
	r, _ := newTestRunner(t, cfg, nil, nil)

	one := []image.Image{solid(16, 16, color.RGBA{A: 255})}
	require.NoError(t, r.Store.Save("txt2img", one))
	require.NoError(t, r.Store.Save("inpaint (Timeout)", append(one, one...)))
	require.NoError(t, r.Store.Save("unrelated", one))

	results, path, err := r.Recompose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"txt2img", "inpaint (Timeout)"}, results.Names())
	assert.Equal(t, 3, results.Total())
	assert.FileExists(t, path)
}

func TestRunner_RecomposeEmpty(t *testing.T) {
	r, _ := newTestRunner(t, testConfig(t), nil, nil)
	_, _, err := r.Recompose(context.Background())
	assert.Error(t, err)
}
