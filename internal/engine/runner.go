/*
PURPOSE:
  High-level runner that orchestrates one regression pass.
  Checks the service, makes sure the base checkpoint is installed, runs every
  scenario of the battery in order, writes the run manifest and composes the
  contact sheet.

REQUIREMENTS:
  User-specified:
  - Run the whole battery; one failing scenario never stops the others.
  - Log outcomes to CSV/JSON.
  - Finish with a single grid image of every result.

  Implementation-discovered:
  - Later scenarios feed on earlier outputs ("result:txt2img"), so outputs
    are tracked per requested name, failure placeholders included.
  - Reference images are only fetched when a scenario actually has to run;
    a fully cached rerun makes no network calls besides status/checkpoints.
  - The grid can be rebuilt from disk alone (Recompose).

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine (Invoker, Client), internal/scenario, internal/store,
    internal/grid, internal/output

ERROR HANDLING:
  - Logs errors but continues (resilience): status, checkpoint listing and
    download failures are warnings; scenario failures become placeholders.
  - Returns on store errors and on context cancellation. The manifest rows
    written so far stay on disk.

IMPLEMENTATION RULES:
  - Scenarios run sequentially, in battery order.
  - Manifest rows are written as outcomes arrive.

USAGE:
  report, err := engine.Run(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - If the manifest file names change, update ManifestCSV / ManifestJSON and the docs.

RELATED FILES:
  - internal/engine/invoker.go
  - internal/engine/client.go
  - internal/scenario/scenario.go

MAINTENANCE:
  - Update iteration logic if parallelism is introduced.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daryltucker/sheet-runner/internal/config"
	"github.com/daryltucker/sheet-runner/internal/grid"
	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/daryltucker/sheet-runner/internal/render"
	"github.com/daryltucker/sheet-runner/internal/scenario"
	"github.com/daryltucker/sheet-runner/internal/store"
	"github.com/google/uuid"
)

// Manifest file names inside the output directory.
const (
	ManifestCSV  = "run_manifest.csv"
	ManifestJSON = "run_manifest.jsonl"
)

// CheckpointKind is the download type for base models.
const CheckpointKind = "checkpoint"

// RunReport describes a finished (or interrupted) run.
type RunReport struct {
	RunID    string
	GPU      string
	Outcomes []model.Outcome
	Results  *model.Results
	GridPath string
}

// Summary tallies the report's outcomes.
func (r *RunReport) Summary() output.Summary {
	return output.NewSummary(r.Outcomes)
}

// Runner drives a battery through an Invoker.
type Runner struct {
	Remote  Remote
	Images  ImageSource
	Battery *scenario.Battery
	Store   *store.ImageStore
	Invoker *Invoker
	Grid    *grid.Compositor

	Checkpoint    string
	CheckpointURL string

	// Out receives the summary table; nil disables it.
	Out io.Writer

	logger *slog.Logger
}

// NewRunner wires a Runner from the configuration.
// Remote and images may be nil when only Recompose is used.
func NewRunner(cfg *config.Config, remote Remote, images ImageSource, battery *scenario.Battery) *Runner {
	st := store.New(cfg.OutputDir, cfg.ImageExt)
	renderer := render.NewRenderer(cfg.Placeholder.Size, cfg.Placeholder.Wrap, cfg.Placeholder.Margin)

	iv := NewInvoker(remote, st, renderer, cfg.Defaults())
	iv.ReuseFailures = cfg.ReuseFailures

	compositor := grid.New(cfg.Grid.Columns, cfg.Grid.CellSize, cfg.Grid.CaptionHeight)
	if cfg.Grid.Wrap > 0 {
		compositor.Wrap = cfg.Grid.Wrap
	}

	return &Runner{
		Remote:        remote,
		Images:        images,
		Battery:       battery,
		Store:         st,
		Invoker:       iv,
		Grid:          compositor,
		Checkpoint:    cfg.Checkpoint,
		CheckpointURL: cfg.CheckpointURL,
		Out:           os.Stdout,
		logger:        output.New("runner"),
	}
}

// Run executes the configured battery against the configured service.
func Run(ctx context.Context, cfg *config.Config) (*RunReport, error) {
	battery, err := scenario.Load(cfg.ScenarioFile)
	if err != nil {
		return nil, err
	}
	client := NewClient(cfg)
	return NewRunner(cfg, client, client, battery).Run(ctx)
}

// Run executes every scenario and composes the contact sheet.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.NewString(),
		GPU:     "Unknown GPU",
		Results: model.NewResults(),
	}
	logger := r.logger.With("run_id", report.RunID)
	r.Invoker.RunID = report.RunID

	scenarios := r.Battery.Expand()

	status, err := r.Remote.Status(ctx)
	if err != nil {
		logger.Warn("Failed to read service status", "error", err)
	} else {
		report.GPU = status.GPUName()
	}
	logger.Info("Starting e2e test", "gpu", report.GPU, "scenarios", len(scenarios), "output", r.Store.Dir)

	available := r.ensureCheckpoint(ctx, logger)

	// Setup Outputs
	if err := os.MkdirAll(r.Store.Dir, 0755); err != nil {
		return report, fmt.Errorf("failed to create output directory %s: %w", r.Store.Dir, err)
	}

	csvPath := filepath.Join(r.Store.Dir, ManifestCSV)
	csvWriter, err := output.NewCSVWriter(csvPath)
	if err != nil {
		return report, fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}
	defer csvWriter.Close()

	jsonPath := filepath.Join(r.Store.Dir, ManifestJSON)
	jsonWriter, err := output.NewJSONWriter(jsonPath)
	if err != nil {
		return report, err
	}
	defer jsonWriter.Close()

	record := func(o model.Outcome) {
		report.Outcomes = append(report.Outcomes, o)
		if err := csvWriter.Write(o); err != nil {
			logger.Error("Failed to write outcome to CSV", "name", o.Name, "error", err)
		}
		if err := jsonWriter.Write(o); err != nil {
			logger.Error("Failed to write outcome to JSON", "name", o.Name, "error", err)
		}
	}

	produced := make(map[string][]image.Image)
	fetched := make(map[string]image.Image)
	r.Invoker.OnOutcome = record
	r.Invoker.Resolve = func(ctx context.Context, p model.Params) (model.Params, error) {
		return r.resolve(ctx, p, produced, fetched)
	}

	for _, s := range scenarios {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run interrupted before %s: %w", s.Name, err)
		}

		if missing := s.Missing(available); len(missing) > 0 {
			logger.Info("Skipping scenario, checkpoint not installed", "name", s.Name, "missing", missing)
			record(model.Outcome{
				RunID:     report.RunID,
				Scenario:  s.Name,
				Name:      s.Name,
				Status:    model.StatusSkipped,
				Error:     "missing checkpoints: " + strings.Join(missing, ", "),
				Timestamp: time.Now(),
			})
			continue
		}

		images, err := r.Invoker.Run(ctx, s.Name, s.Params, report.Results)
		if err != nil {
			return report, err
		}
		produced[s.Name] = images
	}

	if r.Out != nil {
		if err := report.Summary().Write(r.Out, false); err != nil {
			logger.Warn("Failed to print summary", "error", err)
		}
	}

	path, err := r.compose(ctx, report.Results)
	if errors.Is(err, grid.ErrNoResults) {
		logger.Warn("No results to compose, grid not written")
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.GridPath = path
	return report, nil
}

// Recompose rebuilds the contact sheet from stored results without
// contacting the service. Failure placeholders are included.
func (r *Runner) Recompose(ctx context.Context) (*model.Results, string, error) {
	results := model.NewResults()
	for _, s := range r.Battery.Expand() {
		name, images, err := r.Store.Find(s.Name, true)
		if err != nil {
			return results, "", err
		}
		if name == "" {
			r.logger.Debug("No stored results", "name", s.Name)
			continue
		}
		results.Add(name, images)
	}

	path, err := r.compose(ctx, results)
	return results, path, err
}

func (r *Runner) compose(ctx context.Context, results *model.Results) (string, error) {
	sheet, err := r.Grid.Compose(ctx, results)
	if err != nil {
		return "", err
	}
	path, err := r.Store.SaveComposite(sheet)
	if err != nil {
		return "", err
	}

	size := int64(-1)
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	b := sheet.Bounds()
	r.logger.Info("Saved grid result",
		"path", path,
		"cells", results.Total(),
		"width", b.Dx(),
		"height", b.Dy(),
		"size", output.Size(size),
	)
	return path, nil
}

// ensureCheckpoint returns the installed checkpoints, downloading the base
// checkpoint first when it is missing.
func (r *Runner) ensureCheckpoint(ctx context.Context, logger *slog.Logger) map[string]bool {
	listed, err := r.Remote.Checkpoints(ctx)
	if err != nil {
		logger.Warn("Failed to list checkpoints", "error", err)
		return map[string]bool{}
	}
	available := maps.Clone(listed)
	if available == nil {
		available = map[string]bool{}
	}

	if r.Checkpoint == "" || available[r.Checkpoint] {
		return available
	}
	if r.CheckpointURL == "" {
		logger.Warn("Checkpoint not installed and no download URL configured", "checkpoint", r.Checkpoint)
		return available
	}

	logger.Info("Downloading checkpoint", "checkpoint", r.Checkpoint, "url", r.CheckpointURL)
	if err := r.Remote.Download(ctx, CheckpointKind, r.CheckpointURL, r.Checkpoint); err != nil {
		logger.Error("Failed to download checkpoint", "checkpoint", r.Checkpoint, "error", err)
		return available
	}
	available[r.Checkpoint] = true
	return available
}

// resolve fills node images from their references.
func (r *Runner) resolve(ctx context.Context, p model.Params, produced map[string][]image.Image, fetched map[string]image.Image) (model.Params, error) {
	if len(p.Nodes) == 0 {
		return p, nil
	}

	nodes := make([]model.Node, len(p.Nodes))
	copy(nodes, p.Nodes)
	for i := range nodes {
		var err error
		if nodes[i].Image == nil && nodes[i].ImageRef != "" {
			if nodes[i].Image, err = r.reference(ctx, nodes[i].ImageRef, produced, fetched); err != nil {
				return p, err
			}
		}
		if nodes[i].Mask == nil && nodes[i].MaskRef != "" {
			if nodes[i].Mask, err = r.reference(ctx, nodes[i].MaskRef, produced, fetched); err != nil {
				return p, err
			}
		}
	}
	p.Nodes = nodes
	return p, nil
}

func (r *Runner) reference(ctx context.Context, ref string, produced map[string][]image.Image, fetched map[string]image.Image) (image.Image, error) {
	if name, ok := scenario.ResultRef(ref); ok {
		images := produced[name]
		if len(images) == 0 {
			return nil, fmt.Errorf("scenario %s has no images to use as input", name)
		}
		return images[0], nil
	}

	if img, ok := fetched[ref]; ok {
		return img, nil
	}
	if r.Images == nil {
		return nil, fmt.Errorf("no image source for %s", ref)
	}

	r.logger.Info("Fetching reference image", "ref", ref)
	img, err := r.Images.FetchImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	fetched[ref] = img
	return img, nil
}
