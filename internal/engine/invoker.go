/*
PURPOSE:
  Runs one named scenario against the remote service with caching and
  failure-to-image conversion.

REQUIREMENTS:
  User-specified:
  - A scenario with results on disk is never sent to the service again.
  - Every request uses the same seed and step count so reruns are comparable.
  - A failing scenario never aborts the batch; it becomes a placeholder image
    stored under "<name> (<Kind>)".

  Implementation-discovered:
  - The invocation handle is deleted after every fetch attempt so the server
    does not accumulate finished jobs.
  - An interrupted run (context canceled) must not be cached as a failure,
    otherwise the next run would skip the scenario.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner)
  - Uses: internal/store, internal/render, internal/model, Remote

ERROR HANDLING:
  - Remote errors are converted, logged and recorded. Never returned.
  - Store errors are returned; they are fatal to the run.
  - Context cancellation is returned as-is.

IMPLEMENTATION RULES:
  - No retries.
  - Sequential only; the Invoker holds no locks.

USAGE:
  iv := engine.NewInvoker(client, st, renderer, cfg.Defaults())
  images, err := iv.Run(ctx, "txt2img", params, results)

RELATED FILES:
  - internal/engine/remote.go
  - internal/store/store.go
  - internal/render/placeholder.go

MAINTENANCE:
  - Keep the naming contract ("<name> (<Kind>)") stable; it is how reruns find results.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/daryltucker/sheet-runner/internal/render"
	"github.com/daryltucker/sheet-runner/internal/store"
)

// Invoker is the caching invocation engine.
type Invoker struct {
	Remote   Remote
	Store    *store.ImageStore
	Renderer *render.Renderer
	Defaults model.Defaults

	// ReuseFailures makes a stored "<name> (<Kind>)" result count as cached.
	ReuseFailures bool

	// RunID is stamped on every outcome.
	RunID string

	// OnOutcome, when set, receives every scenario outcome.
	OnOutcome func(model.Outcome)

	// Resolve, when set, fills in node images right before a request is sent.
	// It is not called for cached scenarios. Its errors are recorded like
	// service failures.
	Resolve func(ctx context.Context, params model.Params) (model.Params, error)

	logger *slog.Logger
	now    func() time.Time
}

// NewInvoker builds an Invoker.
func NewInvoker(remote Remote, st *store.ImageStore, renderer *render.Renderer, defaults model.Defaults) *Invoker {
	return &Invoker{
		Remote:   remote,
		Store:    st,
		Renderer: renderer,
		Defaults: defaults,
		logger:   output.New("engine"),
		now:      time.Now,
	}
}

// Run executes scenario name and records its images in results under the
// effective name. Only store errors and context cancellation are returned.
func (iv *Invoker) Run(ctx context.Context, name string, params model.Params, results *model.Results) ([]image.Image, error) {
	outcome, images, err := iv.Invoke(ctx, name, params)
	if err != nil {
		return nil, err
	}
	results.Add(outcome.Name, images)
	if iv.OnOutcome != nil {
		iv.OnOutcome(outcome)
	}
	return images, nil
}

// Invoke executes scenario name without recording it.
func (iv *Invoker) Invoke(ctx context.Context, name string, params model.Params) (model.Outcome, []image.Image, error) {
	start := iv.now()
	outcome := model.Outcome{
		RunID:     iv.RunID,
		Scenario:  name,
		Name:      name,
		Timestamp: start,
	}

	cached, images, err := iv.Store.Find(name, iv.ReuseFailures)
	if err != nil {
		return outcome, nil, err
	}
	if cached != "" {
		iv.logger.Info("Found existing results, skipping test", "name", cached, "samples", len(images))
		outcome.Name = cached
		outcome.Status = model.StatusCached
		outcome.Samples = len(images)
		outcome.Duration = iv.now().Sub(start)
		return outcome, images, nil
	}

	canonical := params.Canonical(iv.Defaults)
	iv.logger.Info("Testing",
		"name", name,
		"model", canonical.Model,
		"prompt", canonical.Prompt,
		"nodes", len(canonical.Nodes),
		"samples", canonical.SampleCount(),
	)

	images, invokeErr := iv.call(ctx, canonical)
	if invokeErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, nil, fmt.Errorf("invocation %s interrupted: %w", name, ctxErr)
		}

		var kind string
		images, kind = iv.Renderer.Render(invokeErr, canonical.SampleCount())
		iv.logger.Error("Error in invocation", "name", name, "kind", kind, "error", invokeErr)

		outcome.Name = model.AnnotatedName(name, kind)
		outcome.Status = model.StatusFailed
		outcome.ErrorKind = kind
		outcome.Error = invokeErr.Error()
	} else {
		outcome.Status = model.StatusGenerated
	}

	if err := iv.Store.Save(outcome.Name, images); err != nil {
		return outcome, nil, fmt.Errorf("failed to save results for %s: %w", outcome.Name, err)
	}

	outcome.Samples = len(images)
	outcome.Duration = iv.now().Sub(start)
	return outcome, images, nil
}

// call resolves and submits params, then fetches the results. The invocation is deleted
// whenever one was created, whatever the fetch outcome.
func (iv *Invoker) call(ctx context.Context, params model.Params) ([]image.Image, error) {
	if iv.Resolve != nil {
		resolved, err := iv.Resolve(ctx, params)
		if err != nil {
			return nil, err
		}
		params = resolved
	}

	inv, err := iv.Remote.Invoke(ctx, params)
	if err != nil {
		return nil, err
	}

	images, err := inv.Results(ctx)
	if derr := inv.Delete(context.WithoutCancel(ctx)); derr != nil {
		iv.logger.Warn("Failed to delete invocation", "error", derr)
	}
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, model.NewInvocationError(model.KindInvocationFailed, errors.New("invocation completed without images"))
	}
	return images, nil
}
