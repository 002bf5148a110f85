package engine

import (
	"context"
	"image"

	"github.com/daryltucker/sheet-runner/internal/model"
)

// Remote is the generative-image service the harness drives.
type Remote interface {
	Invoke(ctx context.Context, params model.Params) (Invocation, error)
	Status(ctx context.Context) (model.ServiceStatus, error)
	Checkpoints(ctx context.Context) (map[string]bool, error)
	Download(ctx context.Context, kind, url, filename string) error
}

// Invocation is a submitted request on the remote service.
type Invocation interface {
	// Results blocks until the invocation finishes and returns its images in sample order.
	Results(ctx context.Context) ([]image.Image, error)
	// Delete releases server-side resources held by the invocation.
	Delete(ctx context.Context) error
}

// ImageSource loads reference images named by URL or path.
type ImageSource interface {
	FetchImage(ctx context.Context, ref string) (image.Image, error)
}
