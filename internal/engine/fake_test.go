package engine

import (
	"context"
	"image"
	"image/color"

	"github.com/daryltucker/sheet-runner/internal/model"
)

// fakeRemote is a call-counting Remote.
type fakeRemote struct {
	invokes    int
	deletes    int
	params     []model.Params
	invokeErr  error
	resultsFn  func(p model.Params) ([]image.Image, error)
	status     model.ServiceStatus
	statusErr  error
	ckpts      map[string]bool
	downloads  []string
	downloadFn func(kind, url, filename string) error
}

func (f *fakeRemote) Invoke(ctx context.Context, params model.Params) (Invocation, error) {
	f.invokes++
	f.params = append(f.params, params)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return &fakeInvocation{remote: f, params: params}, nil
}

func (f *fakeRemote) Status(ctx context.Context) (model.ServiceStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeRemote) Checkpoints(ctx context.Context) (map[string]bool, error) {
	return f.ckpts, nil
}

func (f *fakeRemote) Download(ctx context.Context, kind, url, filename string) error {
	f.downloads = append(f.downloads, kind+":"+filename)
	if f.downloadFn != nil {
		return f.downloadFn(kind, url, filename)
	}
	if f.ckpts == nil {
		f.ckpts = map[string]bool{}
	}
	f.ckpts[filename] = true
	return nil
}

type fakeInvocation struct {
	remote *fakeRemote
	params model.Params
}

func (i *fakeInvocation) Results(ctx context.Context) ([]image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i.remote.resultsFn != nil {
		return i.remote.resultsFn(i.params)
	}
	n := i.params.SampleCount()
	images := make([]image.Image, n)
	for k := range images {
		images[k] = solid(512, 512, color.RGBA{0, 0, 255, 255})
	}
	return images, nil
}

func (i *fakeInvocation) Delete(ctx context.Context) error {
	i.remote.deletes++
	return nil
}

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
