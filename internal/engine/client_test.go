package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/daryltucker/sheet-runner/internal/config"
	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal in-memory diffusion API.
type fakeService struct {
	mu          sync.Mutex
	polls       int
	pollsBefore int    // polls answered "processing" before completion
	final       string // completed | error | never
	message     string
	deleted     []string
	invokeBody  map[string]any
	clientIDs   []string
	download    map[string]string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}

	mux.HandleFunc("POST /api/invoke", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.clientIDs = append(f.clientIDs, r.Header.Get(headerClientID))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.invokeBody))
		write(w, map[string]any{"uuid": "abc", "status": "queued"})
	})
	mux.HandleFunc("GET /api/invocation/abc", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		if f.polls <= f.pollsBefore || f.final == "never" {
			write(w, map[string]any{"uuid": "abc", "status": "processing", "step": f.polls, "total": 25})
			return
		}
		if f.final == "error" {
			write(w, map[string]any{"uuid": "abc", "status": "error", "message": f.message})
			return
		}
		write(w, map[string]any{
			"uuid":   "abc",
			"status": "completed",
			"images": []string{"abc/abc_0.png", "abc/abc_1.png"},
		})
	})
	mux.HandleFunc("GET /api/invocation/abc/{file}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		size := 16
		if r.PathValue("file") == "abc_1.png" {
			size = 32
		}
		require.NoError(t, png.Encode(w, solid(size, size/2, color.RGBA{0, 128, 0, 255})))
	})
	mux.HandleFunc("DELETE /api/invocation/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		write(w, nil)
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ready", "gpu": map[string]any{"name": "NVIDIA RTX 4090"}})
	})
	mux.HandleFunc("GET /api/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		write(w, []any{"a.safetensors", map[string]any{"name": "b.safetensors", "directory": "."}})
	})
	mux.HandleFunc("POST /api/download", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.download))
		write(w, map[string]any{"status": "queued"})
	})
	return mux
}

func newTestClient(t *testing.T, svc *fakeService) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.URL = srv.URL + "/"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.InvocationTimeout = 5 * time.Second
	return NewClient(cfg)
}

func TestClient_InvokeAndFetchResults(t *testing.T) {
	svc := &fakeService{pollsBefore: 2, final: "completed"}
	c := newTestClient(t, svc)

	params := model.Params{Prompt: "a frog"}.Canonical(model.Defaults{Seed: 1, Steps: 25, Model: "m"})
	params.Nodes = []model.Node{{Image: solid(4, 4, color.RGBA{A: 255}), Infer: true}}

	inv, err := c.Invoke(context.Background(), params)
	require.NoError(t, err)

	images, err := inv.Results(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, image.Rect(0, 0, 16, 8), images[0].Bounds())
	assert.Equal(t, image.Rect(0, 0, 32, 16), images[1].Bounds())
	require.NoError(t, inv.Delete(context.Background()))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 3, svc.polls)
	assert.Equal(t, []string{"abc"}, svc.deleted)

	assert.Equal(t, "a frog", svc.invokeBody["prompt"])
	assert.Equal(t, float64(1), svc.invokeBody["seed"])
	assert.Equal(t, false, svc.invokeBody["intermediates"])
	nodes := svc.invokeBody["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Contains(t, nodes[0].(map[string]any)["image"], "data:image/png;base64,")

	require.Len(t, svc.clientIDs, 1)
	assert.Equal(t, c.ClientID, svc.clientIDs[0])
}

func TestClient_InvocationErrorStatus(t *testing.T) {
	svc := &fakeService{final: "error", message: "CUDA out of memory"}
	c := newTestClient(t, svc)

	inv, err := c.Invoke(context.Background(), model.Params{})
	require.NoError(t, err)

	_, err = inv.Results(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindInvocationFailed, model.KindOf(err))
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestClient_InvocationTimeout(t *testing.T) {
	svc := &fakeService{final: "never"}
	c := newTestClient(t, svc)
	c.InvocationTimeout = 30 * time.Millisecond

	inv, err := c.Invoke(context.Background(), model.Params{})
	require.NoError(t, err)

	_, err = inv.Results(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindTimeout, model.KindOf(err))
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.URL = srv.URL
	c := NewClient(cfg)

	_, err := c.Invoke(context.Background(), model.Params{})
	require.Error(t, err)
	assert.Equal(t, model.KindHTTP, model.KindOf(err))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>gateway</html>")
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.URL = srv.URL
	_, err := NewClient(cfg).Status(context.Background())
	assert.Equal(t, model.KindDecode, model.KindOf(err))
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := config.DefaultConfig()
	cfg.URL = srv.URL
	_, err := NewClient(cfg).Checkpoints(context.Background())
	assert.Equal(t, model.KindConnection, model.KindOf(err))
}

func TestClient_StatusAndCheckpoints(t *testing.T) {
	c := newTestClient(t, &fakeService{})

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA RTX 4090", status.GPUName())

	ckpts, err := c.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a.safetensors": true, "b.safetensors": true}, ckpts)
}

func TestClient_Download(t *testing.T) {
	svc := &fakeService{}
	c := newTestClient(t, svc)

	err := c.Download(context.Background(), "checkpoint", "https://example.com/m", "m.safetensors")
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, map[string]string{
		"type":     "checkpoint",
		"url":      "https://example.com/m",
		"filename": "m.safetensors",
	}, svc.download)
}

func TestClient_FetchImage(t *testing.T) {
	c := newTestClient(t, &fakeService{})

	img, err := c.FetchImage(context.Background(), c.BaseURL+"/api/invocation/abc/abc_0.png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 5, color.RGBA{A: 255})))
	path := filepath.Join(t.TempDir(), "mask.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err = c.FetchImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 5), img.Bounds())

	_, err = c.FetchImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestServiceStatus_UnknownGPU(t *testing.T) {
	assert.Equal(t, "Unknown GPU", model.ServiceStatus{}.GPUName())
	assert.Equal(t, "Unknown GPU", model.ServiceStatus{Raw: map[string]any{"gpu": "yes"}}.GPUName())
}
