/*
PURPOSE:
  HTTP client for the remote diffusion service.
  Submits invocations, polls them to completion, fetches result images,
  and exposes status, checkpoint listing and checkpoint download.

REQUIREMENTS:
  User-specified:
  - invoke(params) -> images, status(), checkpoints(), download(kind, url, filename).

  Implementation-discovered:
  - Every response is wrapped in {"data": ...}.
  - Invocations are asynchronous: POST returns a uuid, GET polls status
    (queued / processing / completed / error), images are fetched by path.
  - Node images travel as PNG data URIs (see model.Node.MarshalJSON).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Invoker, Runner), internal/cli
  - Implements: engine.Remote, engine.ImageSource

ERROR HANDLING:
  - All failures are *model.InvocationError with a Kind:
    ConnectionError, HTTPError, InvocationFailed, DecodeError, Timeout.
  - No retries here; the harness records a failure once.

IMPLEMENTATION RULES:
  - Use net/http with a cloned transport.
  - ResponseHeaderTimeout bounds a single request; InvocationTimeout bounds polling.

USAGE:
  c := engine.NewClient(cfg)
  inv, err := c.Invoke(ctx, params)
  images, err := inv.Results(ctx)
  _ = inv.Delete(ctx)

SELF-HEALING INSTRUCTIONS:
  - If the service API changes, update the endpoint constants below.

RELATED FILES:
  - internal/config/config.go
  - internal/model/params.go

MAINTENANCE:
  - Update for new service API features.
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/daryltucker/sheet-runner/internal/config"
	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

const (
	pathInvoke      = "/api/invoke"
	pathInvocation  = "/api/invocation/"
	pathStatus      = "/api/status"
	pathCheckpoints = "/api/checkpoints"
	pathDownload    = "/api/download"

	headerClientID = "X-Client-ID"
	maxErrorBody   = 512
)

// Invocation states reported by the service.
const (
	stateQueued     = "queued"
	stateProcessing = "processing"
	stateCompleted  = "completed"
	stateError      = "error"
)

// Client talks to the remote service over HTTP.
type Client struct {
	BaseURL           string
	HTTP              *http.Client
	ClientID          string
	PollInterval      time.Duration
	InvocationTimeout time.Duration

	logger *slog.Logger
}

// NewClient creates a Client from the configuration.
func NewClient(cfg *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// ResponseHeaderTimeout covers the time until we receive the first response byte.
	transport.ResponseHeaderTimeout = cfg.RequestTimeout

	return &Client{
		BaseURL:           strings.TrimRight(cfg.URL, "/"),
		HTTP:              &http.Client{Transport: transport},
		ClientID:          uuid.NewString(),
		PollInterval:      cfg.PollInterval,
		InvocationTimeout: cfg.InvocationTimeout,
		logger:            output.New("client"),
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// do sends a request and decodes the enveloped response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return model.Errorf(model.KindDecode, "failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := c.send(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Errorf(model.KindConnection, "failed to read response body: %w", err)
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Errorf(model.KindDecode, "service returned invalid JSON: %w (Body: %s)", err, truncate(data))
	}
	if len(env.Data) == 0 {
		return model.Errorf(model.KindDecode, "service response has no data (Body: %s)", truncate(data))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return model.Errorf(model.KindDecode, "unexpected response shape: %w", err)
	}
	return nil
}

// send performs the HTTP exchange and classifies transport and status failures.
func (c *Client) send(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, model.Errorf(model.KindConnection, "failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerClientID, c.ClientID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "awaiting headers") {
			return nil, model.Errorf(model.KindTimeout, "request timed out: %w", err)
		}
		return nil, model.Errorf(model.KindConnection, "network/connection error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, model.Errorf(model.KindHTTP, "service error (%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func truncate(data []byte) string {
	if len(data) > maxErrorBody {
		return string(data[:maxErrorBody]) + "..."
	}
	return string(data)
}

// invocationState is the polled status document of one invocation.
type invocationState struct {
	UUID     string   `json:"uuid"`
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Images   []string `json:"images"`
	Progress *float64 `json:"progress"`
	Step     *int     `json:"step"`
	Total    *int     `json:"total"`
}

// Invoke submits params and returns a handle on the queued invocation.
func (c *Client) Invoke(ctx context.Context, params model.Params) (Invocation, error) {
	var state invocationState
	if err := c.do(ctx, http.MethodPost, pathInvoke, params, &state); err != nil {
		return nil, err
	}
	if state.UUID == "" {
		return nil, model.Errorf(model.KindDecode, "service did not return an invocation uuid")
	}
	c.logger.Debug("Invocation submitted", "uuid", state.UUID, "status", state.Status)
	return &httpInvocation{client: c, uuid: state.UUID}, nil
}

type httpInvocation struct {
	client *Client
	uuid   string
}

// Results polls until the invocation completes, then downloads its images.
func (inv *httpInvocation) Results(ctx context.Context) ([]image.Image, error) {
	c := inv.client

	pollCtx := ctx
	if c.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, c.InvocationTimeout)
		defer cancel()
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var state invocationState
		if err := c.do(pollCtx, http.MethodGet, pathInvocation+url.PathEscape(inv.uuid), nil, &state); err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return nil, model.Errorf(model.KindTimeout, "invocation %s did not finish within %s", inv.uuid, c.InvocationTimeout)
			}
			return nil, err
		}

		switch state.Status {
		case stateCompleted:
			return inv.fetch(pollCtx, state.Images)
		case stateError:
			msg := state.Message
			if msg == "" {
				msg = "invocation reported an error"
			}
			return nil, model.Errorf(model.KindInvocationFailed, "%s", msg)
		case stateQueued, stateProcessing, "":
			attrs := []any{"uuid", inv.uuid, "status", state.Status}
			if state.Step != nil && state.Total != nil {
				attrs = append(attrs, "step", *state.Step, "total", *state.Total)
			}
			c.logger.Debug("Invocation pending", attrs...)
		default:
			c.logger.Debug("Invocation in unrecognized state", "uuid", inv.uuid, "status", state.Status)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, model.Errorf(model.KindTimeout, "invocation %s did not finish within %s", inv.uuid, c.InvocationTimeout)
		case <-ticker.C:
		}
	}
}

func (inv *httpInvocation) fetch(ctx context.Context, paths []string) ([]image.Image, error) {
	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := inv.client.fetchURL(ctx, inv.client.BaseURL+pathInvocation+escapePath(p))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Delete releases the invocation on the server.
func (inv *httpInvocation) Delete(ctx context.Context) error {
	return inv.client.do(ctx, http.MethodDelete, pathInvocation+url.PathEscape(inv.uuid), nil, nil)
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Status returns the service status document.
func (c *Client) Status(ctx context.Context) (model.ServiceStatus, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, pathStatus, nil, &raw); err != nil {
		return model.ServiceStatus{}, err
	}
	return model.ServiceStatus{Raw: raw}, nil
}

// Checkpoints returns the set of checkpoint names available on the service.
func (c *Client) Checkpoints(ctx context.Context) (map[string]bool, error) {
	var payload []json.RawMessage
	if err := c.do(ctx, http.MethodGet, pathCheckpoints, nil, &payload); err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(payload))
	for _, item := range payload {
		// Entries are either bare names or objects with a "name" field.
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			names[name] = true
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, model.Errorf(model.KindDecode, "unexpected checkpoint entry %s", string(item))
		}
		names[obj.Name] = true
	}
	return names, nil
}

// Download asks the service to fetch a model file into its own storage.
func (c *Client) Download(ctx context.Context, kind, rawURL, filename string) error {
	body := map[string]string{
		"type":     kind,
		"url":      rawURL,
		"filename": filename,
	}
	return c.do(ctx, http.MethodPost, pathDownload, body, nil)
}

// FetchImage loads a reference image from an http(s) URL or a local path.
func (c *Client) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return c.fetchURL(ctx, ref)
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference image %s: %w", ref, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference image %s: %w", ref, err)
	}
	return img, nil
}

func (c *Client) fetchURL(ctx context.Context, target string) (image.Image, error) {
	resp, err := c.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, model.Errorf(model.KindDecode, "failed to decode image %s: %w", target, err)
	}
	return img, nil
}
