package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
)

// Params describes one generation request. Zero values and nil pointers mean
// "unset" and are omitted from the wire payload.
type Params struct {
	Prompt         string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	NegativePrompt string `yaml:"negative_prompt,omitempty" json:"negative_prompt,omitempty"`
	Model          string `yaml:"model,omitempty" json:"model,omitempty"`
	Refiner        string `yaml:"refiner,omitempty" json:"refiner,omitempty"`
	Scheduler      string `yaml:"scheduler,omitempty" json:"scheduler,omitempty"`
	MultiScheduler string `yaml:"multi_scheduler,omitempty" json:"multi_scheduler,omitempty"`

	Seed          *int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
	Steps         *int   `yaml:"num_inference_steps,omitempty" json:"num_inference_steps,omitempty"`
	Intermediates *bool  `yaml:"intermediates,omitempty" json:"intermediates,omitempty"`
	Samples       *int   `yaml:"samples,omitempty" json:"samples,omitempty"`

	Width         *int     `yaml:"width,omitempty" json:"width,omitempty"`
	Height        *int     `yaml:"height,omitempty" json:"height,omitempty"`
	GuidanceScale *float64 `yaml:"guidance_scale,omitempty" json:"guidance_scale,omitempty"`
	ChunkingSize  *int     `yaml:"chunking_size,omitempty" json:"chunking_size,omitempty"`
	ChunkingBlur  *int     `yaml:"chunking_blur,omitempty" json:"chunking_blur,omitempty"`

	Outscale                     *int     `yaml:"outscale,omitempty" json:"outscale,omitempty"`
	Upscale                      string   `yaml:"upscale,omitempty" json:"upscale,omitempty"`
	UpscaleIterative             *bool    `yaml:"upscale_iterative,omitempty" json:"upscale_iterative,omitempty"`
	UpscaleDiffusion             *bool    `yaml:"upscale_diffusion,omitempty" json:"upscale_diffusion,omitempty"`
	UpscaleDiffusionSteps        *int     `yaml:"upscale_diffusion_steps,omitempty" json:"upscale_diffusion_steps,omitempty"`
	UpscaleDiffusionStrength     *float64 `yaml:"upscale_diffusion_strength,omitempty" json:"upscale_diffusion_strength,omitempty"`
	UpscaleDiffusionControlnet   string   `yaml:"upscale_diffusion_controlnet,omitempty" json:"upscale_diffusion_controlnet,omitempty"`
	UpscaleDiffusionChunkingSize *int     `yaml:"upscale_diffusion_chunking_size,omitempty" json:"upscale_diffusion_chunking_size,omitempty"`
	UpscaleDiffusionChunkingBlur *int     `yaml:"upscale_diffusion_chunking_blur,omitempty" json:"upscale_diffusion_chunking_blur,omitempty"`

	Nodes []Node `yaml:"nodes,omitempty" json:"nodes,omitempty"`
}

// Node is a per-region descriptor on the canvas.
// ImageRef and MaskRef hold unresolved references from a scenario file;
// the driver resolves them into Image and Mask before invoking.
type Node struct {
	Image    image.Image `yaml:"-" json:"-"`
	Mask     image.Image `yaml:"-" json:"-"`
	ImageRef string      `yaml:"image,omitempty" json:"-"`
	MaskRef  string      `yaml:"mask,omitempty" json:"-"`

	Infer            bool   `yaml:"infer,omitempty" json:"infer,omitempty"`
	Inpaint          bool   `yaml:"inpaint,omitempty" json:"inpaint,omitempty"`
	Control          bool   `yaml:"control,omitempty" json:"control,omitempty"`
	Controlnet       string `yaml:"controlnet,omitempty" json:"controlnet,omitempty"`
	RemoveBackground bool   `yaml:"remove_background,omitempty" json:"remove_background,omitempty"`

	X   *int   `yaml:"x,omitempty" json:"x,omitempty"`
	Y   *int   `yaml:"y,omitempty" json:"y,omitempty"`
	W   *int   `yaml:"w,omitempty" json:"w,omitempty"`
	H   *int   `yaml:"h,omitempty" json:"h,omitempty"`
	Fit string `yaml:"fit,omitempty" json:"fit,omitempty"`

	Prompt         string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	NegativePrompt string `yaml:"negative_prompt,omitempty" json:"negative_prompt,omitempty"`
}

// MarshalJSON sends decoded images as PNG data URIs.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	wire := struct {
		plain
		Image string `json:"image,omitempty"`
		Mask  string `json:"mask,omitempty"`
	}{plain: plain(n)}

	var err error
	if wire.Image, err = dataURI(n.Image); err != nil {
		return nil, fmt.Errorf("encode node image: %w", err)
	}
	if wire.Mask, err = dataURI(n.Mask); err != nil {
		return nil, fmt.Errorf("encode node mask: %w", err)
	}
	return json.Marshal(wire)
}

func dataURI(img image.Image) (string, error) {
	if img == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Defaults is the fixed baseline merged into every request.
type Defaults struct {
	Seed  int64
	Steps int
	Model string
}

// Canonical returns a copy of p with the baseline applied. Seed, step count
// and intermediates are always forced so runs are reproducible; Model is only
// filled when the caller left it unset.
func (p Params) Canonical(d Defaults) Params {
	out := p
	out.Nodes = append([]Node(nil), p.Nodes...)

	seed := d.Seed
	steps := d.Steps
	intermediates := false
	out.Seed = &seed
	out.Steps = &steps
	out.Intermediates = &intermediates

	if out.Model == "" {
		out.Model = d.Model
	}
	return out
}

// SampleCount returns the requested number of samples, defaulting to 1.
func (p Params) SampleCount() int {
	if p.Samples == nil || *p.Samples < 1 {
		return 1
	}
	return *p.Samples
}
