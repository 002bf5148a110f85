/*
PURPOSE:
  Turns a failed invocation into placeholder images so the contact sheet still
  shows the scenario, with the error text where the picture would be.

REQUIREMENTS:
  User-specified:
  - A failed scenario must occupy as many grid cells as a successful one.

  Implementation-discovered:
  - The error kind is returned so the caller can annotate the test name.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Invoker)
  - Uses: internal/model (KindOf)

ERROR HANDLING:
  - None. Rendering into an in-memory canvas cannot fail.

IMPLEMENTATION RULES:
  - White square canvas, black text, fixed margin, fixed wrap width.

USAGE:
  r := render.NewRenderer(256, 40, 5)
  images, kind := r.Render(err, 3)

RELATED FILES:
  - internal/render/text.go
*/

package render

import (
	"image"
	"image/color"

	"github.com/daryltucker/sheet-runner/internal/model"
	"golang.org/x/image/font"
)

// Renderer draws error placeholders.
type Renderer struct {
	Size       int
	Wrap       int
	Margin     int
	Background color.Color
	Foreground color.Color
	Face       font.Face
}

// NewRenderer returns a Renderer with a white background and black text.
func NewRenderer(size, wrap, margin int) *Renderer {
	return &Renderer{
		Size:       size,
		Wrap:       wrap,
		Margin:     margin,
		Background: color.White,
		Foreground: color.Black,
		Face:       DefaultFace,
	}
}

// Render returns samples copies of a placeholder showing err, plus err's kind.
func (r *Renderer) Render(err error, samples int) ([]image.Image, string) {
	if samples < 1 {
		samples = 1
	}
	kind := model.KindOf(err)

	canvas := image.NewRGBA(image.Rect(0, 0, r.Size, r.Size))
	Fill(canvas, r.Background)

	text := kind
	if err != nil {
		text = err.Error()
	}
	DrawText(canvas, r.Face, r.Margin, r.Margin, Wrap(text, r.Wrap), r.Foreground)

	images := make([]image.Image, samples)
	for i := range images {
		images[i] = canvas
	}
	return images, kind
}
