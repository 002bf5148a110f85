/*
PURPOSE:
  Composes every recorded result into one captioned contact sheet for visual review.

REQUIREMENTS:
  User-specified:
  - Fixed column count; rows = total/columns + 1.
  - Each image fit-to-square (contain, centered) in its cell.
  - Caption under each cell: quoted name, 1-based sample, original size.

  Implementation-discovered:
  - Cell fitting is CPU-bound and independent per cell, so it runs on a
    bounded errgroup. Placement is decided by Layout before any work starts,
    so output does not depend on scheduling.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner), internal/cli (grid)
  - Uses: internal/model (Results), internal/render (text)

ERROR HANDLING:
  - Zero results returns ErrNoResults.
  - Context cancellation aborts fitting.

IMPLEMENTATION RULES:
  - Cell order is (test order, sample order), left to right, top to bottom.

USAGE:
  c := grid.New(4, 256, 50)
  sheet, err := c.Compose(ctx, results)

RELATED FILES:
  - internal/render/text.go
  - internal/store/store.go (SaveComposite)

MAINTENANCE:
  - None.
*/

package grid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"runtime"

	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/render"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/sync/errgroup"
)

// ErrNoResults is returned when there is nothing to compose.
var ErrNoResults = errors.New("no results to compose")

// Caption offsets relative to the cell origin.
const (
	captionInsetX = 5
	captionInsetY = 2
)

// Compositor lays results out on a fixed-column grid.
type Compositor struct {
	Columns       int
	CellSize      int
	CaptionHeight int
	Wrap          int
	Workers       int
	Background    color.Color
	Foreground    color.Color
	Face          font.Face
}

// New returns a Compositor with white cells, black captions and a 40-character wrap.
func New(columns, cellSize, captionHeight int) *Compositor {
	return &Compositor{
		Columns:       columns,
		CellSize:      cellSize,
		CaptionHeight: captionHeight,
		Wrap:          40,
		Workers:       runtime.GOMAXPROCS(0),
		Background:    color.White,
		Foreground:    color.Black,
		Face:          render.DefaultFace,
	}
}

// Cell is one placed sample.
type Cell struct {
	Name    string
	Sample  int // 0-based
	Col     int
	Row     int
	Width   int // original width
	Height  int // original height
	Caption string
	Source  image.Image
}

// Caption formats the text shown under a cell.
func Caption(name string, sample, width, height int) string {
	return fmt.Sprintf("\"%s\", sample %d, %d×%d", name, sample+1, width, height)
}

// Dimensions returns canvas width, height and row count for total cells.
// Fewer cells than columns shrink the canvas to the cells present.
func (c *Compositor) Dimensions(total int) (width, height, rows int) {
	cols := c.Columns
	if total < cols {
		cols = total
	}
	rows = total/c.Columns + 1
	return cols * c.CellSize, rows * (c.CellSize + c.CaptionHeight), rows
}

// Layout flattens results into cells in grid order.
func (c *Compositor) Layout(results *model.Results) []Cell {
	var cells []Cell
	row, col := 0, 0
	for _, name := range results.Names() {
		images, _ := results.Get(name)
		for i, img := range images {
			b := img.Bounds()
			cells = append(cells, Cell{
				Name:    name,
				Sample:  i,
				Col:     col,
				Row:     row,
				Width:   b.Dx(),
				Height:  b.Dy(),
				Caption: Caption(name, i, b.Dx(), b.Dy()),
				Source:  img,
			})
			col++
			if col >= c.Columns {
				row++
				col = 0
			}
		}
	}
	return cells
}

// Origin returns the top-left pixel of a cell's image area.
func (c *Compositor) Origin(col, row int) image.Point {
	return image.Pt(col*c.CellSize, row*(c.CellSize+c.CaptionHeight))
}

// Compose renders the contact sheet.
func (c *Compositor) Compose(ctx context.Context, results *model.Results) (*image.RGBA, error) {
	if c.Columns < 1 || c.CellSize < 1 {
		return nil, fmt.Errorf("invalid grid geometry: columns=%d cell=%d", c.Columns, c.CellSize)
	}

	cells := c.Layout(results)
	if len(cells) == 0 {
		return nil, ErrNoResults
	}

	fitted := make([]*image.RGBA, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	if c.Workers > 0 {
		g.SetLimit(c.Workers)
	}
	for i, cell := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fitted[i] = Fit(cell.Source, c.CellSize, c.Background)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fit grid cells: %w", err)
	}

	width, height, _ := c.Dimensions(len(cells))
	sheet := image.NewRGBA(image.Rect(0, 0, width, height))
	render.Fill(sheet, c.Background)

	for i, cell := range cells {
		origin := c.Origin(cell.Col, cell.Row)
		dst := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(c.CellSize, c.CellSize))}
		draw.Draw(sheet, dst, fitted[i], image.Point{}, draw.Src)

		render.DrawText(sheet, c.Face,
			origin.X+captionInsetX,
			origin.Y+c.CellSize+captionInsetY,
			render.Wrap(cell.Caption, c.Wrap),
			c.Foreground,
		)
	}
	return sheet, nil
}

// Fit scales img to fit within a size×size square, preserving aspect ratio,
// centered on a background-filled canvas.
func Fit(img image.Image, size int, bg color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	render.Fill(canvas, bg)

	b := img.Bounds()
	if b.Empty() {
		return canvas
	}

	w, h := b.Dx(), b.Dy()
	var fw, fh int
	if w >= h {
		fw = size
		fh = max(1, h*size/w)
	} else {
		fh = size
		fw = max(1, w*size/h)
	}

	x := (size - fw) / 2
	y := (size - fh) / 2
	draw.CatmullRom.Scale(canvas, image.Rect(x, y, x+fw, y+fh), img, b, draw.Over, nil)
	return canvas
}
