package render

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultFace is the bitmap face used for placeholders and captions.
var DefaultFace font.Face = basicfont.Face7x13

// Wrap breaks s into lines of at most width characters. Words are kept whole
// unless a single word is longer than width, in which case it is split.
// Existing newlines are honored.
func Wrap(s string, width int) []string {
	if width < 1 {
		return strings.Split(s, "\n")
	}

	var lines []string
	for _, paragraph := range strings.Split(s, "\n") {
		var line []rune
		flush := func() {
			lines = append(lines, string(line))
			line = line[:0]
		}

		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		for _, word := range words {
			w := []rune(word)
			for len(w) > width {
				if len(line) > 0 {
					flush()
				}
				line = append(line, w[:width]...)
				flush()
				w = w[width:]
			}
			if len(w) == 0 {
				continue
			}
			if len(line) > 0 && len(line)+1+len(w) > width {
				flush()
			}
			if len(line) > 0 {
				line = append(line, ' ')
			}
			line = append(line, w...)
		}
		if len(line) > 0 {
			flush()
		}
	}
	return lines
}

// DrawText draws lines onto dst with their top-left corner at (x, y).
func DrawText(dst draw.Image, face font.Face, x, y int, lines []string, c color.Color) {
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	for i, line := range lines {
		d.Dot = fixed.P(x, y+ascent+i*lineHeight)
		d.DrawString(line)
	}
}

// Fill paints the whole of dst with c.
func Fill(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
