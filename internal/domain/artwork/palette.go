package artwork

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cenkalti/dominantcolor"
)

// PaletteSize is the number of swatches extracted per artwork.
const PaletteSize = 4

// Swatch is one extracted color.
type Swatch struct {
	Color color.RGBA `json:"-"`
	Hex   string     `json:"hex"`
}

// Palette holds the dominant colors of an artwork, most dominant first.
type Palette struct {
	Swatches []Swatch `json:"swatches"`
}

// Dominant returns the most dominant swatch, or false for an empty palette.
func (p Palette) Dominant() (Swatch, bool) {
	if len(p.Swatches) == 0 {
		return Swatch{}, false
	}
	return p.Swatches[0], true
}

// IsEmpty reports whether no colors were extracted.
func (p Palette) IsEmpty() bool {
	return len(p.Swatches) == 0
}

// ExtractPalette computes up to n dominant colors of img.
func ExtractPalette(img image.Image, n int) Palette {
	if img == nil || n <= 0 {
		return Palette{}
	}
	colors := dominantcolor.FindN(img, n)
	p := Palette{Swatches: make([]Swatch, 0, len(colors))}
	for _, c := range colors {
		p.Swatches = append(p.Swatches, Swatch{
			Color: c,
			Hex:   fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B),
		})
	}
	return p
}
