// Package fixture generates small synthetic simulation GIFs for tests.
package fixture

import (
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
)

// GrayPalette holds the 256 gray levels so palette index equals luminance.
func GrayPalette() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}

// Frame paints a w×h paletted frame with fill(x, y) as gray level.
func Frame(w, h int, fill func(x, y int) uint8) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), GrayPalette())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, fill(x, y))
		}
	}
	return img
}

// Uniform is a single-color frame: zero variation.
func Uniform(w, h int, level uint8) *image.Paletted {
	return Frame(w, h, func(int, int) uint8 { return level })
}

// Checker alternates black and white pixels.
func Checker(w, h int) *image.Paletted {
	return Frame(w, h, func(x, y int) uint8 {
		if (x+y)%2 == 0 {
			return 0
		}
		return 255
	})
}

// WriteGIF encodes frames as an animation with no disposal between frames.
func WriteGIF(path string, frames ...*image.Paletted) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	g := &gif.GIF{}
	for _, fr := range frames {
		g.Image = append(g.Image, fr)
		g.Delay = append(g.Delay, 10)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	if len(frames) > 0 {
		b := frames[0].Bounds()
		g.Config = image.Config{ColorModel: frames[0].Palette, Width: b.Dx(), Height: b.Dy()}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
