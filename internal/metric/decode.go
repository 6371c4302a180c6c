package metric

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"sync"
)

// Decoder turns a file into the luminance plane of its last frame.
type Decoder interface {
	LastFrame(path string) (*image.Gray, error)
}

var (
	decodersMu sync.RWMutex
	decoders   = map[string]func() Decoder{
		"native": func() Decoder { return NativeDecoder{} },
	}
)

func registerDecoder(name string, fn func() Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[name] = fn
}

// DecoderByName returns a registered decoder. "" selects native.
func DecoderByName(name string) (Decoder, error) {
	if name == "" {
		name = "native"
	}
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	fn, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q (available: %v)", name, decoderNames())
	}
	return fn(), nil
}

func decoderNames() []string {
	names := make([]string, 0, len(decoders))
	for n := range decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NativeDecoder decodes GIF, PNG and JPEG with the standard image packages.
// Animated GIFs are composited frame by frame so the last frame is the image
// a viewer would display, not just the last delta rectangle.
type NativeDecoder struct{}

var errNoFrames = errors.New("image has no frames")

func (NativeDecoder) LastFrame(path string) (*image.Gray, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	if bytes.HasPrefix(data, []byte("GIF8")) {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		frame, err := CompositeLast(g)
		if err != nil {
			return nil, err
		}
		return Luminance(frame), nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return Luminance(img), nil
}

// CompositeLast renders an animated GIF up to and including its last frame.
func CompositeLast(g *gif.GIF) (*image.RGBA, error) {
	if g == nil || len(g.Image) == 0 {
		return nil, errNoFrames
	}
	last := len(g.Image) - 1
	var frame *image.RGBA
	Composite(g, func(i int, canvas *image.RGBA) bool {
		if i == last {
			frame = cloneRGBA(canvas)
		}
		return true
	})
	if frame == nil {
		return nil, errNoFrames
	}
	return frame, nil
}

// Composite draws the frames of g in order, honoring per-frame disposal
// methods, and calls visit with the canvas after each frame is drawn. The
// canvas is reused; visit must copy it to keep it. Returning false stops.
func Composite(g *gif.GIF, visit func(i int, canvas *image.RGBA) bool) {
	if g == nil || len(g.Image) == 0 {
		return
	}
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, fr := range g.Image {
			bounds = bounds.Union(fr.Bounds())
		}
	}

	canvas := image.NewRGBA(bounds)
	for i, fr := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var saved *image.RGBA
		if disposal == gif.DisposalPrevious {
			saved = cloneRGBA(canvas)
		}
		draw.Draw(canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)
		if !visit(i, canvas) {
			return
		}

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, fr.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = saved
		}
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// Luminance converts an image to 8-bit luma with the ITU-R 601-2 transform
// L = R*299/1000 + G*587/1000 + B*114/1000 in 16.16 fixed point.
func Luminance(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				o := src.PixOffset(x, y)
				out.Pix[out.PixOffset(x, y)] = luma(src.Pix[o], src.Pix[o+1], src.Pix[o+2])
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out.Pix[out.PixOffset(x, y)] = luma(c.R, c.G, c.B)
			}
		}
	}
	return out
}

func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*19595 + uint32(g)*38470 + uint32(b)*7471 + 0x8000) >> 16)
}
