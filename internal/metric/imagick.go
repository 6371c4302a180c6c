//go:build imagick

package metric

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var imagickInit sync.Once

func init() {
	registerDecoder("imagick", func() Decoder { return ImagickDecoder{} })
}

// ImagickDecoder reads any format ImageMagick understands. Frames are
// coalesced before the last one is taken.
type ImagickDecoder struct{}

func (ImagickDecoder) LastFrame(path string) (*image.Gray, error) {
	imagickInit.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("imagick read: %w", err)
	}
	n := mw.GetNumberImages()
	if n == 0 {
		return nil, errNoFrames
	}

	frames := mw.CoalesceImages()
	defer frames.Destroy()
	if !frames.SetIteratorIndex(int(n - 1)) {
		return nil, errors.New("imagick: cannot select last frame")
	}

	width := frames.GetImageWidth()
	height := frames.GetImageHeight()
	pixels, err := frames.ExportImagePixels(0, 0, width, height, "RGB", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("imagick export: %w", err)
	}
	rgb, ok := pixels.([]byte)
	if !ok || len(rgb) < int(width*height*3) {
		return nil, errors.New("imagick: unexpected pixel buffer")
	}

	out := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	for i := range out.Pix {
		out.Pix[i] = luma(rgb[3*i], rgb[3*i+1], rgb[3*i+2])
	}
	return out, nil
}
