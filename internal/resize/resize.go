package resize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"fkmap/internal/fsutil"
	"fkmap/internal/metric"
	"fkmap/internal/workpool"
)

// Options control the output animation.
type Options struct {
	Width     int
	Height    int
	Frames    int // upper bound on output frames
	Workers   int // 0 means one per CPU
	Overwrite bool
	Progress  func(done, total int)
}

// DefaultOptions matches the thumbnails used by the web viewer.
func DefaultOptions() Options {
	return Options{Width: 64, Height: 64, Frames: 64}
}

// Result describes one input file.
type Result struct {
	Input   string
	Output  string
	Frames  int
	Bytes   int64
	Skipped bool
	Err     error
}

// ListGIFs returns the .gif files directly inside dir, sorted.
func ListGIFs(dir string) ([]string, error) {
	files, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".gif") {
			out = append(out, f)
		}
	}
	return out, nil
}

// Resize downsamples every input into outDir under its own base name.
// Results are in input order; one failing file never stops the others.
func Resize(ctx context.Context, inputs []string, outDir string, opts Options) ([]Result, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Frames <= 0 {
		return nil, fmt.Errorf("invalid resize options %dx%d frames=%d", opts.Width, opts.Height, opts.Frames)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var done atomic.Int64
	results := workpool.Map(ctx, workers, len(inputs), func(ctx context.Context, i int) Result {
		r := resizeOne(inputs[i], outDir, opts)
		if opts.Progress != nil {
			opts.Progress(int(done.Add(1)), len(inputs))
		}
		return r
	})
	for i := range results {
		if results[i].Input == "" {
			results[i] = Result{Input: inputs[i], Err: ctx.Err()}
		}
	}
	return results, ctx.Err()
}

func resizeOne(input, outDir string, opts Options) (res Result) {
	res.Input = input
	res.Output = filepath.Join(outDir, filepath.Base(input))
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic resizing %s: %v", input, r)
		}
	}()

	if !opts.Overwrite && fsutil.Exists(res.Output) {
		res.Skipped = true
		return res
	}

	f, err := os.Open(input)
	if err != nil {
		res.Err = err
		return res
	}
	src, err := gif.DecodeAll(f)
	f.Close()
	if err != nil {
		res.Err = fmt.Errorf("decode %s: %w", input, err)
		return res
	}

	out, err := Downsample(src, opts.Width, opts.Height, opts.Frames)
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", input, err)
		return res
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		res.Err = fmt.Errorf("encode %s: %w", res.Output, err)
		return res
	}
	if err := fsutil.WriteFileAtomic(res.Output, buf.Bytes(), 0o644); err != nil {
		res.Err = err
		return res
	}
	res.Frames = len(out.Image)
	res.Bytes = int64(buf.Len())
	return res
}

var errEmpty = errors.New("no frames")

// Downsample keeps every step-th composited frame, step = max(1, n/frames),
// up to frames of them, scaled to w x h with nearest-neighbor sampling.
// Per-frame delays and the loop count carry over.
func Downsample(src *gif.GIF, w, h, frames int) (*gif.GIF, error) {
	n := len(src.Image)
	if n == 0 {
		return nil, errEmpty
	}
	step := max(1, n/frames)

	out := &gif.GIF{
		LoopCount: src.LoopCount,
		Config:    image.Config{Width: w, Height: h},
	}
	rect := image.Rect(0, 0, w, h)
	metric.Composite(src, func(i int, canvas *image.RGBA) bool {
		if i%step != 0 {
			return true
		}
		scaled := image.NewRGBA(rect)
		xdraw.NearestNeighbor.Scale(scaled, rect, canvas, canvas.Bounds(), xdraw.Src, nil)
		out.Image = append(out.Image, toPaletted(scaled))
		delay := 0
		if i < len(src.Delay) {
			delay = src.Delay[i]
		}
		out.Delay = append(out.Delay, delay)
		out.Disposal = append(out.Disposal, gif.DisposalNone)
		return len(out.Image) < frames
	})
	if len(out.Image) == 0 {
		return nil, errEmpty
	}
	return out, nil
}

// toPaletted keeps colors exact when the frame has at most 256 of them and
// maps onto Plan 9 otherwise.
func toPaletted(img *image.RGBA) *image.Paletted {
	b := img.Bounds()
	seen := make(map[color.RGBA]uint8)
	var pal color.Palette
	exact := true
	for i := 0; i+3 < len(img.Pix); i += 4 {
		c := color.RGBA{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
		if _, ok := seen[c]; ok {
			continue
		}
		if len(pal) == 256 {
			exact = false
			break
		}
		seen[c] = uint8(len(pal))
		pal = append(pal, c)
	}

	if !exact {
		dst := image.NewPaletted(b, palette.Plan9)
		xdraw.Draw(dst, b, img, b.Min, xdraw.Src)
		return dst
	}
	dst := image.NewPaletted(b, pal)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			dst.SetColorIndex(x, y, seen[color.RGBA{img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3]}])
		}
	}
	return dst
}
