package metric

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"fkmap/internal/errs"
	"fkmap/internal/logging"
)

// Metric computes the spatial variation of the last frame of an image file.
type Metric struct {
	decoder Decoder
	log     *slog.Logger
	onError func(*errs.DecodeError)
}

// Option configures a Metric.
type Option func(*Metric)

// WithDecoder replaces the native decoder.
func WithDecoder(d Decoder) Option {
	return func(m *Metric) {
		if d != nil {
			m.decoder = d
		}
	}
}

// WithLogger logs every absorbed decode failure at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(m *Metric) { m.log = l }
}

// WithErrorHandler observes every decode failure before it collapses to 0.
func WithErrorHandler(fn func(*errs.DecodeError)) Option {
	return func(m *Metric) { m.onError = fn }
}

// New returns a Metric using NativeDecoder unless overridden.
func New(opts ...Option) *Metric {
	m := &Metric{decoder: NativeDecoder{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

var defaultMetric = New()

// Compute is the package-level shortcut for New().Compute.
func Compute(path string) float64 {
	return defaultMetric.Compute(path)
}

// Evaluate decodes path and returns its variation, or a *errs.DecodeError.
func (m *Metric) Evaluate(path string) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, &errs.DecodeError{Path: path, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()
	gray, err := m.decoder.LastFrame(path)
	if err != nil {
		return 0, &errs.DecodeError{Path: path, Err: err}
	}
	if gray == nil || gray.Bounds().Empty() {
		return 0, &errs.DecodeError{Path: path, Err: errNoFrames}
	}
	return Variation(gray), nil
}

// Compute never fails: any decode error yields 0.0 and is reported through
// the configured logger and error handler.
func (m *Metric) Compute(path string) float64 {
	v, err := m.Evaluate(path)
	if err != nil {
		de, ok := err.(*errs.DecodeError)
		if !ok {
			de = &errs.DecodeError{Path: path, Err: err}
		}
		if m.log != nil {
			logging.LogDecodeFailure(m.log, path, de.Err)
		}
		if m.onError != nil {
			m.onError(de)
		}
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Variation sums absolute vertical and horizontal first differences of the
// frame after scaling intensities to [0, 1].
func Variation(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x]) / 255.0
	}

	var vertical, horizontal float64
	for y := 1; y < h; y++ {
		for x := 0; x < w; x++ {
			vertical += math.Abs(at(x, y) - at(x, y-1))
		}
	}
	for y := 0; y < h; y++ {
		for x := 1; x < w; x++ {
			horizontal += math.Abs(at(x, y) - at(x-1, y))
		}
	}
	return vertical + horizontal
}
