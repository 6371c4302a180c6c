// Package plot renders the f-k map as a scatter image.
package plot

import (
	"bytes"
	"errors"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"fkmap/internal/dataset"
	"fkmap/internal/fsutil"
)

// Options size the figure.
type Options struct {
	Width    int
	Height   int
	Title    string
	DotWidth float64
}

// DefaultOptions is an 800x600 figure.
func DefaultOptions() Options {
	return Options{Width: 800, Height: 600, Title: "f-k Map: Spatial Variation", DotWidth: 3}
}

var ErrEmpty = errors.New("plot: dataset is empty")

// RenderScatter draws k on the x axis, f on the y axis and colors each point
// by its variation on the viridis scale. The PNG goes to w.
func RenderScatter(ds *dataset.Dataset, w io.Writer, opts Options) error {
	if ds.Len() == 0 {
		return ErrEmpty
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.DotWidth <= 0 {
		opts.DotWidth = 3
	}

	sum := ds.Summarize()
	vmin, vmax := sum.Variation.Min, sum.Variation.Max
	if vmax <= vmin {
		vmax = vmin + 1
	}
	variations := ds.Variations

	series := chart.ContinuousSeries{
		Name: "variation",
		Style: chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    opts.DotWidth,
			DotColorProvider: func(_, _ chart.Range, index int, _, _ float64) drawing.Color {
				c := chart.Viridis(variations[index], vmin, vmax)
				c.A = 180
				return c
			},
		},
		XValues: ds.KValues,
		YValues: ds.FValues,
	}

	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			Name:  "k",
			Range: padded(sum.K.Min, sum.K.Max),
		},
		YAxis: chart.YAxis{
			Name:  "f",
			Range: padded(sum.F.Min, sum.F.Max),
		},
		Series: []chart.Series{series},
	}
	return graph.Render(chart.PNG, w)
}

// WritePNG renders the scatter into path.
func WritePNG(ds *dataset.Dataset, path string, opts Options) error {
	var buf bytes.Buffer
	if err := RenderScatter(ds, &buf, opts); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// padded widens [lo, hi] by 5%. A zero span gets a small window around lo.
func padded(lo, hi float64) *chart.ContinuousRange {
	span := hi - lo
	if span <= 0 {
		span = max(abs(lo), 1e-3)
	}
	pad := span * 0.05
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
