package dataset

import (
	"context"
	"fmt"
	"sync/atomic"

	"fkmap/internal/catalog"
	"fkmap/internal/workpool"
)

// Dataset is a columnar table; row i of every column describes one file.
type Dataset struct {
	FValues    []float64 `json:"f_values"`
	KValues    []float64 `json:"k_values"`
	Variations []float64 `json:"variations"`
	Paths      []string  `json:"paths"`
}

// MetricFunc maps one file to its variation. It must not fail.
type MetricFunc func(path string) float64

// Options tune Build.
type Options struct {
	Workers  int                    // <=1 runs sequentially
	Progress func(done, total int) // called after each file, from any worker
}

// New returns an empty dataset with non-nil columns.
func New() *Dataset {
	return &Dataset{
		FValues:    []float64{},
		KValues:    []float64{},
		Variations: []float64{},
		Paths:      []string{},
	}
}

// Len is the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Paths)
}

// Validate checks that all four columns have the same length.
func (d *Dataset) Validate() error {
	n := len(d.Paths)
	if len(d.FValues) != n || len(d.KValues) != n || len(d.Variations) != n {
		return fmt.Errorf("column length mismatch: f=%d k=%d variations=%d paths=%d",
			len(d.FValues), len(d.KValues), len(d.Variations), n)
	}
	return nil
}

// Build computes the metric of every entry and keeps catalog order.
// Rows not reached before ctx is cancelled keep a zero variation.
func Build(ctx context.Context, entries []catalog.Entry, metricFn MetricFunc, opts Options) *Dataset {
	n := len(entries)
	var done atomic.Int64
	variations := workpool.Map(ctx, opts.Workers, n, func(_ context.Context, i int) float64 {
		v := metricFn(entries[i].Path)
		if opts.Progress != nil {
			opts.Progress(int(done.Add(1)), n)
		}
		return v
	})

	ds := &Dataset{
		FValues:    make([]float64, n),
		KValues:    make([]float64, n),
		Variations: variations,
		Paths:      make([]string, n),
	}
	for i, e := range entries {
		ds.FValues[i] = e.F
		ds.KValues[i] = e.K
		ds.Paths[i] = e.Path
	}
	return ds
}

// FromDirectory scans dir and builds the dataset of every conforming file.
func FromDirectory(ctx context.Context, dir string, p catalog.Pattern, metricFn MetricFunc, opts Options) (*Dataset, error) {
	entries, err := catalog.Scan(dir, p)
	if err != nil {
		return nil, err
	}
	ds := Build(ctx, entries, metricFn, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Nearest returns the path of the row closest to (f, k) in squared
// Euclidean distance. The first row wins ties. ok is false when empty.
func (d *Dataset) Nearest(f, k float64) (path string, ok bool) {
	i, ok := d.NearestIndex(f, k)
	if !ok {
		return "", false
	}
	return d.Paths[i], true
}

// NearestIndex is Nearest returning the row index.
func (d *Dataset) NearestIndex(f, k float64) (int, bool) {
	if d.Len() == 0 {
		return -1, false
	}
	best := 0
	bestD2 := sq(d.FValues[0]-f) + sq(d.KValues[0]-k)
	for i := 1; i < len(d.Paths); i++ {
		d2 := sq(d.FValues[i]-f) + sq(d.KValues[i]-k)
		if d2 < bestD2 {
			best, bestD2 = i, d2
		}
	}
	return best, true
}

func sq(x float64) float64 { return x * x }

// Row is one record of the table.
type Row struct {
	F         float64 `json:"f"`
	K         float64 `json:"k"`
	Variation float64 `json:"variation"`
	Path      string  `json:"path"`
}

// Row returns record i.
func (d *Dataset) Row(i int) Row {
	return Row{F: d.FValues[i], K: d.KValues[i], Variation: d.Variations[i], Path: d.Paths[i]}
}
