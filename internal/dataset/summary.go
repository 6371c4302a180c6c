package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Summary describes a dataset at a glance.
type Summary struct {
	Count         int     `json:"count"`
	F             Range   `json:"f"`
	K             Range   `json:"k"`
	Variation     Range   `json:"variation"`
	MeanVariation float64 `json:"mean_variation"`
	StdVariation  float64 `json:"std_variation"`
	Dead          int     `json:"dead"` // rows with zero variation
}

// Summarize computes ranges and moments. An empty dataset yields a zero
// Summary.
func (d *Dataset) Summarize() Summary {
	n := d.Len()
	if n == 0 {
		return Summary{}
	}
	s := Summary{
		Count:         n,
		F:             Range{Min: floats.Min(d.FValues), Max: floats.Max(d.FValues)},
		K:             Range{Min: floats.Min(d.KValues), Max: floats.Max(d.KValues)},
		Variation:     Range{Min: floats.Min(d.Variations), Max: floats.Max(d.Variations)},
		MeanVariation: stat.Mean(d.Variations, nil),
	}
	if n > 1 {
		s.StdVariation = stat.StdDev(d.Variations, nil)
	}
	for _, v := range d.Variations {
		if v == 0 {
			s.Dead++
		}
	}
	return s
}
