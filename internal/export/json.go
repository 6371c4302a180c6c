package export

import (
	"bytes"
	"encoding/json"
	"io"

	"fkmap/internal/dataset"
)

// jsonTable omits paths.
type jsonTable struct {
	FValues    []float64 `json:"f_values"`
	KValues    []float64 `json:"k_values"`
	Variations []float64 `json:"variations"`
}

// EncodeJSON writes the three numeric columns with two-space indentation.
func EncodeJSON(w io.Writer, ds *dataset.Dataset) error {
	t := jsonTable{
		FValues:    nonNil(ds.FValues),
		KValues:    nonNil(ds.KValues),
		Variations: nonNil(ds.Variations),
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteJSON exports ds to path as JSON.
func WriteJSON(ds *dataset.Dataset, path string) error {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, ds); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

func nonNil(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}
