package export

import (
	"bytes"
	"encoding/csv"
	"io"

	"fkmap/internal/dataset"
)

// EncodeCSV writes the header f,k,variation and one row per entry.
func EncodeCSV(w io.Writer, ds *dataset.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"f", "k", "variation"}); err != nil {
		return err
	}
	for i := 0; i < ds.Len(); i++ {
		rec := []string{formatFloat(ds.FValues[i]), formatFloat(ds.KValues[i]), formatFloat(ds.Variations[i])}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV exports ds to path as CSV.
func WriteCSV(ds *dataset.Dataset, path string) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, ds); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}
