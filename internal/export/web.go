package export

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"fkmap/internal/dataset"
)

type webTable struct {
	F         []float64 `json:"f"`
	K         []float64 `json:"k"`
	V         []float64 `json:"v"`
	Filenames []string  `json:"filenames"`
}

// WebFilename maps a source GIF path to the name of its rendered video.
func WebFilename(path string) string {
	return strings.ReplaceAll(filepath.Base(path), ".gif", ".mp4")
}

// EncodeWebData writes a JavaScript assignment `const fkData = {...};` for
// the static viewer page.
func EncodeWebData(w io.Writer, ds *dataset.Dataset) error {
	t := webTable{
		F:         nonNil(ds.FValues),
		K:         nonNil(ds.KValues),
		V:         nonNil(ds.Variations),
		Filenames: make([]string, ds.Len()),
	}
	for i, p := range ds.Paths {
		t.Filenames[i] = WebFilename(p)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return err
	}
	body := bytes.TrimRight(buf.Bytes(), "\n")

	if _, err := io.WriteString(w, "const fkData = "); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := io.WriteString(w, ";")
	return err
}

// WriteWebData exports ds to path as a JavaScript data file.
func WriteWebData(ds *dataset.Dataset, path string) error {
	var buf bytes.Buffer
	if err := EncodeWebData(&buf, ds); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}
