package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fkmap/internal/dataset"
)

// Format names an output file type.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatWolfram Format = "wl"
	FormatWeb     Format = "web"
)

// Formats lists every supported format in CLI help order.
var Formats = []Format{FormatCSV, FormatJSON, FormatWolfram, FormatWeb}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "wl", "wolfram", "m":
		return FormatWolfram, nil
	case "web", "js":
		return FormatWeb, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// DefaultFileName is the file each format is written to when no output
// path is given.
func (f Format) DefaultFileName() string {
	switch f {
	case FormatCSV:
		return "fk_data.csv"
	case FormatJSON:
		return "fk_data.json"
	case FormatWolfram:
		return "fk_data.wl"
	case FormatWeb:
		return "fk_web_data.js"
	}
	return "fk_data.out"
}

// ContentType is used by the HTTP export route.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatWeb:
		return "text/javascript; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Encode writes ds in format f to w. shape only matters for FormatWolfram.
func Encode(w io.Writer, ds *dataset.Dataset, f Format, shape Shape) error {
	switch f {
	case FormatCSV:
		return EncodeCSV(w, ds)
	case FormatJSON:
		return EncodeJSON(w, ds)
	case FormatWolfram:
		_, err := io.WriteString(w, shape.Serializer().Serialize(ds))
		return err
	case FormatWeb:
		return EncodeWebData(w, ds)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// Write encodes ds into path, creating parent directories.
func Write(ds *dataset.Dataset, path string, f Format, shape Shape) error {
	var buf bytes.Buffer
	if err := Encode(&buf, ds, f, shape); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// formatFloat renders the shortest decimal text that parses back to v.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
