package export

import (
	"bytes"
	"strings"

	"fkmap/internal/dataset"
)

// Shape selects the textual layout of the Wolfram export.
type Shape int

const (
	// List is {f, k, variation} as three positional sequences.
	List Shape = iota
	// Association is <|"f" -> ..., "k" -> ..., "variation" -> ...|>.
	Association
)

func (s Shape) String() string {
	if s == Association {
		return "association"
	}
	return "list"
}

// ParseShape maps "association" to Association and anything else to List.
func ParseShape(s string) Shape {
	if strings.EqualFold(strings.TrimSpace(s), "association") {
		return Association
	}
	return List
}

// Serializer turns a dataset into one text blob.
type Serializer interface {
	Serialize(ds *dataset.Dataset) string
}

// Brackets is the delimiter convention of the target reader.
type Brackets struct {
	Open, Close       string // sequences
	MapOpen, MapClose string // key-tagged mappings
	Arrow             string // between key and value
}

// WolframBrackets is the convention Get[] understands.
var WolframBrackets = Brackets{Open: "{", Close: "}", MapOpen: "<|", MapClose: "|>", Arrow: " -> "}

// PythonBrackets renders lists and dicts readable by Python literal_eval.
var PythonBrackets = Brackets{Open: "[", Close: "]", MapOpen: "{", MapClose: "}", Arrow: ": "}

// ListSerializer writes the List shape.
type ListSerializer struct{ Brackets Brackets }

// AssociationSerializer writes the Association shape.
type AssociationSerializer struct{ Brackets Brackets }

// Serializer returns the Wolfram-bracketed serializer for s.
func (s Shape) Serializer() Serializer {
	return s.SerializerWith(WolframBrackets)
}

// SerializerWith returns the serializer for s using b.
func (s Shape) SerializerWith(b Brackets) Serializer {
	if s == Association {
		return AssociationSerializer{Brackets: b}
	}
	return ListSerializer{Brackets: b}
}

func (l ListSerializer) Serialize(ds *dataset.Dataset) string {
	b := l.Brackets
	var buf bytes.Buffer
	buf.WriteString(b.Open + "\n")
	buf.WriteString("  " + seq(b, ds.FValues) + ",\n")
	buf.WriteString("  " + seq(b, ds.KValues) + ",\n")
	buf.WriteString("  " + seq(b, ds.Variations) + "\n")
	buf.WriteString(b.Close)
	return buf.String()
}

func (a AssociationSerializer) Serialize(ds *dataset.Dataset) string {
	b := a.Brackets
	var buf bytes.Buffer
	buf.WriteString(b.MapOpen + "\n")
	buf.WriteString(`  "f"` + b.Arrow + seq(b, ds.FValues) + ",\n")
	buf.WriteString(`  "k"` + b.Arrow + seq(b, ds.KValues) + ",\n")
	buf.WriteString(`  "variation"` + b.Arrow + seq(b, ds.Variations) + "\n")
	buf.WriteString(b.MapClose)
	return buf.String()
}

func seq(b Brackets, xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = formatFloat(x)
	}
	return b.Open + strings.Join(parts, ", ") + b.Close
}

// WriteWolfram exports ds to path in the given shape.
func WriteWolfram(ds *dataset.Dataset, path string, shape Shape) error {
	return writeFile(path, []byte(shape.Serializer().Serialize(ds)))
}
