package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"fkmap/internal/dataset"
	"fkmap/internal/errs"
	"fkmap/internal/fsutil"
)

// Field names stored in the artifact.
const (
	FieldF          = "f_values"
	FieldK          = "k_values"
	FieldVariations = "variations"
	FieldPaths      = "paths"
)

// Policy is the caller's staleness decision. The cache never checks whether
// the image directory changed after the artifact was written.
type Policy struct {
	UseCache bool
}

// Source says where LoadOrBuild got its dataset.
type Source string

const (
	SourceCache Source = "cache"
	SourceBuild Source = "build"
)

// Builder produces a fresh dataset from an image directory.
type Builder func(ctx context.Context, dir string) (*dataset.Dataset, error)

// Encode serializes the four columns as a protobuf Struct.
func Encode(ds *dataset.Dataset) ([]byte, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	st := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldF:          numberList(ds.FValues),
		FieldK:          numberList(ds.KValues),
		FieldVariations: numberList(ds.Variations),
		FieldPaths:      stringList(ds.Paths),
	}}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

// Save writes ds to path, replacing any previous artifact by rename.
func Save(ds *dataset.Dataset, path string) error {
	data, err := Encode(ds)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// Load restores the dataset stored at path.
func Load(path string) (*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.NotFoundError{What: "cache artifact", Path: path}
		}
		return nil, &errs.CorruptArtifactError{Path: path, Reason: "unreadable", Err: err}
	}
	return Decode(path, data)
}

// Decode parses artifact bytes; path only labels errors.
func Decode(path string, data []byte) (*dataset.Dataset, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: "undecodable", Err: err}
	}

	f, err := numbers(st, FieldF)
	if err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: err.Error()}
	}
	k, err := numbers(st, FieldK)
	if err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: err.Error()}
	}
	v, err := numbers(st, FieldVariations)
	if err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: err.Error()}
	}
	p, err := texts(st, FieldPaths)
	if err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: err.Error()}
	}

	ds := &dataset.Dataset{FValues: f, KValues: k, Variations: v, Paths: p}
	if err := ds.Validate(); err != nil {
		return nil, &errs.CorruptArtifactError{Path: path, Reason: err.Error()}
	}
	return ds, nil
}

// LoadOrBuild returns the cached dataset when the policy allows and the
// artifact loads; otherwise it rebuilds from dir and, under UseCache,
// persists the result. Load failures never escape here.
func LoadOrBuild(ctx context.Context, dir, storePath string, policy Policy, build Builder, log *slog.Logger) (*dataset.Dataset, Source, error) {
	if log == nil {
		log = slog.Default()
	}
	if policy.UseCache && fsutil.Exists(storePath) {
		ds, err := Load(storePath)
		if err == nil {
			log.Info("cache loaded", "path", storePath, "rows", ds.Len(), "size", artifactSize(storePath))
			return ds, SourceCache, nil
		}
		log.Warn("cache load failed, rebuilding", "path", storePath, "error", err)
	}

	ds, err := build(ctx, dir)
	if err != nil {
		return nil, SourceBuild, err
	}
	if policy.UseCache {
		if err := Save(ds, storePath); err != nil {
			return nil, SourceBuild, fmt.Errorf("save cache %s: %w", storePath, err)
		}
		log.Info("cache saved", "path", storePath, "rows", ds.Len(), "size", artifactSize(storePath))
	}
	return ds, SourceBuild, nil
}

func artifactSize(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(st.Size()))
}

func numberList(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func stringList(xs []string) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewStringValue(fsutil.EscapePath(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func list(st *structpb.Struct, name string) ([]*structpb.Value, error) {
	v, ok := st.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("missing field %s", name)
	}
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("field %s is not a list", name)
	}
	return lv.ListValue.GetValues(), nil
}

func numbers(st *structpb.Struct, name string) ([]float64, error) {
	vals, err := list(st, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %s[%d] is not a number", name, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func texts(st *structpb.Struct, name string) ([]string, error) {
	vals, err := list(st, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("field %s[%d] is not a string", name, i)
		}
		p, err := fsutil.UnescapePath(s.StringValue)
		if err != nil {
			return nil, fmt.Errorf("field %s[%d]: %w", name, i, err)
		}
		out[i] = p
	}
	return out, nil
}
