package errs

import (
	"errors"
	"fmt"
	"os"
)

// NotFoundError reports a missing input directory or cache artifact.
type NotFoundError struct {
	What string // "directory" or "cache artifact"
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

// Is lets callers match with errors.Is(err, os.ErrNotExist).
func (e *NotFoundError) Is(target error) bool {
	return target == os.ErrNotExist
}

// CorruptArtifactError reports a cache artifact that exists but cannot be
// turned back into a dataset.
type CorruptArtifactError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt cache artifact %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt cache artifact %s: %s", e.Path, e.Reason)
}

func (e *CorruptArtifactError) Unwrap() error { return e.Err }

// DecodeError is a per-file metric failure. It never leaves the metric
// boundary except through diagnostics.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCorrupt reports whether err carries a CorruptArtifactError.
func IsCorrupt(err error) bool {
	var ce *CorruptArtifactError
	return errors.As(err, &ce)
}
