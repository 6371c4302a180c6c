package catalog

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fkmap/internal/errs"
)

const (
	DefaultPrefix    = "GrayScott"
	DefaultExtension = "gif"
)

// Entry is one parameterized simulation file.
type Entry struct {
	F    float64
	K    float64
	Path string
}

// Pattern describes the naming convention <prefix>-f<F>-k<K>-<suffix>.<ext>.
type Pattern struct {
	Prefix    string
	Extension string
}

// DefaultPattern matches GrayScott-f0.0100-k0.0500-*.gif.
func DefaultPattern() Pattern {
	return Pattern{Prefix: DefaultPrefix, Extension: DefaultExtension}
}

func (p Pattern) normalized() Pattern {
	if p.Prefix == "" {
		p.Prefix = DefaultPrefix
	}
	p.Extension = strings.TrimPrefix(p.Extension, ".")
	if p.Extension == "" {
		p.Extension = DefaultExtension
	}
	return p
}

// Glob is the coarse shell pattern used to enumerate candidates.
func (p Pattern) Glob() string {
	p = p.normalized()
	return p.Prefix + "-f*-k*-*." + p.Extension
}

// Regexp is the strict filename pattern; groups 1 and 2 capture f and k.
func (p Pattern) Regexp() *regexp.Regexp {
	p = p.normalized()
	return regexp.MustCompile(`^` + regexp.QuoteMeta(p.Prefix) +
		`-f([0-9]+\.[0-9]+)-k([0-9]+\.[0-9]+)-.*\.` + regexp.QuoteMeta(p.Extension) + `$`)
}

// Match parses one base name. ok is false when the name does not conform.
func (p Pattern) Match(name string) (f, k float64, ok bool) {
	return match(p.Regexp(), name)
}

func match(re *regexp.Regexp, name string) (float64, float64, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, 0, false
	}
	k, err := strconv.ParseFloat(m[2], 64)
	if err != nil || math.IsInf(k, 0) || math.IsNaN(k) {
		return 0, 0, false
	}
	return f, k, true
}

// FormatName builds a conforming filename with four fixed decimals.
func FormatName(p Pattern, f, k float64, suffix string) string {
	p = p.normalized()
	return fmt.Sprintf("%s-f%.4f-k%.4f-%s.%s", p.Prefix, f, k, suffix, p.Extension)
}

// Scan lists conforming files in dir, ordered by full path.
func Scan(dir string, p Pattern) ([]Entry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.NotFoundError{What: "directory", Path: abs}
		}
		return nil, err
	}
	if !st.IsDir() {
		return nil, &errs.NotFoundError{What: "directory", Path: abs}
	}

	candidates, err := filepath.Glob(filepath.Join(abs, p.Glob()))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", p.Glob(), err)
	}
	sort.Strings(candidates)

	re := p.Regexp()
	entries := make([]Entry, 0, len(candidates))
	for _, path := range candidates {
		f, k, ok := match(re, filepath.Base(path))
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{F: f, K: k, Path: path})
	}
	return entries, nil
}

// Paths returns the entry paths in catalog order.
func Paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
