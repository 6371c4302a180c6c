package fsutil

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var imageExts = map[string]struct{}{
	".gif":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// ListImages returns image files directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImageFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// IsImageFile checks if a file has a decodable image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok
}

// Exists reports whether path can be stat'ed.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers observe either the old file or the complete new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// rawPathMarker prefixes escaped paths. NUL never occurs in a file name.
const rawPathMarker = "\x00b64:"

// EscapePath returns p unchanged when it is valid UTF-8 and base64 behind a
// marker otherwise, so arbitrary file name bytes survive string-only codecs.
func EscapePath(p string) string {
	if utf8.ValidString(p) && !strings.HasPrefix(p, rawPathMarker) {
		return p
	}
	return rawPathMarker + base64.StdEncoding.EncodeToString([]byte(p))
}

// UnescapePath reverses EscapePath.
func UnescapePath(s string) (string, error) {
	enc, ok := strings.CutPrefix(s, rawPathMarker)
	if !ok {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("escaped path: %w", err)
	}
	return string(raw), nil
}
