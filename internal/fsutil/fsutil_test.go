package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.pb")

	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Fatalf("expected replaced contents, got %q", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.gif", "a.PNG", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gif"), 0o755); err != nil {
		t.Fatal(err)
	}
	files, err := ListImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.gif")}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("unexpected listing %v", files)
	}
}


func TestEscapePath(t *testing.T) {
	for _, p := range []string{"", "/gif/a.gif", "/gif/run\xff.gif", "\x00b64:looks-escaped", "ünïcode.gif"} {
		esc := EscapePath(p)
		if !utf8.ValidString(esc) {
			t.Fatalf("escaped %q is not valid UTF-8: %q", p, esc)
		}
		got, err := UnescapePath(esc)
		if err != nil {
			t.Fatalf("unescape %q: %v", esc, err)
		}
		if got != p {
			t.Fatalf("round trip %q -> %q -> %q", p, esc, got)
		}
	}
	if EscapePath("/gif/a.gif") != "/gif/a.gif" {
		t.Fatalf("valid paths should pass through unchanged")
	}
	if _, err := UnescapePath("\x00b64:!!"); err == nil {
		t.Fatalf("expected error for bad escape")
	}
}
