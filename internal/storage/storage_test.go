package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "fkmap.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTemp(t)
	if err := s.RecordJobQueued(JobRecord{ID: "j1", JobType: "build", Status: "queued", InputPath: "gif"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobResult("j1", "completed", map[string]any{"rows": 2}, ""); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != "completed" || jobs[0].InputPath != "gif" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if jobs[0].StartedAt == nil || jobs[0].CompletedAt == nil {
		t.Fatalf("expected timestamps, got %+v", jobs[0])
	}

	meta, err := s.JobMeta("j1")
	if err != nil {
		t.Fatal(err)
	}
	if meta["rows"] != float64(2) {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestDecodeFailures(t *testing.T) {
	s := openTemp(t)
	if err := s.RecordDecodeFailure("j1", "/g/a.gif", errors.New("gif: bad header")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecodeFailure("j1", "/g/b.gif", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecodeFailure("j2", "/g/c.gif", errors.New("x")); err != nil {
		t.Fatal(err)
	}
	got, err := s.DecodeFailures("j1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Path != "/g/a.gif" || got[0].Error != "gif: bad header" || got[1].Error != "" {
		t.Fatalf("unexpected failures %+v", got)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobStart("x"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobResult("x", "completed", nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDecodeFailure("x", "p", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecentJobs(1); err == nil {
		t.Fatalf("expected error querying a nil store")
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
