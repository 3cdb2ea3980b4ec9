package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"ocr-ingest/internal/ingest"
)

// fixedClock is a settable clock for updated_at stamps.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// openFunc returns an empty, migrated store using clock.
type openFunc func(t *testing.T, clock ingest.Clock) ingest.ProgressStore

// testProgressStore runs the behaviour every ProgressStore backend must share.
func testProgressStore(t *testing.T, open openFunc) {
	ctx := context.Background()
	const zip = "clientA/2/pending/ocr/batch1.zip"

	t.Run("archive status upsert is idempotent", func(t *testing.T) {
		s := open(t, newFixedClock())

		for range 2 {
			if err := s.RecordArchiveStatus(ctx, zip, ingest.ArchiveCompleted); err != nil {
				t.Fatalf("RecordArchiveStatus() error = %v", err)
			}
		}

		counts, err := s.CountArchivesByStatus(ctx)
		if err != nil {
			t.Fatalf("CountArchivesByStatus() error = %v", err)
		}
		if counts[ingest.ArchiveCompleted] != 1 || len(counts) != 1 {
			t.Errorf("counts = %v, want one completed archive", counts)
		}
	})

	t.Run("status and error are written independently", func(t *testing.T) {
		s := open(t, newFixedClock())

		if err := s.RecordArchiveError(ctx, zip, "boom"); err != nil {
			t.Fatalf("RecordArchiveError() error = %v", err)
		}
		if err := s.RecordArchiveStatus(ctx, zip, ingest.ArchiveError); err != nil {
			t.Fatalf("RecordArchiveStatus() error = %v", err)
		}

		a := mustFindArchive(t, s, zip)
		if a.Status != ingest.ArchiveError {
			t.Errorf("Status = %q, want %q", a.Status, ingest.ArchiveError)
		}
		if a.ErrorData != "boom" {
			t.Errorf("ErrorData = %q, want %q", a.ErrorData, "boom")
		}
	})

	t.Run("outcome with empty message clears diagnostic", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)

		if err := s.RecordArchiveOutcome(ctx, zip, ingest.ArchiveError, "network down"); err != nil {
			t.Fatalf("RecordArchiveOutcome() error = %v", err)
		}
		clock.Advance(time.Minute)
		if err := s.RecordArchiveOutcome(ctx, zip, ingest.ArchiveCompleted, ""); err != nil {
			t.Fatalf("RecordArchiveOutcome() error = %v", err)
		}

		a := mustFindArchive(t, s, zip)
		if a.Status != ingest.ArchiveCompleted || a.ErrorData != "" {
			t.Errorf("archive = %+v, want completed with no diagnostic", a)
		}
		if !a.UpdatedAt.Equal(clock.Now()) {
			t.Errorf("UpdatedAt = %v, want %v", a.UpdatedAt, clock.Now())
		}
	})

	t.Run("is archive completed", func(t *testing.T) {
		s := open(t, newFixedClock())

		done, err := s.IsArchiveCompleted(ctx, zip)
		if err != nil || done {
			t.Fatalf("IsArchiveCompleted() on absent = %v, %v; want false, nil", done, err)
		}

		if err := s.RecordArchiveStatus(ctx, zip, ingest.ArchiveExtracting); err != nil {
			t.Fatalf("RecordArchiveStatus() error = %v", err)
		}
		if done, _ := s.IsArchiveCompleted(ctx, zip); done {
			t.Error("IsArchiveCompleted() = true for extracting archive")
		}

		if err := s.RecordArchiveStatus(ctx, zip, ingest.ArchiveCompleted); err != nil {
			t.Fatalf("RecordArchiveStatus() error = %v", err)
		}
		if done, _ := s.IsArchiveCompleted(ctx, zip); !done {
			t.Error("IsArchiveCompleted() = false for completed archive")
		}
	})

	t.Run("claim is exclusive until the lease goes stale", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)
		lease := time.Hour

		claim := func() bool {
			t.Helper()
			now := clock.Now()
			ok, err := s.ClaimArchive(ctx, zip, now, now.Add(-lease), false)
			if err != nil {
				t.Fatalf("ClaimArchive() error = %v", err)
			}
			return ok
		}

		if !claim() {
			t.Fatal("first claim refused")
		}
		if claim() {
			t.Fatal("second claim accepted while first is fresh")
		}

		clock.Advance(2 * lease)
		if !claim() {
			t.Fatal("claim refused after lease went stale")
		}

		a := mustFindArchive(t, s, zip)
		if a.Status != ingest.ArchiveDownloading {
			t.Errorf("Status = %q, want %q", a.Status, ingest.ArchiveDownloading)
		}
	})

	t.Run("claim takes over finished archives and clears diagnostic", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)

		if err := s.RecordArchiveOutcome(ctx, zip, ingest.ArchiveError, "timeout"); err != nil {
			t.Fatalf("RecordArchiveOutcome() error = %v", err)
		}
		now := clock.Now()
		ok, err := s.ClaimArchive(ctx, zip, now, now.Add(-time.Hour), false)
		if err != nil || !ok {
			t.Fatalf("ClaimArchive() = %v, %v; want true, nil", ok, err)
		}

		a := mustFindArchive(t, s, zip)
		if a.ErrorData != "" {
			t.Errorf("ErrorData = %q, want cleared", a.ErrorData)
		}
	})

	t.Run("claim refuses completed archives unless forced", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)

		if err := s.RecordArchiveOutcome(ctx, zip, ingest.ArchiveCompleted, ""); err != nil {
			t.Fatalf("RecordArchiveOutcome() error = %v", err)
		}
		clock.Advance(24 * time.Hour)
		now := clock.Now()

		ok, err := s.ClaimArchive(ctx, zip, now, now.Add(-time.Hour), false)
		if err != nil || ok {
			t.Fatalf("ClaimArchive() = %v, %v; want false, nil", ok, err)
		}
		if a := mustFindArchive(t, s, zip); a.Status != ingest.ArchiveCompleted {
			t.Errorf("Status = %q, want %q", a.Status, ingest.ArchiveCompleted)
		}

		ok, err = s.ClaimArchive(ctx, zip, now, now.Add(-time.Hour), true)
		if err != nil || !ok {
			t.Fatalf("forced ClaimArchive() = %v, %v; want true, nil", ok, err)
		}
		if a := mustFindArchive(t, s, zip); a.Status != ingest.ArchiveDownloading {
			t.Errorf("Status = %q, want %q", a.Status, ingest.ArchiveDownloading)
		}
	})

	t.Run("forced claim takes over a fresh claim", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)
		now := clock.Now()

		if ok, err := s.ClaimArchive(ctx, zip, now, now.Add(-time.Hour), false); err != nil || !ok {
			t.Fatalf("ClaimArchive() = %v, %v; want true, nil", ok, err)
		}
		if ok, err := s.ClaimArchive(ctx, zip, now, now.Add(-time.Hour), true); err != nil || !ok {
			t.Fatalf("forced ClaimArchive() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("migrated schema passes the check", func(t *testing.T) {
		s := open(t, newFixedClock())
		if err := s.CheckSchema(ctx); err != nil {
			t.Errorf("CheckSchema() error = %v", err)
		}
	})

	t.Run("register archive returns a stable id", func(t *testing.T) {
		s := open(t, newFixedClock())

		first, err := s.RegisterArchive(ctx, zip)
		if err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}
		second, err := s.RegisterArchive(ctx, zip)
		if err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}
		if first != second {
			t.Errorf("ids = %d, %d; want equal", first, second)
		}

		a := mustFindArchive(t, s, zip)
		if a.ID != first || a.Status != ingest.ArchiveExtracting {
			t.Errorf("archive = %+v, want id %d extracting", a, first)
		}
	})

	t.Run("concurrent registration returns the same id", func(t *testing.T) {
		s := open(t, newFixedClock())

		const n = 8
		ids := make([]int64, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids[i], errs[i] = s.RegisterArchive(ctx, zip)
			}()
		}
		wg.Wait()

		for i := range n {
			if errs[i] != nil {
				t.Fatalf("RegisterArchive()[%d] error = %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Errorf("ids[%d] = %d, want %d", i, ids[i], ids[0])
			}
		}
	})

	t.Run("register keeps an existing status", func(t *testing.T) {
		s := open(t, newFixedClock())

		if err := s.RecordArchiveStatus(ctx, zip, ingest.ArchiveDownloading); err != nil {
			t.Fatalf("RecordArchiveStatus() error = %v", err)
		}
		if _, err := s.RegisterArchive(ctx, zip); err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}
		if a := mustFindArchive(t, s, zip); a.Status != ingest.ArchiveDownloading {
			t.Errorf("Status = %q, want %q", a.Status, ingest.ArchiveDownloading)
		}
	})

	t.Run("find archive returns nil when absent", func(t *testing.T) {
		s := open(t, newFixedClock())

		a, err := s.FindArchive(ctx, "missing.zip")
		if err != nil {
			t.Fatalf("FindArchive() error = %v", err)
		}
		if a != nil {
			t.Errorf("FindArchive() = %+v, want nil", a)
		}
	})

	t.Run("file outcome upsert overwrites previous attempt", func(t *testing.T) {
		s := open(t, newFixedClock())
		id, err := s.RegisterArchive(ctx, zip)
		if err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}

		path := "/out/clientA/2/pending/ocr/b.txt"
		if err := s.RecordFileOutcome(ctx, ingest.FileOutcome{
			ArchiveID: id, Path: path, Status: ingest.FileError, Error: "extraction error for b.txt: TimeoutError",
		}); err != nil {
			t.Fatalf("RecordFileOutcome() error = %v", err)
		}
		if done, _ := s.IsFileCompleted(ctx, path); done {
			t.Error("IsFileCompleted() = true after failed attempt")
		}

		if err := s.RecordFileOutcome(ctx, ingest.FileOutcome{
			ArchiveID: id, Path: path, Status: ingest.FileCompleted, Text: "hello",
		}); err != nil {
			t.Fatalf("RecordFileOutcome() error = %v", err)
		}
		if done, _ := s.IsFileCompleted(ctx, path); !done {
			t.Error("IsFileCompleted() = false after successful attempt")
		}

		files, err := s.ListArchiveFiles(ctx, id)
		if err != nil {
			t.Fatalf("ListArchiveFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("len(files) = %d, want 1", len(files))
		}
		f := files[0]
		if f.Text != "hello" || f.ErrorData != "" || f.Status != ingest.FileCompleted || f.ArchiveID != id {
			t.Errorf("file = %+v, want completed with text and no diagnostic", f)
		}
	})

	t.Run("list archive files is ordered by path", func(t *testing.T) {
		s := open(t, newFixedClock())
		id, err := s.RegisterArchive(ctx, zip)
		if err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}

		for _, p := range []string{"/out/c.txt", "/out/a.txt", "/out/b.txt"} {
			if err := s.RecordFileOutcome(ctx, ingest.FileOutcome{ArchiveID: id, Path: p, Status: ingest.FileCompleted}); err != nil {
				t.Fatalf("RecordFileOutcome(%s) error = %v", p, err)
			}
		}

		files, err := s.ListArchiveFiles(ctx, id)
		if err != nil {
			t.Fatalf("ListArchiveFiles() error = %v", err)
		}
		want := []string{"/out/a.txt", "/out/b.txt", "/out/c.txt"}
		if len(files) != len(want) {
			t.Fatalf("len(files) = %d, want %d", len(files), len(want))
		}
		for i, f := range files {
			if f.Path != want[i] {
				t.Errorf("files[%d].Path = %q, want %q", i, f.Path, want[i])
			}
		}
	})

	t.Run("purge cascades to files", func(t *testing.T) {
		s := open(t, newFixedClock())
		id, err := s.RegisterArchive(ctx, zip)
		if err != nil {
			t.Fatalf("RegisterArchive() error = %v", err)
		}
		if err := s.RecordFileOutcome(ctx, ingest.FileOutcome{ArchiveID: id, Path: "/out/a.txt", Status: ingest.FileCompleted}); err != nil {
			t.Fatalf("RecordFileOutcome() error = %v", err)
		}

		removed, err := s.PurgeArchive(ctx, zip)
		if err != nil || !removed {
			t.Fatalf("PurgeArchive() = %v, %v; want true, nil", removed, err)
		}
		if done, _ := s.IsFileCompleted(ctx, "/out/a.txt"); done {
			t.Error("file row survived purge")
		}

		removed, err = s.PurgeArchive(ctx, zip)
		if err != nil || removed {
			t.Errorf("second PurgeArchive() = %v, %v; want false, nil", removed, err)
		}
	})

	t.Run("runs are listed newest first", func(t *testing.T) {
		clock := newFixedClock()
		s := open(t, clock)

		var ids []int64
		for _, op := range []string{"run", "process", "purge"} {
			id, err := s.CreateRun(ctx, op, "", clock.Now())
			if err != nil {
				t.Fatalf("CreateRun(%s) error = %v", op, err)
			}
			ids = append(ids, id)
			clock.Advance(time.Minute)
		}
		if err := s.FinishRun(ctx, ids[0], "success", clock.Now()); err != nil {
			t.Fatalf("FinishRun() error = %v", err)
		}

		runs, err := s.ListRuns(ctx, 2)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("len(runs) = %d, want 2", len(runs))
		}
		if runs[0].Operation != "purge" || runs[1].Operation != "process" {
			t.Errorf("runs = %s, %s; want purge, process", runs[0].Operation, runs[1].Operation)
		}
		if runs[0].FinishedAt != nil || runs[0].Status != "running" {
			t.Errorf("unfinished run = %+v, want running with no finish time", runs[0])
		}

		all, err := s.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("ListRuns(0) error = %v", err)
		}
		first := all[len(all)-1]
		if first.Status != "success" || first.FinishedAt == nil || !first.FinishedAt.Equal(clock.Now()) {
			t.Errorf("finished run = %+v, want success at %v", first, clock.Now())
		}
	})
}

func mustFindArchive(t *testing.T, s ingest.ProgressStore, path string) *ingest.Archive {
	t.Helper()
	a, err := s.FindArchive(context.Background(), path)
	if err != nil {
		t.Fatalf("FindArchive() error = %v", err)
	}
	if a == nil {
		t.Fatalf("FindArchive(%s) = nil, want archive", path)
	}
	return a
}
