package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakePruneable struct {
	cutoff time.Time
	calls  int
	err    error
}

func (f *fakePruneable) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	f.calls++
	f.cutoff = olderThan
	return 3, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceUsesRetentionWindow(t *testing.T) {
	store := &fakePruneable{}
	p := NewPruner(store, 30*24*time.Hour, discardLogger())
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.RunOnce(context.Background())

	if store.calls != 1 {
		t.Fatalf("expected one prune call, got %d", store.calls)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !store.cutoff.Equal(want) {
		t.Fatalf("unexpected cutoff: got %s want %s", store.cutoff, want)
	}
}

func TestRunOnceToleratesStoreErrors(t *testing.T) {
	store := &fakePruneable{err: errors.New("db down")}
	p := NewPruner(store, time.Hour, discardLogger())
	p.RunOnce(context.Background())
	if store.calls != 1 {
		t.Fatalf("expected one prune call, got %d", store.calls)
	}
}

func TestScheduleRejectsInvalidSpec(t *testing.T) {
	p := NewPruner(&fakePruneable{}, time.Hour, discardLogger())
	if err := p.Schedule("not a cron spec"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := p.Schedule("@daily"); err != nil {
		t.Fatalf("Schedule(@daily) error = %v", err)
	}
	p.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)
}
