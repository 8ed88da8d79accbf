package history

import (
	"testing"
	"time"
)

func TestStoreRecordsAttemptLifecycle(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	started := time.Now().Add(-2 * time.Second)

	if err := store.RecordStart(ctx, "app", "attempt-1", "manual", started); err != nil {
		t.Fatalf("failed to record start: %v", err)
	}
	if err := store.RecordDiagnostics(ctx, "attempt-1", 4); err != nil {
		t.Fatalf("failed to record diagnostics: %v", err)
	}
	if err := store.RecordFinish(ctx, "attempt-1", 0, 1800*time.Millisecond, time.Now()); err != nil {
		t.Fatalf("failed to record finish: %v", err)
	}

	attempts, err := store.Recent(ctx, "app", 10)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}

	a := attempts[0]
	if a.AttemptID != "attempt-1" {
		t.Errorf("expected attempt-1, got %s", a.AttemptID)
	}
	if a.Reason != "manual" {
		t.Errorf("expected reason manual, got %s", a.Reason)
	}
	if !a.Finished || a.Killed {
		t.Errorf("expected finished and not killed, got finished=%v killed=%v", a.Finished, a.Killed)
	}
	if a.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", a.ExitCode)
	}
	if a.Duration != 1800*time.Millisecond {
		t.Errorf("expected 1.8s duration, got %v", a.Duration)
	}
	if a.Diagnostics != 4 {
		t.Errorf("expected 4 diagnostics, got %d", a.Diagnostics)
	}
}

func TestStoreRecordsKilledAttempt(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	_ = store.RecordStart(ctx, "app", "attempt-1", "file_change", time.Now())
	if err := store.RecordKilled(ctx, "attempt-1", time.Now()); err != nil {
		t.Fatalf("failed to record kill: %v", err)
	}

	attempts, err := store.Recent(ctx, "app", 10)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if !attempts[0].Killed {
		t.Error("expected attempt marked killed")
	}
	if attempts[0].ExitCode != -1 {
		t.Errorf("expected exit code -1 for killed attempt, got %d", attempts[0].ExitCode)
	}
}

func TestStoreRecentFiltersAndOrders(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	_ = store.RecordStart(ctx, "app", "a-1", "start", time.Now())
	_ = store.RecordStart(ctx, "lib", "l-1", "start", time.Now())
	_ = store.RecordStart(ctx, "app", "a-2", "file_change", time.Now())

	appOnly, err := store.Recent(ctx, "app", 10)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(appOnly) != 2 {
		t.Fatalf("expected 2 app attempts, got %d", len(appOnly))
	}
	// Newest first.
	if appOnly[0].AttemptID != "a-2" || appOnly[1].AttemptID != "a-1" {
		t.Errorf("unexpected order: %s, %s", appOnly[0].AttemptID, appOnly[1].AttemptID)
	}

	all, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(all))
	}

	limited, err := store.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(limited))
	}
}

func TestStorePrune(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	_ = store.RecordStart(ctx, "app", "old", "start", time.Now().Add(-48*time.Hour))
	_ = store.RecordStart(ctx, "app", "fresh", "start", time.Now())

	removed, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned row, got %d", removed)
	}

	attempts, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].AttemptID != "fresh" {
		t.Errorf("expected only the fresh attempt to remain, got %+v", attempts)
	}
}
