package telemetry

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSinkEmitAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	sink, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Emit("run1", "cycle_started", map[string]any{"queue_depth": float64(2)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := sink.Emit("run1", "cycle_completed", map[string]any{"status": "success"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	records, err := Tail(path)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Type != "cycle_started" || records[1].Type != "cycle_completed" {
		t.Fatalf("unexpected order: %+v", records)
	}
	if records[0].RunID != "run1" {
		t.Fatalf("expected run_id run1, got %q", records[0].RunID)
	}
}

func TestTailMissingFileReturnsEmpty(t *testing.T) {
	records, err := Tail(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestPruneIfStaleRemovesOldLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	sink, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Emit("run1", "cycle_started", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if err := sink.PruneIfStale(0); err != nil {
		t.Fatalf("PruneIfStale: %v", err)
	}
	records, err := Tail(path)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected log pruned, got %d records", len(records))
	}
}

func TestPruneIfStaleKeepsFreshLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	sink, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Emit("run1", "cycle_started", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := sink.PruneIfStale(time.Hour); err != nil {
		t.Fatalf("PruneIfStale: %v", err)
	}
	records, err := Tail(path)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected log kept, got %d records", len(records))
	}
}
