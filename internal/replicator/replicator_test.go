package replicator

import (
	"context"
	"testing"
)

func TestRecordingReplicatorRecordsCalls(t *testing.T) {
	r := &RecordingReplicator{}
	if err := r.Notify(context.Background(), "media", []string{"a/b", "c/d"}); err != nil {
		t.Fatal(err)
	}
	if len(r.Calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(r.Calls))
	}
	if r.Calls[0].Group != "media" {
		t.Errorf("got group %q, want media", r.Calls[0].Group)
	}
	if len(r.Calls[0].Paths) != 2 {
		t.Errorf("got %d paths, want 2", len(r.Calls[0].Paths))
	}
}

func TestCSync2ReplicatorNoopOnEmptyGroup(t *testing.T) {
	c := CSync2Replicator{Binary: "/nonexistent/csync2"}
	if err := c.Notify(context.Background(), "", []string{"a"}); err != nil {
		t.Fatalf("expected a no-op, got %v", err)
	}
}

func TestCSync2ReplicatorReturnsErrorOnSpawnFailure(t *testing.T) {
	c := CSync2Replicator{Binary: "/nonexistent/csync2"}
	if err := c.Notify(context.Background(), "media", []string{"a"}); err == nil {
		t.Fatal("expected Notify to report a spawn failure to its caller")
	}
}
