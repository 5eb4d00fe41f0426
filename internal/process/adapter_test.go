package process

import (
	"errors"
	"testing"
)

func TestNewJobCapturesInput(t *testing.T) {
	payload := map[string]string{"object_path": "uploads/a.zip"}
	job := NewJob("docparse", "job-1", payload)

	if job.Kind != "docparse" || job.ID != "job-1" {
		t.Fatalf("unexpected job identity: %+v", job)
	}
	if job.State != StateStart || job.Status != JobStatusPending {
		t.Fatalf("unexpected initial state: %s/%s", job.State, job.Status)
	}

	got, ok := job.Input.(map[string]string)
	if !ok {
		t.Fatalf("job input type mismatch: %#v", job.Input)
	}
	if got["object_path"] != "uploads/a.zip" {
		t.Fatalf("job input not preserved: %#v", got)
	}
}

func TestAdvanceWalksEveryState(t *testing.T) {
	job := NewJob("docparse", "job-1", nil)
	MarkRunning(job)
	for _, s := range order[1:] {
		if err := job.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if job.Status != JobStatusSucceeded {
		t.Fatalf("job should succeed after done, got %s", job.Status)
	}
	if len(job.History()) != len(order) {
		t.Fatalf("expected %d transitions, got %d", len(order), len(job.History()))
	}
}

func TestAdvanceRejectsSkips(t *testing.T) {
	job := NewJob("docparse", "job-1", nil)
	if err := job.Advance(StateWorkspaceReady); err == nil {
		t.Fatal("expected error skipping id_assigned")
	}
	if err := job.Advance(StateIDAssigned); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := job.Advance(StateStart); err == nil {
		t.Fatal("expected error moving backwards")
	}
}

func TestAdvanceAfterFailure(t *testing.T) {
	job := NewJob("docparse", "job-1", nil)
	MarkFailed(job, errors.New("boom"))
	if err := job.Advance(StateIDAssigned); err == nil {
		t.Fatal("failed job must not advance")
	}
}

func TestMarkFailedSetsStatusAndError(t *testing.T) {
	job := NewJob("docparse", "job-2", nil)
	MarkFailed(job, errors.New("boom"))

	if job.Status != JobStatusFailed {
		t.Fatalf("job status not failed: %v", job.Status)
	}
	if job.Error == "" {
		t.Fatal("job error not recorded")
	}
}

func TestMarkFailedDoesNotOverwriteErrorWhenNil(t *testing.T) {
	job := NewJob("docparse", "job-3", nil)
	MarkFailed(job, nil)

	if job.Status != JobStatusFailed {
		t.Fatalf("job status not failed: %v", job.Status)
	}
	if job.Error != "" {
		t.Fatalf("expected empty error string, got %q", job.Error)
	}
}
