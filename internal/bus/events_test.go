package bus

import (
	"errors"
	"testing"

	"github.com/tendant/simple-docparser/pkg/schema"
)

type fakePublisher struct {
	subjects []string
	values   []any
	err      error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	f.subjects = append(f.subjects, subject)
	f.values = append(f.values, v)
	return f.err
}

func TestEventPublisherSubjects(t *testing.T) {
	fake := &fakePublisher{}
	p := NewEventPublisher(fake, "docparser.done", nil)

	p.Lifecycle(schema.JobLifecycleEvent{JobID: "j1", Stage: schema.StageInput})
	p.Done(schema.JobDone{JobID: "j1", OutputPath: "j1.zip"})

	if len(fake.subjects) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(fake.subjects))
	}
	if fake.subjects[0] != "docparser.done.lifecycle" {
		t.Fatalf("unexpected lifecycle subject: %s", fake.subjects[0])
	}
	if fake.subjects[1] != "docparser.done" {
		t.Fatalf("unexpected done subject: %s", fake.subjects[1])
	}
	done, ok := fake.values[1].(schema.JobDone)
	if !ok || done.OutputPath != "j1.zip" {
		t.Fatalf("unexpected done payload: %#v", fake.values[1])
	}
}

func TestEventPublisherSwallowsErrors(t *testing.T) {
	fake := &fakePublisher{err: errors.New("nats down")}
	p := NewEventPublisher(fake, "docparser.done", nil)

	// must not panic or block
	p.Lifecycle(schema.JobLifecycleEvent{JobID: "j1", Stage: schema.StageFailed})
	p.Done(schema.JobDone{JobID: "j1", Error: "boom"})

	if len(fake.subjects) != 2 {
		t.Fatalf("expected both publishes to be attempted, got %d", len(fake.subjects))
	}
}
