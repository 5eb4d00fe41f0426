package bus

import (
	"log/slog"

	"github.com/tendant/simple-docparser/pkg/schema"
)

// JSONPublisher is the part of Client the event publisher needs.
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

// EventPublisher sends job lifecycle events to <subject>.lifecycle and the
// final summary to subject. Publish errors are logged, never returned.
type EventPublisher struct {
	pub     JSONPublisher
	subject string
	logger  *slog.Logger
}

func NewEventPublisher(pub JSONPublisher, subject string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{pub: pub, subject: subject, logger: logger}
}

func (e *EventPublisher) Lifecycle(ev schema.JobLifecycleEvent) {
	if err := e.pub.PublishJSON(e.subject+".lifecycle", ev); err != nil {
		e.logger.Error("publish lifecycle event failed", "subject", e.subject, "stage", ev.Stage, "job_id", ev.JobID, "err", err)
	}
}

func (e *EventPublisher) Done(done schema.JobDone) {
	if err := e.pub.PublishJSON(e.subject, done); err != nil {
		e.logger.Error("publish result failed", "subject", e.subject, "job_id", done.JobID, "err", err)
	}
}
