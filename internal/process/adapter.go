// internal/process/adapter.go
package process

import (
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// State is the pipeline step a job has reached.
type State string

const (
	StateStart          State = "start"
	StateIDAssigned     State = "id_assigned"
	StateWorkspaceReady State = "workspace_ready"
	StateInputResolved  State = "input_resolved"
	StateConverted      State = "converted"
	StatePackaged       State = "packaged"
	StatePublished      State = "published"
	StateDone           State = "done"
)

var order = []State{
	StateStart,
	StateIDAssigned,
	StateWorkspaceReady,
	StateInputResolved,
	StateConverted,
	StatePackaged,
	StatePublished,
	StateDone,
}

func rank(s State) int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return -1
}

// Transition is one recorded state change.
type Transition struct {
	State State
	At    time.Time
}

// Job captures the metadata the pipeline tracks for auditing purposes.
type Job struct {
	ID     string
	Kind   string
	Input  any
	Status JobStatus
	State  State
	Error  string

	mu      sync.Mutex
	history []Transition
	now     func() time.Time
}

func NewJob(kind, id string, input any) *Job {
	j := &Job{
		ID:     id,
		Kind:   kind,
		Input:  input,
		Status: JobStatusPending,
		State:  StateStart,
		now:    time.Now,
	}
	j.history = []Transition{{State: StateStart, At: j.now()}}
	return j
}

// Advance moves the job forward to s. States only move forward, one step at
// a time.
func (j *Job) Advance(s State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == JobStatusFailed || j.Status == JobStatusSucceeded {
		return fmt.Errorf("job %s already %s", j.ID, j.Status)
	}
	if rank(s) != rank(j.State)+1 {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.State, s)
	}
	j.State = s
	j.history = append(j.history, Transition{State: s, At: j.now()})
	if s == StateDone {
		j.Status = JobStatusSucceeded
	}
	return nil
}

// History returns the recorded transitions in order.
func (j *Job) History() []Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Transition(nil), j.history...)
}

func MarkRunning(j *Job) { j.Status = JobStatusRunning }
func MarkFailed(j *Job, err error) {
	j.Status = JobStatusFailed
	if err != nil {
		j.Error = err.Error()
	}
}
