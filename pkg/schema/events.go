// pkg/schema/events.go
package schema

// JobRequest is the structured invocation event. The object path names a
// single document or a zip archive of documents in the configured bucket.
type JobRequest struct {
	Input JobInput `json:"input"`
}

type JobInput struct {
	ObjectPath string `json:"object_path"`
}

// JobResult is returned by a successful run.
type JobResult struct {
	JobID          string `json:"job_id"`
	OutputPath     string `json:"output_path"`
	ProcessedPDFs  int    `json:"processed_pdfs"`
	ProcessedPages int    `json:"processed_pages,omitempty"`
	Mode           string `json:"mode,omitempty"`
}

// JobReply is what the request/reply surfaces send back: a result or an error.
type JobReply struct {
	*JobResult
	Error       string          `json:"error,omitempty"`
	Stage       ProcessingStage `json:"stage,omitempty"`
	FailureType FailureType     `json:"failure_type,omitempty"`
}

type ProcessingStage string

const (
	StageWorkspace ProcessingStage = "workspace"
	StageInput     ProcessingStage = "input"
	StageConvert   ProcessingStage = "convert"
	StagePackage   ProcessingStage = "package"
	StagePublish   ProcessingStage = "publish"
	StageCompleted ProcessingStage = "completed"
	StageFailed    ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

type DocumentResult struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Pages      int    `json:"pages,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type JobLifecycleEvent struct {
	JobID           string          `json:"job_id"`
	ObjectPath      string          `json:"object_path"`
	Stage           ProcessingStage `json:"stage"`
	Documents       int             `json:"documents,omitempty"`
	ProcessingStart int64           `json:"processing_start,omitempty"`
	ProcessingEnd   int64           `json:"processing_end,omitempty"`
	Error           string          `json:"error,omitempty"`
	FailureType     FailureType     `json:"failure_type,omitempty"`
	HappenedAt      int64           `json:"happened_at"`
}

type JobDone struct {
	JobID            string              `json:"job_id"`
	ObjectPath       string              `json:"object_path"`
	OutputPath       string              `json:"output_path,omitempty"`
	Mode             string              `json:"mode,omitempty"`
	TotalProcessed   int                 `json:"total_processed"`
	TotalPages       int                 `json:"total_pages,omitempty"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Documents        []DocumentResult    `json:"documents,omitempty"`
	Lifecycle        []JobLifecycleEvent `json:"lifecycle,omitempty"`
	Error            string              `json:"error,omitempty"`
	Stage            ProcessingStage     `json:"stage,omitempty"`
	FailureType      FailureType         `json:"failure_type,omitempty"`
	HappenedAt       int64               `json:"happened_at"`
}
