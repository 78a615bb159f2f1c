package scraper

import (
	"time"
)

// JobState represents the lifecycle state of a scrape job.
type JobState string

// Job state values held in the job manager's state map.
const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// FetchMode selects the fetch backend for a job.
type FetchMode string

// Fetch modes accepted at submission. ModeAuto defers to the detector.
const (
	ModeAuto    FetchMode = "auto"
	ModeStatic  FetchMode = "static"
	ModeDynamic FetchMode = "dynamic"
)

// ParseFetchMode validates a caller-supplied mode string. Empty means auto.
func ParseFetchMode(s string) (FetchMode, bool) {
	switch FetchMode(s) {
	case "", ModeAuto:
		return ModeAuto, true
	case ModeStatic:
		return ModeStatic, true
	case ModeDynamic:
		return ModeDynamic, true
	default:
		return "", false
	}
}

// JobRequest captures everything a caller provides at submission.
type JobRequest struct {
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors,omitempty"`
	Mode      FetchMode         `json:"mode,omitempty"`
}

// Job is the metadata tracked for each submitted scrape request.
// The manager is the sole writer of State; a copy is handed out on reads.
type Job struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Host      string            `json:"-"`
	Selectors map[string]string `json:"selectors,omitempty"`
	Mode      FetchMode         `json:"mode"`
	State     JobState          `json:"state"`
	Submitted time.Time         `json:"submitted_at"`
	Started   *time.Time        `json:"started_at,omitempty"`
	Finished  *time.Time        `json:"finished_at,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	ErrorText string            `json:"error_text,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
}

// JobSummary is the compact listing row returned by ListJobs.
type JobSummary struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	State     JobState   `json:"state"`
	Submitted time.Time  `json:"submitted_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Record is one extracted field map. Field order inside a record is not
// significant; record order follows document order.
type Record map[string]string

// ResultMetadata carries measurement data attached to a Result.
type ResultMetadata struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Bytes          int     `json:"bytes"`
}

// Result is the persisted output of a terminal job. Immutable once
// written; the shape is the compatibility surface external tooling
// depends on.
type Result struct {
	JobID            string         `json:"job_id"`
	SourceURL        string         `json:"source_url"`
	CompletedAt      time.Time      `json:"completed_at"`
	Status           JobState       `json:"status"`
	ExtractionMethod FetchMode      `json:"extraction_method"`
	Data             []Record       `json:"data"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorText        string         `json:"error_text,omitempty"`
	Metadata         ResultMetadata `json:"metadata"`
}

// CompletionEvent is published once per terminal job when a publisher
// is configured.
type CompletionEvent struct {
	JobID  string    `json:"job_id"`
	URL    string    `json:"url"`
	Status JobState  `json:"status"`
	Method FetchMode `json:"method"`
	At     time.Time `json:"at"`
}
