package resilience

import (
	"time"
)

// Error classes stored on dead letter entries. Only transient entries are
// swept.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a job whose phase failed for good. Transient entries are
// retried by a periodic sweep until MaxRetries is reached.
type DLQEntry struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	ErrorKind    Kind      `json:"error_kind"`
	FailedPhase  string    `json:"failed_phase,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows a DLQ listing. Zero fields match everything.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Due       bool   `json:"due,omitempty"` // NextRetryAt has passed and retries remain
	Limit     int    `json:"limit,omitempty"`
}

// NewDLQEntry classifies cause and schedules the first retry.
func NewDLQEntry(jobID, url, phase string, cause error, maxRetries int, now time.Time) DLQEntry {
	e := DLQEntry{
		JobID:        jobID,
		URL:          url,
		ErrorType:    ClassifyError(cause),
		ErrorKind:    KindOf(cause),
		FailedPhase:  phase,
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(NextRetryDelay(0)),
		LastFailedAt: now,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// CanRetry reports whether retries remain.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Sweepable reports whether a sweep will ever pick this entry up.
func (e *DLQEntry) Sweepable() bool {
	return e.ErrorType == ErrorTypeTransient && e.CanRetry()
}

// ClassifyError maps an error to ErrorTypeTransient or ErrorTypePermanent.
func ClassifyError(err error) string {
	if !IsRetryable(err) {
		return ErrorTypePermanent
	}
	return ErrorTypeTransient
}

// NextRetryDelay is 15 minutes per attempt so far, at most six hours.
func NextRetryDelay(retryCount int) time.Duration {
	const step, ceiling = 15 * time.Minute, 6 * time.Hour
	if d := time.Duration(retryCount+1) * step; d < ceiling {
		return d
	}
	return ceiling
}
