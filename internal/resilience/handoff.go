package resilience

import (
	"time"
)

// HandoffEntry represents a failed agent handoff that can be retried later.
// Incident detection never blocks on agent availability; a handoff that
// cannot be delivered lands here instead.
type HandoffEntry struct {
	ID           string    `json:"id"`
	IncidentID   string    `json:"incident_id"`
	Agent        string    `json:"agent"`
	Instruction  string    `json:"instruction"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// HandoffFilter specifies criteria for querying the handoff queue.
type HandoffFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *HandoffEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
