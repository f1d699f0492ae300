package resilience

import (
	"sync"
	"time"

	"github.com/wanga1712/tendermatch/internal/model"
)

// FailedTender records a tender whose processing ended in an error, together
// with enough context to retry it in a later run.
type FailedTender struct {
	Tender       model.TenderRef `json:"tender"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"` // "transient" or "permanent"
	FailedState  string          `json:"failed_state,omitempty"`
	RetryCount   int             `json:"retry_count"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// CanRetry returns true for transient failures.
func (f *FailedTender) CanRetry() bool {
	return f.ErrorType == "transient"
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// FailureLog accumulates failed tenders across a run. Safe for concurrent use
// by pipeline workers.
type FailureLog struct {
	mu      sync.Mutex
	entries []FailedTender
}

// Record adds a failure.
func (l *FailureLog) Record(ref model.TenderRef, state string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, FailedTender{
		Tender:       ref,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		FailedState:  state,
		LastFailedAt: time.Now(),
	})
}

// Entries returns a copy of the recorded failures.
func (l *FailureLog) Entries() []FailedTender {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailedTender, len(l.entries))
	copy(out, l.entries)
	return out
}

// Retryable returns the transient subset of failures.
func (l *FailureLog) Retryable() []FailedTender {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []FailedTender
	for _, e := range l.entries {
		if e.CanRetry() {
			out = append(out, e)
		}
	}
	return out
}
