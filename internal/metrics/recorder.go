// Package metrics exposes counters for daemon calls, polls and reconciliations.
package metrics

import "time"

// Result labels.
const (
	ResultSuccess       = "success"
	ResultTransport     = "transport"
	ResultUnknownHandle = "unknown_handle"
	ResultInvalidInput  = "invalid_input"
	ResultLocalIO       = "local_io"

	// ResultDiscarded marks a poll answer that arrived for a task that changed meanwhile.
	ResultDiscarded = "discarded"
)

// Recorder receives observability hooks from the sync core.
type Recorder interface {
	ObserveCall(method string, d time.Duration, result string)
	IncPoll(poolID, result string)
	IncSubmission(kind, result string)
	IncResubmission(poolID string)
	IncReconcile(poolID string, sessionChanged bool)
	SetPoolConnected(poolID string, connected bool)
	SetTasks(status string, n int)
}

// NoopRecorder is used when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) ObserveCall(string, time.Duration, string) {}
func (NoopRecorder) IncPoll(string, string)                    {}
func (NoopRecorder) IncSubmission(string, string)              {}
func (NoopRecorder) IncResubmission(string)                    {}
func (NoopRecorder) IncReconcile(string, bool)                 {}
func (NoopRecorder) SetPoolConnected(string, bool)             {}
func (NoopRecorder) SetTasks(string, int)                      {}
