// Package events defines the change notifications the sync core publishes. Subscribers
// receive them as interface{} values and switch on the concrete type.
package events

import (
	"time"

	"github.com/surge-downloader/ariasync/internal/model"
)

// TaskAddedMsg is sent once a task record exists, before its first submission result.
type TaskAddedMsg struct {
	Task model.TaskInfo
}

// TaskRemovedMsg is sent after a task left its category and the index.
type TaskRemovedMsg struct {
	TaskID string
	PoolID string
}

// TaskChangedMsg carries the new state of a task after a poll, submission or user
// action. Err is set when the change was caused by a failure.
type TaskChangedMsg struct {
	Task model.TaskInfo
	Err  error
}

// TaskFailedMsg is the user-visible error for a task: a submission the daemon
// rejected, or a handle the daemon no longer knows.
type TaskFailedMsg struct {
	TaskID string
	PoolID string
	Handle string
	Err    error
}

// PoolConnectedMsg is sent after a successful reconciliation.
type PoolConnectedMsg struct {
	PoolID         string
	SessionID      string
	SessionChanged bool
	Resubmitted    int
}

// PoolDisconnectedMsg is sent when a pool's daemon becomes unreachable.
type PoolDisconnectedMsg struct {
	PoolID  string
	Err     error
	RetryIn time.Duration
}
