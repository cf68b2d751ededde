package core

import (
	"context"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/version"
)

// SyncService is the process boundary the CLI (or any UI) drives. Every method is safe
// to call from any goroutine except the service's own event loop.
type SyncService interface {
	// SubmitTask creates a task and submits it to its pool's daemon. When the daemon
	// rejects the submission the task id is returned together with the error; the task
	// stays CREATED and can be resumed later. A metadata file that cannot be read
	// creates no task at all.
	SubmitTask(ctx context.Context, req SubmitRequest) (string, error)

	PauseTask(ctx context.Context, taskID string) error
	ResumeTask(ctx context.Context, taskID string) error
	RemoveTask(ctx context.Context, taskID string) error
	// RecycleTask pauses the task on the daemon and moves it to its pool's Dustbin.
	RecycleTask(ctx context.Context, taskID string) error

	// ListTasks returns the task ids of a category in list order.
	ListTasks(ctx context.Context, categoryID string) ([]string, error)
	// Tasks is ListTasks with snapshots instead of ids.
	Tasks(ctx context.Context, categoryID string) ([]model.TaskInfo, error)
	Task(ctx context.Context, taskID string) (model.TaskInfo, error)

	AddPool(ctx context.Context, info model.PoolInfo) (model.PoolInfo, error)
	RemovePool(ctx context.Context, poolID string) error
	AddCategory(ctx context.Context, poolID, name, dir string, opts config.TaskOptions) (model.CategoryInfo, error)
	Pools(ctx context.Context) ([]model.PoolInfo, error)
	Categories(ctx context.Context, poolID string) ([]model.CategoryInfo, error)

	// Reconcile checks the pool's daemon session and resubmits stale tasks.
	Reconcile(ctx context.Context, poolID string) error
	// PollPool runs one status poll cycle for the pool and waits for it to be applied.
	PollPool(ctx context.Context, poolID string) error
	DaemonVersion(ctx context.Context, poolID string) (version.DaemonInfo, error)

	// StreamEvents returns a channel of events.* messages, closed when ctx ends or the
	// service shuts down.
	StreamEvents(ctx context.Context) (<-chan interface{}, error)

	Run(ctx context.Context) error
	Shutdown() error
}

// SubmitRequest describes a new task.
type SubmitRequest struct {
	Kind         model.TaskKind
	Name         string
	URIs         []string
	MetadataPath string
	// CategoryID selects the category; when empty the task goes to PoolID's Queuing
	// collection.
	CategoryID string
	PoolID     string
	Options    config.TaskOptions
	Paused     bool
}

var _ SyncService = (*Service)(nil)
