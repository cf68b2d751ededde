// Package rpc is the client for the external download daemon. Every call returns a
// *faults.Error on failure so callers can branch on transport vs. remote faults.
package rpc

import "context"

// Daemon-side job states reported by TellStatus.
const (
	StatusActive   = "active"
	StatusWaiting  = "waiting"
	StatusPaused   = "paused"
	StatusError    = "error"
	StatusComplete = "complete"
	StatusRemoved  = "removed"
)

// Client is the set of daemon operations the sync core uses.
type Client interface {
	// AddURI submits a NORMAL download and returns its handle.
	AddURI(ctx context.Context, uris []string, options map[string]string) (string, error)
	// AddTorrent submits a torrent file; uris are optional web seeds.
	AddTorrent(ctx context.Context, torrent []byte, uris []string, options map[string]string) (string, error)
	// AddMetalink submits a metalink document. The daemon may create several jobs; a nil
	// error comes with at least one handle.
	AddMetalink(ctx context.Context, metalink []byte, options map[string]string) ([]string, error)
	// GetSessionInfo returns the daemon's session id, which changes on every restart.
	GetSessionInfo(ctx context.Context) (string, error)
	GetVersion(ctx context.Context) (Version, error)
	TellStatus(ctx context.Context, handle string) (Status, error)
	Pause(ctx context.Context, handle string) error
	Unpause(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
}

// Version is the daemon build and its compiled-in features.
type Version struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

// Status is the subset of a daemon job status the poller consumes.
type Status struct {
	Handle          string
	Status          string
	CompletedLength int64
	TotalLength     int64
	DownloadSpeed   int64
	UploadSpeed     int64
	Connections     int
	ErrorCode       string
	ErrorMessage    string
}
