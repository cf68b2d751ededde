// Package model holds the entities the sync core tracks (pools, categories, tasks) and the
// Arena that indexes them by id. Entities write through to a store.Store: a mutator only
// changes the in-memory value after the persisted write succeeded.
package model

import (
	"fmt"
	"strconv"
)

// Section kinds in the store.
const (
	SectionPool     = "pool"
	SectionCategory = "category"
	SectionTask     = "task"
)

// TaskKind is the source type of a task.
type TaskKind string

const (
	KindNormal   TaskKind = "normal"
	KindBT       TaskKind = "bt"
	KindMetalink TaskKind = "metalink"
)

// ParseTaskKind accepts the persisted and CLI spellings of a kind.
func ParseTaskKind(s string) (TaskKind, error) {
	switch TaskKind(s) {
	case KindNormal, KindBT, KindMetalink:
		return TaskKind(s), nil
	case "torrent":
		return KindBT, nil
	case "uri", "":
		return KindNormal, nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// NeedsMetadata reports whether the kind is submitted from a metadata file.
func (k TaskKind) NeedsMetadata() bool {
	return k == KindBT || k == KindMetalink
}

// Status is the local lifecycle state of a task.
type Status string

const (
	StatusCreated  Status = "created"
	StatusQueued   Status = "queued"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusRemoved  Status = "removed"
)

func parseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusQueued, StatusActive, StatusPaused, StatusComplete, StatusError, StatusRemoved:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// CategoryKind distinguishes user categories from the per-pool special collections.
type CategoryKind string

const (
	CategoryNormal  CategoryKind = "normal"
	CategoryQueuing CategoryKind = "queuing"
	CategoryDustbin CategoryKind = "dustbin"
)

// ConnState is the runtime connection state of a pool. It is never persisted.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (c ConnState) String() string {
	if c == Connected {
		return "connected"
	}
	return "disconnected"
}

func (c ConnState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connected":
		*c = Connected
	case "disconnected":
		*c = Disconnected
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// Percent returns completed/total as a whole percentage in 0..100; 0 when total is 0.
func Percent(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	if completed <= 0 {
		return 0
	}
	return int(completed * 100 / total)
}

func parseInt64(rec map[string]string, key string) (int64, error) {
	v, ok := rec[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return n, nil
}
