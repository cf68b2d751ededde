package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/store"
)

const optionPrefix = "option."

// TaskInfo is a detached snapshot of a task, safe to hand to subscribers.
type TaskInfo struct {
	ID           string
	Kind         TaskKind
	Name         string
	URIs         []string
	MetadataPath string
	CategoryID   string
	CreatedAt    time.Time

	Handle    string
	Status    Status
	LastError string

	CompletedLength int64
	TotalLength     int64
	Percent         int
	DownloadSpeed   int64
	UploadSpeed     int64
	Connections     int

	Options config.TaskOptions
}

// Progress is what a status poll reports for a running job.
type Progress struct {
	CompletedLength int64
	TotalLength     int64
	DownloadSpeed   int64
	UploadSpeed     int64
	Connections     int
}

// Task is one download tracked locally, mapped to at most one daemon job by its handle.
type Task struct {
	st      store.Store
	section string
	info    TaskInfo
}

func (t *Task) ID() string                  { return t.info.ID }
func (t *Task) Kind() TaskKind              { return t.info.Kind }
func (t *Task) Handle() string              { return t.info.Handle }
func (t *Task) Status() Status              { return t.info.Status }
func (t *Task) CategoryID() string          { return t.info.CategoryID }
func (t *Task) Options() config.TaskOptions { return t.info.Options }

// Info returns a copy of the task state.
func (t *Task) Info() TaskInfo {
	out := t.info
	out.URIs = slices.Clone(t.info.URIs)
	out.Options.Extra = maps.Clone(t.info.Options.Extra)
	return out
}

func (t *Task) write(values map[string]string) error {
	if err := t.st.WriteKeys(t.section, values); err != nil {
		return fmt.Errorf("persist task %s: %w", t.info.ID, err)
	}
	return nil
}

// SetHandle stores a new handle (empty clears it).
func (t *Task) SetHandle(handle string) error {
	if err := t.write(map[string]string{"handle": handle}); err != nil {
		return err
	}
	t.info.Handle = handle
	return nil
}

// SetStatus changes the status and the last error message together.
func (t *Task) SetStatus(status Status, lastError string) error {
	if err := t.write(map[string]string{"status": string(status), "error": lastError}); err != nil {
		return err
	}
	t.info.Status = status
	t.info.LastError = lastError
	return nil
}

// Bind records a successful submission: the daemon handle and the resulting status.
func (t *Task) Bind(handle string, status Status) error {
	if err := t.write(map[string]string{"handle": handle, "status": string(status), "error": ""}); err != nil {
		return err
	}
	t.info.Handle = handle
	t.info.Status = status
	t.info.LastError = ""
	return nil
}

// Unbind clears the handle and sets status and error in one write.
func (t *Task) Unbind(status Status, lastError string) error {
	if err := t.write(map[string]string{"handle": "", "status": string(status), "error": lastError}); err != nil {
		return err
	}
	t.info.Handle = ""
	t.info.Status = status
	t.info.LastError = lastError
	return nil
}

// Complete marks the task finished: completed = total, 100% (0% if the size was never
// known), handle cleared.
func (t *Task) Complete() error {
	total := t.info.TotalLength
	if total < t.info.CompletedLength {
		total = t.info.CompletedLength
	}
	percent := Percent(total, total)
	err := t.write(map[string]string{
		"completed": strconv.FormatInt(total, 10),
		"total":     strconv.FormatInt(total, 10),
		"percent":   strconv.Itoa(percent),
		"status":    string(StatusComplete),
		"handle":    "",
		"error":     "",
	})
	if err != nil {
		return err
	}
	t.info.CompletedLength = total
	t.info.TotalLength = total
	t.info.Percent = percent
	t.info.Status = StatusComplete
	t.info.Handle = ""
	t.info.LastError = ""
	t.info.DownloadSpeed, t.info.UploadSpeed, t.info.Connections = 0, 0, 0
	return nil
}

// ApplyProgress updates counters from a poll. Sizes and percent are persisted only when
// they changed; speeds and connections are runtime values. It reports whether anything
// visible changed.
func (t *Task) ApplyProgress(p Progress) (bool, error) {
	percent := Percent(p.CompletedLength, p.TotalLength)
	sizeChanged := p.CompletedLength != t.info.CompletedLength ||
		p.TotalLength != t.info.TotalLength ||
		percent != t.info.Percent
	if sizeChanged {
		err := t.write(map[string]string{
			"completed": strconv.FormatInt(p.CompletedLength, 10),
			"total":     strconv.FormatInt(p.TotalLength, 10),
			"percent":   strconv.Itoa(percent),
		})
		if err != nil {
			return false, err
		}
		t.info.CompletedLength = p.CompletedLength
		t.info.TotalLength = p.TotalLength
		t.info.Percent = percent
	}
	rateChanged := p.DownloadSpeed != t.info.DownloadSpeed ||
		p.UploadSpeed != t.info.UploadSpeed ||
		p.Connections != t.info.Connections
	t.info.DownloadSpeed = p.DownloadSpeed
	t.info.UploadSpeed = p.UploadSpeed
	t.info.Connections = p.Connections
	return sizeChanged || rateChanged, nil
}

// ClearRates zeroes the runtime speed counters, e.g. after the job stopped.
func (t *Task) ClearRates() {
	t.info.DownloadSpeed, t.info.UploadSpeed, t.info.Connections = 0, 0, 0
}

func (t *Task) setCategory(id string) error {
	if err := t.write(map[string]string{"category": id}); err != nil {
		return err
	}
	t.info.CategoryID = id
	return nil
}

func taskRecord(info TaskInfo) (map[string]string, error) {
	uris, err := json.Marshal(info.URIs)
	if err != nil {
		return nil, err
	}
	rec := map[string]string{
		"kind":       string(info.Kind),
		"name":       info.Name,
		"uris":       string(uris),
		"metadata":   info.MetadataPath,
		"category":   info.CategoryID,
		"created_at": info.CreatedAt.UTC().Format(time.RFC3339Nano),
		"handle":     info.Handle,
		"status":     string(info.Status),
		"error":      info.LastError,
		"completed":  strconv.FormatInt(info.CompletedLength, 10),
		"total":      strconv.FormatInt(info.TotalLength, 10),
		"percent":    strconv.Itoa(info.Percent),
	}
	for k, v := range info.Options.ToMap() {
		rec[optionPrefix+k] = v
	}
	return rec, nil
}

// TaskFromRecord rebuilds a task from its persisted section.
func TaskFromRecord(st store.Store, id string, rec map[string]string) (*Task, error) {
	kind, err := ParseTaskKind(rec["kind"])
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(rec["status"])
	if err != nil {
		return nil, err
	}
	info := TaskInfo{
		ID:           id,
		Kind:         kind,
		Name:         rec["name"],
		MetadataPath: rec["metadata"],
		CategoryID:   rec["category"],
		Handle:       rec["handle"],
		Status:       status,
		LastError:    rec["error"],
	}
	if raw := rec["uris"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.URIs); err != nil {
			return nil, fmt.Errorf("field uris: %w", err)
		}
	}
	if raw := rec["created_at"]; raw != "" {
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("field created_at: %w", err)
		}
	}
	if info.CompletedLength, err = parseInt64(rec, "completed"); err != nil {
		return nil, err
	}
	if info.TotalLength, err = parseInt64(rec, "total"); err != nil {
		return nil, err
	}
	// percent is derived; recompute instead of trusting the record
	info.Percent = Percent(info.CompletedLength, info.TotalLength)

	opts := make(map[string]string)
	for k, v := range rec {
		if name, ok := strings.CutPrefix(k, optionPrefix); ok {
			opts[name] = v
		}
	}
	if info.Options, err = config.OptionsFromMap(opts); err != nil {
		return nil, err
	}

	return &Task{st: st, section: store.Section(SectionTask, id), info: info}, nil
}
