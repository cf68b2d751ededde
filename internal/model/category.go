package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/store"
)

// CategoryInfo is a detached snapshot of a category.
type CategoryInfo struct {
	ID        string
	PoolID    string
	Name      string
	Directory string
	Kind      CategoryKind
	Options   config.TaskOptions
	TaskIDs   []string
}

// Category groups tasks of one pool that share a default directory and options.
type Category struct {
	st      store.Store
	section string
	info    CategoryInfo
}

func (c *Category) ID() string         { return c.info.ID }
func (c *Category) PoolID() string     { return c.info.PoolID }
func (c *Category) Name() string       { return c.info.Name }
func (c *Category) Kind() CategoryKind { return c.info.Kind }

// Options returns the category layer of task options, with Directory as the dir default.
func (c *Category) Options() config.TaskOptions {
	opts := c.info.Options
	opts.Extra = maps.Clone(opts.Extra)
	if opts.Dir == "" {
		opts.Dir = c.info.Directory
	}
	return opts
}

// Info returns a copy of the category state.
func (c *Category) Info() CategoryInfo {
	out := c.info
	out.TaskIDs = slices.Clone(c.info.TaskIDs)
	out.Options.Extra = maps.Clone(c.info.Options.Extra)
	return out
}

// TaskIDs returns the ordered member list.
func (c *Category) TaskIDs() []string {
	return slices.Clone(c.info.TaskIDs)
}

// HasTask reports membership.
func (c *Category) HasTask(id string) bool {
	return slices.Contains(c.info.TaskIDs, id)
}

// AddTask appends id to the member list. The list is persisted before the call
// returns; adding a present id is a no-op.
func (c *Category) AddTask(id string) error {
	if c.HasTask(id) {
		return nil
	}
	next := append(slices.Clone(c.info.TaskIDs), id)
	if err := c.writeTasks(next); err != nil {
		return err
	}
	c.info.TaskIDs = next
	return nil
}

// RemoveTask drops id from the member list, persisting first. Removing an absent id is
// a no-op.
func (c *Category) RemoveTask(id string) error {
	i := slices.Index(c.info.TaskIDs, id)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(c.info.TaskIDs), i, i+1)
	if err := c.writeTasks(next); err != nil {
		return err
	}
	c.info.TaskIDs = next
	return nil
}

// SetDirectory changes the default directory.
func (c *Category) SetDirectory(dir string) error {
	if err := c.st.WriteKey(c.section, "directory", dir); err != nil {
		return fmt.Errorf("persist category %s: %w", c.info.ID, err)
	}
	c.info.Directory = dir
	return nil
}

func (c *Category) writeTasks(ids []string) error {
	if err := c.st.WriteKey(c.section, "tasks", strings.Join(ids, ",")); err != nil {
		return fmt.Errorf("persist category %s: %w", c.info.ID, err)
	}
	return nil
}

func categoryRecord(info CategoryInfo) map[string]string {
	rec := map[string]string{
		"pool":      info.PoolID,
		"name":      info.Name,
		"directory": info.Directory,
		"kind":      string(info.Kind),
		"tasks":     strings.Join(info.TaskIDs, ","),
	}
	for k, v := range info.Options.ToMap() {
		rec[optionPrefix+k] = v
	}
	return rec
}

// CategoryFromRecord rebuilds a category from its persisted section.
func CategoryFromRecord(st store.Store, id string, rec map[string]string) (*Category, error) {
	info := CategoryInfo{
		ID:        id,
		PoolID:    rec["pool"],
		Name:      rec["name"],
		Directory: rec["directory"],
		Kind:      CategoryKind(rec["kind"]),
	}
	switch info.Kind {
	case CategoryNormal, CategoryQueuing, CategoryDustbin:
	case "":
		info.Kind = CategoryNormal
	default:
		return nil, fmt.Errorf("category %s: unknown kind %q", id, info.Kind)
	}
	if info.PoolID == "" {
		return nil, fmt.Errorf("category %s: missing pool", id)
	}
	if raw := rec["tasks"]; raw != "" {
		for _, tid := range strings.Split(raw, ",") {
			if tid != "" && !slices.Contains(info.TaskIDs, tid) {
				info.TaskIDs = append(info.TaskIDs, tid)
			}
		}
	}

	opts := make(map[string]string)
	for k, v := range rec {
		if name, ok := strings.CutPrefix(k, optionPrefix); ok {
			opts[name] = v
		}
	}
	var err error
	if info.Options, err = config.OptionsFromMap(opts); err != nil {
		return nil, fmt.Errorf("category %s: %w", id, err)
	}

	return &Category{st: st, section: store.Section(SectionCategory, id), info: info}, nil
}
