package model

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/store"
)

var (
	ErrPoolNotFound     = errors.New("pool not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrTaskNotFound     = errors.New("task not found")
)

// Arena indexes pools, categories and tasks by id. The maps are guarded by mu; entity
// mutators are expected to run on a single goroutine (the core's event loop).
type Arena struct {
	st    store.Store
	clock clockwork.Clock
	log   logrus.FieldLogger

	mu         sync.RWMutex
	pools      map[string]*Pool
	poolOrder  []string
	categories map[string]*Category
	tasks      map[string]*Task
}

// NewArena returns an empty arena backed by st.
func NewArena(st store.Store, clock clockwork.Clock, log logrus.FieldLogger) *Arena {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Arena{
		st:         st,
		clock:      clock,
		log:        log,
		pools:      make(map[string]*Pool),
		categories: make(map[string]*Category),
		tasks:      make(map[string]*Task),
	}
}

// Load rebuilds the arena from the store. The task record's category key is
// authoritative: category lists are repaired to match it, and records left behind by an
// interrupted removal (a category without its pool, a task without its category) are
// deleted.
func (a *Arena) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pools, err := a.st.Sections(SectionPool)
	if err != nil {
		return err
	}
	for _, section := range pools {
		_, id := store.SplitSection(section)
		rec, err := a.st.ReadAll(section)
		if err != nil {
			return err
		}
		p, err := PoolFromRecord(a.st, id, rec)
		if err != nil {
			return err
		}
		a.pools[id] = p
		a.poolOrder = append(a.poolOrder, id)
	}

	categories, err := a.st.Sections(SectionCategory)
	if err != nil {
		return err
	}
	for _, section := range categories {
		_, id := store.SplitSection(section)
		rec, err := a.st.ReadAll(section)
		if err != nil {
			return err
		}
		c, err := CategoryFromRecord(a.st, id, rec)
		if err != nil {
			return err
		}
		if _, ok := a.pools[c.PoolID()]; !ok {
			a.log.WithField("category_id", id).Warn("Dropping category of a removed pool")
			if err := a.st.DeleteSection(section); err != nil {
				return err
			}
			continue
		}
		a.categories[id] = c
	}

	tasks, err := a.st.Sections(SectionTask)
	if err != nil {
		return err
	}
	for _, section := range tasks {
		_, id := store.SplitSection(section)
		rec, err := a.st.ReadAll(section)
		if err != nil {
			return err
		}
		t, err := TaskFromRecord(a.st, id, rec)
		if err != nil {
			return fmt.Errorf("load task %s: %w", id, err)
		}
		if _, ok := a.categories[t.CategoryID()]; !ok {
			a.log.WithField("task_id", id).Warn("Dropping task of a removed category")
			if err := a.st.DeleteSection(section); err != nil {
				return err
			}
			continue
		}
		a.tasks[id] = t
	}

	return a.repair()
}

func (a *Arena) repair() error {
	for _, c := range a.categories {
		for _, tid := range c.TaskIDs() {
			t, ok := a.tasks[tid]
			if ok && t.CategoryID() == c.ID() {
				continue
			}
			a.log.WithFields(logrus.Fields{"task_id": tid, "category_id": c.ID()}).Debug("Repairing category membership")
			if err := c.RemoveTask(tid); err != nil {
				return err
			}
		}
	}
	for _, t := range a.tasks {
		if err := a.categories[t.CategoryID()].AddTask(t.ID()); err != nil {
			return err
		}
	}
	for _, p := range a.pools {
		for _, cid := range p.Info().CategoryIDs {
			if _, ok := a.categories[cid]; !ok {
				if err := p.removeCategory(cid); err != nil {
					return err
				}
			}
		}
	}
	for _, c := range a.categories {
		if c.Kind() != CategoryNormal {
			continue
		}
		if err := a.pools[c.PoolID()].addCategory(c.ID()); err != nil {
			return err
		}
	}
	return nil
}

// NewPool persists a new pool together with its Queuing and Dustbin collections.
func (a *Arena) NewPool(info PoolInfo) (*Pool, error) {
	if info.Host == "" {
		return nil, errors.New("pool host is required")
	}
	if info.Port <= 0 || info.Port > 65535 {
		return nil, fmt.Errorf("invalid pool port %d", info.Port)
	}
	info.ID = uuid.New().String()
	info.State = Disconnected
	info.CategoryIDs = nil
	if info.Name == "" {
		info.Name = info.Host
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	queuing, err := a.createCategory(CategoryInfo{PoolID: info.ID, Name: "Queuing", Kind: CategoryQueuing})
	if err != nil {
		return nil, err
	}
	dustbin, err := a.createCategory(CategoryInfo{PoolID: info.ID, Name: "Dustbin", Kind: CategoryDustbin})
	if err != nil {
		return nil, err
	}
	info.QueuingID = queuing.ID()
	info.DustbinID = dustbin.ID()

	section := store.Section(SectionPool, info.ID)
	if err := a.st.Create(section, poolRecord(info)); err != nil {
		return nil, err
	}
	p := &Pool{st: a.st, section: section, info: info}
	a.pools[info.ID] = p
	a.poolOrder = append(a.poolOrder, info.ID)
	a.categories[queuing.ID()] = queuing
	a.categories[dustbin.ID()] = dustbin
	return p, nil
}

// NewCategory adds a user category to a pool.
func (a *Arena) NewCategory(poolID, name, dir string, opts config.TaskOptions) (*Category, error) {
	if name == "" {
		return nil, errors.New("category name is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[poolID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	c, err := a.createCategory(CategoryInfo{PoolID: poolID, Name: name, Directory: dir, Kind: CategoryNormal, Options: opts})
	if err != nil {
		return nil, err
	}
	if err := p.addCategory(c.ID()); err != nil {
		return nil, err
	}
	a.categories[c.ID()] = c
	return c, nil
}

func (a *Arena) createCategory(info CategoryInfo) (*Category, error) {
	info.ID = uuid.New().String()
	info.TaskIDs = nil
	section := store.Section(SectionCategory, info.ID)
	if err := a.st.Create(section, categoryRecord(info)); err != nil {
		return nil, err
	}
	return &Category{st: a.st, section: section, info: info}, nil
}

// NewTask persists a fresh CREATED task and appends it to info.CategoryID.
func (a *Arena) NewTask(info TaskInfo) (*Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.categories[info.CategoryID]
	if !ok {
		return nil, ErrCategoryNotFound
	}
	info.ID = uuid.New().String()
	info.CreatedAt = a.clock.Now()
	info.Status = StatusCreated
	info.Handle = ""
	info.Percent = Percent(info.CompletedLength, info.TotalLength)

	rec, err := taskRecord(info)
	if err != nil {
		return nil, err
	}
	section := store.Section(SectionTask, info.ID)
	if err := a.st.Create(section, rec); err != nil {
		return nil, err
	}
	t := &Task{st: a.st, section: section, info: info}
	a.tasks[info.ID] = t
	if err := c.AddTask(info.ID); err != nil {
		// record is committed; Load re-adds it to the list
		return t, err
	}
	return t, nil
}

// AttachTask moves a task to another category of the same pool. The task record is
// updated first; the old list is shrunk before the new one grows.
func (a *Arena) AttachTask(taskID, categoryID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	next, ok := a.categories[categoryID]
	if !ok {
		return ErrCategoryNotFound
	}
	prev := a.categories[t.CategoryID()]
	if prev != nil && prev.PoolID() != next.PoolID() {
		return errors.New("cannot move a task across pools")
	}
	if prev == next {
		return next.AddTask(taskID)
	}
	if err := t.setCategory(categoryID); err != nil {
		return err
	}
	if prev != nil {
		if err := prev.RemoveTask(taskID); err != nil {
			return err
		}
	}
	return next.AddTask(taskID)
}

// DeleteTask removes the task record, its list entry and its index entry.
func (a *Arena) DeleteTask(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleteTask(id)
}

func (a *Arena) deleteTask(id string) error {
	t, ok := a.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if err := a.st.DeleteSection(t.section); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	delete(a.tasks, id)
	if c, ok := a.categories[t.CategoryID()]; ok {
		if err := c.RemoveTask(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePool removes a pool with all its categories and tasks. Tasks go first so an
// interrupted removal is finished by the next Load.
func (a *Arena) DeletePool(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[id]
	if !ok {
		return ErrPoolNotFound
	}
	for _, cid := range p.AllCategoryIDs() {
		c, ok := a.categories[cid]
		if !ok {
			continue
		}
		for _, tid := range c.TaskIDs() {
			if err := a.deleteTask(tid); err != nil && !errors.Is(err, ErrTaskNotFound) {
				return err
			}
		}
	}
	if err := a.st.DeleteSection(p.section); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	for _, cid := range p.AllCategoryIDs() {
		if err := a.st.DeleteSection(store.Section(SectionCategory, cid)); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		delete(a.categories, cid)
	}
	delete(a.pools, id)
	a.poolOrder = slices.DeleteFunc(a.poolOrder, func(pid string) bool { return pid == id })
	return nil
}

func (a *Arena) Pool(id string) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[id]
	return p, ok
}

func (a *Arena) Category(id string) (*Category, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.categories[id]
	return c, ok
}

func (a *Arena) Task(id string) (*Task, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tasks[id]
	return t, ok
}

// Pools returns pools in creation order.
func (a *Arena) Pools() []*Pool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Pool, 0, len(a.poolOrder))
	for _, id := range a.poolOrder {
		out = append(out, a.pools[id])
	}
	return out
}

// Categories returns a pool's user categories followed by Queuing and Dustbin.
func (a *Arena) Categories(poolID string) []*Category {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[poolID]
	if !ok {
		return nil
	}
	out := make([]*Category, 0)
	for _, cid := range p.AllCategoryIDs() {
		if c, ok := a.categories[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// PoolOf returns the pool a task belongs to through its category.
func (a *Arena) PoolOf(taskID string) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tasks[taskID]
	if !ok {
		return nil, false
	}
	c, ok := a.categories[t.CategoryID()]
	if !ok {
		return nil, false
	}
	p, ok := a.pools[c.PoolID()]
	return p, ok
}

// TasksInPool lists a pool's tasks in category then list order. The Dustbin is
// included only when withDustbin is set.
func (a *Arena) TasksInPool(poolID string, withDustbin bool) []*Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[poolID]
	if !ok {
		return nil
	}
	var out []*Task
	for _, cid := range p.AllCategoryIDs() {
		c, ok := a.categories[cid]
		if !ok || (c.Kind() == CategoryDustbin && !withDustbin) {
			continue
		}
		for _, tid := range c.info.TaskIDs {
			if t, ok := a.tasks[tid]; ok {
				out = append(out, t)
			}
		}
	}
	return out
}
