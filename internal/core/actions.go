package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/rpc"
	"github.com/surge-downloader/ariasync/internal/version"
)

type controlFunc func(ctx context.Context, c rpc.Client, handle string) error

func daemonPause(ctx context.Context, c rpc.Client, handle string) error {
	return c.Pause(ctx, handle)
}

func daemonUnpause(ctx context.Context, c rpc.Client, handle string) error {
	return c.Unpause(ctx, handle)
}

func (s *Service) clientOf(t *model.Task) (rpc.Client, error) {
	p, ok := s.arena.PoolOf(t.ID())
	if !ok {
		return nil, model.ErrPoolNotFound
	}
	rt, ok := s.pools[p.ID()]
	if !ok {
		return nil, model.ErrPoolNotFound
	}
	return rt.client, nil
}

// control runs a daemon action on the task's current handle. On success the task moves
// to next; then, if set, runs on the loop with the action's outcome.
func (s *Service) control(t *model.Task, next model.Status, op controlFunc, then func(error) error) <-chan error {
	client, err := s.clientOf(t)
	if err != nil {
		return result(err)
	}
	taskID, handle := t.ID(), t.Handle()
	ch := make(chan error, 1)
	call(s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx, client, handle)
	}, func(_ struct{}, err error) {
		err = s.applyControl(taskID, handle, next, err)
		if then != nil {
			err = then(err)
		}
		ch <- err
	})
	return ch
}

func (s *Service) applyControl(taskID, handle string, next model.Status, err error) error {
	t, ok := s.arena.Task(taskID)
	if !ok {
		return model.ErrTaskNotFound
	}
	if t.Handle() != handle {
		// rebound meanwhile; the answer is about a job the task no longer tracks
		return err
	}
	if err != nil {
		switch {
		case faults.IsUnknownHandle(err):
			s.fail(t, handle, model.StatusError, err)
		case faults.IsTransport(err):
			if p, ok := s.arena.PoolOf(taskID); ok {
				s.disconnect(p, err)
			}
		}
		return err
	}
	if t.Status() == next {
		return nil
	}
	if perr := t.SetStatus(next, ""); perr != nil {
		return faults.LocalIO("control", perr)
	}
	if next == model.StatusPaused {
		t.ClearRates()
	}
	s.changed(t, nil)
	return nil
}

func (s *Service) setLocal(t *model.Task, next model.Status) error {
	if t.Status() == next {
		return nil
	}
	if err := t.SetStatus(next, ""); err != nil {
		return faults.LocalIO("control", err)
	}
	s.changed(t, nil)
	return nil
}

// PauseTask pauses the daemon job, or marks a task that has none PAUSED so it is
// submitted paused later.
func (s *Service) PauseTask(ctx context.Context, id string) error {
	return s.do(ctx, func() <-chan error {
		t, ok := s.arena.Task(id)
		if !ok {
			return result(model.ErrTaskNotFound)
		}
		switch {
		case t.Status() == model.StatusComplete:
			return result(ErrAlreadyComplete)
		case s.submitting[id]:
			return result(errSubmitInFlight)
		case t.Handle() == "":
			return result(s.setLocal(t, model.StatusPaused))
		case t.Status() == model.StatusPaused:
			return result(nil)
		}
		return s.control(t, model.StatusPaused, daemonPause, nil)
	})
}

// ResumeTask unpauses the daemon job, or submits the task when it has no handle. A
// recycled task goes back to the pool's queue first.
func (s *Service) ResumeTask(ctx context.Context, id string) error {
	return s.do(ctx, func() <-chan error {
		t, ok := s.arena.Task(id)
		if !ok {
			return result(model.ErrTaskNotFound)
		}
		if t.Status() == model.StatusComplete {
			return result(ErrAlreadyComplete)
		}
		if s.submitting[id] {
			return result(errSubmitInFlight)
		}
		p, ok := s.arena.PoolOf(id)
		if !ok {
			return result(model.ErrPoolNotFound)
		}
		if t.CategoryID() == p.DustbinID() {
			if err := s.arena.AttachTask(id, p.QueuingID()); err != nil {
				return result(faults.LocalIO("ResumeTask", err))
			}
		}
		if t.Handle() == "" {
			ch := make(chan error, 1)
			s.submit(t, false, false, func(err error) { ch <- err })
			return ch
		}
		if t.Status() == model.StatusQueued || t.Status() == model.StatusActive {
			return result(nil)
		}
		return s.control(t, model.StatusQueued, daemonUnpause, nil)
	})
}

// RemoveTask asks the daemon to drop the job and deletes the task locally. The daemon
// side is best effort: failures there are logged, not returned.
func (s *Service) RemoveTask(ctx context.Context, id string) error {
	return s.do(ctx, func() <-chan error {
		t, ok := s.arena.Task(id)
		if !ok {
			return result(model.ErrTaskNotFound)
		}
		poolID := ""
		var client rpc.Client
		if p, ok := s.arena.PoolOf(id); ok {
			poolID = p.ID()
			if rt, ok := s.pools[poolID]; ok {
				client = rt.client
			}
		}
		handle := t.Handle()
		log := s.taskLog(t)

		ch := make(chan error, 1)
		if handle != "" && client != nil {
			call(s, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, client.Remove(ctx, handle)
			}, func(_ struct{}, err error) {
				if err != nil {
					log.WithError(err).Warn("Daemon refused to remove job")
				}
				ch <- nil
			})
		} else {
			ch <- nil
		}

		if err := s.arena.DeleteTask(id); err != nil {
			return result(faults.LocalIO("RemoveTask", err))
		}
		delete(s.submitting, id)
		log.Info("Task removed")
		s.publish(events.TaskRemovedMsg{TaskID: id, PoolID: poolID})
		s.refreshTaskGauge()
		return ch
	})
}

// RecycleTask pauses the daemon job and moves the task to its pool's Dustbin. A handle
// the daemon no longer knows does not stop the move.
func (s *Service) RecycleTask(ctx context.Context, id string) error {
	return s.do(ctx, func() <-chan error {
		t, ok := s.arena.Task(id)
		if !ok {
			return result(model.ErrTaskNotFound)
		}
		p, ok := s.arena.PoolOf(id)
		if !ok {
			return result(model.ErrPoolNotFound)
		}
		if t.CategoryID() == p.DustbinID() {
			return result(nil)
		}
		if s.submitting[id] {
			return result(errSubmitInFlight)
		}
		dustbinID := p.DustbinID()
		move := func(err error) error {
			if err != nil && !faults.IsUnknownHandle(err) {
				return err
			}
			if _, ok := s.arena.Task(id); !ok {
				return model.ErrTaskNotFound
			}
			if err := s.arena.AttachTask(id, dustbinID); err != nil {
				return faults.LocalIO("RecycleTask", err)
			}
			if live(t.Status()) && t.Status() != model.StatusPaused {
				if err := t.SetStatus(model.StatusPaused, ""); err != nil {
					return faults.LocalIO("RecycleTask", err)
				}
			}
			t.ClearRates()
			s.taskLog(t).Info("Task recycled")
			s.changed(t, nil)
			return nil
		}
		if t.Handle() == "" || t.Status() == model.StatusPaused {
			return result(move(nil))
		}
		return s.control(t, model.StatusPaused, daemonPause, move)
	})
}

// read runs fn on the loop so it sees a consistent arena.
func (s *Service) read(ctx context.Context, fn func() error) error {
	return s.do(ctx, func() <-chan error { return result(fn()) })
}

// ListTasks returns the task ids of a category in list order.
func (s *Service) ListTasks(ctx context.Context, categoryID string) ([]string, error) {
	var ids []string
	err := s.read(ctx, func() error {
		c, ok := s.arena.Category(categoryID)
		if !ok {
			return model.ErrCategoryNotFound
		}
		ids = c.TaskIDs()
		return nil
	})
	return ids, err
}

// Tasks returns snapshots of a category's tasks in list order.
func (s *Service) Tasks(ctx context.Context, categoryID string) ([]model.TaskInfo, error) {
	var out []model.TaskInfo
	err := s.read(ctx, func() error {
		c, ok := s.arena.Category(categoryID)
		if !ok {
			return model.ErrCategoryNotFound
		}
		for _, id := range c.TaskIDs() {
			if t, ok := s.arena.Task(id); ok {
				out = append(out, t.Info())
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) Task(ctx context.Context, id string) (model.TaskInfo, error) {
	var out model.TaskInfo
	err := s.read(ctx, func() error {
		t, ok := s.arena.Task(id)
		if !ok {
			return model.ErrTaskNotFound
		}
		out = t.Info()
		return nil
	})
	return out, err
}

// AddPool registers a daemon. With AutoSync the new pool is polled and reconciled
// right away.
func (s *Service) AddPool(ctx context.Context, info model.PoolInfo) (model.PoolInfo, error) {
	if info.Host == "" {
		return model.PoolInfo{}, faults.InvalidInput("AddPool", 0, "pool host is required")
	}
	if info.Port <= 0 || info.Port > 65535 {
		return model.PoolInfo{}, faults.InvalidInput("AddPool", 0, fmt.Sprintf("invalid pool port %d", info.Port))
	}
	var out model.PoolInfo
	err := s.do(ctx, func() <-chan error {
		p, err := s.arena.NewPool(info)
		if err != nil {
			return result(faults.LocalIO("AddPool", err))
		}
		out = p.Info()
		s.pools[p.ID()] = &poolRuntime{client: s.instrument(s.dial(out))}
		s.metrics.SetPoolConnected(p.ID(), false)
		s.log.WithField("pool_id", p.ID()).WithField("address", p.Address()).Info("Pool added")
		if s.autoSync {
			s.startPool(p.ID())
		}
		return result(nil)
	})
	return out, err
}

// RemovePool stops the pool's timers and deletes it with all its categories and tasks.
// Daemon jobs are left alone.
func (s *Service) RemovePool(ctx context.Context, poolID string) error {
	return s.do(ctx, func() <-chan error {
		if _, ok := s.arena.Pool(poolID); !ok {
			return result(model.ErrPoolNotFound)
		}
		var taskIDs []string
		for _, t := range s.arena.TasksInPool(poolID, true) {
			taskIDs = append(taskIDs, t.ID())
		}
		if err := s.arena.DeletePool(poolID); err != nil {
			return result(faults.LocalIO("RemovePool", err))
		}
		if rt, ok := s.pools[poolID]; ok {
			rt.ticker.Stop()
			rt.reconnect.Stop()
			for _, w := range rt.waiters {
				w <- model.ErrPoolNotFound
			}
			delete(s.pools, poolID)
		}
		for _, id := range taskIDs {
			delete(s.submitting, id)
			s.publish(events.TaskRemovedMsg{TaskID: id, PoolID: poolID})
		}
		s.metrics.SetPoolConnected(poolID, false)
		s.log.WithField("pool_id", poolID).WithField("tasks", len(taskIDs)).Info("Pool removed")
		s.refreshTaskGauge()
		return result(nil)
	})
}

// AddCategory creates a user category in a pool.
func (s *Service) AddCategory(ctx context.Context, poolID, name, dir string, opts config.TaskOptions) (model.CategoryInfo, error) {
	if name == "" {
		return model.CategoryInfo{}, faults.InvalidInput("AddCategory", 0, "category name is required")
	}
	if err := opts.Validate(); err != nil {
		return model.CategoryInfo{}, faults.InvalidInput("AddCategory", 0, err.Error())
	}
	var out model.CategoryInfo
	err := s.do(ctx, func() <-chan error {
		c, err := s.arena.NewCategory(poolID, name, dir, opts)
		if err != nil {
			if errors.Is(err, model.ErrPoolNotFound) {
				return result(err)
			}
			return result(faults.LocalIO("AddCategory", err))
		}
		out = c.Info()
		return result(nil)
	})
	return out, err
}

func (s *Service) Pools(ctx context.Context) ([]model.PoolInfo, error) {
	var out []model.PoolInfo
	err := s.read(ctx, func() error {
		for _, p := range s.arena.Pools() {
			out = append(out, p.Info())
		}
		return nil
	})
	return out, err
}

func (s *Service) Categories(ctx context.Context, poolID string) ([]model.CategoryInfo, error) {
	var out []model.CategoryInfo
	err := s.read(ctx, func() error {
		if _, ok := s.arena.Pool(poolID); !ok {
			return model.ErrPoolNotFound
		}
		for _, c := range s.arena.Categories(poolID) {
			out = append(out, c.Info())
		}
		return nil
	})
	return out, err
}

// Reconcile runs a reconciliation of the pool now and waits for it, joining one that
// is already running.
func (s *Service) Reconcile(ctx context.Context, poolID string) error {
	return s.do(ctx, func() <-chan error {
		ch := make(chan error, 1)
		s.reconcile(poolID, ch)
		return ch
	})
}

// PollPool runs one status poll of the pool and waits for it. It returns the first
// transport error of the cycle, or ErrNotConnected before the first reconciliation.
func (s *Service) PollPool(ctx context.Context, poolID string) error {
	return s.do(ctx, func() <-chan error {
		ch := make(chan error, 1)
		s.pollPool(poolID, ch)
		return ch
	})
}

// DaemonVersion asks the pool's daemon for its build and checks it against what the task
// kinds need.
func (s *Service) DaemonVersion(ctx context.Context, poolID string) (version.DaemonInfo, error) {
	var info version.DaemonInfo
	err := s.do(ctx, func() <-chan error {
		rt, ok := s.pools[poolID]
		if !ok {
			return result(model.ErrPoolNotFound)
		}
		ch := make(chan error, 1)
		call(s, rt.client.GetVersion, func(v rpc.Version, err error) {
			if err == nil {
				info = version.CheckDaemon(v.Version, v.EnabledFeatures)
			}
			ch <- err
		})
		return ch
	})
	return info, err
}
