package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/metadata"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/rpc"
	"github.com/surge-downloader/ariasync/internal/source"
)

var errSubmitInFlight = errors.New("a submission for this task is already in flight")

// submission is what one daemon add call needs, captured on the loop.
type submission struct {
	taskID       string
	poolID       string
	kind         model.TaskKind
	uris         []string
	metadataPath string
	options      map[string]string
	paused       bool
	client       rpc.Client
}

// send performs the add call. Metadata is re-read here, off the loop, so a resubmission
// sends the file as it is now.
func (sub submission) send(ctx context.Context) (string, error) {
	switch sub.kind {
	case model.KindBT:
		f, err := metadata.Load(sub.metadataPath, model.KindBT)
		if err != nil {
			return "", err
		}
		return sub.client.AddTorrent(ctx, f.Data, sub.uris, sub.options)
	case model.KindMetalink:
		f, err := metadata.Load(sub.metadataPath, model.KindMetalink)
		if err != nil {
			return "", err
		}
		handles, err := sub.client.AddMetalink(ctx, f.Data, sub.options)
		if err != nil {
			return "", err
		}
		if len(handles) == 0 {
			return "", faults.InvalidInput("AddMetalink", 0, "daemon created no job for the metalink")
		}
		// the daemon creates one job per described file; the last one is tracked
		return handles[len(handles)-1], nil
	default:
		return sub.client.AddURI(ctx, sub.uris, sub.options)
	}
}

// taskOptions merges global defaults < category < task, with the category directory and
// then the global download directory as dir fallbacks.
func (s *Service) taskOptions(t *model.Task) config.TaskOptions {
	layers := []config.TaskOptions{s.settings.Defaults}
	if c, ok := s.arena.Category(t.CategoryID()); ok {
		layers = append(layers, c.Options())
	}
	layers = append(layers, t.Options())
	opts := config.Merge(layers...)
	if opts.Dir == "" {
		opts.Dir = s.settings.General.DefaultDownloadDir
	}
	return opts
}

func (s *Service) prepare(t *model.Task, paused bool) (submission, error) {
	p, ok := s.arena.PoolOf(t.ID())
	if !ok {
		return submission{}, model.ErrPoolNotFound
	}
	rt, ok := s.pools[p.ID()]
	if !ok {
		return submission{}, model.ErrPoolNotFound
	}
	opts := s.taskOptions(t).ToMap()
	if paused {
		opts[config.OptPause] = "true"
	}
	info := t.Info()
	return submission{
		taskID:       info.ID,
		poolID:       p.ID(),
		kind:         info.Kind,
		uris:         info.URIs,
		metadataPath: info.MetadataPath,
		options:      opts,
		paused:       paused,
		client:       rt.client,
	}, nil
}

// submit sends t to its pool's daemon and binds the returned handle. done, when set,
// receives the outcome on the loop. During a resubmission a transport failure leaves the
// task's status alone so the next reconciliation picks it up again.
func (s *Service) submit(t *model.Task, paused, resubmission bool, done func(error)) {
	finish := func(err error) {
		if done != nil {
			done(err)
		}
	}
	if s.submitting[t.ID()] {
		finish(errSubmitInFlight)
		return
	}
	sub, err := s.prepare(t, paused)
	if err != nil {
		finish(err)
		return
	}
	s.submitting[sub.taskID] = true

	call(s, sub.send, func(handle string, err error) {
		delete(s.submitting, sub.taskID)
		s.metrics.IncSubmission(string(sub.kind), outcome(err))
		finish(s.applySubmission(sub, resubmission, handle, err))
	})
}

func (s *Service) applySubmission(sub submission, resubmission bool, handle string, err error) error {
	t, ok := s.arena.Task(sub.taskID)
	if !ok || (err == nil && t.Handle() != "") {
		// removed, or bound by someone else meanwhile: the new job belongs to nobody
		if err == nil {
			s.removeOrphan(sub.client, handle)
		}
		if !ok {
			return model.ErrTaskNotFound
		}
		return nil
	}
	log := s.taskLog(t)

	if err != nil {
		if faults.IsTransport(err) {
			if p, ok := s.arena.Pool(sub.poolID); ok {
				s.disconnect(p, err)
			}
			if resubmission {
				log.WithError(err).Warn("Resubmission deferred, daemon unreachable")
				return err
			}
			// the task keeps its status; only the error is recorded
			log.WithError(err).Warn("Submission failed, daemon unreachable")
			s.fail(t, "", t.Status(), err)
			return err
		}
		log.WithError(err).Warn("Submission failed")
		s.fail(t, "", model.StatusCreated, err)
		return err
	}

	status := model.StatusQueued
	if sub.paused {
		status = model.StatusPaused
	}
	if perr := t.Bind(handle, status); perr != nil {
		log.WithError(perr).Error("Failed to persist handle, removing daemon job")
		s.removeOrphan(sub.client, handle)
		return faults.LocalIO("submit", perr)
	}
	t.ClearRates()
	s.taskLog(t).WithField("paused", sub.paused).Info("Task submitted")
	s.changed(t, nil)
	return nil
}

func (s *Service) removeOrphan(client rpc.Client, handle string) {
	call(s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, client.Remove(ctx, handle)
	}, func(_ struct{}, err error) {
		if err != nil {
			s.log.WithField("handle", handle).WithError(err).Debug("Could not remove orphaned daemon job")
		}
	})
}

func validateRequest(req SubmitRequest) error {
	const op = "SubmitTask"
	switch req.Kind {
	case model.KindNormal:
		if len(req.URIs) == 0 {
			return faults.InvalidInput(op, 0, "a normal task needs at least one URI")
		}
		for _, u := range req.URIs {
			if !source.IsSupported(u) {
				return faults.InvalidInput(op, 0, fmt.Sprintf("unsupported URI %q", u))
			}
		}
	case model.KindBT, model.KindMetalink:
		if req.MetadataPath == "" {
			return faults.InvalidInput(op, 0, fmt.Sprintf("a %s task needs a metadata file", req.Kind))
		}
	default:
		return faults.InvalidInput(op, 0, fmt.Sprintf("unknown task kind %q", req.Kind))
	}
	if req.CategoryID == "" && req.PoolID == "" {
		return faults.InvalidInput(op, 0, "either a category or a pool is required")
	}
	if err := req.Options.Validate(); err != nil {
		return faults.InvalidInput(op, 0, err.Error())
	}
	return nil
}

// SubmitTask validates the request, reads any metadata file, creates the task and
// submits it. See SyncService.
func (s *Service) SubmitTask(ctx context.Context, req SubmitRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	name := req.Name
	metadataPath := ""
	if req.Kind.NeedsMetadata() {
		abs, err := filepath.Abs(req.MetadataPath)
		if err != nil {
			return "", faults.LocalIO("SubmitTask", err)
		}
		f, err := metadata.Load(abs, req.Kind)
		if err != nil {
			return "", err
		}
		metadataPath = abs
		if name == "" {
			name = f.Name
		}
		if name == "" {
			name = filepath.Base(abs)
		}
	}
	if name == "" {
		name = source.DisplayName(req.URIs[0])
	}

	var taskID string
	err := s.do(ctx, func() <-chan error {
		categoryID := req.CategoryID
		if categoryID == "" {
			p, ok := s.arena.Pool(req.PoolID)
			if !ok {
				return result(model.ErrPoolNotFound)
			}
			categoryID = p.QueuingID()
		}
		t, err := s.arena.NewTask(model.TaskInfo{
			Kind:         req.Kind,
			Name:         name,
			URIs:         append([]string(nil), req.URIs...),
			MetadataPath: metadataPath,
			CategoryID:   categoryID,
			Options:      req.Options,
		})
		if t == nil {
			if errors.Is(err, model.ErrCategoryNotFound) {
				return result(err)
			}
			return result(faults.LocalIO("SubmitTask", err))
		}
		if err != nil {
			s.taskLog(t).WithError(err).Warn("Task stored but category list not updated")
		}
		taskID = t.ID()
		s.publish(events.TaskAddedMsg{Task: t.Info()})

		ch := make(chan error, 1)
		s.submit(t, req.Paused, false, func(err error) { ch <- err })
		return ch
	})
	return taskID, err
}
