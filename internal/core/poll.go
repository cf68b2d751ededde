package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/metrics"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/rpc"
)

var localStatus = map[string]model.Status{
	rpc.StatusActive:  model.StatusActive,
	rpc.StatusWaiting: model.StatusQueued,
	rpc.StatusPaused:  model.StatusPaused,
}

// pollPool queries the daemon status of every task of the pool that has a handle.
// It is skipped while the pool is disconnected or a poll or reconciliation is running.
// done, if set, receives the first transport error of the cycle.
func (s *Service) pollPool(poolID string, done chan error) {
	finish := func(err error) {
		if done != nil {
			done <- err
		}
	}
	rt, ok := s.pools[poolID]
	p, pok := s.arena.Pool(poolID)
	if !ok || !pok {
		finish(model.ErrPoolNotFound)
		return
	}
	if p.State() != model.Connected {
		finish(ErrNotConnected)
		return
	}
	if rt.polling || rt.reconciling {
		finish(nil)
		return
	}

	type probe struct{ taskID, handle string }
	var probes []probe
	for _, t := range s.arena.TasksInPool(poolID, true) {
		if t.Handle() != "" {
			probes = append(probes, probe{t.ID(), t.Handle()})
		}
	}
	if len(probes) == 0 {
		s.metrics.IncPoll(poolID, metrics.ResultSuccess)
		s.refreshTaskGauge()
		finish(nil)
		return
	}

	rt.polling = true
	pending := len(probes)
	var firstErr error
	client := rt.client
	for _, pr := range probes {
		call(s, func(ctx context.Context) (rpc.Status, error) {
			return client.TellStatus(ctx, pr.handle)
		}, func(st rpc.Status, err error) {
			if e := s.applyStatus(poolID, pr.taskID, pr.handle, st, err); e != nil && firstErr == nil {
				firstErr = e
			}
			pending--
			if pending > 0 {
				return
			}
			rt.polling = false
			s.metrics.IncPoll(poolID, outcome(firstErr))
			s.refreshTaskGauge()
			finish(firstErr)
		})
	}
}

// applyStatus folds one status answer into the task. Answers for a task that was
// removed or rebound while the query was in flight are dropped. Only transport errors
// are returned.
func (s *Service) applyStatus(poolID, taskID, handle string, st rpc.Status, err error) error {
	t, ok := s.arena.Task(taskID)
	if !ok || t.Handle() != handle {
		s.metrics.IncPoll(poolID, metrics.ResultDiscarded)
		return nil
	}
	log := s.taskLog(t)

	if err != nil {
		switch {
		case faults.IsUnknownHandle(err):
			log.WithError(err).Warn("Daemon no longer knows the task")
			s.fail(t, handle, model.StatusError, err)
		case faults.IsTransport(err):
			if p, ok := s.arena.Pool(poolID); ok {
				s.disconnect(p, err)
			}
			return err
		default:
			log.WithError(err).Warn("Status query rejected")
		}
		return nil
	}

	progress := model.Progress{
		CompletedLength: st.CompletedLength,
		TotalLength:     st.TotalLength,
		DownloadSpeed:   st.DownloadSpeed,
		UploadSpeed:     st.UploadSpeed,
		Connections:     st.Connections,
	}
	// a job that has every byte is complete even while the daemon keeps it active (seeding)
	_, running := localStatus[st.Status]
	finished := st.Status == rpc.StatusComplete ||
		running && st.TotalLength > 0 && st.CompletedLength == st.TotalLength

	switch {
	case finished:
		if _, perr := t.ApplyProgress(progress); perr != nil {
			log.WithError(perr).Error("Failed to persist progress")
		}
		if perr := t.Complete(); perr != nil {
			log.WithError(perr).Error("Failed to mark task complete")
			return nil
		}
		log.Info("Download complete")
		s.changed(t, nil)
	case st.Status == rpc.StatusError:
		msg := st.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("download failed (code %s)", st.ErrorCode)
		}
		log.WithField("code", st.ErrorCode).Warn(msg)
		s.fail(t, handle, model.StatusError, errors.New(msg))
	case st.Status == rpc.StatusRemoved:
		log.Warn("Job removed by the daemon")
		s.fail(t, handle, model.StatusError, errors.New("removed by daemon"))
	default:
		next, known := localStatus[st.Status]
		if !known {
			log.WithField("daemon_status", st.Status).Warn("Unknown daemon status")
			return nil
		}
		visible, perr := t.ApplyProgress(progress)
		if perr != nil {
			log.WithError(perr).Error("Failed to persist progress")
		}
		if next != t.Status() {
			if perr := t.SetStatus(next, ""); perr != nil {
				log.WithError(perr).Error("Failed to persist status")
			} else {
				visible = true
			}
		}
		if visible {
			s.changed(t, nil)
		}
	}
	return nil
}

// fail drops the task's handle and records err as its last error.
func (s *Service) fail(t *model.Task, handle string, status model.Status, err error) {
	if perr := t.Unbind(status, err.Error()); perr != nil {
		s.taskLog(t).WithError(perr).Error("Failed to record task failure")
		return
	}
	t.ClearRates()
	s.failed(t, handle, err)
	s.changed(t, err)
}
