package core

import (
	"github.com/sirupsen/logrus"

	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
)

func live(st model.Status) bool {
	return st == model.StatusQueued || st == model.StatusActive || st == model.StatusPaused
}

// reconcile compares the daemon's session id with the stored one and resubmits the
// jobs the daemon lost. A call made while a reconciliation runs joins it. waiter, if
// set, receives the outcome.
func (s *Service) reconcile(poolID string, waiter chan error) {
	rt, ok := s.pools[poolID]
	if !ok {
		if waiter != nil {
			waiter <- model.ErrPoolNotFound
		}
		return
	}
	if waiter != nil {
		rt.waiters = append(rt.waiters, waiter)
	}
	if rt.reconciling {
		return
	}
	rt.reconciling = true
	rt.reconnect.Stop()
	rt.reconnect = nil

	call(s, rt.client.GetSessionInfo, func(sid string, err error) {
		p, ok := s.arena.Pool(poolID)
		if !ok {
			s.finishReconcile(poolID, model.ErrPoolNotFound)
			return
		}
		if err != nil {
			s.log.WithField("pool_id", poolID).WithError(err).Warn("Session query failed")
			s.disconnect(p, err)
			s.finishReconcile(poolID, err)
			return
		}
		s.resubmit(p, sid)
	})
}

// resubmit picks the tasks to send again. After a session change every live task of
// the pool lost its job; with the same session only tasks left without a handle by an
// earlier interrupted resubmission are sent.
func (s *Service) resubmit(p *model.Pool, sid string) {
	poolID := p.ID()
	changed := sid != p.SessionID()
	log := s.log.WithFields(logrus.Fields{"pool_id": poolID, "session": sid})

	var targets []*model.Task
	var localErr error
	for _, t := range s.arena.TasksInPool(poolID, true) {
		if s.submitting[t.ID()] {
			continue
		}
		if t.CategoryID() == p.DustbinID() {
			// recycled jobs are not brought back, their stale handles are dropped
			if changed && t.Handle() != "" {
				if err := t.SetHandle(""); err != nil {
					s.taskLog(t).WithError(err).Error("Failed to clear stale handle")
					continue
				}
				t.ClearRates()
				s.changed(t, nil)
			}
			continue
		}
		if changed && (t.Handle() != "" || live(t.Status())) {
			if t.Handle() != "" {
				// not resubmitted while the old handle is still stored; the poller
				// reports that job as unknown
				if err := t.SetHandle(""); err != nil {
					s.taskLog(t).WithError(err).Error("Failed to clear stale handle")
					localErr = faults.LocalIO("reconcile", err)
					continue
				}
			}
			targets = append(targets, t)
		} else if !changed && t.Handle() == "" && live(t.Status()) {
			targets = append(targets, t)
		}
	}
	if changed {
		log.WithField("previous", p.SessionID()).Info("Daemon session changed")
	}
	if len(targets) == 0 {
		s.completeReconcile(poolID, sid, changed, 0, localErr, nil)
		return
	}

	log.WithField("tasks", len(targets)).Info("Resubmitting tasks")
	pending := len(targets)
	resubmitted := 0
	var transportErr error
	for _, t := range targets {
		paused := t.Status() == model.StatusPaused
		s.metrics.IncResubmission(poolID)
		s.submit(t, paused, true, func(err error) {
			switch {
			case err == nil:
				resubmitted++
			case faults.IsTransport(err) && transportErr == nil:
				transportErr = err
			}
			pending--
			if pending == 0 {
				s.completeReconcile(poolID, sid, changed, resubmitted, localErr, transportErr)
			}
		})
	}
}

// completeReconcile stores the session id once every resubmission has an outcome.
// The id is stored even after a transport failure: the tasks that missed out have no
// handle and a live status, which is what the next reconciliation looks for. localErr
// is reported to waiters once the pool is connected.
func (s *Service) completeReconcile(poolID, sid string, changed bool, resubmitted int, localErr, transportErr error) {
	p, ok := s.arena.Pool(poolID)
	if !ok {
		s.finishReconcile(poolID, model.ErrPoolNotFound)
		return
	}
	s.metrics.IncReconcile(poolID, changed)

	err := localErr
	if perr := p.SetSessionID(sid); perr != nil {
		s.log.WithField("pool_id", poolID).WithError(perr).Error("Failed to persist session id")
		err = faults.LocalIO("reconcile", perr)
	}
	if transportErr != nil {
		s.finishReconcile(poolID, transportErr)
		return
	}
	s.connect(p, sid, changed, resubmitted)
	s.finishReconcile(poolID, err)
}

func (s *Service) finishReconcile(poolID string, err error) {
	rt, ok := s.pools[poolID]
	if !ok {
		return
	}
	rt.reconciling = false
	for _, w := range rt.waiters {
		w <- err
	}
	rt.waiters = nil
	s.refreshTaskGauge()
}

func (s *Service) connect(p *model.Pool, sid string, changed bool, resubmitted int) {
	if rt, ok := s.pools[p.ID()]; ok {
		rt.failures = 0
		rt.reconnect.Stop()
		rt.reconnect = nil
	}
	wasDown := p.SetState(model.Connected)
	s.metrics.SetPoolConnected(p.ID(), true)
	if wasDown || changed || resubmitted > 0 {
		s.log.WithFields(logrus.Fields{
			"pool_id":     p.ID(),
			"session":     sid,
			"resubmitted": resubmitted,
		}).Info("Pool connected")
	}
	s.publish(events.PoolConnectedMsg{
		PoolID:         p.ID(),
		SessionID:      sid,
		SessionChanged: changed,
		Resubmitted:    resubmitted,
	})
}

// disconnect marks the pool unreachable and, when the pool is scheduled, arms the
// reconnect timer. Repeated failures while a reconnect is pending change nothing.
func (s *Service) disconnect(p *model.Pool, cause error) {
	wasUp := p.SetState(model.Disconnected)
	s.metrics.SetPoolConnected(p.ID(), false)

	rt, ok := s.pools[p.ID()]
	if !ok || rt.reconnect != nil {
		return
	}
	rt.failures++
	delay := s.backoff.Delay(rt.failures)
	if wasUp || rt.failures == 1 {
		s.log.WithFields(logrus.Fields{
			"pool_id":  p.ID(),
			"address":  p.Address(),
			"retry_in": delay,
		}).WithError(cause).Warn("Pool disconnected")
		s.publish(events.PoolDisconnectedMsg{PoolID: p.ID(), Err: cause, RetryIn: delay})
	}
	if rt.ticker == nil {
		return
	}
	poolID := p.ID()
	rt.reconnect = s.loop.AfterFunc(delay, func() {
		rt.reconnect = nil
		s.reconcile(poolID, nil)
	})
}
