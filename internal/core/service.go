package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/engine/loop"
	"github.com/surge-downloader/ariasync/internal/metrics"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/rpc"
	"github.com/surge-downloader/ariasync/internal/store"
)

var (
	ErrNotConnected    = errors.New("pool is not connected")
	ErrAlreadyComplete = errors.New("task already complete")
)

// DialFunc builds the daemon client for a pool.
type DialFunc func(pool model.PoolInfo) rpc.Client

// Options configures a Service.
type Options struct {
	Store    store.Store
	Settings *config.Settings
	Clock    clockwork.Clock
	Logger   logrus.FieldLogger
	Metrics  metrics.Recorder
	Dial     DialFunc

	// AutoSync starts the per-pool poll tickers and the initial reconciliation when Run
	// starts. One-shot commands leave it off and drive the service explicitly.
	AutoSync bool
}

// poolRuntime is the loop-owned scheduling state of one pool.
type poolRuntime struct {
	client rpc.Client

	ticker    *loop.Ticker
	reconnect *loop.Timer
	failures  int

	polling     bool
	reconciling bool
	waiters     []chan error // callers waiting on the running reconciliation
}

// Service owns the arena and the event loop. All arena mutation happens on the loop;
// daemon calls run on their own goroutines and post results back.
type Service struct {
	settings *config.Settings
	log      logrus.FieldLogger
	metrics  metrics.Recorder
	dial     DialFunc
	autoSync bool
	backoff  Backoff

	arena *model.Arena
	loop  *loop.Loop
	pools map[string]*poolRuntime // loop-owned

	submitting map[string]bool // task ids with an add call in flight, loop-owned

	InputCh    chan interface{}
	listeners  []chan interface{}
	listenerMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	shutdownOnce sync.Once
}

// New loads the arena from opts.Store and prepares the loop. Nothing talks to a daemon
// until Run is called.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("core: store is required")
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Service{
		settings:   settings,
		log:        log,
		metrics:    rec,
		autoSync:   opts.AutoSync,
		backoff: NewBackoff(settings.General.ReconnectBackoff,
			settings.General.ReconnectInterval, settings.General.ReconnectMaxInterval),
		arena:      model.NewArena(opts.Store, clock, log),
		loop:       loop.New(clock),
		pools:      make(map[string]*poolRuntime),
		submitting: make(map[string]bool),
		InputCh:    make(chan interface{}, 100),
		listeners:  make([]chan interface{}, 0),
	}
	s.dial = opts.Dial
	if s.dial == nil {
		s.dial = s.dialAria2
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.arena.Load(); err != nil {
		return nil, fmt.Errorf("core: load state: %w", err)
	}
	for _, p := range s.arena.Pools() {
		s.pools[p.ID()] = &poolRuntime{client: s.instrument(s.dial(p.Info()))}
	}

	go s.broadcastLoop()
	return s, nil
}

func (s *Service) dialAria2(p model.PoolInfo) rpc.Client {
	return rpc.NewAria2(rpc.Config{
		Host:              p.Host,
		Port:              p.Port,
		Path:              s.settings.RPC.Path,
		Secret:            p.Secret,
		User:              p.User,
		Password:          p.Password,
		Timeout:           s.settings.CallTimeout(),
		ConnectTimeout:    s.settings.ConnectTimeout(),
		MaxCallsPerSecond: s.settings.RPC.MaxCallsPerSecond,
		Logger:            s.log.WithField("pool_id", p.ID),
	})
}

// Run drives the event loop until ctx is cancelled, then waits for in-flight daemon
// calls to return.
func (s *Service) Run(ctx context.Context) error {
	if s.autoSync {
		s.loop.Post(func() {
			for _, p := range s.arena.Pools() {
				s.startPool(p.ID())
			}
		})
	}
	err := s.loop.Run(ctx)
	s.cancel()
	s.calls.Wait()
	for _, rt := range s.pools {
		rt.ticker.Stop()
		rt.reconnect.Stop()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops event delivery. Call it after Run returned.
func (s *Service) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.cancel()
		close(s.InputCh)
	})
	return nil
}

// startPool begins polling and schedules the first reconciliation.
func (s *Service) startPool(poolID string) {
	rt, ok := s.pools[poolID]
	if !ok || rt.ticker != nil {
		return
	}
	rt.ticker = s.loop.Every(s.settings.General.PollInterval, func() {
		s.pollPool(poolID, nil)
	})
	s.reconcile(poolID, nil)
}

// call runs fn off the loop, bounded by the call timeout, and hands the result to
// apply on the loop. apply never runs if the loop stopped meanwhile.
func call[T any](s *Service, fn func(ctx context.Context) (T, error), apply func(T, error)) {
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.settings.CallTimeout())
		v, err := fn(ctx)
		cancel()
		s.loop.Post(func() { apply(v, err) })
	}()
}

// do runs fn on the loop and waits for the result channel it returns.
func (s *Service) do(ctx context.Context, fn func() <-chan error) error {
	var ch <-chan error
	if err := s.loop.Do(ctx, func() { ch = fn() }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loop.Done():
		select {
		case err := <-ch:
			return err
		default:
			return loop.ErrStopped
		}
	}
}

func result(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

func (s *Service) publish(msg interface{}) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.InputCh <- msg:
	default:
		s.log.WithField("event", fmt.Sprintf("%T", msg)).Warn("Event buffer full, dropping event")
	}
}

func (s *Service) broadcastLoop() {
	for msg := range s.InputCh {
		s.listenerMu.Lock()
		for _, ch := range s.listeners {
			// Non-blocking send so a slow subscriber never stalls the loop
			select {
			case ch <- msg:
			default:
			}
		}
		s.listenerMu.Unlock()
	}
	s.listenerMu.Lock()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.listenerMu.Unlock()
}

// StreamEvents returns a channel that receives events until ctx is done.
func (s *Service) StreamEvents(ctx context.Context) (<-chan interface{}, error) {
	ch := make(chan interface{}, 100)
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
			return
		}
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		for i, listener := range s.listeners {
			if listener == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

func (s *Service) taskLog(t *model.Task) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{"task_id": t.ID(), "handle": t.Handle()})
}

func (s *Service) changed(t *model.Task, err error) {
	s.publish(events.TaskChangedMsg{Task: t.Info(), Err: err})
}

func (s *Service) failed(t *model.Task, handle string, err error) {
	poolID := ""
	if p, ok := s.arena.PoolOf(t.ID()); ok {
		poolID = p.ID()
	}
	s.publish(events.TaskFailedMsg{TaskID: t.ID(), PoolID: poolID, Handle: handle, Err: err})
}

// refreshTaskGauge recounts tasks per status.
func (s *Service) refreshTaskGauge() {
	counts := map[model.Status]int{
		model.StatusCreated: 0, model.StatusQueued: 0, model.StatusActive: 0,
		model.StatusPaused: 0, model.StatusComplete: 0, model.StatusError: 0,
	}
	for _, p := range s.arena.Pools() {
		for _, t := range s.arena.TasksInPool(p.ID(), true) {
			counts[t.Status()]++
		}
	}
	for st, n := range counts {
		s.metrics.SetTasks(string(st), n)
	}
}
