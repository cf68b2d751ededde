package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/rpc"
	"github.com/surge-downloader/ariasync/internal/store"
	"github.com/surge-downloader/ariasync/internal/testutil"
)

const testSecret = "s3cret"

type harness struct {
	t      *testing.T
	ctx    context.Context
	svc    *Service
	st     *store.Memory
	daemon *testutil.FakeDaemon
	clock  *clockwork.FakeClock
	pool   model.PoolInfo
}

func testSettings(t *testing.T) *config.Settings {
	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = t.TempDir()
	s.Defaults.Timeout = 5
	s.General.ReconnectBackoff = config.BackoffFixed
	return s
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// startService runs a service over st until the test ends.
func startService(t *testing.T, st store.Store, clock *clockwork.FakeClock, autoSync bool) *Service {
	t.Helper()
	return runService(t, Options{
		Store:    st,
		Settings: testSettings(t),
		Clock:    clock,
		Logger:   quietLogger(),
		AutoSync: autoSync,
	})
}

func runService(t *testing.T, opts Options) *Service {
	t.Helper()
	svc, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Shutdown()
	})
	return svc
}

// newHarness starts a service with one pool pointed at a fresh fake daemon. Without
// autoSync the pool is reconciled once so it is connected.
func newHarness(t *testing.T, autoSync bool) *harness {
	t.Helper()
	d := testutil.NewFakeDaemon(testSecret)
	t.Cleanup(d.Close)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		st:     store.NewMemory(),
		daemon: d,
		clock:  clockwork.NewFakeClock(),
	}
	h.svc = startService(t, h.st, h.clock, autoSync)

	host, port := d.HostPort()
	pool, err := h.svc.AddPool(h.ctx, model.PoolInfo{Name: "local", Host: host, Port: port, Secret: testSecret})
	require.NoError(t, err)
	h.pool = pool
	if !autoSync {
		require.NoError(t, h.svc.Reconcile(h.ctx, pool.ID))
	}
	return h
}

func (h *harness) addURI(uri string) string {
	h.t.Helper()
	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{
		Kind:   model.KindNormal,
		URIs:   []string{uri},
		PoolID: h.pool.ID,
	})
	require.NoError(h.t, err)
	return id
}

func (h *harness) task(id string) model.TaskInfo {
	h.t.Helper()
	info, err := h.svc.Task(h.ctx, id)
	require.NoError(h.t, err)
	return info
}

func (h *harness) poolState() model.ConnState {
	h.t.Helper()
	pools, err := h.svc.Pools(h.ctx)
	require.NoError(h.t, err)
	for _, p := range pools {
		if p.ID == h.pool.ID {
			return p.State
		}
	}
	h.t.Fatalf("pool %s not found", h.pool.ID)
	return model.Disconnected
}

func TestSubmitNormalRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, model.Connected, h.poolState())

	id := h.addURI("http://example.com/files/a.iso")
	info := h.task(id)
	require.NotEmpty(t, info.Handle)
	assert.Equal(t, model.StatusQueued, info.Status)
	assert.Equal(t, "a.iso", info.Name)
	assert.Equal(t, h.pool.QueuingID, info.CategoryID)

	job, ok := h.daemon.Job(info.Handle)
	require.True(t, ok)
	assert.Equal(t, []string{"http://example.com/files/a.iso"}, job.URIs)
	assert.NotEmpty(t, job.Options["dir"])
	assert.Equal(t, "5", job.Options["split"])

	h.daemon.Update(info.Handle, func(j *testutil.Job) {
		j.Status = "complete"
		j.Completed = 1000
		j.Total = 1000
	})
	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))

	info = h.task(id)
	assert.Equal(t, model.StatusComplete, info.Status)
	assert.Empty(t, info.Handle)
	assert.Equal(t, int64(1000), info.CompletedLength)
	assert.Equal(t, 100, info.Percent)

	ids, err := h.svc.ListTasks(h.ctx, h.pool.QueuingID)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestSubmitMergesCategoryOptions(t *testing.T) {
	h := newHarness(t, false)
	dir := t.TempDir()
	cat, err := h.svc.AddCategory(h.ctx, h.pool.ID, "iso", dir, config.TaskOptions{Split: 8})
	require.NoError(t, err)

	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{
		Kind:       model.KindNormal,
		URIs:       []string{"http://example.com/b.iso"},
		CategoryID: cat.ID,
		Options:    config.TaskOptions{MaxConnectionPerServer: 4},
	})
	require.NoError(t, err)

	job, ok := h.daemon.Job(h.task(id).Handle)
	require.True(t, ok)
	assert.Equal(t, dir, job.Options["dir"])
	assert.Equal(t, "8", job.Options["split"])
	assert.Equal(t, "4", job.Options["max-connection-per-server"])

	ids, err := h.svc.ListTasks(h.ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestSubmitTorrentSendsFileContent(t *testing.T) {
	h := newHarness(t, false)
	path, err := testutil.WriteTorrent(t.TempDir(), "ubuntu.iso", 4096)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{Kind: model.KindBT, MetadataPath: path, PoolID: h.pool.ID})
	require.NoError(t, err)

	info := h.task(id)
	assert.Equal(t, "ubuntu.iso", info.Name)
	assert.Equal(t, path, info.MetadataPath)
	job, ok := h.daemon.Job(info.Handle)
	require.True(t, ok)
	assert.Equal(t, "torrent", job.Kind)
	assert.Equal(t, raw, job.Payload)
}

func TestSubmitMetalinkTracksLastHandle(t *testing.T) {
	h := newHarness(t, false)
	h.daemon.SetMetalinkFanout(3)
	path, err := testutil.WriteMetalink(t.TempDir(), "bundle",
		"http://example.com/1.bin", "http://example.com/2.bin", "http://example.com/3.bin")
	require.NoError(t, err)

	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{Kind: model.KindMetalink, MetadataPath: path, PoolID: h.pool.ID})
	require.NoError(t, err)

	assert.Equal(t, 3, h.daemon.Jobs())
	assert.Equal(t, fmt.Sprintf("%016x", 3), h.task(id).Handle)
}

// noJobsMetalink answers addMetalink with an empty job list.
type noJobsMetalink struct{ rpc.Client }

func (noJobsMetalink) AddMetalink(context.Context, []byte, map[string]string) ([]string, error) {
	return nil, nil
}

func TestSubmitMetalinkWithoutJobs(t *testing.T) {
	d := testutil.NewFakeDaemon(testSecret)
	t.Cleanup(d.Close)
	svc := runService(t, Options{
		Store:    store.NewMemory(),
		Settings: testSettings(t),
		Clock:    clockwork.NewFakeClock(),
		Logger:   quietLogger(),
		Dial: func(p model.PoolInfo) rpc.Client {
			return noJobsMetalink{rpc.NewAria2(rpc.Config{Host: p.Host, Port: p.Port, Secret: p.Secret})}
		},
	})
	ctx := context.Background()
	host, port := d.HostPort()
	pool, err := svc.AddPool(ctx, model.PoolInfo{Name: "local", Host: host, Port: port, Secret: testSecret})
	require.NoError(t, err)
	require.NoError(t, svc.Reconcile(ctx, pool.ID))

	path, err := testutil.WriteMetalink(t.TempDir(), "empty", "http://example.com/1.bin")
	require.NoError(t, err)
	id, err := svc.SubmitTask(ctx, SubmitRequest{Kind: model.KindMetalink, MetadataPath: path, PoolID: pool.ID})
	require.Error(t, err)
	assert.True(t, faults.IsInvalidInput(err))
	require.NotEmpty(t, id)

	info, err := svc.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, info.Status)
	assert.Empty(t, info.Handle)
	assert.Contains(t, info.LastError, "no job")
}

func TestSubmitMissingMetadataCreatesNoTask(t *testing.T) {
	h := newHarness(t, false)

	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{
		Kind:         model.KindBT,
		MetadataPath: filepath.Join(t.TempDir(), "missing.torrent"),
		PoolID:       h.pool.ID,
	})
	require.Error(t, err)
	assert.True(t, faults.IsLocalIO(err), "got %v", err)
	assert.Empty(t, id)

	ids, err := h.svc.ListTasks(h.ctx, h.pool.QueuingID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, h.daemon.Calls("aria2.addTorrent"))
}

func TestSubmitRejectedStaysCreated(t *testing.T) {
	h := newHarness(t, false)
	h.daemon.FailNext("aria2.addUri", 1, "No URI to download.")

	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{
		Kind:   model.KindNormal,
		URIs:   []string{"http://example.com/c.bin"},
		PoolID: h.pool.ID,
	})
	require.Error(t, err)
	assert.True(t, faults.IsInvalidInput(err))
	require.NotEmpty(t, id)

	info := h.task(id)
	assert.Equal(t, model.StatusCreated, info.Status)
	assert.Empty(t, info.Handle)
	assert.Contains(t, info.LastError, "No URI")

	// a later resume submits again
	require.NoError(t, h.svc.ResumeTask(h.ctx, id))
	info = h.task(id)
	assert.Equal(t, model.StatusQueued, info.Status)
	assert.NotEmpty(t, info.Handle)
	assert.Empty(t, info.LastError)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, false)
	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"normal without uris", SubmitRequest{Kind: model.KindNormal, PoolID: h.pool.ID}},
		{"bt without metadata", SubmitRequest{Kind: model.KindBT, PoolID: h.pool.ID}},
		{"no destination", SubmitRequest{Kind: model.KindNormal, URIs: []string{"http://x/y"}}},
		{"unsupported uri", SubmitRequest{Kind: model.KindNormal, URIs: []string{"file:///etc/passwd"}, PoolID: h.pool.ID}},
		{"bad kind", SubmitRequest{Kind: "ftp", URIs: []string{"http://x/y"}, PoolID: h.pool.ID}},
		{"bad options", SubmitRequest{Kind: model.KindNormal, URIs: []string{"http://x/y"}, PoolID: h.pool.ID,
			Options: config.TaskOptions{Split: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.SubmitTask(h.ctx, tc.req)
			require.Error(t, err)
			assert.True(t, faults.IsInvalidInput(err), "got %v", err)
		})
	}
	assert.Zero(t, h.daemon.Calls("aria2.addUri"))
}

func TestReconcileResubmitsOnceAfterRestart(t *testing.T) {
	h := newHarness(t, false)
	running := h.addURI("http://example.com/run.bin")
	paused := h.addURI("http://example.com/pause.bin")
	require.NoError(t, h.svc.PauseTask(h.ctx, paused))
	assert.Equal(t, model.StatusPaused, h.task(paused).Status)
	oldHandle := h.task(running).Handle

	h.daemon.Restart()
	require.NoError(t, h.svc.Reconcile(h.ctx, h.pool.ID))
	require.NoError(t, h.svc.Reconcile(h.ctx, h.pool.ID))

	assert.Equal(t, 4, h.daemon.Calls("aria2.addUri"), "two submissions plus one resubmission each")
	assert.Equal(t, 2, h.daemon.Jobs())

	info := h.task(running)
	assert.NotEqual(t, oldHandle, info.Handle)
	assert.Equal(t, model.StatusQueued, info.Status)

	info = h.task(paused)
	assert.Equal(t, model.StatusPaused, info.Status)
	job, ok := h.daemon.Job(info.Handle)
	require.True(t, ok)
	assert.Equal(t, "paused", job.Status)
	assert.Equal(t, "true", job.Options["pause"])

	pools, err := h.svc.Pools(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, h.daemon.SessionID(), pools[0].SessionID)
}

func TestReconcileSkipsTaskWithUnclearableHandle(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/stuck.bin")
	stale := h.task(id).Handle

	h.daemon.Restart()
	h.st.SetFailWrites(errors.New("disk full"))
	err := h.svc.Reconcile(h.ctx, h.pool.ID)
	h.st.SetFailWrites(nil)
	require.Error(t, err)
	assert.True(t, faults.IsLocalIO(err))

	assert.Equal(t, 1, h.daemon.Calls("aria2.addUri"))
	assert.Equal(t, 0, h.daemon.Jobs())
	assert.Equal(t, stale, h.task(id).Handle)
}

func TestReconcileSameSessionKeepsHandles(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/keep.bin")
	handle := h.task(id).Handle

	require.NoError(t, h.svc.Reconcile(h.ctx, h.pool.ID))
	assert.Equal(t, 1, h.daemon.Calls("aria2.addUri"))
	assert.Equal(t, handle, h.task(id).Handle)
}

func TestReconcileSkipsDustbin(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/old.bin")
	require.NoError(t, h.svc.RecycleTask(h.ctx, id))
	require.NotEmpty(t, h.task(id).Handle)

	h.daemon.Restart()
	require.NoError(t, h.svc.Reconcile(h.ctx, h.pool.ID))

	info := h.task(id)
	assert.Empty(t, info.Handle)
	assert.Equal(t, model.StatusPaused, info.Status)
	assert.Equal(t, 1, h.daemon.Calls("aria2.addUri"))
}

func TestReloadedServiceResubmitsAfterRestart(t *testing.T) {
	d := testutil.NewFakeDaemon(testSecret)
	t.Cleanup(d.Close)
	st := store.NewMemory()
	ctx := context.Background()

	first := startService(t, st, clockwork.NewFakeClock(), false)
	host, port := d.HostPort()
	pool, err := first.AddPool(ctx, model.PoolInfo{Host: host, Port: port, Secret: testSecret})
	require.NoError(t, err)
	require.NoError(t, first.Reconcile(ctx, pool.ID))
	id, err := first.SubmitTask(ctx, SubmitRequest{Kind: model.KindNormal, URIs: []string{"http://example.com/r"}, PoolID: pool.ID})
	require.NoError(t, err)

	d.Restart()
	second := startService(t, st, clockwork.NewFakeClock(), false)
	info, err := second.Task(ctx, id)
	require.NoError(t, err)
	stale := info.Handle
	require.NotEmpty(t, stale)

	require.NoError(t, second.Reconcile(ctx, pool.ID))
	info, err = second.Task(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, stale, info.Handle)
	_, ok := d.Job(info.Handle)
	assert.True(t, ok)
}

func TestPollMapsDaemonStates(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/big.bin")
	handle := h.task(id).Handle

	h.daemon.Update(handle, func(j *testutil.Job) {
		j.Status = "active"
		j.Completed = 500
		j.Total = 1000
		j.DownSpeed = 2048
		j.Connections = 3
	})
	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))
	info := h.task(id)
	assert.Equal(t, model.StatusActive, info.Status)
	assert.Equal(t, 50, info.Percent)
	assert.Equal(t, int64(2048), info.DownloadSpeed)
	assert.Equal(t, 3, info.Connections)

	h.daemon.Update(handle, func(j *testutil.Job) {
		j.Status = "error"
		j.ErrorMessage = "Resource not found"
	})
	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))
	info = h.task(id)
	assert.Equal(t, model.StatusError, info.Status)
	assert.Empty(t, info.Handle)
	assert.Equal(t, "Resource not found", info.LastError)
}

func TestPollCompletesOnFullLength(t *testing.T) {
	h := newHarness(t, false)
	seeding := h.addURI("http://example.com/seed.iso")
	sizeless := h.addURI("http://example.com/stream.bin")
	sizelessHandle := h.task(sizeless).Handle

	h.daemon.Update(h.task(seeding).Handle, func(j *testutil.Job) {
		j.Status = "active"
		j.Completed, j.Total = 1000, 1000
	})
	h.daemon.Update(sizelessHandle, func(j *testutil.Job) {
		j.Status = "active"
		j.Completed, j.Total = 0, 0
	})
	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))

	info := h.task(seeding)
	assert.Equal(t, model.StatusComplete, info.Status)
	assert.Empty(t, info.Handle)
	assert.Equal(t, int64(1000), info.CompletedLength)
	assert.Equal(t, 100, info.Percent)

	info = h.task(sizeless)
	assert.Equal(t, model.StatusActive, info.Status)
	assert.Equal(t, sizelessHandle, info.Handle)
	assert.Equal(t, 0, info.Percent)
}

func TestPollUnknownHandleMarksError(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/gone.bin")
	handle := h.task(id).Handle
	h.daemon.FailNext("aria2.tellStatus", 1, "GID "+handle+" is not found")

	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))
	info := h.task(id)
	assert.Equal(t, model.StatusError, info.Status)
	assert.Empty(t, info.Handle)
	assert.Contains(t, info.LastError, "not found")
}

func TestPollTransportErrorKeepsTask(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/keep.bin")
	before := h.task(id)

	h.daemon.SetDown(true)
	err := h.svc.PollPool(h.ctx, h.pool.ID)
	require.Error(t, err)
	assert.True(t, faults.IsTransport(err))

	after := h.task(id)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Handle, after.Handle)
	assert.Equal(t, model.Disconnected, h.poolState())

	// polling a disconnected pool is refused until it reconciles
	assert.ErrorIs(t, h.svc.PollPool(h.ctx, h.pool.ID), ErrNotConnected)
	h.daemon.SetDown(false)
	require.NoError(t, h.svc.Reconcile(h.ctx, h.pool.ID))
	assert.Equal(t, model.Connected, h.poolState())
	assert.Equal(t, before.Handle, h.task(id).Handle)
}

func TestRemoveDuringPollDiscardsAnswer(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/rm.bin")
	handle := h.task(id).Handle
	h.daemon.Update(handle, func(j *testutil.Job) {
		j.Status = "complete"
		j.Completed, j.Total = 10, 10
	})

	evs, err := h.svc.StreamEvents(h.ctx)
	require.NoError(t, err)

	entered, release := h.daemon.Hold("aria2.tellStatus")
	defer release()
	pollErr := make(chan error, 1)
	go func() { pollErr <- h.svc.PollPool(h.ctx, h.pool.ID) }()
	<-entered

	require.NoError(t, h.svc.RemoveTask(h.ctx, id))
	release()
	require.NoError(t, <-pollErr)

	_, err = h.svc.Task(h.ctx, id)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	_, err = h.st.ReadAll(store.Section(model.SectionTask, id))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, h.daemon.Calls("aria2.tellStatus"))
	assert.Equal(t, 1, h.daemon.Calls("aria2.remove"))

	// a later event marks the end of everything the poll could have published
	sentinel := h.addURI("http://example.com/next.bin")
	removed := false
	for {
		select {
		case msg := <-evs:
			switch m := msg.(type) {
			case events.TaskRemovedMsg:
				if m.TaskID == id {
					removed = true
				}
			case events.TaskChangedMsg:
				if m.Task.ID == id && removed {
					t.Fatalf("removed task changed after removal: %+v", m.Task)
				}
			case events.TaskAddedMsg:
				if m.Task.ID == sentinel {
					assert.True(t, removed)
					return
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/pr.bin")
	handle := h.task(id).Handle

	require.NoError(t, h.svc.PauseTask(h.ctx, id))
	assert.Equal(t, model.StatusPaused, h.task(id).Status)
	job, _ := h.daemon.Job(handle)
	assert.Equal(t, "paused", job.Status)

	require.NoError(t, h.svc.ResumeTask(h.ctx, id))
	assert.Equal(t, model.StatusQueued, h.task(id).Status)
	job, _ = h.daemon.Job(handle)
	assert.Equal(t, "waiting", job.Status)
	assert.Equal(t, handle, h.task(id).Handle)
}

func TestResumeWhileDaemonDownKeepsStatus(t *testing.T) {
	h := newHarness(t, false)
	h.daemon.SetDown(true)
	id, err := h.svc.SubmitTask(h.ctx, SubmitRequest{
		Kind:   model.KindNormal,
		URIs:   []string{"http://example.com/later.bin"},
		PoolID: h.pool.ID,
	})
	require.Error(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, model.StatusCreated, h.task(id).Status)

	require.NoError(t, h.svc.PauseTask(h.ctx, id))
	err = h.svc.ResumeTask(h.ctx, id)
	require.Error(t, err)
	assert.True(t, faults.IsTransport(err))

	info := h.task(id)
	assert.Equal(t, model.StatusPaused, info.Status)
	assert.Empty(t, info.Handle)
	assert.NotEmpty(t, info.LastError)
}

func TestPauseUnknownHandleMarksError(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/x.bin")
	h.daemon.FailNext("aria2.pause", 1, "GID deadbeef is not found")

	err := h.svc.PauseTask(h.ctx, id)
	require.Error(t, err)
	assert.True(t, faults.IsUnknownHandle(err))
	info := h.task(id)
	assert.Equal(t, model.StatusError, info.Status)
	assert.Empty(t, info.Handle)
}

func TestCompleteTaskCannotBePaused(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/done.bin")
	h.daemon.Update(h.task(id).Handle, func(j *testutil.Job) { j.Status = "complete" })
	require.NoError(t, h.svc.PollPool(h.ctx, h.pool.ID))

	assert.ErrorIs(t, h.svc.PauseTask(h.ctx, id), ErrAlreadyComplete)
	assert.ErrorIs(t, h.svc.ResumeTask(h.ctx, id), ErrAlreadyComplete)
}

func TestRecycleAndRestore(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/bin.bin")
	handle := h.task(id).Handle

	require.NoError(t, h.svc.RecycleTask(h.ctx, id))
	info := h.task(id)
	assert.Equal(t, h.pool.DustbinID, info.CategoryID)
	assert.Equal(t, model.StatusPaused, info.Status)
	job, _ := h.daemon.Job(handle)
	assert.Equal(t, "paused", job.Status)

	queued, err := h.svc.ListTasks(h.ctx, h.pool.QueuingID)
	require.NoError(t, err)
	assert.Empty(t, queued)

	require.NoError(t, h.svc.ResumeTask(h.ctx, id))
	info = h.task(id)
	assert.Equal(t, h.pool.QueuingID, info.CategoryID)
	assert.Equal(t, model.StatusQueued, info.Status)
}

func TestRemovePoolDropsTasks(t *testing.T) {
	h := newHarness(t, false)
	id := h.addURI("http://example.com/p.bin")

	require.NoError(t, h.svc.RemovePool(h.ctx, h.pool.ID))
	_, err := h.svc.Task(h.ctx, id)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	pools, err := h.svc.Pools(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
	assert.ErrorIs(t, h.svc.Reconcile(h.ctx, h.pool.ID), model.ErrPoolNotFound)
	sections, err := h.st.Sections(model.SectionCategory)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestAddPoolValidation(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.svc.AddPool(h.ctx, model.PoolInfo{Host: "", Port: 6800})
	assert.True(t, faults.IsInvalidInput(err))
	_, err = h.svc.AddPool(h.ctx, model.PoolInfo{Host: "localhost", Port: 70000})
	assert.True(t, faults.IsInvalidInput(err))
	_, err = h.svc.AddCategory(h.ctx, h.pool.ID, "", "", config.TaskOptions{})
	assert.True(t, faults.IsInvalidInput(err))
	_, err = h.svc.AddCategory(h.ctx, "nope", "movies", "", config.TaskOptions{})
	assert.ErrorIs(t, err, model.ErrPoolNotFound)

	cats, err := h.svc.Categories(h.ctx, h.pool.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, model.CategoryQueuing, cats[0].Kind)
	assert.Equal(t, model.CategoryDustbin, cats[1].Kind)
}

func TestDaemonVersion(t *testing.T) {
	h := newHarness(t, false)
	info, err := h.svc.DaemonVersion(h.ctx, h.pool.ID)
	require.NoError(t, err)
	assert.True(t, info.Supported)
	assert.Equal(t, "1.37.0", info.Version)

	h.daemon.SetVersion("1.20.0")
	info, err = h.svc.DaemonVersion(h.ctx, h.pool.ID)
	require.NoError(t, err)
	assert.False(t, info.Supported)

	_, err = h.svc.DaemonVersion(h.ctx, "nope")
	assert.ErrorIs(t, err, model.ErrPoolNotFound)
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, false)
	evs, err := h.svc.StreamEvents(h.ctx)
	require.NoError(t, err)

	id := h.addURI("http://example.com/ev.bin")

	var added, changed bool
	deadline := time.After(5 * time.Second)
	for !added || !changed {
		select {
		case msg := <-evs:
			switch m := msg.(type) {
			case events.TaskAddedMsg:
				added = added || m.Task.ID == id
			case events.TaskChangedMsg:
				changed = changed || (m.Task.ID == id && m.Task.Handle != "")
			}
		case <-deadline:
			t.Fatalf("missing events: added=%v changed=%v", added, changed)
		}
	}
}

func TestAutoSyncReconnectsAfterBackoff(t *testing.T) {
	d := testutil.NewFakeDaemon(testSecret)
	t.Cleanup(d.Close)
	d.SetDown(true)

	clock := clockwork.NewFakeClock()
	svc := startService(t, store.NewMemory(), clock, true)
	ctx := context.Background()
	evs, err := svc.StreamEvents(ctx)
	require.NoError(t, err)

	host, port := d.HostPort()
	pool, err := svc.AddPool(ctx, model.PoolInfo{Host: host, Port: port, Secret: testSecret})
	require.NoError(t, err)

	select {
	case msg := <-evs:
		m, ok := msg.(events.PoolDisconnectedMsg)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, pool.ID, m.PoolID)
		assert.Equal(t, config.DefaultReconnectInterval, m.RetryIn)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect event")
	}

	// poll ticker plus reconnect timer
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	d.SetDown(false)
	clock.Advance(config.DefaultReconnectInterval)

	assert.Eventually(t, func() bool {
		pools, err := svc.Pools(ctx)
		return err == nil && len(pools) == 1 && pools[0].State == model.Connected
	}, 5*time.Second, 10*time.Millisecond)
}
