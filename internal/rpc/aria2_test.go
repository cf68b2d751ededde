package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/testutil"
)

func newTestClient(t *testing.T, secret string) (*Aria2, *testutil.FakeDaemon) {
	t.Helper()
	d := testutil.NewFakeDaemon(secret)
	t.Cleanup(d.Close)
	host, port := d.HostPort()
	return NewAria2(Config{Host: host, Port: port, Secret: secret, Timeout: 2 * time.Second}), d
}

func TestAria2WireFormat(t *testing.T) {
	var got struct {
		JSONRPC string            `json:"jsonrpc"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jsonrpc", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"2089b05ecca3d829"}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewAria2(Config{Host: host, Port: port, Secret: "s3cr3t"})
	gid, err := c.AddURI(context.Background(), []string{"http://example.com/a.iso"}, map[string]string{"split": "4"})
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", gid)

	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, "aria2.addUri", got.Method)
	require.Len(t, got.Params, 3)
	assert.JSONEq(t, `"token:s3cr3t"`, string(got.Params[0]))
	assert.JSONEq(t, `["http://example.com/a.iso"]`, string(got.Params[1]))
	assert.JSONEq(t, `{"split":"4"}`, string(got.Params[2]))
}

func TestAria2TellStatusParsesDecimalStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"gid":"abc","status":"active",
			"completedLength":"524288","totalLength":"1048576","downloadSpeed":"1024",
			"uploadSpeed":"0","connections":"3"}}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewAria2(Config{Host: host, Port: port})
	st, err := c.TellStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, Status{
		Handle:          "abc",
		Status:          StatusActive,
		CompletedLength: 524288,
		TotalLength:     1048576,
		DownloadSpeed:   1024,
		Connections:     3,
	}, st)
}

func TestAria2Lifecycle(t *testing.T) {
	c, d := newTestClient(t, "s3cr3t")
	ctx := context.Background()

	sid, err := c.GetSessionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.SessionID(), sid)

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.37.0", v.Version)
	assert.Contains(t, v.EnabledFeatures, "BitTorrent")

	gid, err := c.AddURI(ctx, []string{"http://example.com/a.iso"}, nil)
	require.NoError(t, err)
	d.Update(gid, func(j *testutil.Job) {
		j.Status = StatusActive
		j.Completed, j.Total = 10, 100
	})

	st, err := c.TellStatus(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.CompletedLength)

	require.NoError(t, c.Pause(ctx, gid))
	job, _ := d.Job(gid)
	assert.Equal(t, StatusPaused, job.Status)
	require.NoError(t, c.Unpause(ctx, gid))
	require.NoError(t, c.Remove(ctx, gid))
	job, _ = d.Job(gid)
	assert.Equal(t, StatusRemoved, job.Status)
}

func TestAria2AddTorrentAndMetalink(t *testing.T) {
	c, d := newTestClient(t, "")
	ctx := context.Background()

	torrent, err := testutil.TorrentBytes("debian.iso", 40000)
	require.NoError(t, err)
	gid, err := c.AddTorrent(ctx, torrent, nil, map[string]string{"pause": "true"})
	require.NoError(t, err)
	job, ok := d.Job(gid)
	require.True(t, ok)
	assert.Equal(t, torrent, job.Payload)
	assert.Equal(t, StatusPaused, job.Status)

	d.SetMetalinkFanout(3)
	gids, err := c.AddMetalink(ctx, testutil.MetalinkBytes("http://a/1", "http://a/2", "http://a/3"), nil)
	require.NoError(t, err)
	assert.Len(t, gids, 3)
}

func TestAria2FaultClassification(t *testing.T) {
	c, d := newTestClient(t, "s3cr3t")
	ctx := context.Background()

	_, err := c.TellStatus(ctx, "ffffffffffffffff")
	assert.True(t, faults.IsUnknownHandle(err), "got %v", err)

	d.FailNext("aria2.addUri", 1, "Invalid URI http//broken")
	_, err = c.AddURI(ctx, []string{"http//broken"}, nil)
	assert.True(t, faults.IsInvalidInput(err), "got %v", err)

	wrong := NewAria2(Config{Host: mustHost(d), Port: mustPort(d), Secret: "wrong"})
	_, err = wrong.GetSessionInfo(ctx)
	assert.True(t, faults.IsInvalidInput(err), "got %v", err)

	d.SetDown(true)
	_, err = c.GetSessionInfo(ctx)
	assert.True(t, faults.IsTransport(err), "got %v", err)
}

func TestAria2UnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host, port := splitHostPort(t, srv.URL)
	srv.Close()

	c := NewAria2(Config{Host: host, Port: port, ConnectTimeout: 200 * time.Millisecond})
	_, err := c.GetSessionInfo(context.Background())
	assert.True(t, faults.IsTransport(err), "got %v", err)
}

func TestAria2TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	host, port := splitHostPort(t, srv.URL)
	c := NewAria2(Config{Host: host, Port: port, Timeout: 100 * time.Millisecond})
	_, err := c.GetSessionInfo(context.Background())
	assert.True(t, faults.IsTransport(err), "got %v", err)
}

func TestAria2NonJSONResponseIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewAria2(Config{Host: host, Port: port})
	_, err := c.GetSessionInfo(context.Background())
	assert.True(t, faults.IsTransport(err), "got %v", err)
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	port, err := strconv.Atoi(req.URL.Port())
	require.NoError(t, err)
	return req.URL.Hostname(), port
}

func mustHost(d *testutil.FakeDaemon) string {
	h, _ := d.HostPort()
	return h
}

func mustPort(d *testutil.FakeDaemon) int {
	_, p := d.HostPort()
	return p
}
