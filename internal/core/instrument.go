package core

import (
	"context"
	"time"

	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/metrics"
	"github.com/surge-downloader/ariasync/internal/rpc"
)

// instrumentedClient records the duration and outcome of every daemon call.
type instrumentedClient struct {
	next rpc.Client
	rec  metrics.Recorder
}

func (s *Service) instrument(c rpc.Client) rpc.Client {
	if _, ok := s.metrics.(metrics.NoopRecorder); ok {
		return c
	}
	return &instrumentedClient{next: c, rec: s.metrics}
}

func outcome(err error) string {
	switch faults.KindOf(err) {
	case "":
		if err != nil {
			return metrics.ResultTransport
		}
		return metrics.ResultSuccess
	case faults.KindTransport:
		return metrics.ResultTransport
	case faults.KindUnknownHandle:
		return metrics.ResultUnknownHandle
	case faults.KindInvalidInput:
		return metrics.ResultInvalidInput
	default:
		return metrics.ResultLocalIO
	}
}

func (c *instrumentedClient) observe(method string, start time.Time, err error) {
	c.rec.ObserveCall(method, time.Since(start), outcome(err))
}

func (c *instrumentedClient) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	start := time.Now()
	gid, err := c.next.AddURI(ctx, uris, options)
	c.observe("aria2.addUri", start, err)
	return gid, err
}

func (c *instrumentedClient) AddTorrent(ctx context.Context, torrent []byte, uris []string, options map[string]string) (string, error) {
	start := time.Now()
	gid, err := c.next.AddTorrent(ctx, torrent, uris, options)
	c.observe("aria2.addTorrent", start, err)
	return gid, err
}

func (c *instrumentedClient) AddMetalink(ctx context.Context, metalink []byte, options map[string]string) ([]string, error) {
	start := time.Now()
	gids, err := c.next.AddMetalink(ctx, metalink, options)
	c.observe("aria2.addMetalink", start, err)
	return gids, err
}

func (c *instrumentedClient) GetSessionInfo(ctx context.Context) (string, error) {
	start := time.Now()
	sid, err := c.next.GetSessionInfo(ctx)
	c.observe("aria2.getSessionInfo", start, err)
	return sid, err
}

func (c *instrumentedClient) GetVersion(ctx context.Context) (rpc.Version, error) {
	start := time.Now()
	v, err := c.next.GetVersion(ctx)
	c.observe("aria2.getVersion", start, err)
	return v, err
}

func (c *instrumentedClient) TellStatus(ctx context.Context, handle string) (rpc.Status, error) {
	start := time.Now()
	st, err := c.next.TellStatus(ctx, handle)
	c.observe("aria2.tellStatus", start, err)
	return st, err
}

func (c *instrumentedClient) Pause(ctx context.Context, handle string) error {
	start := time.Now()
	err := c.next.Pause(ctx, handle)
	c.observe("aria2.pause", start, err)
	return err
}

func (c *instrumentedClient) Unpause(ctx context.Context, handle string) error {
	start := time.Now()
	err := c.next.Unpause(ctx, handle)
	c.observe("aria2.unpause", start, err)
	return err
}

func (c *instrumentedClient) Remove(ctx context.Context, handle string) error {
	start := time.Now()
	err := c.next.Remove(ctx, handle)
	c.observe("aria2.remove", start, err)
	return err
}
