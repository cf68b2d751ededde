package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/surge-downloader/ariasync/internal/faults"
)

// aria2 uses error code 1 for most faults; a "not found" message on a gid-keyed call
// means the job is gone.
const faultGeneric = 1

// statusKeys limits tellStatus to the fields Status carries.
var statusKeys = []string{
	"gid", "status", "completedLength", "totalLength", "downloadSpeed",
	"uploadSpeed", "connections", "errorCode", "errorMessage",
}

// Config describes how to reach one daemon.
type Config struct {
	Host     string
	Port     int
	Path     string // defaults to /jsonrpc
	Secret   string
	User     string
	Password string

	Timeout           time.Duration // whole call, 0 = 10s
	ConnectTimeout    time.Duration // TCP dial, 0 = 5s
	MaxCallsPerSecond float64       // 0 = unlimited

	HTTPClient *http.Client // overrides the timeouts above when set
	Logger     logrus.FieldLogger
}

// Aria2 implements Client over aria2's JSON-RPC 2.0 HTTP endpoint.
type Aria2 struct {
	endpoint string
	secret   string
	user     string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	log      logrus.FieldLogger
	seq      atomic.Uint64
}

var _ Client = (*Aria2)(nil)

// NewAria2 builds a client for cfg.
func NewAria2(cfg Config) *Aria2 {
	path := cfg.Path
	if path == "" {
		path = "/jsonrpc"
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   path,
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		dial := cfg.ConnectTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dial}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MaxCallsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxCallsPerSecond), 1)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	return &Aria2{
		endpoint: u.String(),
		secret:   cfg.Secret,
		user:     cfg.User,
		password: cfg.Password,
		client:   client,
		limiter:  limiter,
		log:      log,
	}
}

// Endpoint returns the JSON-RPC URL.
func (c *Aria2) Endpoint() string { return c.endpoint }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error"`
}

type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *Aria2) call(ctx context.Context, method string, out any, params ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return faults.Transport(method, err)
	}

	full := make([]any, 0, len(params)+1)
	if c.secret != "" {
		full = append(full, "token:"+c.secret)
	}
	full = append(full, params...)

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      strconv.FormatUint(c.seq.Add(1), 10),
		Method:  method,
		Params:  full,
	})
	if err != nil {
		return faults.InvalidInput(method, 0, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return faults.Transport(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return faults.Transport(method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// aria2 answers faults with 400 and a JSON-RPC error body, so decode before looking
	// at the status code.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return faults.Transport(method, err)
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		snippet := raw
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return faults.Transport(method, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if r.Error != nil {
		return classify(method, r.Error)
	}
	if resp.StatusCode >= 400 {
		return faults.Transport(method, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return faults.Transport(method, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

func classify(method string, e *remoteError) error {
	if e.Code == faultGeneric && strings.Contains(strings.ToLower(e.Message), "not found") {
		return faults.UnknownHandle(method, e.Code, e.Message)
	}
	return faults.InvalidInput(method, e.Code, e.Message)
}

func optionsParam(options map[string]string) map[string]string {
	if options == nil {
		return map[string]string{}
	}
	return options
}

func (c *Aria2) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	if len(uris) == 0 {
		return "", faults.InvalidInput("aria2.addUri", 0, "no URIs given")
	}
	var gid string
	if err := c.call(ctx, "aria2.addUri", &gid, uris, optionsParam(options)); err != nil {
		return "", err
	}
	c.log.WithField("handle", gid).Debug("aria2.addUri accepted")
	return gid, nil
}

func (c *Aria2) AddTorrent(ctx context.Context, torrent []byte, uris []string, options map[string]string) (string, error) {
	if uris == nil {
		uris = []string{}
	}
	var gid string
	err := c.call(ctx, "aria2.addTorrent", &gid, base64.StdEncoding.EncodeToString(torrent), uris, optionsParam(options))
	if err != nil {
		return "", err
	}
	c.log.WithField("handle", gid).Debug("aria2.addTorrent accepted")
	return gid, nil
}

func (c *Aria2) AddMetalink(ctx context.Context, metalink []byte, options map[string]string) ([]string, error) {
	var gids []string
	err := c.call(ctx, "aria2.addMetalink", &gids, base64.StdEncoding.EncodeToString(metalink), optionsParam(options))
	if err != nil {
		return nil, err
	}
	if len(gids) == 0 {
		return nil, faults.InvalidInput("aria2.addMetalink", 0, "metalink produced no downloads")
	}
	return gids, nil
}

func (c *Aria2) GetSessionInfo(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.call(ctx, "aria2.getSessionInfo", &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", faults.Transport("aria2.getSessionInfo", errors.New("empty session id"))
	}
	return out.SessionID, nil
}

func (c *Aria2) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	if err := c.call(ctx, "aria2.getVersion", &v); err != nil {
		return Version{}, err
	}
	return v, nil
}

type wireStatus struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	CompletedLength string `json:"completedLength"`
	TotalLength     string `json:"totalLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	UploadSpeed     string `json:"uploadSpeed"`
	Connections     string `json:"connections"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
}

func (c *Aria2) TellStatus(ctx context.Context, handle string) (Status, error) {
	var w wireStatus
	if err := c.call(ctx, "aria2.tellStatus", &w, handle, statusKeys); err != nil {
		return Status{}, err
	}
	st := Status{
		Handle:       w.GID,
		Status:       w.Status,
		ErrorCode:    w.ErrorCode,
		ErrorMessage: w.ErrorMessage,
	}
	var err error
	if st.CompletedLength, err = decimal("completedLength", w.CompletedLength); err != nil {
		return Status{}, err
	}
	if st.TotalLength, err = decimal("totalLength", w.TotalLength); err != nil {
		return Status{}, err
	}
	if st.DownloadSpeed, err = decimal("downloadSpeed", w.DownloadSpeed); err != nil {
		return Status{}, err
	}
	if st.UploadSpeed, err = decimal("uploadSpeed", w.UploadSpeed); err != nil {
		return Status{}, err
	}
	conns, err := decimal("connections", w.Connections)
	if err != nil {
		return Status{}, err
	}
	st.Connections = int(conns)
	if st.Handle == "" {
		st.Handle = handle
	}
	return st, nil
}

// decimal parses aria2's string-encoded integers; absent fields read as 0.
func decimal(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, faults.Transport("aria2.tellStatus", fmt.Errorf("field %s: %w", field, err))
	}
	return n, nil
}

func (c *Aria2) Pause(ctx context.Context, handle string) error {
	return c.call(ctx, "aria2.pause", nil, handle)
}

func (c *Aria2) Unpause(ctx context.Context, handle string) error {
	return c.call(ctx, "aria2.unpause", nil, handle)
}

func (c *Aria2) Remove(ctx context.Context, handle string) error {
	return c.call(ctx, "aria2.remove", nil, handle)
}
