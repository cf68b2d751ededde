package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Job is the fake daemon's view of one download.
type Job struct {
	GID          string
	Kind         string // uri, torrent, metalink
	URIs         []string
	Payload      []byte
	Options      map[string]string
	Status       string
	Completed    int64
	Total        int64
	DownSpeed    int64
	UpSpeed      int64
	Connections  int
	ErrorMessage string
}

type fault struct {
	code int
	msg  string
}

type hold struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

// FakeDaemon is an in-process aria2 JSON-RPC endpoint for tests.
type FakeDaemon struct {
	Server *httptest.Server
	Secret string

	mu       sync.Mutex
	session  int
	nextGID  int
	jobs     map[string]*Job
	calls    map[string]int
	faults   map[string]fault
	holds    map[string]*hold
	down     bool
	metalink int // jobs created per addMetalink
	version  string
}

// NewFakeDaemon starts a daemon; it is closed when the test ends via the returned
// server's Close.
func NewFakeDaemon(secret string) *FakeDaemon {
	d := &FakeDaemon{
		Secret:   secret,
		session:  1,
		jobs:     make(map[string]*Job),
		calls:    make(map[string]int),
		faults:   make(map[string]fault),
		holds:    make(map[string]*hold),
		metalink: 1,
		version:  "1.37.0",
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serve))
	return d
}

func (d *FakeDaemon) Close() { d.Server.Close() }

// HostPort splits the server address.
func (d *FakeDaemon) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(d.Server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// SessionID returns the current session id.
func (d *FakeDaemon) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID()
}

func (d *FakeDaemon) sessionID() string {
	return fmt.Sprintf("%040x", d.session)
}

// Restart simulates a daemon restart: new session id, every job forgotten.
func (d *FakeDaemon) Restart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session++
	d.jobs = make(map[string]*Job)
}

// SetDown makes every request fail at the transport level.
func (d *FakeDaemon) SetDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

// SetMetalinkFanout sets how many jobs one addMetalink call creates.
func (d *FakeDaemon) SetMetalinkFanout(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metalink = n
}

// SetVersion changes the version getVersion reports.
func (d *FakeDaemon) SetVersion(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
}

// FailNext makes the next call of method answer with a JSON-RPC error.
func (d *FakeDaemon) FailNext(method string, code int, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[method] = fault{code: code, msg: msg}
}

// Hold blocks calls of method until release is called. entered is closed once the
// first held call arrives.
func (d *FakeDaemon) Hold(method string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	d.mu.Lock()
	d.holds[method] = h
	d.mu.Unlock()
	var once sync.Once
	return h.entered, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.holds, method)
			d.mu.Unlock()
			close(h.release)
		})
	}
}

// Calls returns how many times method was called.
func (d *FakeDaemon) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// Job returns a copy of the job for gid.
func (d *FakeDaemon) Job(gid string) (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[gid]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns the number of jobs in the current session.
func (d *FakeDaemon) Jobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Update mutates a job in place.
func (d *FakeDaemon) Update(gid string, fn func(*Job)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[gid]
	if ok {
		fn(j)
	}
	return ok
}

type rpcRequest struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (d *FakeDaemon) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	down := d.down
	d.mu.Unlock()
	if down {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
				return
			}
		}
		http.Error(w, "down", http.StatusBadGateway)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, "", nil, &fault{code: -32700, msg: "Parse error."})
		return
	}

	d.mu.Lock()
	d.calls[req.Method]++
	h := d.holds[req.Method]
	d.mu.Unlock()
	if h != nil {
		h.once.Do(func() { close(h.entered) })
		<-h.release
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	params := req.Params
	if d.Secret != "" {
		var token string
		if len(params) == 0 || json.Unmarshal(params[0], &token) != nil || token != "token:"+d.Secret {
			writeRPC(w, req.ID, nil, &fault{code: 1, msg: "Unauthorized"})
			return
		}
		params = params[1:]
	}
	if f, ok := d.faults[req.Method]; ok {
		delete(d.faults, req.Method)
		writeRPC(w, req.ID, nil, &f)
		return
	}

	result, f := d.dispatch(req.Method, params)
	writeRPC(w, req.ID, result, f)
}

func (d *FakeDaemon) dispatch(method string, params []json.RawMessage) (any, *fault) {
	str := func(i int) string {
		var s string
		if i < len(params) {
			_ = json.Unmarshal(params[i], &s)
		}
		return s
	}
	opts := func(i int) map[string]string {
		m := map[string]string{}
		if i < len(params) {
			_ = json.Unmarshal(params[i], &m)
		}
		return m
	}

	switch method {
	case "aria2.getSessionInfo":
		return map[string]string{"sessionId": d.sessionID()}, nil

	case "aria2.getVersion":
		return map[string]any{"version": d.version, "enabledFeatures": []string{"BitTorrent", "Metalink", "SFTP"}}, nil

	case "aria2.addUri":
		var uris []string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &uris)
		}
		if len(uris) == 0 {
			return nil, &fault{code: 1, msg: "No URI to download."}
		}
		return d.newJob("uri", uris, nil, opts(1)).GID, nil

	case "aria2.addTorrent":
		data, err := base64.StdEncoding.DecodeString(str(0))
		if err != nil || len(data) == 0 {
			return nil, &fault{code: 1, msg: "Failed to decode torrent."}
		}
		var uris []string
		if len(params) > 1 {
			_ = json.Unmarshal(params[1], &uris)
		}
		return d.newJob("torrent", uris, data, opts(2)).GID, nil

	case "aria2.addMetalink":
		data, err := base64.StdEncoding.DecodeString(str(0))
		if err != nil || len(data) == 0 {
			return nil, &fault{code: 1, msg: "Failed to parse metalink."}
		}
		gids := make([]string, 0, d.metalink)
		for range d.metalink {
			gids = append(gids, d.newJob("metalink", nil, data, opts(1)).GID)
		}
		return gids, nil

	case "aria2.tellStatus":
		j, ok := d.jobs[str(0)]
		if !ok {
			return nil, notFound(str(0))
		}
		return map[string]string{
			"gid":             j.GID,
			"status":          j.Status,
			"completedLength": strconv.FormatInt(j.Completed, 10),
			"totalLength":     strconv.FormatInt(j.Total, 10),
			"downloadSpeed":   strconv.FormatInt(j.DownSpeed, 10),
			"uploadSpeed":     strconv.FormatInt(j.UpSpeed, 10),
			"connections":     strconv.Itoa(j.Connections),
			"errorMessage":    j.ErrorMessage,
		}, nil

	case "aria2.pause", "aria2.unpause", "aria2.remove":
		gid := str(0)
		j, ok := d.jobs[gid]
		if !ok {
			return nil, notFound(gid)
		}
		switch method {
		case "aria2.pause":
			j.Status = "paused"
		case "aria2.unpause":
			j.Status = "waiting"
		case "aria2.remove":
			j.Status = "removed"
		}
		return gid, nil
	}
	return nil, &fault{code: -32601, msg: "Method not found."}
}

func (d *FakeDaemon) newJob(kind string, uris []string, payload []byte, options map[string]string) *Job {
	d.nextGID++
	j := &Job{
		GID:     fmt.Sprintf("%016x", d.nextGID),
		Kind:    kind,
		URIs:    uris,
		Payload: payload,
		Options: options,
		Status:  "waiting",
	}
	if strings.EqualFold(options["pause"], "true") {
		j.Status = "paused"
	}
	d.jobs[j.GID] = j
	return j
}

func notFound(gid string) *fault {
	return &fault{code: 1, msg: fmt.Sprintf("GID %s is not found", gid)}
}

func writeRPC(w http.ResponseWriter, id string, result any, f *fault) {
	body := map[string]any{"jsonrpc": "2.0", "id": id}
	w.Header().Set("Content-Type", "application/json-rpc")
	if f != nil {
		body["error"] = map[string]any{"code": f.code, "message": f.msg}
		w.WriteHeader(http.StatusBadRequest)
	} else {
		body["result"] = result
	}
	_ = json.NewEncoder(w).Encode(body)
}
