package cmd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
)

// APIHandler serves the status API of a running sync.
type APIHandler struct {
	service core.SyncService
	log     logrus.FieldLogger
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(service core.SyncService, log logrus.FieldLogger) *APIHandler {
	return &APIHandler{service: service, log: log}
}

// Health check endpoint (Public)
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	pools, err := h.service.Pools(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	type poolHealth struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		State     string `json:"state"`
		SessionID string `json:"session_id,omitempty"`
	}
	out := make([]poolHealth, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolHealth{ID: p.ID, Name: p.Name, State: p.State.String(), SessionID: p.SessionID})
	}
	h.writeJSON(w, map[string]interface{}{"status": "ok", "pools": out})
}

// Tasks endpoint (Protected). Lists every task, optionally of one pool (?pool=).
func (h *APIHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pools, err := h.service.Pools(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if id := r.URL.Query().Get("pool"); id != "" {
		var only []model.PoolInfo
		for _, p := range pools {
			if p.ID == id {
				only = append(only, p)
			}
		}
		if len(only) == 0 {
			http.Error(w, model.ErrPoolNotFound.Error(), http.StatusNotFound)
			return
		}
		pools = only
	}
	listing, err := collectListing(r.Context(), h.service, pools, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, listing)
}

// action serves POST /pause, /resume, /recycle and /delete with ?id=<task id>.
func (h *APIHandler) action(status string, fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && !(status == "deleted" && r.Method == http.MethodDelete) {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Missing id parameter", http.StatusBadRequest)
			return
		}
		if err := fn(r.Context(), id); err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		h.writeJSON(w, map[string]string{"status": status, "id": id})
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrTaskNotFound), errors.Is(err, model.ErrPoolNotFound), faults.IsUnknownHandle(err):
		return http.StatusNotFound
	case faults.IsInvalidInput(err), errors.Is(err, core.ErrAlreadyComplete):
		return http.StatusConflict
	case faults.IsTransport(err), errors.Is(err, core.ErrNotConnected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// eventName maps an events.* message to its SSE event type.
func eventName(msg interface{}) string {
	switch msg.(type) {
	case events.TaskAddedMsg:
		return "added"
	case events.TaskRemovedMsg:
		return "removed"
	case events.TaskChangedMsg:
		return "changed"
	case events.TaskFailedMsg:
		return "failed"
	case events.PoolConnectedMsg:
		return "connected"
	case events.PoolDisconnectedMsg:
		return "disconnected"
	}
	return "unknown"
}

// eventPayload replaces error values, which encode as {}, with their text.
func eventPayload(msg interface{}) interface{} {
	errText := func(err error) string {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	switch m := msg.(type) {
	case events.TaskChangedMsg:
		return struct {
			Task  model.TaskInfo `json:"task"`
			Error string         `json:"error,omitempty"`
		}{m.Task, errText(m.Err)}
	case events.TaskFailedMsg:
		return struct {
			TaskID string `json:"task_id"`
			PoolID string `json:"pool_id"`
			Handle string `json:"handle,omitempty"`
			Error  string `json:"error"`
		}{m.TaskID, m.PoolID, m.Handle, errText(m.Err)}
	case events.PoolDisconnectedMsg:
		return struct {
			PoolID  string  `json:"pool_id"`
			Error   string  `json:"error,omitempty"`
			RetryIn float64 `json:"retry_in_seconds"`
		}{m.PoolID, errText(m.Err), m.RetryIn.Seconds()}
	}
	return msg
}

// Events endpoint (Protected)
func (h *APIHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, err := h.service.StreamEvents(r.Context())
	if err != nil {
		http.Error(w, "Failed to subscribe to events", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			data, err := json.Marshal(eventPayload(msg))
			if err != nil {
				h.log.WithError(err).Debug("Error marshaling event")
				continue
			}
			// event: <type>
			// data: <json>
			_, _ = fmt.Fprintf(w, "event: %s\n", eventName(msg))
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Debug("Failed to encode response")
	}
}

// newServerHandler wires the API routes. metrics, when set, is served on /metrics
// without auth like /health.
func newServerHandler(service core.SyncService, log logrus.FieldLogger, token string, metrics http.Handler) http.Handler {
	handler := NewAPIHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.HandleFunc("/events", handler.Events)
	mux.HandleFunc("/tasks", handler.Tasks)
	mux.HandleFunc("/pause", handler.action("paused", service.PauseTask))
	mux.HandleFunc("/resume", handler.action("resumed", service.ResumeTask))
	mux.HandleFunc("/recycle", handler.action("recycled", service.RecycleTask))
	mux.HandleFunc("/delete", handler.action("deleted", service.RemoveTask))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	// CORS outermost so 401s carry the headers too
	return corsMiddleware(authMiddleware(token, mux))
}

// startHTTPServer serves the API on ln until ctx ends.
func startHTTPServer(ctx context.Context, ln net.Listener, handler http.Handler, log logrus.FieldLogger) error {
	server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow health check and scrapes without auth
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if providedToken, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			if len(providedToken) == len(token) && subtle.ConstantTimeCompare([]byte(providedToken), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// ensureAuthToken returns the API token stored in the app dir, creating it on first use.
func ensureAuthToken() (string, error) {
	tokenFile := filepath.Join(config.GetAppDir(), "token")
	data, err := os.ReadFile(tokenFile)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	token := uuid.New().String()
	if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}
