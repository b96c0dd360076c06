// SPDX-License-Identifier: MIT

// Package control serves the small JSON control API (status, solo, grid,
// fullscreen, reload) and the static control page, matching the original
// desktop prototype's remote-control surface for a browser-based client
// instead of the native window it used to drive directly.
package control

import (
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
)

//go:embed static/control.html
var staticFiles embed.FS

// Engine is the subset of the engine facade the control API needs: the
// current camera roster (for /api/status) and reload.
type Engine interface {
	Cameras() []config.Camera
	Reload() error
}

// FullscreenToggler flips whatever "fullscreen" means for the embedder.
// The original desktop prototype toggled its own window; a headless
// daemon with a browser control page has no window to toggle, so the
// default implementation just tracks a server-side flag.
type FullscreenToggler interface {
	Toggle() (entered bool)
}

// InMemoryToggler is the default FullscreenToggler: a single shared flag,
// no actual window underneath it.
type InMemoryToggler struct {
	mu  sync.Mutex
	set bool
}

// Toggle flips the flag and returns the new state.
func (t *InMemoryToggler) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set = !t.set
	return t.set
}

// Handler serves the control API and control page.
type Handler struct {
	engine  Engine
	sink    eventsink.Sink
	toggler FullscreenToggler
	log     *slog.Logger
	page    []byte
}

// NewHandler returns a control handler. If toggler is nil, an
// InMemoryToggler is used. If sink is nil, events are dropped.
func NewHandler(engine Engine, sink eventsink.Sink, toggler FullscreenToggler, log *slog.Logger) *Handler {
	if sink == nil {
		sink = eventsink.NopSink{}
	}
	if toggler == nil {
		toggler = &InMemoryToggler{}
	}
	page, err := fs.ReadFile(staticFiles, "static/control.html")
	if err != nil {
		page = []byte("<html><body>control page unavailable</body></html>")
	}
	return &Handler{engine: engine, sink: sink, toggler: toggler, log: log, page: page}
}

var endpoints = []string{"/api/solo/{index}", "/api/grid", "/api/status", "/api/fullscreen", "/api/reload"}

// Register wires every control route into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/grid", h.grid)
	mux.HandleFunc("GET /api/solo/{index}", h.solo)
	mux.HandleFunc("GET /api/fullscreen", h.fullscreen)
	mux.HandleFunc("GET /api/reload", h.reload)
	mux.HandleFunc("GET /control", h.servePage)
	mux.HandleFunc("GET /{$}", h.servePage)
}

// WithFallback wraps mux with CORS headers on every response, an OPTIONS
// 204 preflight responder, and a JSON 404 (with an endpoint list) for any
// path mux has no registered handler for. Register every route on mux
// before wrapping it with this.
func (h *Handler) WithFallback(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if _, pattern := mux.Handler(r); pattern == "" {
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"ok":        false,
				"error":     "unknown endpoint",
				"endpoints": endpoints,
			})
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	cams := h.engine.Cameras()
	type cameraInfo struct {
		Index int    `json:"index"`
		ID    string `json:"id"`
		Name  string `json:"name"`
	}
	list := make([]cameraInfo, 0, len(cams))
	for i, c := range cams {
		list = append(list, cameraInfo{Index: i + 1, ID: c.ID, Name: c.Name})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cameras": list})
}

func (h *Handler) grid(w http.ResponseWriter, _ *http.Request) {
	h.sink.Publish(eventsink.Event{
		Type:          eventsink.TypeRemoteCommand,
		RemoteCommand: &eventsink.RemoteCommand{Command: "grid"},
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": "grid"})
}

func (h *Handler) solo(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 1 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "index must be >= 1"})
		return
	}
	h.sink.Publish(eventsink.Event{
		Type:          eventsink.TypeRemoteCommand,
		RemoteCommand: &eventsink.RemoteCommand{Command: "solo", Index: idx},
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": "solo", "index": idx})
}

func (h *Handler) fullscreen(w http.ResponseWriter, _ *http.Request) {
	entered := h.toggler.Toggle()
	state := "exited"
	if entered {
		state = "entered"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": "fullscreen", "state": state})
}

func (h *Handler) reload(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.Reload(); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": "reload"})
}

func (h *Handler) servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.page)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("control response encode failed", "error", err)
	}
}
