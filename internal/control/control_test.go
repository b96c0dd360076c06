// SPDX-License-Identifier: MIT

package control

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	cams      []config.Camera
	reloadErr error
	reloaded  bool
}

func (f *fakeEngine) Cameras() []config.Camera { return f.cams }
func (f *fakeEngine) Reload() error {
	f.reloaded = true
	return f.reloadErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(engine Engine, sink eventsink.Sink) *Handler {
	return NewHandler(engine, sink, nil, discardLogger())
}

func decodeJSON(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestHandler_Status_ReturnsOneBasedIndex(t *testing.T) {
	engine := &fakeEngine{cams: []config.Camera{{ID: "a", Name: "Front"}, {ID: "b", Name: "Back"}}}
	h := newTestHandler(engine, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec.Body)
	require.Equal(t, true, body["ok"])
	cams := body["cameras"].([]any)
	require.Len(t, cams, 2)
	first := cams[0].(map[string]any)
	require.Equal(t, float64(1), first["index"])
	require.Equal(t, "a", first["id"])
}

func TestHandler_Grid_PublishesRemoteCommand(t *testing.T) {
	sink := &captureSink{}
	h := newTestHandler(&fakeEngine{}, sink)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/grid", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.events, 1)
	require.Equal(t, "grid", sink.events[0].RemoteCommand.Command)
}

func TestHandler_Solo_RejectsIndexBelowOne(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/solo/0", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Solo_PublishesIndex(t *testing.T) {
	sink := &captureSink{}
	h := newTestHandler(&fakeEngine{}, sink)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/solo/3", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, sink.events[0].RemoteCommand.Index)
}

func TestHandler_Fullscreen_TogglesEachCall(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/fullscreen", nil)
	rec1 := httptest.NewRecorder()
	server.ServeHTTP(rec1, req)
	body1 := decodeJSON(t, rec1.Body)
	require.Equal(t, "entered", body1["state"])

	rec2 := httptest.NewRecorder()
	server.ServeHTTP(rec2, req)
	body2 := decodeJSON(t, rec2.Body)
	require.Equal(t, "exited", body2["state"])
}

func TestHandler_Reload_ReturnsErrorFromEngine(t *testing.T) {
	engine := &fakeEngine{reloadErr: errors.New("config read failed")}
	h := newTestHandler(engine, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/reload", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, engine.reloaded)
}

func TestHandler_UnknownPathReturns404WithEndpointList(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/nonsense", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeJSON(t, rec.Body)
	require.Equal(t, false, body["ok"])
	require.NotEmpty(t, body["endpoints"])
}

func TestHandler_OptionsReturnsNoContent(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_ControlPageServedAtRootAndControl(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	server := h.WithFallback(mux)

	for _, path := range []string{"/", "/control"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "StageView")
	}
}

type captureSink struct {
	events []eventsink.Event
}

func (c *captureSink) Publish(ev eventsink.Event) {
	c.events = append(c.events, ev)
}
