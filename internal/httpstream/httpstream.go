// SPDX-License-Identifier: MIT

// Package httpstream serves live camera fragments over HTTP: a raw fMP4
// byte stream for MSE-based players, or a multipart/x-mixed-replace MJPEG
// stream for plain <img> tags. Both wire formats replay the broadcast
// hub's late-joiner cache before handing a client off to the live feed.
package httpstream

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/keithhegstad/stageview-go/internal/broadcast"
	"github.com/keithhegstad/stageview-go/internal/camera"
)

// HubLookup resolves a camera ID to its broadcast hub and wire format.
// The engine facade owns the camera-id -> Supervisor/Hub map; this package
// only needs read access to it.
type HubLookup interface {
	Lookup(cameraID string) (hub *broadcast.Hub, mode camera.StreamMode, ok bool)
}

// Handler serves GET /camera/{id}/stream for every configured camera.
type Handler struct {
	lookup HubLookup
	log    *slog.Logger
}

// NewHandler returns a stream handler backed by lookup.
func NewHandler(lookup HubLookup, log *slog.Logger) *Handler {
	return &Handler{lookup: lookup, log: log}
}

// Register wires the handler into mux at GET/OPTIONS /camera/{id}/stream.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /camera/{id}/stream", h.serveStream)
	mux.HandleFunc("OPTIONS /camera/{id}/stream", h.serveOptions)
}

func (h *Handler) serveOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hub, mode, ok := h.lookup.Lookup(id)
	if !ok {
		http.Error(w, "unknown camera", http.StatusNotFound)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	sub, initSegment, cached := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	if mode == camera.StreamMJPEG {
		h.serveMJPEG(w, r, sub, cached)
		return
	}
	h.serveFMP4(w, r, sub, initSegment, cached)
}

// serveFMP4 writes the cached init segment and any cached fragments as a
// single raw byte stream, then forwards live fragments as they arrive. A
// lagging client resumes from whatever the broadcaster's drop-oldest
// policy left in its channel; it is never disconnected for falling behind.
func (h *Handler) serveFMP4(w http.ResponseWriter, r *http.Request, sub *broadcast.Subscriber, initSegment []byte, cached [][]byte) {
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	if initSegment != nil {
		if !h.write(w, initSegment) {
			return
		}
	}
	for _, frag := range cached {
		if !h.write(w, frag) {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frag, open := <-sub.C():
			if !open {
				return
			}
			if !h.write(w, frag.Data) {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// serveMJPEG wraps every frame in a multipart/x-mixed-replace part, the
// format plain <img src="..."> tags render directly.
func (h *Handler) serveMJPEG(w http.ResponseWriter, r *http.Request, sub *broadcast.Subscriber, cached [][]byte) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		h.log.Error("mjpeg boundary setup failed", "error", err)
		return
	}
	flusher, _ := w.(http.Flusher)

	for _, frag := range cached {
		if !h.writeMJPEGPart(mw, flusher, frag) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frag, open := <-sub.C():
			if !open {
				return
			}
			if !h.writeMJPEGPart(mw, flusher, frag.Data) {
				return
			}
		}
	}
}

func (h *Handler) writeMJPEGPart(mw *multipart.Writer, flusher http.Flusher, frame []byte) bool {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(frame)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return false
	}
	if _, err := part.Write(frame); err != nil {
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

func (h *Handler) write(w http.ResponseWriter, data []byte) bool {
	_, err := w.Write(data)
	if err != nil {
		h.log.Warn("stream write failed, client likely disconnected", "error", err)
		return false
	}
	return true
}
