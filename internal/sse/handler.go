/**
 * Progress-stream HTTP handler (spec §4.4, §6): starts a smart-processing
 * run and streams its Events as server-sent events over the same
 * connection, plus a companion cancellation endpoint.
 *
 * No teacher equivalent — the teacher is a queue consumer with no HTTP
 * progress API. Implemented with stdlib net/http + http.Flusher, the
 * standard idiomatic Go SSE pattern; see DESIGN.md for why this is the one
 * place a third-party wrapper was not reached for.
 */

package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/orchestrator"
)

// Runtime is the subset of orchestrator.Runtime this handler depends on.
type Runtime interface {
	StartRun(paths []string) (string, <-chan orchestrator.Event)
	Cancel(token string) bool
}

// Handler serves the smart-processing progress stream and its cancellation
// endpoint.
type Handler struct {
	runtime Runtime
	logger  *zap.Logger
}

// NewHandler builds a Handler bound to an orchestrator runtime.
func NewHandler(runtime Runtime, logger *zap.Logger) *Handler {
	return &Handler{runtime: runtime, logger: logger}
}

// startRequest is the body of POST /smart-process.
type startRequest struct {
	Paths []string `json:"paths"`
}

// HandleStart starts a run over the submitted paths and streams its
// progress events as text/event-stream. The request's context is cancelled
// when the client disconnects, which cancels the SmartToken defensively
// (spec §5: "the connection's close must also cancel the associated
// SmartToken").
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Paths) == 0 {
		http.Error(w, "paths must not be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	token, events := h.runtime.StartRun(req.Paths)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Smart-Token", token)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.runtime.Cancel(token)
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Warn("writing sse event failed, aborting stream", zap.String("token", token), zap.Error(err))
				return
			}
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

// HandleCancel cancels a run by token (supplied by the caller; serve reads it
// from the "token" query parameter). Responds 202 on success, 404 if the token is
// unknown or already finished.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if h.runtime.Cancel(token) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	http.Error(w, "unknown or expired token", http.StatusNotFound)
}

func writeEvent(w http.ResponseWriter, ev orchestrator.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling sse event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Phase, payload); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	return nil
}
