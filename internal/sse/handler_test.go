package sse

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/orchestrator"
)

type fakeRuntime struct {
	events   chan orchestrator.Event
	token    string
	canceled []string
}

func (f *fakeRuntime) StartRun(paths []string) (string, <-chan orchestrator.Event) {
	return f.token, f.events
}

func (f *fakeRuntime) Cancel(token string) bool {
	f.canceled = append(f.canceled, token)
	return token == f.token
}

func TestHandleStartStreamsEventsUntilTerminal(t *testing.T) {
	events := make(chan orchestrator.Event, 4)
	events <- orchestrator.Event{Token: "tok-1", Phase: orchestrator.PhaseAnalyze, Current: 1, Total: 2}
	events <- orchestrator.Event{Token: "tok-1", Phase: orchestrator.PhaseFinalize, Current: 2, Total: 2, Terminal: true}
	close(events)

	rt := &fakeRuntime{events: events, token: "tok-1"}
	h := NewHandler(rt, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/smart-process", strings.NewReader(`{"paths":["a.pdf","b.pdf"]}`))
	rec := httptest.NewRecorder()

	h.HandleStart(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "tok-1", rec.Header().Get("X-Smart-Token"))

	body := rec.Body.String()
	require.Contains(t, body, "event: "+orchestrator.PhaseAnalyze)
	require.Contains(t, body, "event: "+orchestrator.PhaseFinalize)

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	dataLines := 0
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			dataLines++
		}
	}
	require.Equal(t, 2, dataLines)
}

func TestHandleStartRejectsEmptyPaths(t *testing.T) {
	rt := &fakeRuntime{events: make(chan orchestrator.Event), token: "tok-2"}
	h := NewHandler(rt, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/smart-process", strings.NewReader(`{"paths":[]}`))
	rec := httptest.NewRecorder()

	h.HandleStart(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCancelReturnsAcceptedForKnownToken(t *testing.T) {
	rt := &fakeRuntime{events: make(chan orchestrator.Event), token: "tok-3"}
	h := NewHandler(rt, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/smart-process/tok-3/cancel", nil)
	rec := httptest.NewRecorder()

	h.HandleCancel(rec, req, "tok-3")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"tok-3"}, rt.canceled)
}

func TestHandleCancelReturnsNotFoundForUnknownToken(t *testing.T) {
	rt := &fakeRuntime{events: make(chan orchestrator.Event), token: "tok-4"}
	h := NewHandler(rt, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/smart-process/nope/cancel", nil)
	rec := httptest.NewRecorder()

	h.HandleCancel(rec, req, "nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
