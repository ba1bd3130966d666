// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hbos123/chessgpt/pkg/controller"
	"github.com/Hbos123/chessgpt/pkg/fallback"
	"github.com/Hbos123/chessgpt/pkg/types"
)

type fakeCoach struct {
	res    *controller.Result
	err    error
	chunks []string
	calls  int
	done   chan struct{}
}

func (f *fakeCoach) Run(_ context.Context, _ *types.CoachRequest, em *controller.Emitter) (*controller.Result, error) {
	f.calls++
	if f.done != nil {
		defer close(f.done)
	}
	em.Status("routing", "start")
	for _, c := range f.chunks {
		em.Chunk(c)
	}
	return f.res, f.err
}

type fakeFallback struct {
	res   *fallback.Result
	err   error
	calls int
}

func (f *fakeFallback) Run(context.Context, *types.CoachRequest) (*fallback.Result, error) {
	f.calls++
	return f.res, f.err
}

func newTestServer(coach coachRunner, legacy fallbackRunner, enabled bool) *Server {
	return New(coach, legacy, Config{ControllerEnabled: enabled, CORS: DefaultCORSConfig()}, nil)
}

func collectEvents(t *testing.T, body string) []types.Event {
	t.Helper()
	var events []types.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev types.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func terminalEvents(events []types.Event) []types.Event {
	var out []types.Event
	for _, ev := range events {
		if ev.Type == types.EventComplete || ev.Type == types.EventError {
			out = append(out, ev)
		}
	}
	return out
}

const reqBody = `{"task_id":"t1","fen":"8/8/8/8/8/8/8/8 w - - 0 1","text":"hi"}`

func doStream(t *testing.T, s *Server) []types.Event {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/coach:stream", strings.NewReader(reqBody))
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	return collectEvents(t, rec.Body.String())
}

func TestStreamControllerSuccess(t *testing.T) {
	coach := &fakeCoach{
		res:    &controller.Result{RequestID: "r1", Answer: "develop", Confidence: types.ConfidenceHigh},
		chunks: []string{"dev", "elop"},
	}
	legacy := &fakeFallback{}
	events := doStream(t, newTestServer(coach, legacy, true))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventComplete, terminals[0].Type)

	var payload types.CompletePayload
	require.NoError(t, json.Unmarshal(terminals[0].Payload, &payload))
	assert.Equal(t, "develop", payload.Answer)
	assert.False(t, payload.Fallback)
	assert.Zero(t, legacy.calls)

	// The terminal event is last in the stream.
	assert.Equal(t, types.EventComplete, events[len(events)-1].Type)
}

func TestStreamControllerFailureRunsFallbackOnce(t *testing.T) {
	coach := &fakeCoach{err: errors.New("stage blew up")}
	legacy := &fakeFallback{res: &fallback.Result{RequestID: "r2", Answer: "simple answer", Confidence: types.ConfidenceLow}}
	events := doStream(t, newTestServer(coach, legacy, true))

	require.Equal(t, 1, legacy.calls)
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)

	var payload types.CompletePayload
	require.NoError(t, json.Unmarshal(terminals[0].Payload, &payload))
	assert.True(t, payload.Fallback)
	assert.Equal(t, "simple answer", payload.Answer)
}

func TestStreamBothPipelinesFailSingleError(t *testing.T) {
	coach := &fakeCoach{err: errors.New("primary down")}
	legacy := &fakeFallback{err: errors.New("legacy down")}
	events := doStream(t, newTestServer(coach, legacy, true))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventError, terminals[0].Type)
}

func TestStreamControllerDisabledGoesStraightToFallback(t *testing.T) {
	coach := &fakeCoach{res: &controller.Result{Answer: "never used"}}
	legacy := &fakeFallback{res: &fallback.Result{Answer: "legacy", Confidence: types.ConfidenceLow}}
	events := doStream(t, newTestServer(coach, legacy, false))

	assert.Zero(t, coach.calls)
	assert.Equal(t, 1, legacy.calls)
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventComplete, terminals[0].Type)
}

// brokenPipeWriter accepts one SSE frame, then refuses the rest, the
// way a closed client connection does.
type brokenPipeWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *brokenPipeWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("broken pipe")
	}
	return w.ResponseRecorder.Write(p)
}

func TestStreamClientGoneUnblocksPipeline(t *testing.T) {
	// Far more chunks than the event buffer holds, so the pipeline
	// must block unless the handler releases it on its way out.
	chunks := make([]string, 4*controller.DefaultEventBuffer)
	for i := range chunks {
		chunks[i] = "words"
	}
	coach := &fakeCoach{
		res:    &controller.Result{RequestID: "r3", Answer: "develop"},
		chunks: chunks,
		done:   make(chan struct{}),
	}
	s := newTestServer(coach, &fakeFallback{}, true)

	rec := &brokenPipeWriter{ResponseRecorder: httptest.NewRecorder()}
	req := httptest.NewRequest(http.MethodPost, "/v1/coach:stream", strings.NewReader(reqBody))
	s.Handler().ServeHTTP(rec, req)

	select {
	case <-coach.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline still blocked after the client went away")
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	s := newTestServer(&fakeCoach{}, &fakeFallback{}, true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/coach:stream", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/coach:stream", strings.NewReader(`{"task_id":"","text":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/coach:stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeCoach{}, &fakeFallback{}, true)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&fakeCoach{}, &fakeFallback{}, true)
	req := httptest.NewRequest(http.MethodOptions, "/v1/coach:stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
