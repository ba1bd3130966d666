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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/controller"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// handleCoachStream answers one coaching request as an SSE stream.
func (s *Server) handleCoachStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.CoachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TaskID) == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "task_id and text are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	em := controller.NewEmitter(controller.DefaultEventBuffer, s.logger)
	// Cancel releases any pipeline stage blocked on the event buffer
	// once this handler stops consuming, whatever the exit path.
	defer em.Cancel()
	go s.dispatch(r.Context(), &req, em)

	for event := range em.Events() {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to marshal event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("client disconnected mid-stream", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

// dispatch runs the primary pipeline and owns the terminal-event
// guarantee: exactly one of a controller complete, a fallback complete,
// or a single error reaches the stream, and fallback runs at most once.
func (s *Server) dispatch(ctx context.Context, req *types.CoachRequest, em *controller.Emitter) {
	defer em.Close()

	if s.cfg.ControllerEnabled {
		res, err := s.coach.Run(ctx, req, em)
		if err == nil {
			em.Complete(types.CompletePayload{
				RequestID:  res.RequestID,
				Answer:     res.Answer,
				Confidence: res.Confidence,
			})
			return
		}
		// Controller state is discarded wholesale; the fallback starts
		// from the raw request.
		s.logger.Error("controller failed, dispatching fallback",
			zap.String("task_id", req.TaskID), zap.Error(err))
	}

	res, err := s.legacy.Run(ctx, req)
	if err != nil {
		s.logger.Error("fallback pipeline failed",
			zap.String("task_id", req.TaskID), zap.Error(err))
		em.Error("fallback_failed", "unable to answer this request")
		return
	}
	em.Complete(types.CompletePayload{
		RequestID:  res.RequestID,
		Answer:     res.Answer,
		Confidence: res.Confidence,
		Fallback:   true,
	})
}
