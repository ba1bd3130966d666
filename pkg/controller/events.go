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
package controller

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// DefaultEventBuffer is the bounded buffer between producer stages and
// the transport consumer.
const DefaultEventBuffer = 64

// Emitter is the single ordered outbound channel for one request.
// Stages produce, the transport consumes. Sequence numbers are assigned
// here so ordering is defined by emission order, and the terminal event
// (complete or error) is emitted at most once no matter how many paths
// race to finish the request.
type Emitter struct {
	ch       chan types.Event
	done     chan struct{}
	seq      atomic.Uint64
	terminal atomic.Bool
	closed   atomic.Bool
	canceled atomic.Bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int, logger *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		ch:     make(chan types.Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Events is the consumer side. It is closed by Close.
func (e *Emitter) Events() <-chan types.Event {
	return e.ch
}

func (e *Emitter) emit(eventType types.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to marshal event payload",
			zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() || e.canceled.Load() {
		return
	}
	// The send must never block a producer whose consumer has gone
	// away: Cancel unblocks it and the event is dropped.
	select {
	case e.ch <- types.Event{
		Type:    eventType,
		Seq:     e.seq.Add(1),
		Payload: raw,
	}:
	case <-e.done:
	}
}

// Status emits a status event for a pipeline phase.
func (e *Emitter) Status(phase, message string) {
	if e.terminal.Load() {
		return
	}
	e.emit(types.EventStatus, types.StatusPayload{Phase: phase, Message: message})
}

// FactsReady publishes the facts packet. It must be called before the
// first Chunk of the same request.
func (e *Emitter) FactsReady(facts *types.FactsPacket) {
	if e.terminal.Load() {
		return
	}
	e.emit(types.EventFactsReady, types.FactsReadyPayload{Facts: facts})
}

// Chunk forwards one streamed prose fragment.
func (e *Emitter) Chunk(text string) {
	if e.terminal.Load() {
		return
	}
	e.emit(types.EventExplainerChunk, types.ChunkPayload{Text: text})
}

// Complete emits the terminal success event. Returns false if a
// terminal event was already emitted.
func (e *Emitter) Complete(payload types.CompletePayload) bool {
	if !e.terminal.CompareAndSwap(false, true) {
		e.logger.Warn("duplicate terminal event dropped",
			zap.String("request_id", payload.RequestID))
		return false
	}
	e.emit(types.EventComplete, payload)
	return true
}

// Error emits the terminal error event. Returns false if a terminal
// event was already emitted.
func (e *Emitter) Error(kind, message string) bool {
	if !e.terminal.CompareAndSwap(false, true) {
		e.logger.Warn("duplicate terminal event dropped", zap.String("kind", kind))
		return false
	}
	e.emit(types.EventError, types.ErrorPayload{Kind: kind, Message: message})
	return true
}

// Cancel releases any producer blocked on a full buffer and drops all
// further emissions. The transport calls it when the consumer goes away
// mid-stream, so upstream production can wind down instead of leaking.
// It deliberately takes no mutex: the blocked producer holds it.
func (e *Emitter) Cancel() {
	if e.canceled.CompareAndSwap(false, true) {
		close(e.done)
	}
}

// Close stops the stream. Emissions after Close are dropped.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.CompareAndSwap(false, true) {
		close(e.ch)
	}
}
