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
package types

import "encoding/json"

// EventType tags an event on the request's outbound stream.
// Consumers must ignore types they do not recognize.
type EventType string

const (
	// EventStatus reports a pipeline phase change.
	EventStatus EventType = "status"

	// EventFactsReady carries the committed FactsPacket. It always precedes
	// the first explainer chunk so the UI can render the board state before
	// any prose arrives.
	EventFactsReady EventType = "facts_ready"

	// EventExplainerChunk carries one streamed prose fragment.
	EventExplainerChunk EventType = "explainer_chunk"

	// EventComplete is the terminal event of a successful request.
	EventComplete EventType = "complete"

	// EventError is the terminal event when neither the controller nor the
	// fallback pipeline could produce a response.
	EventError EventType = "error"
)

// Event is one entry on a request's ordered outbound stream. Sequence
// numbers are monotonic within a request and define replay order.
type Event struct {
	Type    EventType       `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StatusPayload is the payload of an EventStatus event.
type StatusPayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// FactsReadyPayload is the payload of an EventFactsReady event.
type FactsReadyPayload struct {
	Facts *FactsPacket `json:"facts"`
}

// ChunkPayload is the payload of an EventExplainerChunk event.
type ChunkPayload struct {
	Text string `json:"text"`
}

// CompletePayload is the payload of an EventComplete event.
type CompletePayload struct {
	RequestID string `json:"request_id"`

	// Answer is the full user-facing text (chunks already streamed).
	Answer string `json:"answer"`

	// Confidence is the ceiling the answer was produced under.
	Confidence Confidence `json:"confidence,omitempty"`

	// Fallback is true when the legacy pipeline produced the answer.
	Fallback bool `json:"fallback,omitempty"`
}

// ErrorPayload is the payload of an EventError event.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
