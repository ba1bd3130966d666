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
package session

import (
	"context"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// keyContextKey is the context key for session keys
type keyContextKey struct{}

// requestIDKey is the context key for request IDs
type requestIDKey struct{}

// WithKey injects a session key into the context
func WithKey(ctx context.Context, key types.SessionKey) context.Context {
	if key.TaskID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext extracts the session key from the context.
// The second return is false if none was set.
func KeyFromContext(ctx context.Context) (types.SessionKey, bool) {
	key, ok := ctx.Value(keyContextKey{}).(types.SessionKey)
	return key, ok
}

// WithRequestID injects a request ID into the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from the context
// Returns empty string if not found
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}
