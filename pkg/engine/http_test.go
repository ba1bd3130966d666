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
package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hbos123/chessgpt/pkg/types"
)

func TestHTTPEngineEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/evaluate", r.URL.Path)
		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, startFEN, req.FEN)
		assert.Equal(t, 12, req.Depth)
		assert.Equal(t, 3, req.MultiPV)

		_ = json.NewEncoder(w).Encode(evaluateResponse{
			EvalCP: 35,
			Depth:  12,
			TimeMs: 840,
			TopMoves: []types.Candidate{
				{Move: "e2e4", EvalCP: 35, PV: []string{"e2e4", "e7e5"}},
				{Move: "d2d4", EvalCP: 30, PV: []string{"d2d4", "d7d5"}},
			},
		})
	}))
	defer srv.Close()

	eng := NewHTTPEngine(HTTPEngineConfig{BaseURL: srv.URL})
	eval, err := eng.Evaluate(context.Background(), startFEN, 12, 3)
	require.NoError(t, err)
	assert.Equal(t, 35, eval.EvalCP)
	assert.Equal(t, 12, eval.Depth)
	require.Len(t, eval.TopMoves, 2)
	assert.Equal(t, "e2e4", eval.TopMoves[0].Move)
}

func TestHTTPEngineCompareFiltersUnknownMoves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/compare", r.URL.Path)
		_ = json.NewEncoder(w).Encode(compareResponse{
			Ranked: []types.Candidate{
				{Move: "e2e4", EvalCP: 40},
				{Move: "h2h4", EvalCP: 99}, // not in the request set
				{Move: "d2d4", EvalCP: 33},
			},
		})
	}))
	defer srv.Close()

	eng := NewHTTPEngine(HTTPEngineConfig{BaseURL: srv.URL})
	ranked, err := eng.Compare(context.Background(), startFEN, []string{"e2e4", "d2d4"}, 18)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "e2e4", ranked[0].Move)
	assert.Equal(t, "d2d4", ranked[1].Move)
}

func TestHTTPEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := NewHTTPEngine(HTTPEngineConfig{BaseURL: srv.URL})
	_, err := eng.Evaluate(context.Background(), startFEN, 12, 3)
	require.Error(t, err)

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "evaluate", adapterErr.Op)
}

func TestHTTPEngineUnreachable(t *testing.T) {
	eng := NewHTTPEngine(HTTPEngineConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := eng.Evaluate(context.Background(), startFEN, 12, 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBuildFactsCertainty(t *testing.T) {
	eval := &Evaluation{
		FEN:    startFEN,
		EvalCP: 35,
		Depth:  14,
		TopMoves: []types.Candidate{
			{Move: "e2e4", EvalCP: 35},
			{Move: "d2d4", EvalCP: 30},
			{Move: "g1f3", EvalCP: 5},
		},
	}
	facts := BuildFacts(eval, nil)
	assert.Equal(t, 14, facts.Certainty.Depth)
	assert.Equal(t, 30, facts.Certainty.PVSpreadCP)
	assert.True(t, facts.HasMove("g1f3"))
	assert.False(t, facts.HasMove("h2h4"))

	single := BuildFacts(&Evaluation{TopMoves: []types.Candidate{{Move: "e2e4"}}}, nil)
	assert.Equal(t, 0, single.Certainty.PVSpreadCP)
}
