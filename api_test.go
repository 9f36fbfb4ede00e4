// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package beamline

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNode(t *testing.T, models ...string) *BeamlineNode {
	t.Helper()
	registry := newTestRegistry(t, models...)
	dc := NewDecodeCache(nil)
	t.Cleanup(dc.Close)
	return &BeamlineNode{
		logger:      zap.NewNop(),
		registry:    registry,
		decodeCache: dc,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := sonic.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestApiTranslate(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	rec := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model:  "alpha",
		Tokens: []int32{3, 4, 5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranslateResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alpha", resp.Model)
	require.NotEmpty(t, resp.Hypotheses)
	for i, hyp := range resp.Hypotheses {
		assert.NotEmpty(t, hyp.Tokens)
		assert.Nil(t, hyp.Attention)
		if i > 0 {
			assert.LessOrEqual(t, hyp.Score, resp.Hypotheses[i-1].Score)
		}
	}
}

func TestApiTranslateWithText(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	rec := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model: "alpha",
		Text:  "the cat sat",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranslateResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Hypotheses)
	// The artifact carries a vocabulary, so hypotheses render to words.
	for _, hyp := range resp.Hypotheses {
		if len(hyp.Tokens) > 1 {
			assert.NotEmpty(t, hyp.Text)
		}
	}
}

// TestApiTranslateTextSegmentation pins the text path through the
// WordPiece segmenter: requests fold case and map unknown words to the
// unknown token, matching the equivalent raw-token request.
func TestApiTranslateTextSegmentation(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	byTokens := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model:  "alpha",
		Tokens: []int32{3, 4, 5},
	})
	require.Equal(t, http.StatusOK, byTokens.Code)

	byText := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model: "alpha",
		Text:  "The CAT sat",
	})
	require.Equal(t, http.StatusOK, byText.Code)

	var want, got TranslateResponse
	require.NoError(t, sonic.Unmarshal(byTokens.Body.Bytes(), &want))
	require.NoError(t, sonic.Unmarshal(byText.Body.Bytes(), &got))
	assert.Equal(t, want.Hypotheses, got.Hypotheses)

	// Out-of-vocabulary words segment to <unk> instead of failing.
	oov := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model: "alpha",
		Text:  "the zebra sat",
	})
	require.Equal(t, http.StatusOK, oov.Code)
}

func TestApiTranslateWithAttention(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	rec := postJSON(t, handler, "/api/translate", TranslateRequest{
		Model:            "alpha",
		Tokens:           []int32{3, 4, 5},
		IncludeAttention: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranslateResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Hypotheses)
	hyp := resp.Hypotheses[0]
	require.Len(t, hyp.Attention, len(hyp.Tokens))
	for _, row := range hyp.Attention {
		assert.Len(t, row, 3)
	}
}

func TestApiTranslateErrors(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	tests := []struct {
		name string
		req  TranslateRequest
		code int
	}{
		{"missing model", TranslateRequest{Tokens: []int32{1}}, http.StatusBadRequest},
		{"unknown model", TranslateRequest{Model: "nope", Tokens: []int32{1}}, http.StatusNotFound},
		{"no input", TranslateRequest{Model: "alpha"}, http.StatusBadRequest},
		{"token outside vocabulary", TranslateRequest{Model: "alpha", Tokens: []int32{999}}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/translate", tt.req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestApiTranslateMalformedBody(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	req := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiScore(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	rec := postJSON(t, handler, "/api/score", ScoreRequest{
		Model:  "alpha",
		Tokens: []int32{3, 4, 5},
		Target: []int32{6, 7, 2},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScoreResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alpha", resp.Model)
	require.Len(t, resp.StepScores, 3)
	assert.Equal(t, resp.StepScores[2], resp.Score)
}

func TestApiScoreErrors(t *testing.T) {
	node := newTestNode(t, "alpha")
	handler := NewBeamlineAPI(node.logger, node)

	rec := postJSON(t, handler, "/api/score", ScoreRequest{Model: "alpha", Tokens: []int32{3}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/api/score", ScoreRequest{Model: "nope", Tokens: []int32{3}, Target: []int32{2}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApiModels(t *testing.T) {
	node := newTestNode(t, "alpha", "beta")
	handler := NewBeamlineAPI(node.logger, node)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelsResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alpha", "beta"}, resp.Models)
	assert.Empty(t, resp.Loaded)

	// Loading a model shows up in the loaded list.
	_, err := node.registry.Get("alpha")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alpha"}, resp.Loaded)
}

func TestApiVersion(t *testing.T) {
	node := newTestNode(t)
	handler := NewBeamlineAPI(node.logger, node)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHealthEndpoints(t *testing.T) {
	node := newTestNode(t, "alpha")

	rec := httptest.NewRecorder()
	node.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	node.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var ready ReadyResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 1, ready.Models.Discovered)
}

func TestReadyzNoModels(t *testing.T) {
	node := newTestNode(t)

	rec := httptest.NewRecorder()
	node.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCorsMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/models", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
