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
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/beamline/lib/export"
	"github.com/antflydb/beamline/lib/vocab"
)

// TranslateRequest is the body of POST /api/translate. Either Tokens or
// Text must be set; Text requires the artifact to carry a vocabulary.
type TranslateRequest struct {
	Model            string  `json:"model"`
	Tokens           []int32 `json:"tokens,omitempty"`
	Text             string  `json:"text,omitempty"`
	NumSteps         int     `json:"num_steps,omitempty"`
	IncludeAttention bool    `json:"include_attention,omitempty"`
}

// TranslateHypothesis is one ranked candidate translation.
type TranslateHypothesis struct {
	Tokens    []int32     `json:"tokens"`
	Text      string      `json:"text,omitempty"`
	Score     float32     `json:"score"`
	RawScore  float32     `json:"raw_score"`
	Attention [][]float32 `json:"attention,omitempty"`
}

// TranslateResponse is the body of a successful translate call.
type TranslateResponse struct {
	Model      string                `json:"model"`
	Hypotheses []TranslateHypothesis `json:"hypotheses"`
}

// ScoreRequest is the body of POST /api/score: forced decoding of a
// fixed target sequence.
type ScoreRequest struct {
	Model  string  `json:"model"`
	Tokens []int32 `json:"tokens,omitempty"`
	Text   string  `json:"text,omitempty"`
	Target []int32 `json:"target"`
}

// ScoreResponse is the body of a successful score call.
type ScoreResponse struct {
	Model      string    `json:"model"`
	Score      float32   `json:"score"`
	StepScores []float32 `json:"step_scores"`
}

// ModelsResponse is the body of GET /api/models.
type ModelsResponse struct {
	Models []string `json:"models"`
	Loaded []string `json:"loaded"`
}

// VersionResponse is the body of GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// NewBeamlineAPI creates the HTTP handler for the beamline API.
func NewBeamlineAPI(logger *zap.Logger, node *BeamlineNode) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/translate", node.handleApiTranslate)
	mux.HandleFunc("POST /api/score", node.handleApiScore)
	mux.HandleFunc("GET /api/models", node.handleApiModels)
	mux.HandleFunc("GET /api/version", node.handleApiVersion)
	return mux
}

// sourceTokens resolves a request's source sequence: raw ids as given,
// or text segmented through the artifact's vocabulary. Vocabularies
// with an unknown token go through the WordPiece segmenter so subword
// pieces still resolve; the rest fall back to whitespace lookup.
func sourceTokens(d *export.Decoder, tokens []int32, text string) ([]int32, error) {
	if len(tokens) > 0 {
		return tokens, nil
	}
	if text == "" {
		return nil, fmt.Errorf("either tokens or text is required")
	}
	words := d.Config().Vocab
	if len(words) == 0 {
		return nil, fmt.Errorf("model has no vocabulary; send tokens instead of text")
	}
	v, err := vocab.New(words)
	if err != nil {
		return nil, fmt.Errorf("model vocabulary: %w", err)
	}
	if v.UnkID() >= 0 {
		seg, err := vocab.NewSegmenter(v)
		if err != nil {
			return nil, fmt.Errorf("model vocabulary: %w", err)
		}
		return seg.Segment(text)
	}
	return v.Encode(text)
}

// hypothesisText renders a hypothesis back to words when the artifact
// carries a vocabulary.
func hypothesisText(d *export.Decoder, tokens []int32) string {
	words := d.Config().Vocab
	if len(words) == 0 {
		return ""
	}
	v, err := vocab.New(words)
	if err != nil {
		return ""
	}
	text, err := v.Decode(tokens)
	if err != nil {
		return ""
	}
	return text
}

func (n *BeamlineNode) handleApiTranslate(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	var req TranslateRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	RecordTranslateRequest(req.Model)

	d, err := n.registry.Get(req.Model)
	if err != nil {
		http.Error(w, fmt.Sprintf("model not found: %s", req.Model), http.StatusNotFound)
		return
	}

	src, err := sourceTokens(d, req.Tokens, req.Text)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid input: %v", err), http.StatusBadRequest)
		return
	}

	cached := n.decodeCache.WrapDecoder(d, req.Model)
	hyps, err := cached.Translate(r.Context(), src, req.NumSteps)
	if err != nil {
		n.logger.Error("failed to translate",
			zap.String("model", req.Model),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("translating: %v", err), http.StatusInternalServerError)
		return
	}
	RecordHypothesisCreation(req.Model, len(hyps))

	resp := TranslateResponse{Model: req.Model}
	for _, hyp := range hyps {
		out := TranslateHypothesis{
			Tokens:   hyp.Tokens,
			Text:     hypothesisText(d, hyp.Tokens),
			Score:    hyp.Score,
			RawScore: hyp.RawScore,
		}
		if req.IncludeAttention {
			out.Attention = hyp.Attention
		}
		resp.Hypotheses = append(resp.Hypotheses, out)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	RecordRequestDuration("translate", req.Model, "200", time.Since(start).Seconds())
}

func (n *BeamlineNode) handleApiScore(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	var req ScoreRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if len(req.Target) == 0 {
		http.Error(w, "target is required", http.StatusBadRequest)
		return
	}
	RecordScoreRequest(req.Model)

	d, err := n.registry.Get(req.Model)
	if err != nil {
		http.Error(w, fmt.Sprintf("model not found: %s", req.Model), http.StatusNotFound)
		return
	}

	src, err := sourceTokens(d, req.Tokens, req.Text)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid input: %v", err), http.StatusBadRequest)
		return
	}

	res, err := d.ForceDecode(r.Context(), src, req.Target)
	if err != nil {
		n.logger.Error("failed to score target",
			zap.String("model", req.Model),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("scoring: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ScoreResponse{
		Model:      req.Model,
		Score:      res.Score,
		StepScores: res.StepScores,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	RecordRequestDuration("score", req.Model, "200", time.Since(start).Seconds())
}

func (n *BeamlineNode) handleApiModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Models: []string{},
		Loaded: []string{},
	}
	if n.registry != nil {
		resp.Models = n.registry.List()
		resp.Loaded = n.registry.ListLoaded()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (n *BeamlineNode) handleApiVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
