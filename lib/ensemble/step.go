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

package ensemble

import (
	"context"
	"fmt"
	"sort"

	"github.com/antflydb/beamline/lib/decoding"
	"go.uber.org/zap"
)

// DecoderStep is the batched beam-search decoder step over an ensemble
// encoding. It implements both decoding.Stepper (top-k beam selection) and
// decoding.TokenScorer (raw vocabulary scores, used by forced decoding).
type DecoderStep struct {
	enc       *Encoding
	beamWidth int
	logger    *zap.Logger

	// Optional candidate restriction; nil means every token competes.
	allowed      []bool
	allowedCount int
}

var (
	_ decoding.Stepper     = (*DecoderStep)(nil)
	_ decoding.TokenScorer = (*DecoderStep)(nil)
)

// NewDecoderStep creates a decoder step bound to one encoded source
// sentence with a fixed beam width.
func NewDecoderStep(enc *Encoding, beamWidth int, logger *zap.Logger) (*DecoderStep, error) {
	if enc == nil || len(enc.members) == 0 {
		return nil, ErrEmptyEnsemble
	}
	if beamWidth < 1 {
		return nil, fmt.Errorf("ensemble: beam width %d, must be at least 1", beamWidth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecoderStep{enc: enc, beamWidth: beamWidth, logger: logger}, nil
}

// Restrict limits beam candidates to the given token ids, the reduced
// output vocabulary of this source sentence. Scoring is unchanged:
// restricted tokens are skipped during top-k selection, and forced
// decoding through ScoreTokens ignores the restriction. The set must
// include the end-of-sequence token for search to terminate early.
// An empty set clears the restriction.
func (d *DecoderStep) Restrict(allowed []int32) error {
	if len(allowed) == 0 {
		d.allowed = nil
		d.allowedCount = 0
		return nil
	}
	mask := make([]bool, d.enc.vocab)
	count := 0
	for _, tok := range allowed {
		if tok < 0 || int(tok) >= d.enc.vocab {
			return fmt.Errorf("ensemble: allowed token %d outside vocabulary of %d", tok, d.enc.vocab)
		}
		if !mask[tok] {
			mask[tok] = true
			count++
		}
	}
	if count < d.beamWidth {
		return fmt.Errorf("ensemble: %d allowed tokens for beam width %d", count, d.beamWidth)
	}
	d.allowed = mask
	d.allowedCount = count
	return nil
}

// SourceLength is the length of the encoded source sequence.
func (d *DecoderStep) SourceLength() int { return d.enc.srcLen }

// BeamWidth is the fixed beam width of this decoder step.
func (d *DecoderStep) BeamWidth() int { return d.beamWidth }

// InitialStates returns each member's width-1 initial decoder state.
func (d *DecoderStep) InitialStates() []decoding.State {
	states := make([]decoding.State, len(d.enc.members))
	for i, m := range d.enc.members {
		states[i] = m.InitialState()
	}
	return states
}

// ScoreTokens scores all vocabulary tokens for each input slot, averaging
// log-probabilities and attention across the ensemble members in fixed
// member order.
func (d *DecoderStep) ScoreTokens(ctx context.Context, tokens []int32, states []decoding.State) (logProbs, attention [][]float32, next []decoding.State, err error) {
	if len(states) != len(d.enc.members) {
		return nil, nil, nil, fmt.Errorf("ensemble: %d states for %d members: %w", len(states), len(d.enc.members), decoding.ErrWidthMismatch)
	}
	width := len(tokens)
	for i, st := range states {
		if st.Width() != width {
			return nil, nil, nil, fmt.Errorf("ensemble: member %d state width %d, beam width %d: %w", i, st.Width(), width, decoding.ErrWidthMismatch)
		}
	}

	next = make([]decoding.State, len(d.enc.members))
	inv := 1 / float32(len(d.enc.members))
	for i, m := range d.enc.members {
		lp, at, st, err := m.Step(tokens, states[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ensemble: member %d step: %w", i, err)
		}
		if logProbs == nil {
			logProbs = zeros(width, len(lp[0]))
			attention = zeros(width, len(at[0]))
		}
		for r := 0; r < width; r++ {
			for c, v := range lp[r] {
				logProbs[r][c] += v * inv
			}
			for c, v := range at[r] {
				attention[r][c] += v * inv
			}
		}
		next[i] = st
	}
	return logProbs, attention, next, nil
}

// Step runs one batched beam-search timestep: score all candidates, keep
// the top beamWidth by combined score, and align the recurrent states to
// the surviving hypotheses.
//
// Candidate ordering among equal scores is stable (lower previous slot,
// then lower token id), so the step is deterministic.
func (d *DecoderStep) Step(ctx context.Context, in *decoding.StepInputs) (*decoding.StepOutputs, error) {
	width := len(in.Tokens)
	if width != 1 && width != d.beamWidth {
		return nil, fmt.Errorf("ensemble: %d input tokens for beam width %d: %w", width, d.beamWidth, decoding.ErrWidthMismatch)
	}
	if len(in.PrevScores) != width {
		return nil, fmt.Errorf("ensemble: %d scores for %d tokens: %w", len(in.PrevScores), width, decoding.ErrWidthMismatch)
	}
	if len(in.States) == 0 {
		return nil, decoding.ErrNoStates
	}

	logProbs, attention, next, err := d.ScoreTokens(ctx, in.Tokens, in.States)
	if err != nil {
		return nil, err
	}

	vocab := len(logProbs[0])
	perSlot := vocab
	if d.allowed != nil {
		perSlot = d.allowedCount
	}
	if width*perSlot < d.beamWidth {
		return nil, fmt.Errorf("ensemble: %d candidates for beam width %d", width*perSlot, d.beamWidth)
	}
	type candidate struct {
		score float32
		slot  int32
		token int32
	}
	cands := make([]candidate, 0, width*perSlot)
	for r := 0; r < width; r++ {
		for v := 0; v < vocab; v++ {
			if d.allowed != nil && !d.allowed[v] {
				continue
			}
			cands = append(cands, candidate{
				score: in.PrevScores[r] + logProbs[r][v],
				slot:  int32(r),
				token: int32(v),
			})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].slot != cands[j].slot {
			return cands[i].slot < cands[j].slot
		}
		return cands[i].token < cands[j].token
	})

	out := &decoding.StepOutputs{
		Tokens:      make([]int32, d.beamWidth),
		Scores:      make([]float32, d.beamWidth),
		PrevIndices: make([]int32, d.beamWidth),
		Attention:   make([][]float32, d.beamWidth),
		Timestep:    in.Timestep + 1,
	}
	for k := 0; k < d.beamWidth; k++ {
		c := cands[k]
		out.Tokens[k] = c.token
		out.Scores[k] = c.score
		out.PrevIndices[k] = c.slot
		attn := make([]float32, len(attention[c.slot]))
		copy(attn, attention[c.slot])
		out.Attention[k] = attn
	}

	// The first step runs at width 1 and every backpointer is 0: the
	// states stay width 1 and the driver tiles them. At full width the
	// states are gathered to follow the surviving hypotheses.
	if width == d.beamWidth {
		for i := range next {
			next[i] = next[i].Gather(out.PrevIndices)
		}
	}
	out.States = next

	return out, nil
}

func zeros(rows, cols int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = make([]float32, cols)
	}
	return out
}
