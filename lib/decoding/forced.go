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

package decoding

import (
	"context"
	"errors"
	"fmt"
)

// ForcedParams configure forced decoding rewards. WordReward is added to
// the score for every emitted token; UnkReward is added on top when the
// emitted token is the unknown symbol. Out-of-vocabulary tokens are not an
// error, only optionally penalized here.
type ForcedParams struct {
	EOSToken   int32   `json:"eos_token"`
	UnkToken   int32   `json:"unk_token"`
	WordReward float32 `json:"word_reward"`
	UnkReward  float32 `json:"unk_reward"`
}

// ForcedResult is the score and attention trajectory of decoding a fixed
// target sequence.
type ForcedResult struct {
	// Tokens is the target sequence that was scored.
	Tokens []int32

	// Score is the final cumulative score including rewards.
	Score float32

	// StepScores holds the cumulative score after each emitted token.
	StepScores []float32

	// Attention holds one attention-weight vector per emitted token.
	Attention [][]float32
}

// ForceDecode scores a caller-supplied target sequence against the decoder
// instead of searching. It consumes the same decoder step as beam search,
// one timestep per target token, with the search's top-k selection replaced
// by the forced token.
func ForceDecode(ctx context.Context, scorer TokenScorer, target []int32, p ForcedParams) (*ForcedResult, error) {
	if len(target) == 0 {
		return nil, errors.New("decoding: empty forced target sequence")
	}

	states := scorer.InitialStates()
	if len(states) == 0 {
		return nil, ErrNoStates
	}

	res := &ForcedResult{
		Tokens:     append([]int32(nil), target...),
		StepScores: make([]float32, len(target)),
		Attention:  make([][]float32, len(target)),
	}

	prev := p.EOSToken
	var score float32
	for i, tok := range target {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logProbs, attention, next, err := scorer.ScoreTokens(ctx, []int32{prev}, states)
		if err != nil {
			return nil, fmt.Errorf("forced decoder step %d: %w", i, err)
		}
		if int(tok) >= len(logProbs[0]) || tok < 0 {
			return nil, fmt.Errorf("forced decoder step %d: token %d outside vocabulary of size %d", i, tok, len(logProbs[0]))
		}

		score += logProbs[0][tok] + p.WordReward
		if tok == p.UnkToken {
			score += p.UnkReward
		}
		res.StepScores[i] = score

		attn := make([]float32, len(attention[0]))
		copy(attn, attention[0])
		res.Attention[i] = attn

		states = next
		prev = tok
	}

	res.Score = score
	return res, nil
}
