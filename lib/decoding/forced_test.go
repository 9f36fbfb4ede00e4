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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableScorer returns fixed log-probabilities keyed by the previous
// token, so forced scores can be computed by hand.
type tableScorer struct {
	srcLen int
	table  map[int32][]float32
	calls  int
}

func (s *tableScorer) SourceLength() int { return s.srcLen }

func (s *tableScorer) InitialStates() []State {
	return []State{NewVectorState([][]float32{{0}})}
}

func (s *tableScorer) ScoreTokens(ctx context.Context, tokens []int32, states []State) ([][]float32, [][]float32, []State, error) {
	s.calls++
	attn := make([]float32, s.srcLen)
	attn[s.calls%s.srcLen] = 1
	return [][]float32{s.table[tokens[0]]}, [][]float32{attn}, states, nil
}

func TestForceDecodeScoring(t *testing.T) {
	// Vocabulary of 4; EOS=2, UNK=1.
	scorer := &tableScorer{
		srcLen: 3,
		table: map[int32][]float32{
			2: {-4.0, -3.0, -2.0, -1.0}, // after the EOS seed
			3: {-1.5, -0.5, -2.5, -3.5}, // after token 3
			1: {-1.0, -2.0, -0.25, -4.0}, // after the unk token
		},
	}
	p := ForcedParams{EOSToken: 2, UnkToken: 1, WordReward: 0.25, UnkReward: -0.5}

	res, err := ForceDecode(context.Background(), scorer, []int32{3, 1, 2}, p)
	require.NoError(t, err)

	// Step 1: logP(3|EOS) + word = -1.0 + 0.25               = -0.75
	// Step 2: + logP(1|3) + word + unk = -0.5 + 0.25 - 0.5   = -1.50
	// Step 3: + logP(2|1) + word = -0.25 + 0.25              = -1.50
	assert.InDelta(t, -0.75, res.StepScores[0], 1e-6)
	assert.InDelta(t, -1.5, res.StepScores[1], 1e-6)
	assert.InDelta(t, -1.5, res.StepScores[2], 1e-6)
	assert.InDelta(t, -1.5, res.Score, 1e-6)

	assert.Equal(t, []int32{3, 1, 2}, res.Tokens)
	require.Len(t, res.Attention, 3)
	for _, row := range res.Attention {
		assert.Len(t, row, 3)
	}
	assert.Equal(t, 3, scorer.calls)
}

func TestForceDecodeNoRewards(t *testing.T) {
	scorer := &tableScorer{
		srcLen: 2,
		table: map[int32][]float32{
			2: {-1, -2, -3},
			0: {-4, -5, -6},
		},
	}

	res, err := ForceDecode(context.Background(), scorer, []int32{0, 2}, ForcedParams{EOSToken: 2, UnkToken: 1})
	require.NoError(t, err)
	assert.InDelta(t, -1-6, res.Score, 1e-6)
}

func TestForceDecodeEmptyTarget(t *testing.T) {
	scorer := &tableScorer{srcLen: 2, table: map[int32][]float32{}}

	_, err := ForceDecode(context.Background(), scorer, nil, ForcedParams{EOSToken: 2})
	assert.Error(t, err)
}

func TestForceDecodeTokenOutOfRange(t *testing.T) {
	scorer := &tableScorer{
		srcLen: 2,
		table:  map[int32][]float32{2: {-1, -2, -3}},
	}

	_, err := ForceDecode(context.Background(), scorer, []int32{7}, ForcedParams{EOSToken: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocabulary")
}

func TestForceDecodeContextCancelled(t *testing.T) {
	scorer := &tableScorer{srcLen: 2, table: map[int32][]float32{2: {-1, -2, -3}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ForceDecode(ctx, scorer, []int32{0}, ForcedParams{EOSToken: 2})
	assert.ErrorIs(t, err, context.Canceled)
}
