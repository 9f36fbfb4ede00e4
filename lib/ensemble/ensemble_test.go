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

package ensemble_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/beamline/lib/decoding"
	"github.com/antflydb/beamline/lib/ensemble"
	"github.com/antflydb/beamline/lib/nmt"
)

func buildModels(t *testing.T, n int) []ensemble.Model {
	t.Helper()
	models := make([]ensemble.Model, n)
	for i := range models {
		m, err := nmt.New(nmt.Params{VocabSize: 13, EmbedDim: 5, HiddenDim: 7, Seed: uint64(i + 1)})
		require.NoError(t, err)
		models[i] = m
	}
	return models
}

func buildStep(t *testing.T, n, beamWidth int, src []int32) *ensemble.DecoderStep {
	t.Helper()
	enc, err := ensemble.NewEncoder(buildModels(t, n), nil)
	require.NoError(t, err)
	encoding, err := enc.Encode(context.Background(), src)
	require.NoError(t, err)
	step, err := ensemble.NewDecoderStep(encoding, beamWidth, nil)
	require.NoError(t, err)
	return step
}

// TestDriverMatchesManualStepping pins the core contract: running the
// search driver for N steps yields exactly the trajectory obtained by
// invoking the decoder step N times by hand with explicitly threaded
// state, including the width-1 to beam-width state tiling after the
// first step.
func TestDriverMatchesManualStepping(t *testing.T) {
	const (
		beamWidth = 5
		eos       = int32(2)
		numSteps  = 4
	)
	src := []int32{1, 2, 3, 4, 5}
	ctx := context.Background()

	driven := buildStep(t, 3, beamWidth, src)
	traj, err := decoding.Search(ctx, driven, decoding.Params{
		BeamWidth: beamWidth,
		EOSToken:  eos,
		MaxSteps:  numSteps,
	})
	require.NoError(t, err)
	require.Equal(t, numSteps, traj.Steps())

	manual := buildStep(t, 3, beamWidth, src)
	tokens := []int32{eos}
	scores := []float32{0}
	states := manual.InitialStates()

	for step := 0; step < numSteps; step++ {
		out, err := manual.Step(ctx, &decoding.StepInputs{
			Tokens:     tokens,
			PrevScores: scores,
			Timestep:   step,
			States:     states,
		})
		require.NoError(t, err)

		snap := traj[step+1]
		assert.Equal(t, snap.Tokens, out.Tokens, "step %d tokens", step)
		assert.Equal(t, snap.Scores, out.Scores, "step %d scores", step)
		assert.Equal(t, snap.PrevIndices, out.PrevIndices, "step %d backpointers", step)
		assert.Equal(t, snap.Attention, out.Attention, "step %d attention", step)

		tokens = out.Tokens
		scores = out.Scores
		states = out.States
		if step == 0 {
			for i := range states {
				states[i] = states[i].Tile(beamWidth)
			}
		}
	}
}

func TestStepShapeInvariants(t *testing.T) {
	const beamWidth = 5
	step := buildStep(t, 3, beamWidth, []int32{1, 2, 3, 4})
	ctx := context.Background()

	assert.Equal(t, 4, step.SourceLength())
	assert.Equal(t, beamWidth, step.BeamWidth())

	states := step.InitialStates()
	require.Len(t, states, 3)
	for _, s := range states {
		assert.Equal(t, 1, s.Width())
	}

	out, err := step.Step(ctx, &decoding.StepInputs{
		Tokens:     []int32{2},
		PrevScores: []float32{0},
		Timestep:   0,
		States:     states,
	})
	require.NoError(t, err)

	assert.Len(t, out.Tokens, beamWidth)
	assert.Len(t, out.Scores, beamWidth)
	assert.Len(t, out.PrevIndices, beamWidth)
	require.Len(t, out.Attention, beamWidth)
	for _, row := range out.Attention {
		assert.Len(t, row, 4)
	}
	assert.Equal(t, 1, out.Timestep)

	// Scores come out sorted, constrained to the width-1 input slot.
	for k := 1; k < beamWidth; k++ {
		assert.LessOrEqual(t, out.Scores[k], out.Scores[k-1])
	}
	for _, prev := range out.PrevIndices {
		assert.Equal(t, int32(0), prev)
	}

	// First step leaves the states at width 1 for the driver to tile.
	for _, s := range out.States {
		assert.Equal(t, 1, s.Width())
	}
}

func TestStepDeterministic(t *testing.T) {
	run := func() *decoding.StepOutputs {
		step := buildStep(t, 2, 4, []int32{3, 1, 4, 1, 5})
		out, err := step.Step(context.Background(), &decoding.StepInputs{
			Tokens:     []int32{2},
			PrevScores: []float32{0},
			States:     step.InitialStates(),
		})
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, run(), run())
}

func TestSingleModelDegeneracy(t *testing.T) {
	models := buildModels(t, 1)
	ctx := context.Background()

	enc, err := ensemble.NewEncoder(models, nil)
	require.NoError(t, err)
	encoding, err := enc.Encode(ctx, []int32{1, 2, 3})
	require.NoError(t, err)
	step, err := ensemble.NewDecoderStep(encoding, 2, nil)
	require.NoError(t, err)

	lp, at, _, err := step.ScoreTokens(ctx, []int32{2}, step.InitialStates())
	require.NoError(t, err)

	// A single-member ensemble scores identically to the bare model.
	srcEnc, err := models[0].Encode(ctx, []int32{1, 2, 3})
	require.NoError(t, err)
	wantLP, wantAt, _, err := srcEnc.Step([]int32{2}, srcEnc.InitialState())
	require.NoError(t, err)

	require.Len(t, lp, 1)
	for c := range lp[0] {
		assert.InDelta(t, wantLP[0][c], lp[0][c], 1e-6)
	}
	for c := range at[0] {
		assert.InDelta(t, wantAt[0][c], at[0][c], 1e-6)
	}
}

func TestIdenticalMembersAverageToThemselves(t *testing.T) {
	ctx := context.Background()
	same := make([]ensemble.Model, 3)
	for i := range same {
		m, err := nmt.New(nmt.Params{VocabSize: 13, EmbedDim: 5, HiddenDim: 7, Seed: 9})
		require.NoError(t, err)
		same[i] = m
	}

	enc, err := ensemble.NewEncoder(same, nil)
	require.NoError(t, err)
	encoding, err := enc.Encode(ctx, []int32{1, 2})
	require.NoError(t, err)
	step, err := ensemble.NewDecoderStep(encoding, 2, nil)
	require.NoError(t, err)

	lp, _, _, err := step.ScoreTokens(ctx, []int32{2}, step.InitialStates())
	require.NoError(t, err)

	srcEnc, err := same[0].Encode(ctx, []int32{1, 2})
	require.NoError(t, err)
	wantLP, _, _, err := srcEnc.Step([]int32{2}, srcEnc.InitialState())
	require.NoError(t, err)

	for c := range lp[0] {
		assert.InDelta(t, wantLP[0][c], lp[0][c], 1e-5)
	}
}

func TestNewEncoderValidation(t *testing.T) {
	_, err := ensemble.NewEncoder(nil, nil)
	assert.ErrorIs(t, err, ensemble.ErrEmptyEnsemble)

	small, err := nmt.New(nmt.Params{VocabSize: 5, EmbedDim: 2, HiddenDim: 2, Seed: 1})
	require.NoError(t, err)
	big, err := nmt.New(nmt.Params{VocabSize: 7, EmbedDim: 2, HiddenDim: 2, Seed: 1})
	require.NoError(t, err)

	_, err = ensemble.NewEncoder([]ensemble.Model{small, big}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocabulary")
}

func TestEncodeEmptySource(t *testing.T) {
	enc, err := ensemble.NewEncoder(buildModels(t, 2), nil)
	require.NoError(t, err)

	_, err = enc.Encode(context.Background(), nil)
	assert.Error(t, err)
}

func TestStepWidthErrors(t *testing.T) {
	step := buildStep(t, 2, 3, []int32{1, 2, 3})
	ctx := context.Background()

	// Wrong input width: neither 1 nor the beam width.
	_, err := step.Step(ctx, &decoding.StepInputs{
		Tokens:     []int32{2, 3},
		PrevScores: []float32{0, 0},
		States:     step.InitialStates(),
	})
	assert.ErrorIs(t, err, decoding.ErrWidthMismatch)

	// Scores not matching tokens.
	_, err = step.Step(ctx, &decoding.StepInputs{
		Tokens:     []int32{2},
		PrevScores: []float32{0, 0},
		States:     step.InitialStates(),
	})
	assert.ErrorIs(t, err, decoding.ErrWidthMismatch)

	// No states at all.
	_, err = step.Step(ctx, &decoding.StepInputs{
		Tokens:     []int32{2},
		PrevScores: []float32{0},
	})
	assert.ErrorIs(t, err, decoding.ErrNoStates)

	// Wrong state count for the ensemble.
	_, _, _, err = step.ScoreTokens(ctx, []int32{2}, step.InitialStates()[:1])
	assert.ErrorIs(t, err, decoding.ErrWidthMismatch)
}

func TestNewDecoderStepValidation(t *testing.T) {
	_, err := ensemble.NewDecoderStep(nil, 3, nil)
	assert.ErrorIs(t, err, ensemble.ErrEmptyEnsemble)

	enc, err := ensemble.NewEncoder(buildModels(t, 1), nil)
	require.NoError(t, err)
	encoding, err := enc.Encode(context.Background(), []int32{1})
	require.NoError(t, err)

	_, err = ensemble.NewDecoderStep(encoding, 0, nil)
	assert.Error(t, err)
}

// TestRestrictedSearchStaysInAllowedSet checks that a reduced output
// vocabulary keeps every surviving hypothesis inside the allowed set
// across the whole search.
func TestRestrictedSearchStaysInAllowedSet(t *testing.T) {
	const beamWidth = 4
	src := []int32{1, 2, 3, 4}
	allowed := []int32{2, 5, 6, 7, 8}

	step := buildStep(t, 2, beamWidth, src)
	require.NoError(t, step.Restrict(allowed))

	traj, err := decoding.Search(context.Background(), step, decoding.Params{
		BeamWidth: beamWidth,
		EOSToken:  2,
		MaxSteps:  3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, traj.Steps())

	set := make(map[int32]bool, len(allowed))
	for _, tok := range allowed {
		set[tok] = true
	}
	for s, snap := range traj[1:] {
		for _, tok := range snap.Tokens {
			assert.True(t, set[tok], "step %d token %d outside allowed set", s, tok)
		}
	}
}

// TestRestrictFullVocabularyMatchesUnrestricted pins the degenerate
// case: allowing every token must reproduce the unrestricted search
// exactly.
func TestRestrictFullVocabularyMatchesUnrestricted(t *testing.T) {
	const beamWidth = 4
	src := []int32{1, 2, 3, 4, 5}
	ctx := context.Background()

	plain := buildStep(t, 2, beamWidth, src)
	restricted := buildStep(t, 2, beamWidth, src)
	all := make([]int32, 13)
	for i := range all {
		all[i] = int32(i)
	}
	require.NoError(t, restricted.Restrict(all))

	params := decoding.Params{BeamWidth: beamWidth, EOSToken: 2, MaxSteps: 3}
	want, err := decoding.Search(ctx, plain, params)
	require.NoError(t, err)
	got, err := decoding.Search(ctx, restricted, params)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestrictValidation(t *testing.T) {
	step := buildStep(t, 1, 4, []int32{1, 2, 3})

	assert.Error(t, step.Restrict([]int32{2, 5, 99, 7}), "token beyond vocabulary")
	assert.Error(t, step.Restrict([]int32{-1, 2, 3, 4}), "negative token")
	// Duplicates collapse, so four ids can still undershoot the beam.
	assert.Error(t, step.Restrict([]int32{2, 2, 3, 4}), "fewer distinct tokens than beam width")
	require.NoError(t, step.Restrict([]int32{2, 3, 4, 5}))
	require.NoError(t, step.Restrict(nil))
}
