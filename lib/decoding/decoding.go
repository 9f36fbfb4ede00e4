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

// Package decoding implements incremental beam-search decoding over
// encoder-decoder translation models.
//
// The package separates the search from the model: a Stepper produces one
// decoder timestep (next-token candidates, scores, backpointers, attention,
// updated recurrent state) and the Search driver threads state through
// repeated steps, accumulating a Trajectory. Running the driver for N steps
// is guaranteed to produce the same trajectory as invoking the Stepper N
// times by hand with correctly threaded state.
package decoding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoStates is returned when a step is invoked without recurrent state.
	ErrNoStates = errors.New("decoding: no recurrent states supplied")

	// ErrWidthMismatch is returned when the beam width implied by the step
	// inputs does not match the width of the supplied recurrent state.
	// This is a configuration error and is not recoverable.
	ErrWidthMismatch = errors.New("decoding: beam width does not match state width")
)

// State is an opaque per-model recurrent state threaded through decoder
// steps. State starts at width 1 (the single seed hypothesis) and is tiled
// to the full beam width after the first step.
type State interface {
	// Width is the number of hypothesis slots this state covers.
	Width() int

	// Tile replicates the state to the given width. Tiling a state that
	// already has the requested width returns the state unchanged.
	Tile(width int) State

	// Gather reorders the state rows so that output slot k continues the
	// hypothesis at input slot indices[k].
	Gather(indices []int32) State
}

// StepInputs are the inputs to one decoder timestep.
type StepInputs struct {
	// Tokens holds the current beam tokens: length 1 at timestep 0 (the
	// end-of-sequence seed), beam width afterwards.
	Tokens []int32

	// PrevScores holds the cumulative log-probability score per slot,
	// same length as Tokens.
	PrevScores []float32

	// Timestep is the current timestep, starting at 0.
	Timestep int

	// States holds one recurrent state per ensemble member.
	States []State
}

// StepOutputs are the outputs of one decoder timestep. All slices have
// length equal to the beam width.
type StepOutputs struct {
	// Tokens are the chosen next tokens per beam slot.
	Tokens []int32

	// Scores are the updated cumulative scores per beam slot.
	Scores []float32

	// PrevIndices are backpointers into the previous beam: slot k extends
	// the hypothesis that occupied slot PrevIndices[k].
	PrevIndices []int32

	// Attention holds one attention-weight vector per beam slot, each of
	// length equal to the source sequence length.
	Attention [][]float32

	// States holds the updated recurrent state per ensemble member,
	// already aligned to the output beam slots. After the first step the
	// states still have width 1 and must be tiled by the caller.
	States []State

	// Timestep is the input timestep incremented by one.
	Timestep int
}

// Stepper produces one decoder timestep for a fixed source sentence.
type Stepper interface {
	// SourceLength is the length of the encoded source sequence.
	SourceLength() int

	// InitialStates returns the width-1 recurrent state per ensemble
	// member used to seed the decode.
	InitialStates() []State

	// Step runs one decoder timestep. Shape mismatches between the beam
	// inputs and the recurrent state are fatal configuration errors.
	Step(ctx context.Context, in *StepInputs) (*StepOutputs, error)
}

// TokenScorer exposes the raw per-token log-probabilities of the decoder
// step, used by forced decoding where the next token is dictated by the
// caller instead of selected by the search.
type TokenScorer interface {
	// SourceLength is the length of the encoded source sequence.
	SourceLength() int

	// InitialStates returns the width-1 recurrent state per ensemble
	// member used to seed the decode.
	InitialStates() []State

	// ScoreTokens returns log-probabilities over the full vocabulary and
	// attention weights for each input slot, plus the updated states.
	ScoreTokens(ctx context.Context, tokens []int32, states []State) (logProbs, attention [][]float32, next []State, err error)
}

// Params configure one decode. Beam width is fixed for the lifetime of a
// decode.
type Params struct {
	// BeamWidth is the number of parallel hypotheses retained per step.
	BeamWidth int `json:"beam_width"`

	// EOSToken is the end-of-sequence token id. It seeds the decode and,
	// when StopAtEOS is set, terminates it.
	EOSToken int32 `json:"eos_token"`

	// MaxSteps is the step budget.
	MaxSteps int `json:"max_steps"`

	// StopAtEOS stops the search early once every beam slot holds the
	// end-of-sequence token.
	StopAtEOS bool `json:"stop_at_eos"`

	// LengthPenalty normalizes final hypothesis scores by length^penalty.
	// Zero means no normalization.
	LengthPenalty float32 `json:"length_penalty"`

	// NBest is how many top hypotheses to return at completion. Values
	// below 1 are treated as 1.
	NBest int `json:"nbest"`
}

func (p Params) validate() error {
	if p.BeamWidth < 1 {
		return fmt.Errorf("decoding: beam width %d, must be at least 1", p.BeamWidth)
	}
	if p.MaxSteps < 1 {
		return fmt.Errorf("decoding: step budget %d, must be at least 1", p.MaxSteps)
	}
	return nil
}

// Snapshot is the per-timestep record of the search: one entry per beam
// slot, except at timestep 0 where only the single seed hypothesis exists.
type Snapshot struct {
	Tokens      []int32
	Scores      []float32
	PrevIndices []int32
	Attention   [][]float32
}

// Width is the number of beam slots recorded in this snapshot.
func (s Snapshot) Width() int { return len(s.Tokens) }

// Trajectory is the full audit trail of a decode: steps+1 snapshots,
// indexed by timestep then beam slot. Snapshot 0 is the seed.
type Trajectory []Snapshot

// Steps is the number of decoder steps recorded in the trajectory.
func (t Trajectory) Steps() int { return len(t) - 1 }

// seedSnapshot is the single start hypothesis: the end-of-sequence token
// with score zero, zero attention weights, and a zero backpointer.
func seedSnapshot(eos int32, srcLen int) Snapshot {
	return Snapshot{
		Tokens:      []int32{eos},
		Scores:      []float32{0},
		PrevIndices: []int32{0},
		Attention:   [][]float32{make([]float32, srcLen)},
	}
}
