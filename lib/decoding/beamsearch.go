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
	"fmt"
)

// Search runs beam search for up to p.MaxSteps decoder steps and returns
// the full trajectory.
//
// The search seeds a single hypothesis (the end-of-sequence token with
// score zero) at timestep 0, then repeatedly invokes the Stepper, tiling
// the width-1 recurrent state to the full beam width after the first step.
// It terminates when the step budget is exhausted or, when p.StopAtEOS is
// set, once every beam slot holds the end-of-sequence token.
//
// There is no randomness: given identical model parameters, inputs, and
// step count, the trajectory is bit-for-bit reproducible. Each timestep
// strictly depends on the previous one; steps are never speculated or
// reordered.
func Search(ctx context.Context, stepper Stepper, p Params) (Trajectory, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	states := stepper.InitialStates()
	if len(states) == 0 {
		return nil, ErrNoStates
	}

	traj := make(Trajectory, 1, p.MaxSteps+1)
	traj[0] = seedSnapshot(p.EOSToken, stepper.SourceLength())

	tokens := []int32{p.EOSToken}
	scores := []float32{0}

	for t := 0; t < p.MaxSteps; t++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		out, err := stepper.Step(ctx, &StepInputs{
			Tokens:     tokens,
			PrevScores: scores,
			Timestep:   t,
			States:     states,
		})
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", t, err)
		}
		if out.Timestep != t+1 {
			return nil, fmt.Errorf("decoder step %d returned timestep %d, want %d", t, out.Timestep, t+1)
		}

		traj = append(traj, Snapshot{
			Tokens:      out.Tokens,
			Scores:      out.Scores,
			PrevIndices: out.PrevIndices,
			Attention:   out.Attention,
		})

		tokens = out.Tokens
		scores = out.Scores
		states = out.States
		if t == 0 {
			// The first step runs at width 1; replicate its state
			// across the beam before stepping again.
			for i := range states {
				states[i] = states[i].Tile(p.BeamWidth)
			}
		}

		if p.StopAtEOS && allEqual(out.Tokens, p.EOSToken) {
			break
		}
	}

	return traj, nil
}

func allEqual(tokens []int32, want int32) bool {
	for _, tok := range tokens {
		if tok != want {
			return false
		}
	}
	return true
}
