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
	"math"
	"sort"
)

// Hypothesis is one completed candidate output sequence reconstructed from
// a trajectory.
type Hypothesis struct {
	// Tokens is the emitted token sequence, including the terminal
	// end-of-sequence token when the hypothesis finished on one.
	Tokens []int32

	// Score is the length-penalized score used for ranking.
	Score float32

	// RawScore is the cumulative log-probability before length
	// normalization.
	RawScore float32

	// Attention holds one attention-weight vector per emitted token.
	Attention [][]float32

	// Backpointers is the beam-slot path through the trajectory, one
	// entry per emitted token, sufficient to reconstruct the derivation.
	Backpointers []int32
}

// terminal marks a hypothesis endpoint inside a trajectory.
type terminal struct {
	step  int
	slot  int
	score float32 // penalized
}

// Backtrack extracts the n-best hypotheses from a completed trajectory.
//
// A hypothesis ends at any beam slot holding the end-of-sequence token, or
// at any slot of the final step. Scores are normalized by length^p.LengthPenalty
// before ranking. Ranking is deterministic: equal scores are broken by
// earlier step, then lower slot.
func Backtrack(traj Trajectory, p Params) []Hypothesis {
	steps := traj.Steps()
	if steps < 1 {
		return nil
	}

	nbest := p.NBest
	if nbest < 1 {
		nbest = 1
	}

	var terms []terminal
	for t := 1; t <= steps; t++ {
		for k := 0; k < traj[t].Width(); k++ {
			eos := traj[t].Tokens[k] == p.EOSToken
			if eos || t == steps {
				terms = append(terms, terminal{
					step:  t,
					slot:  k,
					score: penalize(traj[t].Scores[k], t, p.LengthPenalty),
				})
			}
			// A slot that continues past an EOS would restart the
			// hypothesis; slots at the final step are counted once.
		}
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].score != terms[j].score {
			return terms[i].score > terms[j].score
		}
		if terms[i].step != terms[j].step {
			return terms[i].step < terms[j].step
		}
		return terms[i].slot < terms[j].slot
	})

	if len(terms) > nbest {
		terms = terms[:nbest]
	}

	hyps := make([]Hypothesis, 0, len(terms))
	for _, term := range terms {
		hyps = append(hyps, backtrace(traj, term, p))
	}
	return hyps
}

// backtrace walks the backpointers from a terminal slot to the seed,
// collecting tokens and attention in emission order.
func backtrace(traj Trajectory, term terminal, p Params) Hypothesis {
	length := term.step
	hyp := Hypothesis{
		Tokens:       make([]int32, length),
		Attention:    make([][]float32, length),
		Backpointers: make([]int32, length),
		RawScore:     traj[term.step].Scores[term.slot],
		Score:        term.score,
	}

	slot := int32(term.slot)
	for t := term.step; t >= 1; t-- {
		hyp.Tokens[t-1] = traj[t].Tokens[slot]
		attn := make([]float32, len(traj[t].Attention[slot]))
		copy(attn, traj[t].Attention[slot])
		hyp.Attention[t-1] = attn
		hyp.Backpointers[t-1] = slot
		slot = traj[t].PrevIndices[slot]
	}
	return hyp
}

// penalize normalizes a cumulative score by length^penalty.
func penalize(score float32, length int, penalty float32) float32 {
	if penalty == 0 || length == 0 {
		return score
	}
	return score / float32(math.Pow(float64(length), float64(penalty)))
}
