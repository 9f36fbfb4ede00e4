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

// Package nmt provides a compact attentional encoder-decoder translation
// model over float32 slices.
//
// The model is deliberately small: a bidirectional recurrent encoder, a
// recurrent decoder with dot-product attention, and a log-softmax output
// layer. Weights are either derived deterministically from a seed or
// restored from an exported artifact; there is no training. It exists to
// give decoding something real and fully reproducible to search over.
package nmt

import (
	"context"
	"fmt"

	"github.com/antflydb/beamline/lib/decoding"
	"github.com/antflydb/beamline/lib/ensemble"
)

// Params describe one model's dimensions and weight seed.
type Params struct {
	VocabSize int    `json:"vocab_size"`
	EmbedDim  int    `json:"embed_dim"`
	HiddenDim int    `json:"hidden_dim"`
	Seed      uint64 `json:"seed"`
}

func (p Params) validate() error {
	if p.VocabSize < 2 {
		return fmt.Errorf("nmt: vocabulary size %d, must be at least 2", p.VocabSize)
	}
	if p.EmbedDim < 1 || p.HiddenDim < 1 {
		return fmt.Errorf("nmt: embed dim %d / hidden dim %d, must be at least 1", p.EmbedDim, p.HiddenDim)
	}
	return nil
}

// Model is one translation model usable as an ensemble member.
type Model struct {
	params Params

	embed  [][]float32 // [vocab][embed]
	encFwd [][]float32 // [hidden][embed+hidden]
	encBwd [][]float32 // [hidden][embed+hidden]
	decIn  [][]float32 // [hidden][embed]
	decRec [][]float32 // [hidden][hidden]
	decCtx [][]float32 // [hidden][hidden]
	out    [][]float32 // [vocab][hidden]
}

var _ ensemble.Model = (*Model)(nil)

// New builds a model with weights derived deterministically from
// p.Seed. Two models with the same params are bit-identical.
func New(p Params) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	r := newRNG(p.Seed)
	return &Model{
		params: p,
		embed:  r.matrix(p.VocabSize, p.EmbedDim),
		encFwd: r.matrix(p.HiddenDim, p.EmbedDim+p.HiddenDim),
		encBwd: r.matrix(p.HiddenDim, p.EmbedDim+p.HiddenDim),
		decIn:  r.matrix(p.HiddenDim, p.EmbedDim),
		decRec: r.matrix(p.HiddenDim, p.HiddenDim),
		decCtx: r.matrix(p.HiddenDim, p.HiddenDim),
		out:    r.matrix(p.VocabSize, p.HiddenDim),
	}, nil
}

// Params returns the model dimensions and seed.
func (m *Model) Params() Params { return m.params }

// VocabSize is the size of the target vocabulary.
func (m *Model) VocabSize() int { return m.params.VocabSize }

// Encode runs the bidirectional encoder over the source tokens and
// returns a SourceEncoding bound to them.
func (m *Model) Encode(ctx context.Context, src []int32) (ensemble.SourceEncoding, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("nmt: empty source sequence")
	}
	for i, tok := range src {
		if tok < 0 || int(tok) >= m.params.VocabSize {
			return nil, fmt.Errorf("nmt: source token %d at position %d outside vocabulary of size %d", tok, i, m.params.VocabSize)
		}
	}

	n := len(src)
	h := m.params.HiddenDim

	fwd := make([][]float32, n)
	prev := make([]float32, h)
	for j := 0; j < n; j++ {
		fwd[j] = recurrent(m.encFwd, m.embed[src[j]], prev)
		prev = fwd[j]
	}

	bwd := make([][]float32, n)
	prev = make([]float32, h)
	for j := n - 1; j >= 0; j-- {
		bwd[j] = recurrent(m.encBwd, m.embed[src[j]], prev)
		prev = bwd[j]
	}

	states := make([][]float32, n)
	for j := 0; j < n; j++ {
		row := make([]float32, h)
		for i := 0; i < h; i++ {
			row[i] = fwd[j][i] + bwd[j][i]
		}
		states[j] = row
	}

	// Initial decoder state: squashed mean of the encoder states.
	init := make([]float32, h)
	for j := 0; j < n; j++ {
		for i := 0; i < h; i++ {
			init[i] += states[j][i]
		}
	}
	inv := 1 / float32(n)
	for i := 0; i < h; i++ {
		init[i] = tanh32(init[i] * inv)
	}

	return &sourceEncoding{model: m, states: states, init: init}, nil
}

// sourceEncoding is the model's encoder output for one source sentence.
type sourceEncoding struct {
	model  *Model
	states [][]float32 // [srcLen][hidden]
	init   []float32   // [hidden]
}

var _ ensemble.SourceEncoding = (*sourceEncoding)(nil)

func (e *sourceEncoding) SourceLength() int { return len(e.states) }

func (e *sourceEncoding) InitialState() decoding.State {
	row := make([]float32, len(e.init))
	copy(row, e.init)
	return decoding.NewVectorState([][]float32{row})
}

// Step runs one decoder timestep for every beam slot: attend over the
// encoder states, update the recurrent state, and emit log-probabilities
// over the vocabulary.
func (e *sourceEncoding) Step(tokens []int32, state decoding.State) (logProbs, attention [][]float32, next decoding.State, err error) {
	vs, ok := state.(*decoding.VectorState)
	if !ok {
		return nil, nil, nil, fmt.Errorf("nmt: unexpected state type %T", state)
	}
	if vs.Width() != len(tokens) {
		return nil, nil, nil, fmt.Errorf("nmt: state width %d for %d tokens: %w", vs.Width(), len(tokens), decoding.ErrWidthMismatch)
	}

	m := e.model
	width := len(tokens)
	logProbs = make([][]float32, width)
	attention = make([][]float32, width)
	rows := make([][]float32, width)

	for r := 0; r < width; r++ {
		tok := tokens[r]
		if tok < 0 || int(tok) >= m.params.VocabSize {
			return nil, nil, nil, fmt.Errorf("nmt: token %d outside vocabulary of size %d", tok, m.params.VocabSize)
		}
		hPrev := vs.Row(r)

		attn := attend(hPrev, e.states)
		ctxv := make([]float32, m.params.HiddenDim)
		for j, w := range attn {
			for i, v := range e.states[j] {
				ctxv[i] += w * v
			}
		}

		h := make([]float32, m.params.HiddenDim)
		a := matVec(m.decIn, m.embed[tok])
		b := matVec(m.decRec, hPrev)
		c := matVec(m.decCtx, ctxv)
		for i := range h {
			h[i] = tanh32(a[i] + b[i] + c[i])
		}

		logProbs[r] = logSoftmax(matVec(m.out, h))
		attention[r] = attn
		rows[r] = h
	}

	return logProbs, attention, decoding.NewVectorState(rows), nil
}

// recurrent applies one recurrence cell: tanh(W * [input; hidden]).
func recurrent(w [][]float32, input, hidden []float32) []float32 {
	out := make([]float32, len(w))
	for i, row := range w {
		var sum float32
		for k, v := range input {
			sum += row[k] * v
		}
		off := len(input)
		for k, v := range hidden {
			sum += row[off+k] * v
		}
		out[i] = tanh32(sum)
	}
	return out
}
