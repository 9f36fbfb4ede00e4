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

package nmt

import "fmt"

// Weights is the full parameter set of a model, used to persist it into a
// portable artifact and to restore it on load.
type Weights struct {
	Params Params
	Embed  [][]float32
	EncFwd [][]float32
	EncBwd [][]float32
	DecIn  [][]float32
	DecRec [][]float32
	DecCtx [][]float32
	Out    [][]float32
}

// Weights returns a deep copy of the model's parameters.
func (m *Model) Weights() *Weights {
	return &Weights{
		Params: m.params,
		Embed:  copyMatrix(m.embed),
		EncFwd: copyMatrix(m.encFwd),
		EncBwd: copyMatrix(m.encBwd),
		DecIn:  copyMatrix(m.decIn),
		DecRec: copyMatrix(m.decRec),
		DecCtx: copyMatrix(m.decCtx),
		Out:    copyMatrix(m.out),
	}
}

// FromWeights restores a model from persisted parameters.
func FromWeights(w *Weights) (*Model, error) {
	p := w.Params
	if err := p.validate(); err != nil {
		return nil, err
	}
	for _, check := range []struct {
		name string
		m    [][]float32
		rows int
		cols int
	}{
		{"embed", w.Embed, p.VocabSize, p.EmbedDim},
		{"enc_fwd", w.EncFwd, p.HiddenDim, p.EmbedDim + p.HiddenDim},
		{"enc_bwd", w.EncBwd, p.HiddenDim, p.EmbedDim + p.HiddenDim},
		{"dec_in", w.DecIn, p.HiddenDim, p.EmbedDim},
		{"dec_rec", w.DecRec, p.HiddenDim, p.HiddenDim},
		{"dec_ctx", w.DecCtx, p.HiddenDim, p.HiddenDim},
		{"out", w.Out, p.VocabSize, p.HiddenDim},
	} {
		if len(check.m) != check.rows {
			return nil, fmt.Errorf("nmt: weight %s has %d rows, want %d", check.name, len(check.m), check.rows)
		}
		for i, row := range check.m {
			if len(row) != check.cols {
				return nil, fmt.Errorf("nmt: weight %s row %d has %d columns, want %d", check.name, i, len(row), check.cols)
			}
		}
	}
	return &Model{
		params: p,
		embed:  copyMatrix(w.Embed),
		encFwd: copyMatrix(w.EncFwd),
		encBwd: copyMatrix(w.EncBwd),
		decIn:  copyMatrix(w.DecIn),
		decRec: copyMatrix(w.DecRec),
		decCtx: copyMatrix(w.DecCtx),
		out:    copyMatrix(w.Out),
	}, nil
}

func copyMatrix(m [][]float32) [][]float32 {
	out := make([][]float32, len(m))
	for i, row := range m {
		c := make([]float32, len(row))
		copy(c, row)
		out[i] = c
	}
	return out
}
