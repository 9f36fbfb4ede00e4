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

package export

import (
	"fmt"

	"github.com/antflydb/beamline/lib/nmt"
	"github.com/x448/float16"
)

// FormatVersion is the artifact format version written by this package.
const FormatVersion = 1

// Variant selects the weight precision stored in an artifact.
type Variant string

const (
	// VariantF32 stores weights at full precision (baseline).
	VariantF32 Variant = "f32"

	// VariantF16 stores weights at half precision: roughly half the
	// artifact size, at a small cost in decode-score accuracy.
	VariantF16 Variant = "f16"
)

func (v Variant) validate() error {
	switch v {
	case VariantF32, VariantF16:
		return nil
	default:
		return fmt.Errorf("export: unknown variant %q", string(v))
	}
}

// matrix is one weight matrix in flat row-major layout. Exactly one of
// F32/F16 is populated, matching the bundle variant.
type matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	F32  []float32 `json:"f32,omitempty"`
	F16  []uint16  `json:"f16,omitempty"`
}

func packMatrix(m [][]float32, variant Variant) matrix {
	rows, cols := len(m), 0
	if rows > 0 {
		cols = len(m[0])
	}
	out := matrix{Rows: rows, Cols: cols}
	switch variant {
	case VariantF16:
		out.F16 = make([]uint16, 0, rows*cols)
		for _, row := range m {
			for _, v := range row {
				out.F16 = append(out.F16, float16.Fromfloat32(v).Bits())
			}
		}
	default:
		out.F32 = make([]float32, 0, rows*cols)
		for _, row := range m {
			out.F32 = append(out.F32, row...)
		}
	}
	return out
}

func (m matrix) unpack() ([][]float32, error) {
	n := m.Rows * m.Cols
	flat := m.F32
	if flat == nil {
		if len(m.F16) != n {
			return nil, fmt.Errorf("export: matrix has %d values, want %d", len(m.F16), n)
		}
		flat = make([]float32, n)
		for i, bits := range m.F16 {
			flat[i] = float16.Frombits(bits).Float32()
		}
	} else if len(flat) != n {
		return nil, fmt.Errorf("export: matrix has %d values, want %d", len(flat), n)
	}
	out := make([][]float32, m.Rows)
	for i := 0; i < m.Rows; i++ {
		out[i] = flat[i*m.Cols : (i+1)*m.Cols : (i+1)*m.Cols]
	}
	return out, nil
}

// memberBundle is one ensemble member's persisted parameters.
type memberBundle struct {
	Params nmt.Params `json:"params"`
	Embed  matrix     `json:"embed"`
	EncFwd matrix     `json:"enc_fwd"`
	EncBwd matrix     `json:"enc_bwd"`
	DecIn  matrix     `json:"dec_in"`
	DecRec matrix     `json:"dec_rec"`
	DecCtx matrix     `json:"dec_ctx"`
	Out    matrix     `json:"out"`
}

func packMember(w *nmt.Weights, variant Variant) memberBundle {
	return memberBundle{
		Params: w.Params,
		Embed:  packMatrix(w.Embed, variant),
		EncFwd: packMatrix(w.EncFwd, variant),
		EncBwd: packMatrix(w.EncBwd, variant),
		DecIn:  packMatrix(w.DecIn, variant),
		DecRec: packMatrix(w.DecRec, variant),
		DecCtx: packMatrix(w.DecCtx, variant),
		Out:    packMatrix(w.Out, variant),
	}
}

func (b memberBundle) unpack() (*nmt.Weights, error) {
	w := &nmt.Weights{Params: b.Params}
	for _, item := range []struct {
		name string
		src  matrix
		dst  *[][]float32
	}{
		{"embed", b.Embed, &w.Embed},
		{"enc_fwd", b.EncFwd, &w.EncFwd},
		{"enc_bwd", b.EncBwd, &w.EncBwd},
		{"dec_in", b.DecIn, &w.DecIn},
		{"dec_rec", b.DecRec, &w.DecRec},
		{"dec_ctx", b.DecCtx, &w.DecCtx},
		{"out", b.Out, &w.Out},
	} {
		m, err := item.src.unpack()
		if err != nil {
			return nil, fmt.Errorf("export: weight %s: %w", item.name, err)
		}
		*item.dst = m
	}
	return w, nil
}

// bundle is the artifact payload: everything needed to reconstruct a
// working decoder.
type bundle struct {
	FormatVersion int            `json:"format_version"`
	Variant       Variant        `json:"variant"`
	Config        Config         `json:"config"`
	Members       []memberBundle `json:"members"`
}
