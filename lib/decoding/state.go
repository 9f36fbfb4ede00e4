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

// VectorState is a State backed by one float32 vector per beam slot, the
// common shape for recurrent decoder hidden states.
type VectorState struct {
	rows [][]float32
}

var _ State = (*VectorState)(nil)

// NewVectorState creates a state from per-slot vectors. The rows are not
// copied; callers must not mutate them afterwards.
func NewVectorState(rows [][]float32) *VectorState {
	return &VectorState{rows: rows}
}

// Rows returns the per-slot vectors backing the state.
func (s *VectorState) Rows() [][]float32 { return s.rows }

// Row returns the vector for one beam slot.
func (s *VectorState) Row(i int) []float32 { return s.rows[i] }

// Width is the number of beam slots this state covers.
func (s *VectorState) Width() int { return len(s.rows) }

// Tile replicates the state rows to the given width. A width-1 state
// becomes width identical copies of its single row.
func (s *VectorState) Tile(width int) State {
	if len(s.rows) == width {
		return s
	}
	rows := make([][]float32, width)
	for i := range rows {
		src := s.rows[i%len(s.rows)]
		row := make([]float32, len(src))
		copy(row, src)
		rows[i] = row
	}
	return &VectorState{rows: rows}
}

// Gather reorders rows so output slot k holds a copy of input row
// indices[k].
func (s *VectorState) Gather(indices []int32) State {
	rows := make([][]float32, len(indices))
	for k, idx := range indices {
		src := s.rows[idx]
		row := make([]float32, len(src))
		copy(row, src)
		rows[k] = row
	}
	return &VectorState{rows: rows}
}
