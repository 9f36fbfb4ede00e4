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

// Package ensemble combines several independently trained translation
// models into a single scorer for decoding.
//
// Member models are scored independently and their log-probabilities (and
// attention weights) are averaged in fixed member order, so results do not
// depend on iteration order. A single-model ensemble degenerates to that
// model's own scores.
package ensemble

import (
	"context"
	"errors"
	"fmt"

	"github.com/antflydb/beamline/lib/decoding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyEnsemble is returned when an ensemble is constructed with no
// member models. This is a fatal configuration error.
var ErrEmptyEnsemble = errors.New("ensemble: no member models")

// Model is one member of an ensemble.
type Model interface {
	// VocabSize is the size of the target vocabulary.
	VocabSize() int

	// Encode maps a source token sequence to the fixed per-source state
	// consumed by decoding. Deterministic given identical inputs and
	// parameters.
	Encode(ctx context.Context, src []int32) (SourceEncoding, error)
}

// SourceEncoding is one member's encoder output, bound to a single source
// sentence for the lifetime of a decode.
type SourceEncoding interface {
	// SourceLength is the length of the encoded source sequence.
	SourceLength() int

	// InitialState returns the width-1 recurrent state seeding the
	// decode.
	InitialState() decoding.State

	// Step scores all vocabulary tokens for each input slot, returning
	// log-probabilities [width][vocab], attention [width][srcLen], and
	// the updated state.
	Step(tokens []int32, state decoding.State) (logProbs, attention [][]float32, next decoding.State, err error)
}

// Encoder runs every member's encoder over a source sentence.
type Encoder struct {
	models []Model
	logger *zap.Logger
}

// NewEncoder creates an encoder ensemble. All members must share one
// target vocabulary size.
func NewEncoder(models []Model, logger *zap.Logger) (*Encoder, error) {
	if len(models) == 0 {
		return nil, ErrEmptyEnsemble
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	vocab := models[0].VocabSize()
	for i, m := range models {
		if m.VocabSize() != vocab {
			return nil, fmt.Errorf("ensemble: member %d vocabulary size %d, want %d", i, m.VocabSize(), vocab)
		}
	}
	return &Encoder{models: models, logger: logger}, nil
}

// Size is the number of member models.
func (e *Encoder) Size() int { return len(e.models) }

// VocabSize is the shared target vocabulary size.
func (e *Encoder) VocabSize() int { return e.models[0].VocabSize() }

// Encode runs all member encoders over the source sentence. Members are
// encoded in parallel but collected in fixed member order, so the result
// is deterministic.
func (e *Encoder) Encode(ctx context.Context, src []int32) (*Encoding, error) {
	if len(src) == 0 {
		return nil, errors.New("ensemble: empty source sequence")
	}

	members := make([]SourceEncoding, len(e.models))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range e.models {
		g.Go(func() error {
			enc, err := m.Encode(gctx, src)
			if err != nil {
				return fmt.Errorf("ensemble: encoding member %d: %w", i, err)
			}
			members[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("Encoded source for ensemble",
		zap.Int("members", len(members)),
		zap.Int("source_length", len(src)))

	return &Encoding{
		members: members,
		srcLen:  len(src),
		vocab:   e.VocabSize(),
	}, nil
}

// Encoding holds every member's encoder output for one source sentence.
type Encoding struct {
	members []SourceEncoding
	srcLen  int
	vocab   int
}

// SourceLength is the length of the encoded source sequence.
func (e *Encoding) SourceLength() int { return e.srcLen }

// Size is the number of member encodings.
func (e *Encoding) Size() int { return len(e.members) }
