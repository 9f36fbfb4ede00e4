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

// Package export packages a decoder ensemble into a self-contained,
// reloadable artifact and runs decodes against it.
//
// An artifact bundles the decode configuration and every ensemble member's
// weights into one checksummed JSON file. Reloading an artifact yields a
// decoder whose outputs match the original within floating-point tolerance
// (exactly, for the f32 variant).
package export

import (
	"context"
	"fmt"

	"github.com/antflydb/beamline/lib/decoding"
	"github.com/antflydb/beamline/lib/ensemble"
	"github.com/antflydb/beamline/lib/nmt"
	"go.uber.org/zap"
)

// Config is the decode-time configuration carried inside an artifact.
type Config struct {
	// Decode are the beam-search parameters.
	Decode decoding.Params `json:"decode"`

	// Forced are the forced-decoding reward parameters.
	Forced decoding.ForcedParams `json:"forced"`

	// Vocab optionally carries the target vocabulary words, indexed by
	// token id, for callers that translate text rather than raw ids.
	Vocab []string `json:"vocab,omitempty"`
}

// Decoder is a beam-search decoder over an ensemble of translation
// models, either freshly constructed or reloaded from an artifact.
type Decoder struct {
	models  []*nmt.Model
	encoder *ensemble.Encoder
	config  Config
	logger  *zap.Logger
}

// NewDecoder builds a decoder over the given ensemble members.
func NewDecoder(models []*nmt.Model, config Config, logger *zap.Logger) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	members := make([]ensemble.Model, len(models))
	for i, m := range models {
		members[i] = m
	}
	enc, err := ensemble.NewEncoder(members, logger.Named("encoder"))
	if err != nil {
		return nil, err
	}
	return &Decoder{
		models:  models,
		encoder: enc,
		config:  config,
		logger:  logger,
	}, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.config }

// EnsembleSize is the number of member models.
func (d *Decoder) EnsembleSize() int { return len(d.models) }

// step encodes the source and binds a decoder step to it.
func (d *Decoder) step(ctx context.Context, src []int32) (*ensemble.DecoderStep, error) {
	enc, err := d.encoder.Encode(ctx, src)
	if err != nil {
		return nil, err
	}
	return ensemble.NewDecoderStep(enc, d.config.Decode.BeamWidth, d.logger.Named("step"))
}

// Search runs beam search over the source tokens and returns the full
// trajectory. numSteps overrides the configured step budget when positive.
func (d *Decoder) Search(ctx context.Context, src []int32, numSteps int) (decoding.Trajectory, error) {
	step, err := d.step(ctx, src)
	if err != nil {
		return nil, err
	}
	params := d.config.Decode
	if numSteps > 0 {
		params.MaxSteps = numSteps
	}
	return decoding.Search(ctx, step, params)
}

// Translate runs beam search and returns the ranked n-best hypotheses.
// numSteps overrides the configured step budget when positive.
func (d *Decoder) Translate(ctx context.Context, src []int32, numSteps int) ([]decoding.Hypothesis, error) {
	return d.TranslateRestricted(ctx, src, nil, numSteps)
}

// TranslateRestricted runs beam search with output candidates limited to
// the allowed token ids, the reduced vocabulary of this source sentence.
// The set must include the end-of-sequence token for search to stop
// early; an empty set means no restriction.
func (d *Decoder) TranslateRestricted(ctx context.Context, src, allowed []int32, numSteps int) ([]decoding.Hypothesis, error) {
	step, err := d.step(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(allowed) > 0 {
		if err := step.Restrict(allowed); err != nil {
			return nil, err
		}
	}
	params := d.config.Decode
	if numSteps > 0 {
		params.MaxSteps = numSteps
	}
	traj, err := decoding.Search(ctx, step, params)
	if err != nil {
		return nil, err
	}
	hyps := decoding.Backtrack(traj, params)

	d.logger.Debug("Translated source",
		zap.Int("source_length", len(src)),
		zap.Int("steps", traj.Steps()),
		zap.Int("hypotheses", len(hyps)))

	return hyps, nil
}

// ForceDecode scores a caller-supplied target sequence against the
// ensemble instead of searching.
func (d *Decoder) ForceDecode(ctx context.Context, src, target []int32) (*decoding.ForcedResult, error) {
	step, err := d.step(ctx, src)
	if err != nil {
		return nil, err
	}
	return decoding.ForceDecode(ctx, step, target, d.config.Forced)
}

// weights collects every member's parameters for persistence.
func (d *Decoder) weights() []*nmt.Weights {
	out := make([]*nmt.Weights, len(d.models))
	for i, m := range d.models {
		out[i] = m.Weights()
	}
	return out
}

// fromWeights restores a decoder from persisted member parameters.
func fromWeights(weights []*nmt.Weights, config Config, logger *zap.Logger) (*Decoder, error) {
	models := make([]*nmt.Model, len(weights))
	for i, w := range weights {
		m, err := nmt.FromWeights(w)
		if err != nil {
			return nil, fmt.Errorf("export: restoring member %d: %w", i, err)
		}
		models[i] = m
	}
	return NewDecoder(models, config, logger)
}
