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
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/antflydb/beamline/lib/nmt"
)

// ArtifactSuffix is the file suffix of exported decoder artifacts.
const ArtifactSuffix = ".beamline.json"

// envelope wraps the artifact payload with an integrity checksum. The
// checksum is the xxhash64 of the raw payload bytes, hex encoded.
type envelope struct {
	Checksum string `json:"checksum"`
	Payload  []byte `json:"payload"`
}

// Save writes the decoder to path as a self-contained artifact with the
// given weight precision.
func Save(path string, d *Decoder, variant Variant) error {
	if err := variant.validate(); err != nil {
		return err
	}
	if len(d.models) == 0 {
		return fmt.Errorf("export: decoder has no member models")
	}

	b := bundle{
		FormatVersion: FormatVersion,
		Variant:       variant,
		Config:        d.config,
	}
	for _, w := range d.weights() {
		b.Members = append(b.Members, packMember(w, variant))
	}

	payload, err := sonic.Marshal(b)
	if err != nil {
		return fmt.Errorf("export: encoding bundle: %w", err)
	}
	data, err := sonic.Marshal(envelope{
		Checksum: fmt.Sprintf("%016x", xxhash.Sum64(payload)),
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("export: encoding envelope: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: creating artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: writing artifact: %w", err)
	}
	return nil
}

// Load reads an artifact back into a working decoder, verifying the
// payload checksum first.
func Load(path string, logger *zap.Logger) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: reading artifact: %w", err)
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("export: decoding envelope: %w", err)
	}
	if sum := fmt.Sprintf("%016x", xxhash.Sum64(env.Payload)); sum != env.Checksum {
		return nil, fmt.Errorf("export: artifact checksum mismatch: file says %s, payload hashes to %s", env.Checksum, sum)
	}

	var b bundle
	if err := sonic.Unmarshal(env.Payload, &b); err != nil {
		return nil, fmt.Errorf("export: decoding bundle: %w", err)
	}
	if b.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("export: artifact format version %d, want %d", b.FormatVersion, FormatVersion)
	}
	if err := b.Variant.validate(); err != nil {
		return nil, err
	}
	if len(b.Members) == 0 {
		return nil, fmt.Errorf("export: artifact has no member models")
	}

	weights := make([]*nmt.Weights, 0, len(b.Members))
	for i, m := range b.Members {
		w, err := m.unpack()
		if err != nil {
			return nil, fmt.Errorf("export: member %d: %w", i, err)
		}
		weights = append(weights, w)
	}

	d, err := fromWeights(weights, b.Config, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded decoder artifact",
		zap.String("path", filepath.Base(path)),
		zap.String("variant", string(b.Variant)),
		zap.Int("members", len(b.Members)))

	return d, nil
}

// ArtifactName derives the registry model name from an artifact filename.
func ArtifactName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ArtifactSuffix)
}

// IsArtifact reports whether the filename looks like a decoder artifact.
func IsArtifact(path string) bool {
	return strings.HasSuffix(path, ArtifactSuffix)
}
