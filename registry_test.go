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

package beamline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/beamline/lib/decoding"
	"github.com/antflydb/beamline/lib/export"
	"github.com/antflydb/beamline/lib/nmt"
)

// writeArtifact saves a small working decoder artifact under dir.
func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	models := make([]*nmt.Model, 2)
	for i := range models {
		m, err := nmt.New(nmt.Params{VocabSize: 12, EmbedDim: 4, HiddenDim: 6, Seed: uint64(i + 1)})
		require.NoError(t, err)
		models[i] = m
	}
	d, err := export.NewDecoder(models, export.Config{
		Decode: decoding.Params{
			BeamWidth:     4,
			EOSToken:      2,
			MaxSteps:      8,
			StopAtEOS:     true,
			LengthPenalty: 0.25,
			NBest:         2,
		},
		Forced: decoding.ForcedParams{EOSToken: 2, UnkToken: 1, WordReward: 0.25, UnkReward: -0.5},
		Vocab: []string{
			"<pad>", "<unk>", "</s>", "the", "cat", "sat",
			"on", "mat", "a", "dog", "ran", "far",
		},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, export.Save(filepath.Join(dir, name+export.ArtifactSuffix), d, export.VariantF32))
}

func newTestRegistry(t *testing.T, names ...string) *DecoderRegistry {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		writeArtifact(t, dir, name)
	}
	registry, err := NewDecoderRegistry(RegistryConfig{ModelsDir: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func TestRegistryDiscovery(t *testing.T) {
	registry := newTestRegistry(t, "beta", "alpha")

	assert.Equal(t, []string{"alpha", "beta"}, registry.List())
	assert.Empty(t, registry.ListLoaded())
	assert.False(t, registry.IsLoaded("alpha"))
}

func TestRegistryLazyLoad(t *testing.T) {
	registry := newTestRegistry(t, "alpha")

	d, err := registry.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, d.EnsembleSize())
	assert.True(t, registry.IsLoaded("alpha"))

	// Second get hits the cache and returns the same decoder.
	again, err := registry.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, d, again)
}

func TestRegistryUnknownModel(t *testing.T) {
	registry := newTestRegistry(t, "alpha")

	_, err := registry.Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistryIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "alpha")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	registry, err := NewDecoderRegistry(RegistryConfig{ModelsDir: dir}, nil)
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Equal(t, []string{"alpha"}, registry.List())
}

func TestRegistryMissingDir(t *testing.T) {
	registry, err := NewDecoderRegistry(RegistryConfig{
		ModelsDir: filepath.Join(t.TempDir(), "does-not-exist"),
	}, nil)
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Empty(t, registry.List())
}

func TestRegistryNoDirConfigured(t *testing.T) {
	registry, err := NewDecoderRegistry(RegistryConfig{}, nil)
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Empty(t, registry.List())
}

func TestRegistryPreload(t *testing.T) {
	registry := newTestRegistry(t, "alpha", "beta")

	require.NoError(t, registry.Preload([]string{"alpha"}))
	assert.True(t, registry.IsLoaded("alpha"))
	assert.False(t, registry.IsLoaded("beta"))

	// Preloading only missing models fails.
	err := registry.Preload([]string{"nope"})
	assert.Error(t, err)

	// A mix of good and bad preloads succeeds with a warning.
	assert.NoError(t, registry.Preload([]string{"beta", "nope"}))
	assert.True(t, registry.IsLoaded("beta"))
}

func TestRegistryCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "broken"+export.ArtifactSuffix), []byte("not json"), 0o644))

	registry, err := NewDecoderRegistry(RegistryConfig{ModelsDir: dir}, nil)
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	// Discovery is path-based; the failure surfaces at load time.
	assert.Equal(t, []string{"broken"}, registry.List())
	_, err = registry.Get("broken")
	assert.Error(t, err)
}
