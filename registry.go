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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/beamline/lib/export"
)

// DecoderInfo holds metadata about a discovered decoder artifact (not
// loaded yet).
type DecoderInfo struct {
	Name string
	Path string
}

// DecoderRegistry manages decoder artifacts with lazy loading and
// TTL-based unloading.
type DecoderRegistry struct {
	modelsDir string
	logger    *zap.Logger

	// Artifact discovery (paths only, not loaded)
	discovered map[string]*DecoderInfo
	mu         sync.RWMutex

	// Loaded decoders with TTL cache
	cache   *ttlcache.Cache[string, *export.Decoder]
	sfGroup singleflight.Group

	keepAlive       time.Duration
	maxLoadedModels uint64
}

// RegistryConfig configures the decoder registry.
type RegistryConfig struct {
	ModelsDir       string
	KeepAlive       time.Duration // How long to keep decoders loaded (0 = forever)
	MaxLoadedModels uint64        // Max decoders in memory (0 = unlimited)
}

// NewDecoderRegistry creates a lazy-loading decoder registry over a
// directory of artifacts.
func NewDecoderRegistry(config RegistryConfig, logger *zap.Logger) (*DecoderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL // Never expire
	}

	registry := &DecoderRegistry{
		modelsDir:       config.ModelsDir,
		logger:          logger,
		discovered:      make(map[string]*DecoderInfo),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
	}

	cacheOpts := []ttlcache.Option[string, *export.Decoder]{
		ttlcache.WithTTL[string, *export.Decoder](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *export.Decoder](config.MaxLoadedModels))
	}
	registry.cache = ttlcache.New(cacheOpts...)

	// Decoders hold no external resources, so eviction only needs to be
	// observed for logging and metrics.
	registry.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *export.Decoder]) {
		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonDeleted:
			reasonStr = "deleted"
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		}
		logger.Info("Evicting decoder from cache",
			zap.String("model", item.Key()),
			zap.String("reason", reasonStr))
		SetLoadedModels(len(registry.cache.Keys()))
	})

	go registry.cache.Start()

	// Discover artifacts (but don't load them)
	if err := registry.discoverArtifacts(); err != nil {
		registry.cache.Stop()
		return nil, err
	}

	logger.Info("Lazy decoder registry initialized",
		zap.Int("models_discovered", len(registry.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Uint64("max_loaded_models", config.MaxLoadedModels))

	return registry, nil
}

// discoverArtifacts finds all decoder artifacts in the models directory
// without loading them.
func (r *DecoderRegistry) discoverArtifacts() error {
	if r.modelsDir == "" {
		r.logger.Info("No decoder models directory configured")
		return nil
	}

	if _, err := os.Stat(r.modelsDir); os.IsNotExist(err) {
		r.logger.Warn("Decoder models directory does not exist",
			zap.String("dir", r.modelsDir))
		return nil
	}

	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		return fmt.Errorf("discovering decoder artifacts: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !export.IsArtifact(entry.Name()) {
			continue
		}
		path := filepath.Join(r.modelsDir, entry.Name())
		name := export.ArtifactName(path)

		r.logger.Info("Discovered decoder artifact (not loaded)",
			zap.String("name", name),
			zap.String("path", path))

		r.discovered[name] = &DecoderInfo{Name: name, Path: path}
	}

	r.logger.Info("Decoder artifact discovery complete",
		zap.Int("models_discovered", len(r.discovered)))

	return nil
}

// Get returns a decoder by name, loading its artifact if necessary.
// Concurrent requests for the same decoder share one load.
func (r *DecoderRegistry) Get(modelName string) (*export.Decoder, error) {
	if item := r.cache.Get(modelName); item != nil {
		r.logger.Debug("Decoder cache hit", zap.String("model", modelName))
		return item.Value(), nil
	}

	r.mu.RLock()
	info, ok := r.discovered[modelName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("decoder not found: %s", modelName)
	}

	d, err, _ := r.sfGroup.Do(modelName, func() (any, error) {
		// Re-check under singleflight: another caller may have just
		// finished loading.
		if item := r.cache.Get(modelName); item != nil {
			return item.Value(), nil
		}
		return r.loadArtifact(info)
	})
	if err != nil {
		return nil, err
	}
	return d.(*export.Decoder), nil
}

// loadArtifact loads a decoder artifact from disk.
func (r *DecoderRegistry) loadArtifact(info *DecoderInfo) (*export.Decoder, error) {
	r.logger.Info("Loading decoder artifact on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	d, err := export.Load(info.Path, r.logger.Named(info.Name))
	if err != nil {
		return nil, fmt.Errorf("loading decoder %s: %w", info.Name, err)
	}
	RecordModelLoadDuration(info.Name, time.Since(start).Seconds())

	r.logger.Info("Successfully loaded decoder",
		zap.String("name", info.Name),
		zap.Int("ensemble_size", d.EnsembleSize()),
		zap.Int("beam_width", d.Config().Decode.BeamWidth),
		zap.Duration("duration", time.Since(start)))

	r.cache.Set(info.Name, d, r.keepAlive)
	SetLoadedModels(len(r.cache.Keys()))

	return d, nil
}

// List returns all discovered decoder names, sorted.
func (r *DecoderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListLoaded returns only the currently loaded decoder names.
func (r *DecoderRegistry) ListLoaded() []string {
	return r.cache.Keys()
}

// IsLoaded returns whether a decoder is currently loaded in memory.
func (r *DecoderRegistry) IsLoaded(modelName string) bool {
	return r.cache.Has(modelName)
}

// Preload loads specified decoders at startup to avoid first-request
// latency.
func (r *DecoderRegistry) Preload(modelNames []string) error {
	if len(modelNames) == 0 {
		return nil
	}

	r.logger.Info("Preloading decoders", zap.Strings("models", modelNames))

	var loaded, failed int
	for _, name := range modelNames {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload decoder",
				zap.String("model", name),
				zap.Error(err))
			failed++
		} else {
			loaded++
		}
	}

	r.logger.Info("Decoder preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))

	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d decoders failed to preload", failed)
	}

	return nil
}

// Close stops the cache and drops all loaded decoders.
func (r *DecoderRegistry) Close() error {
	r.logger.Info("Closing decoder registry")
	r.cache.Stop()
	r.cache.DeleteAll()
	return nil
}
