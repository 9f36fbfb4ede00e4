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
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/beamline/lib/decoding"
	"github.com/antflydb/beamline/lib/export"
)

// DecodeCacheTTL is the default TTL for cached decode results
const DecodeCacheTTL = 2 * time.Minute

// DecodeCache caches n-best translation results across requests.
// Decodes are deterministic, so identical inputs against the same model
// always reproduce the cached result exactly.
type DecodeCache struct {
	cache  *ttlcache.Cache[string, []decoding.Hypothesis]
	logger *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewDecodeCache creates a decode result cache.
func NewDecodeCache(logger *zap.Logger) *DecodeCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []decoding.Hypothesis](DecodeCacheTTL),
	)
	go cache.Start()
	return &DecodeCache{cache: cache, logger: logger}
}

// WrapDecoder wraps a decoder with result caching for one model.
func (dc *DecodeCache) WrapDecoder(d *export.Decoder, model string) *CachedDecoder {
	return &CachedDecoder{
		decoder: d,
		model:   model,
		parent:  dc,
		sfGroup: &singleflight.Group{},
	}
}

// Stats returns hit/miss counters for the readiness endpoint.
func (dc *DecodeCache) Stats() (hits, misses, shared uint64) {
	return dc.hits.Load(), dc.misses.Load(), dc.sfHits.Load()
}

// Close stops the cache cleanup goroutine.
func (dc *DecodeCache) Close() {
	dc.cache.Stop()
	dc.cache.DeleteAll()
}

// CachedDecoder wraps one model's decoder with caching support.
type CachedDecoder struct {
	decoder *export.Decoder
	model   string
	parent  *DecodeCache
	sfGroup *singleflight.Group
}

// Translate runs a cached beam-search decode. Concurrent identical
// requests are deduplicated through singleflight.
func (c *CachedDecoder) Translate(ctx context.Context, src []int32, numSteps int) ([]decoding.Hypothesis, error) {
	key := c.cacheKey(src, numSteps)

	if item := c.parent.cache.Get(key); item != nil {
		c.parent.hits.Add(1)
		RecordCacheHit("decode")
		c.parent.logger.Debug("Decode cache hit",
			zap.String("model", c.model),
			zap.Int("hypotheses", len(item.Value())))
		return item.Value(), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.parent.misses.Add(1)
		RecordCacheMiss("decode")

		start := time.Now()
		traj, err := c.decoder.Search(ctx, src, numSteps)
		if err != nil {
			return nil, err
		}
		RecordDecoderSteps(c.model, traj.Steps())
		hyps := decoding.Backtrack(traj, c.decoder.Config().Decode)

		c.parent.cache.Set(key, hyps, ttlcache.DefaultTTL)

		c.parent.logger.Debug("Decode completed and cached",
			zap.String("model", c.model),
			zap.Int("steps", traj.Steps()),
			zap.Int("hypotheses", len(hyps)),
			zap.Duration("duration", time.Since(start)))

		return hyps, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.parent.sfHits.Add(1)
		c.parent.logger.Debug("Singleflight hit for decode request",
			zap.String("model", c.model))
	}

	return result.([]decoding.Hypothesis), nil
}

// cacheKey derives a unique key from model, step budget, and source
// tokens. The decode parameters live in the artifact, so the model name
// pins them.
func (c *CachedDecoder) cacheKey(src []int32, numSteps int) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.model)
	_, _ = h.WriteString("|")

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(numSteps))
	_, _ = h.Write(buf[:])
	for _, tok := range src {
		binary.LittleEndian.PutUint32(buf[:], uint32(tok))
		_, _ = h.Write(buf[:])
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
