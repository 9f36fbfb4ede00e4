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

// Package beamline serves beam-search translation decoders over HTTP.
//
// A beamline node discovers exported decoder artifacts in a models
// directory, lazily loads them with a keep-alive cache, and exposes
// translate (n-best beam search) and score (forced decoding) endpoints.
package beamline

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BeamlineNode is one running service instance.
type BeamlineNode struct {
	logger *zap.Logger

	registry    *DecoderRegistry
	decodeCache *DecodeCache
}

// corsMiddleware adds permissive CORS headers for the beamline API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsBeamline runs the decode service until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to
// accept requests.
func RunAsBeamline(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("beamline")
	zl.Info("Starting beamline node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// Parse keep_alive duration
	var keepAlive time.Duration
	if config.KeepAlive != "" && config.KeepAlive != "0" {
		keepAlive, err = time.ParseDuration(config.KeepAlive)
		if err != nil {
			zl.Fatal("Invalid keep_alive duration", zap.String("keep_alive", config.KeepAlive), zap.Error(err))
		}
		zl.Info("Lazy loading enabled",
			zap.Duration("keep_alive", keepAlive),
			zap.Int("max_loaded_models", config.MaxLoadedModels))
	} else {
		zl.Info("Decoders stay loaded once used (no keep-alive expiry)")
	}

	registry, err := NewDecoderRegistry(RegistryConfig{
		ModelsDir:       config.ModelsDir,
		KeepAlive:       keepAlive,
		MaxLoadedModels: uint64(config.MaxLoadedModels),
	}, zl.Named("registry"))
	if err != nil {
		zl.Fatal("Failed to initialize decoder registry", zap.Error(err))
	}
	defer func() { _ = registry.Close() }()

	// Preload specified decoders at startup
	if len(config.Preload) > 0 {
		if err := registry.Preload(config.Preload); err != nil {
			zl.Warn("Some decoders failed to preload", zap.Error(err))
		}
	}

	decodeCache := NewDecodeCache(zl.Named("decode-cache"))
	defer decodeCache.Close()

	node := &BeamlineNode{
		logger:      zl,
		registry:    registry,
		decodeCache: decodeCache,
	}

	apiHandler := NewBeamlineAPI(zl, node)

	// Root mux with health endpoints, metrics, and the API handler
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/api/", apiHandler)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Beamline's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
