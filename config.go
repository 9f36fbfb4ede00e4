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

// Config configures a beamline node.
type Config struct {
	// ApiUrl is the address the API server listens on, e.g.
	// "http://localhost:4600".
	ApiUrl string `json:"api_url,omitempty" mapstructure:"api_url"`

	// ModelsDir is the directory scanned for decoder artifacts.
	ModelsDir string `json:"models_dir,omitempty" mapstructure:"models_dir"`

	// KeepAlive is how long a loaded decoder stays in memory after its
	// last use, as a time.Duration string. Empty or "0" keeps decoders
	// loaded forever.
	KeepAlive string `json:"keep_alive,omitempty" mapstructure:"keep_alive"`

	// MaxLoadedModels bounds how many decoders are held in memory at
	// once. Zero means unlimited.
	MaxLoadedModels int `json:"max_loaded_models,omitempty" mapstructure:"max_loaded_models"`

	// Preload lists decoder names to load at startup, avoiding
	// first-request latency.
	Preload []string `json:"preload,omitempty" mapstructure:"preload"`
}
