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

// Command beamline runs the beam-search translation decode service.
//
// Beamline serves n-best beam-search decoding and forced scoring over
// exported decoder artifacts. It can also build, inspect, and exercise
// artifacts from the command line.
//
// Usage:
//
//	beamline run                       # Start the server
//	beamline export -o model.beamline.json   # Build a decoder artifact
//	beamline decode model.beamline.json 1 2 3  # Decode source tokens
//	beamline list                      # List local decoder artifacts
package main

import (
	"runtime"

	"github.com/antflydb/beamline/cmd/beamline/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
