// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/beamline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the beamline server",
	Long:  `Start the beamline server for beam-search decoding over exported decoder artifacts.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("keep-alive", "", "how long to keep decoders loaded after last use (e.g. 5m, 0 = forever)")
	runCmd.Flags().Int("max-loaded-models", 0, "max decoders in memory (0 = unlimited)")
	runCmd.Flags().StringSlice("preload", nil, "decoder names to load at startup")
	mustBindPFlag("keep_alive", runCmd.Flags().Lookup("keep-alive"))
	mustBindPFlag("max_loaded_models", runCmd.Flags().Lookup("max-loaded-models"))
	mustBindPFlag("preload", runCmd.Flags().Lookup("preload"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as beamline")

	cfg := beamline.Config{
		ApiUrl:          viper.GetString("api_url"),
		ModelsDir:       modelsDir,
		KeepAlive:       viper.GetString("keep_alive"),
		MaxLoadedModels: viper.GetInt("max_loaded_models"),
		Preload:         viper.GetStringSlice("preload"),
	}

	beamline.RunAsBeamline(ctx, logger, cfg, nil)
	return nil
}
