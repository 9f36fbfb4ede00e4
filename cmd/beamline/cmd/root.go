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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set by main from the release build.
var Version = "dev"

var modelsDir string

var rootCmd = &cobra.Command{
	Use:   "beamline",
	Short: "Beam-search translation decode service",
	Long: `Beamline serves n-best beam-search decoding and forced scoring over
exported decoder artifacts.`,
	Version:       "",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaultModelsDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultModelsDir = filepath.Join(home, ".beamline", "models")
	}

	pf := rootCmd.PersistentFlags()
	pf.String("api-url", "http://localhost:4600", "address the API server listens on")
	pf.StringVar(&modelsDir, "models-dir", defaultModelsDir, "directory of decoder artifacts")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-style", "json", "log style (json, console)")

	mustBindPFlag("api_url", pf.Lookup("api-url"))
	mustBindPFlag("models_dir", pf.Lookup("models-dir"))
	mustBindPFlag("log.level", pf.Lookup("log-level"))
	mustBindPFlag("log.style", pf.Lookup("log-style"))
}

func initConfig() {
	viper.SetEnvPrefix("BEAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

// newLogger builds a zap logger from the log.level and log.style config.
func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(viper.GetString("log.level")); err != nil {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if viper.GetString("log.style") == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("building logger: %v", err))
	}
	return logger
}
