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
	"strings"

	"github.com/spf13/cobra"

	"github.com/antflydb/beamline/lib/export"
	"github.com/antflydb/beamline/lib/nmt"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Build a decoder artifact",
	Long: `Build a self-contained decoder artifact from seeded ensemble members.

Member weights are derived deterministically from --seed; exporting twice
with the same flags produces identical decoders.

Variants:
  f32     - FP32 baseline (default, exact round-trip)
  f16     - FP16 half precision (~50% smaller)

Examples:
  # Export a 2-model ensemble
  beamline export -o de-en.beamline.json --members 2 --vocab-size 32000

  # Half-precision artifact with a word list
  beamline export -o de-en.beamline.json --variant f16 --vocab-file vocab.txt`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	f := exportCmd.Flags()
	f.StringP("output", "o", "", "output artifact path (required)")
	f.String("variant", string(export.VariantF32), "weight precision (f32, f16)")
	f.Int("members", 1, "number of ensemble members")
	f.Int("vocab-size", 32000, "target vocabulary size")
	f.Int("embed-dim", 64, "embedding dimension")
	f.Int("hidden-dim", 128, "hidden dimension")
	f.Uint64("seed", 1, "weight seed for the first member; member i uses seed+i")
	f.Int("beam-width", 6, "beam width")
	f.Int32("eos-token", 2, "end-of-sequence token id")
	f.Int32("unk-token", 1, "unknown token id")
	f.Int("max-steps", 100, "decode step budget")
	f.Bool("stop-at-eos", true, "stop once every beam slot holds EOS")
	f.Float32("length-penalty", 0.25, "length penalty exponent")
	f.Int("nbest", 3, "hypotheses returned per decode")
	f.Float32("word-reward", 0, "forced-decoding per-word reward")
	f.Float32("unk-reward", 0, "forced-decoding unknown-token reward")
	f.String("vocab-file", "", "optional word list, one word per line, id = line number")
	_ = exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	output, _ := f.GetString("output")
	variant, _ := f.GetString("variant")
	members, _ := f.GetInt("members")
	vocabSize, _ := f.GetInt("vocab-size")
	embedDim, _ := f.GetInt("embed-dim")
	hiddenDim, _ := f.GetInt("hidden-dim")
	seed, _ := f.GetUint64("seed")

	if members < 1 {
		return fmt.Errorf("at least one ensemble member is required")
	}

	config := export.Config{}
	config.Decode.BeamWidth, _ = f.GetInt("beam-width")
	config.Decode.EOSToken, _ = f.GetInt32("eos-token")
	config.Decode.MaxSteps, _ = f.GetInt("max-steps")
	config.Decode.StopAtEOS, _ = f.GetBool("stop-at-eos")
	config.Decode.LengthPenalty, _ = f.GetFloat32("length-penalty")
	config.Decode.NBest, _ = f.GetInt("nbest")
	config.Forced.EOSToken = config.Decode.EOSToken
	config.Forced.UnkToken, _ = f.GetInt32("unk-token")
	config.Forced.WordReward, _ = f.GetFloat32("word-reward")
	config.Forced.UnkReward, _ = f.GetFloat32("unk-reward")

	if vocabFile, _ := f.GetString("vocab-file"); vocabFile != "" {
		words, err := readWordList(vocabFile)
		if err != nil {
			return err
		}
		if len(words) != vocabSize {
			return fmt.Errorf("vocab file has %d words, --vocab-size is %d", len(words), vocabSize)
		}
		config.Vocab = words
	}

	models := make([]*nmt.Model, members)
	for i := range models {
		m, err := nmt.New(nmt.Params{
			VocabSize: vocabSize,
			EmbedDim:  embedDim,
			HiddenDim: hiddenDim,
			Seed:      seed + uint64(i),
		})
		if err != nil {
			return fmt.Errorf("building member %d: %w", i, err)
		}
		models[i] = m
	}

	d, err := export.NewDecoder(models, config, nil)
	if err != nil {
		return err
	}
	if err := export.Save(output, d, export.Variant(variant)); err != nil {
		return err
	}

	fmt.Printf("Exported %d-member decoder to %s (%s)\n", members, output, variant)
	return nil
}

func readWordList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}
	var words []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			words = append(words, line)
		}
	}
	return words, nil
}
