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
	"strconv"

	"github.com/bytedance/sonic/encoder"
	"github.com/spf13/cobra"

	"github.com/antflydb/beamline/lib/export"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <artifact> <token>...",
	Short: "Decode source tokens against an artifact",
	Long: `Load a decoder artifact and run beam search over the given source
token ids, printing the n-best hypotheses as JSON.

Examples:
  # Decode a source sentence
  beamline decode de-en.beamline.json 1 2 3 4 5

  # Score a fixed target instead of searching
  beamline decode de-en.beamline.json 1 2 3 --target 7,9,2

  # Restrict output candidates to a reduced vocabulary
  beamline decode de-en.beamline.json 1 2 3 --allowed 2,7,9,12`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().Int("num-steps", 0, "override the artifact's step budget (0 = use artifact)")
	decodeCmd.Flags().Int32Slice("target", nil, "forced target token ids (score instead of search)")
	decodeCmd.Flags().Int32Slice("allowed", nil, "restrict output candidates to these token ids")
}

func runDecode(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	d, err := export.Load(args[0], logger)
	if err != nil {
		return err
	}

	src := make([]int32, 0, len(args)-1)
	for _, arg := range args[1:] {
		tok, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("parsing token %q: %w", arg, err)
		}
		src = append(src, int32(tok))
	}

	numSteps, _ := cmd.Flags().GetInt("num-steps")
	target, _ := cmd.Flags().GetInt32Slice("target")
	allowed, _ := cmd.Flags().GetInt32Slice("allowed")

	enc := encoder.NewStreamEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if len(target) > 0 {
		res, err := d.ForceDecode(cmd.Context(), src, target)
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	hyps, err := d.TranslateRestricted(cmd.Context(), src, allowed, numSteps)
	if err != nil {
		return err
	}
	return enc.Encode(hyps)
}
