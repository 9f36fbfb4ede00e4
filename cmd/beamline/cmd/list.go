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
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/antflydb/beamline/lib/export"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local decoder artifacts",
	Long: `List decoder artifacts in the models directory.

Examples:
  # List artifacts in the default models directory
  beamline list

  # List artifacts in a custom directory
  beamline list --models-dir /opt/antfly/models`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if modelsDir == "" {
		return fmt.Errorf("no models directory configured")
	}

	entries, err := os.ReadDir(modelsDir)
	if os.IsNotExist(err) {
		fmt.Printf("No models directory at %s\n", modelsDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading models directory: %w", err)
	}

	type row struct {
		name string
		size int64
	}
	var rows []row
	for _, entry := range entries {
		if entry.IsDir() || !export.IsArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{
			name: export.ArtifactName(filepath.Join(modelsDir, entry.Name())),
			size: info.Size(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	if len(rows) == 0 {
		fmt.Printf("No decoder artifacts in %s\n", modelsDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.name, formatSize(r.size))
	}
	return w.Flush()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
