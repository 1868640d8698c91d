package main

// #region imports
import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #endregion

const manifestTemplate = `project:
  name: %s
  version: 0.1.0

tasks:
  - id: build
    command: echo build
    inputs: ["src/**"]
    outputs: ["dist/**"]
  - id: test
    command: echo test
    needs: [build]

run:
  max_parallel: 4

cache:
  enabled: true
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [name]",
		Short: "Create a starter upm.yaml in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			name := filepath.Base(cwd)
			if len(args) == 1 {
				name = args[0]
			}

			path := filepath.Join(cwd, config.ManifestName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", config.ManifestName)
			}
			content := fmt.Sprintf(manifestTemplate, name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render("created"), config.ManifestName)
			return nil
		},
	}
}
