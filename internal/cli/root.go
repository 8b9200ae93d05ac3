package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// projectFlag is the --dir persistent flag. Empty means the working directory.
var projectFlag string

var rootCmd = &cobra.Command{
	Use:   "devloop",
	Short: "Autonomous development sessions driven by a code assistant CLI",
	Long: `devloop runs a bounded development session against a git project: it asks
a code assistant what to build next, applies the suggestion, verifies the
project with its build, type-check, lint and test commands, and commits or
rolls back the result until the time or iteration budget is used up.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("devloop version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "dir", "C", "", "project directory (default: current directory)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// projectDir resolves the project directory and checks that it exists.
func projectDir() (string, error) {
	dir := projectFlag
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path is not a directory: %s", abs)
	}
	return abs, nil
}
