package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thruflo/devloop/internal/config"
	"github.com/thruflo/devloop/internal/session"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .devloop/ directory",
	Long: `Creates the .devloop/ directory with a default configuration.

This command sets up:
  - config.yaml with session budgets, assistant and verification commands
  - sessions/ where session logs are written
  - .gitignore so session logs and secrets stay out of the project history`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	basePath, err := projectDir()
	if err != nil {
		return err
	}
	return initProject(basePath, initForce, cmd.OutOrStdout())
}

// initProject writes the default .devloop/ layout under basePath.
func initProject(basePath string, force bool, out io.Writer) error {
	if existing := config.ConfigPath(basePath); !force && fileExists(existing) {
		return fmt.Errorf("config already exists: %s (use --force to overwrite)", existing)
	}

	path, err := config.WriteDefault(basePath, force)
	if err != nil {
		return err
	}

	sessionsDir := filepath.Join(basePath, session.DefaultDir)
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", sessionsDir, err)
	}

	if err := writeGitignore(filepath.Dir(path)); err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized %s\n", path)
	return nil
}

// fileExists checks if a regular file exists
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func writeGitignore(devloopDir string) error {
	content := `# Session logs
sessions/
# Secrets
.env
`
	path := filepath.Join(devloopDir, ".gitignore")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return nil
}
