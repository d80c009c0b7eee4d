package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/config"
	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/logging"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg *config.Config

// logger is built from cfg.Log; never writes to stdout.
var logger = zap.NewNop()

var closeLog = func() error { return nil }

// workDir overrides the project directory for non-hook commands.
var workDir string

var rootCmd = &cobra.Command{
	Use:          "stopgate",
	Short:        "Quality gate that decides whether a coding agent may stop",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir("")
		if err != nil {
			return err
		}

		c, err := config.Load(dir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c

		l, closer, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		logger = l.With(zap.String("command", cmd.Name()))
		closeLog = closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_ = closeLog()
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() *config.Config {
	if cfg == nil {
		d := config.Defaults()
		return &d
	}
	return cfg
}

// projectDir picks the hook's cwd when given, then --dir, then the process
// working directory.
func projectDir(hookCwd string) (string, error) {
	switch {
	case hookCwd != "":
		return hookCwd, nil
	case workDir != "":
		return workDir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return dir, nil
}

// openStore initializes the ledger kept under dir.
func openStore(dir string) (*ledger.Store, error) {
	c := GetConfig()
	backend, err := ledger.NewDiskBackend(c.LedgerDir(dir), c.Storage.LedgerFile)
	if err != nil {
		return nil, err
	}
	store := ledger.NewStore(backend, ledger.Options{
		ArchiveCorrupted: c.Storage.ArchiveCorrupted,
		Logger:           logger,
	})
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	return store, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "project directory (default: current directory)")
}
