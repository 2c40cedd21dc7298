// Package cli implements the enexport command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/logging"
)

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", core.FormatUserError(err))
		fmt.Fprintln(stderr, "Detail:", err)
		return 1
	}
	return 0
}

// app is the state shared by subcommands once the root has loaded config.
type app struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	var (
		envFile  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "enexport",
		Short:         "Download Engaging Networks transaction exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil {
				if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			// stdout carries records
			logging.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &core.ArgumentError{Message: err.Error()}
	})

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of KEY=value settings loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL: debug|info|warn|error")

	cmd.AddCommand(
		downloadCmd(a),
		importCmd(a),
		parseCmd(a),
		versionCmd(a),
	)
	return cmd
}
