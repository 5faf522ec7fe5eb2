package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
)

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "icloud-go",
		Short:   "iCloud Photos download and sync client",
		Long:    "Download your iCloud photo library and keep a local mirror of it.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newAlbumsCmd())
	cmd.AddCommand(newLibrariesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newWebUICmd())

	return cmd
}

// newAccountCmd builds a command that owns its argument parsing. The
// layered resolver consumes raw argv because a repeated --username
// opens a new account block, which cobra's one-pass flag parsing
// cannot express. The full flag surface is still registered against
// throwaway targets so help output lists it.
func newAccountCmd(use, short string, run func(args []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:                use,
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hasHelpFlag(args) {
				return cmd.Help()
			}

			return run(args)
		},
	}

	opts := config.DefaultOptions()
	globals := config.DefaultGlobals()
	config.RegisterAccountFlags(cmd.Flags(), &opts)
	config.RegisterGlobalFlags(cmd.Flags(), &globals)
	registerVerbosityFlags(cmd)

	return cmd
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}

	return false
}

// registerVerbosityFlags declares --verbose/--quiet for help output.
// The values are unused; extractVerbosity pulls the tokens out of argv
// before the resolver sees them.
func registerVerbosityFlags(cmd *cobra.Command) {
	var v, q bool

	cmd.Flags().BoolVarP(&v, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&q, "quiet", "q", false, "suppress informational output")
}

// extractVerbosity strips --verbose/--quiet from argv and reports
// them. They are process-wide logging switches, not account options,
// so the layered resolver never sees them.
func extractVerbosity(args []string) (rest []string, verbose, quiet bool) {
	rest = make([]string, 0, len(args))

	for _, a := range args {
		switch a {
		case "--verbose", "-v":
			verbose = true
		case "--quiet", "-q":
			quiet = true
		default:
			rest = append(rest, a)
		}
	}

	return rest, verbose, quiet
}

// buildLogger creates an slog.Logger from the resolved globals.
// Config-file log level provides the baseline; --verbose and --quiet
// override it because CLI flags always win. The returned closer
// releases the log file, if one was opened.
func buildLogger(g config.Globals, verbose, quiet bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo

	switch g.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if verbose {
		level = slog.LevelDebug
	}

	if quiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr

	closer := func() {}

	if g.LogFile != "" {
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out = f
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if g.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closer, nil
}
