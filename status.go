package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/sessionstore"
)

func newStatusCmd() *cobra.Command {
	return newAccountCmd("status",
		"Show each configured account's session and sync settings",
		runStatus,
	)
}

func runStatus(args []string) error {
	args, verbose, quiet := extractVerbosity(args)

	res, err := config.Resolve(args, config.ReadEnvOverrides())
	if err != nil {
		return err
	}

	logger, closeLog, err := buildLogger(res.Globals, verbose, quiet)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Debug("rendering status", "accounts", len(res.Accounts))

	if len(res.Accounts) == 0 {
		statusf(quiet, "No accounts configured. Run 'icloud-go config init' to create a config file.\n")

		return nil
	}

	renderStatus(os.Stdout, res.Accounts)

	return nil
}

func renderStatus(out *os.File, accounts []*config.Account) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Username", "Session", "Directory", "Watch", "Paused"})

	for _, acct := range accounts {
		t.AppendRow(table.Row{
			acct.Username,
			sessionSummary(acct),
			acct.Directory,
			watchSummary(acct.WatchInterval),
			boolSummary(acct.Paused),
		})
	}

	t.Render()
}

// sessionSummary describes the stored session without opening the
// store, so a running watch keeps its lock undisturbed.
func sessionSummary(acct *config.Account) string {
	path := filepath.Join(acct.CookieDirectory, sessionstore.Key(acct.Username)+".session")

	info, err := os.Stat(path)
	if err != nil {
		return "none"
	}

	return "saved " + formatTime(info.ModTime())
}

func watchSummary(interval time.Duration) string {
	if interval == 0 {
		return "off"
	}

	return fmt.Sprintf("every %s", interval)
}

func boolSummary(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
