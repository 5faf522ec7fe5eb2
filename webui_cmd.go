package main

import "github.com/spf13/cobra"

// newWebUICmd is sync with the status server forced on, for setups
// that drive everything from the browser.
func newWebUICmd() *cobra.Command {
	return newAccountCmd("webui",
		"Sync with the status web UI enabled",
		func(args []string) error {
			return runSync(args, true)
		},
	)
}
