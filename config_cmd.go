package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
)

// newConfigCmd groups config file management: careful, surgical edits
// that preserve the user's comments and formatting.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var configPath string

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	path := func() string {
		if configPath != "" {
			return configPath
		}

		if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
			return env.ConfigPath
		}

		return config.DefaultConfigPath()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the effective config file path",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(path())

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented config file template",
		RunE: func(_ *cobra.Command, _ []string) error {
			p := path()

			if err := config.WriteTemplate(p); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", p)

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <username> <directory>",
		Short: "Append an account block to the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return config.AppendAccountSection(path(), args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <username>",
		Short: "Pause an account; a running watch skips it at the next pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return config.SetAccountKey(path(), args[0], "paused", "true")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <username>",
		Short: "Resume a paused account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return config.SetAccountKey(path(), args[0], "paused", "false")
		},
	})

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// newConfigShowCmd renders the fully layered configuration, secrets
// masked. It takes the same argv surface as sync so the effect of any
// flag combination can be inspected.
func newConfigShowCmd() *cobra.Command {
	return newAccountCmd("show",
		"Render the effective configuration after all layers",
		func(args []string) error {
			args, _, _ = extractVerbosity(args)

			res, err := config.Resolve(args, config.ReadEnvOverrides())
			if err != nil {
				return err
			}

			return config.RenderEffective(res, os.Stdout)
		},
	)
}
