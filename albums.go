package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/sessionstore"
)

func newAlbumsCmd() *cobra.Command {
	return newAccountCmd("albums",
		"List each account's albums and asset counts",
		func(args []string) error {
			return runListing(args, listAlbums)
		},
	)
}

func newLibrariesCmd() *cobra.Command {
	return newAccountCmd("libraries",
		"List each account's private and shared libraries",
		func(args []string) error {
			return runListing(args, listLibraries)
		},
	)
}

// runListing is the shared shell of the read-only listing commands:
// resolve, validate as a listing, authenticate each account, render.
func runListing(args []string, list func(ctx context.Context, auth *authenticator) error) error {
	args, verbose, quiet := extractVerbosity(args)

	res, err := config.Resolve(args, config.ReadEnvOverrides())
	if err != nil {
		return err
	}

	if len(res.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts configured", config.ErrInvalid)
	}

	for _, acct := range res.Accounts {
		if err := config.ValidateRun(acct, true); err != nil {
			return err
		}
	}

	logger, closeLog, err := buildLogger(res.Globals, verbose, quiet)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := shutdownContext(context.Background(), logger)

	for _, acct := range res.Accounts {
		if err := listAccount(ctx, acct, logger, list); err != nil {
			return fmt.Errorf("%s: %w", acct.Username, err)
		}
	}

	return nil
}

func listAccount(ctx context.Context, acct *config.Account, logger *slog.Logger, list func(ctx context.Context, auth *authenticator) error) error {
	store, err := sessionstore.Open(acct.CookieDirectory, acct.Username, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	auth, err := newAuthenticator(acct, store, nil, logger)
	if err != nil {
		return err
	}

	if err := auth.signIn(ctx); err != nil {
		return err
	}

	return list(ctx, auth)
}

func listAlbums(ctx context.Context, auth *authenticator) error {
	lib, err := auth.library(ctx)
	if err != nil {
		return err
	}

	albums, err := lib.Albums(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(albums))
	for name := range albums {
		names = append(names, name)
	}

	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Album", "Assets"})

	for _, name := range names {
		count, err := albums[name].Count(ctx)
		if err != nil {
			return fmt.Errorf("counting album %q: %w", name, err)
		}

		t.AppendRow(table.Row{name, count})
	}

	t.Render()

	return nil
}

func listLibraries(ctx context.Context, auth *authenticator) error {
	photos, err := auth.client.Photos()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Library", "Scope"})

	for _, scope := range []icloud.LibraryScope{icloud.ScopePrivate, icloud.ScopeShared} {
		libs, err := photos.Libraries(ctx, scope)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(libs))
		for name := range libs {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			t.AppendRow(table.Row{name, string(scope)})
		}
	}

	t.Render()

	return nil
}
