package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/icloud-go/internal/config"
)

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits on the second. This gives the engine
// time to finish the current asset and flush the session store on
// first signal, while allowing the user to force-quit if something
// hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal — force exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// watchConfig reloads the holder when the config file changes on disk
// or SIGHUP arrives. Reload failures keep the previous resolution, so
// a half-saved edit cannot take down a running watch.
func watchConfig(ctx context.Context, holder *config.Holder, logger *slog.Logger) {
	path := holder.Resolved().Globals.ConfigPath

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	var events chan fsnotify.Event

	// Editors replace rather than rewrite, so watch the directory and
	// filter on the file name.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
		}
	}

	if err != nil {
		logger.Warn("config file watch unavailable, SIGHUP only",
			slog.String("error", err.Error()))
	}

	go func() {
		defer signal.Stop(hupCh)

		if watcher != nil {
			defer watcher.Close()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reload(holder, logger, "SIGHUP")
			case ev := <-events:
				if ev.Name != path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}

				reload(holder, logger, "file change")
			}
		}
	}()
}

func reload(holder *config.Holder, logger *slog.Logger, cause string) {
	if err := holder.Reload(); err != nil {
		logger.Warn("config reload failed, keeping previous configuration",
			slog.String("cause", cause),
			slog.String("error", err.Error()),
		)

		return
	}

	logger.Info("configuration reloaded", slog.String("cause", cause))
}
