package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/index"
	"github.com/tonimelisma/icloud-go/internal/notify"
	"github.com/tonimelisma/icloud-go/internal/sessionstore"
	syncpkg "github.com/tonimelisma/icloud-go/internal/sync"
	"github.com/tonimelisma/icloud-go/internal/webui"
)

func newSyncCmd() *cobra.Command {
	return newAccountCmd("sync",
		"Download the configured accounts' libraries",
		func(args []string) error {
			return runSync(args, false)
		},
	)
}

// runSync resolves configuration, assembles the per-account machinery,
// and drives every account to completion. With forceWebUI the status
// server runs even when no webui provider is configured.
func runSync(args []string, forceWebUI bool) error {
	args, verbose, quiet := extractVerbosity(args)

	res, err := config.Resolve(args, config.ReadEnvOverrides())
	if err != nil {
		return err
	}

	if len(res.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts configured", config.ErrInvalid)
	}

	for _, acct := range res.Accounts {
		if err := config.ValidateRun(acct, false); err != nil {
			return err
		}
	}

	logger, closeLog, err := buildLogger(res.Globals, verbose, quiet)
	if err != nil {
		return err
	}
	defer closeLog()

	holder := config.NewHolder(res, args)

	ctx, cancel := context.WithCancel(shutdownContext(context.Background(), logger))
	defer cancel()

	d := &driver{
		holder:   holder,
		progress: newProgress(quiet),
		logger:   logger,
	}

	group, gctx := errgroup.WithContext(ctx)

	if forceWebUI || res.Globals.WebUI || anyWebUIProvider(res.Accounts) {
		d.exchange = webui.NewExchange()
		d.metrics = webui.NewMetrics()
		d.exchange.SetCancel(cancel)

		server := webui.NewServer(res.Globals.WebUIListen, d.exchange, d.metrics, logger)

		group.Go(func() error {
			return server.Run(gctx)
		})
	}

	if anyWatching(res.Accounts) {
		watchConfig(gctx, holder, logger)
	}

	group.Go(func() error {
		// The server has no reason to outlive the accounts.
		defer cancel()

		return d.run(gctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// anyWebUIProvider reports whether any account routes passwords or
// two-factor codes through the browser.
func anyWebUIProvider(accounts []*config.Account) bool {
	for _, acct := range accounts {
		if acct.MFAProvider == "webui" || slices.Contains(acct.PasswordProviders, "webui") {
			return true
		}
	}

	return false
}

func anyWatching(accounts []*config.Account) bool {
	for _, acct := range accounts {
		if acct.WatchInterval > 0 {
			return true
		}
	}

	return false
}

// driver owns the process-wide pieces every account shares: the config
// holder, the optional web UI surfaces, and terminal progress. It
// feeds the orchestrator one runner configuration per account and
// releases each account's resources as it finishes.
type driver struct {
	holder   *config.Holder
	exchange *webui.Exchange
	metrics  *webui.Metrics
	progress *progress
	logger   *slog.Logger

	// closers hold the open session store and ledger of the account
	// currently running. Accounts are sequential, so a plain stack
	// drained in accountDone is enough.
	closers []func() error
}

func (d *driver) run(ctx context.Context) error {
	orch, err := syncpkg.NewOrchestrator(syncpkg.OrchestratorConfig{
		Accounts: d.holder.Resolved().Accounts,
		Build:    d.buildRunner,
		OnResult: d.accountDone,
		Logger:   d.logger,
	})
	if err != nil {
		return err
	}

	return orch.Run(ctx)
}

// buildRunner assembles one account's session store, client, engine,
// and notifier into a runner configuration.
func (d *driver) buildRunner(acct *config.Account) (syncpkg.RunnerConfig, error) {
	store, err := sessionstore.Open(acct.CookieDirectory, acct.Username, d.logger)
	if err != nil {
		return syncpkg.RunnerConfig{}, err
	}

	d.closers = append(d.closers, store.Close)

	auth, err := newAuthenticator(acct, store, d.exchange, d.logger)
	if err != nil {
		return syncpkg.RunnerConfig{}, err
	}

	ix := index.New(d.logger)
	ledger := d.openLedger(acct, ix)

	engine, err := syncpkg.NewEngine(syncpkg.EngineConfig{
		Account:   acct,
		Index:     ix,
		Ledger:    ledger,
		Transport: auth.client,
		Reauth:    auth.reauth,
		Observer:  d.observer(acct.Username),
		Logger:    d.logger,
	})
	if err != nil {
		return syncpkg.RunnerConfig{}, err
	}

	notifier := notifiersFor(acct, d.logger)

	cfg := syncpkg.RunnerConfig{
		Account:  acct,
		Auth:     auth.establish,
		Pass:     d.passFunc(acct, engine),
		OnReport: d.reportFunc(acct.Username),
		OnWait:   d.progress.Wait,
		Logger:   d.logger,
	}

	if !notifier.Empty() {
		cfg.Notify = func(ctx context.Context) {
			notifier.AuthExpired(ctx, acct.Username)
		}
	}

	if d.exchange != nil {
		cfg.Wake = d.exchange.WakeCh()
	}

	return cfg, nil
}

// openLedger attaches the file cache to the index in watch mode, where
// repeated passes over an unchanged tree dominate. A broken cache
// degrades to direct disk probing rather than failing the account.
func (d *driver) openLedger(acct *config.Account, ix *index.Index) *index.Ledger {
	if acct.WatchInterval == 0 || acct.DryRun || acct.AuthOnly {
		return nil
	}

	path := ledgerPath(acct.Username, acct.Directory)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.logger.Warn("file cache directory unavailable", slog.String("error", err.Error()))

		return nil
	}

	ledger, err := index.NewLedger(path, d.logger)
	if err != nil {
		d.logger.Warn("file cache unavailable, probing disk directly",
			slog.String("error", err.Error()))

		return nil
	}

	ix.UseLedger(ledger)
	d.closers = append(d.closers, ledger.Close)

	return ledger
}

// ledgerPath derives a stable per-configuration cache database path.
// The directory hash keeps two configurations of the same username
// (photos and videos into separate trees) from sharing a cache.
func ledgerPath(username, directory string) string {
	sum := sha256.Sum256([]byte(directory))

	name := fmt.Sprintf("%s-%x.db", sessionstore.Key(username), sum[:6])

	return filepath.Join(config.DefaultDataDir(), "cache", name)
}

// passFunc wraps the engine pass with pause checking, web UI staging,
// and metrics. The pause flag is re-read from the holder each pass so
// `icloud-go config pause` takes effect at the next interval without a
// restart.
func (d *driver) passFunc(acct *config.Account, engine *syncpkg.Engine) func(context.Context, syncpkg.AssetService) (*syncpkg.Report, error) {
	return func(ctx context.Context, svc syncpkg.AssetService) (*syncpkg.Report, error) {
		if acct.AuthOnly {
			return &syncpkg.Report{}, nil
		}

		if d.pausedNow(acct.Username) {
			d.logger.Info("account paused, skipping pass", slog.String("username", acct.Username))

			return &syncpkg.Report{}, nil
		}

		if d.metrics != nil {
			d.metrics.PassStarted(acct.Username)
		}

		if d.exchange != nil {
			d.exchange.SetStage(acct.Username, "syncing")
		}

		rep, err := engine.RunPass(ctx, svc)

		if d.exchange != nil {
			d.exchange.SetStage(acct.Username, "idle")
		}

		if rep != nil && d.metrics != nil {
			d.metrics.PassFinished(acct.Username, rep, time.Now().Unix())
		}

		return rep, err
	}
}

// pausedNow consults the current (possibly reloaded) resolution for
// the account's pause flag.
func (d *driver) pausedNow(username string) bool {
	for _, acct := range d.holder.Resolved().Accounts {
		if acct.Username == username {
			return acct.Paused
		}
	}

	return false
}

func (d *driver) reportFunc(username string) func(*syncpkg.Report) {
	return func(rep *syncpkg.Report) {
		attrs := append([]any{slog.String("username", username)}, rep.LogAttrs()...)
		d.logger.Info("pass complete", attrs...)
	}
}

// observer fans engine events out to the terminal, the web UI, and
// metrics.
func (d *driver) observer(username string) syncpkg.Observer {
	return func(ev syncpkg.AssetEvent) {
		d.progress.Event(ev)

		if d.metrics != nil {
			d.metrics.ObserveEvent(username, ev)
		}

		if d.exchange == nil {
			return
		}

		switch ev.Kind {
		case syncpkg.EventDownloaded:
			d.exchange.AddDownload(username, ev.Bytes)
		case syncpkg.EventExisted:
			d.exchange.AddExisted(username)
		case syncpkg.EventWouldDownload, syncpkg.EventAllSizesComplete:
		}
	}
}

// accountDone releases the finished account's session store and
// ledger. The store's lock must drop before a second configuration of
// the same username opens it.
func (d *driver) accountDone(res syncpkg.AccountResult) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("closing account resources", slog.String("error", err.Error()))
		}
	}

	d.closers = d.closers[:0]

	if d.exchange != nil {
		stage := "done"
		if res.Err != nil {
			stage = "failed"
			d.exchange.AddError(res.Username)
		}

		d.exchange.SetStage(res.Username, stage)
	}
}

// notifiersFor builds the account's re-authentication alert fan-out
// from whichever channels are configured.
func notifiersFor(acct *config.Account, logger *slog.Logger) *notify.Multi {
	var notifiers []notify.Notifier

	if acct.NotificationEmail != "" {
		notifiers = append(notifiers, &notify.SMTP{
			Host:     acct.SMTPHost,
			Port:     acct.SMTPPort,
			Username: acct.SMTPUsername,
			Password: acct.SMTPPassword,
			NoTLS:    acct.SMTPNoTLS,
			To:       acct.NotificationEmail,
			From:     acct.NotificationEmailFrom,
		})
	}

	if acct.NotificationScript != "" {
		notifiers = append(notifiers, &notify.Script{Path: acct.NotificationScript})
	}

	if acct.NtfyTopic != "" {
		notifiers = append(notifiers, &notify.Ntfy{
			Server: acct.NtfyServer,
			Topic:  acct.NtfyTopic,
		})
	}

	return notify.NewMulti(notifiers, logger)
}
