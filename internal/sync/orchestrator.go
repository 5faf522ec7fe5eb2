package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/icloud-go/internal/config"
)

// AccountResult is the outcome of one account's run. Report is the
// last completed pass; Report and Err are mutually exclusive.
type AccountResult struct {
	Username string
	Report   *Report
	Err      error
}

// OrchestratorConfig wires account construction into the sequential
// multi-account run.
type OrchestratorConfig struct {
	Accounts []*config.Account

	// Build assembles the runner configuration for one account:
	// session store, transport, authentication glue, callbacks.
	Build func(acct *config.Account) (RunnerConfig, error)

	// OnResult, when set, receives each account's result as it
	// finishes.
	OnResult func(AccountResult)

	Logger *slog.Logger
}

// Orchestrator runs every configured account in turn. Accounts are
// strictly sequential: each gets the full bandwidth and its own
// session, and a failure in one cannot corrupt another's state.
type Orchestrator struct {
	accounts []*config.Account
	build    func(acct *config.Account) (RunnerConfig, error)
	onResult func(AccountResult)
	logger   *slog.Logger
}

// NewOrchestrator validates the configuration and builds an
// orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Build == nil {
		return nil, errors.New("sync: build func required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("sync: logger required")
	}

	return &Orchestrator{
		accounts: cfg.Accounts,
		build:    cfg.Build,
		onResult: cfg.OnResult,
		logger:   cfg.Logger,
	}, nil
}

// Run syncs each non-paused account to completion. Cancellation stops
// before the next account and exits cleanly; per-account failures are
// collected and reported at the end so one broken account does not
// starve the rest.
func (o *Orchestrator) Run(ctx context.Context) error {
	failed := 0
	ran := 0

	for _, acct := range o.accounts {
		if ctx.Err() != nil {
			break
		}

		if acct.Paused {
			o.logger.Info("account paused, skipping", slog.String("username", acct.Username))

			continue
		}

		ran++

		o.logger.Info("syncing account", slog.String("username", acct.Username))

		res := o.runAccount(ctx, acct)

		if o.onResult != nil {
			o.onResult(res)
		}

		if res.Err != nil {
			failed++
			o.logger.Error("account sync failed",
				slog.String("username", acct.Username),
				slog.String("error", res.Err.Error()),
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("sync: %d of %d accounts failed", failed, ran)
	}

	return nil
}

func (o *Orchestrator) runAccount(ctx context.Context, acct *config.Account) (result AccountResult) {
	result.Username = acct.Username

	// A panic in one account must not take down the others.
	defer func() {
		if r := recover(); r != nil {
			result.Report = nil
			result.Err = fmt.Errorf("panic syncing account %s: %v", acct.Username, r)
		}
	}()

	cfg, err := o.build(acct)
	if err != nil {
		result.Err = err

		return result
	}

	// Capture the last pass report without displacing the caller's
	// callback.
	callerReport := cfg.OnReport
	cfg.OnReport = func(rep *Report) {
		result.Report = rep

		if callerReport != nil {
			callerReport(rep)
		}
	}

	runner, err := NewRunner(cfg)
	if err != nil {
		result.Err = err

		return result
	}

	result.Err = runner.Run(ctx)
	if result.Err != nil {
		result.Report = nil
	}

	return result
}
