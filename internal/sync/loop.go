package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Retry tuning. Watch mode retries transient trouble forever; a
// single-shot run gives up after the budget so cron jobs fail loudly
// instead of hanging.
const (
	maxAuthFailures     = 3
	maxTransientRetries = 3

	transientBase = 5 * time.Second
	transientCap  = 10 * time.Minute

	// Rate limiting gets a gentler schedule: hammering a throttled
	// endpoint extends the throttle.
	rateLimitBase = time.Minute
	rateLimitCap  = time.Hour

	// mfaRetryInterval is how often a headless watch re-checks whether
	// someone completed interactive authentication out of band.
	mfaRetryInterval = 5 * time.Minute
)

// RunnerConfig wires one account's pass execution into the retry loop.
type RunnerConfig struct {
	Account *config.Account

	// Auth establishes or re-establishes the session and returns the
	// asset service bound to the configured library.
	Auth func(ctx context.Context) (AssetService, error)

	// Pass runs one reconciliation pass.
	Pass func(ctx context.Context, svc AssetService) (*Report, error)

	// Notify, when set, fires once per authentication outage to tell
	// the user interactive authentication is required.
	Notify func(ctx context.Context)

	// OnReport, when set, receives each completed pass report.
	OnReport func(*Report)

	// OnWait, when set, ticks roughly once a second while waiting
	// between watch passes.
	OnWait func(remaining time.Duration)

	// Wake, when set, ends the current watch wait early so the next
	// pass starts immediately.
	Wake <-chan struct{}

	Logger *slog.Logger
}

// Runner drives one account through authentication, passes, and watch
// waits, retrying what is retryable and failing fast on what is not.
type Runner struct {
	acct     *config.Account
	auth     func(ctx context.Context) (AssetService, error)
	pass     func(ctx context.Context, svc AssetService) (*Report, error)
	notify   func(ctx context.Context)
	onReport func(*Report)
	onWait   func(remaining time.Duration)
	wake     <-chan struct{}
	logger   *slog.Logger

	// Injection points for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
	now    func() time.Time

	notified bool
}

// NewRunner validates the configuration and builds a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Account == nil {
		return nil, errors.New("sync: account required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("sync: auth func required")
	}
	if cfg.Pass == nil {
		return nil, errors.New("sync: pass func required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("sync: logger required")
	}

	return &Runner{
		acct:     cfg.Account,
		auth:     cfg.Auth,
		pass:     cfg.Pass,
		notify:   cfg.Notify,
		onReport: cfg.OnReport,
		onWait:   cfg.OnWait,
		wake:     cfg.Wake,
		logger:   cfg.Logger,
		sleep:    sleepCtx,
		jitter:   randomJitter,
		now:      time.Now,
	}, nil
}

// runState is where the loop resumes after handling an event.
type runState int

const (
	stateInit runState = iota // (re-)authenticate
	statePass                 // run one pass
	stateWait                 // sleep out the watch interval
)

// Run executes the account until done: once in single-shot mode,
// forever in watch mode. Cancellation is a clean exit — a pass cut
// short leaves resumable state behind, which is the normal shape of
// this tool, not a failure.
func (r *Runner) Run(ctx context.Context) error {
	var svc AssetService

	state := stateInit
	authFailures := 0
	transientFailures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		switch state {
		case stateInit:
			s, err := r.auth(ctx)
			if err != nil {
				next, fatal := r.handleAuthError(ctx, err, &authFailures)
				if fatal != nil {
					return fatal
				}

				state = next

				continue
			}

			svc = s
			r.notified = false
			state = statePass

		case statePass:
			report, err := r.pass(ctx, svc)
			if err != nil {
				next, fatal := r.handlePassError(ctx, err, &authFailures, &transientFailures)
				if fatal != nil {
					return fatal
				}

				state = next

				continue
			}

			// Only a completed pass proves the session works; resetting
			// on auth success would let an expire-reauth cycle spin
			// forever.
			authFailures = 0
			transientFailures = 0

			if r.onReport != nil {
				r.onReport(report)
			}

			if !r.watching() {
				return nil
			}

			state = stateWait

		case stateWait:
			if err := r.waitInterval(ctx); err != nil {
				return nil
			}

			state = statePass
		}
	}
}

// handleAuthError decides what an authentication failure means. The
// returned state is where to resume; a non-nil fatal ends the run.
func (r *Runner) handleAuthError(ctx context.Context, err error, authFailures *int) (runState, error) {
	switch {
	case errors.Is(err, context.Canceled):
		return stateInit, nil // loop top exits cleanly

	case errors.Is(err, icloud.ErrMFARequired), errors.Is(err, icloud.ErrMFAFailed):
		r.fireNotify(ctx)

		if !r.watching() {
			return 0, fmt.Errorf("interactive authentication required: %w", err)
		}

		r.logger.Info("waiting for interactive authentication",
			slog.Duration("retry_in", mfaRetryInterval),
		)

		r.sleepOrCancel(ctx, mfaRetryInterval)

		return stateInit, nil

	case errors.Is(err, icloud.ErrAuthFailed):
		*authFailures++

		// Bad credentials do not heal with retries, and hammering the
		// endpoint risks an account lock. Bounded even in watch mode.
		if *authFailures >= maxAuthFailures {
			return 0, fmt.Errorf("authentication failed %d times: %w", *authFailures, err)
		}

		r.logger.Warn("authentication failed, retrying",
			slog.Int("attempt", *authFailures),
			slog.String("error", err.Error()),
		)

		r.sleepOrCancel(ctx, r.backoff(*authFailures, transientBase, transientCap))

		return stateInit, nil

	default:
		*authFailures++

		if !r.watching() && *authFailures > maxTransientRetries {
			return 0, err
		}

		r.logger.Warn("authentication attempt failed, retrying",
			slog.Int("attempt", *authFailures),
			slog.String("error", err.Error()),
		)

		r.sleepOrCancel(ctx, r.backoff(*authFailures, transientBase, transientCap))

		return stateInit, nil
	}
}

// handlePassError decides what a failed pass means.
func (r *Runner) handlePassError(ctx context.Context, err error, authFailures, transientFailures *int) (runState, error) {
	switch {
	case errors.Is(err, context.Canceled):
		return statePass, nil // loop top exits cleanly

	case errors.Is(err, icloud.ErrAuthExpired):
		*authFailures++

		if *authFailures >= maxAuthFailures {
			return 0, fmt.Errorf("session kept expiring: %w", err)
		}

		r.logger.Info("session expired, re-authenticating")

		return stateInit, nil

	case errors.Is(err, icloud.ErrRateLimited):
		*transientFailures++

		if !r.watching() && *transientFailures > maxTransientRetries {
			return 0, err
		}

		d := r.backoff(*transientFailures, rateLimitBase, rateLimitCap)
		r.logger.Warn("rate limited, backing off", slog.Duration("wait", d))
		r.sleepOrCancel(ctx, d)

		return statePass, nil

	case errors.Is(err, icloud.ErrServiceUnavailable):
		*transientFailures++

		if !r.watching() && *transientFailures > maxTransientRetries {
			return 0, err
		}

		d := r.backoff(*transientFailures, transientBase, transientCap)
		r.logger.Warn("service unavailable, backing off", slog.Duration("wait", d))
		r.sleepOrCancel(ctx, d)

		// A fresh session after an outage costs little and rules out
		// half-dead connections.
		return stateInit, nil

	default:
		// Includes ErrNotActivated (library still indexing) and
		// anything unclassified: not retryable here.
		return 0, err
	}
}

// waitInterval sleeps out the watch interval in one-second steps so
// cancellation lands promptly and progress callbacks can tick.
func (r *Runner) waitInterval(ctx context.Context) error {
	interval := r.acct.WatchInterval

	r.logger.Info("waiting before next pass", slog.Duration("interval", interval))

	deadline := r.now().Add(interval)

	for {
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return nil
		}

		select {
		case <-r.wake:
			r.logger.Info("watch wait cut short")

			return nil
		default:
		}

		if r.onWait != nil {
			r.onWait(remaining)
		}

		step := time.Second
		if remaining < step {
			step = remaining
		}

		if err := r.sleep(ctx, step); err != nil {
			return err
		}
	}
}

// fireNotify fires the notification hook once per authentication
// outage. Successful authentication re-arms it.
func (r *Runner) fireNotify(ctx context.Context) {
	if r.notified {
		return
	}

	r.notified = true

	r.logger.Error("interactive authentication required",
		slog.String("username", r.acct.Username),
	)

	if r.notify != nil {
		r.notify(ctx)
	}
}

// backoff is exponential from base, capped, with the top half
// randomized so synchronized accounts do not stampede.
func (r *Runner) backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}

	if d > max {
		d = max
	}

	half := d / 2

	return half + r.jitter(half)
}

func (r *Runner) sleepOrCancel(ctx context.Context, d time.Duration) {
	// A cancelled sleep falls through to the loop-top context check.
	_ = r.sleep(ctx, d)
}

func (r *Runner) watching() bool {
	return r.acct.WatchInterval > 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}

	return rand.N(d)
}
