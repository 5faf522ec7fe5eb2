// Package creds acquires passwords and two-factor codes for sign-in.
// Password providers form an ordered chain: the first one that yields
// a password wins, and a password that authenticates successfully is
// offered back to every provider that can store it, so the keyring
// fills itself after one interactive run.
package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoPassword means every provider in the chain came up empty.
var ErrNoPassword = errors.New("creds: no provider produced a password")

// PasswordProvider is one source of the account password. A provider
// that has nothing for the username returns ok=false with a nil error
// and the chain moves on; an error stops the chain.
type PasswordProvider interface {
	Name() string
	Password(ctx context.Context, username string) (password string, ok bool, err error)
}

// Storer is implemented by providers that can remember an accepted
// password for the next run.
type Storer interface {
	StorePassword(username, password string) error
}

// MFAProvider obtains a two-factor verification code from the user.
type MFAProvider interface {
	Code(ctx context.Context, username string) (string, error)
}

// InputSource is the interactive half the web UI supplies: it blocks
// until a user submits the requested value through the browser.
type InputSource interface {
	RequestPassword(ctx context.Context, username string) (string, error)
	RequestCode(ctx context.Context, username string) (string, error)
}

// Chain tries providers in configured order.
type Chain struct {
	providers []PasswordProvider
	logger    *slog.Logger
}

// NewChain builds a chain over the given providers.
func NewChain(providers []PasswordProvider, logger *slog.Logger) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// Password walks the chain and returns the first password produced.
func (c *Chain) Password(ctx context.Context, username string) (string, error) {
	for _, p := range c.providers {
		password, ok, err := p.Password(ctx, username)
		if err != nil {
			return "", fmt.Errorf("creds: %s provider: %w", p.Name(), err)
		}

		if !ok {
			continue
		}

		c.logger.Debug("password obtained",
			slog.String("provider", p.Name()),
			slog.String("username", username),
		)

		return password, nil
	}

	return "", ErrNoPassword
}

// Accept offers an authenticated password back to every storing
// provider. Storage failures are logged, never fatal: the session that
// just authenticated is worth more than the cache.
func (c *Chain) Accept(username, password string) {
	for _, p := range c.providers {
		s, ok := p.(Storer)
		if !ok {
			continue
		}

		if err := s.StorePassword(username, password); err != nil {
			c.logger.Warn("storing password failed",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
