package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/creds"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/sessionstore"
	syncpkg "github.com/tonimelisma/icloud-go/internal/sync"
	"github.com/tonimelisma/icloud-go/internal/webui"
)

func newAuthCmd() *cobra.Command {
	return newAccountCmd("auth",
		"Authenticate each configured account and store the session",
		runAuth,
	)
}

func runAuth(args []string) error {
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

	if len(res.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts configured", config.ErrInvalid)
	}

	ctx := shutdownContext(context.Background(), logger)

	for _, acct := range res.Accounts {
		if err := authenticateAccount(ctx, acct, logger); err != nil {
			return fmt.Errorf("authenticating %s: %w", acct.Username, err)
		}

		statusf(quiet, "Authenticated %s.\n", acct.Username)
	}

	return nil
}

// authenticateAccount signs one account in, persisting the session,
// and releases the session store before returning so a following
// command (or account block sharing the username) can take the lock.
func authenticateAccount(ctx context.Context, acct *config.Account, logger *slog.Logger) error {
	store, err := sessionstore.Open(acct.CookieDirectory, acct.Username, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	auth, err := newAuthenticator(acct, store, nil, logger)
	if err != nil {
		return err
	}

	return auth.signIn(ctx)
}

// authenticator drives interactive sign-in for one account: password
// provider chain, two-factor code, legacy two-step fallback, and
// keyring write-back. The sync loop reuses one instance across
// re-authentication cycles.
type authenticator struct {
	acct     *config.Account
	client   *icloud.Client
	chain    *creds.Chain
	mfa      creds.MFAProvider
	exchange *webui.Exchange
	logger   *slog.Logger
}

// newAuthenticator builds the sign-in glue around a fresh client bound
// to the given session store. exchange may be nil when the web UI is
// not running.
func newAuthenticator(acct *config.Account, store *sessionstore.Store, exchange *webui.Exchange, logger *slog.Logger) (*authenticator, error) {
	client, err := icloud.NewClient(icloud.Options{
		Domain:     acct.Domain,
		Username:   acct.Username,
		Store:      store,
		HTTPClient: &http.Client{Timeout: acct.RequestTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var mfa creds.MFAProvider = creds.ConsoleMFA{}
	if acct.MFAProvider == "webui" && exchange != nil {
		mfa = creds.WebUIMFA{Input: exchange}
	}

	return &authenticator{
		acct:     acct,
		client:   client,
		chain:    creds.NewChain(providersFor(acct, exchange), logger),
		mfa:      mfa,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// providersFor maps configured provider names onto implementations, in
// the configured order. Unknown names were rejected at validation.
func providersFor(acct *config.Account, exchange *webui.Exchange) []creds.PasswordProvider {
	providers := make([]creds.PasswordProvider, 0, len(acct.PasswordProviders))

	for _, name := range acct.PasswordProviders {
		switch name {
		case "parameter":
			providers = append(providers, creds.Parameter{Value: acct.Password})
		case "keyring":
			providers = append(providers, creds.NewKeyring(nil))
		case "console":
			providers = append(providers, creds.Console{})
		case "webui":
			if exchange != nil {
				providers = append(providers, creds.WebUI{Input: exchange})
			}
		}
	}

	return providers
}

// establish signs in, reusing the stored session when it still
// validates, and returns the asset service bound to the configured
// library. This is the sync loop's Auth hook.
func (a *authenticator) establish(ctx context.Context) (syncpkg.AssetService, error) {
	if err := a.signIn(ctx); err != nil {
		return nil, err
	}

	lib, err := a.library(ctx)
	if err != nil {
		return nil, err
	}

	if err := lib.CheckIndexing(ctx); err != nil {
		return nil, err
	}

	return &syncpkg.LibraryService{Lib: lib}, nil
}

// reauth refreshes an expired session mid-pass without re-binding the
// library.
func (a *authenticator) reauth(ctx context.Context) error {
	return a.signIn(ctx)
}

func (a *authenticator) signIn(ctx context.Context) error {
	// Capture the password the chain produced so it can be offered
	// back to storing providers once it is known to work. Warm starts
	// never invoke the chain and never write back.
	var used string

	state, err := a.client.Authenticate(ctx, func() (string, error) {
		password, err := a.chain.Password(ctx, a.acct.Username)
		used = password

		return password, err
	})
	if err != nil {
		return err
	}

	switch state {
	case icloud.AuthOK:
	case icloud.AuthNeeds2FA:
		err = a.completeMFA(ctx)
	case icloud.AuthNeeds2SA:
		err = a.completeTwoStep(ctx)
	}

	if a.exchange != nil {
		a.exchange.Settle()
	}

	if err != nil {
		return err
	}

	if used != "" {
		a.chain.Accept(a.acct.Username, used)
	}

	return nil
}

// completeMFA runs the trusted-device two-factor exchange and trusts
// the session so the next sign-in skips the code.
func (a *authenticator) completeMFA(ctx context.Context) error {
	code, err := a.mfa.Code(ctx, a.acct.Username)
	if err != nil {
		return fmt.Errorf("obtaining verification code: %w", err)
	}

	ok, err := a.client.ValidateCode2FA(ctx, code)
	if err != nil {
		return err
	}

	if !ok {
		return icloud.ErrMFAFailed
	}

	if err := a.client.TrustSession(ctx); err != nil {
		a.logger.Warn("trusting session failed, the code will be asked again",
			slog.String("error", err.Error()))
	}

	return nil
}

// completeTwoStep handles legacy two-step verification: a trusted
// device when one exists, SMS to the first trusted phone otherwise.
func (a *authenticator) completeTwoStep(ctx context.Context) error {
	devices, err := a.client.TrustedDevices(ctx)
	if err != nil {
		return err
	}

	if len(devices) > 0 {
		return a.twoStepDevice(ctx, devices[0])
	}

	return a.twoStepSMS(ctx)
}

func (a *authenticator) twoStepDevice(ctx context.Context, device icloud.TrustedDevice) error {
	a.logger.Info("sending verification code", slog.String("device", device.Label()))

	if ok, err := a.client.SendVerificationCode(ctx, device); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: device refused to send a code", icloud.ErrMFAFailed)
	}

	code, err := a.mfa.Code(ctx, a.acct.Username)
	if err != nil {
		return fmt.Errorf("obtaining verification code: %w", err)
	}

	ok, err := a.client.ValidateVerificationCode(ctx, device, code)
	if err != nil {
		return err
	}

	if !ok {
		return icloud.ErrMFAFailed
	}

	return nil
}

func (a *authenticator) twoStepSMS(ctx context.Context) error {
	phones, err := a.client.TrustedPhoneNumbers(ctx)
	if err != nil {
		return err
	}

	if len(phones) == 0 {
		return fmt.Errorf("%w: no trusted device or phone available", icloud.ErrMFAFailed)
	}

	phone := phones[0]

	a.logger.Info("sending SMS code", slog.String("number", phone.ObfuscatedNumber))

	if err := a.client.SendSMSCode(ctx, phone.ID); err != nil {
		return err
	}

	code, err := a.mfa.Code(ctx, a.acct.Username)
	if err != nil {
		return fmt.Errorf("obtaining verification code: %w", err)
	}

	ok, err := a.client.ValidateSMSCode(ctx, phone.ID, code)
	if err != nil {
		return err
	}

	if !ok {
		return icloud.ErrMFAFailed
	}

	return nil
}

// library resolves the configured library zone: the primary library by
// default, otherwise a named zone looked up in the private scope first
// and the shared scope second.
func (a *authenticator) library(ctx context.Context) (*icloud.Library, error) {
	photos, err := a.client.Photos()
	if err != nil {
		return nil, err
	}

	if a.acct.Library == "" || a.acct.Library == "PrimarySync" {
		return photos.PrimaryLibrary(), nil
	}

	for _, scope := range []icloud.LibraryScope{icloud.ScopePrivate, icloud.ScopeShared} {
		libs, err := photos.Libraries(ctx, scope)
		if err != nil {
			return nil, err
		}

		if lib, ok := libs[a.acct.Library]; ok {
			return lib, nil
		}
	}

	return nil, fmt.Errorf("%w: library %q", icloud.ErrNotFound, a.acct.Library)
}
