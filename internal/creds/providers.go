package creds

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// keyringService is the service name the OS keyring files passwords
// under.
const keyringService = "icloud-go"

// openKeyringFunc is swapped in tests for an in-memory keyring.
var openKeyringFunc = func() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
}

// Parameter serves the password given on the command line or in the
// config file. Empty means not configured and the chain moves on.
type Parameter struct {
	Value string
}

func (Parameter) Name() string { return "parameter" }

func (p Parameter) Password(_ context.Context, _ string) (string, bool, error) {
	if p.Value == "" {
		return "", false, nil
	}

	return p.Value, true, nil
}

// Keyring reads and stores passwords in the OS keyring. The ring is
// opened lazily so accounts that never reach this provider do not
// trigger a keychain unlock prompt.
type Keyring struct {
	ring keyring.Keyring
}

// NewKeyring wraps an explicit ring, used by tests with
// keyring.NewArrayKeyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (*Keyring) Name() string { return "keyring" }

func (k *Keyring) open() error {
	if k.ring != nil {
		return nil
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}

	k.ring = ring

	return nil
}

func (k *Keyring) Password(_ context.Context, username string) (string, bool, error) {
	if err := k.open(); err != nil {
		return "", false, err
	}

	item, err := k.ring.Get(username)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("reading keyring: %w", err)
	}

	return string(item.Data), true, nil
}

// StorePassword remembers an authenticated password for the next run.
func (k *Keyring) StorePassword(username, password string) error {
	if err := k.open(); err != nil {
		return err
	}

	err := k.ring.Set(keyring.Item{
		Key:   username,
		Label: keyringService + ": " + username,
		Data:  []byte(password),
	})
	if err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}

	return nil
}

// WebUI defers to the browser: the provider blocks until someone
// submits the password through the status page.
type WebUI struct {
	Input InputSource
}

func (WebUI) Name() string { return "webui" }

func (w WebUI) Password(ctx context.Context, username string) (string, bool, error) {
	password, err := w.Input.RequestPassword(ctx, username)
	if err != nil {
		return "", false, err
	}

	return password, true, nil
}

// WebUIMFA obtains the two-factor code through the browser.
type WebUIMFA struct {
	Input InputSource
}

func (w WebUIMFA) Code(ctx context.Context, username string) (string, error) {
	return w.Input.RequestCode(ctx, username)
}
