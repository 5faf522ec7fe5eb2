// Package webui serves a local status page for headless machines: it
// shows sync progress, accepts the password or two-factor code a
// provider is waiting for, and lets the user skip a watch wait or
// cancel the run from a browser.
package webui

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InputState is the exchange's position in the input handoff.
type InputState string

const (
	// StateNoInput means sync is running and nothing is requested.
	StateNoInput InputState = "no_input_needed"

	// StateNeedPassword means a password provider is blocked waiting
	// for a browser submission.
	StateNeedPassword InputState = "need_password"

	// StateSuppliedPassword means a password arrived and is about to
	// be picked up by the waiting provider.
	StateSuppliedPassword InputState = "supplied_password"

	// StateCheckingPassword means sign-in is running with the
	// submitted password.
	StateCheckingPassword InputState = "checking_password"

	// StateNeedMFA, StateSuppliedMFA, and StateCheckingMFA mirror the
	// password states for the two-factor code.
	StateNeedMFA      InputState = "need_mfa"
	StateSuppliedMFA  InputState = "supplied_mfa"
	StateCheckingMFA  InputState = "checking_mfa"
)

// ErrNotWaiting reports a submission that nothing is waiting for, e.g.
// a stale browser tab posting a code after sign-in already finished.
var ErrNotWaiting = errors.New("webui: no input requested")

// AccountStatus is the browser-visible progress of one account.
type AccountStatus struct {
	Username   string    `json:"username"`
	Stage      string    `json:"stage"`
	Downloaded int       `json:"downloaded"`
	Existed    int       `json:"existed"`
	Errors     int       `json:"errors"`
	Bytes      int64     `json:"bytes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot is the full state the status endpoints serialize.
type Snapshot struct {
	State    InputState      `json:"state"`
	Username string          `json:"username,omitempty"` // whose input is requested
	Accounts []AccountStatus `json:"accounts"`
}

// Exchange is the rendezvous between the sync side (providers blocking
// for input, observers reporting progress) and the HTTP side
// (submissions, status reads). All methods are safe for concurrent
// use.
type Exchange struct {
	mu       sync.Mutex
	state    InputState
	username string         // account whose input is requested
	value    chan string    // single-flight handoff, created per request
	accounts map[string]*AccountStatus

	subs map[chan struct{}]struct{}

	cancelFn func()
	wake     chan struct{}
}

// NewExchange creates an idle exchange.
func NewExchange() *Exchange {
	return &Exchange{
		state:    StateNoInput,
		accounts: make(map[string]*AccountStatus),
		subs:     make(map[chan struct{}]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// RequestPassword blocks until a password is submitted through the
// browser. Implements the provider side of creds.InputSource.
func (e *Exchange) RequestPassword(ctx context.Context, username string) (string, error) {
	return e.request(ctx, username, StateNeedPassword, StateCheckingPassword)
}

// RequestCode blocks until a two-factor code is submitted.
func (e *Exchange) RequestCode(ctx context.Context, username string) (string, error) {
	return e.request(ctx, username, StateNeedMFA, StateCheckingMFA)
}

func (e *Exchange) request(ctx context.Context, username string, need, checking InputState) (string, error) {
	e.mu.Lock()
	e.state = need
	e.username = username
	e.value = make(chan string, 1)
	ch := e.value
	e.mu.Unlock()

	e.notify()

	select {
	case v := <-ch:
		e.setState(checking)

		return v, nil

	case <-ctx.Done():
		e.setState(StateNoInput)

		return "", ctx.Err()
	}
}

// SubmitPassword hands a browser-submitted password to the waiting
// provider.
func (e *Exchange) SubmitPassword(password string) error {
	return e.submit(password, StateNeedPassword, StateSuppliedPassword)
}

// SubmitCode hands a browser-submitted two-factor code to the waiting
// provider.
func (e *Exchange) SubmitCode(code string) error {
	return e.submit(code, StateNeedMFA, StateSuppliedMFA)
}

func (e *Exchange) submit(v string, need, supplied InputState) error {
	e.mu.Lock()

	if e.state != need || e.value == nil {
		e.mu.Unlock()

		return ErrNotWaiting
	}

	e.state = supplied
	ch := e.value
	e.value = nil
	e.mu.Unlock()

	ch <- v // buffered, never blocks

	e.notify()

	return nil
}

// Settle marks the input handoff finished, successfully or not.
func (e *Exchange) Settle() {
	e.setState(StateNoInput)
}

func (e *Exchange) setState(s InputState) {
	e.mu.Lock()
	e.state = s

	if s == StateNoInput {
		e.username = ""
		e.value = nil
	}

	e.mu.Unlock()

	e.notify()
}

// SetStage records what an account is currently doing, e.g.
// "authenticating", "syncing", "waiting", "done".
func (e *Exchange) SetStage(username, stage string) {
	e.update(username, func(a *AccountStatus) {
		a.Stage = stage
	})
}

// AddDownload bumps an account's download counters.
func (e *Exchange) AddDownload(username string, bytes int64) {
	e.update(username, func(a *AccountStatus) {
		a.Downloaded++
		a.Bytes += bytes
	})
}

// AddExisted bumps an account's already-present counter.
func (e *Exchange) AddExisted(username string) {
	e.update(username, func(a *AccountStatus) {
		a.Existed++
	})
}

// AddError bumps an account's error counter.
func (e *Exchange) AddError(username string) {
	e.update(username, func(a *AccountStatus) {
		a.Errors++
	})
}

func (e *Exchange) update(username string, fn func(*AccountStatus)) {
	e.mu.Lock()

	a, ok := e.accounts[username]
	if !ok {
		a = &AccountStatus{Username: username}
		e.accounts[username] = a
	}

	fn(a)
	a.UpdatedAt = time.Now()

	e.mu.Unlock()

	e.notify()
}

// Snapshot returns a copy of the current state for serialization.
func (e *Exchange) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:    e.state,
		Username: e.username,
		Accounts: make([]AccountStatus, 0, len(e.accounts)),
	}

	for _, a := range e.accounts {
		snap.Accounts = append(snap.Accounts, *a)
	}

	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Username < snap.Accounts[j].Username
	})

	return snap
}

// Subscribe returns a channel that receives a tick after every state
// change, and a function to unsubscribe. Slow subscribers coalesce
// ticks instead of blocking the sync side.
func (e *Exchange) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		delete(e.subs, ch)
		e.mu.Unlock()
	}
}

func (e *Exchange) notify() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetCancel registers the function the browser's cancel button calls.
func (e *Exchange) SetCancel(fn func()) {
	e.mu.Lock()
	e.cancelFn = fn
	e.mu.Unlock()
}

// Cancel stops the whole run.
func (e *Exchange) Cancel() {
	e.mu.Lock()
	fn := e.cancelFn
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Wake cuts the current watch wait short so the next pass starts now.
func (e *Exchange) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}

	e.notify()
}

// WakeCh is the channel the watch loop selects on to observe Wake.
func (e *Exchange) WakeCh() <-chan struct{} {
	return e.wake
}
