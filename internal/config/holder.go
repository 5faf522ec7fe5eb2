package config

import "sync"

// Holder provides thread-safe access to a mutable *Resolved and an
// immutable raw argument list. The watch loop and the web UI both read
// through a shared Holder, so SIGHUP reload updates configuration in
// exactly one place.
type Holder struct {
	mu   sync.RWMutex
	res  *Resolved
	args []string // immutable after construction; replayed on reload
}

// NewHolder creates a Holder with the initial resolution and the raw
// CLI arguments it was resolved from.
func NewHolder(res *Resolved, args []string) *Holder {
	return &Holder{res: res, args: args}
}

// Resolved returns the current resolution snapshot.
func (h *Holder) Resolved() *Resolved {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.res
}

// Reload re-runs the full override chain with the original arguments,
// picking up config file edits. On error the previous resolution stays
// in place and the error is returned for logging.
func (h *Holder) Reload() error {
	res, err := Resolve(h.args, ReadEnvOverrides())
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.res = res
	h.mu.Unlock()

	return nil
}
