package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// scriptTimeout bounds a hung notification script so it cannot stall
// the sync loop behind it.
const scriptTimeout = 2 * time.Minute

// Script runs an external command when re-authentication is needed.
// The username arrives in ICLOUD_USERNAME so one script can serve
// several accounts.
type Script struct {
	Path string
}

func (*Script) Name() string { return "script" }

// AuthExpired executes the script.
func (s *Script) AuthExpired(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Path)
	cmd.Env = append(os.Environ(), "ICLOUD_USERNAME="+username)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notify: running %s: %w", s.Path, err)
	}

	return nil
}
