package creds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Console prompts for the password on the controlling terminal with
// echo disabled. On a non-TTY (cron, pipeline) it yields nothing so a
// misconfigured headless run fails with ErrNoPassword instead of
// hanging on a prompt nobody sees.
type Console struct {
	// In and Out default to stdin/stderr. Tests substitute pipes.
	In  *os.File
	Out io.Writer
}

func (Console) Name() string { return "console" }

func (c Console) Password(ctx context.Context, username string) (string, bool, error) {
	in, out := c.streams()

	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return "", false, nil
	}

	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	fmt.Fprintf(out, "Enter iCloud password for %s: ", username)

	password, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)

	if err != nil {
		return "", false, fmt.Errorf("reading password: %w", err)
	}

	return string(password), true, nil
}

func (c Console) streams() (*os.File, io.Writer) {
	in := c.In
	if in == nil {
		in = os.Stdin
	}

	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	return in, out
}

// ConsoleMFA reads the two-factor code from standard input. Unlike the
// password prompt this reads a plain line: verification codes are not
// secrets worth hiding and echo helps against typos.
type ConsoleMFA struct {
	In  io.Reader
	Out io.Writer
}

func (c ConsoleMFA) Code(ctx context.Context, username string) (string, error) {
	in := c.In
	if in == nil {
		in = os.Stdin
	}

	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(out, "Enter two-factor code for %s: ", username)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading verification code: %w", err)
	}

	return strings.TrimSpace(line), nil
}
