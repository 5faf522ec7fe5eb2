package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/icloud-go/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// progress renders transient human feedback on the controlling
// terminal: per-download lines and the watch-wait countdown. On a
// non-TTY (cron, systemd) it stays silent and the structured log is
// the only output.
type progress struct {
	out   io.Writer
	tty   bool
	quiet bool

	// dirty is set while a countdown line occupies the current row.
	dirty bool
}

func newProgress(quiet bool) *progress {
	return &progress{
		out:   os.Stderr,
		tty:   isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		quiet: quiet,
	}
}

// Event prints one reconciliation outcome.
func (p *progress) Event(ev sync.AssetEvent) {
	if !p.tty || p.quiet {
		return
	}

	switch ev.Kind {
	case sync.EventDownloaded:
		p.clear()
		fmt.Fprintf(p.out, "downloaded %s (%s)\n", ev.Path, humanize.Bytes(uint64(ev.Bytes)))
	case sync.EventWouldDownload:
		p.clear()
		fmt.Fprintf(p.out, "would download %s\n", ev.Path)
	case sync.EventExisted, sync.EventAllSizesComplete:
		// Quiet outcomes; the pass report carries the totals.
	}
}

// Wait overwrites the current row with the remaining watch interval.
func (p *progress) Wait(remaining time.Duration) {
	if !p.tty || p.quiet {
		return
	}

	fmt.Fprintf(p.out, "\rnext pass in %-12s", remaining.Round(time.Second))
	p.dirty = true
}

// clear erases a countdown line before a full-row message prints.
func (p *progress) clear() {
	if p.dirty {
		fmt.Fprintf(p.out, "\r%-26s\r", "")
		p.dirty = false
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}
