package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// stream is one album listing plus its lookahead.
type stream struct {
	src       AssetStream
	head      *icloud.Asset
	exhausted bool
}

// IteratorConfig configures a merged listing walk.
type IteratorConfig struct {
	// Sources are the album listings to merge. Each must yield assets
	// newest-first by add time.
	Sources []AssetStream

	Filters Filters

	// Recent limits the walk to the N newest distinct assets. 0 means
	// unlimited.
	Recent int

	// UntilFound stops the walk once N consecutive processed assets
	// were already complete on disk. 0 disables the stop.
	UntilFound int

	Logger *slog.Logger
}

// Iterator merges album listings newest-first and applies the
// account's traversal limits. It is the single source of listing
// order for a pass: assets come out strictly by descending add time,
// duplicates (the same asset reachable through several albums) come
// out once.
type Iterator struct {
	streams    []*stream
	filters    Filters
	recent     int
	untilFound int
	logger     *slog.Logger

	considered int
	streak     int
	seen       map[string]bool
	done       bool
}

// NewIterator builds an iterator over the given listings. Duplicate
// tracking is only engaged for multi-album walks; a single listing
// cannot repeat assets.
func NewIterator(cfg IteratorConfig) *Iterator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	it := &Iterator{
		filters:    cfg.Filters,
		recent:     cfg.Recent,
		untilFound: cfg.UntilFound,
		logger:     cfg.Logger,
	}

	for _, src := range cfg.Sources {
		it.streams = append(it.streams, &stream{src: src})
	}

	if len(it.streams) > 1 {
		it.seen = make(map[string]bool)
	}

	return it
}

// Next yields the next asset to reconcile, or icloud.ErrDone when the
// walk is over — listings exhausted, recent limit reached, or the
// until-found streak satisfied. Listing errors propagate as-is and
// fail the pass.
func (it *Iterator) Next(ctx context.Context) (*icloud.Asset, error) {
	for {
		if it.done {
			return nil, icloud.ErrDone
		}

		if it.recent > 0 && it.considered >= it.recent {
			it.done = true
			it.logger.Debug("recent limit reached", slog.Int("considered", it.considered))

			return nil, icloud.ErrDone
		}

		if it.untilFound > 0 && it.streak >= it.untilFound {
			it.done = true
			it.logger.Info("found consecutive previously downloaded photos, stopping",
				slog.Int("consecutive", it.streak),
			)

			return nil, icloud.ErrDone
		}

		if err := it.prime(ctx); err != nil {
			return nil, err
		}

		s := it.maxHead()
		if s == nil {
			it.done = true

			return nil, icloud.ErrDone
		}

		a := s.head
		s.head = nil

		if it.seen != nil {
			if it.seen[a.ID] {
				continue
			}

			it.seen[a.ID] = true
		}

		it.considered++

		if res := it.filters.Evaluate(a); !res.Included {
			it.logger.Debug("asset filtered",
				slog.String("asset_id", a.ID),
				slog.String("reason", res.Reason),
			)

			continue
		}

		return a, nil
	}
}

// MarkExisting feeds the until-found streak: allExisted is true when
// every rendition the last yielded asset needed was already on disk.
// Assets the engine skipped without probing must not call this.
func (it *Iterator) MarkExisting(allExisted bool) {
	if it.untilFound == 0 {
		return
	}

	if allExisted {
		it.streak++
	} else {
		it.streak = 0
	}
}

// prime refills every empty lookahead slot.
func (it *Iterator) prime(ctx context.Context) error {
	for _, s := range it.streams {
		if s.exhausted || s.head != nil {
			continue
		}

		a, err := s.src.Next(ctx)
		if errors.Is(err, icloud.ErrDone) {
			s.exhausted = true

			continue
		}
		if err != nil {
			return err
		}

		s.head = a
	}

	return nil
}

// maxHead picks the stream whose lookahead has the newest add time.
// Ties go to the earlier stream, keeping the walk deterministic.
func (it *Iterator) maxHead() *stream {
	var best *stream

	for _, s := range it.streams {
		if s.head == nil {
			continue
		}

		if best == nil || s.head.AddedDate.After(best.head.AddedDate) {
			best = s
		}
	}

	return best
}
