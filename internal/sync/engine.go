package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/index"
	"github.com/tonimelisma/icloud-go/internal/naming"
	"github.com/tonimelisma/icloud-go/internal/sidecar"
)

// ledgerMaxAge is how stale the download ledger may get before a pass
// rebuilds it from the filesystem.
const ledgerMaxAge = 24 * time.Hour

// EngineConfig carries the engine's dependencies. Uses a struct
// because the engine needs too many of them for positional parameters.
type EngineConfig struct {
	// Account is the fully resolved per-account configuration.
	Account *config.Account

	// Index probes, stages, and publishes local files.
	Index *index.Index

	// Ledger, when set, is rebuilt on staleness before the walk. The
	// Index consults it on its own; the engine only owns the rebuild.
	Ledger *index.Ledger

	// Transport streams rendition content.
	Transport Downloader

	// Reauth, when set, refreshes an expired session mid-deletion.
	Reauth func(ctx context.Context) error

	// Observer, when set, receives per-rendition progress events.
	Observer Observer

	// Stdout is where only-print mode writes paths. Defaults to
	// os.Stdout.
	Stdout io.Writer

	Logger *slog.Logger
}

// Engine reconciles one account's library against its download
// directory, one pass at a time. Construct with NewEngine, run with
// RunPass; the engine holds no per-pass state, so one instance serves
// a whole watch loop.
type Engine struct {
	acct     *config.Account
	policy   naming.Policy
	selector *Selector
	filters  Filters
	index    *index.Index
	ledger   *index.Ledger
	fetch    *fetcher
	reauth   func(ctx context.Context) error
	observer Observer
	out      io.Writer
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Account == nil {
		return nil, errors.New("sync: account required")
	}
	if cfg.Index == nil {
		return nil, errors.New("sync: index required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("sync: transport required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("sync: logger required")
	}

	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}

	acct := cfg.Account

	return &Engine{
		acct:   acct,
		policy: acct.NamingPolicy(),
		selector: &Selector{
			Sizes:          acct.Sizes,
			ForceSize:      acct.ForceSize,
			RawPolicy:      acct.AlignRaw,
			SkipLivePhotos: acct.SkipLivePhotos,
			LiveSize:       acct.LivePhotoSize,
			Logger:         cfg.Logger,
		},
		filters: Filters{
			SkipPhotos:    acct.SkipPhotos,
			SkipVideos:    acct.SkipVideos,
			CreatedBefore: acct.SkipCreatedBefore,
			CreatedAfter:  acct.SkipCreatedAfter,
		},
		index:  cfg.Index,
		ledger: cfg.Ledger,
		fetch: &fetcher{
			transport: cfg.Transport,
			index:     cfg.Index,
			xmp:       acct.XMPSidecar,
			exif:      acct.SetEXIFDateTime,
			stride:    acct.FlushStride,
			logger:    cfg.Logger,
		},
		reauth:   cfg.Reauth,
		observer: cfg.Observer,
		out:      out,
		now:      time.Now,
		logger:   cfg.Logger,
	}, nil
}

// RunPass walks the account's listings once and reconciles every
// yielded asset:
//
//  1. Rebuild the download ledger if it has gone stale.
//  2. Open one stream per configured album and merge them newest-first.
//  3. For each asset, probe every planned rendition and download what
//     is missing, collecting deletion intents along the way.
//  4. After the walk, plan auto-delete intents from Recently Deleted.
//  5. Realize local deletions, then remote ones.
//
// Cancellation and session-level failures abort the pass and discard
// unattempted deletion intents; per-asset trouble is logged, counted,
// and skipped. The report and the error are mutually exclusive.
func (e *Engine) RunPass(ctx context.Context, svc AssetService) (*Report, error) {
	start := e.now()

	e.refreshLedger(ctx)

	sources, err := e.openStreams(ctx, svc)
	if err != nil {
		return nil, err
	}

	it := NewIterator(IteratorConfig{
		Sources:    sources,
		Filters:    e.filters,
		Recent:     e.acct.Recent,
		UntilFound: e.acct.UntilFound,
		Logger:     e.logger,
	})

	report := &Report{}

	var (
		remoteIntents []*icloud.Asset
		localIntents  []LocalIntent
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a, err := it.Next(ctx)
		if errors.Is(err, icloud.ErrDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing assets: %w", err)
		}

		out, err := e.processAsset(ctx, a, report)
		if err != nil {
			if !e.assetSkippable(err) {
				return nil, err
			}

			report.SkippedAssets++
			report.Errors++
			e.logger.Warn("skipping asset after error",
				slog.String("asset_id", a.ID),
				slog.String("name", assetName(a)),
				slog.String("error", err.Error()),
			)

			continue
		}

		report.AssetsSeen++

		if out.probed > 0 {
			it.MarkExisting(out.allExisted)
		}

		remoteIntents = e.collectRemoteIntent(a, out, remoteIntents)
	}

	if e.acct.AutoDelete {
		localIntents, err = e.planAutoDelete(ctx, svc)
		if err != nil {
			return nil, fmt.Errorf("scanning Recently Deleted: %w", err)
		}
	}

	d := &deleter{
		svc:       svc,
		index:     e.index,
		reauth:    e.reauth,
		dryRun:    e.acct.DryRun,
		onlyPrint: e.acct.OnlyPrintFilenames,
		out:       e.out,
		logger:    e.logger,
	}

	report.LocalDeletes = d.applyLocal(ctx, localIntents)
	e.pruneAfterDeletes(report.LocalDeletes)

	report.RemoteDeletes, err = d.applyRemote(ctx, remoteIntents)
	if err != nil {
		return nil, err
	}

	report.Duration = e.now().Sub(start)
	e.logger.Info("pass complete", report.LogAttrs()...)

	return report, nil
}

// outcome summarizes one asset's reconciliation for the until-found
// streak and the deletion planners.
type outcome struct {
	// allExisted is true when every probed rendition was already on
	// disk. Meaningless when probed is zero.
	allExisted bool

	downloaded int
	planned    int // dry-run and only-print stand-ins for downloads
	probed     int
}

// renditionOutcome is one rendition's terminal state.
type renditionOutcome int

const (
	renditionExisted renditionOutcome = iota
	renditionDownloaded
	renditionPlanned // dry-run or only-print stand-in for a download
)

// processAsset reconciles every rendition the selector planned for
// one asset. A rendition that fails its length check after the retry
// is logged and skipped; any other error aborts the asset and lets
// the caller classify it.
func (e *Engine) processAsset(ctx context.Context, a *icloud.Asset, report *Report) (outcome, error) {
	plan := e.selector.Select(a)
	out := outcome{allExisted: true}

	for _, sel := range plan.Stills {
		state, target, err := e.probeStill(ctx, a, sel)
		if err != nil {
			return out, err
		}

		out.probed++

		if err := e.reconcile(ctx, reconcileReq{
			asset:  a,
			state:  state,
			target: target,
			v:      sel.Version,
			size:   string(sel.Size),
		}, report, &out); err != nil {
			return out, err
		}
	}

	if plan.Live != nil {
		if err := e.processLive(ctx, a, plan.Live, report, &out); err != nil {
			return out, err
		}
	}

	e.emit(AssetEvent{Kind: EventAllSizesComplete, Asset: a})

	return out, nil
}

// probeStill resolves one still rendition's target path and on-disk
// state. Under the size-suffix duplicate policy, a canonical path held
// by a file of a different length belongs to a different asset with
// the same name, so the rendition moves to its disambiguated path.
func (e *Engine) probeStill(ctx context.Context, a *icloud.Asset, sel Selection) (index.LocalState, string, error) {
	paths := e.policy.AdmissiblePaths(a, sel.Size, sel.Version)
	target := paths[0]

	state, err := e.index.Probe(ctx, paths)
	if err != nil {
		return state, target, err
	}

	if state.Kind == index.StateExisting && state.Size != sel.Version.Size &&
		e.policy.Duplicates == naming.DuplicateNameSizeSuffix {
		target = naming.SizeDisambiguated(target, sel.Version.Size)

		state, err = e.index.Probe(ctx, []string{target})
		if err != nil {
			return state, target, err
		}
	}

	return state, target, nil
}

func (e *Engine) processLive(ctx context.Context, a *icloud.Asset, sel *LiveSelection, report *Report, out *outcome) error {
	paths, ok := e.policy.LiveVideoAdmissiblePaths(a, sel.Size)
	if !ok {
		// The naming policy refuses a companion for this still (e.g.
		// suffix naming on a non-HEIC original).
		return nil
	}

	target := paths[0]

	state, err := e.index.Probe(ctx, paths)
	if err != nil {
		return err
	}

	if state.Kind == index.StateExisting && state.Size != sel.Version.Size &&
		e.policy.Duplicates == naming.DuplicateNameSizeSuffix {
		target = naming.SizeDisambiguated(target, sel.Version.Size)

		state, err = e.index.Probe(ctx, []string{target})
		if err != nil {
			return err
		}
	}

	out.probed++

	return e.reconcile(ctx, reconcileReq{
		asset:  a,
		state:  state,
		target: target,
		v:      sel.Version,
		size:   string(sel.Size),
		live:   true,
	}, report, out)
}

// reconcileReq names reconcile's inputs; positionally they blur
// together.
type reconcileReq struct {
	asset  *icloud.Asset
	state  index.LocalState
	target string
	v      icloud.Version
	size   string
	live   bool
}

// reconcile drives one rendition to its terminal state and updates
// the report and the asset outcome.
func (e *Engine) reconcile(ctx context.Context, req reconcileReq, report *Report, out *outcome) error {
	res, bytes, err := e.reconcileOnce(ctx, req)
	if err != nil {
		var mismatch *IntegrityError
		if errors.As(err, &mismatch) {
			e.logger.Warn("rendition kept failing its length check, skipping",
				slog.String("path", req.target),
				slog.Int64("expected", mismatch.Expected),
				slog.Int64("got", mismatch.Got),
			)

			report.Errors++
			out.allExisted = false

			return nil
		}

		return err
	}

	switch res {
	case renditionExisted:
		report.Existed++
	case renditionDownloaded:
		report.Downloaded++
		report.BytesDownloaded += bytes
		out.downloaded++
		out.allExisted = false
	case renditionPlanned:
		report.WouldDownload++
		out.planned++
		out.allExisted = false
	}

	return nil
}

func (e *Engine) reconcileOnce(ctx context.Context, req reconcileReq) (renditionOutcome, int64, error) {
	resume := false

	switch req.state.Kind {
	case index.StateExisting, index.StateLegacy:
		e.logger.Debug("already exists",
			slog.String("path", req.state.Path),
			slog.String("size", req.size),
		)
		e.emit(AssetEvent{
			Kind:  EventExisted,
			Asset: req.asset,
			Size:  req.size,
			Live:  req.live,
			Path:  req.state.Path,
			Bytes: req.state.Size,
		})

		return renditionExisted, 0, nil

	case index.StatePartial:
		// A staged prefix longer than the expected length is from a
		// different upload of the same path; start over.
		resume = req.state.Size <= req.v.Size

	case index.StateMissing:
	}

	if e.acct.OnlyPrintFilenames {
		fmt.Fprintln(e.out, req.target)
		e.emit(AssetEvent{Kind: EventWouldDownload, Asset: req.asset, Size: req.size, Live: req.live, Path: req.target})

		return renditionPlanned, 0, nil
	}

	if e.acct.DryRun {
		e.logger.Info("dry run, would download",
			slog.String("path", req.target),
			slog.String("size", req.size),
		)
		e.emit(AssetEvent{Kind: EventWouldDownload, Asset: req.asset, Size: req.size, Live: req.live, Path: req.target})

		return renditionPlanned, 0, nil
	}

	e.logger.Info("downloading",
		slog.String("path", req.target),
		slog.String("size", req.size),
		slog.Bool("resume", resume && req.state.Kind == index.StatePartial),
	)

	n, err := e.fetch.fetch(ctx, fetchRequest{
		asset:   req.asset,
		version: req.v,
		target:  req.target,
		live:    req.live,
		resume:  resume,
		mtime:   assetMTime(req.asset),
		takenAt: e.policy.CreatedAt(req.asset),
	})
	if err != nil {
		return renditionDownloaded, n, err
	}

	e.emit(AssetEvent{
		Kind:  EventDownloaded,
		Asset: req.asset,
		Size:  req.size,
		Live:  req.live,
		Path:  req.target,
		Bytes: req.v.Size,
	})

	return renditionDownloaded, n, nil
}

// collectRemoteIntent appends the asset to the remote deletion list
// when a move mode calls for it. Keep-recent outranks
// delete-after-download when both are configured.
func (e *Engine) collectRemoteIntent(a *icloud.Asset, out outcome, intents []*icloud.Asset) []*icloud.Asset {
	switch {
	case e.acct.KeepRecentDays != nil:
		cutoff := e.now().AddDate(0, 0, -*e.acct.KeepRecentDays)
		if a.AssetDate.Before(cutoff) {
			return append(intents, a)
		}

		ageDays := int(e.now().Sub(a.AssetDate).Hours() / 24) //nolint:mnd // hours per day
		e.logger.Info(fmt.Sprintf(
			"Skipping deletion of %s as it is within the keep_icloud_recent_days period (%d days old)",
			assetName(a), ageDays),
			slog.Int("keep_days", *e.acct.KeepRecentDays),
		)

	case e.acct.DeleteAfterDownload && out.downloaded+out.planned > 0:
		// Planned renditions count too, so dry runs preview the
		// deletions the real pass would make.
		return append(intents, a)
	}

	return intents
}

// planAutoDelete walks Recently Deleted and plans local removal of
// every file any of those assets could have produced, sidecars
// included. Skip filters do not apply here — an asset deleted in
// iCloud is deleted locally no matter what today's filters say.
func (e *Engine) planAutoDelete(ctx context.Context, svc AssetService) ([]LocalIntent, error) {
	e.logger.Info("deleting any local files found in Recently Deleted")

	stream, err := svc.Stream(ctx, icloud.AlbumRecentlyDeleted)
	if err != nil {
		return nil, err
	}

	var intents []LocalIntent

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a, err := stream.Next(ctx)
		if errors.Is(err, icloud.ErrDone) {
			break
		}
		if err != nil {
			return nil, err
		}

		for _, path := range e.deletionPaths(a) {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}

			intents = append(intents, LocalIntent{
				Path:     path,
				Expected: index.Expected{Size: info.Size(), MTime: info.ModTime()},
			})
		}
	}

	return intents, nil
}

// stillSizes and liveSizes fix the path enumeration order so deletion
// plans are deterministic.
var stillSizes = []icloud.VersionSize{
	icloud.SizeOriginal,
	icloud.SizeAlternative,
	icloud.SizeAdjusted,
	icloud.SizeMedium,
	icloud.SizeThumb,
}

var liveSizes = []icloud.LiveVersionSize{
	icloud.LiveOriginal,
	icloud.LiveMedium,
	icloud.LiveThumb,
}

// deletionPaths enumerates every path a past pass could have written
// for this asset under the current naming policy: each rendition's
// canonical path, its size-suffixed duplicate variant, live companion
// paths, and an XMP sidecar for each.
func (e *Engine) deletionPaths(a *icloud.Asset) []string {
	var paths []string

	for _, size := range stillSizes {
		v, ok := a.Versions[size]
		if !ok {
			continue
		}

		p := e.policy.StillPath(a, size, v)
		paths = append(paths, p)

		if e.policy.Duplicates == naming.DuplicateNameSizeSuffix {
			paths = append(paths, naming.SizeDisambiguated(p, v.Size))
		}
	}

	for _, size := range liveSizes {
		v, ok := a.LiveVersions[size]
		if !ok {
			continue
		}

		p, ok := e.policy.LiveVideoPath(a, size)
		if !ok {
			continue
		}

		paths = append(paths, p)

		if e.policy.Duplicates == naming.DuplicateNameSizeSuffix {
			paths = append(paths, naming.SizeDisambiguated(p, v.Size))
		}
	}

	renditions := len(paths)
	for i := range renditions {
		paths = append(paths, sidecar.XMPPath(paths[i]))
	}

	return paths
}

// pruneAfterDeletes removes directories the local deletions emptied.
// A flat layout has nothing to prune.
func (e *Engine) pruneAfterDeletes(deleted int) {
	if deleted == 0 || e.acct.DryRun || e.acct.OnlyPrintFilenames {
		return
	}

	if e.policy.FolderTemplate == "" || e.policy.FolderTemplate == naming.FolderNone {
		return
	}

	if err := e.index.PruneEmptyDirs(e.acct.Directory); err != nil {
		e.logger.Warn("pruning empty directories failed",
			slog.String("dir", e.acct.Directory),
			slog.String("error", err.Error()),
		)
	}
}

// assetSkippable classifies a per-asset error: session-level and
// cancellation errors fail the pass, and filesystem trouble fails it
// when the download root itself is gone or unreadable. Everything
// narrower skips just the asset.
func (e *Engine) assetSkippable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, icloud.ErrAuthExpired),
		errors.Is(err, icloud.ErrRateLimited),
		errors.Is(err, icloud.ErrServiceUnavailable),
		errors.Is(err, icloud.ErrNotActivated):
		return false
	case errors.Is(err, icloud.ErrNotFound):
		return true
	}

	if _, statErr := os.Stat(e.acct.Directory); statErr != nil {
		return false
	}

	return true
}

func (e *Engine) refreshLedger(ctx context.Context) {
	if e.ledger == nil {
		return
	}

	need, err := e.ledger.NeedsRebuild(ctx, ledgerMaxAge)
	if err != nil {
		e.logger.Warn("checking ledger staleness failed", slog.String("error", err.Error()))

		return
	}

	if !need {
		return
	}

	e.logger.Info("rebuilding download ledger", slog.String("dir", e.acct.Directory))

	if err := e.ledger.Rebuild(ctx, e.acct.Directory); err != nil {
		// The ledger is a cache; the pass falls back to stats.
		e.logger.Warn("ledger rebuild failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) openStreams(ctx context.Context, svc AssetService) ([]AssetStream, error) {
	albums := e.acct.Albums
	if len(albums) == 0 {
		albums = []string{""}
	}

	sources := make([]AssetStream, 0, len(albums))

	for _, name := range albums {
		s, err := svc.Stream(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening album %q: %w", name, err)
		}

		sources = append(sources, s)
	}

	return sources, nil
}

func (e *Engine) emit(ev AssetEvent) {
	if e.observer != nil {
		e.observer(ev)
	}
}

// assetMTime is the published file's modification time: the capture
// instant, or the library add time for assets with no capture date.
func assetMTime(a *icloud.Asset) time.Time {
	if a.AssetDate.Unix() != 0 {
		return a.AssetDate
	}

	return a.AddedDate
}
