package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/index"
	"github.com/tonimelisma/icloud-go/internal/sidecar"
)

// maxLengthRetries is how many times a rendition whose byte count
// contradicts the listing is refetched from scratch. One retry covers
// a stale resume prefix; a persistent mismatch means the listing and
// the CDN disagree and retrying cannot fix that.
const maxLengthRetries = 1

// copyBufSize is the read buffer for streaming response bodies.
const copyBufSize = 32 << 10

// defaultFlushStride bounds how many bytes can be lost to a crash
// mid-download when the config does not say otherwise.
const defaultFlushStride = 16 << 20

// fetcher downloads renditions one at a time into staging files and
// publishes them atomically. It owns the post-publish metadata steps:
// XMP sidecars and EXIF capture-time stamping.
type fetcher struct {
	transport Downloader
	index     *index.Index
	xmp       bool
	exif      bool
	stride    int64
	logger    *slog.Logger
}

// fetchRequest describes one rendition download.
type fetchRequest struct {
	asset   *icloud.Asset
	version icloud.Version
	target  string
	live    bool

	// resume continues an existing staging file instead of truncating
	// it. Only set when the staged prefix is not longer than the
	// expected length.
	resume bool

	// mtime is the published file's modification time, UTC.
	mtime time.Time

	// takenAt is the capture instant in its capture zone, used for
	// EXIF stamping.
	takenAt time.Time
}

// fetch downloads one rendition and publishes it. A length mismatch is
// retried once from scratch — a resumed prefix from an older upload of
// the same path is the usual culprit. The returned count is bytes
// pulled off the network, discarded attempts included.
func (f *fetcher) fetch(ctx context.Context, req fetchRequest) (int64, error) {
	var total int64

	for attempt := range maxLengthRetries + 1 {
		n, err := f.fetchOnce(ctx, req, req.resume && attempt == 0)
		total += n

		if err == nil {
			f.finishSidecars(req)

			return total, nil
		}

		var mismatch *IntegrityError
		if errors.As(err, &mismatch) && attempt < maxLengthRetries {
			f.logger.Warn("download length mismatch, refetching",
				slog.String("path", req.target),
				slog.Int64("expected", mismatch.Expected),
				slog.Int64("got", mismatch.Got),
			)

			continue
		}

		return total, err
	}

	// Unreachable: the last attempt always returns above.
	return total, nil
}

func (f *fetcher) fetchOnce(ctx context.Context, req fetchRequest, resume bool) (int64, error) {
	h, err := f.index.PreparePartial(req.target, resume)
	if err != nil {
		return 0, err
	}

	written, err := f.fill(ctx, h, req.version)
	if err != nil {
		// Keep the staging file; the next attempt or pass resumes it.
		h.Close()

		return written, err
	}

	if h.Have() != req.version.Size {
		got := h.Have()
		if err := h.Discard(); err != nil {
			f.logger.Warn("removing mismatched staging file failed",
				slog.String("path", req.target),
				slog.String("error", err.Error()),
			)
		}

		return written, &IntegrityError{Path: req.target, Expected: req.version.Size, Got: got}
	}

	// Publish closes the handle on every path.
	if _, err := f.index.Publish(ctx, h, req.mtime); err != nil {
		return written, err
	}

	return written, nil
}

// fill streams the missing byte range into the staging file. A staged
// prefix already covering the expected length fetches nothing; the
// length check in fetchOnce decides what it is worth.
func (f *fetcher) fill(ctx context.Context, h *index.PartialHandle, v icloud.Version) (int64, error) {
	if h.Have() >= v.Size {
		return 0, nil
	}

	resp, err := f.transport.DownloadRange(ctx, v.URL, h.Have())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if h.Have() > 0 && resp.StatusCode != http.StatusPartialContent {
		// The server ignored the Range header and sent the whole
		// rendition; the staged prefix would double up.
		if err := h.Truncate(); err != nil {
			return 0, err
		}
	}

	return f.copyFlushing(h, resp.Body)
}

// copyFlushing copies r into the staging file, fsyncing every stride
// bytes so a crash loses at most one stride.
func (f *fetcher) copyFlushing(h *index.PartialHandle, r io.Reader) (int64, error) {
	stride := f.stride
	if stride <= 0 {
		stride = defaultFlushStride
	}

	buf := make([]byte, copyBufSize)

	var written, sinceFlush int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return written, werr
			}

			written += int64(n)
			sinceFlush += int64(n)

			if sinceFlush >= stride {
				if err := h.Sync(); err != nil {
					return written, err
				}

				sinceFlush = 0
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// finishSidecars runs the post-publish metadata steps. Failures here
// never fail the download — the photo is on disk, which is the part
// that cannot be retried cheaply.
func (f *fetcher) finishSidecars(req fetchRequest) {
	if req.live {
		// Motion companions carry no sidecar of their own.
		return
	}

	if f.xmp {
		path, err := sidecar.WriteXMP(req.target, req.asset)

		switch {
		case errors.Is(err, sidecar.ErrForeignSidecar):
			f.logger.Info("keeping sidecar written by another tool", slog.String("path", path))
		case err != nil:
			f.logger.Warn("writing xmp sidecar failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.exif && isJPEG(req.target) && !req.takenAt.IsZero() {
		if _, ok := sidecar.TakenDate(req.target); ok {
			return
		}

		f.logger.Debug("stamping exif capture time",
			slog.String("path", req.target),
			slog.Time("taken_at", req.takenAt),
		)

		if err := sidecar.StampTaken(req.target, req.takenAt); err != nil {
			f.logger.Warn("stamping exif capture time failed",
				slog.String("path", req.target),
				slog.String("error", err.Error()),
			)
		}
	}
}

func isJPEG(path string) bool {
	lower := strings.ToLower(path)

	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}
