// Package sync drives the photo download workflow: streaming the
// library listing newest-first, deciding which renditions each asset
// needs on disk, downloading what is missing with resume support, and
// realizing local and remote deletions once a pass completes.
//
// The engine is deliberately single-threaded. Assets are reconciled
// strictly in listing order and at most one rendition streams at a
// time, so interrupting the process at any point leaves at most one
// partial staging file behind. Multi-account orchestration runs the
// accounts sequentially for the same reason.
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// AssetStream yields assets from one album listing, newest first by
// library add time. Next returns icloud.ErrDone after the last asset.
type AssetStream interface {
	Next(ctx context.Context) (*icloud.Asset, error)
}

// Downloader fetches rendition content starting at a byte offset. The
// caller owns the response body.
type Downloader interface {
	DownloadRange(ctx context.Context, url string, start int64) (*http.Response, error)
}

// AssetService is the engine's view of one photo library: it opens
// album streams and deletes assets remotely. *LibraryService adapts
// the icloud client to it; tests substitute fakes.
type AssetService interface {
	// Stream opens a listing for the named album. The empty string
	// means the whole library.
	Stream(ctx context.Context, album string) (AssetStream, error)

	// DeleteAssets moves the given assets to Recently Deleted.
	DeleteAssets(ctx context.Context, assets []*icloud.Asset) error
}

// LibraryService adapts an icloud.Library to the AssetService
// interface.
type LibraryService struct {
	Lib *icloud.Library
}

func (s *LibraryService) Stream(ctx context.Context, album string) (AssetStream, error) {
	a, err := s.Lib.Album(ctx, album)
	if err != nil {
		return nil, err
	}

	return a.Photos(), nil
}

func (s *LibraryService) DeleteAssets(ctx context.Context, assets []*icloud.Asset) error {
	return s.Lib.DeleteAssets(ctx, assets)
}

// ErrIntegrityMismatch reports that a completed download did not match
// the length the listing advertised.
var ErrIntegrityMismatch = errors.New("downloaded size does not match listing")

// IntegrityError carries the mismatch details. It unwraps to
// ErrIntegrityMismatch.
type IntegrityError struct {
	Path     string
	Expected int64
	Got      int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v: expected %d bytes, got %d", e.Path, ErrIntegrityMismatch, e.Expected, e.Got)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}
