package sync

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/naming"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int {
	return &n
}

// photoAsset builds a JPEG still with one original rendition whose
// download URL follows the cdnURL convention.
func photoAsset(id, name string, added time.Time, origSize int64) *icloud.Asset {
	return &icloud.Asset{
		ID:              id,
		RecordName:      "A:" + id,
		RecordChangeTag: "1",
		Filename:        name,
		HasFilename:     true,
		ItemType:        icloud.ItemTypeImage,
		ItemTypeUTI:     "public.jpeg",
		AssetDate:       added.Add(-time.Hour),
		AddedDate:       added,
		Versions: map[icloud.VersionSize]icloud.Version{
			icloud.SizeOriginal: {
				Size:     origSize,
				URL:      cdnURL(id, "original"),
				Type:     "public.jpeg",
				Checksum: id + "-orig",
			},
		},
	}
}

func cdnURL(id, size string) string {
	return "https://cdn.example/" + id + "/" + size
}

// fakeStream yields a fixed listing, optionally failing at a position.
type fakeStream struct {
	assets  []*icloud.Asset
	pos     int
	err     error
	errAt   int
	nextErr bool
}

func failingStream(assets []*icloud.Asset, at int, err error) *fakeStream {
	return &fakeStream{assets: assets, err: err, errAt: at, nextErr: true}
}

func (s *fakeStream) Next(_ context.Context) (*icloud.Asset, error) {
	if s.nextErr && s.pos == s.errAt {
		return nil, s.err
	}

	if s.pos >= len(s.assets) {
		return nil, icloud.ErrDone
	}

	a := s.assets[s.pos]
	s.pos++

	return a, nil
}

// fakeService serves album listings from memory and records deletion
// batches.
type fakeService struct {
	albums    map[string][]*icloud.Asset
	streamErr map[string]error
	deleted   [][]*icloud.Asset
	deleteErr []error // popped per DeleteAssets call; nil entries succeed
}

func (f *fakeService) Stream(_ context.Context, album string) (AssetStream, error) {
	if err := f.streamErr[album]; err != nil {
		return nil, err
	}

	return &fakeStream{assets: f.albums[album]}, nil
}

func (f *fakeService) DeleteAssets(_ context.Context, assets []*icloud.Asset) error {
	if len(f.deleteErr) > 0 {
		err := f.deleteErr[0]
		f.deleteErr = f.deleteErr[1:]

		if err != nil {
			return err
		}
	}

	f.deleted = append(f.deleted, assets)

	return nil
}

// deletedNames flattens the recorded batches into asset names.
func (f *fakeService) deletedNames() []string {
	var names []string

	for _, batch := range f.deleted {
		for _, a := range batch {
			names = append(names, assetName(a))
		}
	}

	return names
}

// fakeTransport serves rendition bytes from memory and records the
// requested range starts.
type fakeTransport struct {
	content     map[string][]byte
	fail        map[string]error
	shortServes map[string]int  // while positive, truncate the body
	ignoreRange map[string]bool // serve the full body with a 200
	ranges      []int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		content:     make(map[string][]byte),
		fail:        make(map[string]error),
		shortServes: make(map[string]int),
		ignoreRange: make(map[string]bool),
	}
}

// serve registers predictable content of the given length.
func (f *fakeTransport) serve(url string, length int64) {
	body := make([]byte, length)
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	f.content[url] = body
}

func (f *fakeTransport) DownloadRange(_ context.Context, url string, start int64) (*http.Response, error) {
	f.ranges = append(f.ranges, start)

	if err := f.fail[url]; err != nil {
		return nil, err
	}

	full, ok := f.content[url]
	if !ok || start > int64(len(full)) {
		return nil, icloud.ErrNotFound
	}

	body := full[start:]
	status := http.StatusPartialContent

	if f.ignoreRange[url] {
		body = full
		status = http.StatusOK
	}

	if f.shortServes[url] > 0 {
		f.shortServes[url]--

		body = body[:len(body)/2]
	}

	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}

// testAccount is a minimal resolved account writing flat into a temp
// directory with the default policies.
func testAccount(dir string) *config.Account {
	return &config.Account{
		Username:        "user@example.com",
		Directory:       dir,
		FolderStructure: naming.FolderNone,
		Sizes:           []icloud.VersionSize{icloud.SizeOriginal},
		LivePhotoSize:   icloud.LiveOriginal,
		LiveVideo:       naming.LiveVideoSuffix,
		FileMatchPolicy: naming.DuplicateNameSizeSuffix,
		FlushStride:     1 << 20,
	}
}
