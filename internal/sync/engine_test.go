package sync

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloud-go/internal/config"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/index"
	"github.com/tonimelisma/icloud-go/internal/naming"
)

func newTestEngine(t *testing.T, acct *config.Account, transport *fakeTransport) *Engine {
	t.Helper()

	e, err := NewEngine(EngineConfig{
		Account:   acct,
		Index:     index.New(testLogger()),
		Transport: transport,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	return e
}

func serveOriginal(tr *fakeTransport, a *icloud.Asset) {
	v := a.Versions[icloud.SizeOriginal]
	tr.serve(v.URL, v.Size)
}

// materialize writes size bytes of the fakeTransport content pattern,
// so existing files and staged prefixes line up with served bodies.
func materialize(t *testing.T, path string, size int64) {
	t.Helper()

	body := make([]byte, size)
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	require.NoError(t, os.WriteFile(path, body, 0o644))
}

// streamingService hands out pre-built streams, for failure modes
// fakeService cannot model.
type streamingService struct {
	streams map[string]AssetStream
}

func (s *streamingService) Stream(_ context.Context, album string) (AssetStream, error) {
	return s.streams[album], nil
}

func (s *streamingService) DeleteAssets(context.Context, []*icloud.Asset) error {
	return nil
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	t.Parallel()

	valid := func() EngineConfig {
		return EngineConfig{
			Account:   testAccount(t.TempDir()),
			Index:     index.New(testLogger()),
			Transport: newFakeTransport(),
			Logger:    testLogger(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"no account", func(cfg *EngineConfig) { cfg.Account = nil }},
		{"no index", func(cfg *EngineConfig) { cfg.Index = nil }},
		{"no transport", func(cfg *EngineConfig) { cfg.Transport = nil }},
		{"no logger", func(cfg *EngineConfig) { cfg.Logger = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)

			_, err := NewEngine(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRunPass_DownloadsMissingAssets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	a1 := photoAsset("a1", "IMG_1.JPG", now, 100)
	a2 := photoAsset("a2", "IMG_2.JPG", now.Add(-time.Minute), 50)

	transport := newFakeTransport()
	serveOriginal(transport, a1)
	serveOriginal(transport, a2)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a1, a2}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 2, report.AssetsSeen)
	assert.Equal(t, 2, report.Downloaded)
	assert.Zero(t, report.Existed)
	assert.Zero(t, report.Errors)
	assert.Equal(t, int64(150), report.BytesDownloaded)

	info, err := os.Stat(filepath.Join(dir, "IMG_1.JPG"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())
	assert.WithinDuration(t, a1.AssetDate, info.ModTime(), time.Second)

	info, err = os.Stat(filepath.Join(dir, "IMG_2.JPG"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Size())
}

func TestRunPass_SkipsExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)
	materialize(t, filepath.Join(dir, "IMG_1.JPG"), 100)

	transport := newFakeTransport()
	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.AssetsSeen)
	assert.Equal(t, 1, report.Existed)
	assert.Zero(t, report.Downloaded)
	assert.Empty(t, transport.ranges, "existing file must not touch the network")
}

func TestRunPass_DryRunPlansOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)

	transport := newFakeTransport()
	serveOriginal(transport, a)

	acct := testAccount(dir)
	acct.DryRun = true

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, acct, transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WouldDownload)
	assert.Zero(t, report.Downloaded)
	assert.Empty(t, transport.ranges)

	_, err = os.Stat(filepath.Join(dir, "IMG_1.JPG"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunPass_OnlyPrintWritesTargets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)

	acct := testAccount(dir)
	acct.OnlyPrintFilenames = true

	var out bytes.Buffer

	e, err := NewEngine(EngineConfig{
		Account:   acct,
		Index:     index.New(testLogger()),
		Transport: newFakeTransport(),
		Stdout:    &out,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WouldDownload)
	assert.Equal(t, filepath.Join(dir, "IMG_1.JPG")+"\n", out.String())
}

func TestRunPass_RecentBoundsTheWalk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	var assets []*icloud.Asset

	transport := newFakeTransport()

	for i := range 4 {
		a := photoAsset(
			string(rune('a'+i))+"1",
			"IMG_"+string(rune('1'+i))+".JPG",
			now.Add(-time.Duration(i)*time.Minute),
			10,
		)
		serveOriginal(transport, a)
		assets = append(assets, a)
	}

	acct := testAccount(dir)
	acct.Recent = 2

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": assets}}

	e := newTestEngine(t, acct, transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 2, report.AssetsSeen)
	assert.Equal(t, 2, report.Downloaded)
}

func TestRunPass_UntilFoundStopsEarly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	var assets []*icloud.Asset
	for i := range 5 {
		name := "IMG_" + string(rune('1'+i)) + ".JPG"
		assets = append(assets, photoAsset(
			string(rune('a'+i))+"1", name, now.Add(-time.Duration(i)*time.Minute), 10,
		))
	}

	// The two newest are already on disk; the streak stops the walk
	// before the rest are even considered.
	materialize(t, filepath.Join(dir, "IMG_1.JPG"), 10)
	materialize(t, filepath.Join(dir, "IMG_2.JPG"), 10)

	acct := testAccount(dir)
	acct.UntilFound = 2

	transport := newFakeTransport()
	svc := &fakeService{albums: map[string][]*icloud.Asset{"": assets}}

	e := newTestEngine(t, acct, transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 2, report.AssetsSeen)
	assert.Equal(t, 2, report.Existed)
	assert.Zero(t, report.Downloaded)
	assert.Empty(t, transport.ranges)
}

func TestRunPass_MultipleAlbumsMergeAndDedup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	shared := photoAsset("s1", "IMG_1.JPG", now, 10)
	onlyA := photoAsset("a1", "IMG_2.JPG", now.Add(-time.Minute), 10)
	onlyB := photoAsset("b1", "IMG_3.JPG", now.Add(-2*time.Minute), 10)

	transport := newFakeTransport()
	for _, a := range []*icloud.Asset{shared, onlyA, onlyB} {
		serveOriginal(transport, a)
	}

	acct := testAccount(dir)
	acct.Albums = []string{"Alpha", "Beta"}

	svc := &fakeService{albums: map[string][]*icloud.Asset{
		"Alpha": {shared, onlyA},
		"Beta":  {shared, onlyB},
	}}

	e := newTestEngine(t, acct, transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 3, report.AssetsSeen)
	assert.Equal(t, 3, report.Downloaded)
	assert.Len(t, transport.ranges, 3, "the shared asset must download once")
}

func TestRunPass_SizeCollisionGetsSuffixedPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)

	// A same-named file of a different length belongs to another asset.
	canonical := filepath.Join(dir, "IMG_1.JPG")
	materialize(t, canonical, 50)

	transport := newFakeTransport()
	serveOriginal(transport, a)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)

	info, err := os.Stat(naming.SizeDisambiguated(canonical, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())

	info, err = os.Stat(canonical)
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Size(), "the colliding file must be untouched")
}

func TestRunPass_ResumesPartialDownload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)

	target := filepath.Join(dir, "IMG_1.JPG")
	materialize(t, target+index.PartialSuffix, 40)

	transport := newFakeTransport()
	serveOriginal(transport, a)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, int64(60), report.BytesDownloaded)
	assert.Equal(t, []int64{40}, transport.ranges)

	body, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, transport.content[a.Versions[icloud.SizeOriginal].URL], body)
}

func TestRunPass_PersistentLengthMismatchSkipsRendition(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 100)

	url := a.Versions[icloud.SizeOriginal].URL

	transport := newFakeTransport()
	transport.serve(url, 100)
	transport.shortServes[url] = 2

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err, "a stubborn rendition must not fail the pass")

	assert.Equal(t, 1, report.AssetsSeen)
	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Downloaded)
	assert.Equal(t, []int64{0, 0}, transport.ranges)

	_, err = os.Stat(filepath.Join(dir, "IMG_1.JPG"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunPass_LivePhotoCompanionDownloaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	a := photoAsset("lp1", "IMG_5.HEIC", time.Now(), 100)
	a.ItemTypeUTI = "public.heic"
	a.Versions[icloud.SizeOriginal] = icloud.Version{
		Size: 100, URL: cdnURL("lp1", "original"), Type: "public.heic", Checksum: "lp1-orig",
	}
	a.LiveVersions = map[icloud.LiveVersionSize]icloud.Version{
		icloud.LiveOriginal: {Size: 40, URL: cdnURL("lp1", "live"), Type: "com.apple.quicktime-movie"},
	}

	transport := newFakeTransport()
	transport.serve(cdnURL("lp1", "original"), 100)
	transport.serve(cdnURL("lp1", "live"), 40)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.AssetsSeen)
	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, int64(140), report.BytesDownloaded)

	_, err = os.Stat(filepath.Join(dir, "IMG_5.HEIC"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "IMG_5_HEVC.MOV"))
	assert.NoError(t, err)
}

func TestRunPass_KeepRecentDeletesOnlyOldAssets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	old := photoAsset("old1", "IMG_1.JPG", now.AddDate(0, 0, -10), 10)
	fresh := photoAsset("new1", "IMG_2.JPG", now.AddDate(0, 0, -1), 10)

	transport := newFakeTransport()
	serveOriginal(transport, old)
	serveOriginal(transport, fresh)

	acct := testAccount(dir)
	acct.KeepRecentDays = intPtr(5)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {old, fresh}}}

	e := newTestEngine(t, acct, transport)
	e.now = func() time.Time { return now }

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 1, report.RemoteDeletes)
	assert.Equal(t, []string{"IMG_1.JPG"}, svc.deletedNames())
}

func TestRunPass_KeepRecentLogsSkipMessage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	fresh := photoAsset("new1", "IMG_2.JPG", now.AddDate(0, 0, -2), 10)

	transport := newFakeTransport()
	serveOriginal(transport, fresh)

	acct := testAccount(dir)
	acct.KeepRecentDays = intPtr(5)

	var logs bytes.Buffer

	e, err := NewEngine(EngineConfig{
		Account:   acct,
		Index:     index.New(testLogger()),
		Transport: transport,
		Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)

	e.now = func() time.Time { return now }

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {fresh}}}

	_, err = e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Contains(t, logs.String(),
		"Skipping deletion of IMG_2.JPG as it is within the keep_icloud_recent_days period (2 days old)")
}

func TestRunPass_DeleteAfterDownloadSparesExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	existing := photoAsset("e1", "IMG_1.JPG", now, 10)
	fresh := photoAsset("f1", "IMG_2.JPG", now.Add(-time.Minute), 10)

	materialize(t, filepath.Join(dir, "IMG_1.JPG"), 10)

	transport := newFakeTransport()
	serveOriginal(transport, fresh)

	acct := testAccount(dir)
	acct.DeleteAfterDownload = true

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {existing, fresh}}}

	e := newTestEngine(t, acct, transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Existed)
	assert.Equal(t, 1, report.RemoteDeletes)
	assert.Equal(t, []string{"IMG_2.JPG"}, svc.deletedNames())
}

func TestRunPass_DeleteAfterDownloadDryRunPreviews(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 10)

	acct := testAccount(dir)
	acct.DryRun = true
	acct.DeleteAfterDownload = true

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, acct, newFakeTransport())

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WouldDownload)
	assert.Equal(t, 1, report.RemoteDeletes, "dry run must preview the deletion")
	assert.Empty(t, svc.deleted, "dry run must not call the service")
}

func TestRunPass_AutoDeleteRemovesLocalFilesAndSidecars(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	trashed := photoAsset("t1", "IMG_9.JPG", time.Now(), 10)

	path := filepath.Join(dir, "IMG_9.JPG")
	materialize(t, path, 10)
	require.NoError(t, os.WriteFile(path+".xmp", []byte("<x:xmpmeta/>"), 0o644))

	acct := testAccount(dir)
	acct.AutoDelete = true

	svc := &fakeService{albums: map[string][]*icloud.Asset{
		"":                          {},
		icloud.AlbumRecentlyDeleted: {trashed},
	}}

	e := newTestEngine(t, acct, newFakeTransport())

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 2, report.LocalDeletes)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(path + ".xmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunPass_AutoDeletePrunesEmptiedFolders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	acct := testAccount(dir)
	acct.AutoDelete = true
	acct.FolderStructure = "{:%Y/%m/%d}"

	trashed := photoAsset("t1", "IMG_9.JPG", time.Now(), 10)

	policy := acct.NamingPolicy()
	path := policy.StillPath(trashed, icloud.SizeOriginal, trashed.Versions[icloud.SizeOriginal])

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	materialize(t, path, 10)

	svc := &fakeService{albums: map[string][]*icloud.Asset{
		"":                          {},
		icloud.AlbumRecentlyDeleted: {trashed},
	}}

	e := newTestEngine(t, acct, newFakeTransport())

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LocalDeletes)

	_, err = os.Stat(filepath.Dir(path))
	assert.ErrorIs(t, err, os.ErrNotExist, "emptied date folders must be pruned")

	_, err = os.Stat(dir)
	assert.NoError(t, err, "the download root must survive")
}

func TestRunPass_NotFoundAssetIsSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	gone := photoAsset("g1", "IMG_1.JPG", now, 10)
	good := photoAsset("ok1", "IMG_2.JPG", now.Add(-time.Minute), 10)

	transport := newFakeTransport()
	transport.fail[gone.Versions[icloud.SizeOriginal].URL] = icloud.ErrNotFound
	serveOriginal(transport, good)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {gone, good}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, 1, report.AssetsSeen)
	assert.Equal(t, 1, report.SkippedAssets)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Downloaded)
}

func TestRunPass_AuthExpiredFailsPass(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 10)

	transport := newFakeTransport()
	transport.fail[a.Versions[icloud.SizeOriginal].URL] = icloud.ErrAuthExpired

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	e := newTestEngine(t, testAccount(dir), transport)

	report, err := e.RunPass(context.Background(), svc)

	assert.ErrorIs(t, err, icloud.ErrAuthExpired)
	assert.Nil(t, report)
}

func TestRunPass_AlbumOpenFailureFailsPass(t *testing.T) {
	t.Parallel()

	svc := &fakeService{streamErr: map[string]error{"": icloud.ErrServiceUnavailable}}

	e := newTestEngine(t, testAccount(t.TempDir()), newFakeTransport())

	report, err := e.RunPass(context.Background(), svc)

	assert.ErrorIs(t, err, icloud.ErrServiceUnavailable)
	assert.Nil(t, report)
}

func TestRunPass_ListingErrorFailsPass(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assets := []*icloud.Asset{
		photoAsset("a1", "IMG_1.JPG", now, 10),
		photoAsset("a2", "IMG_2.JPG", now.Add(-time.Minute), 10),
	}

	svc := &streamingService{streams: map[string]AssetStream{
		"": failingStream(assets, 1, icloud.ErrRateLimited),
	}}

	transport := newFakeTransport()
	serveOriginal(transport, assets[0])

	e := newTestEngine(t, testAccount(t.TempDir()), transport)

	report, err := e.RunPass(context.Background(), svc)

	assert.ErrorIs(t, err, icloud.ErrRateLimited)
	assert.ErrorContains(t, err, "listing assets")
	assert.Nil(t, report)
}

func TestRunPass_EmitsEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := photoAsset("a1", "IMG_1.JPG", time.Now(), 10)

	transport := newFakeTransport()
	serveOriginal(transport, a)

	var events []AssetEvent

	e, err := NewEngine(EngineConfig{
		Account:   testAccount(dir),
		Index:     index.New(testLogger()),
		Transport: transport,
		Observer:  func(ev AssetEvent) { events = append(events, ev) },
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	svc := &fakeService{albums: map[string][]*icloud.Asset{"": {a}}}

	_, err = e.RunPass(context.Background(), svc)
	require.NoError(t, err)

	require.Len(t, events, 2)

	assert.Equal(t, EventDownloaded, events[0].Kind)
	assert.Equal(t, "original", events[0].Size)
	assert.Equal(t, filepath.Join(dir, "IMG_1.JPG"), events[0].Path)
	assert.Equal(t, int64(10), events[0].Bytes)

	assert.Equal(t, EventAllSizesComplete, events[1].Kind)
}

func TestRunPass_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &fakeService{albums: map[string][]*icloud.Asset{
		"": {photoAsset("a1", "IMG_1.JPG", time.Now(), 10)},
	}}

	e := newTestEngine(t, testAccount(t.TempDir()), newFakeTransport())

	report, err := e.RunPass(ctx, svc)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)
}
