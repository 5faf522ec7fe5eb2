package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// photosPageSize is the nominal page size for album listings. The
// service returns interleaved CPLAsset and CPLMaster records, so the
// wire resultsLimit is twice this.
const photosPageSize = 100

// zonePrimarySync is the zone holding the account's primary library.
const zonePrimarySync = "PrimarySync"

// LibraryScope selects the private or shared photo database.
type LibraryScope string

const (
	ScopePrivate LibraryScope = "private"
	ScopeShared  LibraryScope = "shared"
)

// ZoneID identifies a CloudKit zone. Zone identities from zones/list
// are echoed back verbatim in queries and record modifications.
type ZoneID struct {
	ZoneName        string `json:"zoneName"`
	OwnerRecordName string `json:"ownerRecordName,omitempty"`
	ZoneType        string `json:"zoneType,omitempty"`
}

// PhotosService is the photo-library facade over the ckdatabasews
// webservice.
type PhotosService struct {
	client *Client
	root   string
}

// Photos returns the photo service for an authenticated client.
func (c *Client) Photos() (*PhotosService, error) {
	root, err := c.webserviceURL("ckdatabasews")
	if err != nil {
		return nil, err
	}

	return &PhotosService{client: c, root: root}, nil
}

func (s *PhotosService) endpoint(scope LibraryScope) string {
	return fmt.Sprintf("%s/database/1/com.apple.photos.cloud/production/%s", s.root, scope)
}

// photoParams returns the query parameters carried on every photo
// database request.
func (c *Client) photoParams() url.Values {
	params := c.queryParams()
	params.Set("remapEnums", "True")
	params.Set("getCurrentSyncToken", "True")

	return params
}

// Library is one photo library (zone) within a database scope.
type Library struct {
	svc   *PhotosService
	scope LibraryScope
	zone  ZoneID

	// Name is the zone name, which is what the user selects a
	// library by.
	Name string
}

// PrimaryLibrary returns the account's primary photo library.
func (s *PhotosService) PrimaryLibrary() *Library {
	return &Library{
		svc:   s,
		scope: ScopePrivate,
		zone:  ZoneID{ZoneName: zonePrimarySync},
		Name:  zonePrimarySync,
	}
}

type zonesResponse struct {
	Zones []struct {
		ZoneID  ZoneID `json:"zoneID"`
		Deleted bool   `json:"deleted"`
	} `json:"zones"`
}

// Libraries lists the libraries in the given scope, keyed by zone
// name. Deleted zones are skipped.
func (s *PhotosService) Libraries(ctx context.Context, scope LibraryScope) (map[string]*Library, error) {
	s.client.logger.Info("listing libraries", slog.String("scope", string(scope)))

	var resp zonesResponse
	if err := s.post(ctx, scope, "/zones/list", json.RawMessage(`{}`), &resp); err != nil {
		return nil, fmt.Errorf("icloud: listing zones: %w", err)
	}

	libraries := make(map[string]*Library)

	for _, zone := range resp.Zones {
		if zone.Deleted {
			continue
		}

		libraries[zone.ZoneID.ZoneName] = &Library{
			svc:   s,
			scope: scope,
			zone:  zone.ZoneID,
			Name:  zone.ZoneID.ZoneName,
		}
	}

	s.client.logger.Info("listed libraries",
		slog.String("scope", string(scope)),
		slog.Int("count", len(libraries)),
	)

	return libraries, nil
}

// post executes a photo database POST. The service expects a
// text/plain content type on query requests even though the body is
// JSON.
func (s *PhotosService) post(ctx context.Context, scope LibraryScope, path string, body, out any) error {
	extra := http.Header{}
	extra.Set("Content-Type", "text/plain")

	rawURL := s.endpoint(scope) + path

	_, respBody, err := s.client.postJSON(ctx, rawURL, s.client.photoParams(), body, extra)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("icloud: decoding %s response: %w", path, err)
	}

	return nil
}

type recordsResponse struct {
	Records []record `json:"records"`
}

// queryFilter is one filterBy clause in a record query.
type queryFilter struct {
	FieldName  string     `json:"fieldName"`
	Comparator string     `json:"comparator"`
	FieldValue fieldValue `json:"fieldValue"`
}

type fieldValue struct {
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

type recordQuery struct {
	FilterBy   []queryFilter `json:"filterBy,omitempty"`
	RecordType string        `json:"recordType"`
}

type queryRequest struct {
	Query        recordQuery `json:"query"`
	ResultsLimit int         `json:"resultsLimit,omitempty"`
	DesiredKeys  []string    `json:"desiredKeys,omitempty"`
	ZoneID       ZoneID      `json:"zoneID"`
}

// CheckIndexing verifies the service has finished indexing this
// library. Queries against an unindexed library return partial data,
// so the caller must not proceed.
func (l *Library) CheckIndexing(ctx context.Context) error {
	req := queryRequest{
		Query:  recordQuery{RecordType: "CheckIndexingState"},
		ZoneID: l.zone,
	}

	var resp recordsResponse
	if err := l.svc.post(ctx, l.scope, "/records/query", req, &resp); err != nil {
		return fmt.Errorf("icloud: checking indexing state: %w", err)
	}

	if len(resp.Records) == 0 {
		return &ServiceError{Reason: "no indexing state record", Err: ErrNotActivated}
	}

	state, _ := resp.Records[0].Fields.stringValue("state")
	if state != "FINISHED" {
		return &ServiceError{
			Code:   state,
			Reason: "iCloud Photo Library has not finished indexing yet",
			Err:    ErrNotActivated,
		}
	}

	return nil
}

// Album is one queryable collection of assets within a library.
type Album struct {
	lib      *Library
	listType string
	objType  string
	filter   []queryFilter

	Name string
}

// albumSpec describes a built-in album's query parameters.
type albumSpec struct {
	listType string
	objType  string
	filter   []queryFilter
}

func smartAlbumFilter(value string) []queryFilter {
	return []queryFilter{{
		FieldName:  "smartAlbum",
		Comparator: "EQUALS",
		FieldValue: fieldValue{Type: "STRING", Value: value},
	}}
}

// AlbumAllPhotos is the name of the built-in whole-collection album
// and the iteration default.
const AlbumAllPhotos = "All Photos"

// AlbumRecentlyDeleted holds assets pending permanent removal.
const AlbumRecentlyDeleted = "Recently Deleted"

var (
	wholeCollectionSpec = albumSpec{
		objType:  "CPLAssetByAssetDateWithoutHiddenOrDeleted",
		listType: "CPLAssetAndMasterByAssetDateWithoutHiddenOrDeleted",
	}

	recentlyDeletedSpec = albumSpec{
		objType:  "CPLAssetDeletedByExpungedDate",
		listType: "CPLAssetAndMasterDeletedByExpungedDate",
	}

	smartFolders = map[string]albumSpec{
		AlbumAllPhotos:       wholeCollectionSpec,
		AlbumRecentlyDeleted: recentlyDeletedSpec,
		"Time-lapse": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Timelapse",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("TIMELAPSE"),
		},
		"Videos": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Video",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("VIDEO"),
		},
		"Slo-mo": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Slomo",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("SLOMO"),
		},
		"Bursts": {
			objType:  "CPLAssetBurstStackAssetByAssetDate",
			listType: "CPLBurstStackAssetAndMasterByAssetDate",
		},
		"Favorites": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Favorite",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("FAVORITE"),
		},
		"Panoramas": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Panorama",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("PANORAMA"),
		},
		"Screenshots": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Screenshot",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("SCREENSHOT"),
		},
		"Live": {
			objType:  "CPLAssetInSmartAlbumByAssetDate:Live",
			listType: "CPLAssetAndMasterInSmartAlbumByAssetDate",
			filter:   smartAlbumFilter("LIVE"),
		},
		"Hidden": {
			objType:  "CPLAssetHiddenByAssetDate",
			listType: "CPLAssetAndMasterHiddenByAssetDate",
		},
	}
)

func (l *Library) album(name string, spec albumSpec) *Album {
	return &Album{
		lib:      l,
		listType: spec.listType,
		objType:  spec.objType,
		filter:   spec.filter,
		Name:     name,
	}
}

// AllPhotos returns the whole-collection album (hidden and deleted
// assets excluded).
func (l *Library) AllPhotos() *Album {
	return l.album(AlbumAllPhotos, wholeCollectionSpec)
}

// RecentlyDeleted returns the album of assets the service has moved to
// the Recently Deleted collection.
func (l *Library) RecentlyDeleted() *Album {
	return l.album(AlbumRecentlyDeleted, recentlyDeletedSpec)
}

// Album resolves an album by name: built-in smart folders first, then
// the user's own albums. Unknown names return ErrNotFound.
func (l *Library) Album(ctx context.Context, name string) (*Album, error) {
	if name == "" {
		return l.AllPhotos(), nil
	}

	if spec, ok := smartFolders[name]; ok {
		return l.album(name, spec), nil
	}

	albums, err := l.Albums(ctx)
	if err != nil {
		return nil, err
	}

	album, ok := albums[name]
	if !ok {
		return nil, &ServiceError{Reason: fmt.Sprintf("unknown album %q", name), Err: ErrNotFound}
	}

	return album, nil
}

// Albums returns all albums in the library keyed by name: the built-in
// smart folders plus the user's own folders. Shared libraries carry no
// user folders.
func (l *Library) Albums(ctx context.Context) (map[string]*Album, error) {
	albums := make(map[string]*Album, len(smartFolders))
	for name, spec := range smartFolders {
		albums[name] = l.album(name, spec)
	}

	folders, err := l.fetchFolders(ctx)
	if err != nil {
		return nil, err
	}

	for _, folder := range folders {
		if folder.RecordName == "----Root-Folder----" || folder.RecordName == "----Project-Root-Folder----" {
			continue
		}

		if deleted, ok := folder.Fields.int64Value("isDeleted"); ok && deleted != 0 {
			continue
		}

		nameBytes, ok := folder.Fields.base64Value("albumNameEnc")
		if !ok {
			l.svc.client.logger.Warn("album name missing or undecodable",
				slog.String("record_name", folder.RecordName),
			)

			continue
		}

		name := string(nameBytes)
		albums[name] = &Album{
			lib:      l,
			listType: "CPLContainerRelationLiveByAssetDate",
			objType:  "CPLContainerRelationNotDeletedByAssetDate:" + folder.RecordName,
			filter: []queryFilter{{
				FieldName:  "parentId",
				Comparator: "EQUALS",
				FieldValue: fieldValue{Type: "STRING", Value: folder.RecordName},
			}},
			Name: name,
		}
	}

	return albums, nil
}

func (l *Library) fetchFolders(ctx context.Context) ([]record, error) {
	if l.scope == ScopeShared {
		return nil, nil
	}

	req := queryRequest{
		Query:  recordQuery{RecordType: "CPLAlbumByPositionLive"},
		ZoneID: l.zone,
	}

	var resp recordsResponse
	if err := l.svc.post(ctx, l.scope, "/records/query", req, &resp); err != nil {
		return nil, fmt.Errorf("icloud: fetching album folders: %w", err)
	}

	return resp.Records, nil
}

type countRequest struct {
	Batch []countBatchEntry `json:"batch"`
}

type countBatchEntry struct {
	ResultsLimit int         `json:"resultsLimit"`
	Query        recordQuery `json:"query"`
	ZoneWide     bool        `json:"zoneWide"`
	ZoneID       ZoneID      `json:"zoneID"`
}

type countResponse struct {
	Batch []recordsResponse `json:"batch"`
}

// Count returns the number of assets in the album via the service's
// index count lookup.
func (a *Album) Count(ctx context.Context) (int, error) {
	req := countRequest{
		Batch: []countBatchEntry{{
			ResultsLimit: 1,
			Query: recordQuery{
				FilterBy: []queryFilter{{
					FieldName:  "indexCountID",
					Comparator: "IN",
					FieldValue: fieldValue{Type: "STRING_LIST", Value: []string{a.objType}},
				}},
				RecordType: "HyperionIndexCountLookup",
			},
			ZoneWide: true,
			ZoneID:   a.lib.zone,
		}},
	}

	var resp countResponse
	if err := a.lib.svc.post(ctx, a.lib.scope, "/internal/records/query/batch", req, &resp); err != nil {
		return 0, fmt.Errorf("icloud: counting album %q: %w", a.Name, err)
	}

	if len(resp.Batch) == 0 || len(resp.Batch[0].Records) == 0 {
		return 0, fmt.Errorf("icloud: counting album %q: empty batch response", a.Name)
	}

	count, ok := resp.Batch[0].Records[0].Fields.int64Value("itemCount")
	if !ok {
		return 0, fmt.Errorf("icloud: counting album %q: itemCount missing", a.Name)
	}

	return int(count), nil
}

// listDesiredKeys is the field projection for album listings: every
// rendition prefix plus the asset metadata the sync engine and sidecar
// generation consume.
var listDesiredKeys = []string{
	"resJPEGFullWidth", "resJPEGFullHeight",
	"resJPEGFullFileType", "resJPEGFullFingerprint",
	"resJPEGFullRes", "resJPEGLargeWidth",
	"resJPEGLargeHeight", "resJPEGLargeFileType",
	"resJPEGLargeFingerprint", "resJPEGLargeRes",
	"resJPEGMedWidth", "resJPEGMedHeight",
	"resJPEGMedFileType", "resJPEGMedFingerprint",
	"resJPEGMedRes", "resJPEGThumbWidth",
	"resJPEGThumbHeight", "resJPEGThumbFileType",
	"resJPEGThumbFingerprint", "resJPEGThumbRes",
	"resVidFullWidth", "resVidFullHeight",
	"resVidFullFileType", "resVidFullFingerprint",
	"resVidFullRes", "resVidMedWidth", "resVidMedHeight",
	"resVidMedFileType", "resVidMedFingerprint",
	"resVidMedRes", "resVidSmallWidth", "resVidSmallHeight",
	"resVidSmallFileType", "resVidSmallFingerprint",
	"resVidSmallRes", "resSidecarWidth", "resSidecarHeight",
	"resSidecarFileType", "resSidecarFingerprint",
	"resSidecarRes", "itemType", "dataClassType",
	"filenameEnc", "originalOrientation", "resOriginalWidth",
	"resOriginalHeight", "resOriginalFileType",
	"resOriginalFingerprint", "resOriginalRes",
	"resOriginalAltWidth", "resOriginalAltHeight",
	"resOriginalAltFileType", "resOriginalAltFingerprint",
	"resOriginalAltRes", "resOriginalVidComplWidth",
	"resOriginalVidComplHeight", "resOriginalVidComplFileType",
	"resOriginalVidComplFingerprint", "resOriginalVidComplRes",
	"isDeleted", "isExpunged", "dateExpunged", "remappedRef",
	"recordName", "recordType", "recordChangeTag",
	"masterRef", "adjustmentRenderType", "assetDate",
	"addedDate", "isFavorite", "isHidden", "orientation",
	"duration", "assetSubtype", "assetSubtypeV2",
	"assetHDRType", "burstFlags", "burstFlagsExt", "burstId",
	"captionEnc", "locationEnc", "locationV2Enc",
	"locationLatitude", "locationLongitude", "adjustmentType",
	"timeZoneOffset", "vidComplDurValue", "vidComplDurScale",
	"vidComplDispValue", "vidComplDispScale",
	"keywordsEnc", "extendedDescEnc", "adjustedMediaMetaDataEnc", "adjustmentSimpleDataEnc",
	"vidComplVisibilityState", "customRenderedValue",
	"containerId", "itemId", "position", "isKeyAsset",
}

func (a *Album) listQuery(offset int) queryRequest {
	filterBy := []queryFilter{
		{
			FieldName:  "startRank",
			Comparator: "EQUALS",
			FieldValue: fieldValue{Type: "INT64", Value: offset},
		},
		{
			FieldName:  "direction",
			Comparator: "EQUALS",
			FieldValue: fieldValue{Type: "STRING", Value: "ASCENDING"},
		},
	}
	filterBy = append(filterBy, a.filter...)

	return queryRequest{
		Query: recordQuery{
			FilterBy:   filterBy,
			RecordType: a.listType,
		},
		ResultsLimit: photosPageSize * 2,
		DesiredKeys:  listDesiredKeys,
		ZoneID:       a.lib.zone,
	}
}

// ErrDone signals the end of an iteration.
var ErrDone = errors.New("icloud: done iterating")

// PhotoIterator pages through an album's asset listing on demand. The
// offset only advances past a page once it decodes, so a retried fetch
// after a transient failure resumes where iteration stopped.
type PhotoIterator struct {
	album  *Album
	offset int
	buf    []*Asset
	done   bool
}

// Photos returns an iterator over the album's assets in service order
// (most recently added first).
func (a *Album) Photos() *PhotoIterator {
	return &PhotoIterator{album: a}
}

// Next returns the next asset, fetching pages as the buffer drains. A
// page can come back empty of usable assets when every master on it was
// skipped, so fetching loops. After the final asset it returns ErrDone.
func (it *PhotoIterator) Next(ctx context.Context) (*Asset, error) {
	for len(it.buf) == 0 && !it.done {
		if err := it.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	if len(it.buf) == 0 {
		return nil, ErrDone
	}

	asset := it.buf[0]
	it.buf = it.buf[1:]

	return asset, nil
}

// fetchPage queries one page and pairs CPLMaster records with their
// CPLAsset counterparts. A page with no masters ends the iteration.
func (it *PhotoIterator) fetchPage(ctx context.Context) error {
	a := it.album

	var resp recordsResponse
	if err := a.lib.svc.post(ctx, a.lib.scope, "/records/query", a.listQuery(it.offset), &resp); err != nil {
		return fmt.Errorf("icloud: listing album %q at offset %d: %w", a.Name, it.offset, err)
	}

	assetRecords := make(map[string]record)

	var masters []record

	for _, rec := range resp.Records {
		switch rec.RecordType {
		case "CPLAsset":
			ref, err := rec.Fields.masterRef()
			if err != nil {
				return fmt.Errorf("icloud: listing album %q: %w", a.Name, err)
			}

			assetRecords[ref] = rec
		case "CPLMaster":
			masters = append(masters, rec)
		}
	}

	if len(masters) == 0 {
		it.done = true

		return nil
	}

	logger := a.lib.svc.client.logger

	for _, master := range masters {
		assetRec, ok := assetRecords[master.RecordName]
		if !ok {
			logger.Warn("master record without asset record, skipping",
				slog.String("record_name", master.RecordName),
			)

			continue
		}

		asset, err := newAsset(master, assetRec, logger)
		if err != nil {
			return err
		}

		it.buf = append(it.buf, asset)
	}

	it.offset += len(masters)

	return nil
}

// masterRef extracts the master record name a CPLAsset points at.
func (f recordFields) masterRef() (string, error) {
	rf, ok := f["masterRef"]
	if !ok {
		return "", fmt.Errorf("icloud: masterRef missing")
	}

	var ref struct {
		RecordName string `json:"recordName"`
	}

	if err := json.Unmarshal(rf.Value, &ref); err != nil {
		return "", fmt.Errorf("icloud: decoding masterRef: %w", err)
	}

	return ref.RecordName, nil
}

type modifyRequest struct {
	Atomic      bool              `json:"atomic"`
	DesiredKeys []string          `json:"desiredKeys"`
	Operations  []modifyOperation `json:"operations"`
	ZoneID      ZoneID            `json:"zoneID"`
}

type modifyOperation struct {
	OperationType string       `json:"operationType"`
	Record        modifyRecord `json:"record"`
}

type modifyRecord struct {
	Fields          map[string]fieldValue `json:"fields"`
	RecordChangeTag string                `json:"recordChangeTag"`
	RecordName      string                `json:"recordName"`
	RecordType      string                `json:"recordType"`
}

// DeleteAsset moves an asset to the Recently Deleted collection by
// flipping its isDeleted field.
func (l *Library) DeleteAsset(ctx context.Context, asset *Asset) error {
	return l.DeleteAssets(ctx, []*Asset{asset})
}

// DeleteAssets moves a batch of assets to the Recently Deleted
// collection in a single atomic modify call. Callers chunk the batch;
// the service rejects oversized operation lists.
func (l *Library) DeleteAssets(ctx context.Context, assets []*Asset) error {
	if len(assets) == 0 {
		return nil
	}

	ops := make([]modifyOperation, 0, len(assets))
	for _, a := range assets {
		l.svc.client.logger.Debug("deleting asset in iCloud",
			slog.String("asset_id", a.ID),
		)

		ops = append(ops, modifyOperation{
			OperationType: "update",
			Record: modifyRecord{
				Fields:          map[string]fieldValue{"isDeleted": {Value: 1}},
				RecordChangeTag: a.RecordChangeTag,
				RecordName:      a.RecordName,
				RecordType:      "CPLAsset",
			},
		})
	}

	req := modifyRequest{
		Atomic:      true,
		DesiredKeys: []string{"isDeleted"},
		Operations:  ops,
		ZoneID:      l.zone,
	}

	extra := http.Header{}
	extra.Set("Content-Type", "application/json")

	rawURL := l.svc.endpoint(l.scope) + "/records/modify"

	if _, _, err := l.svc.client.postJSON(ctx, rawURL, l.svc.client.photoParams(), req, extra); err != nil {
		return fmt.Errorf("icloud: deleting %d assets: %w", len(assets), err)
	}

	l.svc.client.logger.Info("deleted assets in iCloud",
		slog.Int("count", len(assets)),
	)

	return nil
}
