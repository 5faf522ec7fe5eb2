package icloud

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ItemType classifies an asset as a still image or a movie.
type ItemType string

const (
	ItemTypeImage ItemType = "image"
	ItemTypeMovie ItemType = "movie"
)

// VersionSize names a downloadable rendition of an asset.
type VersionSize string

const (
	SizeOriginal    VersionSize = "original"
	SizeMedium      VersionSize = "medium"
	SizeThumb       VersionSize = "thumb"
	SizeAdjusted    VersionSize = "adjusted"
	SizeAlternative VersionSize = "alternative"
)

// LiveVersionSize names a downloadable rendition of the motion part of
// a Live Photo.
type LiveVersionSize string

const (
	LiveOriginal LiveVersionSize = "original"
	LiveMedium   LiveVersionSize = "medium"
	LiveThumb    LiveVersionSize = "thumb"
)

// Version is one downloadable rendition of an asset.
type Version struct {
	Size     int64
	URL      string // signed, ephemeral; never log
	Type     string // content type UTI, e.g. "public.heic"
	Checksum string
}

// Asset represents one photo or video from a library listing,
// normalized from the paired CPLMaster and CPLAsset records.
// Callers never see raw record data.
type Asset struct {
	ID              string // CPLMaster record name, stable asset identity
	RecordName      string // CPLAsset record name, used for remote delete
	RecordChangeTag string // CPLAsset change tag, used for remote delete

	Filename    string // decoded service filename; meaningful only when HasFilename
	HasFilename bool

	ItemType    ItemType
	ItemTypeUTI string // raw itemType value, e.g. "public.jpeg"

	AssetDate time.Time // capture instant, UTC; epoch when absent
	AddedDate time.Time // library add instant, UTC; epoch when absent

	IsFavorite bool
	IsHidden   bool
	IsDeleted  bool

	Versions     map[VersionSize]Version
	LiveVersions map[LiveVersionSize]Version

	// Metadata carried for sidecar generation. The *Plist and
	// AdjustmentData fields are base64-decoded but otherwise opaque
	// at this layer.
	Caption             string
	ExtendedDescription string
	KeywordsPlist       []byte
	LocationPlist       []byte
	AdjustmentData      []byte // still zlib-compressed
	AssetSubtypeV2      int64
	TimeZoneOffset      int  // seconds east of UTC at capture time
	HasTimeZone         bool // false when the service omitted the offset
	Orientation         int
}

// itemTypes maps the service's content type UTIs to an item class.
var itemTypes = map[string]ItemType{
	"public.heic":                 ItemTypeImage,
	"public.heif":                 ItemTypeImage,
	"public.jpeg":                 ItemTypeImage,
	"public.png":                  ItemTypeImage,
	"com.apple.quicktime-movie":   ItemTypeMovie,
	"com.adobe.raw-image":         ItemTypeImage,
	"com.canon.cr2-raw-image":     ItemTypeImage,
	"com.canon.crw-raw-image":     ItemTypeImage,
	"com.sony.arw-raw-image":      ItemTypeImage,
	"com.fuji.raw-image":          ItemTypeImage,
	"com.panasonic.rw2-raw-image": ItemTypeImage,
	"com.nikon.nrw-raw-image":     ItemTypeImage,
	"com.pentax.raw-image":        ItemTypeImage,
	"com.nikon.raw-image":         ItemTypeImage,
	"com.olympus.raw-image":       ItemTypeImage,
	"com.canon.cr3-raw-image":     ItemTypeImage,
	"com.olympus.or-raw-image":    ItemTypeImage,
}

// itemTypeExtensions maps content type UTIs to filename extensions,
// used for fallback names and for renditions whose type differs from
// the service filename's extension.
var itemTypeExtensions = map[string]string{
	"public.heic":                 "HEIC",
	"public.heif":                 "HEIF",
	"public.jpeg":                 "JPG",
	"public.png":                  "PNG",
	"com.apple.quicktime-movie":   "MOV",
	"com.adobe.raw-image":         "DNG",
	"com.canon.cr2-raw-image":     "CR2",
	"com.canon.crw-raw-image":     "CRW",
	"com.canon.cr3-raw-image":     "CR3",
	"com.sony.arw-raw-image":      "ARW",
	"com.fuji.raw-image":          "RAF",
	"com.panasonic.rw2-raw-image": "RW2",
	"com.nikon.nrw-raw-image":     "NRW",
	"com.nikon.raw-image":         "NEF",
	"com.pentax.raw-image":        "PEF",
	"com.olympus.raw-image":       "ORF",
	"com.olympus.or-raw-image":    "ORF",
}

// ExtensionForUTI returns the filename extension for a content type
// UTI, if one is known.
func ExtensionForUTI(uti string) (string, bool) {
	ext, ok := itemTypeExtensions[uti]

	return ext, ok
}

// ItemTypeExtension returns the filename extension implied by the
// asset's content type, or "unknown".
func (a *Asset) ItemTypeExtension() string {
	if ext, ok := itemTypeExtensions[a.ItemTypeUTI]; ok {
		return ext
	}

	return "unknown"
}

// record mirrors a CloudKit record envelope. Field values vary in
// shape per field name, so they stay raw until a typed accessor
// decodes them.
type record struct {
	RecordName      string       `json:"recordName"`
	RecordType      string       `json:"recordType"`
	RecordChangeTag string       `json:"recordChangeTag"`
	Fields          recordFields `json:"fields"`
	Deleted         bool         `json:"deleted"`
}

type recordField struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

type recordFields map[string]recordField

func (f recordFields) stringValue(name string) (string, bool) {
	rf, ok := f[name]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(rf.Value, &s); err != nil {
		return "", false
	}

	return s, true
}

func (f recordFields) int64Value(name string) (int64, bool) {
	rf, ok := f[name]
	if !ok {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(rf.Value, &n); err != nil {
		return 0, false
	}

	v, err := n.Int64()
	if err != nil {
		return 0, false
	}

	return v, true
}

// base64Value decodes a field the service base64-encodes
// (albumNameEnc, captionEnc, locationEnc and friends).
func (f recordFields) base64Value(name string) ([]byte, bool) {
	s, ok := f.stringValue(name)
	if !ok {
		return nil, false
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}

	return decoded, true
}

// resourceValue is the payload of a {prefix}Res field: where to fetch
// one rendition and how big it is.
type resourceValue struct {
	Size         int64  `json:"size"`
	DownloadURL  string `json:"downloadURL"`
	FileChecksum string `json:"fileChecksum"`
}

func (f recordFields) resourceValue(name string) (*resourceValue, error) {
	rf, ok := f[name]
	if !ok {
		return nil, nil
	}

	var res resourceValue
	if err := json.Unmarshal(rf.Value, &res); err != nil {
		return nil, fmt.Errorf("icloud: decoding %s: %w", name, err)
	}

	return &res, nil
}

// Rendition field prefixes per item class. Versions live on the asset
// record when the photo was edited, otherwise on the master record.
var (
	photoVersionLookup = map[VersionSize]string{
		SizeOriginal:    "resOriginal",
		SizeAlternative: "resOriginalAlt",
		SizeMedium:      "resJPEGMed",
		SizeThumb:       "resJPEGThumb",
		SizeAdjusted:    "resJPEGFull",
	}

	videoVersionLookup = map[VersionSize]string{
		SizeOriginal: "resOriginal",
		SizeMedium:   "resVidMed",
		SizeThumb:    "resVidSmall",
	}

	liveVersionLookup = map[LiveVersionSize]string{
		LiveOriginal: "resOriginalVidCompl",
		LiveMedium:   "resVidMed",
		LiveThumb:    "resVidSmall",
	}
)

// newAsset normalizes a CPLMaster/CPLAsset record pair into an Asset.
func newAsset(master, asset record, logger *slog.Logger) (*Asset, error) {
	a := &Asset{
		ID:              master.RecordName,
		RecordName:      asset.RecordName,
		RecordChangeTag: asset.RecordChangeTag,
	}

	if err := a.decodeFilename(master.Fields); err != nil {
		return nil, err
	}

	a.ItemTypeUTI, _ = master.Fields.stringValue("itemType")
	a.ItemType = resolveItemType(a.ItemTypeUTI, a.Filename)

	a.AssetDate = millisField(asset.Fields, "assetDate", master.RecordName, logger)
	a.AddedDate = millisField(asset.Fields, "addedDate", master.RecordName, logger)

	a.IsFavorite = flagField(asset.Fields, "isFavorite")
	a.IsHidden = flagField(asset.Fields, "isHidden")
	a.IsDeleted = flagField(asset.Fields, "isDeleted")

	var err error

	if a.ItemType == ItemTypeMovie {
		a.Versions, err = versionsFromRecords(videoVersionLookup, asset.Fields, master.Fields)
	} else {
		a.Versions, err = versionsFromRecords(photoVersionLookup, asset.Fields, master.Fields)
		if err == nil {
			a.LiveVersions, err = versionsFromRecords(liveVersionLookup, asset.Fields, master.Fields)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("icloud: asset %s: %w", master.RecordName, err)
	}

	a.decodeSidecarFields(asset.Fields)

	return a, nil
}

// decodeFilename extracts filenameEnc from the master record. Absence
// is not an error; the caller derives a fallback name.
func (a *Asset) decodeFilename(fields recordFields) error {
	rf, ok := fields["filenameEnc"]
	if !ok {
		return nil
	}

	var raw string
	if err := json.Unmarshal(rf.Value, &raw); err != nil {
		return fmt.Errorf("icloud: decoding filenameEnc value: %w", err)
	}

	switch rf.Type {
	case "STRING":
		a.Filename = raw
	case "ENCRYPTED_BYTES":
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("icloud: decoding filenameEnc bytes: %w", err)
		}

		a.Filename = string(decoded)
	default:
		return fmt.Errorf("icloud: unsupported filenameEnc type %q", rf.Type)
	}

	a.HasFilename = true

	return nil
}

// resolveItemType maps the itemType UTI to an item class, sniffing the
// filename extension for UTIs not in the table. Unknowns are movies:
// misclassifying a video as an image would pair it with Live Photo
// renditions it does not have.
func resolveItemType(uti, filename string) ItemType {
	if t, ok := itemTypes[uti]; ok {
		return t
	}

	lower := strings.ToLower(filename)
	for _, ext := range []string{".heic", ".png", ".jpg", ".jpeg"} {
		if strings.HasSuffix(lower, ext) {
			return ItemTypeImage
		}
	}

	return ItemTypeMovie
}

// versionsFromRecords builds the rendition map for one lookup table,
// preferring the asset record's fields over the master record's.
func versionsFromRecords[S ~string](lookup map[S]string, asset, master recordFields) (map[S]Version, error) {
	versions := make(map[S]Version)

	for size, prefix := range lookup {
		fields := master
		if _, ok := asset[prefix+"Res"]; ok {
			fields = asset
		}

		res, err := fields.resourceValue(prefix + "Res")
		if err != nil {
			return nil, err
		}

		if res == nil {
			continue
		}

		fileType, ok := fields.stringValue(prefix + "FileType")
		if !ok {
			return nil, fmt.Errorf("icloud: %sRes present but %sFileType missing", prefix, prefix)
		}

		versions[size] = Version{
			Size:     res.Size,
			URL:      res.DownloadURL,
			Type:     fileType,
			Checksum: res.FileChecksum,
		}
	}

	return versions, nil
}

func (a *Asset) decodeSidecarFields(fields recordFields) {
	if caption, ok := fields.base64Value("captionEnc"); ok {
		a.Caption = string(caption)
	}

	if desc, ok := fields.base64Value("extendedDescEnc"); ok {
		a.ExtendedDescription = string(desc)
	}

	a.KeywordsPlist, _ = fields.base64Value("keywordsEnc")
	a.LocationPlist, _ = fields.base64Value("locationEnc")
	a.AdjustmentData, _ = fields.base64Value("adjustmentSimpleDataEnc")
	a.AssetSubtypeV2, _ = fields.int64Value("assetSubtypeV2")

	if off, ok := fields.int64Value("timeZoneOffset"); ok {
		a.TimeZoneOffset = int(off)
		a.HasTimeZone = true
	}

	if orient, ok := fields.int64Value("orientation"); ok {
		a.Orientation = int(orient)
	}
}

// millisField parses a millisecond-epoch timestamp field. Absent or
// malformed values fall back to the epoch with a warning, matching how
// the web client treats assets with no capture date.
func millisField(fields recordFields, name, assetID string, logger *slog.Logger) time.Time {
	ms, ok := fields.int64Value(name)
	if !ok {
		logger.Warn("asset date missing, using epoch",
			slog.String("field", name),
			slog.String("asset_id", assetID),
		)

		return time.Unix(0, 0).UTC()
	}

	return time.UnixMilli(ms).UTC()
}

func flagField(fields recordFields, name string) bool {
	v, ok := fields.int64Value(name)

	return ok && v != 0
}
