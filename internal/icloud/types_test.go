package icloud

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(t *testing.T, typ string, v any) recordField {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	return recordField{Value: raw, Type: typ}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestNewAsset(t *testing.T) {
	master := record{
		RecordName:      "m1",
		RecordType:      "CPLMaster",
		RecordChangeTag: "1",
		Fields: recordFields{
			"itemType":    field(t, "STRING", "public.heic"),
			"filenameEnc": field(t, "ENCRYPTED_BYTES", b64("IMG_1234.HEIC")),
			"resOriginalRes": field(t, "ASSETID", map[string]any{
				"size":         2097152,
				"downloadURL":  "https://cvws.example/orig",
				"fileChecksum": "orig-chk",
			}),
			"resOriginalFileType": field(t, "STRING", "public.heic"),
			"resJPEGThumbRes": field(t, "ASSETID", map[string]any{
				"size":         20480,
				"downloadURL":  "https://cvws.example/thumb",
				"fileChecksum": "thumb-chk",
			}),
			"resJPEGThumbFileType": field(t, "STRING", "public.jpeg"),
			"resOriginalVidComplRes": field(t, "ASSETID", map[string]any{
				"size":         1048576,
				"downloadURL":  "https://cvws.example/live",
				"fileChecksum": "live-chk",
			}),
			"resOriginalVidComplFileType": field(t, "STRING", "com.apple.quicktime-movie"),
		},
	}

	asset := record{
		RecordName:      "A-m1",
		RecordType:      "CPLAsset",
		RecordChangeTag: "5d21",
		Fields: recordFields{
			"masterRef":      field(t, "REFERENCE", map[string]any{"recordName": "m1"}),
			"assetDate":      field(t, "TIMESTAMP", 1533021744816),
			"addedDate":      field(t, "TIMESTAMP", 1534000000000),
			"isFavorite":     field(t, "INT64", 1),
			"isHidden":       field(t, "INT64", 0),
			"captionEnc":     field(t, "ENCRYPTED_BYTES", b64("Sunset")),
			"timeZoneOffset": field(t, "INT64", 7200),
			"orientation":    field(t, "INT64", 6),
			// The edited rendition lives on the asset record.
			"resJPEGFullRes": field(t, "ASSETID", map[string]any{
				"size":         524288,
				"downloadURL":  "https://cvws.example/adjusted",
				"fileChecksum": "adj-chk",
			}),
			"resJPEGFullFileType": field(t, "STRING", "public.jpeg"),
		},
	}

	a, err := newAsset(master, asset, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "m1", a.ID)
	assert.Equal(t, "A-m1", a.RecordName)
	assert.Equal(t, "5d21", a.RecordChangeTag)
	assert.Equal(t, "IMG_1234.HEIC", a.Filename)
	assert.True(t, a.HasFilename)
	assert.Equal(t, ItemTypeImage, a.ItemType)
	assert.Equal(t, "public.heic", a.ItemTypeUTI)
	assert.Equal(t, time.Date(2018, 7, 31, 7, 22, 24, 816000000, time.UTC), a.AssetDate)
	assert.Equal(t, time.UnixMilli(1534000000000).UTC(), a.AddedDate)
	assert.True(t, a.IsFavorite)
	assert.False(t, a.IsHidden)

	require.Contains(t, a.Versions, SizeOriginal)
	assert.Equal(t, int64(2097152), a.Versions[SizeOriginal].Size)
	assert.Equal(t, "https://cvws.example/orig", a.Versions[SizeOriginal].URL)
	assert.Equal(t, "public.heic", a.Versions[SizeOriginal].Type)
	assert.Equal(t, "orig-chk", a.Versions[SizeOriginal].Checksum)

	require.Contains(t, a.Versions, SizeAdjusted)
	assert.Equal(t, "https://cvws.example/adjusted", a.Versions[SizeAdjusted].URL)

	assert.Contains(t, a.Versions, SizeThumb)
	assert.NotContains(t, a.Versions, SizeMedium)
	assert.NotContains(t, a.Versions, SizeAlternative)

	require.Contains(t, a.LiveVersions, LiveOriginal)
	assert.Equal(t, "com.apple.quicktime-movie", a.LiveVersions[LiveOriginal].Type)

	assert.Equal(t, "Sunset", a.Caption)
	assert.Equal(t, 7200, a.TimeZoneOffset)
	assert.Equal(t, 6, a.Orientation)
}

func TestNewAsset_MovieVersionLookup(t *testing.T) {
	master := record{
		RecordName: "m2",
		RecordType: "CPLMaster",
		Fields: recordFields{
			"itemType":    field(t, "STRING", "com.apple.quicktime-movie"),
			"filenameEnc": field(t, "STRING", "IMG_2001.MOV"),
			"resOriginalRes": field(t, "ASSETID", map[string]any{
				"size":        10485760,
				"downloadURL": "https://cvws.example/vid",
			}),
			"resOriginalFileType": field(t, "STRING", "com.apple.quicktime-movie"),
			"resVidMedRes": field(t, "ASSETID", map[string]any{
				"size":        1048576,
				"downloadURL": "https://cvws.example/vid-med",
			}),
			"resVidMedFileType": field(t, "STRING", "com.apple.quicktime-movie"),
		},
	}

	asset := record{
		RecordName: "A-m2",
		RecordType: "CPLAsset",
		Fields: recordFields{
			"assetDate": field(t, "TIMESTAMP", 1533021744816),
			"addedDate": field(t, "TIMESTAMP", 1533021744816),
		},
	}

	a, err := newAsset(master, asset, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, ItemTypeMovie, a.ItemType)
	assert.Equal(t, "IMG_2001.MOV", a.Filename)
	assert.Contains(t, a.Versions, SizeOriginal)
	assert.Contains(t, a.Versions, SizeMedium)
	assert.NotContains(t, a.Versions, SizeAdjusted)
	assert.Empty(t, a.LiveVersions, "movies have no live companion")
}

func TestNewAsset_FileTypeMissing(t *testing.T) {
	master := record{
		RecordName: "m3",
		RecordType: "CPLMaster",
		Fields: recordFields{
			"itemType": field(t, "STRING", "public.jpeg"),
			"resOriginalRes": field(t, "ASSETID", map[string]any{
				"size":        1,
				"downloadURL": "https://cvws.example/x",
			}),
		},
	}

	asset := record{RecordName: "A-m3", RecordType: "CPLAsset", Fields: recordFields{
		"assetDate": field(t, "TIMESTAMP", 0),
		"addedDate": field(t, "TIMESTAMP", 0),
	}}

	_, err := newAsset(master, asset, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resOriginalFileType missing")
	assert.Contains(t, err.Error(), "m3")
}

func TestNewAsset_AssetRecordWinsOverMaster(t *testing.T) {
	master := record{
		RecordName: "m4",
		RecordType: "CPLMaster",
		Fields: recordFields{
			"itemType": field(t, "STRING", "public.jpeg"),
			"resJPEGThumbRes": field(t, "ASSETID", map[string]any{
				"size":        100,
				"downloadURL": "https://cvws.example/master-thumb",
			}),
			"resJPEGThumbFileType": field(t, "STRING", "public.jpeg"),
		},
	}

	asset := record{
		RecordName: "A-m4",
		RecordType: "CPLAsset",
		Fields: recordFields{
			"assetDate": field(t, "TIMESTAMP", 0),
			"addedDate": field(t, "TIMESTAMP", 0),
			"resJPEGThumbRes": field(t, "ASSETID", map[string]any{
				"size":        200,
				"downloadURL": "https://cvws.example/asset-thumb",
			}),
			"resJPEGThumbFileType": field(t, "STRING", "public.jpeg"),
		},
	}

	a, err := newAsset(master, asset, slog.Default())
	require.NoError(t, err)

	require.Contains(t, a.Versions, SizeThumb)
	assert.Equal(t, "https://cvws.example/asset-thumb", a.Versions[SizeThumb].URL)
	assert.Equal(t, int64(200), a.Versions[SizeThumb].Size)
}

func TestDecodeFilename(t *testing.T) {
	var a Asset
	require.NoError(t, a.decodeFilename(recordFields{"filenameEnc": field(t, "STRING", "IMG_1.JPG")}))
	assert.Equal(t, "IMG_1.JPG", a.Filename)
	assert.True(t, a.HasFilename)

	a = Asset{}
	require.NoError(t, a.decodeFilename(recordFields{"filenameEnc": field(t, "ENCRYPTED_BYTES", b64("Ferien 2018.HEIC"))}))
	assert.Equal(t, "Ferien 2018.HEIC", a.Filename)
	assert.True(t, a.HasFilename)

	a = Asset{}
	require.NoError(t, a.decodeFilename(recordFields{}))
	assert.False(t, a.HasFilename)
	assert.Empty(t, a.Filename)

	a = Asset{}
	err := a.decodeFilename(recordFields{"filenameEnc": field(t, "BYTES", "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported filenameEnc type")

	a = Asset{}
	err = a.decodeFilename(recordFields{"filenameEnc": field(t, "ENCRYPTED_BYTES", "!!not base64!!")})
	require.Error(t, err)
}

func TestResolveItemType(t *testing.T) {
	tests := []struct {
		uti      string
		filename string
		want     ItemType
	}{
		{"public.jpeg", "", ItemTypeImage},
		{"public.heic", "", ItemTypeImage},
		{"com.apple.quicktime-movie", "", ItemTypeMovie},
		{"com.sony.arw-raw-image", "IMG_1.ARW", ItemTypeImage},
		{"com.canon.cr3-raw-image", "", ItemTypeImage},
		{"", "IMG_1.HEIC", ItemTypeImage},
		{"", "img_2.jpeg", ItemTypeImage},
		{"some.future.uti", "IMG_9.PNG", ItemTypeImage},
		{"some.future.uti", "clip.3gp", ItemTypeMovie},
		{"", "", ItemTypeMovie},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveItemType(tt.uti, tt.filename), "uti=%q filename=%q", tt.uti, tt.filename)
	}
}

func TestItemTypeExtension(t *testing.T) {
	a := &Asset{ItemTypeUTI: "public.heic"}
	assert.Equal(t, "HEIC", a.ItemTypeExtension())

	a.ItemTypeUTI = "com.apple.quicktime-movie"
	assert.Equal(t, "MOV", a.ItemTypeExtension())

	a.ItemTypeUTI = "com.sony.arw-raw-image"
	assert.Equal(t, "ARW", a.ItemTypeExtension())

	a.ItemTypeUTI = "some.future.uti"
	assert.Equal(t, "unknown", a.ItemTypeExtension())
}

func TestExtensionForUTI(t *testing.T) {
	ext, ok := ExtensionForUTI("public.jpeg")
	assert.True(t, ok)
	assert.Equal(t, "JPG", ext)

	ext, ok = ExtensionForUTI("com.canon.cr2-raw-image")
	assert.True(t, ok)
	assert.Equal(t, "CR2", ext)

	_, ok = ExtensionForUTI("some.future.uti")
	assert.False(t, ok)
}

func TestMillisField_EpochFallback(t *testing.T) {
	fields := recordFields{"assetDate": field(t, "TIMESTAMP", 1533021744816)}

	got := millisField(fields, "assetDate", "m1", slog.Default())
	assert.Equal(t, time.Date(2018, 7, 31, 7, 22, 24, 816000000, time.UTC), got)

	got = millisField(recordFields{}, "assetDate", "m1", slog.Default())
	assert.Equal(t, time.Unix(0, 0).UTC(), got)
}

func TestDecodeSidecarFields(t *testing.T) {
	keywordsPlist := "bplist00keywords"
	adjustment := "zlib-compressed-bytes"

	var a Asset
	a.decodeSidecarFields(recordFields{
		"captionEnc":              field(t, "ENCRYPTED_BYTES", b64("Beach day")),
		"extendedDescEnc":         field(t, "ENCRYPTED_BYTES", b64("Low tide at sunset")),
		"keywordsEnc":             field(t, "ENCRYPTED_BYTES", b64(keywordsPlist)),
		"adjustmentSimpleDataEnc": field(t, "ENCRYPTED_BYTES", b64(adjustment)),
		"assetSubtypeV2":          field(t, "INT64", 2),
		"timeZoneOffset":          field(t, "INT64", -18000),
		"orientation":             field(t, "INT64", 3),
	})

	assert.Equal(t, "Beach day", a.Caption)
	assert.Equal(t, "Low tide at sunset", a.ExtendedDescription)
	assert.Equal(t, []byte(keywordsPlist), a.KeywordsPlist)
	assert.Equal(t, []byte(adjustment), a.AdjustmentData)
	assert.Equal(t, int64(2), a.AssetSubtypeV2)
	assert.Equal(t, -18000, a.TimeZoneOffset)
	assert.True(t, a.HasTimeZone)
	assert.Equal(t, 3, a.Orientation)

	var bare Asset
	bare.decodeSidecarFields(recordFields{})
	assert.False(t, bare.HasTimeZone)
}

func TestRecordFieldAccessors(t *testing.T) {
	fields := recordFields{
		"str":   field(t, "STRING", "hello"),
		"num":   field(t, "INT64", 42),
		"big":   field(t, "INT64", int64(1533021744816)),
		"enc":   field(t, "ENCRYPTED_BYTES", b64("raw")),
		"badB.": field(t, "ENCRYPTED_BYTES", "%%%"),
	}

	s, ok := fields.stringValue("str")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = fields.stringValue("missing")
	assert.False(t, ok)

	n, ok := fields.int64Value("num")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	big, ok := fields.int64Value("big")
	assert.True(t, ok)
	assert.Equal(t, int64(1533021744816), big)

	_, ok = fields.int64Value("str")
	assert.False(t, ok)

	b, ok := fields.base64Value("enc")
	assert.True(t, ok)
	assert.Equal(t, []byte("raw"), b)

	_, ok = fields.base64Value("badB.")
	assert.False(t, ok)
}
