// Package sidecar derives on-disk metadata companions for downloaded
// assets: XMP sidecar files carrying the library metadata the photo
// file itself lacks, and EXIF capture timestamps stamped into JPEGs
// that arrived without one.
package sidecar

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"io"
	"time"

	"howett.net/plist"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Metadata is the distilled sidecar content for one asset. Zero
// values mean the field is absent and is omitted from the output.
type Metadata struct {
	Title       string
	Description string
	Orientation int
	Make        string

	// DigitalSourceType is the IPTC source hint, currently only set
	// to "screenCapture" for screenshots.
	DigitalSourceType string

	Keywords []string

	GPSAltitude  float64
	GPSLatitude  float64
	GPSLongitude float64
	GPSSpeed     float64
	GPSTimeStamp time.Time

	CreateDate    time.Time
	HasCreateDate bool

	// Rating is 5 for favorites and -1 for hidden or deleted assets,
	// the IPTC "rejected" marker. 0 means unrated and is omitted.
	Rating int
}

// assetSubtypeScreenshot is the assetSubtypeV2 value the service uses
// for screen captures.
const assetSubtypeScreenshot = 3

// BuildMetadata extracts sidecar metadata from an asset's decoded
// record fields. Malformed plist or adjustment payloads degrade to
// absent fields rather than failing the asset.
func BuildMetadata(a *icloud.Asset) Metadata {
	m := Metadata{
		Title:       a.Caption,
		Description: a.ExtendedDescription,
		Keywords:    decodeKeywords(a.KeywordsPlist),
	}

	if orient, ok := orientationFromAdjustments(a.AdjustmentData); ok {
		m.Orientation = orient
	} else {
		m.Orientation = a.Orientation
	}

	if a.AssetSubtypeV2 == assetSubtypeScreenshot {
		m.Make = "Screenshot"
		m.DigitalSourceType = "screenCapture"
	}

	if loc, ok := decodeLocation(a.LocationPlist); ok {
		m.GPSAltitude = loc.Alt
		m.GPSLatitude = loc.Lat
		m.GPSLongitude = loc.Lon
		m.GPSSpeed = loc.Speed
		m.GPSTimeStamp = loc.Timestamp
	}

	if a.AssetDate.Unix() != 0 {
		zone := time.FixedZone("", a.TimeZoneOffset)
		m.CreateDate = a.AssetDate.In(zone)
		m.HasCreateDate = true
	}

	switch {
	case a.IsHidden || a.IsDeleted:
		m.Rating = -1
	case a.IsFavorite:
		m.Rating = 5
	}

	return m
}

// decodeKeywords parses the binary plist keyword list. Absent or
// malformed input yields nil.
func decodeKeywords(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	var keywords []string
	if _, err := plist.Unmarshal(data, &keywords); err != nil {
		return nil
	}

	if len(keywords) == 0 {
		return nil
	}

	return keywords
}

// location mirrors the binary plist dictionary inside locationEnc.
type location struct {
	Alt       float64   `plist:"alt"`
	Lat       float64   `plist:"lat"`
	Lon       float64   `plist:"lon"`
	Speed     float64   `plist:"speed"`
	Timestamp time.Time `plist:"timestamp"`
}

func decodeLocation(data []byte) (location, bool) {
	if len(data) == 0 {
		return location{}, false
	}

	var loc location
	if _, err := plist.Unmarshal(data, &loc); err != nil {
		return location{}, false
	}

	return loc, true
}

// adjustments is the slice of the adjustment JSON the sidecar cares
// about. The payload is a raw DEFLATE stream, not a zlib one.
type adjustments struct {
	Metadata struct {
		Orientation int `json:"orientation"`
	} `json:"metadata"`
}

func orientationFromAdjustments(data []byte) (int, bool) {
	if len(data) == 0 {
		return 0, false
	}

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, false
	}

	var adj adjustments
	if err := json.Unmarshal(raw, &adj); err != nil {
		return 0, false
	}

	if adj.Metadata.Orientation == 0 {
		return 0, false
	}

	return adj.Metadata.Orientation, true
}
