package sidecar

import (
	"fmt"
	"os"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// exifTimeLayout is the colon-separated date form EXIF mandates.
const exifTimeLayout = "2006:01:02 15:04:05"

// TakenDate reads a JPEG's DateTimeOriginal tag. ok is false when the
// file has no EXIF block, no such tag, or cannot be parsed at all;
// callers use that as the cue to stamp their own.
func TakenDate(path string) (string, bool) {
	intfc, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return "", false
	}

	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return "", false
	}

	rootIfd, _, err := sl.Exif()
	if err != nil {
		return "", false
	}

	exifIfd, err := exif.FindIfdFromRootIfd(rootIfd, "IFD/Exif")
	if err != nil {
		return "", false
	}

	results, err := exifIfd.FindTagWithName("DateTimeOriginal")
	if err != nil || len(results) == 0 {
		return "", false
	}

	value, err := results[0].FormatFirst()
	if err != nil || value == "" {
		return "", false
	}

	return value, true
}

// StampTaken writes t into the JPEG's DateTimeOriginal and
// DateTimeDigitized tags plus the IFD0 DateTime, preserving the rest
// of the file. t should already be in the capture zone.
func StampTaken(path string, t time.Time) error {
	intfc, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return fmt.Errorf("parsing jpeg: %w", err)
	}

	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return fmt.Errorf("parsing jpeg: unexpected media type %T", intfc)
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		// No EXIF block at all — start one.
		rootIb, err = emptyExifBuilder()
		if err != nil {
			return fmt.Errorf("creating exif block: %w", err)
		}
	}

	stamp := t.Format(exifTimeLayout)

	ifdIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD")
	if err != nil {
		return fmt.Errorf("opening IFD0: %w", err)
	}
	if err := ifdIb.SetStandardWithName("DateTime", stamp); err != nil {
		return fmt.Errorf("setting DateTime: %w", err)
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return fmt.Errorf("opening exif IFD: %w", err)
	}
	if err := exifIb.SetStandardWithName("DateTimeOriginal", stamp); err != nil {
		return fmt.Errorf("setting DateTimeOriginal: %w", err)
	}
	if err := exifIb.SetStandardWithName("DateTimeDigitized", stamp); err != nil {
		return fmt.Errorf("setting DateTimeDigitized: %w", err)
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("attaching exif block: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:mnd // standard file perms
	if err != nil {
		return fmt.Errorf("rewriting jpeg: %w", err)
	}

	if err := sl.Write(f); err != nil {
		f.Close()

		return fmt.Errorf("rewriting jpeg: %w", err)
	}

	return f.Close()
}

func emptyExifBuilder() (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, err
	}

	return exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder), nil
}
