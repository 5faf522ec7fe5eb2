package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Toolkit identifies this writer in the x:xmptk root attribute.
// Sidecars whose toolkit does not carry this prefix belong to another
// tool and are never overwritten.
const Toolkit = "icloud-go"

// ErrForeignSidecar reports that a sidecar file already exists and was
// not written by this tool.
var ErrForeignSidecar = errors.New("sidecar: existing file written by another tool")

// xmpTimeLayout matches the offset-suffixed ISO form other XMP writers
// produce, e.g. 2018-07-31T07:22:24+0500.
const xmpTimeLayout = "2006-01-02T15:04:05-0700"

// XMPPath returns the sidecar path for a downloaded file.
func XMPPath(path string) string {
	return path + ".xmp"
}

// WriteXMP writes the asset's XMP sidecar next to path, replacing a
// previous one only if this tool produced it. The sidecar path is
// returned even on failure so callers can log it.
func WriteXMP(path string, a *icloud.Asset) (string, error) {
	sidecarPath := XMPPath(path)

	if err := checkOverwrite(sidecarPath); err != nil {
		return sidecarPath, err
	}

	doc := renderXMP(BuildMetadata(a))
	if err := doc.WriteToFile(sidecarPath); err != nil {
		return sidecarPath, fmt.Errorf("writing sidecar: %w", err)
	}

	return sidecarPath, nil
}

// checkOverwrite decides whether sidecarPath may be replaced. Missing
// and empty files may; files we cannot parse or that carry another
// toolkit may not.
func checkOverwrite(sidecarPath string) error {
	info, err := os.Stat(sidecarPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking sidecar: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	existing := etree.NewDocument()
	if err := existing.ReadFromFile(sidecarPath); err != nil {
		return fmt.Errorf("%w: unparseable: %v", ErrForeignSidecar, err)
	}

	root := existing.Root()
	if root == nil {
		return fmt.Errorf("%w: no root element", ErrForeignSidecar)
	}

	toolkit := root.SelectAttrValue("x:xmptk", "")
	if !strings.HasPrefix(toolkit, Toolkit) {
		return fmt.Errorf("%w: %q", ErrForeignSidecar, toolkit)
	}

	return nil
}

// renderXMP builds the sidecar document. Each namespace gets its own
// rdf:Description, and empty ones are dropped.
func renderXMP(m Metadata) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("x:xmpmeta")
	root.CreateAttr("xmlns:x", "adobe:ns:meta/")
	root.CreateAttr("x:xmptk", Toolkit)

	rdf := root.CreateElement("rdf:RDF")
	rdf.CreateAttr("xmlns:rdf", "http://www.w3.org/1999/02/22-rdf-syntax-ns#")

	dc := description("xmlns:dc", "http://purl.org/dc/elements/1.1/")
	exifDesc := description("xmlns:exif", "http://ns.adobe.com/exif/1.0/")
	iptc := description("xmlns:Iptc4xmpExt", "http://iptc.org/std/Iptc4xmpExt/2008-02-29/")
	photoshop := description("xmlns:photoshop", "http://ns.adobe.com/photoshop/1.0/")
	tiff := description("xmlns:tiff", "http://ns.adobe.com/tiff/1.0/")
	xmp := description("xmlns:xmp", "http://ns.adobe.com/xap/1.0/")

	if m.Title != "" {
		dc.CreateElement("dc:title").SetText(m.Title)
	}
	if m.Description != "" {
		dc.CreateElement("dc:description").SetText(m.Description)
	}
	if len(m.Keywords) > 0 {
		seq := dc.CreateElement("dc:subject").CreateElement("rdf:Seq")
		for _, keyword := range m.Keywords {
			seq.CreateElement("rdf:li").SetText(keyword)
		}
	}

	if m.GPSAltitude != 0 {
		exifDesc.CreateElement("exif:GPSAltitude").SetText(formatFloat(m.GPSAltitude))
	}
	if m.GPSLatitude != 0 {
		exifDesc.CreateElement("exif:GPSLatitude").SetText(formatFloat(m.GPSLatitude))
	}
	if m.GPSLongitude != 0 {
		exifDesc.CreateElement("exif:GPSLongitude").SetText(formatFloat(m.GPSLongitude))
	}
	if m.GPSSpeed != 0 {
		exifDesc.CreateElement("exif:GPSSpeed").SetText(formatFloat(m.GPSSpeed))
	}
	if !m.GPSTimeStamp.IsZero() {
		exifDesc.CreateElement("exif:GPSTimeStamp").SetText(m.GPSTimeStamp.Format(xmpTimeLayout))
	}

	if m.DigitalSourceType != "" {
		iptc.CreateElement("Iptc4xmpExt:DigitalSourceType").SetText(m.DigitalSourceType)
	}

	if m.HasCreateDate {
		created := m.CreateDate.Format(xmpTimeLayout)
		// Apple Photos reads photoshop:DateCreated when importing a
		// sidecar, so it is written alongside xmp:CreateDate.
		photoshop.CreateElement("photoshop:DateCreated").SetText(created)
		xmp.CreateElement("xmp:CreateDate").SetText(created)
	}

	if m.Orientation != 0 {
		tiff.CreateElement("tiff:Orientation").SetText(strconv.Itoa(m.Orientation))
	}
	if m.Make != "" {
		tiff.CreateElement("tiff:Make").SetText(m.Make)
	}

	if m.Rating != 0 {
		xmp.CreateElement("xmp:Rating").SetText(strconv.Itoa(m.Rating))
	}

	for _, desc := range []*etree.Element{dc, exifDesc, iptc, photoshop, tiff, xmp} {
		if len(desc.ChildElements()) > 0 {
			rdf.AddChild(desc)
		}
	}

	doc.Indent(2)

	return doc
}

func description(nsAttr, nsURI string) *etree.Element {
	desc := etree.NewElement("rdf:Description")
	desc.CreateAttr("rdf:about", "")
	desc.CreateAttr(nsAttr, nsURI)

	return desc
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
