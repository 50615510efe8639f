package export

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/twpayne/go-kml"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

// Line styles, one per variant; the followed variant is drawn wider
var variantColors = map[routing.Variant]color.RGBA{
	routing.Safe: {R: 0x1b, G: 0x9e, B: 0x77, A: 0xff},
	routing.Fast: {R: 0xd9, G: 0x5f, B: 0x02, A: 0xff},
}

// KMLDocument builds a KML document with one placemark per available variant of summary
func KMLDocument(name string, summary *routing.Summary, active routing.Variant) (*kml.CompoundElement, error) {
	if summary == nil || summary.Empty() {
		return nil, errors.New("route has no polyline to export")
	}

	children := []kml.Element{kml.Name(name)}
	for _, variant := range []routing.Variant{routing.Safe, routing.Fast} {
		width := 3.0
		if variant == active {
			width = 6.0
		}
		children = append(children, kml.SharedStyle(styleID(variant),
			kml.LineStyle(
				kml.Color(variantColors[variant]),
				kml.Width(width),
			),
		))
	}

	for _, variant := range summary.Variants() {
		children = append(children, placemark(summary, variant))
	}

	return kml.KML(kml.Document(children...)), nil
}

// WriteKML writes the document for summary to w
func WriteKML(w io.Writer, name string, summary *routing.Summary, active routing.Variant) error {
	doc, err := KMLDocument(name, summary, active)
	if err != nil {
		return err
	}
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

// WriteKMLFile writes the document for summary to path
func WriteKMLFile(path, name string, summary *routing.Summary, active routing.Variant) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteKML(f, name, summary, active); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func placemark(summary *routing.Summary, variant routing.Variant) kml.Element {
	description := fmt.Sprintf("%.2f km, about %.0f min at %.0f km/h",
		summary.LengthKm(variant), summary.EstimatedMinutes(variant), routing.CruisingSpeedKmh)
	if summary.Error != "" {
		description += " (" + summary.Error + ")"
	}

	return kml.Placemark(
		kml.Name(string(variant)),
		kml.Description(description),
		kml.StyleURL("#"+styleID(variant)),
		kml.LineString(
			kml.Tessellate(true),
			kml.Coordinates(coordinates(summary.Polyline(variant))...),
		),
	)
}

func coordinates(line geo.Polyline) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(line))
	for i, point := range line {
		coords[i] = kml.Coordinate{Lon: point.Lng, Lat: point.Lat}
	}
	return coords
}

func styleID(variant routing.Variant) string {
	return string(variant) + "-route"
}
