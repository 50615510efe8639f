package routing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dpup/velonav/internal/lib/geo"
)

// Variant names one of the route alternatives computed by the route service
type Variant string

const (
	Safe Variant = "safe" // prefers protected bike paths
	Fast Variant = "fast" // shortest reasonable path
)

// CruisingSpeedKmh is the speed used to estimate ride durations
const CruisingSpeedKmh = 15.0

// ParseVariant converts a configuration or wire value into a Variant
func ParseVariant(value string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(value))) {
	case Safe:
		return Safe, nil
	case Fast:
		return Fast, nil
	default:
		return "", fmt.Errorf("unknown route variant %q", value)
	}
}

// Other returns the alternative variant
func (v Variant) Other() Variant {
	if v == Fast {
		return Safe
	}
	return Fast
}

// Request holds the parameters of one streaming route computation
type Request struct {
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	Variant     Variant   `json:"variant,omitempty"`

	// Recalculate marks a correction issued while following; the variant is sent on the wire
	Recalculate bool `json:"recalculate,omitempty"`
}

// Validate checks coordinates and variant
func (r Request) Validate() error {
	if !r.Origin.Valid() {
		return fmt.Errorf("origin: %w", geo.ErrInvalidCoordinate)
	}
	if !r.Destination.Valid() {
		return fmt.Errorf("destination: %w", geo.ErrInvalidCoordinate)
	}
	if r.Variant != "" {
		if _, err := ParseVariant(string(r.Variant)); err != nil {
			return err
		}
	}
	if r.Recalculate && r.Variant == "" {
		return errors.New("recalculation requires a variant")
	}
	return nil
}

// Path returns the wire identifier of the request:
// origin-lng/origin-lat/dest-lng/dest-lat, prefixed by the variant for recalculations.
func (r Request) Path() string {
	segments := []string{
		formatCoordinate(r.Origin.Lng),
		formatCoordinate(r.Origin.Lat),
		formatCoordinate(r.Destination.Lng),
		formatCoordinate(r.Destination.Lat),
	}
	if r.Recalculate {
		segments = append([]string{string(r.Variant)}, segments...)
	}
	return strings.Join(segments, "/")
}

func formatCoordinate(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// Summary is the finished result carried by a terminal frame
type Summary struct {
	Safe geo.Polyline `json:"safe,omitempty"`
	Fast geo.Polyline `json:"fast,omitempty"`

	// Error is a user-visible annotation for partial or failed results
	Error string `json:"error,omitempty"`
}

// Polyline returns the polyline computed for a variant, possibly empty
func (s *Summary) Polyline(variant Variant) geo.Polyline {
	if variant == Fast {
		return s.Fast
	}
	return s.Safe
}

// Select returns the requested variant's polyline, falling back to the other variant when
// the requested one is empty. The returned variant names the polyline actually chosen.
func (s *Summary) Select(preferred Variant) (Variant, geo.Polyline) {
	if line := s.Polyline(preferred); len(line) > 0 {
		return preferred, line
	}
	other := preferred.Other()
	if line := s.Polyline(other); len(line) > 0 {
		return other, line
	}
	return preferred, nil
}

// Empty reports whether no variant carries any point
func (s *Summary) Empty() bool {
	return len(s.Safe) == 0 && len(s.Fast) == 0
}

// Variants lists the variants that carry a polyline, Safe first
func (s *Summary) Variants() []Variant {
	var variants []Variant
	if len(s.Safe) > 0 {
		variants = append(variants, Safe)
	}
	if len(s.Fast) > 0 {
		variants = append(variants, Fast)
	}
	return variants
}

// LengthKm returns the path length of a variant
func (s *Summary) LengthKm(variant Variant) float64 {
	return geo.PathLengthKm(s.Polyline(variant))
}

// EstimatedMinutes returns the ride time of a variant at cruising speed
func (s *Summary) EstimatedMinutes(variant Variant) float64 {
	return s.LengthKm(variant) / CruisingSpeedKmh * 60
}
