package geo

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidCoordinate is returned when a latitude or longitude falls outside WGS-84 ranges
var ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Point represents a WGS-84 coordinate in degrees
type Point struct {
	Lng float64 `json:"lng" yaml:"lng"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Polyline is an ordered sequence of points; order is the direction of travel
type Polyline []Point

// MultiPolyline is a set of unconnected polylines, such as the edges explored while a route
// is searched
type MultiPolyline []Polyline

// Bounds is an axis-aligned box in (lng, lat) space
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// NewPoint creates a Point from longitude and latitude values with validation
func NewPoint(lng, lat float64) (Point, error) {
	point := Point{Lng: lng, Lat: lat}
	if !point.Valid() {
		return Point{}, ErrInvalidCoordinate
	}
	return point, nil
}

// Valid reports whether the point lies within WGS-84 ranges
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 &&
		p.Lng >= -180 && p.Lng <= 180
}

// Last returns the final vertex. The polyline must not be empty.
func (p Polyline) Last() Point {
	return p[len(p)-1]
}

// Coords returns the polyline as [lng, lat] pairs, the order used on the wire and in GeoJSON
func (p Polyline) Coords() [][2]float64 {
	coords := make([][2]float64, len(p))
	for i, point := range p {
		coords[i] = [2]float64{point.Lng, point.Lat}
	}
	return coords
}

// Points counts the vertices across every polyline
func (m MultiPolyline) Points() int {
	n := 0
	for _, line := range m {
		n += len(line)
	}
	return n
}

// Clone returns a deep copy
func (m MultiPolyline) Clone() MultiPolyline {
	if m == nil {
		return nil
	}
	clone := make(MultiPolyline, len(m))
	for i, line := range m {
		clone[i] = slices.Clone(line)
	}
	return clone
}

// ParsePoint parses "lng,lat"
func ParsePoint(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("point %q must be lng,lat", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: invalid longitude: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: invalid latitude: %w", s, err)
	}
	return NewPoint(lng, lat)
}
