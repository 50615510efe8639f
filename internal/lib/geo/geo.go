package geo

import (
	"errors"
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusKm is the mean Earth radius used by every distance calculation
const EarthRadiusKm = 6371.0

// DistanceKm calculates great-circle distance between two points using the Haversine formula
func DistanceKm(a, b Point) float64 {
	// If points are the same, distance is 0
	if a == b {
		return 0
	}

	// Convert degrees to radians
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlng := toRadians(b.Lng - a.Lng)

	// Haversine formula
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// BearingDeg calculates the initial bearing from one point toward another, in [0, 360)
func BearingDeg(from, to Point) float64 {
	lat1 := toRadians(from.Lat)
	lat2 := toRadians(to.Lat)
	dlng := toRadians(to.Lng - from.Lng)

	y := math.Sin(dlng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlng)
	bearing := math.Atan2(y, x) * 180 / math.Pi

	// atan2 yields [-180, 180]; fold into a compass heading
	return math.Mod(bearing+360, 360)
}

// BoundingBox folds points into their enclosing box.
// An empty input returns the seed box (+Inf min, -Inf max); callers must guard against it.
func BoundingBox(points []Point) Bounds {
	bounds := Bounds{
		Min: Point{Lng: math.Inf(1), Lat: math.Inf(1)},
		Max: Point{Lng: math.Inf(-1), Lat: math.Inf(-1)},
	}

	for _, point := range points {
		bounds.Min.Lng = math.Min(point.Lng, bounds.Min.Lng)
		bounds.Min.Lat = math.Min(point.Lat, bounds.Min.Lat)
		bounds.Max.Lng = math.Max(point.Lng, bounds.Max.Lng)
		bounds.Max.Lat = math.Max(point.Lat, bounds.Max.Lat)
	}

	return bounds
}

// IsEmpty reports whether the box is still the unfolded seed
func (b Bounds) IsEmpty() bool {
	return b.Min.Lng > b.Max.Lng || b.Min.Lat > b.Max.Lat
}

// NearestIndex returns the index of the polyline vertex closest to point.
// Closeness is planar squared distance in (lng, lat) space, not geodesic; it runs on every
// position update. Ties resolve to the lowest index. Returns -1 for an empty polyline.
func NearestIndex(point Point, line Polyline) int {
	nearest := -1
	best := math.Inf(1)

	for i, vertex := range line {
		dlng := point.Lng - vertex.Lng
		dlat := point.Lat - vertex.Lat
		d := dlng*dlng + dlat*dlat
		if d < best {
			best = d
			nearest = i
		}
	}

	return nearest
}

// ForwardIndex scans forward from index from and returns the first vertex at least minKm
// away from the vertex at from. The final vertex is returned when none qualifies.
func ForwardIndex(line Polyline, from int, minKm float64) int {
	if len(line) == 0 {
		return -1
	}
	if from < 0 {
		from = 0
	}
	if from >= len(line) {
		return len(line) - 1
	}

	anchor := line[from]
	for i := from; i < len(line); i++ {
		if DistanceKm(anchor, line[i]) >= minKm {
			return i
		}
	}

	return len(line) - 1
}

// PathLengthKm sums consecutive great-circle legs of the polyline
func PathLengthKm(line Polyline) float64 {
	total := 0.0
	for i := 0; i < len(line)-1; i++ {
		total += DistanceKm(line[i], line[i+1])
	}
	return total
}

// EncodePolyline encodes the polyline with the Google polyline algorithm
func EncodePolyline(line Polyline) string {
	coords := make([][]float64, len(line))
	for i, point := range line {
		// go-polyline works in lat, lng order
		coords[i] = []float64{point.Lat, point.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline decodes a Google polyline string to a point sequence
func DecodePolyline(encoded string) (Polyline, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}
	if len(rest) != 0 {
		return nil, errors.New("failed to decode polyline: trailing data")
	}

	points := make(Polyline, len(coords))
	for i, coord := range coords {
		points[i] = Point{Lng: coord[1], Lat: coord[0]}

		// Validate decoded coordinates
		if !points[i].Valid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// Geohash returns the geohash cell of the point at the given character precision
func Geohash(point Point, precision uint) string {
	return geohash.EncodeWithPrecision(point.Lat, point.Lng, precision)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
