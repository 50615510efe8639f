package routing

import (
	"errors"
	"math"

	"github.com/dpup/velonav/internal/cache"
	"github.com/dpup/velonav/internal/lib/geo"
)

// Classification represents the relationship between a device fix and the active route
type Classification string

const (
	OnRoute  Classification = "on_route"  // within the off-route threshold
	OffRoute Classification = "off_route" // beyond the threshold; a correction is due
	Arrived  Classification = "arrived"   // projected on the final vertex, inside the arrival radius
)

// Projection is the result of matching one device fix against the active polyline
type Projection struct {
	Device         geo.Point      `json:"device"`
	Index          int            `json:"index"`
	Nearest        geo.Point      `json:"nearest"`
	OffRouteKm     float64        `json:"off_route_km"`
	RemainingKm    float64        `json:"remaining_km"`
	LookaheadIndex int            `json:"lookahead_index"`
	Bearing        float64        `json:"bearing"`
	Classification Classification `json:"classification"`
}

// Matcher projects device fixes onto a route polyline
type Matcher struct {
	offRouteThresholdKm float64
	lookaheadKm         float64
	arrivalRadiusKm     float64
}

// NewMatcher creates a Matcher.
// offRouteThresholdKm is compared against the fix-to-nearest-vertex distance, lookaheadKm
// picks the vertex the camera faces, and arrivalRadiusKm ends the ride at the final vertex.
func NewMatcher(offRouteThresholdKm, lookaheadKm, arrivalRadiusKm float64) *Matcher {
	return &Matcher{
		offRouteThresholdKm: offRouteThresholdKm,
		lookaheadKm:         lookaheadKm,
		arrivalRadiusKm:     arrivalRadiusKm,
	}
}

// Project matches device against line. Remaining distance is served from index, which must
// have been invalidated when line became the active polyline.
func (m *Matcher) Project(device geo.Point, line geo.Polyline, index *cache.DistanceIndex) (Projection, error) {
	if len(line) == 0 {
		return Projection{}, errors.New("polyline has no points")
	}

	nearest := geo.NearestIndex(device, line)
	offRoute := geo.DistanceKm(device, line[nearest])
	lookahead := geo.ForwardIndex(line, nearest, m.lookaheadKm)

	projection := Projection{
		Device:         device,
		Index:          nearest,
		Nearest:        line[nearest],
		OffRouteKm:     offRoute,
		RemainingKm:    index.RemainingDistance(line, nearest),
		LookaheadIndex: lookahead,
		Bearing:        geo.BearingDeg(device, line[lookahead]),
		Classification: OnRoute,
	}

	switch {
	case m.Diverged(offRoute):
		projection.Classification = OffRoute
	case nearest == len(line)-1 && offRoute <= m.arrivalRadiusKm:
		projection.Classification = Arrived
	}

	return projection, nil
}

// Diverged reports whether an off-route distance exceeds the threshold.
// Both sides are compared at whole-meter resolution; GPS fixes carry no finer precision.
func (m *Matcher) Diverged(offRouteKm float64) bool {
	return math.Round(offRouteKm*1000) > math.Round(m.offRouteThresholdKm*1000)
}

// OffRouteThresholdKm returns the configured divergence threshold
func (m *Matcher) OffRouteThresholdKm() float64 {
	return m.offRouteThresholdKm
}
