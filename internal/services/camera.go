package services

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

// Renderer is the map-rendering collaborator
type Renderer interface {
	// DrawDraft replaces the explored edges shown while a route streams
	DrawDraft(draft *geojson.Feature)
	// DrawRoutes replaces the finished routes, one feature per variant
	DrawRoutes(routes *geojson.FeatureCollection)
	MoveCamera(view CameraView)
	Clear()
}

// CameraView is a camera instruction. An empty Bounds means keep the current extent and
// center on Center instead.
type CameraView struct {
	Bounds  orb.Bound
	Center  orb.Point
	Bearing float64
	Pitch   float64
}

// Feature properties set on rendered routes
const (
	PropVariant  = "variant"
	PropActive   = "active"
	PropLengthKm = "length_km"
	PropMinutes  = "minutes"
	PropDraft    = "draft"
	PropError    = "error"
)

// CameraNotifier translates geometry from the session into renderer instructions.
// It holds no state beyond its collaborator.
type CameraNotifier struct {
	renderer    Renderer
	followPitch float64
}

// NewCameraNotifier creates a CameraNotifier. A nil renderer drops every instruction.
func NewCameraNotifier(renderer Renderer, followPitch float64) *CameraNotifier {
	return &CameraNotifier{renderer: renderer, followPitch: followPitch}
}

// Draft shows the edges explored so far by a streaming route, each as its own line
func (c *CameraNotifier) Draft(draft geo.MultiPolyline) {
	if c.renderer == nil || len(draft) == 0 {
		return
	}
	mls := make(orb.MultiLineString, len(draft))
	for i, line := range draft {
		mls[i] = toLineString(line)
	}
	feature := geojson.NewFeature(mls)
	feature.Properties[PropDraft] = true
	c.renderer.DrawDraft(feature)
}

// FrameRequest frames origin and destination while a route is computed
func (c *CameraNotifier) FrameRequest(origin, destination geo.Point) {
	if c.renderer == nil {
		return
	}
	c.renderer.MoveCamera(CameraView{
		Bounds:  toBound(geo.BoundingBox([]geo.Point{origin, destination})),
		Center:  toPoint(origin),
		Bearing: geo.BearingDeg(origin, destination),
		Pitch:   0,
	})
}

// FrameRoute frames a delivered polyline, facing from its first vertex toward its last
func (c *CameraNotifier) FrameRoute(line geo.Polyline) {
	if c.renderer == nil || len(line) == 0 {
		return
	}
	c.renderer.MoveCamera(CameraView{
		Bounds:  toBound(geo.BoundingBox(line)),
		Center:  toPoint(line[0]),
		Bearing: geo.BearingDeg(line[0], line.Last()),
		Pitch:   0,
	})
}

// ShowRoutes draws every variant of summary, marking the followed one as active
func (c *CameraNotifier) ShowRoutes(summary *routing.Summary, active routing.Variant) {
	if c.renderer == nil || summary == nil {
		return
	}
	c.renderer.DrawRoutes(RouteFeatures(summary, active))
}

// Follow points the camera from the device toward the lookahead vertex at the follow pitch
func (c *CameraNotifier) Follow(device geo.Point, bearing float64) {
	if c.renderer == nil {
		return
	}
	c.renderer.MoveCamera(CameraView{
		Center:  toPoint(device),
		Bearing: bearing,
		Pitch:   c.followPitch,
	})
}

// Clear removes everything the session drew
func (c *CameraNotifier) Clear() {
	if c.renderer == nil {
		return
	}
	c.renderer.Clear()
}

// RouteFeatures converts a summary into a feature collection, one LineString per variant
func RouteFeatures(summary *routing.Summary, active routing.Variant) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, variant := range summary.Variants() {
		feature := geojson.NewFeature(toLineString(summary.Polyline(variant)))
		feature.Properties[PropVariant] = string(variant)
		feature.Properties[PropActive] = variant == active
		feature.Properties[PropLengthKm] = summary.LengthKm(variant)
		feature.Properties[PropMinutes] = summary.EstimatedMinutes(variant)
		if summary.Error != "" {
			feature.Properties[PropError] = summary.Error
		}
		fc.Append(feature)
	}
	return fc
}

func toLineString(line geo.Polyline) orb.LineString {
	ls := make(orb.LineString, len(line))
	for i, point := range line {
		ls[i] = toPoint(point)
	}
	return ls
}

func toPoint(point geo.Point) orb.Point {
	return orb.Point{point.Lng, point.Lat}
}

func toBound(bounds geo.Bounds) orb.Bound {
	return orb.Bound{Min: toPoint(bounds.Min), Max: toPoint(bounds.Max)}
}
