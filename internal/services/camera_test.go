package services

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

// mockRenderer is a mock implementation of Renderer
type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) DrawDraft(line *geojson.Feature) {
	m.Called(line)
}

func (m *mockRenderer) DrawRoutes(routes *geojson.FeatureCollection) {
	m.Called(routes)
}

func (m *mockRenderer) MoveCamera(view CameraView) {
	m.Called(view)
}

func (m *mockRenderer) Clear() {
	m.Called()
}

func TestCameraNotifier_FrameRequest(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("MoveCamera", CameraView{
		Bounds:  orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 0}},
		Center:  orb.Point{0, 0},
		Bearing: 90,
		Pitch:   0,
	}).Once()

	NewCameraNotifier(renderer, 60).FrameRequest(geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 0})

	renderer.AssertExpectations(t)
}

func TestCameraNotifier_FrameRoute(t *testing.T) {
	renderer := &mockRenderer{}
	var view CameraView
	renderer.On("MoveCamera", mock.Anything).Run(func(args mock.Arguments) {
		view = args.Get(0).(CameraView)
	}).Once()

	line := geo.Polyline{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 2}, {Lng: -1, Lat: 3}}
	NewCameraNotifier(renderer, 60).FrameRoute(line)

	renderer.AssertExpectations(t)
	assert.Equal(t, orb.Bound{Min: orb.Point{-1, 0}, Max: orb.Point{1, 3}}, view.Bounds)
	assert.InDelta(t, geo.BearingDeg(line[0], line.Last()), view.Bearing, 1e-9)
	assert.Equal(t, 0.0, view.Pitch)
}

func TestCameraNotifier_FrameRouteIgnoresEmpty(t *testing.T) {
	renderer := &mockRenderer{}
	NewCameraNotifier(renderer, 60).FrameRoute(nil)
	NewCameraNotifier(renderer, 60).Draft(nil)
	renderer.AssertNotCalled(t, "MoveCamera", mock.Anything)
	renderer.AssertNotCalled(t, "DrawDraft", mock.Anything)
}

func TestCameraNotifier_Follow(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("MoveCamera", CameraView{
		Center:  orb.Point{-73.55, 45.5},
		Bearing: 42,
		Pitch:   60,
	}).Once()

	NewCameraNotifier(renderer, 60).Follow(geo.Point{Lng: -73.55, Lat: 45.5}, 42)

	renderer.AssertExpectations(t)
}

func TestCameraNotifier_Draft(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("DrawDraft", mock.MatchedBy(func(f *geojson.Feature) bool {
		mls, ok := f.Geometry.(orb.MultiLineString)
		return ok && len(mls) == 2 &&
			len(mls[0]) == 2 && mls[0][1] == orb.Point{1, 1} &&
			len(mls[1]) == 1 && mls[1][0] == orb.Point{5, 5} &&
			f.Properties[PropDraft] == true
	})).Once()

	NewCameraNotifier(renderer, 60).Draft(geo.MultiPolyline{
		{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 1}},
		{{Lng: 5, Lat: 5}},
	})

	renderer.AssertExpectations(t)
}

func TestCameraNotifier_ShowRoutes(t *testing.T) {
	renderer := &mockRenderer{}
	var routes *geojson.FeatureCollection
	renderer.On("DrawRoutes", mock.Anything).Run(func(args mock.Arguments) {
		routes = args.Get(0).(*geojson.FeatureCollection)
	}).Once()

	summary := &routing.Summary{
		Safe: geo.Polyline{{Lng: 0, Lat: 0}, {Lng: 0, Lat: 0.1}},
		Fast: geo.Polyline{{Lng: 0, Lat: 0}, {Lng: 0.05, Lat: 0.05}, {Lng: 0, Lat: 0.1}},
	}
	NewCameraNotifier(renderer, 60).ShowRoutes(summary, routing.Fast)

	renderer.AssertExpectations(t)
	require.Len(t, routes.Features, 2)

	safe, fast := routes.Features[0], routes.Features[1]
	assert.Equal(t, "safe", safe.Properties[PropVariant])
	assert.Equal(t, false, safe.Properties[PropActive])
	assert.Equal(t, "fast", fast.Properties[PropVariant])
	assert.Equal(t, true, fast.Properties[PropActive])
	assert.InDelta(t, summary.LengthKm(routing.Fast), fast.Properties[PropLengthKm], 1e-9)
	assert.InDelta(t, summary.EstimatedMinutes(routing.Safe), safe.Properties[PropMinutes], 1e-9)
	assert.NotContains(t, safe.Properties, PropError)
}

func TestCameraNotifier_NilRenderer(t *testing.T) {
	notifier := NewCameraNotifier(nil, 60)

	assert.NotPanics(t, func() {
		notifier.Draft(geo.MultiPolyline{{{}}})
		notifier.FrameRequest(geo.Point{}, geo.Point{Lng: 1})
		notifier.FrameRoute(geo.Polyline{{}})
		notifier.ShowRoutes(&routing.Summary{}, routing.Safe)
		notifier.Follow(geo.Point{}, 0)
		notifier.Clear()
	})
}
