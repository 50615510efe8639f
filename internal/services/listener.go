package services

import (
	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

// Mode is the state of a navigation session
type Mode string

const (
	ModeIdle               Mode = "idle"
	ModeStreamingRoute     Mode = "streaming_route"
	ModeFollowing          Mode = "following"
	ModeRecalculatingRoute Mode = "recalculating_route"
	ModeCancelled          Mode = "cancelled"
)

// EndReason explains why a session was torn down
type EndReason string

const (
	EndCancelled EndReason = "cancelled"
	EndArrived   EndReason = "arrived"
)

// Route is a delivered route as seen by the UI
type Route struct {
	SessionID    string
	Summary      *routing.Summary
	Variant      routing.Variant // the variant being followed
	Recalculated bool
}

// ActivePolyline returns the polyline being followed
func (r Route) ActivePolyline() geo.Polyline {
	return r.Summary.Polyline(r.Variant)
}

// Listener is the UI collaborator notified of session events.
// All methods are called from the session's event loop, one at a time, and must not block.
type Listener interface {
	RouteReady(route Route)
	RouteFailed(err error)
	DistanceRemaining(km float64)
	PositionUnavailable(err error)
	Recalculating(origin geo.Point)
	RecalculationFailed(err error)
	SessionEnded(reason EndReason)
}

// NopListener ignores every event
type NopListener struct{}

func (NopListener) RouteReady(Route) {}
func (NopListener) RouteFailed(error) {}
func (NopListener) DistanceRemaining(float64) {}
func (NopListener) PositionUnavailable(error) {}
func (NopListener) Recalculating(geo.Point) {}
func (NopListener) RecalculationFailed(error) {}
func (NopListener) SessionEnded(EndReason) {}

// Listeners fans events out to several listeners in order
type Listeners []Listener

func (ls Listeners) RouteReady(route Route) {
	for _, l := range ls {
		l.RouteReady(route)
	}
}

func (ls Listeners) RouteFailed(err error) {
	for _, l := range ls {
		l.RouteFailed(err)
	}
}

func (ls Listeners) DistanceRemaining(km float64) {
	for _, l := range ls {
		l.DistanceRemaining(km)
	}
}

func (ls Listeners) PositionUnavailable(err error) {
	for _, l := range ls {
		l.PositionUnavailable(err)
	}
}

func (ls Listeners) Recalculating(origin geo.Point) {
	for _, l := range ls {
		l.Recalculating(origin)
	}
}

func (ls Listeners) RecalculationFailed(err error) {
	for _, l := range ls {
		l.RecalculationFailed(err)
	}
}

func (ls Listeners) SessionEnded(reason EndReason) {
	for _, l := range ls {
		l.SessionEnded(reason)
	}
}
