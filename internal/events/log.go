package events

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/logging"
	"github.com/dpup/velonav/internal/services"
)

// LogListener reports session events as structured log entries
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener creates a LogListener
func NewLogListener(logger *zap.Logger) *LogListener {
	logger = logging.OrNop(logger)
	return &LogListener{logger: logger}
}

func (l *LogListener) RouteReady(route services.Route) {
	line := route.ActivePolyline()
	l.logger.Info("Route ready",
		zap.String("session", route.SessionID),
		zap.String("variant", string(route.Variant)),
		zap.Bool("recalculated", route.Recalculated),
		zap.Float64("length_km", route.Summary.LengthKm(route.Variant)),
		zap.Float64("minutes", route.Summary.EstimatedMinutes(route.Variant)),
		zap.Int("points", len(line)),
		zap.String("annotation", route.Summary.Error))
}

func (l *LogListener) RouteFailed(err error) {
	l.logger.Warn("Route failed", zap.Error(err))
}

func (l *LogListener) DistanceRemaining(km float64) {
	l.logger.Info("Distance remaining", zap.Float64("km", km))
}

func (l *LogListener) PositionUnavailable(err error) {
	l.logger.Warn("Searching for position", zap.Error(err))
}

func (l *LogListener) Recalculating(origin geo.Point) {
	l.logger.Info("Recalculating route", zap.String("cell", geo.Geohash(origin, cellPrecision)))
}

func (l *LogListener) RecalculationFailed(err error) {
	l.logger.Warn("Recalculation failed, keeping current route", zap.Error(err))
}

func (l *LogListener) SessionEnded(reason services.EndReason) {
	l.logger.Info("Session ended", zap.String("reason", string(reason)))
}

// LogRenderer is a map renderer for headless runs; it logs what a map would draw
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer creates a LogRenderer
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	logger = logging.OrNop(logger)
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) DrawDraft(line *geojson.Feature) {
	r.logger.Debug("Draw draft", zap.Int("points", pointCount(line)))
}

func (r *LogRenderer) DrawRoutes(routes *geojson.FeatureCollection) {
	for _, feature := range routes.Features {
		r.logger.Info("Draw route",
			zap.Any("variant", feature.Properties[services.PropVariant]),
			zap.Any("active", feature.Properties[services.PropActive]),
			zap.Int("points", pointCount(feature)))
	}
}

func (r *LogRenderer) MoveCamera(view services.CameraView) {
	fields := []zap.Field{
		zap.Float64("bearing", view.Bearing),
		zap.Float64("pitch", view.Pitch),
		zap.Float64s("center", view.Center[:]),
	}
	if !view.Bounds.IsZero() {
		fields = append(fields,
			zap.Float64s("min", view.Bounds.Min[:]),
			zap.Float64s("max", view.Bounds.Max[:]))
	}
	r.logger.Debug("Move camera", fields...)
}

func (r *LogRenderer) Clear() {
	r.logger.Debug("Clear map")
}

func pointCount(feature *geojson.Feature) int {
	if feature == nil {
		return 0
	}
	switch g := feature.Geometry.(type) {
	case orb.LineString:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	}
	return 0
}
