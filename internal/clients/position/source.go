package position

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/velonav/internal/lib/geo"
)

// ErrUnavailable is returned when no device position can be produced
var ErrUnavailable = errors.New("device position unavailable")

// Source provides the current device position
type Source interface {
	CurrentPosition(ctx context.Context) (geo.Point, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context) (geo.Point, error)

// CurrentPosition implements Source
func (f SourceFunc) CurrentPosition(ctx context.Context) (geo.Point, error) {
	return f(ctx)
}

// Static always reports the same position
type Static struct {
	mu    sync.RWMutex
	point geo.Point
	set   bool
}

// NewStatic creates a Static source fixed at point
func NewStatic(point geo.Point) *Static {
	return &Static{point: point, set: true}
}

// CurrentPosition implements Source
func (s *Static) CurrentPosition(ctx context.Context) (geo.Point, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return geo.Point{}, ErrUnavailable
	}
	return s.point, nil
}

// Set moves the reported position
func (s *Static) Set(point geo.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.point = point
	s.set = true
}

// Clear makes the source unavailable until the next Set
func (s *Static) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = false
}

// Replay steps through a recorded track, one vertex per read.
// The final vertex is repeated once the track is exhausted.
type Replay struct {
	mu    sync.Mutex
	track geo.Polyline
	next  int
}

// NewReplay creates a Replay over track
func NewReplay(track geo.Polyline) (*Replay, error) {
	if len(track) == 0 {
		return nil, fmt.Errorf("%w: empty track", ErrUnavailable)
	}
	return &Replay{track: track}, nil
}

// LoadReplay reads a track from a GeoJSON file holding a LineString, as a bare geometry,
// a Feature, or the first LineString of a FeatureCollection
func LoadReplay(path string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track %s: %w", path, err)
	}
	track, err := ParseTrack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse track %s: %w", path, err)
	}
	return NewReplay(track)
}

// ParseTrack extracts a LineString track from GeoJSON
func ParseTrack(data []byte) (geo.Polyline, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, feature := range fc.Features {
			if ls, ok := feature.Geometry.(orb.LineString); ok {
				return fromLineString(ls)
			}
		}
		return nil, errors.New("feature collection has no LineString")
	}

	if feature, err := geojson.UnmarshalFeature(data); err == nil && feature.Geometry != nil {
		if ls, ok := feature.Geometry.(orb.LineString); ok {
			return fromLineString(ls)
		}
		return nil, fmt.Errorf("feature geometry is %s, not LineString", feature.Geometry.GeoJSONType())
	}

	geometry, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	ls, ok := geometry.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("geometry is %s, not LineString", geometry.Type)
	}
	return fromLineString(ls)
}

func fromLineString(ls orb.LineString) (geo.Polyline, error) {
	track := make(geo.Polyline, len(ls))
	for i, p := range ls {
		point, err := geo.NewPoint(p.Lon(), p.Lat())
		if err != nil {
			return nil, fmt.Errorf("track vertex %d: %w", i, err)
		}
		track[i] = point
	}
	if len(track) == 0 {
		return nil, errors.New("track is empty")
	}
	return track, nil
}

// CurrentPosition implements Source
func (r *Replay) CurrentPosition(ctx context.Context) (geo.Point, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	point := r.track[min(r.next, len(r.track)-1)]
	if r.next < len(r.track) {
		r.next++
	}
	return point, nil
}

// Remaining returns how many vertices have not been replayed yet
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.track) - r.next
}
