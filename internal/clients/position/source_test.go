package position

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/velonav/internal/lib/geo"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	source := NewStatic(geo.Point{Lng: -73.55, Lat: 45.5})

	point, err := source.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lng: -73.55, Lat: 45.5}, point)

	source.Set(geo.Point{Lng: -73.56, Lat: 45.51})
	point, err = source.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lng: -73.56, Lat: 45.51}, point)

	source.Clear()
	_, err = source.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStatic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStatic(geo.Point{}).CurrentPosition(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceFunc(t *testing.T) {
	var source Source = SourceFunc(func(context.Context) (geo.Point, error) {
		return geo.Point{}, ErrUnavailable
	})

	_, err := source.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReplay_StepsThroughTrack(t *testing.T) {
	ctx := context.Background()
	track := geo.Polyline{{Lng: 0, Lat: 0}, {Lng: 0, Lat: 1}, {Lng: 0, Lat: 2}}

	replay, err := NewReplay(track)
	require.NoError(t, err)
	assert.Equal(t, 3, replay.Remaining())

	for _, expected := range track {
		point, err := replay.CurrentPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, point)
	}
	assert.Equal(t, 0, replay.Remaining())

	// Exhausted track keeps reporting the final vertex
	point, err := replay.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, track.Last(), point)
}

func TestNewReplay_EmptyTrack(t *testing.T) {
	_, err := NewReplay(nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLoadReplay_FeatureCollection(t *testing.T) {
	replay, err := LoadReplay(filepath.Join("testdata", "jean_talon_ride.geojson"))
	require.NoError(t, err)
	assert.Equal(t, 4, replay.Remaining())

	point, err := replay.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lng: -73.6147, Lat: 45.5362}, point)
}

func TestLoadReplay_MissingFile(t *testing.T) {
	_, err := LoadReplay(filepath.Join(t.TempDir(), "absent.geojson"))
	assert.Error(t, err)
}

func TestParseTrack(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{
			name: "bare geometry",
			data: `{"type":"LineString","coordinates":[[-73.6,45.5],[-73.59,45.51]]}`,
			want: 2,
		},
		{
			name: "feature",
			data: `{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[-73.6,45.5],[-73.59,45.51],[-73.58,45.52]]}}`,
			want: 3,
		},
		{
			name:    "point geometry",
			data:    `{"type":"Point","coordinates":[-73.6,45.5]}`,
			wantErr: true,
		},
		{
			name:    "collection without lines",
			data:    `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`,
			wantErr: true,
		},
		{
			name:    "out of range vertex",
			data:    `{"type":"LineString","coordinates":[[-73.6,45.5],[-273.6,45.5]]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `track`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, err := ParseTrack([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, track, tt.want)
		})
	}
}
