package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
	"github.com/dpup/velonav/internal/services"
)

// MockConn is a mock implementation of Conn
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

var testRoute = services.Route{
	SessionID: "abc",
	Summary: &routing.Summary{
		Safe:  geo.Polyline{{Lng: -120.2, Lat: 38.5}, {Lng: -120.95, Lat: 40.7}, {Lng: -126.453, Lat: 43.252}},
		Error: "fast route unavailable",
	},
	Variant: routing.Safe,
}

func newTestPublisher(conn Conn) *Publisher {
	p := NewPublisher(conn, "velonav", "abc", nil)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func decodeEvent(t *testing.T, data []byte) Event {
	t.Helper()
	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestPublisher_Subject(t *testing.T) {
	p := newTestPublisher(&MockConn{})
	assert.Equal(t, "velonav.session.abc.distance_remaining", p.Subject(TypeDistanceRemaining))
}

func TestPublisher_RouteReady(t *testing.T) {
	conn := &MockConn{}
	var payload []byte
	conn.On("Publish", "velonav.session.abc.route_ready", mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).([]byte)
	}).Return(nil).Once()

	newTestPublisher(conn).RouteReady(testRoute)

	conn.AssertExpectations(t)
	event := decodeEvent(t, payload)
	assert.Equal(t, "abc", event.SessionID)
	assert.Equal(t, TypeRouteReady, event.Type)
	assert.Equal(t, "safe", event.Variant)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", event.Polyline)
	assert.Equal(t, "fast route unavailable", event.Annotation)
	assert.InDelta(t, testRoute.Summary.LengthKm(routing.Safe), event.LengthKm, 1e-9)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
}

func TestPublisher_DistanceRemainingKeepsZero(t *testing.T) {
	conn := &MockConn{}
	var payload []byte
	conn.On("Publish", "velonav.session.abc.distance_remaining", mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).([]byte)
	}).Return(nil).Once()

	newTestPublisher(conn).DistanceRemaining(0)

	event := decodeEvent(t, payload)
	require.NotNil(t, event.RemainingKm, "Zero remaining distance must still be published")
	assert.Equal(t, 0.0, *event.RemainingKm)
}

func TestPublisher_Recalculating(t *testing.T) {
	conn := &MockConn{}
	var payload []byte
	conn.On("Publish", "velonav.session.abc.recalculating", mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).([]byte)
	}).Return(nil).Once()

	newTestPublisher(conn).Recalculating(geo.Point{Lng: -73.5497, Lat: 45.5075})

	event := decodeEvent(t, payload)
	require.NotNil(t, event.Origin)
	assert.Equal(t, geo.Point{Lng: -73.5497, Lat: 45.5075}, *event.Origin)
	assert.Equal(t, "f25dy", event.Cell[:5])
}

func TestPublisher_ErrorsAndEnd(t *testing.T) {
	conn := &MockConn{}
	conn.On("Publish", "velonav.session.abc.route_failed", mock.Anything).Return(nil).Once()
	conn.On("Publish", "velonav.session.abc.position_unavailable", mock.Anything).Return(nil).Once()
	conn.On("Publish", "velonav.session.abc.recalculation_failed", mock.Anything).Return(nil).Once()
	conn.On("Publish", "velonav.session.abc.session_ended", mock.MatchedBy(func(data []byte) bool {
		var event Event
		return json.Unmarshal(data, &event) == nil && event.Reason == "arrived"
	})).Return(nil).Once()

	p := newTestPublisher(conn)
	p.RouteFailed(errors.New("closed"))
	p.PositionUnavailable(errors.New("timeout"))
	p.RecalculationFailed(errors.New("closed"))
	p.SessionEnded(services.EndArrived)

	conn.AssertExpectations(t)
}

func TestPublisher_PublishFailure(t *testing.T) {
	conn := &MockConn{}
	conn.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	err := newTestPublisher(conn).Publish(Event{Type: TypeDistanceRemaining})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")

	assert.NotPanics(t, func() { newTestPublisher(conn).DistanceRemaining(1) })
}

func TestPublisher_SatisfiesListener(t *testing.T) {
	var _ services.Listener = newTestPublisher(&MockConn{})
	var _ services.Listener = NewLogListener(nil)
	var _ services.Renderer = NewLogRenderer(nil)
}

func TestLogListener(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	listener := NewLogListener(zap.New(core))

	listener.RouteReady(testRoute)
	listener.DistanceRemaining(1.25)
	listener.RecalculationFailed(errors.New("closed"))
	listener.SessionEnded(services.EndCancelled)

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, "Route ready", entries[0].Message)
	assert.Equal(t, "safe", entries[0].ContextMap()["variant"])
	assert.Equal(t, int64(3), entries[0].ContextMap()["points"])

	assert.Equal(t, 1.25, entries[1].ContextMap()["km"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "cancelled", entries[3].ContextMap()["reason"])
}

func TestLogRenderer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	renderer := NewLogRenderer(zap.New(core))

	draft := orb.MultiLineString{{{0, 0}, {0, 1}}, {{1, 1}}}
	renderer.DrawDraft(geojson.NewFeature(draft))
	renderer.DrawRoutes(services.RouteFeatures(testRoute.Summary, routing.Safe))
	renderer.MoveCamera(services.CameraView{Center: orb.Point{0, 0}, Bearing: 90, Pitch: 60})
	renderer.Clear()

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, int64(3), entries[0].ContextMap()["points"])
	assert.Equal(t, "safe", entries[1].ContextMap()["variant"])
	assert.Equal(t, 60.0, entries[2].ContextMap()["pitch"])
	assert.NotContains(t, entries[2].ContextMap(), "min")
}
