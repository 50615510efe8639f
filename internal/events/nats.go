package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/logging"
	"github.com/dpup/velonav/internal/services"
)

// cellPrecision is the geohash length attached to positions in events
const cellPrecision = 7

// Event types, also the last subject token
const (
	TypeRouteReady          = "route_ready"
	TypeRouteFailed         = "route_failed"
	TypeDistanceRemaining   = "distance_remaining"
	TypePositionUnavailable = "position_unavailable"
	TypeRecalculating       = "recalculating"
	TypeRecalculationFailed = "recalculation_failed"
	TypeSessionEnded        = "session_ended"
)

// Conn publishes raw messages; *nats.Conn satisfies it
type Conn interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload published for every session event
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	RemainingKm  *float64   `json:"remaining_km,omitempty"`
	Origin       *geo.Point `json:"origin,omitempty"`
	Cell         string     `json:"cell,omitempty"`
	Variant      string     `json:"variant,omitempty"`
	Recalculated bool       `json:"recalculated,omitempty"`
	LengthKm     float64    `json:"length_km,omitempty"`
	Minutes      float64    `json:"minutes,omitempty"`
	Polyline     string     `json:"polyline,omitempty"`
	Annotation   string     `json:"annotation,omitempty"`
	Error        string     `json:"error,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Publisher fans session events out on NATS subjects <prefix>.session.<id>.<type>
type Publisher struct {
	conn      Conn
	prefix    string
	sessionID string
	logger    *zap.Logger
	now       func() time.Time
}

// Connect opens a NATS connection for event publishing
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("velonav"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	return conn, nil
}

// NewPublisher creates a Publisher for one session
func NewPublisher(conn Conn, prefix, sessionID string, logger *zap.Logger) *Publisher {
	logger = logging.OrNop(logger)
	return &Publisher{
		conn:      conn,
		prefix:    prefix,
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
	}
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.session.%s.%s", p.prefix, p.sessionID, eventType)
}

// Publish marshals and sends one event. Failures are logged; the session never waits on
// the event bus.
func (p *Publisher) Publish(event Event) error {
	event.SessionID = p.sessionID
	event.Timestamp = p.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *Publisher) RouteReady(route services.Route) {
	line := route.ActivePolyline()
	_ = p.Publish(Event{
		Type:         TypeRouteReady,
		Variant:      string(route.Variant),
		Recalculated: route.Recalculated,
		LengthKm:     route.Summary.LengthKm(route.Variant),
		Minutes:      route.Summary.EstimatedMinutes(route.Variant),
		Polyline:     geo.EncodePolyline(line),
		Annotation:   route.Summary.Error,
	})
}

func (p *Publisher) RouteFailed(err error) {
	_ = p.Publish(Event{Type: TypeRouteFailed, Error: err.Error()})
}

func (p *Publisher) DistanceRemaining(km float64) {
	_ = p.Publish(Event{Type: TypeDistanceRemaining, RemainingKm: &km})
}

func (p *Publisher) PositionUnavailable(err error) {
	_ = p.Publish(Event{Type: TypePositionUnavailable, Error: err.Error()})
}

func (p *Publisher) Recalculating(origin geo.Point) {
	_ = p.Publish(Event{
		Type:   TypeRecalculating,
		Origin: &origin,
		Cell:   geo.Geohash(origin, cellPrecision),
	})
}

func (p *Publisher) RecalculationFailed(err error) {
	_ = p.Publish(Event{Type: TypeRecalculationFailed, Error: err.Error()})
}

func (p *Publisher) SessionEnded(reason services.EndReason) {
	_ = p.Publish(Event{Type: TypeSessionEnded, Reason: string(reason)})
}
