package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/cache"
	"github.com/dpup/velonav/internal/clients/position"
	"github.com/dpup/velonav/internal/clients/routestream"
	"github.com/dpup/velonav/internal/config"
	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
	"github.com/dpup/velonav/internal/logging"
)

var (
	// ErrSessionClosed is returned by requests made after teardown
	ErrSessionClosed = errors.New("navigation session closed")

	// ErrRouteInProgress is returned when a route is requested while one is streaming or followed
	ErrRouteInProgress = errors.New("route already in progress")

	// ErrEmptyRoute is reported when the route service answers without any polyline
	ErrEmptyRoute = errors.New("route service returned no route")
)

// geohashPrecision is roughly a 150m cell
const geohashPrecision = 7

// RouteStreamer runs one streaming route computation; *routestream.Client satisfies it
type RouteStreamer interface {
	Stream(ctx context.Context, req routing.Request, progress routestream.ProgressFunc) (*routing.Summary, error)
}

// Ticker drives the follow loop
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop() { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// SessionDeps are the collaborators of a session
type SessionDeps struct {
	Streamer RouteStreamer
	Position position.Source
	Camera   *CameraNotifier // optional
	Listener Listener        // optional
	Logger   *zap.Logger     // optional
}

// SessionOption customizes a session
type SessionOption func(*Session)

// WithID sets the session identifier instead of a random UUID
func WithID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// WithTicker replaces the follow-loop ticker factory
func WithTicker(newTicker func(time.Duration) Ticker) SessionOption {
	return func(s *Session) {
		s.newTicker = newTicker
	}
}

// SessionState is a point-in-time view of a session
type SessionState struct {
	Mode          Mode
	Variant       routing.Variant
	Active        geo.Polyline
	Device        geo.Point
	RemainingKm   float64
	Recalculating bool
	EndReason     EndReason
}

type commandKind int

const (
	cmdRequestRoute commandKind = iota
	cmdRequestFromDevice
)

type command struct {
	kind    commandKind
	ctx     context.Context
	request routing.Request
	reply   chan error
}

type streamProgress struct {
	generation int
	draft      geo.MultiPolyline
}

type streamResult struct {
	generation int
	request    routing.Request
	summary    *routing.Summary
	err        error
}

// Session is one navigation from request to teardown: Idle, StreamingRoute, then Following
// and RecalculatingRoute until cancelled or arrived. All mutable state is owned by a single
// event loop; public methods talk to it through channels and read snapshots.
// A session is never reused after teardown.
type Session struct {
	id        string
	cfg       config.NavigationConfig
	streamer  RouteStreamer
	position  position.Source
	camera    *CameraNotifier
	listener  Listener
	logger    *zap.Logger
	matcher   *routing.Matcher
	newTicker func(time.Duration) Ticker

	ctx    context.Context
	cancel context.CancelFunc

	lifecycle sync.Mutex
	started   bool
	closed    bool

	// Set while the event loop is inside a listener callback
	notifying atomic.Bool
	doneOnce  sync.Once

	commands chan command
	progress chan streamProgress
	results  chan streamResult
	loopDone chan struct{}
	done     chan struct{}
	streams  sync.WaitGroup

	snapMu sync.RWMutex
	snap   SessionState

	// Owned by the event loop
	mode          Mode
	variant       routing.Variant
	summary       *routing.Summary
	active        geo.Polyline
	index         *cache.DistanceIndex
	device        geo.Point
	remainingKm   float64
	recalculating bool
	ticker        Ticker
	streamCancel  context.CancelFunc
	generation    int
	endReason     EndReason
}

// NewSession creates an idle navigation session
func NewSession(deps SessionDeps, cfg config.NavigationConfig, opts ...SessionOption) *Session {
	logger := logging.OrNop(deps.Logger)
	listener := deps.Listener
	if listener == nil {
		listener = NopListener{}
	}
	camera := deps.Camera
	if camera == nil {
		camera = NewCameraNotifier(nil, cfg.FollowPitch)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		streamer:  deps.Streamer,
		position:  deps.Position,
		camera:    camera,
		listener:  listener,
		matcher:   routing.NewMatcher(cfg.OffRouteThresholdKm, cfg.LookaheadKm, cfg.ArrivalRadiusKm),
		newTicker: newTimeTicker,
		ctx:       ctx,
		cancel:    cancel,
		commands:  make(chan command),
		progress:  make(chan streamProgress),
		results:   make(chan streamResult),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
		mode:      ModeIdle,
		variant:   cfg.Variant(),
		index:     cache.NewDistanceIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With(zap.String("session", s.id))
	s.publish()

	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// RequestRoute starts streaming a route from origin to destination. An empty variant selects
// the configured default. The route is followed as soon as it is delivered.
func (s *Session) RequestRoute(ctx context.Context, origin, destination geo.Point, variant routing.Variant) error {
	if variant == "" {
		variant = s.cfg.Variant()
	}
	req := routing.Request{Origin: origin, Destination: destination, Variant: variant}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid route request: %w", err)
	}
	return s.send(ctx, command{kind: cmdRequestRoute, ctx: ctx, request: req})
}

// RequestRouteFromDevice reads the device position and requests a route from there.
// Each failed read is reported to the listener; the read is retried up to the configured
// number of attempts.
func (s *Session) RequestRouteFromDevice(ctx context.Context, destination geo.Point, variant routing.Variant) error {
	if variant == "" {
		variant = s.cfg.Variant()
	}
	req := routing.Request{Destination: destination, Variant: variant}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid route request: %w", err)
	}
	return s.send(ctx, command{kind: cmdRequestFromDevice, ctx: ctx, request: req})
}

func (s *Session) send(ctx context.Context, cmd command) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}

	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.loopDone:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-s.loopDone:
		// The loop may have answered just before exiting
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

func (s *Session) ensureRunning() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed || s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if !s.started {
		s.started = true
		go s.run()
	}
	return nil
}

// Cancel tears the session down: the follow timer stops, any open route stream is closed
// and the distance index is released before Cancel returns. Calling it again is a no-op.
//
// Listener callbacks run on the session's event loop. Cancel called from inside one only
// signals the loop and returns; teardown completes once the callback returns and Done is
// closed after that.
func (s *Session) Cancel() {
	inCallback := s.notifying.Load()

	s.lifecycle.Lock()
	if s.closed {
		s.lifecycle.Unlock()
		if !inCallback {
			<-s.done
		}
		return
	}
	s.closed = true
	started := s.started
	s.lifecycle.Unlock()

	s.cancel()
	switch {
	case !started:
		s.teardown()
	case !inCallback:
		<-s.loopDone
	}
}

// Done is closed once the session has been torn down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns a snapshot of the session
func (s *Session) State() SessionState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Mode returns the current state machine mode
func (s *Session) Mode() Mode {
	return s.State().Mode
}

// RemainingKm returns the last published distance remaining
func (s *Session) RemainingKm() float64 {
	return s.State().RemainingKm
}

// ActivePolyline returns the polyline being followed, nil when none
func (s *Session) ActivePolyline() geo.Polyline {
	return s.State().Active
}

// Recalculating reports whether a recalculation is in flight
func (s *Session) Recalculating() bool {
	return s.State().Recalculating
}

// EndReason returns why the session ended, empty while it is live
func (s *Session) EndReason() EndReason {
	return s.State().EndReason
}

func (s *Session) publish() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap = SessionState{
		Mode:          s.mode,
		Variant:       s.variant,
		Active:        s.active,
		Device:        s.device,
		RemainingKm:   s.remainingKm,
		Recalculating: s.recalculating,
		EndReason:     s.endReason,
	}
}

// notify publishes the current state and then runs a listener callback, so the listener sees
// the mode it is being told about
func (s *Session) notify(fn func(Listener)) {
	s.publish()
	s.notifying.Store(true)
	defer s.notifying.Store(false)
	fn(s.listener)
}

func (s *Session) run() {
	defer close(s.loopDone)

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C()
		}

		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case cmd := <-s.commands:
			err := s.handleCommand(cmd)
			s.publish()
			cmd.reply <- err
		case p := <-s.progress:
			if p.generation == s.generation {
				s.camera.Draft(p.draft)
			}
		case res := <-s.results:
			s.handleResult(res)
		case <-tick:
			s.checkPosition()
		}
		s.publish()
	}
}

func (s *Session) handleCommand(cmd command) error {
	if s.mode != ModeIdle {
		return fmt.Errorf("%w: session is %s", ErrRouteInProgress, s.mode)
	}

	req := cmd.request
	if cmd.kind == cmdRequestFromDevice {
		origin, err := s.readDevicePosition(cmd.ctx)
		if err != nil {
			return err
		}
		req.Origin = origin
	}

	s.variant = req.Variant
	s.mode = ModeStreamingRoute
	s.logger.Info("Requesting route",
		zap.String("origin", geo.Geohash(req.Origin, geohashPrecision)),
		zap.String("destination", geo.Geohash(req.Destination, geohashPrecision)),
		zap.String("variant", string(req.Variant)))

	s.camera.FrameRequest(req.Origin, req.Destination)
	s.startStream(req)
	return nil
}

// readDevicePosition makes up to PositionAttempts single-shot reads
func (s *Session) readDevicePosition(ctx context.Context) (geo.Point, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.PositionAttempts; attempt++ {
		point, err := s.readPosition(ctx)
		if err == nil {
			return point, nil
		}
		if s.ctx.Err() != nil {
			return geo.Point{}, ErrSessionClosed
		}
		if ctx.Err() != nil {
			return geo.Point{}, ctx.Err()
		}

		lastErr = err
		s.logger.Warn("Device position unavailable",
			zap.Int("attempt", attempt),
			zap.Int("attempts", s.cfg.PositionAttempts),
			zap.Error(err))
		s.notify(func(l Listener) { l.PositionUnavailable(err) })
	}
	return geo.Point{}, fmt.Errorf("%w: %w", position.ErrUnavailable, lastErr)
}

// readPosition reads once, bounded by the position timeout, the session and ctx
func (s *Session) readPosition(ctx context.Context) (geo.Point, error) {
	readCtx, cancel := context.WithTimeout(s.ctx, s.cfg.PositionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return s.position.CurrentPosition(readCtx)
}

// startStream runs req in the background. Results from superseded streams are dropped by
// generation.
func (s *Session) startStream(req routing.Request) {
	if s.streamCancel != nil {
		s.streamCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.streamCancel = cancel
	s.generation++
	generation := s.generation

	progress := func(draft geo.MultiPolyline) {
		select {
		case s.progress <- streamProgress{generation: generation, draft: draft}:
		case <-ctx.Done():
		}
	}

	s.streams.Add(1)
	go func() {
		defer s.streams.Done()
		summary, err := s.streamer.Stream(ctx, req, progress)
		select {
		case s.results <- streamResult{generation: generation, request: req, summary: summary, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) handleResult(res streamResult) {
	if res.generation != s.generation {
		return
	}
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}

	err := res.err
	if err == nil && (res.summary == nil || res.summary.Empty()) {
		annotation := "no route found"
		if res.summary != nil && res.summary.Error != "" {
			annotation = res.summary.Error
		}
		err = fmt.Errorf("%w: %s", ErrEmptyRoute, annotation)
	}

	switch s.mode {
	case ModeStreamingRoute:
		if err != nil {
			s.logger.Warn("Route request failed", zap.Error(err))
			s.mode = ModeIdle
			s.notify(func(l Listener) { l.RouteFailed(err) })
			return
		}
		s.follow(res.summary, false)

	case ModeRecalculatingRoute:
		if err != nil {
			// Keep riding the last good polyline; a later divergence may retry
			s.logger.Warn("Route recalculation failed", zap.Error(err))
			s.recalculating = false
			s.mode = ModeFollowing
			s.notify(func(l Listener) { l.RecalculationFailed(err) })
			return
		}
		s.follow(res.summary, true)
	}
}

// follow makes summary's selected variant the active polyline
func (s *Session) follow(summary *routing.Summary, recalculated bool) {
	variant, line := summary.Select(s.variant)

	s.summary = summary
	s.variant = variant
	s.active = line
	s.index.Invalidate()
	s.recalculating = false
	s.mode = ModeFollowing

	s.logger.Info("Following route",
		zap.String("variant", string(variant)),
		zap.Int("points", len(line)),
		zap.Float64("length_km", geo.PathLengthKm(line)),
		zap.Bool("recalculated", recalculated),
		zap.String("annotation", summary.Error))

	s.camera.ShowRoutes(summary, variant)
	route := Route{
		SessionID:    s.id,
		Summary:      summary,
		Variant:      variant,
		Recalculated: recalculated,
	}
	s.notify(func(l Listener) { l.RouteReady(route) })

	if recalculated || s.ctx.Err() != nil {
		return
	}

	s.camera.FrameRoute(line)
	s.ticker = s.newTicker(s.cfg.PollInterval)
	s.checkPosition()
}

// checkPosition runs one follow-loop tick
func (s *Session) checkPosition() {
	if len(s.active) == 0 {
		return
	}

	device, err := s.readPosition(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("Device position unavailable", zap.Error(err))
		s.notify(func(l Listener) { l.PositionUnavailable(err) })
		return
	}

	projection, err := s.matcher.Project(device, s.active, s.index)
	if err != nil {
		s.logger.Error("Failed to project device position", zap.Error(err))
		return
	}

	s.device = device
	s.remainingKm = projection.RemainingKm

	s.logger.Debug("Position check",
		zap.String("cell", geo.Geohash(device, geohashPrecision)),
		zap.Int("index", projection.Index),
		zap.Float64("off_route_km", projection.OffRouteKm),
		zap.Float64("remaining_km", projection.RemainingKm),
		zap.Float64("bearing", projection.Bearing),
		zap.String("classification", string(projection.Classification)))

	s.notify(func(l Listener) { l.DistanceRemaining(projection.RemainingKm) })
	if s.ctx.Err() != nil {
		return
	}
	s.camera.Follow(device, projection.Bearing)

	switch projection.Classification {
	case routing.Arrived:
		s.logger.Info("Destination reached")
		s.endReason = EndArrived
		s.cancel()
	case routing.OffRoute:
		if s.recalculating {
			return
		}
		s.recalculate(device)
	}
}

func (s *Session) recalculate(device geo.Point) {
	req := routing.Request{
		Origin:      device,
		Destination: s.active.Last(),
		Variant:     s.variant,
		Recalculate: true,
	}

	s.recalculating = true
	s.mode = ModeRecalculatingRoute
	s.logger.Info("Off route, recalculating",
		zap.String("origin", geo.Geohash(device, geohashPrecision)),
		zap.String("variant", string(s.variant)))

	s.notify(func(l Listener) { l.Recalculating(device) })
	if s.ctx.Err() != nil {
		return
	}
	s.startStream(req)
}

// teardown releases everything the session holds. It runs once, on the event loop or, for
// a session that never started, on the cancelling goroutine.
func (s *Session) teardown() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	s.streams.Wait()

	s.index.Invalidate()
	s.active = nil
	s.summary = nil
	s.recalculating = false
	s.mode = ModeCancelled
	if s.endReason == "" {
		s.endReason = EndCancelled
	}
	s.logger.Info("Navigation session ended", zap.String("reason", string(s.endReason)))
	s.camera.Clear()
	reason := s.endReason
	s.notify(func(l Listener) { l.SessionEnded(reason) })
	s.doneOnce.Do(func() { close(s.done) })
}
