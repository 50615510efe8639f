package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/clients/position"
	"github.com/dpup/velonav/internal/clients/routestream"
	"github.com/dpup/velonav/internal/config"
	"github.com/dpup/velonav/internal/events"
	"github.com/dpup/velonav/internal/lib/export"
	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
	"github.com/dpup/velonav/internal/logging"
	"github.com/dpup/velonav/internal/services"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (YAML)")
	from := flag.String("from", "", "Origin as lng,lat; defaults to the device position")
	to := flag.String("to", "", "Destination as lng,lat")
	variant := flag.String("variant", "", "Route variant to follow: safe or fast")
	track := flag.String("track", "", "GeoJSON LineString replayed as the device position")
	kmlPath := flag.String("kml", "", "Write the delivered route to this KML file")
	flag.Parse()

	if err := run(*configPath, *from, *to, *variant, *track, *kmlPath); err != nil {
		fmt.Fprintf(os.Stderr, "navigator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, from, to, variantName, track, kmlPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if to == "" {
		return errors.New("a destination is required (-to lng,lat)")
	}
	destination, err := geo.ParsePoint(to)
	if err != nil {
		return err
	}

	var variant routing.Variant
	if variantName != "" {
		if variant, err = routing.ParseVariant(variantName); err != nil {
			return err
		}
	}

	var origin *geo.Point
	if from != "" {
		p, err := geo.ParsePoint(from)
		if err != nil {
			return err
		}
		origin = &p
	}

	source, err := positionSource(track, origin)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	sessionLogger := logger.With(zap.String("session", sessionID))

	failures := &routeFailures{errs: make(chan error, 1)}
	listeners := services.Listeners{events.NewLogListener(sessionLogger), failures}
	if cfg.Events.NATSURL != "" {
		nc, err := events.Connect(cfg.Events.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		listeners = append(listeners, events.NewPublisher(nc, cfg.Events.SubjectPrefix, sessionID, sessionLogger))
		logger.Info("Publishing session events", zap.String("nats_url", cfg.Events.NATSURL))
	}
	if kmlPath != "" {
		listeners = append(listeners, &kmlWriter{path: kmlPath, logger: sessionLogger})
	}

	session := services.NewSession(services.SessionDeps{
		Streamer: routestream.NewClient(cfg.Stream, logger),
		Position: source,
		Camera:   services.NewCameraNotifier(events.NewLogRenderer(sessionLogger), cfg.Navigation.FollowPitch),
		Listener: listeners,
		Logger:   logger,
	}, cfg.Navigation, services.WithID(sessionID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if origin != nil {
		err = session.RequestRoute(ctx, *origin, destination, variant)
	} else {
		err = session.RequestRouteFromDevice(ctx, destination, variant)
	}
	if err != nil {
		session.Cancel()
		return err
	}

	select {
	case <-ctx.Done():
		sessionLogger.Info("Interrupted, ending session")
		session.Cancel()
	case err := <-failures.errs:
		session.Cancel()
		<-session.Done()
		return err
	case <-session.Done():
	}

	sessionLogger.Info("Navigator finished",
		zap.String("reason", string(session.EndReason())),
		zap.Float64("remaining_km", session.RemainingKm()))
	return nil
}

// positionSource replays track when given, otherwise reports a fixed origin
func positionSource(track string, origin *geo.Point) (position.Source, error) {
	if track != "" {
		return position.LoadReplay(track)
	}
	if origin != nil {
		return position.NewStatic(*origin), nil
	}
	return nil, fmt.Errorf("%w: pass -from or -track", position.ErrUnavailable)
}

// kmlWriter exports each delivered route
type kmlWriter struct {
	services.NopListener
	path   string
	logger *zap.Logger
}

func (k *kmlWriter) RouteReady(route services.Route) {
	if err := export.WriteKMLFile(k.path, "velonav "+route.SessionID, route.Summary, route.Variant); err != nil {
		k.logger.Warn("Failed to export route", zap.String("path", k.path), zap.Error(err))
		return
	}
	k.logger.Info("Route exported", zap.String("path", k.path), zap.Bool("recalculated", route.Recalculated))
}

// routeFailures hands the first failed route request back to main
type routeFailures struct {
	services.NopListener
	errs chan error
}

func (r *routeFailures) RouteFailed(err error) {
	select {
	case r.errs <- err:
	default:
	}
}
