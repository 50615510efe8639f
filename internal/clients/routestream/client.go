package routestream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/config"
	"github.com/dpup/velonav/internal/lib/routing"
	"github.com/dpup/velonav/internal/logging"
)

// ErrClosedBeforeTerminal is returned when the connection ends before the terminal frame
var ErrClosedBeforeTerminal = errors.New("route stream closed before terminal frame")

// Dialer opens websocket connections; *websocket.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Client streams route computations from the route service over a websocket
type Client struct {
	baseURL       string
	dialer        Dialer
	marker        string
	maxDraft      int
	progressEvery int
	logger        *zap.Logger
}

// NewClient creates a new route stream client
func NewClient(cfg config.StreamConfig, logger *zap.Logger) *Client {
	return NewClientWithDialer(cfg, &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger)
}

// NewClientWithDialer creates a route stream client with a custom dialer (useful for testing)
func NewClientWithDialer(cfg config.StreamConfig, dialer Dialer, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		dialer:        dialer,
		marker:        cfg.TerminalMarker,
		maxDraft:      cfg.MaxDraftPoints,
		progressEvery: cfg.ProgressEvery,
		logger:        logger,
	}
}

// URL returns the websocket endpoint for a request
func (c *Client) URL(req routing.Request) string {
	return c.baseURL + "/" + req.Path()
}

// Stream opens one route computation and blocks until the terminal frame arrives, the
// connection fails, or ctx is cancelled. Cancelling ctx closes the connection; no callback
// fires after Stream returns. progress may be nil.
func (c *Client) Stream(ctx context.Context, req routing.Request, progress ProgressFunc) (*routing.Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route request: %w", err)
	}

	url := c.URL(req)
	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to open route stream %s: %w", url, err)
	}

	logger := c.logger.With(zap.String("url", url), zap.Bool("recalculate", req.Recalculate))
	logger.Debug("Route stream opened")

	// Unblock ReadMessage when the caller gives up
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	ingestor := NewIngestor(c.marker, c.maxDraft, c.progressEvery, progress)
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("Route stream cancelled", zap.Int("frames", ingestor.Stats().Frames))
				return nil, ctx.Err()
			}
			logger.Warn("Route stream ended early",
				zap.Error(err),
				zap.Int("frames", ingestor.Stats().Frames))
			return nil, fmt.Errorf("%w: %w", ErrClosedBeforeTerminal, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if messageType != websocket.TextMessage {
			continue
		}

		summary, err := ingestor.Feed(frame)
		if err != nil {
			logger.Warn("Skipping malformed route frame", zap.Error(err))
			continue
		}
		if summary == nil {
			continue
		}

		stats := ingestor.Stats()
		logger.Info("Route stream finished",
			zap.Int("frames", stats.Frames),
			zap.Int("points", stats.Points),
			zap.Int("malformed", stats.Malformed),
			zap.Int("resets", stats.Resets),
			zap.Strings("variants", variantNames(summary)),
			zap.String("annotation", summary.Error))

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		return summary, nil
	}
}

func variantNames(summary *routing.Summary) []string {
	variants := summary.Variants()
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = string(v)
	}
	return names
}
