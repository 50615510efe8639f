package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dpup/velonav/internal/lib/routing"
)

// EnvPrefix prefixes environment overrides, e.g. VELONAV__NAVIGATION__POLL_INTERVAL=5s
const EnvPrefix = "VELONAV__"

// Config represents the complete navigator configuration
type Config struct {
	Navigation NavigationConfig `yaml:"navigation"`
	Stream     StreamConfig     `yaml:"stream"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NavigationConfig holds follow-loop settings
type NavigationConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	OffRouteThresholdKm float64       `yaml:"off_route_threshold_km"`
	LookaheadKm         float64       `yaml:"lookahead_km"`
	ArrivalRadiusKm     float64       `yaml:"arrival_radius_km"`
	PositionTimeout     time.Duration `yaml:"position_timeout"`
	PositionAttempts    int           `yaml:"position_attempts"`
	FollowPitch         float64       `yaml:"follow_pitch"`
	DefaultVariant      string        `yaml:"default_variant"`
}

// StreamConfig holds route streaming settings
type StreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxDraftPoints   int           `yaml:"max_draft_points"`
	ProgressEvery    int           `yaml:"progress_every"`
	TerminalMarker   string        `yaml:"terminal_marker"`
}

// EventsConfig holds UI event fan-out settings
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Navigation: NavigationConfig{
			PollInterval:        10 * time.Second,
			OffRouteThresholdKm: 0.2,  // compared against a distance in km
			LookaheadKm:         0.15, // camera faces the first vertex 150m ahead
			ArrivalRadiusKm:     0.03,
			PositionTimeout:     5 * time.Second,
			PositionAttempts:    3,
			FollowPitch:         60,
			DefaultVariant:      string(routing.Safe),
		},
		Stream: StreamConfig{
			BaseURL:          "ws://localhost:3000/route",
			HandshakeTimeout: 10 * time.Second,
			MaxDraftPoints:   10000,
			ProgressEvery:    1000,
			TerminalMarker:   "<vi-route-panel",
		},
		Events: EventsConfig{
			SubjectPrefix: "velonav",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaults flattens DefaultConfig into koanf keys
func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"navigation.poll_interval":          d.Navigation.PollInterval,
		"navigation.off_route_threshold_km": d.Navigation.OffRouteThresholdKm,
		"navigation.lookahead_km":           d.Navigation.LookaheadKm,
		"navigation.arrival_radius_km":      d.Navigation.ArrivalRadiusKm,
		"navigation.position_timeout":       d.Navigation.PositionTimeout,
		"navigation.position_attempts":      d.Navigation.PositionAttempts,
		"navigation.follow_pitch":           d.Navigation.FollowPitch,
		"navigation.default_variant":        d.Navigation.DefaultVariant,
		"stream.base_url":                   d.Stream.BaseURL,
		"stream.handshake_timeout":          d.Stream.HandshakeTimeout,
		"stream.max_draft_points":           d.Stream.MaxDraftPoints,
		"stream.progress_every":             d.Stream.ProgressEvery,
		"stream.terminal_marker":            d.Stream.TerminalMarker,
		"events.nats_url":                   d.Events.NATSURL,
		"events.subject_prefix":             d.Events.SubjectPrefix,
		"logging.level":                     d.Logging.Level,
		"logging.format":                    d.Logging.Format,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and VELONAV__ environment
// variables, in increasing order of precedence
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// VELONAV__STREAM__BASE_URL -> stream.base_url
	envToKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the navigator cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Navigation.PollInterval <= 0 {
		errs = append(errs, errors.New("navigation.poll_interval must be positive"))
	}
	if c.Navigation.OffRouteThresholdKm <= 0 {
		errs = append(errs, errors.New("navigation.off_route_threshold_km must be positive"))
	}
	if c.Navigation.LookaheadKm <= 0 {
		errs = append(errs, errors.New("navigation.lookahead_km must be positive"))
	}
	if c.Navigation.ArrivalRadiusKm < 0 {
		errs = append(errs, errors.New("navigation.arrival_radius_km must not be negative"))
	}
	if c.Navigation.PositionTimeout <= 0 {
		errs = append(errs, errors.New("navigation.position_timeout must be positive"))
	}
	if c.Navigation.PositionAttempts < 1 {
		errs = append(errs, errors.New("navigation.position_attempts must be at least 1"))
	}
	if _, err := routing.ParseVariant(c.Navigation.DefaultVariant); err != nil {
		errs = append(errs, fmt.Errorf("navigation.default_variant: %w", err))
	}
	if c.Stream.BaseURL == "" {
		errs = append(errs, errors.New("stream.base_url is required"))
	}
	if c.Stream.MaxDraftPoints <= 0 {
		errs = append(errs, errors.New("stream.max_draft_points must be positive"))
	}
	if c.Stream.ProgressEvery <= 0 {
		errs = append(errs, errors.New("stream.progress_every must be positive"))
	}
	if c.Stream.TerminalMarker == "" {
		errs = append(errs, errors.New("stream.terminal_marker is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Variant returns the configured default route variant
func (n NavigationConfig) Variant() routing.Variant {
	variant, err := routing.ParseVariant(n.DefaultVariant)
	if err != nil {
		return routing.Safe
	}
	return variant
}
