package reader

import (
	"log/slog"
	"time"
)

// Option configures a Reader during creation.
//
// Example:
//
//	cfg, err := reader.LoadConfig("reader.jsonc")
//	if err != nil {
//	    return err
//	}
//	r := reader.New(reader.WithConfig(cfg), reader.WithSettings(prefs))
type Option func(*options)

// options holds optional configuration for Reader creation.
type options struct {
	config   Config
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
}

// defaultOptions returns the default reader options.
func defaultOptions() options {
	return options{
		config: DefaultConfig(),
		now:    time.Now,
	}
}

// WithConfig sets the engine configuration. An invalid config is replaced
// by DefaultConfig and the problem is logged.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithSettings sets the source of live settings. Without it the settings
// part of the config is used and never changes.
func WithSettings(src SettingsSource) Option {
	return func(o *options) {
		o.settings = src
	}
}

// WithLogger sets the logger of the reader and its sessions, overriding
// the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the time source used for failure cooldowns and the
// prefetch throttle. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
