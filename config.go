package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/gogpu/reader/internal/cache"
	"github.com/gogpu/reader/internal/decode"
	"github.com/gogpu/reader/internal/layout"
	"github.com/gogpu/reader/internal/probe"
)

// Config holds the engine configuration. The zero value is not valid; start
// from DefaultConfig.
type Config struct {
	MemorySaver   bool `json:"memory_saver"`   //nolint:tagliatelle // snake_case for config file
	CouplingNudge bool `json:"coupling_nudge"` //nolint:tagliatelle // snake_case for config file
	RowGapPx      int  `json:"row_gap_px"`     //nolint:tagliatelle // snake_case for config file
	GutterPx      int  `json:"gutter_px"`      //nolint:tagliatelle // snake_case for config file

	// BudgetMB overrides the memory-saver budget when positive.
	BudgetMB int `json:"budget_mb,omitempty"` //nolint:tagliatelle // snake_case for config file

	KeepMax        int     `json:"keep_max"`         //nolint:tagliatelle // snake_case for config file
	DecodeWorkers  int     `json:"decode_workers"`   //nolint:tagliatelle // snake_case for config file
	ProbeWorkers   int     `json:"probe_workers"`    //nolint:tagliatelle // snake_case for config file
	SpreadRatio    float64 `json:"spread_ratio"`     //nolint:tagliatelle // snake_case for config file
	FailCooldownMS int     `json:"fail_cooldown_ms"` //nolint:tagliatelle // snake_case for config file

	// PrewarmPages is how many leading pages are probed when a session
	// opens. Zero disables prewarming.
	PrewarmPages int `json:"prewarm_pages"` //nolint:tagliatelle // snake_case for config file
}

// DefaultPrewarmPages is the default number of pages probed on open.
const DefaultPrewarmPages = 40

// MaxGutterPx bounds the gap between the two pages of a pair.
const MaxGutterPx = 256

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RowGapPx:       layout.DefaultRowGapPx,
		KeepMax:        cache.DefaultKeepMax,
		DecodeWorkers:  decode.DefaultWorkers,
		ProbeWorkers:   probe.DefaultWorkers,
		SpreadRatio:    probe.DefaultSpreadRatio,
		FailCooldownMS: int(cache.DefaultFailCooldown / time.Millisecond),
		PrewarmPages:   DefaultPrewarmPages,
	}
}

var (
	errConfigFileRead = errors.New("cannot read config file")
	errBadRatio       = errors.New("spread_ratio must be greater than 1")
	errBadWorkers     = errors.New("decode_workers and probe_workers must be positive")
	errBadGap         = fmt.Errorf("row_gap_px must be within [0, %d]", layout.MaxRowGapPx)
	errBadGutter      = fmt.Errorf("gutter_px must be within [0, %d]", MaxGutterPx)
	errNegative       = errors.New("budget_mb, keep_max, fail_cooldown_ms and prewarm_pages must not be negative")
)

// ParseConfig reads a JSONC document over the defaults. Keys absent from
// data keep their default values.
func ParseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the config file at path. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.SpreadRatio <= 1:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errBadRatio)
	case c.DecodeWorkers <= 0 || c.ProbeWorkers <= 0:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errBadWorkers)
	case c.RowGapPx < 0 || c.RowGapPx > layout.MaxRowGapPx:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errBadGap)
	case c.GutterPx < 0 || c.GutterPx > MaxGutterPx:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errBadGutter)
	case c.BudgetMB < 0 || c.KeepMax < 0 || c.FailCooldownMS < 0 || c.PrewarmPages < 0:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errNegative)
	}
	return nil
}

// Settings returns the live-settings part of the config.
func (c Config) Settings() Settings {
	return Settings{
		MemorySaver:   c.MemorySaver,
		RowGapPx:      c.RowGapPx,
		CouplingNudge: c.CouplingNudge,
	}
}

// FailCooldown returns the retry cooldown as a duration.
func (c Config) FailCooldown() time.Duration {
	return time.Duration(c.FailCooldownMS) * time.Millisecond
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
