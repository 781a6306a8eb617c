package reader

// Settings are the user preferences the engine reads while running.
// They are read on every use, so a change takes effect on the next prune,
// pairing query or layout request.
type Settings struct {
	// MemorySaver halves the raster budget.
	MemorySaver bool

	// RowGapPx is the vertical gap between scroll rows, clamped to [0, 64].
	RowGapPx int

	// CouplingNudge shifts the two-page parity by one page.
	CouplingNudge bool
}

// SettingsSource supplies the current settings. Implementations must be
// safe for concurrent use and must not block.
type SettingsSource interface {
	Settings() Settings
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() Settings

// Settings calls f.
func (f SettingsFunc) Settings() Settings { return f() }

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

// Settings returns s.
func (s StaticSettings) Settings() Settings { return Settings(s) }
