package encoder

import (
	"fmt"
	"strings"
	"sync"
)

// Quality is a named resolution and bitrate bundle.
type Quality struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
}

// Resolution formats the quality as WxH.
func (q Quality) Resolution() string {
	return fmt.Sprintf("%dx%d", q.Width, q.Height)
}

// DefaultQuality is used for unknown preset names.
const DefaultQuality = "1080p"

// Qualities is the fixed preset table.
var Qualities = []Quality{
	{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 25000},
	{Name: "1080p", Width: 1920, Height: 1080, BitrateKbps: 20000},
	{Name: "2k", Width: 2560, Height: 1440, BitrateKbps: 35000},
	{Name: "4k", Width: 3840, Height: 2160, BitrateKbps: 55000},
}

// LookupQuality finds a preset by name, case-insensitively.
func LookupQuality(name string) (Quality, bool) {
	for _, q := range Qualities {
		if strings.EqualFold(q.Name, name) {
			return q, true
		}
	}
	return Quality{}, false
}

// Config is a snapshot of the process-wide encoder settings. Bitrates are in
// bits per second.
type Config struct {
	VideoBitrate int
	AudioBitrate int
	// NetLimit caps the video bitrate; zero disables the cap.
	NetLimit int

	// Encoder is the requested backend (auto, cpu, vaapi, nvenc, gpu, amf, qsv).
	Encoder string
	// Preset is the x264 speed preset.
	Preset string

	Width, Height, FPS int
	Quality            string

	UltraLowLatency bool
	BadConnection   bool
	AudioGPU        bool
}

// Settings is the shared, mutable encoder configuration. Every session reads
// it, and control endpoints change it for all sessions at once.
type Settings struct {
	mu  sync.RWMutex
	cfg Config
}

// NewSettings wraps an initial configuration.
func NewSettings(cfg Config) *Settings {
	return &Settings{cfg: cfg}
}

// Snapshot returns a consistent copy of the current configuration.
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn under the write lock and returns the new configuration.
func (s *Settings) Update(fn func(*Config)) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
	return s.cfg
}

// SetVideoBitrate changes the target video bitrate.
func (s *Settings) SetVideoBitrate(kbps int) (Config, error) {
	if kbps <= 0 {
		return Config{}, fmt.Errorf("encoder: invalid bitrate %d kbps", kbps)
	}
	return s.Update(func(c *Config) {
		c.VideoBitrate = kbps * 1000
	}), nil
}

// ApplyQuality sets resolution and bitrate together from the preset table.
// Unknown names fall back to DefaultQuality. The resolution applies to
// sessions created afterwards.
func (s *Settings) ApplyQuality(name string) Quality {
	q, ok := LookupQuality(name)
	if !ok {
		q, _ = LookupQuality(DefaultQuality)
	}
	s.Update(func(c *Config) {
		c.Width, c.Height = q.Width, q.Height
		c.VideoBitrate = q.BitrateKbps * 1000
		c.Quality = q.Name
	})
	return q
}
