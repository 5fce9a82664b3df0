package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/encoder"
)

// Config holds all runtime configuration for the host.
type Config struct {
	Port int

	Width, Height int
	FPS           int
	// Bitrates in kbps.
	Bitrate      int
	AudioBitrate int
	Quality      string

	Encoder       string
	LatencyPreset string
	Region        string
	Display       string
	AudioDevice   string
	RenderNode    string
	FFmpeg        string

	// NetLimit is the video bitrate ceiling in Mbps; zero disables it.
	NetLimit int
	// MemLimit is the memory budget in MB.
	MemLimit int

	UltraLowLatency bool
	BadConnection   bool
	AudioGPU        bool

	// ProcessPriority is normal, high or realtime.
	ProcessPriority string
	// CPUAffinity is "all" or a comma-separated core list.
	CPUAffinity string

	STUN      string
	StaticDir string
	Debug     bool
}

var encoders = []string{"auto", "cpu", "vaapi", "nvenc", "gpu", "amf", "qsv", "gdigrab"}

// ParseHostFlags parses flags for the host binary. Defaults come from NEON_*
// environment variables when set.
func ParseHostFlags(args []string) (*Config, error) {
	cfg := &Config{}
	var resolution string

	fs := flag.NewFlagSet("neon-host", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", getIntEnv("NEON_PORT", 8080), "HTTP listen port")
	fs.StringVar(&resolution, "resolution", getEnv("NEON_RESOLUTION", "1920x1080"), "Capture resolution WxH")
	fs.IntVar(&cfg.FPS, "fps", getIntEnv("NEON_FPS", 60), "Target frames per second")
	fs.IntVar(&cfg.Bitrate, "bitrate", getIntEnv("NEON_BITRATE", 20000), "Video bitrate (kbps)")
	fs.IntVar(&cfg.AudioBitrate, "audio-bitrate", getIntEnv("NEON_AUDIO_BITRATE", 128), "Audio bitrate (kbps)")
	fs.StringVar(&cfg.Quality, "quality", getEnv("NEON_QUALITY", ""), "Quality preset (720p, 1080p, 2k, 4k); overrides resolution and bitrate")
	fs.StringVar(&cfg.Encoder, "encoder", getEnv("NEON_ENCODER", "auto"), "Encoder backend: "+strings.Join(encoders, ", "))
	fs.StringVar(&cfg.LatencyPreset, "latency-preset", getEnv("NEON_LATENCY_PRESET", "ultrafast"), "x264 latency preset")
	fs.StringVar(&cfg.Region, "region", getEnv("NEON_REGION", "full"), "Capture region x,y,w,h or full")
	fs.StringVar(&cfg.Display, "display", getEnv("NEON_DISPLAY", ""), "Display to capture (defaults to $DISPLAY)")
	fs.StringVar(&cfg.AudioDevice, "audio-device", getEnv("NEON_AUDIO_DEVICE", ""), "Audio source (auto-detected when empty)")
	fs.StringVar(&cfg.RenderNode, "render-node", getEnv("NEON_RENDER_NODE", capture.DefaultRenderNode), "DRM render node for VAAPI")
	fs.StringVar(&cfg.FFmpeg, "ffmpeg", getEnv("NEON_FFMPEG", "ffmpeg"), "ffmpeg binary")
	fs.IntVar(&cfg.NetLimit, "net-limit", getIntEnv("NEON_NET_LIMIT", 50), "Video bitrate ceiling (Mbps, 0 = none)")
	fs.IntVar(&cfg.MemLimit, "mem-limit", getIntEnv("NEON_MEM_LIMIT", 2000), "Memory budget (MB)")
	fs.BoolVar(&cfg.UltraLowLatency, "ultra-low-latency", getBoolEnv("NEON_ULTRA_LOW_LATENCY", false), "Minimize capture buffering")
	fs.BoolVar(&cfg.BadConnection, "bad-connection-mode", getBoolEnv("NEON_BAD_CONNECTION", false), "Favor speed over quality on lossy links")
	fs.BoolVar(&cfg.AudioGPU, "audio-gpu", getBoolEnv("NEON_AUDIO_GPU", false), "Low-latency audio capture")
	fs.StringVar(&cfg.ProcessPriority, "process-priority", getEnv("NEON_PROCESS_PRIORITY", "normal"), "Scheduling priority of the host and ffmpeg: normal, high, realtime")
	fs.StringVar(&cfg.CPUAffinity, "cpu-affinity", getEnv("NEON_CPU_AFFINITY", "all"), "Cores for the host and ffmpeg: all or a list like 0,1,2")
	fs.StringVar(&cfg.STUN, "stun", getEnv("NEON_STUN", "default"), "Comma-separated STUN URLs, default, or none")
	fs.StringVar(&cfg.StaticDir, "static", getEnv("NEON_STATIC_DIR", "static"), "Browser client directory")
	fs.BoolVar(&cfg.Debug, "debug", getBoolEnv("NEON_DEBUG", false), "Debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	w, h, err := ParseResolution(resolution)
	if err != nil {
		return nil, err
	}
	cfg.Width, cfg.Height = w, h
	if cfg.Quality != "" {
		q, ok := encoder.LookupQuality(cfg.Quality)
		if !ok {
			return nil, fmt.Errorf("config: unknown quality %q", cfg.Quality)
		}
		cfg.Quality = q.Name
		cfg.Width, cfg.Height, cfg.Bitrate = q.Width, q.Height, q.BitrateKbps
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseResolution parses "WxH".
func ParseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("config: resolution %q is not WxH", s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("config: resolution %q is not WxH", s)
	}
	return w, h, nil
}

// Validate rejects settings the capture pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("resolution %dx%d must be positive and even", c.Width, c.Height))
	}
	if c.FPS <= 0 || c.FPS > 240 {
		errs = append(errs, fmt.Errorf("fps %d out of range", c.FPS))
	}
	if c.Bitrate <= 0 {
		errs = append(errs, fmt.Errorf("bitrate %d kbps must be positive", c.Bitrate))
	}
	if c.AudioBitrate <= 0 {
		errs = append(errs, fmt.Errorf("audio bitrate %d kbps must be positive", c.AudioBitrate))
	}
	if c.NetLimit < 0 {
		errs = append(errs, fmt.Errorf("net limit %d Mbps is negative", c.NetLimit))
	}
	if c.MemLimit <= 0 {
		errs = append(errs, fmt.Errorf("memory limit %d MB must be positive", c.MemLimit))
	}
	if !slices.Contains(encoders, strings.ToLower(c.Encoder)) {
		errs = append(errs, fmt.Errorf("unknown encoder %q", c.Encoder))
	}
	if _, err := c.Tuning(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EncoderConfig converts to the shared encoder settings, in bits per second.
func (c *Config) EncoderConfig() encoder.Config {
	return encoder.Config{
		VideoBitrate:    c.Bitrate * 1000,
		AudioBitrate:    c.AudioBitrate * 1000,
		NetLimit:        c.NetLimit * 1_000_000,
		Encoder:         strings.ToLower(c.Encoder),
		Preset:          capture.X264Preset(c.LatencyPreset),
		Width:           c.Width,
		Height:          c.Height,
		FPS:             c.FPS,
		Quality:         c.Quality,
		UltraLowLatency: c.UltraLowLatency,
		BadConnection:   c.BadConnection,
		AudioGPU:        c.AudioGPU,
	}
}

// Tuning returns the process scheduling requested by the priority and
// affinity flags.
func (c *Config) Tuning() (capture.Tuning, error) {
	return capture.ParseTuning(c.ProcessPriority, c.CPUAffinity)
}

// MemLimitBytes returns the memory budget in bytes.
func (c *Config) MemLimitBytes() uint64 {
	return uint64(c.MemLimit) << 20
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// STUNServers returns the configured STUN URLs. "default" yields nil so the
// caller can substitute its own defaults; "none" yields an empty list.
func (c *Config) STUNServers() (urls []string, useDefault bool) {
	switch strings.ToLower(strings.TrimSpace(c.STUN)) {
	case "", "default":
		return nil, true
	case "none":
		return []string{}, false
	}
	for _, u := range strings.Split(c.STUN, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, false
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
