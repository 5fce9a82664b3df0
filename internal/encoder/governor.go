package encoder

import (
	"log/slog"
	"sync"

	"github.com/junsooki/neon/internal/capture"
)

const defaultAudioBitrate = 128000

// Observer receives rate-control events.
type Observer interface {
	BitrateApplied(kind capture.Kind, bps int)
	BitrateClamped()
}

type nopObserver struct{}

func (nopObserver) BitrateApplied(capture.Kind, int) {}
func (nopObserver) BitrateClamped()                  {}

// GovernorOptions configures a Governor.
type GovernorOptions struct {
	Kind     capture.Kind
	Observer Observer
	Logger   *slog.Logger
}

// Governor wraps an encoder backend and keeps its rate control pinned to the
// shared Settings. Reads and writes of rate knobs go through the governor,
// the target is capped by the network ceiling, and rate options are pushed
// to the backend only when the effective bitrate changes. Frames that are
// already encoded bypass the backend entirely.
type Governor struct {
	inner    Encoder
	settings *Settings
	kind     capture.Kind
	policy   RateControl
	obs      Observer
	log      *slog.Logger

	mu      sync.Mutex
	applied int
	warned  bool
}

// NewGovernor wraps inner and applies the backend's low-latency tuning.
func NewGovernor(inner Encoder, settings *Settings, opts GovernorOptions) *Governor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Kind == "" {
		opts.Kind = capture.KindVideo
	}
	cfg := settings.Snapshot()
	g := &Governor{
		inner:    inner,
		settings: settings,
		kind:     opts.Kind,
		policy:   PolicyFor(FamilyOf(inner.Codec()), cfg),
		obs:      opts.Observer,
		log:      opts.Logger.With("codec", inner.Codec(), "kind", string(opts.Kind)),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	eff := g.effectiveLocked(cfg, true)
	failed := g.applyLocked(g.policy.Tuning(eff))
	failed += g.applyLocked(g.policy.Rates(eff))
	g.applied = eff
	g.obs.BitrateApplied(g.kind, eff)
	g.log.Info("rate control initialized", "family", g.policy.Family().String(), "bps", eff, "unsupported", failed)
	return g
}

// effectiveLocked returns min(target, ceiling) for video and the audio
// target for audio. With warn set, the first clamp is logged.
func (g *Governor) effectiveLocked(cfg Config, warn bool) int {
	if g.kind == capture.KindAudio {
		if cfg.AudioBitrate > 0 {
			return cfg.AudioBitrate
		}
		return defaultAudioBitrate
	}
	target := cfg.VideoBitrate
	if cfg.NetLimit > 0 && target > cfg.NetLimit {
		if warn && !g.warned {
			g.warned = true
			g.obs.BitrateClamped()
			g.log.Warn("bitrate capped by network limit", "requested_bps", target, "limit_bps", cfg.NetLimit)
		}
		return cfg.NetLimit
	}
	return target
}

// applyLocked sets each option independently and returns how many the
// backend rejected.
func (g *Governor) applyLocked(params []Param) int {
	failed := 0
	for _, p := range params {
		if err := g.inner.SetParam(p.Name, p.Value); err != nil {
			failed++
			g.log.Debug("encoder option not applied", "name", p.Name, "value", p.Value, "err", err)
		}
	}
	return failed
}

// Enforce re-applies rate options if the effective bitrate changed since the
// last call and returns the effective bitrate.
func (g *Governor) Enforce() int {
	cfg := g.settings.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()
	eff := g.effectiveLocked(cfg, true)
	if eff == g.applied {
		return eff
	}
	g.applyLocked(g.policy.Rates(eff))
	g.log.Info("bitrate applied", "bps", eff, "previous_bps", g.applied)
	g.applied = eff
	g.obs.BitrateApplied(g.kind, eff)
	return eff
}

// Encode forwards pre-encoded payloads untouched; raw frames are encoded by
// the backend after rate control is enforced.
func (g *Governor) Encode(frame *capture.Frame, forceKeyframe bool) ([][]byte, error) {
	if frame.Encoded() {
		return frame.Payload, nil
	}
	g.Enforce()
	return g.inner.Encode(frame, forceKeyframe)
}

// SetParam rewrites rate knobs to the globally derived value before passing
// them on; other options go through unchanged.
func (g *Governor) SetParam(name, value string) error {
	if isRateParam(name) {
		derived := g.derived(name)
		if derived != value {
			g.log.Debug("rate option overridden", "name", name, "requested", value, "value", derived)
		}
		value = derived
	}
	return g.inner.SetParam(name, value)
}

// Param reports rate knobs from the shared settings, not the backend. Values
// match what the policy writes on re-apply.
func (g *Governor) Param(name string) (string, bool) {
	if isRateParam(name) {
		return g.derived(name), true
	}
	return g.inner.Param(name)
}

func (g *Governor) derived(name string) string {
	cfg := g.settings.Snapshot()
	g.mu.Lock()
	eff := g.effectiveLocked(cfg, false)
	g.mu.Unlock()
	for _, p := range g.policy.Rates(eff) {
		if p.Name == name {
			return p.Value
		}
	}
	return itoa(eff)
}

// Applied returns the bitrate last pushed to the backend.
func (g *Governor) Applied() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applied
}

// Policy returns the rate-control policy chosen for the backend.
func (g *Governor) Policy() RateControl { return g.policy }

func (g *Governor) Codec() string { return g.inner.Codec() }

func (g *Governor) Close() error { return g.inner.Close() }
