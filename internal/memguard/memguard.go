package memguard

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Escalation thresholds as fractions of the configured limit.
const (
	gcRatio     = 0.5
	forceRatio  = 1.3
	shedRatio   = 1.5
	warnBackoff = 10 * time.Second

	// DefaultInterval is the sampling period.
	DefaultInterval = 2 * time.Second
)

// Tier is the action a memory sample calls for.
type Tier int

const (
	TierNone Tier = iota
	TierGC
	TierForceGC
	TierShed
)

func (t Tier) String() string {
	switch t {
	case TierGC:
		return "gc"
	case TierForceGC:
		return "force_gc"
	case TierShed:
		return "shed"
	default:
		return "none"
	}
}

// Classify maps a resident size to an escalation tier against limit.
func Classify(rss, limit uint64) Tier {
	if limit == 0 {
		return TierNone
	}
	ratio := float64(rss) / float64(limit)
	switch {
	case ratio >= shedRatio:
		return TierShed
	case ratio >= forceRatio:
		return TierForceGC
	case ratio >= gcRatio:
		return TierGC
	default:
		return TierNone
	}
}

// Sample is one memory reading in bytes.
type Sample struct {
	RSS uint64
	VMS uint64
}

// Sampler reads the current process memory.
type Sampler func() (Sample, error)

// Shedder force-closes every active session and reports how many closed.
type Shedder interface {
	CloseAll(reason string) int
}

// Recorder receives samples and escalations.
type Recorder interface {
	RecordMemory(rss uint64, tier string)
	RecordSessionsShed(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordMemory(uint64, string) {}
func (nopRecorder) RecordSessionsShed(int)      {}

// Options configures a Guard.
type Options struct {
	// Limit is the resident memory target in bytes.
	Limit    uint64
	Interval time.Duration
	Sampler  Sampler
	Shedder  Shedder
	Recorder Recorder
	Logger   *slog.Logger
}

// Guard periodically samples process memory and escalates from GC hints to
// closing every session.
type Guard struct {
	limit    uint64
	interval time.Duration
	sample   Sampler
	shedder  Shedder
	rec      Recorder
	log      *slog.Logger

	gc     func()
	freeOS func()
	now    func() time.Time

	mu       sync.Mutex
	latest   Sample
	lastWarn time.Time
}

// New creates a Guard. A nil Sampler uses the platform sampler.
func New(opts Options) *Guard {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Sampler == nil {
		opts.Sampler = ProcessSample
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		limit:    opts.Limit,
		interval: opts.Interval,
		sample:   opts.Sampler,
		shedder:  opts.Shedder,
		rec:      opts.Recorder,
		log:      opts.Logger.With("component", "memguard"),
		gc:       runtime.GC,
		freeOS:   debug.FreeOSMemory,
		now:      time.Now,
	}
}

// Check takes one sample and performs the action its tier calls for. The
// tier is re-evaluated after the first GC pass.
func (g *Guard) Check() (Tier, error) {
	s, err := g.sample()
	if err != nil {
		return TierNone, fmt.Errorf("memguard: sample: %w", err)
	}
	tier := Classify(s.RSS, g.limit)
	if tier == TierNone {
		g.store(s)
		g.rec.RecordMemory(s.RSS, "")
		g.log.Debug("memory", "rss_mb", s.RSS>>20, "limit_mb", g.limit>>20)
		return TierNone, nil
	}

	g.gc()
	if after, err := g.sample(); err == nil {
		s = after
	}
	g.store(s)
	tier = max(Classify(s.RSS, g.limit), TierGC)
	g.log.Debug("memory", "rss_mb", s.RSS>>20, "vms_mb", s.VMS>>20, "limit_mb", g.limit>>20, "tier", tier.String())

	if s.RSS > g.limit {
		g.warnAbove(s)
	}
	if tier >= TierForceGC {
		g.log.Error("critical memory pressure, forcing collection", "rss_mb", s.RSS>>20, "limit_mb", g.limit>>20)
		g.freeOS()
	}
	if tier >= TierShed && g.shedder != nil {
		reason := fmt.Sprintf("memory pressure: rss %d MB over %d MB limit", s.RSS>>20, g.limit>>20)
		n := g.shedder.CloseAll(reason)
		g.rec.RecordSessionsShed(n)
		g.log.Error("closed all sessions", "reason", reason, "sessions", n)
	}
	g.rec.RecordMemory(s.RSS, tier.String())
	return tier, nil
}

func (g *Guard) warnAbove(s Sample) {
	g.mu.Lock()
	now := g.now()
	if !g.lastWarn.IsZero() && now.Sub(g.lastWarn) < warnBackoff {
		g.mu.Unlock()
		return
	}
	g.lastWarn = now
	g.mu.Unlock()
	g.log.Warn("memory above target", "rss_mb", s.RSS>>20, "limit_mb", g.limit>>20)
}

func (g *Guard) store(s Sample) {
	g.mu.Lock()
	g.latest = s
	g.mu.Unlock()
}

// Latest returns the most recent sample.
func (g *Guard) Latest() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest
}

// Limit returns the configured target in bytes.
func (g *Guard) Limit() uint64 { return g.limit }

// Run checks memory every interval until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	g.log.Info("memory guard started", "limit_mb", g.limit>>20, "interval", g.interval)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := g.Check(); err != nil {
				g.log.Warn("memory check failed", "err", err)
			}
		}
	}
}

// ApplyLimits installs the startup backstops: the Go soft memory limit at
// limit, and an address-space cap of four times limit where supported.
func ApplyLimits(limit uint64, log *slog.Logger) {
	if limit == 0 {
		return
	}
	debug.SetMemoryLimit(int64(limit))
	if err := setAddressSpaceLimit(limit * 4); err != nil {
		log.Warn("address space limit not applied", "err", err)
		return
	}
	log.Info("memory limits applied", "soft_mb", limit>>20, "address_space_mb", (limit*4)>>20)
}
