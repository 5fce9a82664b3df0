package capture

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	rateWindow      = time.Second
	rateHistory     = 60
	rateLogInterval = 10 * time.Second
	lowRateFraction = 0.75
)

// rateMeter counts frames in 1 s windows and warns when throughput drops
// under a fraction of the nominal rate.
type rateMeter struct {
	nominal float64
	log     *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	count       int
	history     []int
	low         bool
	lastLog     time.Time
}

func newRateMeter(nominal float64, log *slog.Logger) *rateMeter {
	return &rateMeter{nominal: nominal, log: log}
}

func (m *rateMeter) tick() {
	m.observe(time.Now())
}

// observe records one frame at now and reports whether a window closed.
func (m *rateMeter) observe(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windowStart.IsZero() {
		m.windowStart = now
		m.lastLog = now
	}
	m.count++
	if now.Sub(m.windowStart) < rateWindow {
		return false
	}

	rate := m.count
	m.history = append(m.history, rate)
	if len(m.history) > rateHistory {
		m.history = m.history[len(m.history)-rateHistory:]
	}
	m.count = 0
	m.windowStart = now

	threshold := m.nominal * lowRateFraction
	isLow := m.nominal > 0 && float64(rate) < threshold
	if isLow && !m.low {
		m.log.Warn("low frame rate", "fps", rate, "nominal", m.nominal)
	}
	m.low = isLow

	if now.Sub(m.lastLog) >= rateLogInterval {
		m.log.Debug("frame rate", "avg", m.averageLocked(), "samples", len(m.history))
		m.lastLog = now
	}
	return true
}

func (m *rateMeter) averageLocked() float64 {
	if len(m.history) == 0 {
		return 0
	}
	sum := 0
	for _, v := range m.history {
		sum += v
	}
	return float64(sum) / float64(len(m.history))
}

// Average returns the mean rate over the retained windows.
func (m *rateMeter) Average() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageLocked()
}

// readRawVideo fills double-buffer slots with exactly frameSize bytes each.
func (t *Track) readRawVideo(r io.Reader) {
	for {
		slot, buf := t.frames.Acquire()
		if _, err := io.ReadFull(r, buf); err != nil {
			t.frames.Abort(slot)
			t.readEnded(err)
			return
		}
		t.frames.Publish(slot)
		t.captured()
	}
}

// readRawAudio queues fixed-size PCM chunks.
func (t *Track) readRawAudio(r io.Reader) {
	size := PCMSize(t.cfg.SamplesPerFrame, t.cfg.Channels)
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.readEnded(err)
			return
		}
		t.push(buf)
	}
}

func (t *Track) readEncodedVideo(r io.Reader) {
	units, err := NewAccessUnitReader(r)
	if err != nil {
		t.readEnded(err)
		return
	}
	for {
		unit, _, err := units.Next()
		if err != nil {
			t.readEnded(err)
			return
		}
		if len(unit) == 0 {
			continue
		}
		t.push(unit)
	}
}

func (t *Track) readEncodedAudio(r io.Reader) {
	packets, err := NewOpusReader(r)
	if err != nil {
		t.readEnded(err)
		return
	}
	for {
		pkt, err := packets.Next()
		if err != nil {
			t.readEnded(err)
			return
		}
		if len(pkt) == 0 {
			continue
		}
		t.push(pkt)
	}
}

func (t *Track) push(p []byte) {
	if n := t.queue.Push(p); n > 0 {
		t.hooks.Dropped(t.cfg.Kind, n)
	}
	t.captured()
}

func (t *Track) captured() {
	t.meter.tick()
	t.hooks.Captured(t.cfg.Kind)
}

func (t *Track) readEnded(err error) {
	if t.closed.Load() {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		t.log.Warn("capture pipe closed")
		return
	}
	t.log.Error("capture read failed", "err", err)
}
