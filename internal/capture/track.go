package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const receiveWait = 100 * time.Millisecond

// Observer receives pipeline counters. Implementations must be safe for
// concurrent use.
type Observer interface {
	Captured(kind Kind)
	Dropped(kind Kind, n int)
	Restarted(kind Kind)
}

type nopObserver struct{}

func (nopObserver) Captured(Kind)     {}
func (nopObserver) Dropped(Kind, int) {}
func (nopObserver) Restarted(Kind)    {}

// Config describes one capture track.
type Config struct {
	Kind Kind
	Mode Mode

	// Video.
	Width, Height, FPS int

	// Audio.
	SampleRate      int
	Channels        int
	SamplesPerFrame int

	// QueueSize overrides the default drop-oldest capacity.
	QueueSize int

	// Tuning is applied to every capture process after it starts.
	Tuning Tuning

	Command  CommandFunc
	Observer Observer
	Logger   *slog.Logger
}

// Track is a lazily started capture source producing timestamped frames.
type Track struct {
	cfg       Config
	clockRate int
	perFrame  int64
	log       *slog.Logger
	hooks     Observer

	sup    *Supervisor
	frames *DoubleBuffer
	queue  *DropQueue
	meter  *rateMeter

	count  atomic.Int64
	closed atomic.Bool
}

// NewTrack validates cfg and builds a track. No process is started until the
// first Receive.
func NewTrack(cfg Config) (*Track, error) {
	if cfg.Command == nil {
		return nil, errors.New("capture: command required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	t := &Track{
		cfg:   cfg,
		hooks: cfg.Observer,
		log:   cfg.Logger.With("kind", string(cfg.Kind), "mode", cfg.Mode.String()),
	}

	var nominal float64
	switch cfg.Kind {
	case KindVideo:
		if cfg.FPS <= 0 {
			return nil, fmt.Errorf("capture: invalid frame rate %d", cfg.FPS)
		}
		if cfg.Mode == ModeRaw && (cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0) {
			return nil, fmt.Errorf("capture: raw video needs positive even dimensions, got %dx%d", cfg.Width, cfg.Height)
		}
		t.clockRate = cfg.FPS
		t.perFrame = 1
		nominal = float64(cfg.FPS)
	case KindAudio:
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = 48000
		}
		if cfg.Channels <= 0 {
			cfg.Channels = 2
		}
		if cfg.SamplesPerFrame <= 0 {
			if cfg.Mode == ModeEncoded {
				cfg.SamplesPerFrame = 960
			} else {
				cfg.SamplesPerFrame = 480
			}
		}
		t.cfg = cfg
		t.clockRate = cfg.SampleRate
		t.perFrame = int64(cfg.SamplesPerFrame)
		nominal = float64(cfg.SampleRate) / float64(cfg.SamplesPerFrame)
	default:
		return nil, fmt.Errorf("capture: unknown kind %q", cfg.Kind)
	}
	t.meter = newRateMeter(nominal, t.log)

	var onData DataFunc
	switch {
	case cfg.Kind == KindVideo && cfg.Mode == ModeRaw:
		t.frames = NewDoubleBuffer(I420Size(cfg.Width, cfg.Height))
		onData = t.readRawVideo
	case cfg.Kind == KindVideo:
		t.queue = NewDropQueue(queueSize(cfg.QueueSize, EncodedQueueSize))
		onData = t.readEncodedVideo
	case cfg.Mode == ModeRaw:
		t.queue = NewDropQueue(queueSize(cfg.QueueSize, RawAudioQueueSize))
		onData = t.readRawAudio
	default:
		t.queue = NewDropQueue(queueSize(cfg.QueueSize, EncodedQueueSize))
		onData = t.readEncodedAudio
	}
	t.sup = NewSupervisor("ffmpeg-"+string(cfg.Kind), cfg.Command, onData, t.log)
	t.sup.SetTuning(cfg.Tuning)
	return t, nil
}

func queueSize(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}

// Kind returns the media kind.
func (t *Track) Kind() Kind { return t.cfg.Kind }

// Mode returns how the track's process output is interpreted.
func (t *Track) Mode() Mode { return t.cfg.Mode }

// ClockRate is the PTS time base in ticks per second.
func (t *Track) ClockRate() int { return t.clockRate }

// FrameDuration is the nominal duration of one frame.
func (t *Track) FrameDuration() time.Duration {
	return time.Duration(t.perFrame) * time.Second / time.Duration(t.clockRate)
}

// Frames returns how many frames Receive has produced.
func (t *Track) Frames() int64 { return t.count.Load() }

// Starts returns how many capture processes have been spawned.
func (t *Track) Starts() uint64 { return t.sup.Starts() }

// PID returns the pid of the capture process, or 0.
func (t *Track) PID() int { return t.sup.PID() }

// Running reports whether the capture process is alive.
func (t *Track) Running() bool { return t.sup.Running() }

func (t *Track) ensureRunning() error {
	if t.closed.Load() {
		return ErrTrackEnded
	}
	before := t.sup.Starts()
	if err := t.sup.EnsureRunning(); err != nil {
		if errors.Is(err, ErrStopped) {
			return ErrTrackEnded
		}
		return err
	}
	if before > 0 && t.sup.Starts() > before {
		t.log.Warn("capture process restarted", "starts", t.sup.Starts())
		t.hooks.Restarted(t.cfg.Kind)
	}
	return nil
}

// Receive blocks until the next frame is available. Waits are bounded to
// 100 ms, after which the capture process is health-checked and restarted
// if needed. It returns ErrTrackEnded once Stop has been called.
func (t *Track) Receive(ctx context.Context) (*Frame, error) {
	if t.closed.Load() {
		return nil, ErrTrackEnded
	}
	if err := t.ensureRunning(); err != nil {
		return nil, err
	}

	ready := t.ready()
	timer := time.NewTimer(receiveWait)
	defer timer.Stop()

	for {
		if f, ok, err := t.take(); ok || err != nil {
			return f, err
		}
		// Clear a stale signal and retry once before waiting.
		select {
		case <-ready:
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		case <-timer.C:
			if t.closed.Load() {
				return nil, ErrTrackEnded
			}
			if err := t.ensureRunning(); err != nil {
				return nil, err
			}
			timer.Reset(receiveWait)
		}
		if t.closed.Load() {
			return nil, ErrTrackEnded
		}
	}
}

func (t *Track) ready() <-chan struct{} {
	if t.frames != nil {
		return t.frames.Ready()
	}
	return t.queue.Ready()
}

// take builds a frame from whatever is buffered.
func (t *Track) take() (*Frame, bool, error) {
	if t.frames != nil {
		slot, data, ok := t.frames.Take()
		if !ok {
			return nil, false, nil
		}
		img, err := newYCbCr(data, t.cfg.Width, t.cfg.Height)
		t.frames.Release(slot)
		if err != nil {
			return nil, false, err
		}
		f := t.stamp()
		f.Image = img
		return f, true, nil
	}

	p, ok := t.queue.Pop()
	if !ok {
		return nil, false, nil
	}
	f := t.stamp()
	if t.cfg.Mode == ModeEncoded {
		f.Payload = [][]byte{p}
		return f, true, nil
	}
	f.Samples = p
	f.SampleRate = t.cfg.SampleRate
	f.Channels = t.cfg.Channels
	f.SampleCount = t.cfg.SamplesPerFrame
	return f, true, nil
}

func (t *Track) stamp() *Frame {
	n := t.count.Add(1) - 1
	return &Frame{
		Kind:      t.cfg.Kind,
		PTS:       n * t.perFrame,
		ClockRate: t.clockRate,
		Duration:  t.FrameDuration(),
	}
}

// Stop ends the track and terminates its process. Blocked Receive calls
// return ErrTrackEnded within one wait interval. Safe to call repeatedly.
func (t *Track) Stop() {
	if t.closed.Swap(true) {
		return
	}
	t.sup.Close()
	t.log.Info("capture track stopped", "frames", t.count.Load(), "avg_fps", t.meter.Average())
}
