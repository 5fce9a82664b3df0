package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/encoder"
	"github.com/junsooki/neon/internal/transport"
)

const (
	// receivePause spaces out retries when a source fails to start.
	receivePause = 100 * time.Millisecond
	// keyframeInterval bounds how often receiver PLIs force a keyframe.
	keyframeInterval = time.Second
)

// Recorder receives session lifecycle and RTP statistics.
type Recorder interface {
	RecordSessionStart()
	RecordSessionStop(id string)
	RecordStats(session, kind string, packets uint32, bytes uint64)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStart()                        {}
func (nopRecorder) RecordSessionStop(string)                   {}
func (nopRecorder) RecordStats(string, string, uint32, uint64) {}

// Info describes a session for the control API.
type Info struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Created time.Time `json:"created"`
}

// Session is one peer connection with its track pair and stats task.
type Session struct {
	ID      string
	Created time.Time

	pc      *webrtc.PeerConnection
	media   Media
	video   transport.SampleSender
	audio   transport.SampleSender
	inputs  *transport.DataChannelTransport
	log     *slog.Logger
	rec     Recorder
	onClose func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	keyframe     atomic.Bool
	lastKeyframe atomic.Int64
}

func (s *Session) Info() Info {
	return Info{ID: s.ID, State: s.pc.ConnectionState().String(), Created: s.Created}
}

// start launches the media pumps and the stats poll. It runs once, and never
// after Close.
func (s *Session) start(statsInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		pump(s.ctx, s.log, s.media.Video, s.video, s.takeKeyframe)
	}()
	go func() {
		defer s.wg.Done()
		pump(s.ctx, s.log, s.media.Audio, s.audio, nil)
	}()
	go func() {
		defer s.wg.Done()
		s.pollStats(statsInterval)
	}()
	s.log.Info("session streaming")
}

// Close tears the session down exactly once. It reports whether this call
// performed the teardown.
func (s *Session) Close(reason string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	// Stopping the media unblocks pumps waiting on a source or an encoder.
	if err := s.media.Stop(); err != nil {
		s.log.Debug("media stop", "err", err)
	}
	s.wg.Wait()
	if err := s.pc.Close(); err != nil {
		s.log.Debug("peer connection close", "err", err)
	}
	s.log.Info("session closed", "reason", reason, "lifetime", time.Since(s.Created).Round(time.Millisecond))
	if s.onClose != nil {
		s.onClose(s)
	}
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// requestKeyframe marks the next video encode as a forced keyframe, at most
// once per keyframeInterval.
func (s *Session) requestKeyframe(now time.Time) bool {
	last := s.lastKeyframe.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < keyframeInterval {
		return false
	}
	if !s.lastKeyframe.CompareAndSwap(last, now.UnixNano()) {
		return false
	}
	s.keyframe.Store(true)
	return true
}

func (s *Session) takeKeyframe() bool {
	return s.keyframe.Swap(false)
}

// readRTCP drains sender reports so interceptors run, and turns picture loss
// reports into keyframe requests.
func (s *Session) readRTCP(sender *webrtc.RTPSender, video bool) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if !video {
			continue
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if s.requestKeyframe(time.Now()) {
					s.log.Debug("keyframe requested by receiver")
				}
			}
		}
	}
}

func (s *Session) pollStats(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.reportStats()
		}
	}
}

func (s *Session) reportStats() {
	for _, st := range s.pc.GetStats() {
		out, ok := st.(webrtc.OutboundRTPStreamStats)
		if !ok {
			continue
		}
		s.log.Info("rtp stats", "kind", out.Kind, "packets_sent", out.PacketsSent, "bytes_sent", out.BytesSent)
		s.rec.RecordStats(s.ID, out.Kind, out.PacketsSent, out.BytesSent)
	}
}

// pump moves frames from the source through the encoder to the sender until
// the source ends or ctx is done.
func pump(ctx context.Context, log *slog.Logger, p Pipeline, out transport.SampleSender, keyframe func() bool) {
	kind := p.Source.Kind()
	log = log.With("kind", string(kind))
	for {
		frame, err := p.Source.Receive(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrTrackEnded) || ctx.Err() != nil {
				log.Debug("pump stopped", "err", err)
				return
			}
			log.Warn("receive failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receivePause):
			}
			continue
		}

		force := keyframe != nil && keyframe()
		pkts, err := p.Encoder.Encode(frame, force)
		if err != nil {
			if errors.Is(err, encoder.ErrClosed) {
				return
			}
			log.Warn("encode failed", "err", err)
			continue
		}
		for _, pkt := range pkts {
			err := out.WriteSample(media.Sample{Data: pkt, Duration: frame.Duration})
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			if err != nil {
				log.Debug("write sample", "err", err)
			}
		}
	}
}
