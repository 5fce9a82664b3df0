package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/junsooki/neon/internal/encoder"
	"github.com/junsooki/neon/internal/input"
	"github.com/junsooki/neon/internal/transport"
)

// DefaultStatsInterval is how often outbound RTP statistics are polled.
const DefaultStatsInterval = 5 * time.Second

var (
	// ErrClosed is returned by Offer after Close.
	ErrClosed = errors.New("peer: manager closed")
	// ErrInvalidOffer is returned for descriptions that are not offers.
	ErrInvalidOffer = errors.New("peer: invalid offer")
)

// Options configures a Manager.
type Options struct {
	Settings *encoder.Settings
	Media    MediaFactory
	Injector input.Injector
	Recorder Recorder

	ICEServers    []webrtc.ICEServer
	StatsInterval time.Duration

	Logger *slog.Logger
}

// Manager owns the set of active sessions and the shared encoder settings.
type Manager struct {
	opts     Options
	api      *webrtc.API
	settings *encoder.Settings
	rec      Recorder
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Settings == nil || opts.Media == nil {
		return nil, errors.New("peer: settings and media factory required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Injector == nil {
		opts.Injector = input.NewLogInjector(opts.Logger)
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:     opts,
		api:      api,
		settings: opts.Settings,
		rec:      opts.Recorder,
		log:      opts.Logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}, nil
}

// Offer creates a session for a remote offer and returns the local answer
// once ICE gathering has completed.
func (m *Manager) Offer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", ErrInvalidOffer, offer.Type.String())
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	id := uuid.NewString()[:8]
	log := m.log.With("session", id)
	log.Info("connection started")

	md, err := m.opts.Media(id)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session media: %w", err)
	}
	pc, err := NewPeerConnection(m.api, m.opts.ICEServers, log)
	if err != nil {
		md.Stop()
		return webrtc.SessionDescription{}, fmt.Errorf("peer connection: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      id,
		Created: time.Now(),
		pc:      pc,
		media:   md,
		inputs:  transport.NewDataChannelTransport(),
		log:     log,
		rec:     m.rec,
		onClose: m.forget,
		ctx:     sctx,
		cancel:  cancel,
	}

	// Registered before negotiation so a state change to failed or closed
	// during it always finds the session to forget.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close("manager closed")
		return webrtc.SessionDescription{}, ErrClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()
	m.rec.RecordSessionStart()

	answer, err := m.negotiate(ctx, s, offer)
	if err != nil {
		s.Close("negotiation failed")
		return webrtc.SessionDescription{}, err
	}
	if s.isClosed() {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s closed during negotiation", id)
	}
	return answer, nil
}

func (m *Manager) negotiate(ctx context.Context, s *Session, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc := s.pc
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "neon-"+s.ID)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "neon-"+s.ID)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("audio track: %w", err)
	}
	vs, err := pc.AddTrack(video)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("add video track: %w", err)
	}
	as, err := pc.AddTrack(audio)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("add audio track: %w", err)
	}
	s.video, s.audio = video, audio
	go s.readRTCP(vs, true)
	go s.readRTCP(as, false)

	dispatcher := input.NewDispatcher(m.opts.Injector, s.log)
	s.inputs.OnInput(func(data []byte) { dispatcher.Handle(data) })
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.log.Info("data channel opened", "label", dc.Label())
		s.inputs.Attach(dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleState(s, state)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	return *pc.LocalDescription(), nil
}

func (m *Manager) handleState(s *Session, state webrtc.PeerConnectionState) {
	s.log.Info("connection state", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.start(m.opts.StatsInterval)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.Close(state.String())
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.ID]
	if ok && cur == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
	if ok && cur == s {
		m.rec.RecordSessionStop(s.ID)
	}
}

// Remove closes one session. It reports whether the session existed.
func (m *Manager) Remove(id, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close(reason)
	return true
}

// CloseAll force-closes every active session and returns how many were
// closed.
func (m *Manager) CloseAll(reason string) int {
	m.mu.Lock()
	all := slices.Collect(maps.Values(m.sessions))
	m.mu.Unlock()

	var (
		wg sync.WaitGroup
		n  int
		mu sync.Mutex
	)
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Close(reason) {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if n > 0 {
		m.log.Warn("sessions closed", "count", n, "reason", reason)
	}
	return n
}

// Close rejects further offers and closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CloseAll("shutdown")
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions lists the active sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	all := slices.Collect(maps.Values(m.sessions))
	m.mu.Unlock()
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int { return a.Created.Compare(b.Created) })
	return infos
}

// SetBitrate changes the video target for every session.
func (m *Manager) SetBitrate(kbps int) (encoder.Config, error) {
	cfg, err := m.settings.SetVideoBitrate(kbps)
	if err != nil {
		return cfg, err
	}
	m.log.Info("bitrate updated", "bps", cfg.VideoBitrate, "sessions", m.Count())
	return cfg, nil
}

// ApplyQuality switches to a preset. Resolution changes take effect for new
// sessions; the bitrate applies immediately.
func (m *Manager) ApplyQuality(name string) encoder.Quality {
	q := m.settings.ApplyQuality(name)
	m.log.Info("quality updated", "quality", q.Name, "resolution", q.Resolution(), "bps", q.BitrateKbps*1000)
	return q
}

// Settings returns the current encoder settings.
func (m *Manager) Settings() encoder.Config {
	return m.settings.Snapshot()
}
