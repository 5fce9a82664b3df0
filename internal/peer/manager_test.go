package peer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/encoder"
)

type countingRecorder struct {
	mu      sync.Mutex
	starts  int
	stopped []string
}

func (r *countingRecorder) RecordSessionStart() {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordSessionStop(id string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, id)
	r.mu.Unlock()
}

func (r *countingRecorder) RecordStats(string, string, uint32, uint64) {}

type fakeMedia struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (f *fakeMedia) factory(string) (Media, error) {
	v := newFakeSource(capture.KindVideo)
	a := newFakeSource(capture.KindAudio)
	f.mu.Lock()
	f.sources = append(f.sources, v, a)
	f.mu.Unlock()
	return Media{
		Video: Pipeline{Source: v, Encoder: encoder.NewPassthrough("h264")},
		Audio: Pipeline{Source: a, Encoder: encoder.NewPassthrough("opus")},
	}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeMedia, *countingRecorder) {
	t.Helper()
	fm := &fakeMedia{}
	rec := &countingRecorder{}
	m, err := NewManager(Options{
		Settings: encoder.NewSettings(encoder.Config{VideoBitrate: 20_000_000}),
		Media:    fm.factory,
		Recorder: rec,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, fm, rec
}

// clientOffer builds a receive-only browser-style offer with an input channel.
func clientOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := pc.CreateDataChannel("input", nil); err != nil {
		t.Fatal(err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("client gathering timed out")
	}
	return *pc.LocalDescription()
}

func TestOfferCreatesSession(t *testing.T) {
	m, fm, rec := newTestManager(t)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := m.Offer(ctx, clientOffer(t))
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Errorf("answer type = %v", answer.Type)
	}
	if !strings.Contains(answer.SDP, "H264/90000") || !strings.Contains(answer.SDP, "opus/48000") {
		t.Errorf("answer lacks H264 or Opus:\n%s", answer.SDP)
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
	infos := m.Sessions()
	if len(infos) != 1 || len(infos[0].ID) != 8 {
		t.Errorf("sessions = %+v", infos)
	}

	if n := m.CloseAll("memory"); n != 1 {
		t.Errorf("closed = %d, want 1", n)
	}
	if m.Count() != 0 {
		t.Errorf("count after close = %d", m.Count())
	}
	if n := m.CloseAll("again"); n != 0 {
		t.Errorf("second CloseAll closed %d", n)
	}
	for _, s := range fm.sources {
		if !s.stopped() {
			t.Errorf("%s source not stopped", s.kind)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.starts != 1 || len(rec.stopped) != 1 || rec.stopped[0] != infos[0].ID {
		t.Errorf("recorder starts=%d stopped=%v", rec.starts, rec.stopped)
	}
}

func TestSessionClosesOnce(t *testing.T) {
	m, _, rec := newTestManager(t)
	defer m.Close()
	if _, err := m.Offer(context.Background(), clientOffer(t)); err != nil {
		t.Fatal(err)
	}
	id := m.Sessions()[0].ID
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()

	var wg sync.WaitGroup
	var teardowns sync.Map
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Close("race") {
				teardowns.Store(i, true)
			}
		}()
	}
	m.handleState(s, webrtc.PeerConnectionStateFailed)
	wg.Wait()

	n := 0
	teardowns.Range(func(any, any) bool { n++; return true })
	if n > 1 {
		t.Errorf("teardown ran %d times", n)
	}
	if m.Remove(id, "gone") {
		t.Error("removed session still listed")
	}
	// Starting after close must not launch pumps.
	s.start(time.Second)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.stopped) != 1 {
		t.Errorf("stop recorded %d times", len(rec.stopped))
	}
}

func TestOfferRejectsAnswers(t *testing.T) {
	m, fm, _ := newTestManager(t)
	_, err := m.Offer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("err = %v", err)
	}
	if len(fm.sources) != 0 {
		t.Error("media built for an invalid offer")
	}

	m.Close()
	if _, err := m.Offer(context.Background(), clientOffer(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("offer after close = %v", err)
	}
}

func TestControlEndpoints(t *testing.T) {
	m, _, _ := newTestManager(t)
	cfg, err := m.SetBitrate(8000)
	if err != nil || cfg.VideoBitrate != 8_000_000 {
		t.Errorf("SetBitrate = %+v, %v", cfg, err)
	}
	if _, err := m.SetBitrate(-1); err == nil {
		t.Error("negative bitrate accepted")
	}
	q := m.ApplyQuality("4K")
	if q.Name != "4k" || m.Settings().Width != 3840 || m.Settings().VideoBitrate != 55_000_000 {
		t.Errorf("quality = %+v settings = %+v", q, m.Settings())
	}
}

func TestFailedNegotiationLeavesNoSession(t *testing.T) {
	m, fm, rec := newTestManager(t)
	defer m.Close()

	bad := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\nnot an sdp\r\n"}
	if _, err := m.Offer(context.Background(), bad); err == nil {
		t.Fatal("malformed offer accepted")
	}
	if m.Count() != 0 {
		t.Errorf("count = %d, want 0", m.Count())
	}
	for _, s := range fm.sources {
		if !s.stopped() {
			t.Errorf("%s source not stopped", s.kind)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.starts != 1 || len(rec.stopped) != 1 {
		t.Errorf("recorder starts=%d stopped=%v", rec.starts, rec.stopped)
	}
}

// failingRecorder fails the peer connection as soon as the session is
// registered, while negotiation has not run yet.
type failingRecorder struct {
	*countingRecorder
	m *Manager
}

func (r *failingRecorder) RecordSessionStart() {
	r.countingRecorder.RecordSessionStart()
	r.m.mu.Lock()
	var s *Session
	for _, cur := range r.m.sessions {
		s = cur
	}
	r.m.mu.Unlock()
	if s != nil {
		r.m.handleState(s, webrtc.PeerConnectionStateFailed)
	}
}

func TestFailureDuringNegotiationIsForgotten(t *testing.T) {
	fm := &fakeMedia{}
	counts := &countingRecorder{}
	rec := &failingRecorder{countingRecorder: counts}
	m, err := NewManager(Options{
		Settings: encoder.NewSettings(encoder.Config{VideoBitrate: 20_000_000}),
		Media:    fm.factory,
		Recorder: rec,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec.m = m
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Offer(ctx, clientOffer(t)); err == nil {
		t.Fatal("offer succeeded for a session that failed during negotiation")
	}
	if m.Count() != 0 || len(m.Sessions()) != 0 {
		t.Errorf("dead session still registered: %+v", m.Sessions())
	}
	counts.mu.Lock()
	defer counts.mu.Unlock()
	if counts.starts != 1 || len(counts.stopped) != 1 {
		t.Errorf("recorder starts=%d stopped=%v", counts.starts, counts.stopped)
	}
}
