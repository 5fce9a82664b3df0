package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/junsooki/neon/internal/capture"
)

func TestCaptureObserver(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())
	var obs capture.Observer = m

	obs.Captured(capture.KindVideo)
	obs.Captured(capture.KindVideo)
	obs.Dropped(capture.KindAudio, 3)
	obs.Restarted(capture.KindAudio)

	if got := testutil.ToFloat64(m.FramesCaptured.WithLabelValues("video")); got != 2 {
		t.Errorf("captured = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped.WithLabelValues("audio")); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ProcessRestarts.WithLabelValues("audio")); got != 1 {
		t.Errorf("restarts = %v, want 1", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())
	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordStats("a", "video", 10, 1000)
	m.RecordStats("b", "video", 5, 500)
	m.RecordSessionStop("a")

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TotalSessions); got != 2 {
		t.Errorf("total = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.PacketsSent); got != 1 {
		t.Errorf("packet series = %d, want 1 after stop", got)
	}
}

func TestRecordMemory(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())
	m.RecordMemory(1<<20, "")
	m.RecordMemory(2<<20, "gc")
	if got := testutil.ToFloat64(m.ResidentMemory); got != 2<<20 {
		t.Errorf("rss = %v", got)
	}
	if got := testutil.ToFloat64(m.GuardActions.WithLabelValues("gc")); got != 1 {
		t.Errorf("gc actions = %v", got)
	}
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 0: "unknown"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
