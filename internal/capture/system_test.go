package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func stubRunOutput(t *testing.T, fn func(name string, args ...string) ([]byte, error)) {
	t.Helper()
	orig := runOutput
	runOutput = func(_ context.Context, name string, args ...string) ([]byte, error) {
		return fn(name, args...)
	}
	t.Cleanup(func() { runOutput = orig })
}

const pactlSources = "0\talsa_output.hdmi.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n" +
	"1\talsa_output.analog.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tRUNNING\n" +
	"2\talsa_input.analog\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n"

func TestFindAudioMonitor(t *testing.T) {
	tests := []struct {
		name    string
		sources string
		sink    string
		sinkErr error
		want    string
	}{
		{"default sink monitor", pactlSources, "alsa_output.analog\n", nil, "alsa_output.analog.monitor"},
		{"first monitor when sink unknown", pactlSources, "", errors.New("no sink"), "alsa_output.hdmi.monitor"},
		{"first monitor when sink has none", pactlSources, "bluez_sink\n", nil, "alsa_output.hdmi.monitor"},
		{"no monitors", "2\talsa_input.analog\tmodule\n", "", nil, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubRunOutput(t, func(name string, args ...string) ([]byte, error) {
				if strings.Join(args, " ") == "get-default-sink" {
					return []byte(tt.sink), tt.sinkErr
				}
				return []byte(tt.sources), nil
			})
			if got := FindAudioMonitor(context.Background()); got != tt.want {
				t.Errorf("monitor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindAudioMonitorWithoutPactl(t *testing.T) {
	stubRunOutput(t, func(string, ...string) ([]byte, error) {
		return nil, errors.New("executable file not found")
	})
	if got := FindAudioMonitor(context.Background()); got != "default" {
		t.Errorf("monitor = %q, want default", got)
	}
}

func TestCleanupOrphansTargetsTaggedProcesses(t *testing.T) {
	var calls []string
	stubRunOutput(t, func(name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil, nil
	})
	CleanupOrphans(context.Background(), discardLogger())
	if len(calls) != 1 {
		t.Fatalf("calls = %v", calls)
	}
	if !strings.Contains(calls[0], "ffmpeg") {
		t.Errorf("cleanup call = %q", calls[0])
	}
}

func TestDisplaySize(t *testing.T) {
	withDisplayEnv(t, ":1")
	tests := []struct {
		name         string
		xdpyinfo     string
		xrandr       string
		wantW, wantH int
		wantOK       bool
	}{
		{
			name:     "xdpyinfo",
			xdpyinfo: "screen #0:\n  dimensions:    2560x1440 pixels (677x381 millimeters)\n  resolution:    96x96 dots per inch\n",
			wantW:    2560, wantH: 1440, wantOK: true,
		},
		{
			name:   "xrandr fallback",
			xrandr: "Screen 0: minimum 8 x 8, current 3440 x 1440, maximum 32767 x 32767\nDP-1 connected primary\n",
			wantW:  3440, wantH: 1440, wantOK: true,
		},
		{name: "no tools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var displays []string
			stubRunOutput(t, func(name string, args ...string) ([]byte, error) {
				displays = append(displays, args[1])
				switch {
				case name == "xdpyinfo" && tt.xdpyinfo != "":
					return []byte(tt.xdpyinfo), nil
				case name == "xrandr" && tt.xrandr != "":
					return []byte(tt.xrandr), nil
				}
				return nil, errors.New("exec: not found")
			})
			w, h, ok := DisplaySize(context.Background(), "")
			if w != tt.wantW || h != tt.wantH || ok != tt.wantOK {
				t.Errorf("DisplaySize = %dx%d ok=%v, want %dx%d ok=%v", w, h, ok, tt.wantW, tt.wantH, tt.wantOK)
			}
			for _, d := range displays {
				if d != ":1" {
					t.Errorf("queried display %q, want $DISPLAY :1", d)
				}
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	for _, in := range []string{"", "1920", "x1080", "0x0", "axb"} {
		if _, _, ok := parseSize(in); ok {
			t.Errorf("parseSize(%q) accepted", in)
		}
	}
}
