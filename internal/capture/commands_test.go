package capture

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"
)

func withRenderNode(t *testing.T, present bool) {
	t.Helper()
	orig := statFile
	statFile = func(string) (os.FileInfo, error) {
		if present {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}
	t.Cleanup(func() { statFile = orig })
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestBuildPlanLinuxVideoEncoders(t *testing.T) {
	tests := []struct {
		name      string
		encoder   string
		node      bool
		wantCodec string
	}{
		{"auto with render node", "auto", true, "h264_vaapi"},
		{"auto without render node", "auto", false, "libx264"},
		{"vaapi without render node", "vaapi", false, "libx264"},
		{"gpu prefers vaapi", "gpu", true, "h264_vaapi"},
		{"gpu falls to nvenc", "gpu", false, "h264_nvenc"},
		{"nvenc", "nvenc", true, "h264_nvenc"},
		{"qsv", "qsv", false, "h264_qsv"},
		{"cpu", "cpu", true, "libx264"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withRenderNode(t, tt.node)
			plan, err := BuildPlan(Spec{
				OS: "linux", Kind: KindVideo, Encoder: tt.encoder,
				Width: 1920, Height: 1080, FPS: 60, BitrateKbps: 20000,
			})
			if err != nil {
				t.Fatal(err)
			}
			if plan.Codec != tt.wantCodec {
				t.Errorf("codec = %q, want %q", plan.Codec, tt.wantCodec)
			}
			if plan.Mode != ModeEncoded {
				t.Errorf("mode = %v, want encoded", plan.Mode)
			}
			args := plan.Command.Args
			if argAfter(args, "-c:v") != tt.wantCodec {
				t.Errorf("-c:v = %q", argAfter(args, "-c:v"))
			}
			if argAfter(args, "-b:v") != "20000k" || argAfter(args, "-bufsize") != "2000k" {
				t.Errorf("rate args = %v", args)
			}
			if argAfter(args, "-g") != "60" {
				t.Errorf("gop = %q", argAfter(args, "-g"))
			}
			if args[len(args)-1] != "-" || argAfter(args, "-f") != "x11grab" {
				t.Errorf("unexpected io args: %v", args)
			}
			if !strings.Contains(plan.Command.String(), "comment="+ProcessTag) {
				t.Error("command not tagged")
			}
		})
	}
}

func TestBuildPlanX264Preset(t *testing.T) {
	withRenderNode(t, false)
	for latency, want := range map[string]string{
		"ultra_baixa": "ultrafast",
		"baixa":       "superfast",
		"balanceada":  "veryfast",
		"":            "ultrafast",
	} {
		plan, err := BuildPlan(Spec{OS: "linux", Kind: KindVideo, Encoder: "cpu", Preset: latency, Width: 1280, Height: 720})
		if err != nil {
			t.Fatal(err)
		}
		if got := argAfter(plan.Command.Args, "-preset"); got != want {
			t.Errorf("%q: preset = %q, want %q", latency, got, want)
		}
	}
}

func withDisplayEnv(t *testing.T, display string) {
	t.Helper()
	orig := getenv
	getenv = func(key string) string {
		if key == "DISPLAY" {
			return display
		}
		return ""
	}
	t.Cleanup(func() { getenv = orig })
}

func TestBuildPlanRegion(t *testing.T) {
	withRenderNode(t, false)
	withDisplayEnv(t, "")
	plan, err := BuildPlan(Spec{OS: "linux", Kind: KindVideo, Region: "100,50,800,600", Display: ":1", Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	args := plan.Command.Args
	if argAfter(args, "-i") != ":1+100,50" || argAfter(args, "-video_size") != "800x600" {
		t.Errorf("region args = %v", args)
	}

	plan, _ = BuildPlan(Spec{OS: "linux", Kind: KindVideo, Region: "full", Width: 1280, Height: 720})
	if argAfter(plan.Command.Args, "-i") != ":0.0+0,0" {
		t.Errorf("full screen input = %q", argAfter(plan.Command.Args, "-i"))
	}
}

func TestBuildPlanLinuxAudio(t *testing.T) {
	plan, err := BuildPlan(Spec{OS: "linux", Kind: KindAudio, AudioDevice: "sink.monitor", AudioBitrateKbps: 96})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Mode != ModeEncoded || plan.Codec != "libopus" {
		t.Errorf("plan = %+v", plan)
	}
	args := plan.Command.Args
	if argAfter(args, "-i") != "sink.monitor" || argAfter(args, "-b:a") != "96k" {
		t.Errorf("args = %v", args)
	}
	if argAfter(args, "-page_duration") != "20000" {
		t.Error("ogg pages not sized to one packet")
	}
	if !slices.Contains(plan.Command.Env, "PULSE_LATENCY_MSEC=10") {
		t.Errorf("env = %v", plan.Command.Env)
	}

	plan, _ = BuildPlan(Spec{OS: "linux", Kind: KindAudio, UltraLowLatency: true})
	if !slices.Contains(plan.Command.Env, "PULSE_LATENCY_MSEC=1") {
		t.Errorf("ultra low latency env = %v", plan.Command.Env)
	}
}

func TestBuildPlanWindowsRaw(t *testing.T) {
	video, err := BuildPlan(Spec{OS: "windows", Kind: KindVideo, Width: 1280, Height: 720, FPS: 60})
	if err != nil {
		t.Fatal(err)
	}
	if video.Mode != ModeRaw || argAfter(video.Command.Args, "-f") != "lavfi" {
		t.Errorf("video plan = %+v", video)
	}
	if !strings.Contains(argAfter(video.Command.Args, "-i"), "ddagrab=framerate=60") {
		t.Errorf("video input = %q", argAfter(video.Command.Args, "-i"))
	}

	audio, err := BuildPlan(Spec{OS: "windows", Kind: KindAudio})
	if err != nil {
		t.Fatal(err)
	}
	if audio.Mode != ModeRaw || argAfter(audio.Command.Args, "-i") != "audio=virtual-audio-capturer" {
		t.Errorf("audio plan = %+v", audio)
	}
	if audio.Command.Args[len(audio.Command.Args)-2] != "s16le" {
		t.Errorf("audio output = %v", audio.Command.Args)
	}
}

func TestBuildPlanDarwin(t *testing.T) {
	video, err := BuildPlan(Spec{OS: "darwin", Kind: KindVideo, Width: 1920, Height: 1080})
	if err != nil {
		t.Fatal(err)
	}
	if video.Codec != "h264_videotoolbox" || video.Mode != ModeEncoded {
		t.Errorf("video plan = %+v", video)
	}
	audio, _ := BuildPlan(Spec{OS: "darwin", Kind: KindAudio})
	if argAfter(audio.Command.Args, "-i") != "none:0" {
		t.Errorf("audio input = %q", argAfter(audio.Command.Args, "-i"))
	}
}

func TestBuildPlanErrors(t *testing.T) {
	if _, err := BuildPlan(Spec{OS: "plan9", Kind: KindVideo}); err == nil {
		t.Error("expected unsupported platform error")
	}
	withRenderNode(t, false)
	if _, err := BuildPlan(Spec{OS: "linux", Kind: KindVideo}); err == nil {
		t.Error("expected missing size error")
	}
}

func TestParseRegion(t *testing.T) {
	if _, _, _, _, ok := parseRegion("1,2,3"); ok {
		t.Error("three fields accepted")
	}
	if _, _, _, _, ok := parseRegion("a,b,c,d"); ok {
		t.Error("non-numeric accepted")
	}
	x, y, w, h, ok := parseRegion(" 0, 10 ,640,480")
	if !ok || x != "0" || y != "10" || w != "640" || h != "480" {
		t.Errorf("parse = %s %s %s %s %v", x, y, w, h, ok)
	}
}

func TestBuildPlanScreenGeometry(t *testing.T) {
	withRenderNode(t, false)
	withDisplayEnv(t, "")
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"detected 1440p", Spec{ScreenWidth: 2560, ScreenHeight: 1440, Width: 1920, Height: 1080}, "2560x1440"},
		{"detected ultrawide", Spec{ScreenWidth: 3440, ScreenHeight: 1440, Width: 1280, Height: 720}, "3440x1440"},
		{"unknown screen uses output size", Spec{Width: 1280, Height: 720}, "1280x720"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.OS, tt.spec.Kind = "linux", KindVideo
			plan, err := BuildPlan(tt.spec)
			if err != nil {
				t.Fatal(err)
			}
			args := plan.Command.Args
			if got := argAfter(args, "-video_size"); got != tt.want {
				t.Errorf("video_size = %q, want %q", got, tt.want)
			}
			scale := fmt.Sprintf("scale=%d:%d,format=yuv420p", tt.spec.Width, tt.spec.Height)
			if argAfter(args, "-vf") != scale {
				t.Errorf("-vf = %q, want %q", argAfter(args, "-vf"), scale)
			}
		})
	}
}

func TestBuildPlanDisplayFromEnvironment(t *testing.T) {
	withRenderNode(t, false)
	withDisplayEnv(t, ":2")
	plan, err := BuildPlan(Spec{OS: "linux", Kind: KindVideo, Width: 1280, Height: 720})
	if err != nil {
		t.Fatal(err)
	}
	if got := argAfter(plan.Command.Args, "-i"); got != ":2+0,0" {
		t.Errorf("input = %q, want :2+0,0", got)
	}

	plan, _ = BuildPlan(Spec{OS: "linux", Kind: KindVideo, Display: ":5", Width: 1280, Height: 720})
	if got := argAfter(plan.Command.Args, "-i"); got != ":5+0,0" {
		t.Errorf("explicit display input = %q", got)
	}
}
