package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessTag is embedded in every capture command line so leftover processes
// from an earlier run can be found and killed.
const ProcessTag = "neon-capture"

// DefaultRenderNode is the DRM render node checked for VAAPI encoding.
const DefaultRenderNode = "/dev/dri/renderD128"

// statFile and getenv are swapped in tests.
var (
	statFile = os.Stat
	getenv   = os.Getenv
)

// Spec carries everything needed to build a capture command line for one
// (platform, kind, backend) combination.
type Spec struct {
	FFmpeg string
	OS     string
	Kind   Kind

	// Encoder is the requested backend: auto, cpu, vaapi, nvenc, gpu, amf, qsv.
	Encoder string
	// Preset is the x264 speed preset.
	Preset string

	Width, Height, FPS int
	BitrateKbps        int
	AudioBitrateKbps   int

	// ScreenWidth and ScreenHeight are the display geometry grabbed in full
	// screen mode. Zero falls back to Width and Height.
	ScreenWidth, ScreenHeight int

	// Region is "x,y,w,h" of the grabbed area or "full".
	Region      string
	Display     string
	AudioDevice string
	RenderNode  string

	UltraLowLatency bool
	BadConnection   bool
	AudioGPU        bool
}

// Plan is the resolved command plus how its output must be read.
type Plan struct {
	Command Command
	Mode    Mode
	// Codec is the ffmpeg encoder chosen, empty for raw output.
	Codec string
}

// BuildPlan resolves the capture command for s.
func BuildPlan(s Spec) (Plan, error) {
	if s.FFmpeg == "" {
		s.FFmpeg = "ffmpeg"
	}
	if s.FPS <= 0 {
		s.FPS = 60
	}
	switch s.OS {
	case "linux":
		if s.Kind == KindVideo {
			return linuxVideo(s)
		}
		return linuxAudio(s), nil
	case "windows":
		if s.Kind == KindVideo {
			return windowsVideo(s), nil
		}
		return windowsAudio(s), nil
	case "darwin":
		if s.Kind == KindVideo {
			return darwinVideo(s), nil
		}
		return darwinAudio(s), nil
	default:
		return Plan{}, fmt.Errorf("capture: unsupported platform %q", s.OS)
	}
}

func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-loglevel", "warning"}
}

func tagArgs() []string {
	return []string{"-metadata", "comment=" + ProcessTag}
}

// parseRegion returns the grab offset and size; ok is false for full screen.
func parseRegion(region string) (x, y, w, h string, ok bool) {
	if !strings.Contains(region, ",") {
		return "", "", "", "", false
	}
	parts := strings.Split(region, ",")
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if _, err := strconv.Atoi(parts[i]); err != nil {
			return "", "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

// x11Display resolves the X display: the explicit name, then $DISPLAY, then
// ":0.0".
func x11Display(name string) string {
	if name != "" {
		return name
	}
	if env := getenv("DISPLAY"); env != "" {
		return env
	}
	return ":0.0"
}

// X264Preset maps a latency preset name to an x264 speed preset.
func X264Preset(latency string) string {
	switch strings.ToLower(latency) {
	case "baixa", "superfast":
		return "superfast"
	case "balanceada", "veryfast":
		return "veryfast"
	default:
		return "ultrafast"
	}
}

func linuxVideo(s Spec) (Plan, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return Plan{}, errors.New("capture: video size required")
	}
	display := x11Display(s.Display)
	input := display + "+0,0"
	srcW, srcH := strconv.Itoa(s.Width), strconv.Itoa(s.Height)
	if s.ScreenWidth > 0 && s.ScreenHeight > 0 {
		srcW, srcH = strconv.Itoa(s.ScreenWidth), strconv.Itoa(s.ScreenHeight)
	}
	if x, y, w, h, ok := parseRegion(s.Region); ok {
		srcW, srcH = w, h
		input = fmt.Sprintf("%s+%s,%s", display, x, y)
	}

	renderNode := s.RenderNode
	if renderNode == "" {
		renderNode = DefaultRenderNode
	}
	req := strings.ToLower(s.Encoder)
	if req == "" {
		req = "auto"
	}

	scale := fmt.Sprintf("scale=%d:%d,format=yuv420p", s.Width, s.Height)
	codec := "libx264"
	opts := []string{"-preset", X264Preset(s.Preset), "-tune", "zerolatency", "-vf", scale}

	_, nodeErr := statFile(renderNode)
	switch {
	case (req == "vaapi" || req == "gpu" || req == "auto") && nodeErr == nil:
		codec = "h264_vaapi"
		opts = []string{
			"-vaapi_device", renderNode,
			"-vf", fmt.Sprintf("format=nv12,hwupload,scale_vaapi=%d:%d", s.Width, s.Height),
			"-rc_mode", "CBR",
			"-filler_data", "1",
			"-qp", "24",
		}
	case req == "nvenc" || req == "gpu":
		codec = "h264_nvenc"
		opts = []string{
			"-preset", "p1",
			"-tune", "ull",
			"-zerolatency", "1",
			"-delay", "0",
			"-rc", "cbr",
			"-vf", scale,
		}
	case req == "qsv":
		codec = "h264_qsv"
		opts = []string{"-preset", "veryfast", "-async_depth", "1", "-vf", scale}
	}

	args := baseArgs()
	args = append(args,
		"-f", "x11grab", "-framerate", strconv.Itoa(s.FPS), "-draw_mouse", "0",
		"-video_size", srcW+"x"+srcH, "-i", input,
		"-c:v", codec,
	)
	args = append(args, opts...)
	args = append(args, bitrateArgs(s.BitrateKbps)...)
	args = append(args, "-g", strconv.Itoa(s.FPS), "-bf", "0")
	args = append(args, tagArgs()...)
	args = append(args, "-f", "h264", "-")

	return Plan{
		Command: Command{Path: s.FFmpeg, Args: args},
		Mode:    ModeEncoded,
		Codec:   codec,
	}, nil
}

func bitrateArgs(kbps int) []string {
	if kbps <= 0 {
		return nil
	}
	buf := kbps / 10
	if buf < 1 {
		buf = 1
	}
	return []string{
		"-b:v", strconv.Itoa(kbps) + "k",
		"-maxrate", strconv.Itoa(kbps) + "k",
		"-bufsize", strconv.Itoa(buf) + "k",
	}
}

func audioBitrate(kbps int) string {
	if kbps <= 0 {
		kbps = 128
	}
	return strconv.Itoa(kbps) + "k"
}

// opusArgs encodes to Opus in Ogg with one 20 ms packet per page.
func opusArgs(kbps int) []string {
	return []string{
		"-ac", "2", "-ar", "48000",
		"-c:a", "libopus", "-b:a", audioBitrate(kbps),
		"-vbr", "on", "-compression_level", "10", "-frame_duration", "20",
		"-application", "lowdelay",
	}
}

func oggOut() []string {
	return []string{"-f", "ogg", "-page_duration", "20000", "-flush_packets", "1", "-"}
}

func linuxAudio(s Spec) Plan {
	device := s.AudioDevice
	if device == "" {
		device = "default"
	}
	latency := "10"
	if s.UltraLowLatency || s.AudioGPU {
		latency = "1"
	}
	args := baseArgs()
	args = append(args, "-f", "pulse", "-i", device)
	args = append(args, opusArgs(s.AudioBitrateKbps)...)
	args = append(args, tagArgs()...)
	args = append(args, oggOut()...)
	return Plan{
		Command: Command{
			Path: s.FFmpeg,
			Args: args,
			Env:  []string{"PULSE_LATENCY_MSEC=" + latency},
		},
		Mode:  ModeEncoded,
		Codec: "libopus",
	}
}

func windowsVideo(s Spec) Plan {
	args := baseArgs()
	if strings.EqualFold(s.Encoder, "gdigrab") {
		args = append(args, "-f", "gdigrab", "-framerate", strconv.Itoa(s.FPS), "-i", "desktop",
			"-vf", fmt.Sprintf("scale=%d:%d,format=yuv420p", s.Width, s.Height))
	} else {
		args = append(args, "-f", "lavfi",
			"-i", fmt.Sprintf("ddagrab=framerate=%d,hwdownload,format=bgra", s.FPS),
			"-vf", fmt.Sprintf("scale=%d:%d,format=yuv420p", s.Width, s.Height))
	}
	args = append(args, tagArgs()...)
	args = append(args, "-c:v", "rawvideo", "-f", "rawvideo", "-")
	return Plan{
		Command: Command{Path: s.FFmpeg, Args: args},
		Mode:    ModeRaw,
	}
}

func windowsAudio(s Spec) Plan {
	device := s.AudioDevice
	if device == "" || device == "default" {
		device = "virtual-audio-capturer"
	}
	args := baseArgs()
	args = append(args,
		"-f", "dshow", "-audio_buffer_size", "10", "-i", "audio="+device,
		"-ac", "2", "-ar", "48000",
	)
	args = append(args, tagArgs()...)
	args = append(args, "-c:a", "pcm_s16le", "-f", "s16le", "-")
	return Plan{
		Command: Command{Path: s.FFmpeg, Args: args},
		Mode:    ModeRaw,
	}
}

func darwinVideo(s Spec) Plan {
	screen := s.Display
	if screen == "" {
		screen = "1"
	}
	args := baseArgs()
	args = append(args,
		"-f", "avfoundation", "-framerate", strconv.Itoa(s.FPS), "-capture_cursor", "0",
		"-i", screen+":none",
		"-vf", fmt.Sprintf("scale=%d:%d,format=yuv420p", s.Width, s.Height),
		"-c:v", "h264_videotoolbox", "-realtime", "1", "-prio_speed", "1",
	)
	args = append(args, bitrateArgs(s.BitrateKbps)...)
	args = append(args, "-g", strconv.Itoa(s.FPS), "-bf", "0")
	args = append(args, tagArgs()...)
	args = append(args, "-f", "h264", "-")
	return Plan{
		Command: Command{Path: s.FFmpeg, Args: args},
		Mode:    ModeEncoded,
		Codec:   "h264_videotoolbox",
	}
}

func darwinAudio(s Spec) Plan {
	device := s.AudioDevice
	if device == "" || device == "default" {
		device = "0"
	}
	args := baseArgs()
	args = append(args, "-f", "avfoundation", "-i", "none:"+device)
	args = append(args, opusArgs(s.AudioBitrateKbps)...)
	args = append(args, tagArgs()...)
	args = append(args, oggOut()...)
	return Plan{
		Command: Command{Path: s.FFmpeg, Args: args},
		Mode:    ModeEncoded,
		Codec:   "libopus",
	}
}
