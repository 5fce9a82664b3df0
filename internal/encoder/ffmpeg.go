package encoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/junsooki/neon/internal/capture"
)

// knobs lists the options each backend family accepts.
var knobs = map[Family][]string{
	FamilyX264:    {"b", "minrate", "maxrate", "bufsize", "g", "bf", "preset", "tune", "profile", "threads", "x264-params"},
	FamilyVAAPI:   {"b", "maxrate", "bufsize", "g", "bf", "rc_mode", "filler_data", "quality", "async_depth"},
	FamilyNVENC:   {"b", "minrate", "maxrate", "bufsize", "g", "bf", "preset", "tune", "rc", "forced-idr", "delay", "zerolatency", "rc-lookahead", "cbr_padding"},
	FamilyAMF:     {"b", "maxrate", "bufsize", "g", "bf", "usage", "quality", "rc", "filler_data"},
	FamilyQSV:     {"b", "maxrate", "bufsize", "g", "bf", "preset", "async_depth", "look_ahead"},
	FamilyVPX:     {"b", "minrate", "maxrate", "g", "deadline", "cpu-used", "lag-in-frames", "undershoot-pct", "overshoot-pct", "static-thresh"},
	FamilyOpus:    {"b", "application", "frame_duration"},
	FamilyUnknown: {"b", "minrate", "maxrate", "bufsize"},
}

// FFmpegOptions configures an FFmpeg backend.
type FFmpegOptions struct {
	FFmpeg string
	Codec  string
	Kind   capture.Kind

	Width, Height, FPS int
	SampleRate         int
	Channels           int

	// RenderNode is the DRM device used by VAAPI codecs.
	RenderNode string

	Tuning capture.Tuning

	Logger *slog.Logger
}

// FFmpeg encodes raw frames by piping them through an ffmpeg process. Option
// changes take effect by restarting the process on the next Encode.
type FFmpeg struct {
	opts   FFmpegOptions
	family Family
	log    *slog.Logger

	sup    *capture.Supervisor
	out    *capture.DropQueue
	launch func(capture.Command) capture.Command

	mu     sync.Mutex
	params map[string]string
	order  []string
	dirty  bool
	closed bool
}

// NewFFmpeg creates a backend. The process starts on the first Encode.
func NewFFmpeg(opts FFmpegOptions) (*FFmpeg, error) {
	if opts.Codec == "" {
		return nil, fmt.Errorf("encoder: codec required")
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Kind {
	case capture.KindVideo:
		if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
			return nil, fmt.Errorf("encoder: invalid video format %dx%d@%d", opts.Width, opts.Height, opts.FPS)
		}
	case capture.KindAudio:
		if opts.SampleRate <= 0 {
			opts.SampleRate = 48000
		}
		if opts.Channels <= 0 {
			opts.Channels = 2
		}
	default:
		return nil, fmt.Errorf("encoder: unknown kind %q", opts.Kind)
	}
	if opts.RenderNode == "" {
		opts.RenderNode = capture.DefaultRenderNode
	}

	e := &FFmpeg{
		opts:   opts,
		family: FamilyOf(opts.Codec),
		log:    opts.Logger.With("component", "ffmpeg-encoder", "codec", opts.Codec),
		out:    capture.NewDropQueue(capture.EncodedQueueSize),
		params: make(map[string]string),
		launch: func(c capture.Command) capture.Command { return c },
	}
	e.sup = capture.NewSupervisor("encoder-"+opts.Codec, e.command, e.readOutput, e.log)
	e.sup.SetTuning(opts.Tuning)
	return e, nil
}

func (e *FFmpeg) Codec() string { return e.opts.Codec }

// SetParam stores an option for the next process start. Options the codec
// family does not know return ErrUnsupportedParam.
func (e *FFmpeg) SetParam(name, value string) error {
	if !slices.Contains(knobs[e.family], name) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedParam, name, e.opts.Codec)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old, ok := e.params[name]
	if ok && old == value {
		return nil
	}
	if !ok {
		e.order = append(e.order, name)
	}
	e.params[name] = value
	e.dirty = true
	return nil
}

func (e *FFmpeg) Param(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.params[name]
	return v, ok
}

// command builds the ffmpeg invocation from the current options.
func (e *FFmpeg) command() (capture.Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := []string{"-hide_banner", "-loglevel", "warning"}
	suffix := ":v"
	if e.opts.Kind == capture.KindAudio {
		suffix = ":a"
		args = append(args,
			"-f", "s16le", "-ar", strconv.Itoa(e.opts.SampleRate), "-ac", strconv.Itoa(e.opts.Channels),
			"-i", "-", "-c:a", e.opts.Codec)
	} else {
		if e.family == FamilyVAAPI {
			args = append(args, "-vaapi_device", e.opts.RenderNode)
		}
		args = append(args,
			"-f", "rawvideo", "-pix_fmt", "yuv420p",
			"-s", fmt.Sprintf("%dx%d", e.opts.Width, e.opts.Height),
			"-r", strconv.Itoa(e.opts.FPS),
			"-i", "-")
		if e.family == FamilyVAAPI {
			args = append(args, "-vf", "format=nv12,hwupload")
		}
		args = append(args, "-c:v", e.opts.Codec)
	}
	for _, name := range e.order {
		flag := "-" + name
		if name == ParamBitrate {
			flag += suffix
		}
		args = append(args, flag, e.params[name])
	}
	args = append(args, "-metadata", "comment="+capture.ProcessTag)
	if e.opts.Kind == capture.KindAudio {
		args = append(args, "-f", "ogg", "-page_duration", "20000", "-flush_packets", "1", "-")
	} else {
		args = append(args, "-f", "h264", "-")
	}
	e.dirty = false
	return e.launch(capture.Command{Path: e.opts.FFmpeg, Args: args, Stdin: true}), nil
}

func (e *FFmpeg) readOutput(r io.Reader) {
	var next func() ([]byte, error)
	if e.opts.Kind == capture.KindAudio {
		or, err := capture.NewOpusReader(r)
		if err != nil {
			e.log.Warn("encoder output", "err", err)
			return
		}
		next = or.Next
	} else {
		ar, err := capture.NewAccessUnitReader(r)
		if err != nil {
			e.log.Warn("encoder output", "err", err)
			return
		}
		next = func() ([]byte, error) {
			unit, _, err := ar.Next()
			return unit, err
		}
	}
	for {
		pkt, err := next()
		if err != nil {
			e.log.Debug("encoder output ended", "err", err)
			return
		}
		if len(pkt) > 0 {
			e.out.Push(pkt)
		}
	}
}

// Encode writes one raw frame to the encoder process and returns any packets
// it has produced. Keyframes follow the configured GOP; forceKeyframe
// restarts the process, which opens with an IDR picture.
func (e *FFmpeg) Encode(frame *capture.Frame, forceKeyframe bool) ([][]byte, error) {
	e.mu.Lock()
	closed, dirty := e.closed, e.dirty
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if dirty || forceKeyframe {
		if e.sup.Running() {
			e.log.Info("restarting encoder", "options_changed", dirty, "keyframe", forceKeyframe)
		}
		e.sup.Stop()
	}
	if err := e.sup.EnsureRunning(); err != nil {
		if errors.Is(err, capture.ErrStopped) {
			return nil, ErrClosed
		}
		return nil, err
	}
	stdin := e.sup.Stdin()
	if stdin == nil {
		if e.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("encoder: %s has no input pipe", e.opts.Codec)
	}

	if err := e.write(stdin, frame); err != nil {
		e.sup.Stop()
		if e.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("encoder: write frame: %w", err)
	}
	return e.drain(), nil
}

func (e *FFmpeg) write(w io.Writer, frame *capture.Frame) error {
	switch {
	case frame.Image != nil:
		bw := bufio.NewWriterSize(w, capture.I420Size(e.opts.Width, e.opts.Height))
		if err := capture.WriteI420(bw, frame.Image); err != nil {
			return err
		}
		return bw.Flush()
	case frame.Samples != nil:
		_, err := w.Write(frame.Samples)
		return err
	default:
		return fmt.Errorf("frame carries no raw data")
	}
}

func (e *FFmpeg) drain() [][]byte {
	var pkts [][]byte
	for {
		p, ok := e.out.Pop()
		if !ok {
			return pkts
		}
		pkts = append(pkts, p)
	}
}

func (e *FFmpeg) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close stops the encoder process. An Encode racing Close cannot start a new
// one.
func (e *FFmpeg) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.sup.Close()
	return nil
}

// VideoCodecFor maps a backend selection to the ffmpeg encoder used for raw
// frames.
func VideoCodecFor(backend string) string {
	switch backend {
	case "vaapi":
		return "h264_vaapi"
	case "nvenc", "gpu":
		return "h264_nvenc"
	case "amf":
		return "h264_amf"
	case "qsv":
		return "h264_qsv"
	default:
		return "libx264"
	}
}
