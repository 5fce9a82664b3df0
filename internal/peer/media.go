package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/encoder"
)

// Source produces frames for one media kind. *capture.Track implements it.
type Source interface {
	Kind() capture.Kind
	Receive(ctx context.Context) (*capture.Frame, error)
	Stop()
}

// Pipeline pairs a source with the encoder its frames go through.
type Pipeline struct {
	Source  Source
	Encoder encoder.Encoder
}

func (p Pipeline) stop() error {
	if p.Source != nil {
		p.Source.Stop()
	}
	if p.Encoder != nil {
		return p.Encoder.Close()
	}
	return nil
}

// Media is the track pair of one session.
type Media struct {
	Video Pipeline
	Audio Pipeline
}

// Stop ends both pipelines.
func (m Media) Stop() error {
	return errors.Join(m.Video.stop(), m.Audio.stop())
}

// MediaFactory builds the track pair for a new session.
type MediaFactory func(sessionID string) (Media, error)

// CaptureOptions configures CaptureMedia.
type CaptureOptions struct {
	FFmpeg string
	// OS overrides runtime.GOOS.
	OS string

	Region      string
	Display     string
	AudioDevice string
	RenderNode  string

	// ScreenWidth and ScreenHeight are the detected display geometry; zero
	// grabs at the output size.
	ScreenWidth, ScreenHeight int

	// Tuning is applied to every capture and encoder process.
	Tuning capture.Tuning

	Observer        capture.Observer
	EncoderObserver encoder.Observer
	Logger          *slog.Logger
}

// CaptureMedia returns a factory that starts one capture process per kind
// using the encoder settings current at session creation. Processes launch
// lazily on the first Receive.
func CaptureMedia(settings *encoder.Settings, opts CaptureOptions) MediaFactory {
	if opts.OS == "" {
		opts.OS = runtime.GOOS
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(id string) (Media, error) {
		cfg := settings.Snapshot()
		log := opts.Logger.With("session", id)

		video, err := capturePipeline(settings, cfg, opts, capture.KindVideo, log)
		if err != nil {
			return Media{}, err
		}
		audio, err := capturePipeline(settings, cfg, opts, capture.KindAudio, log)
		if err != nil {
			video.stop()
			return Media{}, err
		}
		return Media{Video: video, Audio: audio}, nil
	}
}

func capturePipeline(settings *encoder.Settings, cfg encoder.Config, opts CaptureOptions, kind capture.Kind, log *slog.Logger) (Pipeline, error) {
	plan, err := capture.BuildPlan(capture.Spec{
		FFmpeg:           opts.FFmpeg,
		OS:               opts.OS,
		Kind:             kind,
		Encoder:          cfg.Encoder,
		Preset:           cfg.Preset,
		Width:            cfg.Width,
		Height:           cfg.Height,
		FPS:              cfg.FPS,
		BitrateKbps:      cfg.VideoBitrate / 1000,
		AudioBitrateKbps: cfg.AudioBitrate / 1000,
		ScreenWidth:      opts.ScreenWidth,
		ScreenHeight:     opts.ScreenHeight,
		Region:           opts.Region,
		Display:          opts.Display,
		AudioDevice:      opts.AudioDevice,
		RenderNode:       opts.RenderNode,
		UltraLowLatency:  cfg.UltraLowLatency,
		BadConnection:    cfg.BadConnection,
		AudioGPU:         cfg.AudioGPU,
	})
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s plan: %w", kind, err)
	}
	log.Debug("capture plan", "kind", kind, "mode", plan.Mode.String(), "codec", plan.Codec, "cmd", plan.Command.String())

	track, err := capture.NewTrack(capture.Config{
		Kind:     kind,
		Mode:     plan.Mode,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FPS:      cfg.FPS,
		Tuning:   opts.Tuning,
		Command:  func() (capture.Command, error) { return plan.Command, nil },
		Observer: opts.Observer,
		Logger:   log,
	})
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s track: %w", kind, err)
	}

	var inner encoder.Encoder
	if plan.Mode == capture.ModeEncoded {
		inner = encoder.NewPassthrough(plan.Codec)
	} else {
		codec := "libopus"
		if kind == capture.KindVideo {
			codec = encoder.VideoCodecFor(cfg.Encoder)
		}
		inner, err = encoder.NewFFmpeg(encoder.FFmpegOptions{
			FFmpeg:     opts.FFmpeg,
			Codec:      codec,
			Kind:       kind,
			Width:      cfg.Width,
			Height:     cfg.Height,
			FPS:        cfg.FPS,
			RenderNode: opts.RenderNode,
			Tuning:     opts.Tuning,
			Logger:     log,
		})
		if err != nil {
			track.Stop()
			return Pipeline{}, fmt.Errorf("%s encoder: %w", kind, err)
		}
	}
	gov := encoder.NewGovernor(inner, settings, encoder.GovernorOptions{
		Kind:     kind,
		Observer: opts.EncoderObserver,
		Logger:   log,
	})
	return Pipeline{Source: track, Encoder: gov}, nil
}
