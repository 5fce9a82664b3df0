package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/neon/internal/api"
	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/config"
	"github.com/junsooki/neon/internal/encoder"
	"github.com/junsooki/neon/internal/input"
	"github.com/junsooki/neon/internal/memguard"
	"github.com/junsooki/neon/internal/metrics"
	"github.com/junsooki/neon/internal/peer"
	"github.com/junsooki/neon/internal/permissions"
)

func main() {
	cfg, err := config.ParseHostFlags(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	log.Info("neon host starting",
		"port", cfg.Port,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"bitrate_kbps", cfg.Bitrate,
		"encoder", cfg.Encoder,
		"net_limit_mbps", cfg.NetLimit,
		"mem_limit_mb", cfg.MemLimit,
	)

	if !permissions.Report(permissions.Preflight(cfg.FFmpeg), log) {
		log.Warn("preflight incomplete; sessions may fail to capture or relay input")
	}
	capture.CleanupOrphans(ctx, log)
	memguard.ApplyLimits(cfg.MemLimitBytes(), log)

	tuning, err := cfg.Tuning()
	if err != nil {
		log.Error("invalid process tuning", "error", err)
		os.Exit(2)
	}
	if !tuning.IsZero() {
		if err := capture.ApplyTuning(0, tuning); err != nil {
			log.Warn("process tuning not applied", "error", err)
		} else {
			log.Info("process tuning applied", "priority", cfg.ProcessPriority, "cpus", tuning.CPUs)
		}
	}

	audioDevice := cfg.AudioDevice
	var screenW, screenH int
	if runtime.GOOS == "linux" {
		if audioDevice == "" {
			audioDevice = capture.FindAudioMonitor(ctx)
			log.Info("audio source selected", "device", audioDevice)
		}
		if w, h, ok := capture.DisplaySize(ctx, cfg.Display); ok {
			screenW, screenH = w, h
			log.Info("display geometry", "size", fmt.Sprintf("%dx%d", w, h))
		} else {
			log.Warn("display geometry unknown; grabbing at output size", "size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
	}

	m := metrics.New()
	settings := encoder.NewSettings(cfg.EncoderConfig())

	iceServers := peer.ICEServers
	if urls, useDefault := cfg.STUNServers(); !useDefault {
		iceServers = nil
		if len(urls) > 0 {
			iceServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}

	sessions, err := peer.NewManager(peer.Options{
		Settings: settings,
		Media: peer.CaptureMedia(settings, peer.CaptureOptions{
			FFmpeg:          cfg.FFmpeg,
			Region:          cfg.Region,
			Display:         cfg.Display,
			AudioDevice:     audioDevice,
			RenderNode:      cfg.RenderNode,
			ScreenWidth:     screenW,
			ScreenHeight:    screenH,
			Tuning:          tuning,
			Observer:        m,
			EncoderObserver: m,
			Logger:          log,
		}),
		Injector:   input.NewLogInjector(log),
		Recorder:   m,
		ICEServers: iceServers,
		Logger:     log,
	})
	if err != nil {
		log.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}

	guard := memguard.New(memguard.Options{
		Limit:    cfg.MemLimitBytes(),
		Shedder:  sessions,
		Recorder: m,
		Logger:   log,
	})

	srv := api.New(api.Options{
		Sessions:  sessions,
		Memory:    guard,
		Recorder:  m,
		StaticDir: cfg.StaticDir,
		Logger:    log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return guard.Run(ctx)
	})
	g.Go(func() error {
		return srv.Serve(ctx, cfg.Addr())
	})
	g.Go(func() error {
		<-ctx.Done()
		sessions.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("neon host stopped")
}
