package peer

import (
	"testing"

	"github.com/junsooki/neon/internal/capture"
	"github.com/junsooki/neon/internal/encoder"
)

func TestCaptureMedia(t *testing.T) {
	tests := []struct {
		os        string
		wantVideo string
		wantMode  capture.Mode
	}{
		{"linux", "libx264", capture.ModeEncoded},
		{"windows", "libx264", capture.ModeRaw},
		{"darwin", "h264_videotoolbox", capture.ModeEncoded},
	}
	for _, tt := range tests {
		t.Run(tt.os, func(t *testing.T) {
			settings := encoder.NewSettings(encoder.Config{
				VideoBitrate: 10_000_000, AudioBitrate: 128_000,
				Encoder: "cpu", Width: 1280, Height: 720, FPS: 60,
			})
			factory := CaptureMedia(settings, CaptureOptions{OS: tt.os, Logger: discardLogger()})
			md, err := factory("abcd1234")
			if err != nil {
				t.Fatal(err)
			}
			defer md.Stop()

			track, ok := md.Video.Source.(*capture.Track)
			if !ok {
				t.Fatalf("video source is %T", md.Video.Source)
			}
			if track.Mode() != tt.wantMode || track.Kind() != capture.KindVideo {
				t.Errorf("video track = %v/%v", track.Kind(), track.Mode())
			}
			if got := md.Video.Encoder.Codec(); got != tt.wantVideo {
				t.Errorf("video codec = %q, want %q", got, tt.wantVideo)
			}
			if md.Audio.Source.Kind() != capture.KindAudio {
				t.Errorf("audio kind = %v", md.Audio.Source.Kind())
			}
			if gov, ok := md.Video.Encoder.(*encoder.Governor); !ok || gov.Applied() != 10_000_000 {
				t.Errorf("video encoder not governed: %T", md.Video.Encoder)
			}
			if track.Running() {
				t.Error("capture started before the first Receive")
			}
		})
	}
}

func TestCaptureMediaRejectsPlatform(t *testing.T) {
	settings := encoder.NewSettings(encoder.Config{Width: 2, Height: 2, FPS: 30})
	if _, err := CaptureMedia(settings, CaptureOptions{OS: "plan9", Logger: discardLogger()})("x"); err == nil {
		t.Error("unsupported platform accepted")
	}
}
