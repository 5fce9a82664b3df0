package capture

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// helperCommand re-executes the test binary as a fake ffmpeg running the
// named scenario.
func helperCommand(scenario string, args ...string) CommandFunc {
	return func() (Command, error) {
		argv := append([]string{"-test.run=TestHelperProcess", "--", scenario}, args...)
		return Command{
			Path: os.Args[0],
			Args: argv,
			Env:  []string{"GO_WANT_HELPER_PROCESS=1"},
		}, nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHelperProcess is not a real test; it is the fake capture process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "no scenario")
		os.Exit(2)
	}
	scenario, rest := args[1], args[2:]

	switch scenario {
	case "rawvideo":
		w, _ := strconv.Atoi(rest[0])
		h, _ := strconv.Atoi(rest[1])
		n, _ := strconv.Atoi(rest[2])
		fmt.Fprintln(os.Stderr, "frame dropped while warming up")
		for i := 0; i < n; i++ {
			buf := make([]byte, I420Size(w, h))
			for j := range buf {
				buf[j] = byte(i + 1)
			}
			os.Stdout.Write(buf)
			time.Sleep(40 * time.Millisecond)
		}
		time.Sleep(time.Minute)
	case "rawaudio":
		n, _ := strconv.Atoi(rest[0])
		for i := 0; i < n; i++ {
			buf := make([]byte, PCMSize(480, 2))
			buf[0] = byte(i + 1)
			os.Stdout.Write(buf)
		}
		time.Sleep(time.Minute)
	case "opus":
		ogg, err := oggwriter.NewWith(os.Stdout, 48000, 2)
		if err != nil {
			os.Exit(3)
		}
		for i := 0; i < 3; i++ {
			_ = ogg.WriteRTP(&rtp.Packet{
				Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
				Payload: []byte(fmt.Sprintf("pkt-%d", i)),
			})
		}
		time.Sleep(time.Minute)
	case "exit":
		fmt.Fprintln(os.Stderr, "Error opening input device")
		os.Exit(1)
	case "echo":
		io.Copy(os.Stdout, os.Stdin)
	default:
		fmt.Fprintln(os.Stderr, "unknown scenario", scenario)
		os.Exit(2)
	}
	os.Exit(0)
}
