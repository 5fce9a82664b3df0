package capture

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const queryTimeout = 3 * time.Second

// runOutput is swapped in tests.
var runOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FindAudioMonitor picks a PulseAudio source that records system output: the
// default sink's monitor when present, else the first monitor source, else
// "default".
func FindAudioMonitor(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sources, err := runOutput(ctx, "pactl", "list", "sources", "short")
	if err != nil {
		return "default"
	}
	names := sourceNames(string(sources))

	if sink, err := runOutput(ctx, "pactl", "get-default-sink"); err == nil {
		if s := strings.TrimSpace(string(sink)); s != "" {
			monitor := s + ".monitor"
			for _, n := range names {
				if n == monitor {
					return monitor
				}
			}
		}
	}
	for _, n := range names {
		if strings.HasSuffix(n, ".monitor") {
			return n
		}
	}
	return "default"
}

// sourceNames extracts the name column of `pactl list sources short`.
func sourceNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names
}

// DisplaySize reports the geometry of an X display, asking xdpyinfo first
// and xrandr second. ok is false when neither answers.
func DisplaySize(ctx context.Context, display string) (w, h int, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	display = x11Display(display)
	if out, err := runOutput(ctx, "xdpyinfo", "-display", display); err == nil {
		if w, h, ok := parseXdpyinfo(string(out)); ok {
			return w, h, true
		}
	}
	if out, err := runOutput(ctx, "xrandr", "--display", display, "--current"); err == nil {
		if w, h, ok := parseXrandr(string(out)); ok {
			return w, h, true
		}
	}
	return 0, 0, false
}

// parseXdpyinfo reads "dimensions:    2560x1440 pixels (677x381 millimeters)".
func parseXdpyinfo(out string) (w, h int, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "dimensions:" {
			return parseSize(fields[1])
		}
	}
	return 0, 0, false
}

// parseXrandr reads "Screen 0: minimum 8 x 8, current 2560 x 1440, maximum ...".
func parseXrandr(out string) (w, h int, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		_, rest, found := strings.Cut(line, "current ")
		if !found {
			continue
		}
		size, _, _ := strings.Cut(rest, ",")
		return parseSize(strings.ReplaceAll(size, " ", ""))
	}
	return 0, 0, false
}

func parseSize(s string) (w, h int, ok bool) {
	ws, hs, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// CleanupOrphans kills capture processes left behind by an earlier run.
// Failures are logged and otherwise ignored.
func CleanupOrphans(ctx context.Context, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var err error
	if runtime.GOOS == "windows" {
		_, err = runOutput(ctx, "taskkill", "/F", "/IM", "ffmpeg.exe", "/T")
	} else {
		_, err = runOutput(ctx, "pkill", "-f", "ffmpeg.*"+ProcessTag)
	}
	if err != nil {
		// pkill exits 1 when nothing matched.
		log.Debug("orphan cleanup", "err", err)
		return
	}
	log.Info("killed orphan capture processes")
}
