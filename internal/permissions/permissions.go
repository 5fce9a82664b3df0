package permissions

import (
	"log/slog"
	"os/exec"
)

// Check is the outcome of one preflight probe.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

var lookPath = exec.LookPath

// Preflight probes what the host needs before serving sessions: the ffmpeg
// binary, access to the screen, and a way to deliver input.
func Preflight(ffmpeg string) []Check {
	return []Check{ffmpegCheck(ffmpeg), screenCheck(), inputCheck()}
}

func ffmpegCheck(ffmpeg string) Check {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	path, err := lookPath(ffmpeg)
	if err != nil {
		return Check{Name: "ffmpeg", Detail: err.Error()}
	}
	return Check{Name: "ffmpeg", OK: true, Detail: path}
}

// Report logs every check and reports whether all passed.
func Report(checks []Check, log *slog.Logger) bool {
	ok := true
	for _, c := range checks {
		if c.OK {
			log.Info("preflight", "check", c.Name, "detail", c.Detail)
			continue
		}
		ok = false
		log.Warn("preflight failed", "check", c.Name, "detail", c.Detail)
	}
	return ok
}
