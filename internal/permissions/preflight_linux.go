package permissions

import (
	"os"

	"golang.org/x/sys/unix"
)

const uinputPath = "/dev/uinput"

var (
	getenv = os.Getenv
	access = unix.Access
)

func screenCheck() Check {
	if d := getenv("DISPLAY"); d != "" {
		return Check{Name: "screen", OK: true, Detail: "X11 display " + d}
	}
	if getenv("WAYLAND_DISPLAY") != "" {
		return Check{Name: "screen", Detail: "Wayland session without DISPLAY; x11grab needs XWayland"}
	}
	return Check{Name: "screen", Detail: "DISPLAY is not set"}
}

func inputCheck() Check {
	if err := access(uinputPath, unix.W_OK); err != nil {
		return Check{Name: "input", Detail: uinputPath + ": " + err.Error()}
	}
	return Check{Name: "input", OK: true, Detail: uinputPath + " writable"}
}
