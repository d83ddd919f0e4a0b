//go:build !windows

package main

import (
	"os"
	"runtime"
)

// browserAvailable reports whether a graphical session can receive an opened URL.
func browserAvailable() bool {
	if runtime.GOOS == "darwin" {
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}
