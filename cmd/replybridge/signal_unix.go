//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that stop the bridge.
// SIGTERM comes from process managers such as systemd; SIGHUP from a closed terminal.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
