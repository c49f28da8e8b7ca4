// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tapbeat/cmd"
	"tapbeat/internal/log"
	"tapbeat/pkg/build"
)

// main runs in three phases:
//
// 1. Startup: build information, flags and configuration.
// 2. Capture: the selected command runs until it finishes or a signal
// arrives. Onsets are produced on the session's own goroutine.
// 3. Shutdown: the session is stopped, transports closed and the audio
// host released, in that order.
func main() {
	if err := build.Initialize(); err != nil {
		log.Fatalf("Build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
