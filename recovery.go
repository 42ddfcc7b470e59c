// recovery.go: panic recovery for server goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"runtime"
)

// withStackRecover returns a panic recovery function that logs panic
// details including the full stack trace. The serving layer guards its
// goroutines with it so a crash surfaces in the host's logs instead of
// killing the process.
//
// The returned function should be called with defer:
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// SafeGo executes a function in a new goroutine with automatic panic
// recovery. If fn panics, the panic is logged and the goroutine terminates
// without crashing the application.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}
