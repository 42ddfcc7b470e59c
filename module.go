// module.go: Core analysis module interfaces
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

// AnalysisModule is the contract between the host pipeline and a file
// analysis module. The host drives the three lifecycle operations: it calls
// Initialize once after loading the module, Run once per file, and Finalize
// once before unloading.
//
// Run takes no context because cancellation is not honoured mid-run; a file
// is small work and the host cancels by failing the next Read on the handle.
// Modules must hold no mutable state across Run calls so the host is free to
// run distinct files on distinct goroutines against the same module value.
type AnalysisModule interface {
	// Info returns metadata about the module
	Info() ModuleInfo

	// Initialize prepares the module for a sequence of Run calls.
	// The arguments string is an opaque host-provided value; modules that
	// take no configuration accept and ignore it.
	Initialize(arguments string) ModuleStatus

	// Run analyzes a single file and posts any resulting attributes
	// through the file handle. Failures are reported as StatusFail and
	// confined to this file; they must not affect later Run calls.
	Run(file File) ModuleStatus

	// Finalize releases anything Initialize acquired. The host calls it
	// exactly once, after the last Run.
	Finalize() ModuleStatus
}

// File is the host-owned handle an analysis module reads a file through.
//
// The backing store is the host's business: a File may wrap an on-disk
// file, an image slice, or a network stream. Modules see only sequential
// bytes, a stable numeric identifier for diagnostics, and a channel for
// posting attributes to the host's blackboard.
type File interface {
	// ID returns the host-assigned identifier for this file. It is stable
	// for the duration of the Run and is only used in diagnostics and
	// blackboard bookkeeping.
	ID() int64

	// Read fills p with up to len(p) bytes of file content and returns the
	// count actually read. It follows io.Reader semantics: a short read is
	// not an error, and io.EOF reports end of content (possibly alongside
	// a final non-zero count).
	Read(p []byte) (int, error)

	// AddGenInfoAttribute posts a single attribute to the host blackboard
	// through the file's generic-information channel.
	AddGenInfoAttribute(attr Attribute) error
}
