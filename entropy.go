// entropy.go: Shannon byte-entropy analysis module
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"io"
	"math"
)

// Module identity. ModuleName is also the source name stamped on every
// attribute the module posts.
const (
	ModuleName    = "EntropyModule"
	ModuleVersion = "1.0.0"
)

// fileBufferSize is the capacity of the read buffer Run cycles file content
// through. Together with the 256-entry histogram it bounds the working
// memory of a run regardless of file size.
const fileBufferSize = 8192

// EntropyModule computes the Shannon byte entropy of a file's content and
// posts the result to the host blackboard as a single attribute.
//
// Entropy is measured in bits per byte over the range [0, 8]: a file of one
// repeated byte scores 0, uniformly random content scores 8. The value is a
// cheap signal for triage; deciding what a given score means (compressed,
// encrypted, packed) is left to the consumers of the attribute.
//
// The module is stateless across runs: every Run builds its histogram and
// counters on the stack, so one module value can analyze distinct files on
// distinct goroutines concurrently.
//
// Example usage:
//
//	module := NewEntropyModule(logger)
//	module.Initialize("")
//
//	blackboard := NewBlackboard()
//	file := NewReaderFile(42, bytes.NewReader(content), blackboard)
//	if module.Run(file) == StatusOK {
//	    attrs := blackboard.Attributes(42)
//	    fmt.Printf("entropy: %.4f bits/byte\n", attrs[0].Value)
//	}
//
//	module.Finalize()
type EntropyModule struct {
	logger Logger
	stats  *ModuleStats
}

// NewEntropyModule creates an entropy module that logs diagnostics through
// the given logger. Pass nil for silent operation.
func NewEntropyModule(logger any) *EntropyModule {
	return &EntropyModule{
		logger: NewLogger(logger),
		stats:  NewModuleStats(),
	}
}

// Info implements AnalysisModule.
func (m *EntropyModule) Info() ModuleInfo {
	return ModuleInfo{
		Name:           ModuleName,
		Version:        ModuleVersion,
		Description:    "Computes the Shannon byte entropy of file content",
		Author:         "AGILira",
		AttributeKinds: []AttributeKind{AttributeEntropy},
	}
}

// Initialize implements AnalysisModule. The arguments string is accepted
// for contract compatibility; the module takes no configuration.
func (m *EntropyModule) Initialize(arguments string) ModuleStatus {
	m.logger.Debug("Entropy module initialized", "module", ModuleName, "arguments", arguments)
	return StatusOK
}

// Run implements AnalysisModule. It reads the whole file through a fixed
// buffer, reduces the byte histogram to bits-per-byte entropy, and posts
// one AttributeEntropy attribute through the file handle.
//
// Every failure, a nil handle, a host read or post error, an empty file, or
// a recovered panic, is translated into a single Error log line and
// StatusFail. Run never returns StatusStop: no per-file condition justifies
// halting the rest of the pipeline.
func (m *EntropyModule) Run(file File) ModuleStatus {
	m.stats.RunStarted()

	if file == nil {
		err := NewNilFileError()
		m.logger.Error("Entropy analysis failed", "module", ModuleName, "error", err.Error())
		m.stats.RunFailed()
		return StatusFail
	}

	if err := m.analyze(file); err != nil {
		m.logger.Error("Entropy analysis failed",
			"module", ModuleName,
			"file_id", file.ID(),
			"framework_error", IsFrameworkError(err),
			"error", err.Error())
		m.stats.RunFailed()
		return StatusFail
	}

	m.stats.RunSucceeded()
	return StatusOK
}

// Finalize implements AnalysisModule. Initialize acquires nothing, so there
// is nothing to release.
func (m *EntropyModule) Finalize() ModuleStatus {
	m.logger.Debug("Entropy module finalized", "module", ModuleName)
	return StatusOK
}

// Stats returns a point-in-time copy of the module's run counters.
func (m *EntropyModule) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// analyze performs one entropy run against a non-nil file. A recovered
// panic surfaces as an ordinary error so Run's translator handles crashes
// and failures uniformly.
func (m *EntropyModule) analyze(file File) (err error) {
	fileID := file.ID()

	defer func() {
		if r := recover(); r != nil {
			err = NewRunPanicError(fileID, r)
		}
	}()

	histogram, total, err := readHistogram(file, fileID)
	if err != nil {
		return err
	}
	m.stats.AddBytes(int64(total))

	if total == 0 {
		return NewEmptyFileError(fileID)
	}

	entropy := shannonEntropy(&histogram, total)

	attr := NewAttribute(AttributeEntropy, ModuleName, "", entropy)
	if perr := file.AddGenInfoAttribute(attr); perr != nil {
		return NewAttributePostError(fileID, perr)
	}

	m.logger.Debug("Entropy computed",
		"file_id", fileID,
		"bytes", total,
		"entropy", entropy)
	return nil
}

// readHistogram streams the file through a fixed-size buffer and counts
// occurrences per byte value. A short read is a valid chunk, never retried;
// io.EOF ends the stream, with or without a final chunk. Byte values index
// the histogram directly, so the high bit of a byte can never turn into a
// negative index.
func readHistogram(file File, fileID int64) (histogram [256]uint64, total uint64, err error) {
	buf := make([]byte, fileBufferSize)
	for {
		n, rerr := file.Read(buf)
		if n < 0 {
			// Broken Read implementations must not crash the run.
			return histogram, total, NewNegativeReadError(fileID, n)
		}
		for _, b := range buf[:n] {
			histogram[b]++
		}
		total += uint64(n)

		if rerr == io.EOF {
			return histogram, total, nil
		}
		if rerr != nil {
			return histogram, total, NewFileReadError(fileID, rerr)
		}
	}
}

// shannonEntropy reduces a byte histogram to bits of entropy per byte:
// E = -Σ p·log₂(p) over the occupied bins, with p the bin count over
// total. Empty bins contribute nothing (p·log₂(p) tends to 0 with p), so
// they are skipped rather than special-cased. The result lies in [0, 8] up
// to floating-point rounding and is not clamped. total must be non-zero.
func shannonEntropy(histogram *[256]uint64, total uint64) float64 {
	entropy := 0.0
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
