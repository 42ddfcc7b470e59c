// stats.go: run statistics for analysis modules
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// ModuleStats tracks run counters for one module instance. All counters are
// atomics, so recording stays cheap on the analysis path and safe when the
// host runs files concurrently. The counters are observability metadata
// only and never feed back into run behavior.
type ModuleStats struct {
	runsStarted    atomic.Int64
	runsSucceeded  atomic.Int64
	runsFailed     atomic.Int64
	bytesProcessed atomic.Int64
	lastRunNano    atomic.Int64
}

// NewModuleStats creates a zeroed stats collector.
func NewModuleStats() *ModuleStats {
	return &ModuleStats{}
}

// RunStarted records the start of a run and stamps the last-run time from
// the timecache.
func (s *ModuleStats) RunStarted() {
	s.runsStarted.Add(1)
	s.lastRunNano.Store(timecache.CachedTimeNano())
}

// RunSucceeded records a run that ended with StatusOK.
func (s *ModuleStats) RunSucceeded() {
	s.runsSucceeded.Add(1)
}

// RunFailed records a run that ended with StatusFail.
func (s *ModuleStats) RunFailed() {
	s.runsFailed.Add(1)
}

// AddBytes records file content that passed through the module.
func (s *ModuleStats) AddBytes(n int64) {
	s.bytesProcessed.Add(n)
}

// StatsReporter is implemented by modules that expose run counters. The
// serving layer folds these into its health frames when present.
type StatsReporter interface {
	Stats() StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of module run counters.
type StatsSnapshot struct {
	RunsStarted    int64     `json:"runs_started"`
	RunsSucceeded  int64     `json:"runs_succeeded"`
	RunsFailed     int64     `json:"runs_failed"`
	BytesProcessed int64     `json:"bytes_processed"`
	LastRun        time.Time `json:"last_run,omitempty"`
}

// Snapshot returns a consistent-enough copy of the counters for reporting.
// Counters are read individually, so a snapshot taken mid-run may be ahead
// on RunsStarted relative to the outcome counters.
func (s *ModuleStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		RunsStarted:    s.runsStarted.Load(),
		RunsSucceeded:  s.runsSucceeded.Load(),
		RunsFailed:     s.runsFailed.Load(),
		BytesProcessed: s.bytesProcessed.Load(),
	}
	if nano := s.lastRunNano.Load(); nano != 0 {
		snap.LastRun = time.Unix(0, nano)
	}
	return snap
}
