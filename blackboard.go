// blackboard.go: In-memory blackboard for collecting posted attributes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"sync"
)

// AttributeSink receives attributes posted through a file handle. Host
// pipelines route File.AddGenInfoAttribute calls to their blackboard
// implementation via this interface; persistence and querying beyond that
// stay on the host side.
type AttributeSink interface {
	// PostGenInfo records one attribute against the given file identifier.
	PostGenInfo(fileID int64, attr Attribute) error
}

// Blackboard is an in-memory AttributeSink keyed by file identifier.
//
// It is the reference sink used by tests, examples, and hosts that keep
// results in process. All methods are safe for concurrent use, so modules
// running distinct files on distinct goroutines may share one Blackboard.
type Blackboard struct {
	mu         sync.RWMutex
	attributes map[int64][]Attribute
}

// NewBlackboard creates an empty in-memory blackboard.
func NewBlackboard() *Blackboard {
	return &Blackboard{
		attributes: make(map[int64][]Attribute),
	}
}

// PostGenInfo implements AttributeSink.
func (b *Blackboard) PostGenInfo(fileID int64, attr Attribute) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attributes[fileID] = append(b.attributes[fileID], attr)
	return nil
}

// Attributes returns a copy of the attributes recorded for a file, in
// posting order. The copy keeps callers from observing later posts.
func (b *Blackboard) Attributes(fileID int64) []Attribute {
	b.mu.RLock()
	defer b.mu.RUnlock()

	attrs := b.attributes[fileID]
	out := make([]Attribute, len(attrs))
	copy(out, attrs)
	return out
}

// Len returns the total number of attributes recorded across all files.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, attrs := range b.attributes {
		total += len(attrs)
	}
	return total
}
