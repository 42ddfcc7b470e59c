// attribute.go: Blackboard attribute model for analysis results
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"time"

	"github.com/agilira/go-timecache"
)

// AttributeKind tags an attribute with its well-known meaning on the
// blackboard. The kind vocabulary is open: hosts and modules may agree on
// additional kinds, but consumers match on the tag, never on the source.
type AttributeKind string

// AttributeEntropy is the well-known kind for Shannon byte-entropy results,
// measured in bits per byte over the range [0, 8].
const AttributeEntropy AttributeKind = "ENTROPY"

// Attribute is a single analysis result posted to the host blackboard.
//
// The identifying tuple is (Kind, Source, Context, Value): Kind says what
// the value means, Source names the module that computed it, Context
// optionally narrows the meaning within the kind, and Value carries the
// numeric result. CreatedAt is bookkeeping metadata stamped at construction
// and is not part of the identifying tuple.
type Attribute struct {
	Kind      AttributeKind `json:"kind"`
	Source    string        `json:"source"`
	Context   string        `json:"context"`
	Value     float64       `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewAttribute builds an attribute with the creation timestamp stamped from
// the timecache, keeping attribute construction cheap on the analysis hot
// path.
func NewAttribute(kind AttributeKind, source, context string, value float64) Attribute {
	return Attribute{
		Kind:      kind,
		Source:    source,
		Context:   context,
		Value:     value,
		CreatedAt: timecache.CachedTime(),
	}
}
