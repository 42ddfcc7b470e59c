// file.go: File handle adapter over io.Reader sources
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"io"
)

// ReaderFile adapts an io.Reader into a File handle. It binds the reader
// to a host-assigned identifier and routes attribute posts to an
// AttributeSink, which is how hosts hand on-disk files, image slices, or
// in-memory content to a module without exposing the backing store.
type ReaderFile struct {
	id     int64
	reader io.Reader
	sink   AttributeSink
}

// NewReaderFile creates a file handle with the given identifier that reads
// from r and posts attributes to sink. A nil sink discards posts, which is
// convenient for probing a module without collecting results.
func NewReaderFile(id int64, r io.Reader, sink AttributeSink) *ReaderFile {
	return &ReaderFile{
		id:     id,
		reader: r,
		sink:   sink,
	}
}

// ID implements File.
func (f *ReaderFile) ID() int64 {
	return f.id
}

// Read implements File by delegating to the wrapped reader.
func (f *ReaderFile) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

// AddGenInfoAttribute implements File by posting to the bound sink.
func (f *ReaderFile) AddGenInfoAttribute(attr Attribute) error {
	if f.sink == nil {
		return nil
	}
	return f.sink.PostGenInfo(f.id, attr)
}
