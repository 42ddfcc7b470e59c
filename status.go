// status.go: Common data types and structures for the analysis module contract
//
// This file contains the shared data type definitions used throughout the
// module contract. These types represent the status enumeration and metadata
// models exchanged between the host pipeline and analysis modules. Keeping
// them separate from the interface definitions improves code organization
// and maintainability.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

// ModuleStatus represents the outcome of a module lifecycle operation.
//
// Status values tell the host pipeline how a call to Initialize, Run or
// Finalize ended and whether processing should continue:
//   - StatusOK: The operation completed successfully
//   - StatusFail: The operation failed for this call only; the host may
//     continue with the next file or module
//   - StatusStop: The module requests that the host stop the whole pipeline
//
// Analysis modules that only inspect file content, such as the entropy
// module, report StatusOK or StatusFail and never StatusStop: a problem
// with one file is never a reason to halt processing of the others.
type ModuleStatus int

const (
	StatusOK ModuleStatus = iota
	StatusFail
	StatusStop
)

// String returns a human-readable representation of the module status.
func (s ModuleStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFail:
		return "fail"
	case StatusStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseModuleStatus converts the string form produced by String back into
// a ModuleStatus. Unrecognized input maps to StatusFail so that a corrupt
// status frame from a remote module is never mistaken for success.
func ParseModuleStatus(s string) ModuleStatus {
	switch s {
	case "ok":
		return StatusOK
	case "stop":
		return StatusStop
	default:
		return StatusFail
	}
}

// ModuleInfo contains metadata about an analysis module.
//
// This structure provides essential information about a module's identity
// and the attribute kinds it publishes. It's used for module registration,
// manifest generation, and operational visibility.
//
// Fields:
//   - Name: Unique identifier for the module; also the source name stamped
//     on every attribute the module posts
//   - Version: Module version for compatibility and update management
//   - Description: Human-readable description of what the module computes
//   - Author: Module developer/maintainer information
//   - AttributeKinds: Kind tags of the attributes the module may post
//
// Example:
//
//	info := module.Info()
//	fmt.Printf("Module: %s v%s by %s\n", info.Name, info.Version, info.Author)
type ModuleInfo struct {
	Name           string          `json:"name" yaml:"name"`
	Version        string          `json:"version" yaml:"version"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty"`
	Author         string          `json:"author,omitempty" yaml:"author,omitempty"`
	AttributeKinds []AttributeKind `json:"attribute_kinds,omitempty" yaml:"attribute_kinds,omitempty"`
}
