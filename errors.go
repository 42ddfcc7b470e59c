// errors.go: structured error definitions for the entropy module system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the entropy module system
const (
	// Module contract errors (1000-1099)
	ErrCodeInvalidModuleName = "MODULE_1001"
	ErrCodeNilFileHandle     = "MODULE_1002"
	ErrCodeEmptyFile         = "MODULE_1003"
	ErrCodeNegativeRead      = "MODULE_1004"
	ErrCodeRunPanic          = "MODULE_1005"

	// Host framework errors (1300-1399)
	// Failures of capabilities the host provides to the module: the file
	// handle's read channel and the blackboard post channel.
	ErrCodeFileRead      = "FRAMEWORK_1301"
	ErrCodeAttributePost = "FRAMEWORK_1302"

	// Manifest errors (1700-1799)
	ErrCodeManifestParse      = "MANIFEST_1701"
	ErrCodeManifestValidation = "MANIFEST_1702"
	ErrCodeManifestPath       = "MANIFEST_1703"

	// Registry errors (1900-1999)
	ErrCodeDuplicateModule = "REGISTRY_1901"
	ErrCodeModuleNotFound  = "REGISTRY_1902"

	// Serve and stream errors (2000-2099)
	ErrCodeServeState      = "SERVE_2001"
	ErrCodeServeListen     = "SERVE_2002"
	ErrCodeStreamProtocol  = "SERVE_2003"
	ErrCodeStreamTransport = "SERVE_2004"
	ErrCodeRemoteDial      = "SERVE_2005"
)

// Module contract error constructors

func NewInvalidModuleNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidModuleName, "Invalid module name").
		WithUserMessage("Module name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewNilFileError() *errors.Error {
	return errors.New(ErrCodeNilFileHandle, "Nil file handle").
		WithUserMessage("Run was called without a file to analyze").
		WithSeverity("error")
}

func NewEmptyFileError(fileID int64) *errors.Error {
	return errors.New(ErrCodeEmptyFile, "Empty file").
		WithUserMessage("The file has no content to analyze").
		WithContext("file_id", fileID).
		WithSeverity("warning")
}

func NewNegativeReadError(fileID int64, count int) *errors.Error {
	return errors.New(ErrCodeNegativeRead, "Negative read count").
		WithUserMessage("The file handle returned a negative byte count").
		WithContext("file_id", fileID).
		WithContext("count", count).
		WithSeverity("error")
}

func NewRunPanicError(fileID int64, recovered interface{}) *errors.Error {
	return errors.New(ErrCodeRunPanic, fmt.Sprintf("Run panicked: %v", recovered)).
		WithUserMessage("The module hit an unexpected runtime failure").
		WithContext("file_id", fileID).
		WithSeverity("error")
}

// Host framework error constructors

func NewFileReadError(fileID int64, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFileRead, "File read failed: "+cause.Error()).
		WithUserMessage("Reading file content from the host failed").
		WithContext("file_id", fileID).
		WithSeverity("error")
}

func NewAttributePostError(fileID int64, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAttributePost, "Attribute post failed: "+cause.Error()).
		WithUserMessage("Posting the result attribute to the blackboard failed").
		WithContext("file_id", fileID).
		WithSeverity("error")
}

// Manifest error constructors

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Manifest parse error").
		WithUserMessage("Failed to parse module manifest as JSON or YAML").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewManifestValidationError(message string) *errors.Error {
	return errors.New(ErrCodeManifestValidation, "Manifest validation error: "+message).
		WithUserMessage("Module manifest validation failed").
		WithSeverity("error")
}

func NewManifestPathError(path string, message string) *errors.Error {
	return errors.New(ErrCodeManifestPath, "Manifest path error: "+message).
		WithUserMessage("Invalid module manifest path").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

// Registry error constructors

func NewDuplicateModuleError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicateModule, "Duplicate module name").
		WithUserMessage("Module names must be unique within a registry").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeModuleNotFound, "Module not found").
		WithUserMessage("The requested module is not registered").
		WithContext("module_name", name).
		WithSeverity("error")
}

// Serve and stream error constructors

func NewServeStateError(message string) *errors.Error {
	return errors.New(ErrCodeServeState, "Serve state error: "+message).
		WithUserMessage("Module server lifecycle operation is not valid now").
		WithSeverity("error")
}

func NewServeListenError(address string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeServeListen, "Listen failed").
		WithUserMessage("Module server could not bind its listen address").
		WithContext("address", address).
		WithSeverity("error")
}

func NewStreamProtocolError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeStreamProtocol, "Stream protocol error: "+message).
			WithUserMessage("The run stream carried an unexpected frame").
			WithSeverity("error")
	}
	return errors.New(ErrCodeStreamProtocol, "Stream protocol error: "+message).
		WithUserMessage("The run stream carried an unexpected frame").
		WithSeverity("error")
}

func NewStreamTransportError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStreamTransport, "Stream transport error: "+message).
		WithUserMessage("Communication with the remote module failed").
		WithSeverity("error").
		AsRetryable()
}

func NewRemoteDialError(endpoint string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRemoteDial, "Remote module dial failed").
		WithUserMessage("Failed to establish a connection to the module server").
		WithContext("endpoint", endpoint).
		WithSeverity("error").
		AsRetryable()
}

// Error classification helpers
//
// The run pipeline distinguishes two families of failure: framework errors,
// raised when a host-provided capability (file read, attribute post) fails,
// and general errors for everything else, recovered panics included. Both
// end a run with StatusFail; the distinction only changes the diagnostic.

// IsFrameworkError reports whether err originated in a host capability.
func IsFrameworkError(err error) bool {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return strings.HasPrefix(string(e.Code), "FRAMEWORK_")
	}
	return false
}

// IsGeneralRunError reports whether err originated in the module's own run
// logic, recovered panics included, rather than in a host capability.
func IsGeneralRunError(err error) bool {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return strings.HasPrefix(string(e.Code), "MODULE_")
	}
	return false
}

// ErrorCodeOf extracts the structured error code from err, or the empty
// string when err carries no code.
func ErrorCodeOf(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return string(e.Code)
	}
	return ""
}
