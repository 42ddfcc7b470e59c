// remote.go: Host-side gRPC client proxy for a served analysis module
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"context"
	stderrors "errors"
	"io"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// runStreamDesc describes the bidirectional Run stream from the client side.
var runStreamDesc = &grpc.StreamDesc{
	StreamName:    "Run",
	ServerStreams: true,
	ClientStreams: true,
}

// remoteCallTimeout bounds the unary lifecycle calls. Run streams carry no
// deadline: analysis takes as long as the file is large, and a run is never
// cancelled mid-file.
const remoteCallTimeout = 30 * time.Second

// RemoteModule is a host-side proxy for a module served by a ModuleServer
// in another process. It implements AnalysisModule, so hosts drive remote
// and in-process modules through the same interface: file content is
// streamed out over gRPC and attributes posted by the remote module are
// re-posted to the local file handle.
type RemoteModule struct {
	endpoint string
	conn     *grpc.ClientConn
	logger   Logger
	info     ModuleInfo

	// Connection management
	closed atomic.Bool
}

// DialModule connects to a module server at endpoint. The remote module's
// identity is fetched on connect; failure to fetch it is logged and leaves
// placeholder info, since the module may still be starting.
//
// The logger argument accepts anything NewLogger does.
func DialModule(endpoint string, logger any) (*RemoteModule, error) {
	log := NewLogger(logger)

	if endpoint == "" {
		return nil, NewRemoteDialError(endpoint, stderrors.New("endpoint is required"))
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxFrameSize),
			grpc.MaxCallSendMsgSize(maxFrameSize),
		),
	)
	if err != nil {
		return nil, NewRemoteDialError(endpoint, err)
	}

	remote := &RemoteModule{
		endpoint: endpoint,
		conn:     conn,
		logger:   log,
		info: ModuleInfo{
			Name:        "remote-module",
			Description: "Remote analysis module at " + endpoint,
		},
	}

	if err := remote.fetchRemoteInfo(); err != nil {
		log.Warn("Failed to fetch remote module info", "endpoint", endpoint, "error", err)
	}

	return remote, nil
}

// DialManifest connects to the module a manifest describes.
func DialManifest(manifest *ModuleManifest, logger any) (*RemoteModule, error) {
	if manifest == nil {
		return nil, NewManifestValidationError("manifest is required")
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return DialModule(manifest.Endpoint, logger)
}

// fetchRemoteInfo populates identity from the remote health frame.
func (r *RemoteModule) fetchRemoteInfo() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := r.Health(ctx)
	if err != nil {
		return err
	}

	if health.Module != "" {
		r.info.Name = health.Module
	}
	r.info.Version = health.Version
	return nil
}

// Info returns what is known about the remote module.
func (r *RemoteModule) Info() ModuleInfo {
	return r.info
}

// Endpoint returns the dialed address.
func (r *RemoteModule) Endpoint() string {
	return r.endpoint
}

// Initialize forwards the Initialize lifecycle call.
func (r *RemoteModule) Initialize(arguments string) ModuleStatus {
	if r.closed.Load() {
		r.logger.Error("Initialize called on closed remote module", "endpoint", r.endpoint)
		return StatusFail
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	reply := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, methodInitialize, wrapperspb.String(arguments), reply); err != nil {
		r.logger.Error("Remote initialize failed", "endpoint", r.endpoint, "error", err)
		return StatusFail
	}
	return statusFromFrame(reply)
}

// Run streams the file to the remote module and applies the results it
// sends back. A transport or protocol failure is logged once and fails the
// run; the next file proceeds independently.
func (r *RemoteModule) Run(file File) ModuleStatus {
	if r.closed.Load() {
		r.logger.Error("Run called on closed remote module", "endpoint", r.endpoint)
		return StatusFail
	}
	if file == nil {
		r.logger.Error("Run called without a file", "endpoint", r.endpoint)
		return StatusFail
	}

	// Cancelling the stream context on exit aborts the exchange if result
	// collection bails out early.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := r.conn.NewStream(ctx, runStreamDesc, methodRun)
	if err != nil {
		r.logger.Error("Opening run stream failed", "endpoint", r.endpoint, "error", err)
		return StatusFail
	}

	fileID := file.ID()
	if err := r.sendFile(stream, file, fileID); err != nil {
		r.logger.Error("Streaming file to remote module failed",
			"endpoint", r.endpoint,
			"file_id", fileID,
			"error", err.Error())
		return StatusFail
	}

	status, err := r.collectResults(stream, file, fileID)
	if err != nil {
		r.logger.Error("Collecting remote run results failed",
			"endpoint", r.endpoint,
			"file_id", fileID,
			"error", err.Error())
		return StatusFail
	}
	return status
}

// sendFile streams the run header and the file content chunks, then closes
// the send side. A SendMsg failure is deliberately swallowed: per gRPC
// stream semantics the real status surfaces on the next RecvMsg, so the
// caller proceeds to collect results. Local read failures are returned.
func (r *RemoteModule) sendFile(stream grpc.ClientStream, file File, fileID int64) error {
	header, err := runHeaderFrame(fileID)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(header); err != nil {
		return nil
	}

	buf := make([]byte, fileBufferSize)
	for {
		n, rerr := file.Read(buf)
		if n < 0 {
			return NewNegativeReadError(fileID, n)
		}
		if n > 0 {
			if serr := stream.SendMsg(wrapperspb.Bytes(buf[:n])); serr != nil {
				return nil
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return NewFileReadError(fileID, rerr)
		}
	}
	return stream.CloseSend()
}

// collectResults consumes frames until the terminal status frame, posting
// each attribute frame to the local file handle.
func (r *RemoteModule) collectResults(stream grpc.ClientStream, file File, fileID int64) (ModuleStatus, error) {
	for {
		frame := new(structpb.Struct)
		if err := stream.RecvMsg(frame); err != nil {
			return StatusFail, NewStreamTransportError("run stream ended without a status frame", err)
		}

		switch frameString(frame, frameKeyType) {
		case frameTypeStatus:
			return statusFromFrame(frame), nil
		case frameTypeAttribute:
			if err := file.AddGenInfoAttribute(attributeFromFrame(frame)); err != nil {
				return StatusFail, NewAttributePostError(fileID, err)
			}
		default:
			return StatusFail, NewStreamProtocolError("unexpected frame type on run stream", nil)
		}
	}
}

// Finalize forwards the Finalize lifecycle call.
func (r *RemoteModule) Finalize() ModuleStatus {
	if r.closed.Load() {
		r.logger.Error("Finalize called on closed remote module", "endpoint", r.endpoint)
		return StatusFail
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	reply := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, methodFinalize, &emptypb.Empty{}, reply); err != nil {
		r.logger.Error("Remote finalize failed", "endpoint", r.endpoint, "error", err)
		return StatusFail
	}
	return statusFromFrame(reply)
}

// RemoteHealth is a decoded health frame from a module server.
type RemoteHealth struct {
	Status    string        `json:"status"`
	Module    string        `json:"module"`
	Version   string        `json:"version"`
	CheckedAt string        `json:"checked_at"`
	Stats     StatsSnapshot `json:"stats"`
}

// Health queries the remote module's health frame.
func (r *RemoteModule) Health(ctx context.Context) (*RemoteHealth, error) {
	if r.closed.Load() {
		return nil, NewServeStateError("remote module is closed")
	}

	reply := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, methodHealth, &emptypb.Empty{}, reply); err != nil {
		return nil, NewStreamTransportError("health check failed", err)
	}

	health := &RemoteHealth{
		Status:    frameString(reply, "status"),
		Module:    frameString(reply, "module"),
		Version:   frameString(reply, "version"),
		CheckedAt: frameString(reply, "checked_at"),
	}
	if n, ok := frameNumber(reply, "runs_started"); ok {
		health.Stats.RunsStarted = int64(n)
	}
	if n, ok := frameNumber(reply, "runs_succeeded"); ok {
		health.Stats.RunsSucceeded = int64(n)
	}
	if n, ok := frameNumber(reply, "runs_failed"); ok {
		health.Stats.RunsFailed = int64(n)
	}
	if n, ok := frameNumber(reply, "bytes_processed"); ok {
		health.Stats.BytesProcessed = int64(n)
	}
	return health, nil
}

// Close closes the connection to the module server. Safe to call twice.
func (r *RemoteModule) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := r.conn.Close()
	r.logger.Info("Remote module connection closed", "endpoint", r.endpoint)
	return err
}

// statusFromFrame decodes the status carried by a status frame. Unknown or
// missing statuses decode to StatusFail.
func statusFromFrame(frame *structpb.Struct) ModuleStatus {
	return ParseModuleStatus(frameString(frame, "status"))
}

// attributeFromFrame decodes an attribute frame. CreatedAt is stamped at
// decode time on the host side.
func attributeFromFrame(frame *structpb.Struct) Attribute {
	value, _ := frameNumber(frame, "value")
	return NewAttribute(
		AttributeKind(frameString(frame, "kind")),
		frameString(frame, "source"),
		frameString(frame, "context"),
		value,
	)
}
