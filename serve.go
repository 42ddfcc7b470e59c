// serve.go: Module-side gRPC server exposing an analysis module to remote hosts
//
// This file implements the module-side serving layer. A module process wraps
// its AnalysisModule in a ModuleServer, which exposes the module lifecycle
// over gRPC so a host pipeline in another process can drive it. The wire
// protocol uses protobuf well-known types as frames, so no generated stubs
// are required on either side.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Wire protocol.
//
// The AnalysisModule service carries three unary lifecycle methods and one
// bidirectional Run stream:
//
//	Initialize: StringValue (arguments)  -> Struct (status frame)
//	Finalize:   Empty                    -> Struct (status frame)
//	Health:     Empty                    -> Struct (health frame)
//	Run:        bidirectional stream
//
// On the Run stream the host sends one header frame (Struct with "file_id"),
// then the file content as BytesValue chunks, then closes its send side. The
// module replies with zero or more attribute frames and exactly one terminal
// status frame. Content chunks travel as BytesValue because Struct string
// fields must be valid UTF-8, which arbitrary file bytes are not.
const (
	grpcServiceName  = "AnalysisModule"
	methodInitialize = "/AnalysisModule/Initialize"
	methodFinalize   = "/AnalysisModule/Finalize"
	methodHealth     = "/AnalysisModule/Health"
	methodRun        = "/AnalysisModule/Run"

	// maxFrameSize bounds a single gRPC message in either direction. File
	// content is chunked well below this, so the limit only guards frames.
	maxFrameSize = 4 * 1024 * 1024 // 4MB
)

// Frame discriminator values for Struct frames on the Run stream.
const (
	frameKeyType       = "frame"
	frameTypeStatus    = "status"
	frameTypeAttribute = "attribute"
)

// newStatusFrame builds the terminal frame carrying a run status.
func newStatusFrame(status ModuleStatus) (*structpb.Struct, error) {
	frame, err := structpb.NewStruct(map[string]interface{}{
		frameKeyType: frameTypeStatus,
		"status":     status.String(),
	})
	if err != nil {
		return nil, NewStreamProtocolError("failed to build status frame", err)
	}
	return frame, nil
}

// newAttributeFrame builds a frame carrying one posted attribute.
func newAttributeFrame(attr Attribute) (*structpb.Struct, error) {
	frame, err := structpb.NewStruct(map[string]interface{}{
		frameKeyType: frameTypeAttribute,
		"kind":       string(attr.Kind),
		"source":     attr.Source,
		"context":    attr.Context,
		"value":      attr.Value,
	})
	if err != nil {
		return nil, NewStreamProtocolError("failed to build attribute frame", err)
	}
	return frame, nil
}

// runHeaderFrame builds the stream header identifying the file under analysis.
func runHeaderFrame(fileID int64) (*structpb.Struct, error) {
	frame, err := structpb.NewStruct(map[string]interface{}{
		"file_id": fileID,
	})
	if err != nil {
		return nil, NewStreamProtocolError("failed to build run header", err)
	}
	return frame, nil
}

// frameString extracts a string field from a frame, or "" when absent.
func frameString(frame *structpb.Struct, key string) string {
	if frame == nil {
		return ""
	}
	value, ok := frame.GetFields()[key]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

// frameNumber extracts a numeric field from a frame.
func frameNumber(frame *structpb.Struct, key string) (float64, bool) {
	if frame == nil {
		return 0, false
	}
	value, ok := frame.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNumber := value.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, false
	}
	return value.GetNumberValue(), true
}

// moduleServiceHandler is the server-side contract behind the hand-written
// service descriptor. ModuleServer implements it.
type moduleServiceHandler interface {
	initialize(ctx context.Context, arguments *wrapperspb.StringValue) (*structpb.Struct, error)
	finalize(ctx context.Context, empty *emptypb.Empty) (*structpb.Struct, error)
	health(ctx context.Context, empty *emptypb.Empty) (*structpb.Struct, error)
	run(stream grpc.ServerStream) error
}

// analysisModuleServiceDesc registers the AnalysisModule service without
// generated stubs, mirroring what protoc-generated code would produce for
// the wire protocol above.
var analysisModuleServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*moduleServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: initializeHandler},
		{MethodName: "Finalize", Handler: finalizeHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Run", Handler: runHandler, ServerStreams: true, ClientStreams: true},
	},
}

func initializeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleServiceHandler).initialize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInitialize}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(moduleServiceHandler).initialize(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func finalizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleServiceHandler).finalize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFinalize}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(moduleServiceHandler).finalize(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleServiceHandler).health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodHealth}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(moduleServiceHandler).health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func runHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(moduleServiceHandler).run(stream)
}

// ServeConfig configures how a ModuleServer exposes its module.
type ServeConfig struct {
	// ListenAddress is the TCP address to bind. Port 0 auto-assigns, which
	// is the usual mode: the host discovers the actual endpoint from the
	// manifest the server emits after start.
	ListenAddress string `json:"listen_address" yaml:"listen_address"`

	// Logger receives server lifecycle events. Defaults to a no-op logger.
	Logger Logger `json:"-" yaml:"-"`

	// StopTimeout bounds graceful shutdown before in-flight streams are cut.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// setServeDefaults fills zero-valued ServeConfig fields.
func setServeDefaults(config *ServeConfig) {
	if config.ListenAddress == "" {
		config.ListenAddress = "127.0.0.1:0"
	}
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
}

// ModuleServer exposes one AnalysisModule over gRPC.
//
// The server owns a single module instance. Run streams execute on the
// module sequentially or concurrently at the host's discretion; modules in
// this library hold no per-run state, so concurrent streams are safe.
type ModuleServer struct {
	module AnalysisModule
	config ServeConfig
	logger Logger

	// Network management
	listener   net.Listener
	grpcServer *grpc.Server
	serveErr   chan error

	// Lifecycle management
	running  bool
	runMutex sync.Mutex
}

// NewModuleServer creates a server for the given module. Defaults are
// applied to zero-valued config fields.
func NewModuleServer(module AnalysisModule, config ServeConfig) *ModuleServer {
	setServeDefaults(&config)

	return &ModuleServer{
		module: module,
		config: config,
		logger: config.Logger,
	}
}

// Start binds the listen address and begins serving in the background.
// It returns once the listener is accepting, so callers can read Addr
// immediately after.
func (s *ModuleServer) Start() error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if s.running {
		return NewServeStateError("module server is already running")
	}
	if s.module == nil {
		return NewServeStateError("module server has no module to serve")
	}

	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return NewServeListenError(s.config.ListenAddress, err)
	}
	s.listener = listener

	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxFrameSize),
		grpc.MaxSendMsgSize(maxFrameSize),
	)
	s.grpcServer.RegisterService(&analysisModuleServiceDesc, s)

	info := s.module.Info()
	s.logger.Info("Module server listening",
		"module", info.Name,
		"version", info.Version,
		"address", listener.Addr().String())

	// A fresh channel per start keeps a restarted server from blocking on
	// the result of a previous serve cycle.
	grpcServer := s.grpcServer
	serveErr := make(chan error, 1)
	s.serveErr = serveErr
	SafeGo(s.logger, func() {
		serveErr <- grpcServer.Serve(listener)
	})

	s.running = true
	return nil
}

// Serve starts the server and blocks until ctx is cancelled or serving
// fails. On cancellation the server shuts down gracefully within the
// configured stop timeout.
func (s *ModuleServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-s.serveErr:
		if err != nil {
			return NewServeListenError(s.config.ListenAddress, err)
		}
		return nil
	}
}

// Stop shuts the server down, waiting for in-flight streams until ctx
// expires, then forcing closure.
func (s *ModuleServer) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("Stopping module server", "module", s.module.Info().Name)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Debug("Module server stopped gracefully")
	case <-ctx.Done():
		s.grpcServer.Stop()
		s.logger.Warn("Module server stop timeout exceeded, forcing shutdown")
	}

	s.running = false
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *ModuleServer) Addr() string {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Manifest describes the running server so hosts can discover and dial it.
func (s *ModuleServer) Manifest() *ModuleManifest {
	return &ModuleManifest{
		ModuleInfo: s.module.Info(),
		Transport:  TransportGRPC,
		Endpoint:   s.Addr(),
	}
}

// initialize handles the Initialize lifecycle call.
func (s *ModuleServer) initialize(_ context.Context, arguments *wrapperspb.StringValue) (*structpb.Struct, error) {
	status := s.module.Initialize(arguments.GetValue())
	return newStatusFrame(status)
}

// finalize handles the Finalize lifecycle call.
func (s *ModuleServer) finalize(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status := s.module.Finalize()
	return newStatusFrame(status)
}

// health reports the module identity and, when the module exposes counters
// through StatsReporter, its run statistics.
func (s *ModuleServer) health(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info := s.module.Info()
	fields := map[string]interface{}{
		"status":     "healthy",
		"module":     info.Name,
		"version":    info.Version,
		"checked_at": timecache.CachedTime().Format(time.RFC3339Nano),
	}

	if reporter, ok := s.module.(StatsReporter); ok {
		snapshot := reporter.Stats()
		fields["runs_started"] = snapshot.RunsStarted
		fields["runs_succeeded"] = snapshot.RunsSucceeded
		fields["runs_failed"] = snapshot.RunsFailed
		fields["bytes_processed"] = snapshot.BytesProcessed
	}

	frame, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, NewStreamProtocolError("failed to build health frame", err)
	}
	return frame, nil
}

// run handles one Run stream: header in, content chunks in, attribute
// frames out, terminal status frame out.
func (s *ModuleServer) run(stream grpc.ServerStream) error {
	header := new(structpb.Struct)
	if err := stream.RecvMsg(header); err != nil {
		return NewStreamTransportError("failed to receive run header", err)
	}

	fileID, ok := frameNumber(header, "file_id")
	if !ok {
		return NewStreamProtocolError("run header is missing file_id", nil)
	}

	file := &streamFile{id: int64(fileID), stream: stream}
	status := s.module.Run(file)

	frame, err := newStatusFrame(status)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(frame); err != nil {
		return NewStreamTransportError("failed to send status frame", err)
	}
	return nil
}

// streamFile adapts one side of a Run stream to the File interface the
// module reads from. Reads pull BytesValue chunks off the stream; attribute
// posts push attribute frames back to the host.
type streamFile struct {
	id      int64
	stream  grpc.ServerStream
	pending []byte
	eof     bool
}

// ID returns the host-assigned file identifier from the run header.
func (f *streamFile) ID() int64 {
	return f.id
}

// Read fills p from the pending chunk, receiving the next chunk from the
// stream when the pending one is drained. A clean close of the host's send
// side surfaces as io.EOF.
func (f *streamFile) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		if f.eof {
			return 0, io.EOF
		}

		chunk := new(wrapperspb.BytesValue)
		if err := f.stream.RecvMsg(chunk); err != nil {
			if err == io.EOF {
				f.eof = true
				return 0, io.EOF
			}
			return 0, err
		}
		f.pending = chunk.GetValue()
	}

	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

// AddGenInfoAttribute forwards a posted attribute to the host as an
// attribute frame.
func (f *streamFile) AddGenInfoAttribute(attr Attribute) error {
	frame, err := newAttributeFrame(attr)
	if err != nil {
		return err
	}
	if err := f.stream.SendMsg(frame); err != nil {
		return NewStreamTransportError("failed to send attribute frame", err)
	}
	return nil
}
