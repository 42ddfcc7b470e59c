// serve_test.go: module server and remote module integration tests
//
// These tests drive the serving layer over real loopback gRPC connections:
// a ModuleServer wrapping an entropy module on one end, a RemoteModule proxy
// on the other, with file content and attributes crossing the wire.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"
)

// startTestServer starts a module server for a fresh entropy module on a
// loopback port and registers cleanup to stop it.
func startTestServer(t *testing.T) *ModuleServer {
	t.Helper()

	server := NewModuleServer(NewEntropyModule(nil), ServeConfig{})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start module server: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			t.Logf("Warning: failed to stop module server: %v", err)
		}
	})
	return server
}

// dialTestServer dials a started test server and registers cleanup to close
// the connection.
func dialTestServer(t *testing.T, server *ModuleServer) *RemoteModule {
	t.Helper()

	remote, err := DialModule(server.Addr(), nil)
	if err != nil {
		t.Fatalf("Failed to dial module server: %v", err)
	}

	t.Cleanup(func() {
		if err := remote.Close(); err != nil {
			t.Logf("Warning: failed to close remote module: %v", err)
		}
	})
	return remote
}

// unusedEndpoint reserves a loopback port and releases it, yielding an
// address where nothing listens.
func unusedEndpoint(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve loopback port: %v", err)
	}
	endpoint := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("Failed to release loopback port: %v", err)
	}
	return endpoint
}

// TestSetServeDefaults tests ServeConfig default filling
func TestSetServeDefaults(t *testing.T) {
	t.Run("ZeroValuesFilled", func(t *testing.T) {
		config := ServeConfig{}
		setServeDefaults(&config)

		if config.ListenAddress != "127.0.0.1:0" {
			t.Errorf("Expected default listen address '127.0.0.1:0', got %s", config.ListenAddress)
		}
		if config.Logger == nil {
			t.Error("Logger should be initialized")
		}
		if config.StopTimeout != 5*time.Second {
			t.Errorf("Expected default stop timeout 5s, got %v", config.StopTimeout)
		}
	})

	t.Run("ExplicitValuesKept", func(t *testing.T) {
		logger := NewTestLogger()
		config := ServeConfig{
			ListenAddress: "127.0.0.1:6060",
			Logger:        logger,
			StopTimeout:   time.Second,
		}
		setServeDefaults(&config)

		if config.ListenAddress != "127.0.0.1:6060" {
			t.Errorf("Explicit listen address should be kept, got %s", config.ListenAddress)
		}
		if config.Logger != logger {
			t.Error("Explicit logger should be kept")
		}
		if config.StopTimeout != time.Second {
			t.Errorf("Explicit stop timeout should be kept, got %v", config.StopTimeout)
		}
	})
}

// TestModuleServer_StartStop tests server lifecycle transitions
func TestModuleServer_StartStop(t *testing.T) {
	t.Run("StartAssignsAddress", func(t *testing.T) {
		server := startTestServer(t)

		addr := server.Addr()
		if addr == "" {
			t.Fatal("Addr should be non-empty after Start")
		}
		if !strings.HasPrefix(addr, "127.0.0.1:") {
			t.Errorf("Expected loopback address, got %s", addr)
		}
	})

	t.Run("AddrBeforeStart", func(t *testing.T) {
		server := NewModuleServer(NewEntropyModule(nil), ServeConfig{})

		if addr := server.Addr(); addr != "" {
			t.Errorf("Addr should be empty before Start, got %s", addr)
		}
	})

	t.Run("DoubleStartFails", func(t *testing.T) {
		server := startTestServer(t)

		err := server.Start()
		if err == nil {
			t.Fatal("Second Start should fail while running")
		}
		if ErrorCodeOf(err) != ErrCodeServeState {
			t.Errorf("Expected code %s, got %s", ErrCodeServeState, ErrorCodeOf(err))
		}
		if !strings.Contains(err.Error(), "already running") {
			t.Errorf("Error should mention already running, got: %v", err)
		}
	})

	t.Run("NilModule", func(t *testing.T) {
		server := NewModuleServer(nil, ServeConfig{})

		err := server.Start()
		if err == nil {
			t.Fatal("Start should fail without a module")
		}
		if ErrorCodeOf(err) != ErrCodeServeState {
			t.Errorf("Expected code %s, got %s", ErrCodeServeState, ErrorCodeOf(err))
		}
	})

	t.Run("ListenFailure", func(t *testing.T) {
		// Occupy a port so binding it fails
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to occupy loopback port: %v", err)
		}
		defer func() {
			if cerr := listener.Close(); cerr != nil {
				t.Logf("Warning: failed to close listener: %v", cerr)
			}
		}()

		server := NewModuleServer(NewEntropyModule(nil), ServeConfig{
			ListenAddress: listener.Addr().String(),
		})

		err = server.Start()
		if err == nil {
			t.Fatal("Start should fail on an occupied port")
		}
		if ErrorCodeOf(err) != ErrCodeServeListen {
			t.Errorf("Expected code %s, got %s", ErrCodeServeListen, ErrorCodeOf(err))
		}
	})

	t.Run("StopWhenNotRunning", func(t *testing.T) {
		server := NewModuleServer(NewEntropyModule(nil), ServeConfig{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			t.Errorf("Stop should not return error when server not running: %v", err)
		}
	})

	t.Run("RestartAfterStop", func(t *testing.T) {
		server := NewModuleServer(NewEntropyModule(nil), ServeConfig{})

		if err := server.Start(); err != nil {
			t.Fatalf("First Start failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}

		if err := server.Start(); err != nil {
			t.Fatalf("Restart after stop failed: %v", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			if err := server.Stop(stopCtx); err != nil {
				t.Logf("Warning: failed to stop restarted server: %v", err)
			}
		}()

		if server.Addr() == "" {
			t.Error("Addr should be non-empty after restart")
		}
	})
}

// TestModuleServer_Manifest tests manifest emission for a running server
func TestModuleServer_Manifest(t *testing.T) {
	server := startTestServer(t)

	manifest := server.Manifest()
	if err := manifest.Validate(); err != nil {
		t.Fatalf("Running server should emit a valid manifest: %v", err)
	}

	if manifest.Name != ModuleName {
		t.Errorf("Expected manifest name %s, got %s", ModuleName, manifest.Name)
	}
	if manifest.Version != ModuleVersion {
		t.Errorf("Expected manifest version %s, got %s", ModuleVersion, manifest.Version)
	}
	if manifest.Transport != TransportGRPC {
		t.Errorf("Expected transport %s, got %s", TransportGRPC, manifest.Transport)
	}
	if manifest.Endpoint != server.Addr() {
		t.Errorf("Expected endpoint %s, got %s", server.Addr(), manifest.Endpoint)
	}
}

// TestModuleServer_Serve tests the blocking Serve entry point
func TestModuleServer_Serve(t *testing.T) {
	t.Run("CancelStopsServer", func(t *testing.T) {
		server := NewModuleServer(NewEntropyModule(nil), ServeConfig{})

		ctx, cancel := context.WithCancel(context.Background())
		serveResult := make(chan error, 1)
		go func() {
			serveResult <- server.Serve(ctx)
		}()

		// Wait for the listener to come up
		deadline := time.Now().Add(2 * time.Second)
		for server.Addr() == "" {
			if time.Now().After(deadline) {
				cancel()
				t.Fatal("Server did not start within deadline")
			}
			time.Sleep(10 * time.Millisecond)
		}

		cancel()

		select {
		case err := <-serveResult:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Expected context.Canceled from Serve, got: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
	})
}

// TestServeIntegration_Lifecycle drives a full module lifecycle through a
// real loopback gRPC connection: dial, initialize, runs, health, finalize,
// close.
func TestServeIntegration_Lifecycle(t *testing.T) {
	server := startTestServer(t)
	remote := dialTestServer(t, server)

	t.Run("RemoteInfoFetched", func(t *testing.T) {
		info := remote.Info()
		if info.Name != ModuleName {
			t.Errorf("Expected remote module name %s, got %s", ModuleName, info.Name)
		}
		if info.Version != ModuleVersion {
			t.Errorf("Expected remote module version %s, got %s", ModuleVersion, info.Version)
		}
	})

	t.Run("Endpoint", func(t *testing.T) {
		if remote.Endpoint() != server.Addr() {
			t.Errorf("Expected endpoint %s, got %s", server.Addr(), remote.Endpoint())
		}
	})

	t.Run("Initialize", func(t *testing.T) {
		if status := remote.Initialize(""); status != StatusOK {
			t.Errorf("Expected StatusOK from Initialize, got %s", status.String())
		}
	})

	t.Run("RunPostsEntropyAttribute", func(t *testing.T) {
		blackboard := NewBlackboard()
		file := NewReaderFile(7, bytes.NewReader([]byte("AB")), blackboard)

		if status := remote.Run(file); status != StatusOK {
			t.Fatalf("Expected StatusOK from Run, got %s", status.String())
		}

		attrs := blackboard.Attributes(7)
		if len(attrs) != 1 {
			t.Fatalf("Expected 1 attribute on the blackboard, got %d", len(attrs))
		}

		attr := attrs[0]
		if attr.Kind != AttributeEntropy {
			t.Errorf("Expected kind %s, got %s", AttributeEntropy, attr.Kind)
		}
		if attr.Source != ModuleName {
			t.Errorf("Expected source %s, got %s", ModuleName, attr.Source)
		}
		if attr.Context != "" {
			t.Errorf("Expected empty context, got %s", attr.Context)
		}
		if math.Abs(attr.Value-1.0) > 1e-9 {
			t.Errorf("Expected entropy 1.0 for two distinct bytes, got %v", attr.Value)
		}
		if attr.CreatedAt.IsZero() {
			t.Error("CreatedAt should be stamped on the received attribute")
		}
	})

	t.Run("RunStreamsLargeContent", func(t *testing.T) {
		// Larger than the read buffer, so content crosses the stream in
		// multiple chunks
		content := make([]byte, 3*fileBufferSize+137)
		for i := range content {
			content[i] = byte(i*31 + 7)
		}

		blackboard := NewBlackboard()
		file := NewReaderFile(8, bytes.NewReader(content), blackboard)

		if status := remote.Run(file); status != StatusOK {
			t.Fatalf("Expected StatusOK from Run, got %s", status.String())
		}

		attrs := blackboard.Attributes(8)
		if len(attrs) != 1 {
			t.Fatalf("Expected 1 attribute on the blackboard, got %d", len(attrs))
		}

		want := referenceEntropy(content)
		if math.Abs(attrs[0].Value-want) > 1e-9 {
			t.Errorf("Expected entropy %v, got %v", want, attrs[0].Value)
		}
	})

	t.Run("RunEmptyFileFails", func(t *testing.T) {
		blackboard := NewBlackboard()
		file := NewReaderFile(9, bytes.NewReader(nil), blackboard)

		if status := remote.Run(file); status != StatusFail {
			t.Errorf("Expected StatusFail for empty file, got %s", status.String())
		}
		if blackboard.Len() != 0 {
			t.Errorf("No attributes should be posted for a failed run, got %d", blackboard.Len())
		}
	})

	t.Run("HealthReportsIdentityAndStats", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		health, err := remote.Health(ctx)
		if err != nil {
			t.Fatalf("Health check failed: %v", err)
		}

		if health.Status != "healthy" {
			t.Errorf("Expected status 'healthy', got %s", health.Status)
		}
		if health.Module != ModuleName {
			t.Errorf("Expected module %s, got %s", ModuleName, health.Module)
		}
		if health.Version != ModuleVersion {
			t.Errorf("Expected version %s, got %s", ModuleVersion, health.Version)
		}
		if _, perr := time.Parse(time.RFC3339Nano, health.CheckedAt); perr != nil {
			t.Errorf("CheckedAt should be RFC3339Nano, got %q: %v", health.CheckedAt, perr)
		}

		// Three runs so far: "AB" and the large content succeeded, the
		// empty file failed
		if health.Stats.RunsStarted != 3 {
			t.Errorf("Expected 3 runs started, got %d", health.Stats.RunsStarted)
		}
		if health.Stats.RunsSucceeded != 2 {
			t.Errorf("Expected 2 runs succeeded, got %d", health.Stats.RunsSucceeded)
		}
		if health.Stats.RunsFailed != 1 {
			t.Errorf("Expected 1 run failed, got %d", health.Stats.RunsFailed)
		}

		wantBytes := int64(2 + 3*fileBufferSize + 137)
		if health.Stats.BytesProcessed != wantBytes {
			t.Errorf("Expected %d bytes processed, got %d", wantBytes, health.Stats.BytesProcessed)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		if status := remote.Finalize(); status != StatusOK {
			t.Errorf("Expected StatusOK from Finalize, got %s", status.String())
		}
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		if err := remote.Close(); err != nil {
			t.Errorf("Close should not return error: %v", err)
		}
		if err := remote.Close(); err != nil {
			t.Errorf("Second Close should not return error: %v", err)
		}
	})

	t.Run("CallsAfterCloseFail", func(t *testing.T) {
		if status := remote.Initialize(""); status != StatusFail {
			t.Errorf("Initialize after Close should fail, got %s", status.String())
		}

		blackboard := NewBlackboard()
		file := NewReaderFile(10, bytes.NewReader([]byte("AB")), blackboard)
		if status := remote.Run(file); status != StatusFail {
			t.Errorf("Run after Close should fail, got %s", status.String())
		}

		if status := remote.Finalize(); status != StatusFail {
			t.Errorf("Finalize after Close should fail, got %s", status.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := remote.Health(ctx); err == nil {
			t.Error("Health after Close should return error")
		}
	})
}

// TestServeIntegration_AttributePostFailure covers a host-side blackboard
// failure while remote results are applied locally.
func TestServeIntegration_AttributePostFailure(t *testing.T) {
	server := startTestServer(t)

	logger := NewTestLogger()
	remote, err := DialModule(server.Addr(), logger)
	if err != nil {
		t.Fatalf("Failed to dial module server: %v", err)
	}
	defer func() {
		if cerr := remote.Close(); cerr != nil {
			t.Logf("Warning: failed to close remote module: %v", cerr)
		}
	}()

	file := NewReaderFile(11, bytes.NewReader([]byte("AB")), &errorSink{})
	if status := remote.Run(file); status != StatusFail {
		t.Errorf("Expected StatusFail when the local post fails, got %s", status.String())
	}

	if logger.CountLevel("ERROR") != 1 {
		t.Errorf("Expected exactly 1 error log, got %d", logger.CountLevel("ERROR"))
	}
	if !logger.HasMessage("ERROR", "Collecting remote run results failed") {
		t.Error("Expected collect-results error log")
	}
}

// TestRemoteModule_ErrorPaths tests dial and call failures against missing
// or closed peers
func TestRemoteModule_ErrorPaths(t *testing.T) {
	t.Run("DialEmptyEndpoint", func(t *testing.T) {
		_, err := DialModule("", nil)
		if err == nil {
			t.Fatal("Dial should fail for an empty endpoint")
		}
		if ErrorCodeOf(err) != ErrCodeRemoteDial {
			t.Errorf("Expected code %s, got %s", ErrCodeRemoteDial, ErrorCodeOf(err))
		}
	})

	t.Run("DialUnreachableEndpoint", func(t *testing.T) {
		logger := NewTestLogger()

		// Dialing is lazy, so this succeeds with placeholder identity
		remote, err := DialModule(unusedEndpoint(t), logger)
		if err != nil {
			t.Fatalf("Dial should not fail for an unreachable endpoint: %v", err)
		}
		defer func() {
			if cerr := remote.Close(); cerr != nil {
				t.Logf("Warning: failed to close remote module: %v", cerr)
			}
		}()

		if !logger.HasMessage("WARN", "Failed to fetch remote module info") {
			t.Error("Expected warning about unfetchable module info")
		}
		if remote.Info().Name != "remote-module" {
			t.Errorf("Expected placeholder name 'remote-module', got %s", remote.Info().Name)
		}

		if status := remote.Initialize(""); status != StatusFail {
			t.Errorf("Initialize against dead endpoint should fail, got %s", status.String())
		}

		blackboard := NewBlackboard()
		file := NewReaderFile(12, bytes.NewReader([]byte("AB")), blackboard)
		if status := remote.Run(file); status != StatusFail {
			t.Errorf("Run against dead endpoint should fail, got %s", status.String())
		}

		if status := remote.Finalize(); status != StatusFail {
			t.Errorf("Finalize against dead endpoint should fail, got %s", status.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, herr := remote.Health(ctx); herr == nil {
			t.Error("Health against dead endpoint should return error")
		}
	})

	t.Run("RunNilFile", func(t *testing.T) {
		server := startTestServer(t)

		logger := NewTestLogger()
		remote, err := DialModule(server.Addr(), logger)
		if err != nil {
			t.Fatalf("Failed to dial module server: %v", err)
		}
		defer func() {
			if cerr := remote.Close(); cerr != nil {
				t.Logf("Warning: failed to close remote module: %v", cerr)
			}
		}()

		if status := remote.Run(nil); status != StatusFail {
			t.Errorf("Run without a file should fail, got %s", status.String())
		}
		if !logger.HasMessage("ERROR", "Run called without a file") {
			t.Error("Expected nil-file error log")
		}
	})
}

// TestDialManifest tests manifest-driven dialing
func TestDialManifest(t *testing.T) {
	t.Run("NilManifest", func(t *testing.T) {
		_, err := DialManifest(nil, nil)
		if err == nil {
			t.Fatal("DialManifest should fail for nil manifest")
		}
		if ErrorCodeOf(err) != ErrCodeManifestValidation {
			t.Errorf("Expected code %s, got %s", ErrCodeManifestValidation, ErrorCodeOf(err))
		}
	})

	t.Run("InvalidManifest", func(t *testing.T) {
		manifest := &ModuleManifest{
			ModuleInfo: ModuleInfo{Name: ModuleName, Version: ModuleVersion},
			Transport:  TransportGRPC,
			// Endpoint missing
		}

		_, err := DialManifest(manifest, nil)
		if err == nil {
			t.Fatal("DialManifest should fail for incomplete manifest")
		}
		if ErrorCodeOf(err) != ErrCodeManifestValidation {
			t.Errorf("Expected code %s, got %s", ErrCodeManifestValidation, ErrorCodeOf(err))
		}
	})

	t.Run("DialFromServerManifest", func(t *testing.T) {
		server := startTestServer(t)

		remote, err := DialManifest(server.Manifest(), nil)
		if err != nil {
			t.Fatalf("DialManifest from a running server's manifest failed: %v", err)
		}
		defer func() {
			if cerr := remote.Close(); cerr != nil {
				t.Logf("Warning: failed to close remote module: %v", cerr)
			}
		}()

		if status := remote.Initialize(""); status != StatusOK {
			t.Errorf("Expected StatusOK through manifest-dialed module, got %s", status.String())
		}
	})
}
