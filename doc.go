// Package entropymodule provides a file-analysis module that computes the
// Shannon byte entropy of file content, plus the host-facing plumbing to run
// it inside a forensic analysis pipeline: a module lifecycle contract, a
// module registry, an in-memory attribute blackboard, and a gRPC serving
// layer for running the module in its own process.
//
// Key Features:
//   - Streaming Shannon entropy in bits per byte over a fixed 256-bin histogram
//   - Fixed-size read buffer, so memory use is independent of file size
//   - Strict run isolation: one file per run, no state carried across runs
//   - Structured errors separating host framework failures from module failures
//   - Module registry for hosts that drive several analysis modules
//   - gRPC serving layer and client proxy, no generated stubs required
//   - Manifest files (JSON or YAML) for out-of-process module discovery
//
// Basic Usage:
//
//	// Create the module and a blackboard for results
//	module := entropymodule.NewEntropyModule(logger)
//	blackboard := entropymodule.NewBlackboard()
//
//	if module.Initialize("") != entropymodule.StatusOK {
//		log.Fatal("module initialization failed")
//	}
//
//	// Wrap file content in a file handle and run the module
//	file := entropymodule.NewReaderFile(42, contentReader, blackboard)
//	if module.Run(file) == entropymodule.StatusOK {
//		attrs := blackboard.Attributes(42)
//		fmt.Printf("entropy: %.4f bits/byte\n", attrs[0].Value)
//	}
//
//	module.Finalize()
//
// Remote Modules:
// A module can serve over gRPC with ModuleServer and be driven from another
// process through DialModule, which returns a proxy implementing the same
// AnalysisModule interface as the in-process module.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package entropymodule
