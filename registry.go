// registry.go: Host-side analysis module registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"sort"
	"sync"
)

// ModuleRegistry holds the analysis modules a host has loaded, keyed by
// module name. It only manages membership: driving files through the
// registered modules, and in what order, remains the host pipeline's
// business.
//
// All methods are safe for concurrent use.
type ModuleRegistry struct {
	logger  Logger
	mu      sync.RWMutex
	modules map[string]AnalysisModule
}

// NewModuleRegistry creates an empty registry that logs through the given
// logger. Pass nil for silent operation.
func NewModuleRegistry(logger any) *ModuleRegistry {
	return &ModuleRegistry{
		logger:  NewLogger(logger),
		modules: make(map[string]AnalysisModule),
	}
}

// Register adds a module under the name from its Info. The name must be
// non-empty and unused within this registry.
func (r *ModuleRegistry) Register(module AnalysisModule) error {
	if module == nil {
		return NewInvalidModuleNameError("")
	}

	name := module.Info().Name
	if name == "" {
		return NewInvalidModuleNameError(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; exists {
		return NewDuplicateModuleError(name)
	}

	r.modules[name] = module
	r.logger.Info("Registered analysis module",
		"module", name,
		"version", module.Info().Version)
	return nil
}

// Unregister removes the named module.
func (r *ModuleRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return NewModuleNotFoundError(name)
	}

	delete(r.modules, name)
	r.logger.Info("Unregistered analysis module", "module", name)
	return nil
}

// Get returns the named module.
func (r *ModuleRegistry) Get(name string) (AnalysisModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[name]
	if !exists {
		return nil, NewModuleNotFoundError(name)
	}
	return module, nil
}

// Names returns the registered module names in sorted order.
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered modules.
func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
