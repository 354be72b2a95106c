package infrastructure

import (
	"context"
	"strings"
	"sync"

	"github.com/mir00r/domain-router/internal/compiler"
	lberrors "github.com/mir00r/domain-router/internal/errors"
)

// StaticSystemBackendResolver implements ports.SystemBackendResolver with
// addresses taken from configuration. Update is called when the config file
// is reloaded.
type StaticSystemBackendResolver struct {
	mu      sync.RWMutex
	backend compiler.SystemBackend
}

// NewStaticSystemBackendResolver creates a resolver answering backend
func NewStaticSystemBackendResolver(backend compiler.SystemBackend) *StaticSystemBackendResolver {
	return &StaticSystemBackendResolver{backend: backend}
}

// Resolve returns the current system backend. Both addresses must be set.
func (r *StaticSystemBackendResolver) Resolve(ctx context.Context) (compiler.SystemBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.TrimSpace(r.backend.HTTPAddress) == "" {
		return compiler.SystemBackend{}, lberrors.NewMissingFieldError("system_backend", "system_backend.http_address")
	}
	if strings.TrimSpace(r.backend.HTTPSAddress) == "" {
		return compiler.SystemBackend{}, lberrors.NewMissingFieldError("system_backend", "system_backend.https_address")
	}
	return r.backend, nil
}

// Update replaces the addresses returned by Resolve
func (r *StaticSystemBackendResolver) Update(backend compiler.SystemBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = backend
}
