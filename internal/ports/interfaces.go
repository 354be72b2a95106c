// Package ports defines the contracts between the routing core and the
// systems around it: where records are stored, how compiled configuration is
// handed to the load balancer, and what the system backend currently is.
//
// Following Hexagonal Architecture principles, the service layer depends only
// on these interfaces; concrete adapters live in the repository and
// infrastructure packages.
package ports

import (
	"context"
	"time"

	"github.com/mir00r/domain-router/internal/compiler"
	"github.com/mir00r/domain-router/internal/record"
)

// ========================================
// SECONDARY PORTS (Driven)
// ========================================

// RecordStore persists one routing record per domain. Records are read and
// written as whole units; the last write wins.
type RecordStore interface {
	// Get returns the record for domain or a RECORD_NOT_FOUND error
	Get(ctx context.Context, domain string) (*record.Record, error)

	// Put creates or replaces the record for r.Domain
	Put(ctx context.Context, r *record.Record) error

	// Delete removes the record for domain
	Delete(ctx context.Context, domain string) error

	// List returns all stored domain names in ascending order
	List(ctx context.Context) ([]string, error)
}

// ConfigApplier hands a complete compiled configuration to the load balancer.
// Failures are reported verbatim and never retried by the applier.
type ConfigApplier interface {
	Apply(ctx context.Context, config string) (*ApplyReport, error)
}

// SystemBackendResolver answers where the host's built-in web server
// currently listens.
type SystemBackendResolver interface {
	Resolve(ctx context.Context) (compiler.SystemBackend, error)
}

// ========================================
// DATA TRANSFER OBJECTS
// ========================================

// ApplyReport describes one apply attempt
type ApplyReport struct {
	TransactionID string        `json:"transaction_id"`
	ConfigPath    string        `json:"config_path"`
	Checked       bool          `json:"checked"`
	Reloaded      bool          `json:"reloaded"`
	RolledBack    bool          `json:"rolled_back"`
	Unchanged     bool          `json:"unchanged"`
	Output        string        `json:"output,omitempty"`
	Duration      time.Duration `json:"duration"`
}
