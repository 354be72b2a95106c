// Package repository provides RecordStore implementations.
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/record"
)

// InMemoryRecordRepository implements ports.RecordStore using in-memory
// storage. Records are kept encoded so callers never share state with the
// store.
type InMemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewInMemoryRecordRepository creates a new in-memory record repository
func NewInMemoryRecordRepository() *InMemoryRecordRepository {
	return &InMemoryRecordRepository{
		records: make(map[string][]byte),
	}
}

// Get returns the record for host
func (r *InMemoryRecordRepository) Get(ctx context.Context, host string) (*record.Record, error) {
	key, err := domain.CanonicalHostname(host)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	data, exists := r.records[key]
	r.mu.RUnlock()

	if !exists {
		return nil, lberrors.NewRecordNotFoundError(key)
	}
	return record.Normalize(data)
}

// Put persists rec
func (r *InMemoryRecordRepository) Put(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return lberrors.NewMissingFieldError("store", "record")
	}
	key, err := domain.CanonicalHostname(rec.Domain)
	if err != nil {
		return err
	}
	data, err := record.Encode(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[key] = data
	return nil
}

// Delete removes the record for host
func (r *InMemoryRecordRepository) Delete(ctx context.Context, host string) error {
	key, err := domain.CanonicalHostname(host)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[key]; !exists {
		return lberrors.NewRecordNotFoundError(key)
	}
	delete(r.records, key)
	return nil
}

// List returns all stored domains in ascending order
func (r *InMemoryRecordRepository) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.records))
	for key := range r.records {
		domains = append(domains, key)
	}
	sort.Strings(domains)
	return domains, nil
}
