package service

import (
	"fmt"
	"strings"

	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/pkg/logger"
)

const poolManagerComponent = "pool_manager"

// PoolManager creates, edits and deletes the backend pools of a routing model.
// Every operation returns an updated copy and leaves its input untouched.
type PoolManager struct {
	logger *logger.Logger
}

// NewPoolManager creates a new pool manager
func NewPoolManager(log *logger.Logger) *PoolManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &PoolManager{logger: log}
}

// AddPool appends pool to the model
func (pm *PoolManager) AddPool(m *domain.DomainRouting, pool domain.BackendPool) (*domain.DomainRouting, error) {
	pool = normalizePool(pool)
	if err := checkPool(pool); err != nil {
		return nil, err
	}
	if m.PoolIndex(pool.Name) >= 0 {
		return nil, duplicateName("pool", pool.Name)
	}

	out := m.Clone()
	out.Backends = append(out.Backends, pool.Clone())

	pm.logger.WithFields(map[string]interface{}{
		"domain":  m.Domain,
		"pool":    pool.Name,
		"servers": len(pool.Servers),
	}).Info("Backend pool added")
	return out, nil
}

// UpdatePool replaces the pool called name. A rename is carried into every
// ACL rule and the default backend that referenced the old name.
func (pm *PoolManager) UpdatePool(m *domain.DomainRouting, name string, pool domain.BackendPool) (*domain.DomainRouting, error) {
	idx := m.PoolIndex(name)
	if idx < 0 {
		return nil, lberrors.NewPoolNotFoundError(poolManagerComponent, name)
	}

	pool = normalizePool(pool)
	if err := checkPool(pool); err != nil {
		return nil, err
	}
	if other := m.PoolIndex(pool.Name); other >= 0 && other != idx {
		return nil, duplicateName("pool", pool.Name)
	}

	out := m.Clone()
	out.Backends[idx] = pool.Clone()

	renamed := 0
	if pool.Name != name {
		for i := range out.ACLRules {
			if !out.ACLRules[i].Backend.IsSystem() && out.ACLRules[i].Backend.Name() == name {
				out.ACLRules[i].Backend = domain.NamedBackend(pool.Name)
				renamed++
			}
		}
		if !out.DefaultBackend.IsSystem() && out.DefaultBackend.Name() == name {
			out.DefaultBackend = domain.NamedBackend(pool.Name)
			renamed++
		}
	}

	pm.logger.WithFields(map[string]interface{}{
		"domain":               m.Domain,
		"pool":                 name,
		"new_name":             pool.Name,
		"references_rewritten": renamed,
	}).Info("Backend pool updated")
	return out, nil
}

// DeletePool removes the pool called name. Pools still targeted by an ACL
// rule cannot be deleted. If the pool was the default backend, the default
// falls back to the first remaining pool, or to the system backend when no
// pool is left.
func (pm *PoolManager) DeletePool(m *domain.DomainRouting, name string) (*domain.DomainRouting, error) {
	idx := m.PoolIndex(name)
	if idx < 0 {
		return nil, lberrors.NewPoolNotFoundError(poolManagerComponent, name)
	}
	if rules := m.RulesReferencing(name); len(rules) > 0 {
		return nil, lberrors.NewError(
			lberrors.ErrCodePoolInUse,
			poolManagerComponent,
			fmt.Sprintf("backend pool %q is used by ACL rules %s", name, strings.Join(rules, ", ")),
		).WithMetadata("pool", name).WithMetadata("rules", rules)
	}

	out := m.Clone()
	out.Backends = append(out.Backends[:idx], out.Backends[idx+1:]...)

	if !out.DefaultBackend.IsSystem() && out.DefaultBackend.Name() == name {
		if len(out.Backends) > 0 {
			out.DefaultBackend = domain.NamedBackend(out.Backends[0].Name)
		} else {
			out.DefaultBackend = domain.SystemBackend()
		}
		pm.logger.WithFields(map[string]interface{}{
			"domain":          m.Domain,
			"pool":            name,
			"default_backend": out.DefaultBackend.String(),
		}).Warn("Deleted the default backend pool, default reassigned")
	}

	pm.logger.WithFields(map[string]interface{}{
		"domain": m.Domain,
		"pool":   name,
	}).Info("Backend pool deleted")
	return out, nil
}

// AddServer appends server to the named pool
func (pm *PoolManager) AddServer(m *domain.DomainRouting, pool string, server domain.BackendServer) (*domain.DomainRouting, error) {
	idx := m.PoolIndex(pool)
	if idx < 0 {
		return nil, lberrors.NewPoolNotFoundError(poolManagerComponent, pool)
	}
	server.Name = strings.TrimSpace(server.Name)
	if err := checkServer(server); err != nil {
		return nil, err
	}
	if m.Backends[idx].ServerIndex(server.Name) >= 0 {
		return nil, duplicateName("server", server.Name).WithMetadata("pool", pool)
	}

	out := m.Clone()
	out.Backends[idx].Servers = append(out.Backends[idx].Servers, server)

	pm.logger.WithFields(map[string]interface{}{
		"domain":  m.Domain,
		"pool":    pool,
		"server":  server.Name,
		"address": server.ResolvedAddress(),
	}).Info("Backend server added")
	return out, nil
}

// UpdateServer replaces the server at index in the named pool
func (pm *PoolManager) UpdateServer(m *domain.DomainRouting, pool string, index int, server domain.BackendServer) (*domain.DomainRouting, error) {
	idx := m.PoolIndex(pool)
	if idx < 0 {
		return nil, lberrors.NewPoolNotFoundError(poolManagerComponent, pool)
	}
	if index < 0 || index >= len(m.Backends[idx].Servers) {
		return nil, serverNotFound(pool, index)
	}
	server.Name = strings.TrimSpace(server.Name)
	if err := checkServer(server); err != nil {
		return nil, err
	}
	if other := m.Backends[idx].ServerIndex(server.Name); other >= 0 && other != index {
		return nil, duplicateName("server", server.Name).WithMetadata("pool", pool)
	}

	out := m.Clone()
	out.Backends[idx].Servers[index] = server

	pm.logger.WithFields(map[string]interface{}{
		"domain": m.Domain,
		"pool":   pool,
		"server": server.Name,
		"index":  index,
	}).Info("Backend server updated")
	return out, nil
}

// RemoveServer removes the server at index from the named pool. Removing the
// last server is allowed here; the resulting empty pool is rejected when the
// model is validated.
func (pm *PoolManager) RemoveServer(m *domain.DomainRouting, pool string, index int) (*domain.DomainRouting, error) {
	idx := m.PoolIndex(pool)
	if idx < 0 {
		return nil, lberrors.NewPoolNotFoundError(poolManagerComponent, pool)
	}
	if index < 0 || index >= len(m.Backends[idx].Servers) {
		return nil, serverNotFound(pool, index)
	}

	out := m.Clone()
	servers := out.Backends[idx].Servers
	removed := servers[index].Name
	out.Backends[idx].Servers = append(servers[:index], servers[index+1:]...)

	pm.logger.WithFields(map[string]interface{}{
		"domain":    m.Domain,
		"pool":      pool,
		"server":    removed,
		"remaining": len(out.Backends[idx].Servers),
	}).Info("Backend server removed")
	return out, nil
}

func normalizePool(pool domain.BackendPool) domain.BackendPool {
	pool.Name = strings.TrimSpace(pool.Name)
	if pool.Mode == "" {
		pool.Mode = domain.ModeHTTP
	}
	if pool.Balance == "" {
		pool.Balance = domain.BalanceRoundRobin
	}
	return pool
}

func checkPool(pool domain.BackendPool) error {
	if pool.Name == "" {
		return lberrors.NewMissingFieldError(poolManagerComponent, "pool.name")
	}
	if err := domain.CheckName("pool", pool.Name); err != nil {
		return err
	}
	if len(pool.Servers) == 0 {
		return lberrors.NewError(
			lberrors.ErrCodeEmptyPool,
			poolManagerComponent,
			fmt.Sprintf("backend pool %q must have at least one server", pool.Name),
		).WithMetadata("pool", pool.Name)
	}
	seen := make(map[string]bool, len(pool.Servers))
	for _, s := range pool.Servers {
		if err := checkServer(s); err != nil {
			return err
		}
		if seen[s.Name] {
			return duplicateName("server", s.Name).WithMetadata("pool", pool.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func checkServer(s domain.BackendServer) error {
	if s.Name == "" {
		return lberrors.NewMissingFieldError(poolManagerComponent, "server.name")
	}
	if err := domain.CheckName("server", s.Name); err != nil {
		return err
	}
	_, err := address.Resolve(s.Address)
	return err
}

func duplicateName(kind, name string) *lberrors.RoutingError {
	return lberrors.NewError(
		lberrors.ErrCodeDuplicateName,
		poolManagerComponent,
		fmt.Sprintf("%s %q already exists", kind, name),
	).WithMetadata("name", name)
}

func serverNotFound(pool string, index int) *lberrors.RoutingError {
	return lberrors.NewError(
		lberrors.ErrCodeServerNotFound,
		poolManagerComponent,
		fmt.Sprintf("backend pool %q has no server at index %d", pool, index),
	).WithMetadata("pool", pool).WithMetadata("index", index)
}
