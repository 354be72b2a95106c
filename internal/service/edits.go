package service

import (
	"github.com/mir00r/domain-router/internal/domain"
)

// The constructors below adapt pool manager and routing engine operations
// to EditFunc so they can be passed to RoutingService.Edit.

func (s *RoutingService) AddPool(pool domain.BackendPool) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.AddPool(m, pool)
	}
}

func (s *RoutingService) UpdatePool(name string, pool domain.BackendPool) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.UpdatePool(m, name, pool)
	}
}

func (s *RoutingService) DeletePool(name string) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.DeletePool(m, name)
	}
}

func (s *RoutingService) AddServer(pool string, server domain.BackendServer) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.AddServer(m, pool, server)
	}
}

func (s *RoutingService) UpdateServer(pool string, index int, server domain.BackendServer) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.UpdateServer(m, pool, index, server)
	}
}

func (s *RoutingService) RemoveServer(pool string, index int) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.pools.RemoveServer(m, pool, index)
	}
}

func (s *RoutingService) AddRule(rule domain.ACLRule) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.AddRule(m, rule)
	}
}

func (s *RoutingService) UpdateRule(index int, rule domain.ACLRule) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.UpdateRule(m, index, rule)
	}
}

func (s *RoutingService) RemoveRule(index int) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.RemoveRule(m, index)
	}
}

func (s *RoutingService) MoveRule(from, to int) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.MoveRule(m, from, to)
	}
}

func (s *RoutingService) SetRoutingMode(mode domain.RoutingMode) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.SetRoutingMode(m, mode)
	}
}

func (s *RoutingService) SetDefaultBackend(ref domain.BackendRef) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.SetDefaultBackend(m, ref)
	}
}

func (s *RoutingService) SetAliases(aliases []string) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.SetAliases(m, aliases)
	}
}

func (s *RoutingService) SetSSL(ssl domain.SSLConfig) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.SetSSL(m, ssl)
	}
}

func (s *RoutingService) SetEnabled(enabled bool) EditFunc {
	return func(m *domain.DomainRouting) (*domain.DomainRouting, error) {
		return s.rules.SetEnabled(m, enabled), nil
	}
}
