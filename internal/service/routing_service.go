package service

import (
	"context"
	"sync"
	"time"

	"github.com/mir00r/domain-router/internal/compiler"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/ports"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/mir00r/domain-router/internal/routing"
	"github.com/mir00r/domain-router/internal/validation"
	"github.com/mir00r/domain-router/pkg/logger"
)

const routingServiceComponent = "routing_service"

// EditFunc is one step of an edit. It receives the current model and returns
// the updated one without mutating its input.
type EditFunc func(m *domain.DomainRouting) (*domain.DomainRouting, error)

// RoutingService loads routing records, applies pool and rule edits, and
// compiles and applies the resulting configuration.
type RoutingService struct {
	store   ports.RecordStore
	applier ports.ConfigApplier
	system  ports.SystemBackendResolver

	pools   *PoolManager
	rules   *routing.RouteEngine
	metrics *Metrics
	logger  *logger.Logger

	optsMu  sync.RWMutex
	options compiler.Options

	// serializes read-modify-write cycles and applies within this process
	mu sync.Mutex
}

// NewRoutingService creates a new routing service. applier may be nil for
// callers that only edit and preview.
func NewRoutingService(
	store ports.RecordStore,
	applier ports.ConfigApplier,
	system ports.SystemBackendResolver,
	options compiler.Options,
	metrics *Metrics,
	log *logger.Logger,
) *RoutingService {
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &RoutingService{
		store:   store,
		applier: applier,
		system:  system,
		pools:   NewPoolManager(log),
		rules:   routing.NewRouteEngine(log),
		metrics: metrics,
		logger:  log,
		options: options,
	}
}

// Pools returns the pool manager used for edits
func (s *RoutingService) Pools() *PoolManager {
	return s.pools
}

// Rules returns the routing engine used for edits
func (s *RoutingService) Rules() *routing.RouteEngine {
	return s.rules
}

// Metrics returns the service metrics
func (s *RoutingService) Metrics() *Metrics {
	return s.metrics
}

// SetCompilerOptions replaces the options used by later compilations
func (s *RoutingService) SetCompilerOptions(options compiler.Options) {
	s.optsMu.Lock()
	defer s.optsMu.Unlock()
	s.options = options
}

// CompilerOptions returns the options currently in use
func (s *RoutingService) CompilerOptions() compiler.Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.options
}

// Get loads the model for host
func (s *RoutingService) Get(ctx context.Context, host string) (*domain.DomainRouting, error) {
	rec, err := s.store.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	return record.ToModel(rec)
}

// List returns all stored domains
func (s *RoutingService) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Create stores a new enabled model for host that sends all traffic to the
// system backend
func (s *RoutingService) Create(ctx context.Context, host string) (*domain.DomainRouting, error) {
	m, err := domain.NewDomainRouting(host)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(ctx, m.Domain); err == nil {
		return nil, lberrors.NewError(lberrors.ErrCodeDuplicateName, routingServiceComponent, "domain already exists").
			WithMetadata("domain", m.Domain)
	} else if !lberrors.HasCode(err, lberrors.ErrCodeRecordNotFound) {
		return nil, err
	}

	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	s.logger.DomainLogger(m.Domain).Info("Domain created")
	return m, nil
}

// Delete removes the record for host
func (s *RoutingService) Delete(ctx context.Context, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, host); err != nil {
		return err
	}
	s.logger.DomainLogger(host).Info("Domain deleted")
	return nil
}

// Import decodes raw in either record format, validates it and stores it,
// replacing any existing record for the same domain
func (s *RoutingService) Import(ctx context.Context, raw []byte) (*domain.DomainRouting, error) {
	m, err := record.DecodeModel(raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	s.logger.DomainLogger(m.Domain).Info("Domain imported")
	return m, nil
}

// Edit loads the model for host, applies ops in order and stores the result
// if it validates. Nothing is stored when any op or the validation fails.
func (s *RoutingService) Edit(ctx context.Context, host string, ops ...EditFunc) (*domain.DomainRouting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.edit(ctx, host, ops)
	s.metrics.RecordEdit(err)
	return m, err
}

func (s *RoutingService) edit(ctx context.Context, host string, ops []EditFunc) (*domain.DomainRouting, error) {
	m, err := s.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	original := m.Domain

	for _, op := range ops {
		if m, err = op(m); err != nil {
			return nil, err
		}
	}
	if m.Domain != original {
		return nil, lberrors.NewInvalidFieldError(routingServiceComponent, "domain", m.Domain).
			WithMetadata("reason", "an edit cannot rename the domain")
	}

	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate returns every violation in the stored model for host
func (s *RoutingService) Validate(ctx context.Context, host string) (lberrors.ValidationErrors, error) {
	m, err := s.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	errs := validation.Validate(m)
	s.metrics.RecordValidation(len(errs) == 0)
	return errs, nil
}

// Compile renders the stored model for host
func (s *RoutingService) Compile(ctx context.Context, host string) (*compiler.Output, error) {
	m, err := s.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	if err := s.validate(m); err != nil {
		return nil, err
	}
	opts, err := s.resolveOptions(ctx)
	if err != nil {
		return nil, err
	}

	out, err := compiler.Compile(m, opts)
	if err != nil {
		s.metrics.RecordCompilation(0, 1, 0)
		return nil, err
	}
	return out, nil
}

// Preview returns the complete configuration Apply would install
func (s *RoutingService) Preview(ctx context.Context) (string, error) {
	config, _, err := s.build(ctx)
	return config, err
}

// Apply compiles every enabled domain and hands the assembled configuration
// to the applier. Failures are returned as reported and never retried.
func (s *RoutingService) Apply(ctx context.Context) (*ports.ApplyReport, error) {
	if s.applier == nil {
		return nil, lberrors.NewError(lberrors.ErrCodeApplyFailed, routingServiceComponent, "no config applier configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	config, domains, err := s.build(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := s.applier.Apply(ctx, config)
	s.metrics.RecordApply(err, report != nil && report.Unchanged, time.Since(start))

	log := s.logger.WithFields(map[string]interface{}{
		"component": routingServiceComponent,
		"domains":   domains,
	})
	if report != nil {
		log = log.WithField("transaction_id", report.TransactionID)
	}
	if err != nil {
		log.WithError(err).Error("Apply failed")
		return report, err
	}
	log.Info("Routing configuration applied")
	return report, nil
}

// build validates and compiles every stored domain. Any invalid domain
// aborts the build so a partial configuration is never produced.
func (s *RoutingService) build(ctx context.Context) (string, int, error) {
	hosts, err := s.store.List(ctx)
	if err != nil {
		return "", 0, err
	}

	models := make([]*domain.DomainRouting, 0, len(hosts))
	for _, host := range hosts {
		m, err := s.Get(ctx, host)
		if err != nil {
			return "", 0, err
		}
		if err := s.validate(m); err != nil {
			return "", 0, err
		}
		models = append(models, m)
	}

	opts, err := s.resolveOptions(ctx)
	if err != nil {
		return "", 0, err
	}

	start := time.Now()
	outputs := make([]*compiler.Output, 0, len(models))
	for _, m := range models {
		out, err := compiler.Compile(m, opts)
		if err != nil {
			s.metrics.RecordCompilation(len(outputs), 1, time.Since(start))
			return "", 0, err
		}
		if !out.Empty() {
			outputs = append(outputs, out)
		}
	}
	s.metrics.RecordCompilation(len(outputs), 0, time.Since(start))

	s.logger.CompilerLogger().WithFields(map[string]interface{}{
		"stored":   len(models),
		"compiled": len(outputs),
	}).Debug("Compiled routing configuration")

	config, err := compiler.Assemble(outputs, opts)
	if err != nil {
		return "", 0, err
	}
	return config, len(outputs), nil
}

func (s *RoutingService) resolveOptions(ctx context.Context) (compiler.Options, error) {
	opts := s.CompilerOptions()
	if s.system == nil {
		return opts, nil
	}
	system, err := s.system.Resolve(ctx)
	if err != nil {
		return opts, err
	}
	opts.System = system
	return opts, nil
}

func (s *RoutingService) validate(m *domain.DomainRouting) error {
	errs := validation.Validate(m)
	s.metrics.RecordValidation(len(errs) == 0)
	if len(errs) > 0 {
		return lberrors.NewValidationFailedError(routingServiceComponent, errs).
			WithMetadata("domain", m.Domain)
	}
	return nil
}

func (s *RoutingService) persist(ctx context.Context, m *domain.DomainRouting) error {
	if err := s.validate(m); err != nil {
		return err
	}
	if err := s.store.Put(ctx, record.FromModel(m)); err != nil {
		return err
	}
	s.logger.DomainLogger(m.Domain).WithFields(map[string]interface{}{
		"pools": len(m.Backends),
		"rules": len(m.ACLRules),
	}).Debug("Routing record stored")
	return nil
}
