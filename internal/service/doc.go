/*
Package service implements the Application Service layer of the domain router.

It sits between the transports (admin API, CLI) and the routing core. Records
are loaded from a ports.RecordStore, edited as whole models, validated, and
written back as one unit. The last write wins.

Key Components:

PoolManager:
Adds, renames and deletes backend pools and their servers. A pool rename is
cascaded to every rule and to the default backend that referenced it.

	pm := service.NewPoolManager(logger)
	m, err := pm.AddPool(m, domain.NewBackendPool("be_api", server))

RoutingService:
Wires the store, the config applier and the system backend resolver.

	svc := service.NewRoutingService(store, applier, resolver, opts, metrics, logger)

	m, err := svc.Edit(ctx, "example.com",
		svc.AddPool(pool),
		svc.SetRoutingMode(domain.RoutingAdvanced),
		svc.AddRule(rule),
	)

Edit applies every step to a copy of the model. If a step fails, or the
result does not validate, nothing is stored.

	report, err := svc.Apply(ctx)

Apply validates every stored domain, resolves the system backend, compiles
enabled domains, assembles one configuration and hands it to the applier.
An apply failure is returned as the applier reported it and is never retried.

Metrics:
Prometheus counters and histograms for validations, compilations, applies,
edits and configuration reloads, served from the service's own registry.

ConfigReloadService:
Watches the configuration file with fsnotify and passes each valid new
version to the registered callbacks (log level, system backend, compiler
options).

Package Structure:
- pool_manager.go: backend pool and server operations
- routing_service.go: record lifecycle, compile and apply
- edits.go: EditFunc adapters for pool and rule operations
- metrics.go: Prometheus metrics
- config_reload.go: configuration hot-reload
*/
package service
