/*
Package domain contains the routing model of a public domain served through the
load balancer.

A DomainRouting describes how inbound traffic for one hostname (and its
aliases) is dispatched across named backend pools:

	m, _ := domain.NewDomainRouting("example.com")
	api, _ := domain.NewBackendServer("api1", address.IPv4Port{Host: "10.0.0.5", Port: "4000"}, "")
	m.Backends = append(m.Backends, domain.NewBackendPool("be_api", api))
	m.RoutingMode = domain.RoutingAdvanced
	m.ACLRules = append(m.ACLRules, domain.ACLRule{
		Name:      "api",
		Condition: domain.PrefixMatch,
		Pattern:   "/api",
		Backend:   domain.NamedBackend("be_api"),
	})

Backend references:
A BackendRef is either the system backend (the host's built-in web server) or
the name of a pool. The zero value is the system backend, so a freshly created
model falls back to it until a pool is chosen.

Routing modes:
In Simple mode every request goes to the default backend. In Advanced mode the
ACL rules are evaluated in order, the first match wins and unmatched requests
go to the default backend.

The types here carry no behaviour that mutates a model in place; editing is
done by the pool manager and the ACL engine, which work on a Clone and return
the updated aggregate.
*/
package domain
