// Package handler implements the HTTP admin API of the domain router. It is a
// thin transport over service.RoutingService: requests are decoded into the
// persisted record shapes, converted to the routing model and handed to the
// service; every failure is rendered by middleware.WriteError.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/middleware"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/mir00r/domain-router/internal/service"
	"github.com/mir00r/domain-router/pkg/logger"
)

const (
	adminComponent = "admin_api"
	// maxBodyBytes bounds every admin request body
	maxBodyBytes = 1 << 20
)

// AdminHandler provides the domain routing endpoints
type AdminHandler struct {
	service *service.RoutingService
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *service.RoutingService, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AdminHandler{service: svc, logger: log}
}

// CreateDomainRequest is the body of POST /domains
type CreateDomainRequest struct {
	Domain string `json:"domain"`
}

// DomainSettingsRequest is the body of PUT /domains/{domain}/settings. Only
// the fields present are changed.
type DomainSettingsRequest struct {
	RoutingMode    *string           `json:"routingMode,omitempty"`
	DefaultBackend *string           `json:"defaultBackend,omitempty"`
	Aliases        *[]string         `json:"aliases,omitempty"`
	SSL            *record.SSLRecord `json:"ssl,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

// MoveRuleRequest is the body of POST /domains/{domain}/rules/{index}/move
type MoveRuleRequest struct {
	To int `json:"to"`
}

// AddressRequest is the body of POST /address/resolve. Either Address (with
// an optional AddressType) or the raw form fields select the address.
type AddressRequest struct {
	Address     string `json:"address,omitempty"`
	AddressType string `json:"addressType,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        string `json:"port,omitempty"`
	Path        string `json:"path,omitempty"`
}

// AddressResponse carries the canonical address
type AddressResponse struct {
	Address     string `json:"address"`
	AddressType string `json:"addressType"`
}

// DomainListResponse is the body of GET /domains
type DomainListResponse struct {
	Domains []string `json:"domains"`
	Count   int      `json:"count"`
}

// ValidationResponse is the body of GET /domains/{domain}/validate
type ValidationResponse struct {
	Domain     string                  `json:"domain"`
	Valid      bool                    `json:"valid"`
	Violations []*lberrors.RoutingError `json:"violations"`
}

// RegisterRoutes mounts the admin endpoints on router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/domains", h.ListDomainsHandler).Methods(http.MethodGet)
	router.HandleFunc("/domains", h.CreateDomainHandler).Methods(http.MethodPost)
	router.HandleFunc("/domains/import", h.ImportDomainHandler).Methods(http.MethodPost)

	d := router.PathPrefix("/domains/{domain}").Subrouter()
	d.NotFoundHandler = router.NotFoundHandler
	d.MethodNotAllowedHandler = router.MethodNotAllowedHandler
	d.HandleFunc("", h.GetDomainHandler).Methods(http.MethodGet)
	d.HandleFunc("", h.DeleteDomainHandler).Methods(http.MethodDelete)
	d.HandleFunc("/settings", h.UpdateSettingsHandler).Methods(http.MethodPut)

	d.HandleFunc("/pools", h.AddPoolHandler).Methods(http.MethodPost)
	d.HandleFunc("/pools/{pool}", h.UpdatePoolHandler).Methods(http.MethodPut)
	d.HandleFunc("/pools/{pool}", h.DeletePoolHandler).Methods(http.MethodDelete)
	d.HandleFunc("/pools/{pool}/servers", h.AddServerHandler).Methods(http.MethodPost)
	d.HandleFunc("/pools/{pool}/servers/{index:[0-9]+}", h.UpdateServerHandler).Methods(http.MethodPut)
	d.HandleFunc("/pools/{pool}/servers/{index:[0-9]+}", h.RemoveServerHandler).Methods(http.MethodDelete)

	d.HandleFunc("/rules", h.AddRuleHandler).Methods(http.MethodPost)
	d.HandleFunc("/rules/{index:[0-9]+}", h.UpdateRuleHandler).Methods(http.MethodPut)
	d.HandleFunc("/rules/{index:[0-9]+}", h.RemoveRuleHandler).Methods(http.MethodDelete)
	d.HandleFunc("/rules/{index:[0-9]+}/move", h.MoveRuleHandler).Methods(http.MethodPost)

	d.HandleFunc("/validate", h.ValidateHandler).Methods(http.MethodGet)
	d.HandleFunc("/compiled", h.CompiledHandler).Methods(http.MethodGet)
	d.HandleFunc("/route", h.RouteHandler).Methods(http.MethodGet)

	router.HandleFunc("/config/preview", h.PreviewHandler).Methods(http.MethodGet)
	router.HandleFunc("/apply", h.ApplyHandler).Methods(http.MethodPost)
	router.HandleFunc("/address/resolve", h.ResolveAddressHandler).Methods(http.MethodPost)
}

// ListDomainsHandler handles GET /domains
func (h *AdminHandler) ListDomainsHandler(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if hosts == nil {
		hosts = []string{}
	}
	writeJSON(w, http.StatusOK, DomainListResponse{Domains: hosts, Count: len(hosts)})
}

// CreateDomainHandler handles POST /domains
func (h *AdminHandler) CreateDomainHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	m, err := h.service.Create(r.Context(), req.Domain)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAction(r, "create_domain", m.Domain)
	writeJSON(w, http.StatusCreated, record.FromModel(m))
}

// ImportDomainHandler handles POST /domains/import. The body is a record in
// either the current or the legacy schema.
func (h *AdminHandler) ImportDomainHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, adminComponent, "failed to read request body"))
		return
	}

	m, err := h.service.Import(r.Context(), raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAction(r, "import_domain", m.Domain)
	writeJSON(w, http.StatusOK, record.FromModel(m))
}

// GetDomainHandler handles GET /domains/{domain}
func (h *AdminHandler) GetDomainHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record.FromModel(m))
}

// DeleteDomainHandler handles DELETE /domains/{domain}
func (h *AdminHandler) DeleteDomainHandler(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["domain"]
	if err := h.service.Delete(r.Context(), host); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAction(r, "delete_domain", host)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSettingsHandler handles PUT /domains/{domain}/settings. All present
// fields are applied as one edit.
func (h *AdminHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req DomainSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var ops []service.EditFunc
	if req.Aliases != nil {
		ops = append(ops, h.service.SetAliases(*req.Aliases))
	}
	if req.DefaultBackend != nil {
		ops = append(ops, h.service.SetDefaultBackend(domain.ParseBackendRef(*req.DefaultBackend)))
	}
	if req.RoutingMode != nil {
		mode, err := domain.ParseRoutingMode(*req.RoutingMode)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ops = append(ops, h.service.SetRoutingMode(mode))
	}
	if req.SSL != nil {
		mode, err := domain.ParseSSLMode(req.SSL.Mode)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ops = append(ops, h.service.SetSSL(domain.SSLConfig{Mode: mode, ForceHTTPS: req.SSL.ForceHTTPS}))
	}
	if req.Enabled != nil {
		ops = append(ops, h.service.SetEnabled(*req.Enabled))
	}

	h.edit(w, r, "update_settings", ops...)
}

// AddPoolHandler handles POST /domains/{domain}/pools
func (h *AdminHandler) AddPoolHandler(w http.ResponseWriter, r *http.Request) {
	pool, err := decodePool(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "add_pool", h.service.AddPool(pool))
}

// UpdatePoolHandler handles PUT /domains/{domain}/pools/{pool}. A different
// name in the body renames the pool and every rule pointing at it.
func (h *AdminHandler) UpdatePoolHandler(w http.ResponseWriter, r *http.Request) {
	pool, err := decodePool(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "update_pool", h.service.UpdatePool(mux.Vars(r)["pool"], pool))
}

// DeletePoolHandler handles DELETE /domains/{domain}/pools/{pool}
func (h *AdminHandler) DeletePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, "delete_pool", h.service.DeletePool(mux.Vars(r)["pool"]))
}

// AddServerHandler handles POST /domains/{domain}/pools/{pool}/servers
func (h *AdminHandler) AddServerHandler(w http.ResponseWriter, r *http.Request) {
	server, err := decodeServer(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "add_server", h.service.AddServer(mux.Vars(r)["pool"], server))
}

// UpdateServerHandler handles PUT /domains/{domain}/pools/{pool}/servers/{index}
func (h *AdminHandler) UpdateServerHandler(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server, err := decodeServer(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "update_server", h.service.UpdateServer(mux.Vars(r)["pool"], index, server))
}

// RemoveServerHandler handles DELETE /domains/{domain}/pools/{pool}/servers/{index}
func (h *AdminHandler) RemoveServerHandler(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "remove_server", h.service.RemoveServer(mux.Vars(r)["pool"], index))
}

// AddRuleHandler handles POST /domains/{domain}/rules
func (h *AdminHandler) AddRuleHandler(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeRule(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "add_rule", h.service.AddRule(rule))
}

// UpdateRuleHandler handles PUT /domains/{domain}/rules/{index}
func (h *AdminHandler) UpdateRuleHandler(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := decodeRule(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "update_rule", h.service.UpdateRule(index, rule))
}

// RemoveRuleHandler handles DELETE /domains/{domain}/rules/{index}
func (h *AdminHandler) RemoveRuleHandler(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "remove_rule", h.service.RemoveRule(index))
}

// MoveRuleHandler handles POST /domains/{domain}/rules/{index}/move
func (h *AdminHandler) MoveRuleHandler(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req MoveRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.edit(w, r, "move_rule", h.service.MoveRule(index, req.To))
}

// ValidateHandler handles GET /domains/{domain}/validate. Violations are
// reported in the body with status 200.
func (h *AdminHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["domain"]
	violations, err := h.service.Validate(r.Context(), host)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if violations == nil {
		violations = lberrors.ValidationErrors{}
	}
	writeJSON(w, http.StatusOK, ValidationResponse{
		Domain:     host,
		Valid:      len(violations) == 0,
		Violations: violations,
	})
}

// CompiledHandler handles GET /domains/{domain}/compiled
func (h *AdminHandler) CompiledHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Compile(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeText(w, out.Text())
}

// RouteHandler handles GET /domains/{domain}/route?path=/x and reports which
// backend would serve the path
func (h *AdminHandler) RouteHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.fail(w, r, lberrors.NewMissingFieldError(adminComponent, "path"))
		return
	}
	m, err := h.service.Get(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Rules().Route(m, path))
}

// PreviewHandler handles GET /config/preview
func (h *AdminHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	config, err := h.service.Preview(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeText(w, config)
}

// ApplyHandler handles POST /apply
func (h *AdminHandler) ApplyHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Apply(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.ApplyLogger(report.TransactionID).WithFields(map[string]interface{}{
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"subject":    middleware.SubjectFromContext(r.Context()),
		"unchanged":  report.Unchanged,
	}).Info("Apply requested through admin API")
	writeJSON(w, http.StatusOK, report)
}

// ResolveAddressHandler handles POST /address/resolve. It previews the
// canonical form of an address without touching any domain.
func (h *AdminHandler) ResolveAddressHandler(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		addr address.Address
		err  error
	)
	if req.Address != "" {
		addr, err = record.ParseAddress(req.Address, req.AddressType)
	} else {
		var t address.Type
		if t, err = address.ParseType(req.AddressType); err == nil {
			addr, err = address.New(t, req.Host, req.Port, req.Path)
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resolved, err := address.Resolve(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AddressResponse{Address: resolved, AddressType: string(addr.Type())})
}

// edit runs ops against the domain in the path and writes the stored result
func (h *AdminHandler) edit(w http.ResponseWriter, r *http.Request, action string, ops ...service.EditFunc) {
	host := mux.Vars(r)["domain"]
	m, err := h.service.Edit(r.Context(), host, ops...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAction(r, action, host)
	writeJSON(w, http.StatusOK, record.FromModel(m))
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := h.logger.WithFields(map[string]interface{}{
		"component":  adminComponent,
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"error_code": lberrors.GetErrorCode(err),
	})
	if lberrors.GetHTTPStatusCode(err) >= http.StatusInternalServerError {
		entry.WithError(err).Error("Admin request failed")
	} else {
		entry.WithError(err).Debug("Admin request rejected")
	}
	middleware.WriteError(w, err)
}

func (h *AdminHandler) logAction(r *http.Request, action, host string) {
	h.logger.DomainLogger(host).WithFields(map[string]interface{}{
		"component":  adminComponent,
		"action":     action,
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"subject":    middleware.SubjectFromContext(r.Context()),
	}).Info("Admin action completed")
}

// decodePool fills absent options with the pool defaults
func decodePool(r *http.Request) (domain.BackendPool, error) {
	defaults := domain.DefaultPoolOptions()
	req := record.PoolRecord{Options: record.OptionsRecord{
		HealthCheck:    defaults.HealthCheck,
		StickySession:  defaults.StickySession,
		Websocket:      defaults.Websocket,
		ForwardHeaders: defaults.ForwardHeaders,
	}}
	if err := decodeJSON(r, &req); err != nil {
		return domain.BackendPool{}, err
	}
	if req.Mode == "" {
		req.Mode = domain.ModeHTTP.String()
	}
	if req.Balance == "" {
		req.Balance = domain.BalanceRoundRobin.String()
	}
	return record.PoolToModel(req)
}

func decodeServer(r *http.Request) (domain.BackendServer, error) {
	var req record.ServerRecord
	if err := decodeJSON(r, &req); err != nil {
		return domain.BackendServer{}, err
	}
	return record.ServerToModel(req)
}

func decodeRule(r *http.Request) (domain.ACLRule, error) {
	var req record.ACLRuleRecord
	if err := decodeJSON(r, &req); err != nil {
		return domain.ACLRule{}, err
	}
	return record.RuleToModel(req)
}

func pathIndex(r *http.Request) (int, error) {
	raw := mux.Vars(r)["index"]
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, lberrors.NewInvalidFieldError(adminComponent, "index", raw)
	}
	return index, nil
}

// decodeJSON strictly decodes the request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, adminComponent, "failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return lberrors.NewError(lberrors.ErrCodeInvalidRequest, adminComponent, "request body too large")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return lberrors.NewError(lberrors.ErrCodeInvalidRequest, adminComponent, "request body is empty")
		}
		return lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, adminComponent, "invalid JSON body: "+err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}
