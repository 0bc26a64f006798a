package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/qhse-systems/qhse-outbox/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type (
	// loginRequest is the POST /auth/login body.
	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// loginResponse is the POST /auth/login success body.
	loginResponse struct {
		AccessToken string `json:"access_token"` //nolint: tagliatelle
		TokenType   string `json:"token_type"`   //nolint: tagliatelle
	}

	// createSupplierRequest is the POST /suppliers body.
	createSupplierRequest struct {
		Name                string  `json:"name"`
		CertificationExpiry *string `json:"certification_expiry,omitempty"` //nolint: tagliatelle
	}

	// updateCertificationRequest is the PATCH /suppliers/{id}/certification body.
	updateCertificationRequest struct {
		CertificationExpiry *string `json:"certification_expiry"` //nolint: tagliatelle
	}

	// supplierResponse is the JSON view of a Supplier.
	supplierResponse struct {
		ID                  int64   `json:"id"`
		Name                string  `json:"name"`
		CertificationExpiry *string `json:"certification_expiry,omitempty"` //nolint: tagliatelle
		CreatedAt           string  `json:"created_at"`                    //nolint: tagliatelle
	}

	// supplierDetailResponse is the JSON view for GET /suppliers/{id}.
	supplierDetailResponse struct {
		supplierResponse
		NCOpen     int  `json:"nc_open"`     //nolint: tagliatelle
		NCOpenHigh int  `json:"nc_open_high"` //nolint: tagliatelle
		NCClosed   int  `json:"nc_closed"`   //nolint: tagliatelle
		IsAtRisk   bool `json:"is_at_risk"`  //nolint: tagliatelle
	}

	// createNCRequest is the POST /ncs body.
	createNCRequest struct {
		SupplierID  int64  `json:"supplier_id"` //nolint: tagliatelle
		Severity    string `json:"severity"`
		Description string `json:"description"`
	}

	// ncResponse is the JSON view of a NonConformity.
	ncResponse struct {
		ID          int64  `json:"id"`
		SupplierID  int64  `json:"supplier_id"` //nolint: tagliatelle
		Severity    string `json:"severity"`
		Status      string `json:"status"`
		Description string `json:"description"`
		CreatedAt   string `json:"created_at"` //nolint: tagliatelle
	}

	// auditEntryResponse is the JSON view of an AuditLogEntry.
	auditEntryResponse struct {
		ID         int64           `json:"id"`
		Actor      string          `json:"actor"`
		Action     string          `json:"action"`
		EntityType string          `json:"entity_type"` //nolint: tagliatelle
		EntityID   string          `json:"entity_id"`   //nolint: tagliatelle
		Meta       json.RawMessage `json:"meta"`
		CreatedAt  string          `json:"created_at"` //nolint: tagliatelle
	}
)

func toSupplierResponse(s *storage.Supplier) supplierResponse {
	resp := supplierResponse{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}

	if s.CertificationExpiry != nil {
		formatted := s.CertificationExpiry.Format("2006-01-02")
		resp.CertificationExpiry = &formatted
	}

	return resp
}

func toNCResponse(nc *storage.NonConformity) ncResponse {
	return ncResponse{
		ID:          nc.ID,
		SupplierID:  nc.SupplierID,
		Severity:    nc.Severity,
		Status:      nc.Status,
		Description: nc.Description,
		CreatedAt:   nc.CreatedAt.Format(time.RFC3339),
	}
}

func toAuditEntryResponse(e *storage.AuditLogEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:         e.ID,
		Actor:      e.Actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Meta:       e.Meta,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseLimitOffset(r *http.Request) (limit, offset int, problem *ProblemDetail) {
	limit = defaultListLimit
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return 0, 0, BadRequest("limit must be an integer between 1 and 100")
		}

		limit = n
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, BadRequest("offset must be a non-negative integer")
		}

		offset = n
	}

	return limit, offset, nil
}

func parseDate(value *string) (*time.Time, *ProblemDetail) {
	if value == nil || *value == "" {
		return nil, nil
	}

	t, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return nil, BadRequest("certification_expiry must be formatted YYYY-MM-DD")
	}

	return &t, nil
}

// handleLogin authenticates username/password against the static login
// table and, on success, issues a signed bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body must be valid JSON"))

		return
	}

	role, err := s.userStore.Authenticate(req.Username, req.Password)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Unauthorized("invalid username or password"))

		return
	}

	token, err := s.tokenIssuer.Issue(req.Username, role)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to issue token"))

		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}

// handleCreateSupplier creates a supplier. Supplier creation enqueues no
// outbox event - only NC_CREATED, NC_CLOSED, and SUPPLIER_CERT_UPDATED do.
func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req createSupplierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body must be valid JSON"))

		return
	}

	if req.Name == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("name is required"))

		return
	}

	certExpiry, problem := parseDate(req.CertificationExpiry)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	supplier, err := s.supplierStore.Create(r.Context(), req.Name, certExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrSupplierNameTaken) {
			WriteErrorResponse(w, r, s.logger, BadRequest("a supplier with this name already exists"))

			return
		}

		s.logger.Error("create supplier failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to create supplier"))

		return
	}

	writeJSON(w, http.StatusCreated, toSupplierResponse(supplier))
}

// handleListSuppliers returns a paginated supplier list.
func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	limit, offset, problem := parseLimitOffset(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	suppliers, err := s.supplierStore.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list suppliers failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list suppliers"))

		return
	}

	resp := make([]supplierResponse, 0, len(suppliers))
	for _, supplier := range suppliers {
		resp = append(resp, toSupplierResponse(supplier))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetSupplier returns supplier detail, including NC totals and the
// is_at_risk flag.
func (s *Server) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, problem := parseIDParam(r, "id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	supplier, err := s.supplierStore.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSupplierNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("supplier not found"))

			return
		}

		s.logger.Error("get supplier failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load supplier"))

		return
	}

	ncOpen, ncOpenHigh, err := s.ncStore.CountsForSupplier(r.Context(), id)
	if err != nil {
		s.logger.Error("supplier nc counts failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load supplier"))

		return
	}

	certExpired := supplier.CertificationExpiry != nil && supplier.CertificationExpiry.Before(time.Now())

	writeJSON(w, http.StatusOK, supplierDetailResponse{
		supplierResponse: toSupplierResponse(supplier),
		NCOpen:           ncOpen,
		NCOpenHigh:       ncOpenHigh,
		IsAtRisk:         certExpired || ncOpenHigh > 0,
	})
}

// handleUpdateCertification updates a supplier's certification expiry and
// enqueues SUPPLIER_CERT_UPDATED.
func (s *Server) handleUpdateCertification(w http.ResponseWriter, r *http.Request) {
	id, problem := parseIDParam(r, "id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var req updateCertificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body must be valid JSON"))

		return
	}

	certExpiry, problem := parseDate(req.CertificationExpiry)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	supplier, err := s.supplierStore.UpdateCertification(r.Context(), id, certExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrSupplierNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("supplier not found"))

			return
		}

		s.logger.Error("update certification failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to update certification"))

		return
	}

	writeJSON(w, http.StatusOK, toSupplierResponse(supplier))
}

// handleCreateNC creates an open non-conformity and enqueues NC_CREATED.
func (s *Server) handleCreateNC(w http.ResponseWriter, r *http.Request) {
	var req createNCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body must be valid JSON"))

		return
	}

	if req.Description == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("description is required"))

		return
	}

	if !storage.ValidSeverity(req.Severity) {
		WriteErrorResponse(w, r, s.logger, BadRequest("severity must be one of: low, medium, high"))

		return
	}

	if _, err := s.supplierStore.Get(r.Context(), req.SupplierID); err != nil {
		if errors.Is(err, storage.ErrSupplierNotFound) {
			WriteErrorResponse(w, r, s.logger, BadRequest("supplier does not exist"))

			return
		}

		s.logger.Error("supplier lookup failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to create non-conformity"))

		return
	}

	nc, err := s.ncStore.Create(r.Context(), req.SupplierID, req.Severity, req.Description)
	if err != nil {
		s.logger.Error("create non-conformity failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to create non-conformity"))

		return
	}

	writeJSON(w, http.StatusCreated, toNCResponse(nc))
}

// handleCloseNC transitions a non-conformity OPEN -> CLOSED and enqueues
// NC_CLOSED.
func (s *Server) handleCloseNC(w http.ResponseWriter, r *http.Request) {
	id, problem := parseIDParam(r, "id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	nc, err := s.ncStore.Close(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNCNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("non-conformity not found"))
		case errors.Is(err, storage.ErrNCAlreadyClosed):
			WriteErrorResponse(w, r, s.logger, Conflict("non-conformity is already closed"))
		default:
			s.logger.Error("close non-conformity failed", "error", err)
			WriteErrorResponse(w, r, s.logger, InternalServerError("failed to close non-conformity"))
		}

		return
	}

	writeJSON(w, http.StatusOK, toNCResponse(nc))
}

// handleListNCs returns a filtered, paginated non-conformity list.
func (s *Server) handleListNCs(w http.ResponseWriter, r *http.Request) {
	limit, offset, problem := parseLimitOffset(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	status := r.URL.Query().Get("status")
	severity := r.URL.Query().Get("severity")

	ncs, err := s.ncStore.List(r.Context(), status, severity, limit, offset)
	if err != nil {
		s.logger.Error("list non-conformities failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list non-conformities"))

		return
	}

	resp := make([]ncResponse, 0, len(ncs))
	for _, nc := range ncs {
		resp = append(resp, toNCResponse(nc))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleKPI returns the aggregate KPI snapshot.
func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.kpiStore.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("kpi snapshot failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to compute KPI snapshot"))

		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleAuditLog returns the newest audit entries, descending by id, bounded
// by limit. The offset query parameter is validated but not applied: every
// request starts from the newest entry.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, _, problem := parseLimitOffset(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	entries, err := s.auditStore.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list audit log failed", "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list audit log"))

		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toAuditEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth answers liveness probes unconditionally: if the process can
// run this handler, it is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady answers readiness probes: the database must be reachable and
// migrated to a clean state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.healthChecker.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"detail": err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseIDParam(r *http.Request, name string) (int64, *ProblemDetail) {
	raw := r.PathValue(name)

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, BadRequest(name + " must be a positive integer")
	}

	return id, nil
}
