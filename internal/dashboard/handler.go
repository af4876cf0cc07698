package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"civicsync/internal/audit"
	"civicsync/internal/auth"
	billingapp "civicsync/internal/billing/application"
	billing "civicsync/internal/billing/domain"
	"civicsync/internal/charts"
	"civicsync/internal/incident"
	"civicsync/internal/layoutcache"
	"civicsync/internal/observability/metrics"
	"civicsync/internal/payments"
	registryapp "civicsync/internal/registry/application"
	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

// Handler exposes the sync engine to the browser dashboard.
type Handler struct {
	registry     *registryapp.Service
	orchestrator *billingapp.Orchestrator
	charts       *charts.Adapter
	history      *charts.HistoryReader
	payments     *payments.Service
	incidents    map[string]*incident.Session
	location     *incident.Hub
	cache        *layoutcache.Cache
	auditLogger  audit.Logger

	// lifetime bounds fetches spawned for newly added accounts so they
	// outlive the triggering request but not the process.
	lifetime context.Context
}

// NewHandler constructs the dashboard handler.
func NewHandler(lifetime context.Context, reg *registryapp.Service, orch *billingapp.Orchestrator, chartAdapter *charts.Adapter, history *charts.HistoryReader, pay *payments.Service, incidents map[string]*incident.Session, location *incident.Hub, cache *layoutcache.Cache, auditLogger audit.Logger) (*Handler, error) {
	if reg == nil || orch == nil || chartAdapter == nil {
		return nil, errors.New("dashboard: nil core dependency")
	}
	if lifetime == nil {
		lifetime = context.Background()
	}
	return &Handler{
		registry:     reg,
		orchestrator: orch,
		charts:       chartAdapter,
		history:      history,
		payments:     pay,
		incidents:    incidents,
		location:     location,
		cache:        cache,
		auditLogger:  auditLogger,
		lifetime:     lifetime,
	}, nil
}

// ServeHTTP routes dashboard API requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/dashboard" && r.Method == http.MethodGet:
		h.handleDashboard(w, r)
	case path == "/api/v1/charts" && r.Method == http.MethodGet:
		h.handleCharts(w, r)
	case path == "/api/v1/profiles" && r.Method == http.MethodGet:
		writeJSON(w, h.registry.Profiles())
	case path == "/api/v1/profiles" && r.Method == http.MethodPost:
		h.handleCreateProfile(w, r)
	case strings.HasPrefix(path, "/api/v1/profiles/") && r.Method == http.MethodDelete:
		h.handleDeleteProfile(w, r, strings.TrimPrefix(path, "/api/v1/profiles/"))
	case path == "/api/v1/accounts" && r.Method == http.MethodPost:
		h.handleAddAccount(w, r)
	case strings.HasPrefix(path, "/api/v1/accounts/"):
		h.handleAccountSubroutes(w, r, strings.TrimPrefix(path, "/api/v1/accounts/"))
	case path == "/api/v1/payments/initiate" && r.Method == http.MethodPost:
		h.handleInitiatePayment(w, r)
	case strings.HasPrefix(path, "/api/v1/payments/"):
		h.handlePaymentSubroutes(w, r, strings.TrimPrefix(path, "/api/v1/payments/"))
	case strings.HasPrefix(path, "/api/v1/incidents/"):
		h.handleIncidentSubroutes(w, r, strings.TrimPrefix(path, "/api/v1/incidents/"))
	case path == "/api/v1/location" && r.Method == http.MethodPost:
		h.handleReportLocation(w, r)
	case path == "/api/v1/export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, "pdf")
	case path == "/api/v1/export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, "xlsx")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	store := h.orchestrator.Store()
	resp := struct {
		Accounts []registry.Account          `json:"accounts"`
		BillData map[string]billing.Snapshot `json:"bill_data"`
		InFlight []string                    `json:"in_flight"`
	}{
		Accounts: h.registry.Accounts(),
		BillData: store.All(),
		InFlight: store.InFlightIDs(),
	}
	if resp.Accounts == nil {
		resp.Accounts = []registry.Account{}
	}
	if resp.InFlight == nil {
		resp.InFlight = []string{}
	}
	writeJSON(w, resp)
}

func (h *Handler) handleCharts(w http.ResponseWriter, r *http.Request) {
	chartSet, err := h.charts.Compute(r.Context(), h.registry.Accounts(), h.orchestrator.Store().All())
	if err != nil {
		if errors.Is(err, charts.ErrSyncInProgress) {
			http.Error(w, "bill sync in progress", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, chartSet)
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	profile, err := h.registry.CreateProfile(r.Context(), req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, profile)
}

func (h *Handler) handleDeleteProfile(w http.ResponseWriter, r *http.Request, profileID string) {
	if profileID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.registry.DeleteProfile(r.Context(), profileID); err != nil {
		// Local removal already happened; surface the remote outcome.
		writeJSON(w, map[string]any{"removed": true, "remote_error": err.Error()})
		return
	}
	h.persistLayout()
	writeJSON(w, map[string]any{"removed": true})
}

func (h *Handler) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID string `json:"profile_id"`
		registry.AccountDraft
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	account, err := h.registry.AddAccount(r.Context(), req.ProfileID, req.AccountDraft)
	if err != nil && !errors.Is(err, registry.ErrRegistration) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Fetch the new account's bill outside the request lifetime.
	go h.orchestrator.Sync(h.lifetime, []registry.Account{account})

	resp := struct {
		Account   registry.Account `json:"account"`
		LocalOnly bool             `json:"local_only"`
	}{Account: account, LocalOnly: account.LocalOnly}
	writeJSON(w, resp)
}

func (h *Handler) handleAccountSubroutes(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	accountID := parts[0]
	if accountID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		h.handleRemoveAccount(w, r, accountID)
		return
	}
	if len(parts) == 2 && parts[1] == "refresh" && r.Method == http.MethodPost {
		h.handleRefresh(w, r, accountID)
		return
	}
	if len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet {
		h.handleHistory(w, r, accountID)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleRemoveAccount(w http.ResponseWriter, r *http.Request, accountID string) {
	account, ok := h.registry.Account(accountID)
	if !ok {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	err := h.registry.RemoveAccount(r.Context(), account)
	h.persistLayout()
	h.logAudit(r, "account.remove", accountID, map[string]any{
		"service_type": account.ServiceType,
		"remote_ok":    err == nil,
	})
	writeJSON(w, map[string]any{"removed": true, "remote_ok": err == nil})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request, accountID string) {
	account, ok := h.registry.Account(accountID)
	if !ok {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	snap := h.orchestrator.Refresh(r.Context(), account)
	h.persistLayout()
	writeJSON(w, snap)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, accountID string) {
	if h.history == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	account, ok := h.registry.Account(accountID)
	if !ok {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	history, err := h.history.History(r.Context(), account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, history)
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		http.Error(w, "payments unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	session, err := h.payments.Initiate(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, payments.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, session)
}

func (h *Handler) handlePaymentSubroutes(w http.ResponseWriter, r *http.Request, rest string) {
	if h.payments == nil {
		http.Error(w, "payments unavailable", http.StatusServiceUnavailable)
		return
	}
	parts := strings.Split(rest, "/")
	sessionID := parts[0]
	if sessionID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		session, err := h.payments.Session(sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, session)
		return
	}
	if len(parts) == 2 && parts[1] == "confirm" && r.Method == http.MethodPost {
		session, err := h.payments.Confirm(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logAudit(r, "payment.confirm", session.AccountID, map[string]any{
			"session": session.ID,
			"state":   session.State,
		})
		writeJSON(w, session)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleIncidentSubroutes(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	session, ok := h.incidents[parts[0]]
	if !ok {
		http.Error(w, "unknown report kind", http.StatusNotFound)
		return
	}

	switch {
	case parts[1] == "state" && r.Method == http.MethodGet:
		writeJSON(w, session.Snapshot())
	case parts[1] == "image" && r.Method == http.MethodPost:
		h.handleIncidentImage(w, r, session)
	case parts[1] == "clear" && r.Method == http.MethodPost:
		if err := session.ClearImage(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, session.Snapshot())
	case parts[1] == "submit" && r.Method == http.MethodPost:
		h.handleIncidentSubmit(w, r, parts[0], session)
	case parts[1] == "result" && r.Method == http.MethodPatch:
		h.handleIncidentEdit(w, r, session)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleIncidentImage(w http.ResponseWriter, r *http.Request, session *incident.Session) {
	var req struct {
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		http.Error(w, "invalid image encoding", http.StatusBadRequest)
		return
	}
	if err := session.SelectImage(image); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, session.Snapshot())
}

func (h *Handler) handleIncidentSubmit(w http.ResponseWriter, r *http.Request, kind string, session *incident.Session) {
	var req struct {
		Description string `json:"description"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := session.Submit(r.Context(), req.Description); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.logAudit(r, "incident.submit", kind, nil)
	writeJSON(w, session.Snapshot())
}

func (h *Handler) handleIncidentEdit(w http.ResponseWriter, r *http.Request, session *incident.Session) {
	var req struct {
		Description string `json:"description,omitempty"`
		Severity    string `json:"severity,omitempty"`
		PlateNumber string `json:"plate_number,omitempty"`
		Location    string `json:"location,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	err := session.EditResult(func(record *upstream.IncidentRecord) {
		if req.Description != "" {
			record.Description = req.Description
		}
		if req.Severity != "" {
			record.Severity = req.Severity
		}
		if req.PlateNumber != "" {
			record.PlateNumber = req.PlateNumber
		}
		if req.Location != "" {
			record.Location = req.Location
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, session.Snapshot())
}

func (h *Handler) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	if h.location == nil {
		http.Error(w, "location unavailable", http.StatusServiceUnavailable)
		return
	}
	var coords incident.Coordinates
	if err := json.NewDecoder(r.Body).Decode(&coords); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.location.Report(coords)
	writeJSON(w, map[string]any{"recorded": true})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	accounts := h.registry.Accounts()
	billData := h.orchestrator.Store().All()

	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "pdf":
		data, err = BuildDuesPDF(accounts, billData)
		contentType = "application/pdf"
	case "xlsx":
		data, err = BuildDuesXLSX(accounts, billData)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) persistLayout() {
	if h.cache == nil {
		return
	}
	h.cache.Save(h.registry.Accounts(), h.orchestrator.Store().All())
}

func (h *Handler) logAudit(r *http.Request, action, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:      auth.SubjectFromContext(r.Context()),
		Action:     action,
		ResourceID: resourceID,
		Metadata:   payload,
		IP:         audit.ClientIP(r),
		UserAgent:  r.UserAgent(),
		At:         time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
