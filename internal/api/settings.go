package api

import (
	"encoding/json"
	"net/http"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/config"
	"github.com/mtowater/waterbilling/internal/notification"
	"github.com/mtowater/waterbilling/internal/storage"
	"github.com/mtowater/waterbilling/internal/tariff"
)

// RegisterSettingsHandlers registers tenant configuration endpoints: the
// surcharge schedule, the notification config, and the tariff import.
func RegisterSettingsHandlers(mux *http.ServeMux, st storage.Storage, svc *billing.Service, notifier *notification.Service, authSvc *auth.Service) {
	h := &settingsHandler{st: st, svc: svc, notifier: notifier, authSvc: authSvc}

	mux.Handle("/api/v1/surcharge-settings", protect(authSvc, "settings", "read", http.HandlerFunc(h.handleSurcharge)))
	mux.Handle("/api/v1/notifications/config", protect(authSvc, "settings", "read", http.HandlerFunc(h.handleEmailConfig)))
	mux.Handle("/api/v1/notifications/test", protect(authSvc, "settings", "write", http.HandlerFunc(h.handleEmailTest)))
	mux.Handle("/api/v1/tariff/import", protect(authSvc, "settings", "write", http.HandlerFunc(h.handleTariffImport)))
}

type settingsHandler struct {
	st       storage.Storage
	svc      *billing.Service
	notifier *notification.Service
	authSvc  *auth.Service
}

func (h *settingsHandler) handleSurcharge(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.svc.SurchargeConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		if !authorized(r, h.authSvc, "settings", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var s storage.SurchargeSettings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
		if s.DueDay < 1 || s.DueDay > 31 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "due_day must be between 1 and 31"})
			return
		}
		if s.FirstSurchargePercent < 0 || s.SecondSurchargePercent < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "surcharge percentages cannot be negative"})
			return
		}
		if err := h.st.SaveSurchargeSettings(r.Context(), s); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *settingsHandler) handleEmailConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.notifier.GetConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cfg == nil {
			http.NotFound(w, r)
			return
		}
		// Never echo secrets back.
		cfg.Password = ""
		cfg.APIKey = ""
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		if !authorized(r, h.authSvc, "settings", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var cfg storage.EmailConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
		if err := h.notifier.SaveConfig(r.Context(), cfg); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *settingsHandler) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		To     string               `json:"to"`
		Config *storage.EmailConfig `json:"config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "recipient is required"})
		return
	}
	cfg := req.Config
	if cfg == nil {
		stored, err := h.notifier.GetConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if stored == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no email config saved"})
			return
		}
		cfg = stored
	}
	if err := h.notifier.TestConfig(r.Context(), *cfg, req.To); err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTariffImport parses the configured tariff schedule PDF and upserts the
// customer types it lists.
func (h *settingsHandler) handleTariffImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path string `json:"path,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	path := req.Path
	if path == "" {
		path = config.FromEnv().TariffPDFPath
	}

	schedule, err := tariff.Import(r.Context(), h.st, path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
