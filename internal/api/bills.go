package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/metrics"
	"github.com/mtowater/waterbilling/internal/storage"
)

// RegisterBillHandlers registers bill entry and bill lifecycle endpoints.
func RegisterBillHandlers(mux *http.ServeMux, st storage.Storage, svc *billing.Service, authSvc *auth.Service) {
	h := &billHandler{st: st, svc: svc, authSvc: authSvc}

	mux.Handle("/api/v1/bills", protect(authSvc, "bills", "write", http.HandlerFunc(h.handleBills)))
	mux.Handle("/api/v1/bills/preview", protect(authSvc, "bills", "read", http.HandlerFunc(h.handlePreview)))
	mux.Handle("/api/v1/bills/overdue", protect(authSvc, "bills", "read", http.HandlerFunc(h.handleOverdue)))
	mux.Handle("/api/v1/bills/", protect(authSvc, "bills", "read", http.HandlerFunc(h.handleBillItem)))
}

type billHandler struct {
	st      storage.Storage
	svc     *billing.Service
	authSvc *auth.Service
}

type createBillRequest struct {
	CustomerID      string  `json:"customerid"`
	BilledMonth     string  `json:"billedmonth"` // "2006-01" or RFC 3339
	PreviousReading float64 `json:"previousreading"`
	CurrentReading  float64 `json:"currentreading"`
	EncodedBy       string  `json:"encodedby,omitempty"`
}

func parseMonth(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (h *billHandler) handleBills(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDurationSeconds.WithLabelValues("bills", r.URL.Path).Observe(time.Since(start).Seconds())
	}()
	metrics.RequestsTotal.WithLabelValues("bills").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	month, ok := parseMonth(req.BilledMonth)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "billedmonth must be YYYY-MM"})
		return
	}

	bill, err := h.svc.CreateBill(r.Context(), billing.CreateBillInput{
		CustomerID:      req.CustomerID,
		BilledMonth:     month,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		EncodedBy:       operatorName(r, h.st, req.EncodedBy),
	})
	if err != nil {
		metrics.RequestErrorsTotal.WithLabelValues("bills", r.URL.Path, "400").Inc()
		writeServiceError(w, err)
		return
	}
	metrics.BillsCreatedTotal.Inc()
	writeJSON(w, http.StatusCreated, bill)
}

func (h *billHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		CustomerID      string  `json:"customerid"`
		PreviousReading float64 `json:"previousreading"`
		CurrentReading  float64 `json:"currentreading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	preview, err := h.svc.PreviewBill(r.Context(), req.CustomerID, req.PreviousReading, req.CurrentReading)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type overdueBillDTO struct {
	Bill      storage.Bill     `json:"bill"`
	Customer  storage.Customer `json:"customer"`
	DueDate   time.Time        `json:"due_date"`
	Surcharge float64          `json:"surcharge"`
	Status    string           `json:"status"`
}

func (h *billHandler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, ok := parseMonth(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "as_of must be a date"})
			return
		}
		asOf = t
	}
	overdue, err := h.svc.ListOverdueBills(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]overdueBillDTO, 0, len(overdue))
	for _, ob := range overdue {
		out = append(out, overdueBillDTO{
			Bill:      ob.Bill,
			Customer:  ob.Customer,
			DueDate:   ob.DueDate,
			Surcharge: ob.Surcharge,
			Status:    "Overdue",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBillItem serves /api/v1/bills/{id} plus the {id}/readings and
// {id}/unpay subresources.
func (h *billHandler) handleBillItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/bills/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 2 && parts[1] == "readings" {
		h.serveReadings(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "unpay" {
		h.serveUnpay(w, r, id)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		bill, err := h.st.GetBill(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if bill == nil {
			http.NotFound(w, r)
			return
		}
		cfg, err := h.svc.SurchargeConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			storage.Bill
			DisplayStatus string `json:"display_status"`
		}{*bill, billing.DisplayStatus(*bill, cfg, time.Now())})
	case http.MethodDelete:
		if !authorized(r, h.authSvc, "bills", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err := h.svc.DeleteBill(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *billHandler) serveReadings(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !authorized(r, h.authSvc, "bills", "write") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		PreviousReading float64 `json:"previousreading"`
		CurrentReading  float64 `json:"currentreading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	bill, err := h.svc.UpdateBillReadings(r.Context(), id, req.PreviousReading, req.CurrentReading)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (h *billHandler) serveUnpay(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !authorized(r, h.authSvc, "payments", "write") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		RequestedBy string `json:"requested_by,omitempty"`
	}
	// Body is optional; the token identity wins when present.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.svc.Unpay(r.Context(), id, operatorName(r, h.st, req.RequestedBy)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
