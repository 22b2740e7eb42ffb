package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/metrics"
	"github.com/mtowater/waterbilling/internal/storage"
)

// RegisterPaymentHandlers registers the settlement endpoints.
func RegisterPaymentHandlers(mux *http.ServeMux, st storage.Storage, svc *billing.Service, authSvc *auth.Service) {
	h := &paymentHandler{st: st, svc: svc}

	mux.Handle("/api/v1/payments/preview", protect(authSvc, "payments", "read", http.HandlerFunc(h.handlePreview)))
	mux.Handle("/api/v1/payments", protect(authSvc, "payments", "write", http.HandlerFunc(h.handleSettle)))
}

type paymentHandler struct {
	st  storage.Storage
	svc *billing.Service
}

type paymentRequest struct {
	CustomerID    string   `json:"customerid"`
	BillIDs       []string `json:"billids"`
	PaymentAmount *float64 `json:"payment_amount,omitempty"`
	PaymentDate   string   `json:"payment_date,omitempty"`
	PaidBy        string   `json:"paidby,omitempty"`
}

func (h *paymentHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	asOf := time.Now()
	if req.PaymentDate != "" {
		t, ok := parseMonth(req.PaymentDate)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment_date must be a date"})
			return
		}
		asOf = t
	}
	preview, err := h.svc.PaymentPreview(r.Context(), req.CustomerID, req.BillIDs, asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *paymentHandler) handleSettle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDurationSeconds.WithLabelValues("payments", r.URL.Path).Observe(time.Since(start).Seconds())
	}()
	metrics.RequestsTotal.WithLabelValues("payments").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}

	in := billing.SettlementInput{
		CustomerID:    req.CustomerID,
		BillIDs:       req.BillIDs,
		PaymentAmount: req.PaymentAmount,
		PaidBy:        operatorName(r, h.st, req.PaidBy),
	}
	if req.PaymentDate != "" {
		t, ok := parseMonth(req.PaymentDate)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment_date must be a date"})
			return
		}
		in.PaymentDate = t
	}

	result, err := h.svc.SettleBills(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrConcurrency):
			metrics.SettlementsTotal.WithLabelValues("conflict").Inc()
		case errors.Is(err, billing.ErrValidation):
			metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		default:
			metrics.SettlementsTotal.WithLabelValues("error").Inc()
		}
		writeServiceError(w, err)
		return
	}

	metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	metrics.SettledAmountTotal.Add(result.PaymentAmount)
	writeJSON(w, http.StatusOK, result)
}
