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

// RegisterCustomerHandlers registers customer and customer-type endpoints.
func RegisterCustomerHandlers(mux *http.ServeMux, st storage.Storage, svc *billing.Service, authSvc *auth.Service) {
	h := &customerHandler{st: st, svc: svc, authSvc: authSvc}

	mux.Handle("/api/v1/customer-types", protect(authSvc, "settings", "read", http.HandlerFunc(h.handleTypes)))
	mux.Handle("/api/v1/customer-types/", protect(authSvc, "settings", "read", http.HandlerFunc(h.handleTypeItem)))

	mux.Handle("/api/v1/customers", protect(authSvc, "customers", "read", http.HandlerFunc(h.handleCustomers)))
	mux.Handle("/api/v1/customers/", protect(authSvc, "customers", "read", http.HandlerFunc(h.handleCustomerItem)))
}

type customerHandler struct {
	st      storage.Storage
	svc     *billing.Service
	authSvc *auth.Service
}

func (h *customerHandler) handleTypes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDurationSeconds.WithLabelValues("customer-types", r.URL.Path).Observe(time.Since(start).Seconds())
	}()
	metrics.RequestsTotal.WithLabelValues("customer-types").Inc()

	switch r.Method {
	case http.MethodGet:
		types, err := h.st.ListCustomerTypes(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types)
	case http.MethodPost:
		if !authorized(r, h.authSvc, "settings", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var ct storage.CustomerType
		if err := json.NewDecoder(r.Body).Decode(&ct); err != nil || ct.Type == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type is required"})
			return
		}
		if err := h.st.UpsertCustomerType(r.Context(), ct); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ct)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *customerHandler) handleTypeItem(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/customer-types/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ct, err := h.st.GetCustomerType(r.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if ct == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, ct)
	case http.MethodPut:
		if !authorized(r, h.authSvc, "settings", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var ct storage.CustomerType
		if err := json.NewDecoder(r.Body).Decode(&ct); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
		ct.Type = name
		if err := h.st.UpsertCustomerType(r.Context(), ct); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ct)
	case http.MethodDelete:
		if !authorized(r, h.authSvc, "settings", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err := h.st.DeleteCustomerType(r.Context(), name); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *customerHandler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDurationSeconds.WithLabelValues("customers", r.URL.Path).Observe(time.Since(start).Seconds())
	}()
	metrics.RequestsTotal.WithLabelValues("customers").Inc()

	switch r.Method {
	case http.MethodGet:
		// ?credit=1 narrows to customers carrying an advance balance.
		var (
			customers []storage.Customer
			err       error
		)
		if r.URL.Query().Get("credit") != "" {
			customers, err = h.st.ListCustomersWithCredit(r.Context())
		} else {
			customers, err = h.st.ListCustomers(r.Context())
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, customers)
	case http.MethodPost:
		if !authorized(r, h.authSvc, "customers", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var c storage.Customer
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.CustomerID == "" || c.Name == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "customerid and name are required"})
			return
		}
		if c.Status == "" {
			c.Status = storage.CustomerActive
		}
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
		if err := h.st.CreateCustomer(r.Context(), c); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCustomerItem serves /api/v1/customers/{id} and its subresources
// {id}/credit, {id}/bills, and {id}/bills/suggest.
func (h *customerHandler) handleCustomerItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/customers/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		h.serveCustomer(w, r, id)
		return
	}

	switch parts[1] {
	case "credit":
		h.serveCredit(w, r, id)
	case "bills":
		if len(parts) == 3 && parts[2] == "suggest" {
			h.serveSuggest(w, r, id)
			return
		}
		h.serveBills(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *customerHandler) serveCustomer(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		c, err := h.st.GetCustomer(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if c == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut:
		if !authorized(r, h.authSvc, "customers", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var c storage.Customer
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
		existing, err := h.st.GetCustomer(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			http.NotFound(w, r)
			return
		}
		c.CustomerID = id
		// Credit moves only through settlement or the credit endpoint.
		c.CreditBalance = existing.CreditBalance
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = time.Now().UTC()
		if err := h.st.UpdateCustomer(r.Context(), c); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if !authorized(r, h.authSvc, "customers", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err := h.st.DeleteCustomer(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *customerHandler) serveCredit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !authorized(r, h.authSvc, "customers", "write") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var body struct {
		CreditBalance float64 `json:"credit_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	if body.CreditBalance < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "credit balance cannot be negative"})
		return
	}
	c, err := h.st.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if c == nil {
		http.NotFound(w, r)
		return
	}
	if err := h.st.AdjustCredit(r.Context(), id, body.CreditBalance); err != nil {
		writeServiceError(w, err)
		return
	}
	c.CreditBalance = body.CreditBalance
	writeJSON(w, http.StatusOK, c)
}

func (h *customerHandler) serveBills(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var (
		bills []storage.Bill
		err   error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		bills, err = h.st.ListBillsByStatus(r.Context(), id, status)
	} else {
		bills, err = h.st.ListBills(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (h *customerHandler) serveSuggest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sugg, err := h.svc.SuggestNextBill(r.Context(), id, time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sugg)
}
