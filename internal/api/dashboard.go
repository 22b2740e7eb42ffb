package api

import (
	"net/http"
	"time"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/storage"
)

// RegisterDashboardHandler registers the operator dashboard summary endpoint.
func RegisterDashboardHandler(mux *http.ServeMux, st storage.Storage, svc *billing.Service, authSvc *auth.Service) {
	h := &dashboardHandler{st: st, svc: svc}
	mux.Handle("/api/v1/dashboard", protect(authSvc, "bills", "read", http.HandlerFunc(h.handleDashboard)))
}

type dashboardHandler struct {
	st  storage.Storage
	svc *billing.Service
}

type dashboardSummary struct {
	TotalCustomers      int     `json:"total_customers"`
	ActiveCustomers     int     `json:"active_customers"`
	CustomersWithCredit int     `json:"customers_with_credit"`
	TotalCredit         float64 `json:"total_credit"`
	UnpaidBills         int     `json:"unpaid_bills"`
	UnpaidAmount        float64 `json:"unpaid_amount"`
	OverdueBills        int     `json:"overdue_bills"`
	OverdueSurcharge    float64 `json:"overdue_surcharge"`
}

func (h *dashboardHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	now := time.Now()

	var sum dashboardSummary

	customers, err := h.st.ListCustomers(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sum.TotalCustomers = len(customers)
	for _, c := range customers {
		if c.Status == storage.CustomerActive {
			sum.ActiveCustomers++
		}
		if c.CreditBalance > 0 {
			sum.CustomersWithCredit++
			sum.TotalCredit += c.CreditBalance
		}
	}
	sum.TotalCredit = billing.Round2(sum.TotalCredit)

	// Every unpaid bill was billed before next month, so a one-month-ahead
	// cutoff collects them all.
	unpaid, err := h.st.ListUnpaidBillsDueBefore(ctx, billing.NormalizeMonth(now).AddDate(0, 1, 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sum.UnpaidBills = len(unpaid)
	for _, b := range unpaid {
		sum.UnpaidAmount += b.BasicAmount
	}
	sum.UnpaidAmount = billing.Round2(sum.UnpaidAmount)

	overdue, err := h.svc.ListOverdueBills(ctx, now)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sum.OverdueBills = len(overdue)
	for _, ob := range overdue {
		sum.OverdueSurcharge += ob.Surcharge
	}
	sum.OverdueSurcharge = billing.Round2(sum.OverdueSurcharge)

	writeJSON(w, http.StatusOK, sum)
}
