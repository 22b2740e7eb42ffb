package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtowater/waterbilling/internal/api/swagger"
	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/billing"
	"github.com/mtowater/waterbilling/internal/config"
	migrate "github.com/mtowater/waterbilling/internal/migrate"
	"github.com/mtowater/waterbilling/internal/notification"
	"github.com/mtowater/waterbilling/internal/storage"
)

// NewMux constructs the HTTP mux, wiring in storage, the billing service,
// auth, metrics, and health endpoints.
func NewMux(cfg config.Config) (*http.ServeMux, error) {
	ctx := context.Background()

	// Optional auto-migration: run `goose up` on startup when enabled.
	if cfg.AutoMigrate {
		if err := migrate.Up(ctx, cfg.StorageDriver, cfg.StorageDSN); err != nil {
			log.Printf("auto-migration failed: %v", err)
		}
	}

	st, err := storage.Open(ctx, storage.Config{Driver: cfg.StorageDriver, DSN: cfg.StorageDSN})
	if err != nil {
		return nil, err
	}
	log.Printf("billing service using storage backend driver=%s", cfg.StorageDriver)

	svc := billing.NewService(st)
	notifier := notification.NewService(st)

	authSvc, err := auth.NewService(st)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			log.Printf("readyz: db ping failed: %v", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	// API docs.
	mux.Handle("/swagger/", http.StripPrefix("/swagger", swagger.Handler()))

	RegisterAuthHandlers(mux, st, authSvc)
	RegisterCustomerHandlers(mux, st, svc, authSvc)
	RegisterBillHandlers(mux, st, svc, authSvc)
	RegisterPaymentHandlers(mux, st, svc, authSvc)
	RegisterSettingsHandlers(mux, st, svc, notifier, authSvc)
	RegisterDashboardHandler(mux, st, svc, authSvc)

	return mux, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeServiceError maps billing service errors onto HTTP statuses: validation
// failures are 400, a lost settlement race is 409, missing rates are 404, and
// anything else is a 500 with the detail kept out of the response body.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, billing.ErrConcurrency):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "the customer's balance changed, reload and retry the payment"})
	case errors.Is(err, billing.ErrRateNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// operatorName resolves the acting operator's display name from the request
// token, falling back to the supplied name when auth is not in play.
func operatorName(r *http.Request, st storage.Storage, fallback string) string {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		return fallback
	}
	u, err := st.GetUser(r.Context(), token.UserID)
	if err != nil || u == nil {
		return fallback
	}
	return u.DisplayName()
}

// protect wraps a handler with token validation and a permission check when an
// auth service is configured.
func protect(authSvc *auth.Service, obj, act string, h http.Handler) http.Handler {
	if authSvc == nil {
		return h
	}
	return authSvc.Middleware(authSvc.RequirePermission(obj, act, h))
}

// authorized re-checks a permission inside a handler, for endpoints where the
// mutating methods need more than the route-level read permission.
func authorized(r *http.Request, authSvc *auth.Service, obj, act string) bool {
	if authSvc == nil {
		return true
	}
	role, ok := r.Context().Value(auth.RoleContextKey).(string)
	if !ok {
		return false
	}
	allowed, err := authSvc.Enforce(role, obj, act)
	return err == nil && allowed
}
