package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mtowater/waterbilling/internal/auth"
	"github.com/mtowater/waterbilling/internal/storage"
)

// RegisterAuthHandlers registers login, token, and user administration
// endpoints.
func RegisterAuthHandlers(mux *http.ServeMux, st storage.Storage, authSvc *auth.Service) {
	h := &authHandler{st: st, authSvc: authSvc}

	// Login stays unauthenticated.
	mux.HandleFunc("/api/v1/auth/login", h.handleLogin)

	mux.Handle("/api/v1/users", protect(authSvc, "users", "read", http.HandlerFunc(h.handleUsers)))
	mux.Handle("/api/v1/users/", protect(authSvc, "users", "read", http.HandlerFunc(h.handleUserItem)))
	mux.Handle("/api/v1/tokens", protect(authSvc, "users", "write", http.HandlerFunc(h.handleTokens)))
	mux.Handle("/api/v1/tokens/", protect(authSvc, "users", "write", http.HandlerFunc(h.handleTokenItem)))
}

type authHandler struct {
	st      storage.Storage
	authSvc *auth.Service
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	User      *storage.User `json:"user"`
}

func (h *authHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		ExpiresIn string `json:"expires_in,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}

	user, err := h.authSvc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	expiresIn := req.ExpiresIn
	if expiresIn == "" {
		expiresIn = "24h"
	}
	expiresAt, err := auth.ParseExpirationDuration(expiresIn)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	token, raw, err := h.authSvc.CreateToken(r.Context(), user.ID, "login", user.Role, expiresAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: raw, ExpiresAt: token.ExpiresAt, User: user})
}

func (h *authHandler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := h.st.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		if !authorized(r, h.authSvc, "users", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var req struct {
			Username  string `json:"username"`
			Password  string `json:"password"`
			Role      string `json:"role"`
			FirstName string `json:"first_name,omitempty"`
			LastName  string `json:"last_name,omitempty"`
			Email     string `json:"email,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username and password are required"})
			return
		}
		if req.Role == "" {
			req.Role = "reader"
		}
		user, err := h.authSvc.Register(r.Context(), req.Username, req.Password, req.Role, req.FirstName, req.LastName, req.Email)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *authHandler) handleUserItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, err := h.st.GetUser(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if u == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodPut:
		if !authorized(r, h.authSvc, "users", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		existing, err := h.st.GetUser(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Password  *string `json:"password,omitempty"`
			Role      *string `json:"role,omitempty"`
			FirstName *string `json:"first_name,omitempty"`
			LastName  *string `json:"last_name,omitempty"`
			Email     *string `json:"email,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
		if req.Password != nil {
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			existing.PasswordHash = string(hash)
		}
		if req.Role != nil {
			existing.Role = *req.Role
		}
		if req.FirstName != nil {
			existing.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			existing.LastName = *req.LastName
		}
		if req.Email != nil {
			existing.Email = *req.Email
		}
		existing.UpdatedAt = time.Now()
		if err := h.st.UpdateUser(r.Context(), *existing); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case http.MethodDelete:
		if !authorized(r, h.authSvc, "users", "write") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err := h.st.DeleteUser(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *authHandler) handleTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		tokens, err := h.st.ListTokens(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	case http.MethodPost:
		var req struct {
			UserID    string `json:"user_id"`
			Name      string `json:"name"`
			Role      string `json:"role"`
			ExpiresIn string `json:"expires_in,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
			return
		}
		u, err := h.st.GetUser(r.Context(), req.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if u == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown user"})
			return
		}
		if req.Role == "" {
			req.Role = u.Role
		}
		expiresAt, err := auth.ParseExpirationDuration(req.ExpiresIn)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		token, raw, err := h.authSvc.CreateToken(r.Context(), req.UserID, req.Name, req.Role, expiresAt)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, loginResponse{Token: raw, ExpiresAt: token.ExpiresAt, User: u})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *authHandler) handleTokenItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tokens/")
	if id == "" || r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	if err := h.st.DeleteToken(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
