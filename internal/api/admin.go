package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"mlcopy/internal/config"
	"mlcopy/internal/database"
	"mlcopy/internal/models"

	"github.com/google/uuid"
)

const adminTokenHeader = "X-Admin-Token"

// AdminAuth guards the operator-only endpoints. The admin secret is
// bootstrapped once: the first elevate call stores its hash, later calls
// are no-ops. Logins exchange the secret for a session token.
type AdminAuth struct {
	cfg config.APIConfig
	db  *database.DB

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewAdminAuth(cfg config.APIConfig, db *database.DB) *AdminAuth {
	return &AdminAuth{
		cfg:      cfg,
		db:       db,
		sessions: make(map[string]time.Time),
	}
}

type adminRequest struct {
	Secret string `json:"secret"`
}

// handleElevate stores the admin secret hash on first use. Idempotent:
// repeating the call with any secret after bootstrap changes nothing.
func (a *AdminAuth) handleElevate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.cfg.AdminSecret == "" {
		writeError(w, http.StatusNotImplemented, "admin access is not configured")
		return
	}

	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret is required")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(a.cfg.AdminSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	if err := a.db.SetAdminSecretHash(r.Context(), hashSecret(req.Secret)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store admin secret")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "elevated"})
}

// handleLogin exchanges the admin secret for a session token.
func (a *AdminAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret is required")
		return
	}

	stored, err := a.db.GetAdminSecretHash(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load admin secret")
		return
	}
	if stored == "" {
		writeError(w, http.StatusConflict, "admin secret is not bootstrapped")
		return
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(req.Secret)), []byte(stored)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.pruneLocked()
	a.sessions[token] = time.Now().Add(models.AdminSessionTTL)
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(models.AdminSessionTTL.Seconds()),
	})
}

// Check reports whether the request carries a live admin session token.
func (a *AdminAuth) Check(r *http.Request) bool {
	token := r.Header.Get(adminTokenHeader)
	if token == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AdminAuth) pruneLocked() {
	now := time.Now()
	for token, expiry := range a.sessions {
		if now.After(expiry) {
			delete(a.sessions, token)
		}
	}
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
