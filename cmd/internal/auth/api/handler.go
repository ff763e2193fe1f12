package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/facade"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler serves the auth HTTP API on top of the facade.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	svc  *facade.Service
	pool *pgxpool.Pool
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditPool stores audit entries in auth.audit_log and enables login
// throttling. Without it audit entries are logged.
func WithAuditPool(pool *pgxpool.Pool) HandlerOption {
	return func(h *Handler) {
		h.pool = pool
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *facade.Service, cfg Config, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	h := &Handler{log: log, cfg: cfg, svc: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the auth routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/validate", h.handleValidate)
	mux.HandleFunc("/api/auth/refresh", h.handleRefresh)

	mux.HandleFunc("/api/auth/sessions/validate", h.handleSessionValidate)
	mux.HandleFunc("/api/auth/sessions/touch", h.handleSessionTouch)
	mux.HandleFunc("/api/auth/sessions/{userID}", h.handleUserSessions)
	mux.HandleFunc("/api/auth/tokens/{userID}", h.handleUserTokens)

	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/credentials", h.handleCredentials)
	mux.HandleFunc("/api/auth/credentials/{id}", h.handleCredential)

	mux.HandleFunc("/api/auth/password/reset-request", h.handleResetRequest)
	mux.HandleFunc("/api/auth/password/reset", h.handleResetPassword)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	switch {
	case req.UserID != nil && req.Email == nil:
		// Password-less login vouches for the user, so it is an admin call.
		if !h.requireAdmin(w, r) {
			return
		}
		res, err := h.svc.Login(ctx, *req.UserID, ipString(ip), ua)
		if err != nil {
			h.writeServiceError(w, "auth.login", err)
			return
		}
		h.auditLoginSuccess(ctx, res.Session.UserID, res.Session.ID, ip, ua, "user_id")
		writeJSON(w, http.StatusOK, toLoginResponse(res))

	case req.Email != nil && req.UserID == nil:
		identifier := identity.NormalizeEmail(*req.Email)
		if identifier == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "email and password are required")
			return
		}

		now := time.Now().UTC()
		if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
			h.log.Error("auth.login.throttle_ip.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		} else if blocked {
			h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
			writeRateLimited(w, retryAfter)
			return
		}
		if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, identifier, now); err != nil {
			h.log.Error("auth.login.throttle_identifier.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		} else if blocked {
			h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
			writeRateLimited(w, retryAfter)
			return
		}

		res, err := h.svc.LoginWithPassword(ctx, identifier, req.Password, ipString(ip), ua)
		if err != nil {
			if errors.Is(err, facade.ErrInvalidCredentials) {
				h.auditLoginFailed(ctx, ip, ua, identifier, "invalid_credentials")
			}
			h.writeServiceError(w, "auth.login", err)
			return
		}
		h.auditLoginSuccess(ctx, res.Session.UserID, res.Session.ID, ip, ua, "password")
		writeJSON(w, http.StatusOK, toLoginResponse(res))

	default:
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "either user_id or email and password are required")
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	bearer := r.Header.Get(headerAuthorization)
	sessionToken := r.Header.Get(headerSessionToken)
	if err := h.svc.Logout(ctx, bearer, sessionToken); err != nil {
		h.writeServiceError(w, "auth.logout", err)
		return
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeNoContent(w)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	res, err := h.svc.Validate(r.Context(), r.Header.Get(headerAuthorization))
	if err != nil {
		h.writeServiceError(w, "auth.validate", err)
		return
	}
	if !res.Valid {
		writeUnauthorized(w)
		return
	}
	exp := res.ExpiresAt
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		UserID:    res.UserID,
		Kind:      string(res.Kind),
		ExpiresAt: &exp,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	issued, err := h.svc.Refresh(ctx, r.Header.Get(headerAuthorization))
	if err != nil {
		h.writeServiceError(w, "auth.refresh", err)
		return
	}

	h.auditRefresh(ctx, issued.UserID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, toTokenResponse(issued))
}

func (h *Handler) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st, err := h.svc.ValidateSession(r.Context(), r.Header.Get(headerSessionToken))
	if err != nil {
		h.writeServiceError(w, "auth.sessions.validate", err)
		return
	}
	if !st.Valid {
		writeUnauthorized(w)
		return
	}
	resp := toSessionResponse(st.Session)
	writeJSON(w, http.StatusOK, sessionStatusResponse{Valid: true, Session: &resp})
}

func (h *Handler) handleSessionTouch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	touched, err := h.svc.TouchSession(r.Context(), r.Header.Get(headerSessionToken))
	if err != nil {
		h.writeServiceError(w, "auth.sessions.touch", err)
		return
	}
	writeJSON(w, http.StatusOK, touchResponse{Touched: touched})
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "user id must be a positive integer")
		return
	}

	ctx := r.Context()
	if r.Method == http.MethodDelete {
		res, err := h.svc.CloseAllSessions(ctx, userID)
		if err != nil {
			h.writeServiceError(w, "auth.sessions.close_all", err)
			return
		}
		resp := closeAllResponse{Sessions: res.Sessions, Tokens: res.Tokens}
		h.auditCloseAll(ctx, userID, resp, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
		writeJSON(w, http.StatusOK, resp)
		return
	}

	list, err := h.svc.ListSessions(ctx, userID)
	if err != nil {
		h.writeServiceError(w, "auth.sessions.list", err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUserTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	userID, ok := pathUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "user id must be a positive integer")
		return
	}

	list, err := h.svc.ListTokens(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "auth.tokens.list", err)
		return
	}
	out := make([]tokenResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTokenResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	ut, ok := identity.ParseUserType(req.UserType)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "unknown user_type")
		return
	}

	c, err := h.svc.Register(r.Context(), facade.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		UserID:   req.UserID,
		UserType: ut,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, "auth.register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCredentialResponse(c))
}

func (h *Handler) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	var filter *identity.UserType
	if raw := strings.TrimSpace(r.URL.Query().Get("user_type")); raw != "" {
		ut, ok := identity.ParseUserType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "unknown user_type")
			return
		}
		filter = &ut
	}

	list, err := h.svc.ListCredentials(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "auth.credentials.list", err)
		return
	}
	out := make([]credentialResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCredentialResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")
	if r.Method == http.MethodGet {
		c, err := h.svc.GetCredential(ctx, id)
		if err != nil {
			h.writeServiceError(w, "auth.credentials.get", err)
			return
		}
		writeJSON(w, http.StatusOK, toCredentialResponse(c))
		return
	}

	var req updateCredentialRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	c, err := h.svc.UpdateCredential(ctx, id, facade.UpdateCredentialInput{Notes: req.Notes, Active: req.Active})
	if err != nil {
		h.writeServiceError(w, "auth.credentials.update", err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponse(c))
}

func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetRequestRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	// Always 202 so the response does not reveal whether the email exists.
	if err := h.svc.RequestPasswordReset(ctx, req.Email); err != nil {
		h.log.Error("auth.password.reset_request.fail", "err", err)
	}
	h.auditPasswordReset(ctx, "auth.password.reset_requested", clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.svc.ResetPassword(ctx, req.Token, req.Password); err != nil {
		h.writeServiceError(w, "auth.password.reset", err)
		return
	}
	h.auditPasswordReset(ctx, "auth.password.reset", clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeNoContent(w)
}

// ---- helpers ----

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.AdminKey == "" {
		return true
	}
	if secureStringEqual(strings.TrimSpace(r.Header.Get(headerAdminKey)), h.cfg.AdminKey) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "admin key required")
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication failed")
}

// writeServiceError maps facade errors to HTTP. Every authentication failure
// shares one 401 body.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var inErr facade.InputError
	switch {
	case errors.Is(err, facade.ErrInvalidToken), errors.Is(err, facade.ErrInvalidCredentials):
		writeUnauthorized(w)
	case errors.As(err, &inErr):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, inErr.Reason)
	case identity.IsInvalidInput(err), errors.Is(err, token.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request")
	case errors.Is(err, facade.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "duplicate_email", "email already registered")
	case errors.Is(err, facade.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, session.ErrActiveConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent session change, retry")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
