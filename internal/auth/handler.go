package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dwani-ai/dwani-gateway/internal/instrumentation"
	"github.com/dwani-ai/dwani-gateway/internal/middleware"
	"github.com/dwani-ai/dwani-gateway/internal/users"
	"github.com/dwani-ai/dwani-gateway/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const sessionKeyHeader = "X-Session-Key"

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Handler struct {
	service *Service
	instr   *instrumentation.Instrumentation
}

func NewHandler(service *Service, instr *instrumentation.Instrumentation) *Handler {
	return &Handler{
		service: service,
		instr:   instr,
	}
}

func (h *Handler) SetupRoutes(
	r *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	adminGuard func(next http.Handler) http.Handler,
	loginAllowedPerMin int,
) {
	loginLimit := middleware.RateLimit(rateLimiter, "login", loginAllowedPerMin, h.instr)

	r.Handle("/v1/token", loginLimit(http.HandlerFunc(h.handleLogin))).
		Methods("POST", "OPTIONS").Name("login")
	r.Handle("/v1/app/register", loginLimit(http.HandlerFunc(h.handleAppRegister))).
		Methods("POST", "OPTIONS").Name("app-register")
	r.Handle("/v1/register", adminGuard(http.HandlerFunc(h.handleRegister))).
		Methods("POST", "OPTIONS").Name("register")
	r.HandleFunc("/v1/refresh", h.handleRefresh).
		Methods("POST", "OPTIONS").Name("refresh")
}

// sessionKeyFromRequest reads the client session key, header first, query
// param as a fallback.
func sessionKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get(sessionKeyHeader); key != "" {
		return key
	}
	return r.URL.Query().Get("session_key")
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var creds EncryptedCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		log.Errorf("login, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionKey := sessionKeyFromRequest(r)
	if sessionKey == "" {
		http.Error(w, "error, session key missing", http.StatusBadRequest)
		return
	}

	pair, err := h.service.Login(r.Context(), creds, sessionKey)
	if err != nil {
		if reqIP, ipErr := pkg.ReadUserIP(r); ipErr == nil {
			log.Warnf("failed login attempt from %s", reqIP)
		}
		writeAuthError(w, err)
		return
	}

	h.instr.CounterLogins.Inc()
	h.writeTokenPair(w, pair)
}

func (h *Handler) handleAppRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var creds EncryptedCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		log.Errorf("app register, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionKey := sessionKeyFromRequest(r)
	if sessionKey == "" {
		http.Error(w, "error, session key missing", http.StatusBadRequest)
		return
	}

	pair, err := h.service.RegisterApp(r.Context(), creds, sessionKey)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.instr.CounterRegistrations.Inc()
	h.writeTokenPair(w, pair)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	admin, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		// guard misconfiguration, not a client error
		log.Error("register handler reached without an authenticated admin")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("register, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "error, username or password empty", http.StatusBadRequest)
		return
	}

	pair, err := h.service.Register(r.Context(), admin.Username, req.Username, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.instr.CounterRegistrations.Inc()
	h.writeTokenPair(w, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeTokenPair(w, pair)
}

func (h *Handler) writeTokenPair(w http.ResponseWriter, pair TokenPair) {
	respBytes, err := json.Marshal(tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
	if err != nil {
		log.Errorf("marshal token response: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respBytes)
}

// writeAuthError maps protocol errors to status codes without leaking
// which internal check failed.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidEncryptedData):
		http.Error(w, "invalid encrypted data", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, "invalid email or device token", http.StatusUnauthorized)
	case errors.Is(err, users.ErrDuplicateUsername):
		http.Error(w, "username already exists", http.StatusBadRequest)
	case errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrWrongTokenKind):
		http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
	default:
		log.Errorf("auth handler internal error: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
