package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dwani-ai/dwani-gateway/internal/instrumentation"
	"github.com/dwani-ai/dwani-gateway/internal/users"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// AuthChecker is the slice of the auth service the guards need.
type AuthChecker interface {
	VerifyAccess(token string) (string, error)
	ResolveAccount(ctx context.Context, subject string) (*users.Account, error)
}

type contextKey int

const accountContextKey contextKey = 0

// AccountFromContext returns the account a guard resolved for this request.
func AccountFromContext(ctx context.Context) (*users.Account, bool) {
	acc, ok := ctx.Value(accountContextKey).(*users.Account)
	return acc, ok
}

type AuthMiddlewareHandler struct {
	checker AuthChecker
	instr   *instrumentation.Instrumentation
}

func NewAuthMiddlewareHandler(
	checker AuthChecker,
	instr *instrumentation.Instrumentation,
) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		checker: checker,
		instr:   instr,
	}
}

func (h *AuthMiddlewareHandler) audit(guard, outcome string) {
	h.instr.CounterAuthChecks.With(prometheus.Labels{
		"guard":   guard,
		"outcome": outcome,
	}).Inc()
}

// authenticate runs the shared part of both guards: bearer extraction,
// token verification with explicit expiry, directory resolution.
func (h *AuthMiddlewareHandler) authenticate(r *http.Request, guard string) (*users.Account, bool) {
	// only the Bearer scheme is accepted, a bare token is not
	var token string
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if token == "" {
		log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
		h.audit(guard, "missing-token")
		return nil, false
	}

	subject, err := h.checker.VerifyAccess(token)
	if err != nil {
		log.Tracef("[invalid token] [auth middleware] unauthorized => %s: %s", r.URL.Path, err)
		h.audit(guard, "invalid-token")
		return nil, false
	}

	acc, err := h.checker.ResolveAccount(r.Context(), subject)
	if err != nil {
		log.Warnf("[unknown subject %s] [auth middleware] unauthorized => %s", subject, r.URL.Path)
		h.audit(guard, "unknown-subject")
		return nil, false
	}

	return acc, true
}

// Authenticated admits any caller with a valid access token whose subject
// still resolves to an account of either kind.
func (h *AuthMiddlewareHandler) Authenticated() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusOK)
				return
			}

			acc, ok := h.authenticate(r, "authenticated")
			if !ok {
				http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
				return
			}

			h.audit("authenticated", "ok")
			ctx := context.WithValue(r.Context(), accountContextKey, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthenticated additionally requires an admin-capable account with
// the admin flag. Authentication failures stay 401, an authenticated
// non-admin gets 403.
func (h *AuthMiddlewareHandler) AdminAuthenticated() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusOK)
				return
			}

			acc, ok := h.authenticate(r, "admin")
			if !ok {
				http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
				return
			}

			if acc.Kind != users.KindAdminCapable || !acc.IsAdmin {
				log.Warnf("user %s is not authorized as admin => %s", acc.Username, r.URL.Path)
				h.audit("admin", "forbidden")
				http.Error(w, "admin access required", http.StatusForbidden)
				return
			}

			h.audit("admin", "ok")
			ctx := context.WithValue(r.Context(), accountContextKey, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
