package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/preflight/internal/model"
)

// Identity headers set by the fronting auth service.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// identify attaches the caller asserted by the fronting auth service to the
// request context. Requests without a known identity are rejected.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		role := model.UserRole(strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole))))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+headerUserID+" header")
			return
		}
		switch role {
		case model.UserRoleStudent, model.UserRoleInstructor, model.UserRoleAdmin:
		default:
			slog.Warn("rejected request with unknown role", "user", id, "role", role)
			writeError(w, http.StatusUnauthorized, "unknown role")
			return
		}
		ctx := model.ContextWithUser(r.Context(), &model.User{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// canView reports whether user may see assessments of learnerID.
func canView(user *model.User, learnerID string) bool {
	return user.CanReview() || user.ID == learnerID
}
