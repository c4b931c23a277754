package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/api/responses"
	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
)

const (
	userIDHeader = "X-User-Id"
	roleHeader   = "X-User-Role"
)

// Identity seeds the request context from the trusted identity headers. The
// values arrive pre-verified by the gateway in front of this service; a
// request without a user id is rejected, a request without a role defaults to
// student.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID := strings.TrimSpace(r.Header.Get(userIDHeader))
			if rawID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
				return
			}
			userID, err := uuid.Parse(rawID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity"))
				return
			}

			role := enums.RoleStudent
			if rawRole := strings.TrimSpace(r.Header.Get(roleHeader)); rawRole != "" {
				parsed, err := enums.ParseRole(rawRole)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid role"))
					return
				}
				role = parsed
			}

			ctx := WithIdentity(r.Context(), userID.String(), role)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
				ctx = logg.WithActorRole(ctx, string(role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
