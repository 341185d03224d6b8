package httpapi

import (
	"net/http"
	"strings"

	"qazna.org/access/internal/authn"
	"qazna.org/access/internal/permission"
)

const authHeader = "Authorization"

// withAuth requires a valid bearer token on every /v1 route and stores the token
// subject as the acting user. Probes and metrics stay public.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		token, err := authn.ExtractBearer(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := authn.ContextWithUser(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) string {
	id, _ := authn.UserIDFromContext(r.Context())
	return id
}

// requireManage writes 403 and returns false unless the caller holds Manage on the
// tenant.
func (a *API) requireManage(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	ok, err := a.svc.HasTenantPermission(r.Context(), caller(r), tenantID, permission.Manage)
	if err != nil {
		a.handleAccessError(w, r, err)
		return false
	}
	if !ok {
		writeError(w, r, http.StatusForbidden, "Manage permission required on tenant")
		return false
	}
	return true
}

// requireSelfOrManage lets callers read their own permissions; reading anyone else's
// needs Manage.
func (a *API) requireSelfOrManage(w http.ResponseWriter, r *http.Request, tenantID, userID string) bool {
	if userID == caller(r) {
		return true
	}
	return a.requireManage(w, r, tenantID)
}
