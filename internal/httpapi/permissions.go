package httpapi

import (
	"net/http"
	"strings"
	"time"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/permission"
)

type permissionsRequest struct {
	Permissions []permission.Type `json:"permissions"`
}

type checkRequest struct {
	UserID     string           `json:"user_id"`
	Permission *permission.Type `json:"permission"`
	Resource   *access.Resource `json:"resource"`
}

type bulkCheckRequest struct {
	UserID       string   `json:"user_id"`
	ResourceType string   `json:"resource_type"`
	ResourceIDs  []string `json:"resource_ids"`
}

type shareRequest struct {
	UserID      string            `json:"user_id"`
	Permissions []permission.Type `json:"permissions"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

type grantView struct {
	ID           string            `json:"id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	TenantID     string            `json:"tenant_id"`
	ContentType  string            `json:"content_type,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Permissions  []permission.Type `json:"permissions"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Version      int64             `json:"version,omitempty"`
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /v1/tenants/{tenant}/defaults", a.getDefaults)
	a.mux.HandleFunc("PUT /v1/tenants/{tenant}/defaults", a.putDefaults)

	a.mux.HandleFunc("GET /v1/tenants/{tenant}/users/{user}/permissions", a.getTenantPermissions)
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/users/{user}/permissions:grant", a.tenantWrite(true))
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/users/{user}/permissions:revoke", a.tenantWrite(false))

	a.mux.HandleFunc("GET /v1/tenants/{tenant}/users/{user}/content-types", a.listContentTypeGrants)
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/users/{user}/content-types/{type}", a.contentTypeWrite)

	a.mux.HandleFunc("GET /v1/tenants/{tenant}/users/{user}/resources", a.listResourceGrants)
	a.mux.HandleFunc("GET /v1/tenants/{tenant}/users/{user}/resources/{type}/{id}", a.getResourcePermissions)
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/users/{user}/resources/{type}/{id}", a.resourceWrite)

	a.mux.HandleFunc("POST /v1/tenants/{tenant}/check", a.check)
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/bulk-check", a.bulkCheck)
	a.mux.HandleFunc("POST /v1/tenants/{tenant}/resources/{type}/{id}", a.share)
}

func (a *API) getDefaults(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if !a.requireManage(w, r, tenantID) {
		return
	}
	perms, err := a.svc.GetTenantDefaultPermissions(r.Context(), tenantID)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView{TenantID: tenantID, Permissions: perms})
}

func (a *API) putDefaults(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if !a.requireManage(w, r, tenantID) {
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.svc.SetTenantDefaultPermissions(r.Context(), tenantID, req.Permissions)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView{
		ID:          rec.ID,
		TenantID:    tenantID,
		Permissions: rec.Flags.Types(),
		Version:     rec.Version,
	})
}

func (a *API) getTenantPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	perms, err := a.svc.GetEffectiveTenantPermissions(r.Context(), userID, tenantID)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView{UserID: userID, TenantID: tenantID, Permissions: perms})
}

func (a *API) tenantWrite(grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
		if !a.requireManage(w, r, tenantID) {
			return
		}
		var req permissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		apply := a.svc.RevokeTenantPermission
		if grant {
			apply = a.svc.GrantTenantPermission
		}
		rec, err := apply(r.Context(), userID, tenantID, req.Permissions)
		if err != nil {
			a.handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grantView{
			ID:          rec.ID,
			UserID:      userID,
			TenantID:    tenantID,
			Permissions: rec.Flags.Types(),
			Version:     rec.Version,
		})
	}
}

func (a *API) listContentTypeGrants(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	recs, err := a.svc.ListContentTypeGrants(r.Context(), userID, tenantID)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	views := make([]grantView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, grantView{
			ID:          rec.ID,
			UserID:      rec.UserID,
			TenantID:    rec.TenantID,
			ContentType: rec.ContentType,
			Permissions: rec.Flags.Types(),
			Version:     rec.Version,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": views})
}

func (a *API) contentTypeWrite(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	contentType, action := splitAction(r.PathValue("type"))
	if action != "grant" && action != "revoke" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.requireManage(w, r, tenantID) {
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apply := a.svc.RevokeContentTypePermission
	if action == "grant" {
		apply = a.svc.GrantContentTypePermission
	}
	rec, err := apply(r.Context(), userID, tenantID, contentType, req.Permissions)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView{
		ID:          rec.ID,
		UserID:      userID,
		TenantID:    tenantID,
		ContentType: contentType,
		Permissions: rec.Flags.Types(),
		Version:     rec.Version,
	})
}

func (a *API) listResourceGrants(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	recs, err := a.svc.ListResourceGrants(r.Context(), userID, tenantID)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	views := make([]grantView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, resourceView(rec, userID, tenantID, access.Resource{Type: rec.ResourceType, ID: rec.ResourceID}))
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": views})
}

func (a *API) getResourcePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	res := access.Resource{Type: r.PathValue("type"), ID: r.PathValue("id")}
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	perms, err := a.svc.GetEffectiveResourcePermissions(r.Context(), userID, tenantID, res)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView{
		UserID:       userID,
		TenantID:     tenantID,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Permissions:  perms,
	})
}

func (a *API) resourceWrite(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := r.PathValue("tenant"), r.PathValue("user")
	id, action := splitAction(r.PathValue("id"))
	if action != "grant" && action != "revoke" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	res := access.Resource{Type: r.PathValue("type"), ID: id}
	if !a.requireManage(w, r, tenantID) {
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apply := a.svc.RevokeResourcePermission
	if action == "grant" {
		apply = a.svc.GrantResourcePermission
	}
	rec, err := apply(r.Context(), userID, tenantID, res, req.Permissions)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resourceView(rec, userID, tenantID, res))
}

func (a *API) check(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permission == nil {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = caller(r)
	}
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	var (
		allowed bool
		err     error
	)
	if req.Resource != nil {
		allowed, err = a.svc.HasResourcePermission(r.Context(), userID, tenantID, *req.Resource, *req.Permission)
	} else {
		allowed, err = a.svc.HasTenantPermission(r.Context(), userID, tenantID, *req.Permission)
	}
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"tenant_id":  tenantID,
		"permission": *req.Permission,
		"allowed":    allowed,
	})
}

func (a *API) bulkCheck(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	var req bulkCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = caller(r)
	}
	if !a.requireSelfOrManage(w, r, tenantID, userID) {
		return
	}
	results, err := a.svc.BulkCheckResourcePermissions(r.Context(), userID, tenantID, req.ResourceType, req.ResourceIDs)
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"tenant_id":     tenantID,
		"resource_type": req.ResourceType,
		"results":       results,
	})
}

// share hands the caller's permissions on a resource to another user. The service
// enforces Share and the subset rule, so no Manage check happens here.
func (a *API) share(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	id, action := splitAction(r.PathValue("id"))
	if action != "share" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	res := access.Resource{Type: r.PathValue("type"), ID: id}
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.svc.ShareResource(r.Context(), access.ShareRequest{
		OwnerID:      caller(r),
		TargetUserID: req.UserID,
		TenantID:     tenantID,
		Resource:     res,
		Permissions:  req.Permissions,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		a.handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resourceView(rec, strings.TrimSpace(req.UserID), tenantID, res))
}

func resourceView(rec access.ResourcePermission, userID, tenantID string, res access.Resource) grantView {
	return grantView{
		ID:           rec.ID,
		UserID:       userID,
		TenantID:     tenantID,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Permissions:  rec.Flags.Types(),
		ExpiresAt:    rec.ExpiresAt,
		Version:      rec.Version,
	}
}

// splitAction separates a trailing ":verb" from a path segment.
func splitAction(seg string) (string, string) {
	i := strings.LastIndexByte(seg, ':')
	if i < 0 {
		return seg, ""
	}
	return seg[:i], seg[i+1:]
}
