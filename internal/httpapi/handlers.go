package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/audit"
	"qazna.org/access/internal/authn"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/permission"
)

const maxBodyBytes = 1 << 20

// PermissionService is the permission engine surface served over HTTP.
type PermissionService interface {
	Ping(ctx context.Context) error
	HasTenantPermission(ctx context.Context, userID, tenantID string, p permission.Type) (bool, error)
	HasResourcePermission(ctx context.Context, userID, tenantID string, res access.Resource, p permission.Type) (bool, error)
	GetEffectiveTenantPermissions(ctx context.Context, userID, tenantID string) ([]permission.Type, error)
	GetEffectiveResourcePermissions(ctx context.Context, userID, tenantID string, res access.Resource) ([]permission.Type, error)
	GetTenantDefaultPermissions(ctx context.Context, tenantID string) ([]permission.Type, error)
	BulkCheckResourcePermissions(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string][]permission.Type, error)
	ListResourceGrants(ctx context.Context, userID, tenantID string) ([]access.ResourcePermission, error)
	ListContentTypeGrants(ctx context.Context, userID, tenantID string) ([]access.ContentTypePermission, error)
	GrantTenantPermission(ctx context.Context, userID, tenantID string, perms []permission.Type) (access.TenantPermission, error)
	RevokeTenantPermission(ctx context.Context, userID, tenantID string, perms []permission.Type) (access.TenantPermission, error)
	SetTenantDefaultPermissions(ctx context.Context, tenantID string, perms []permission.Type) (access.TenantDefault, error)
	GrantContentTypePermission(ctx context.Context, userID, tenantID, contentType string, perms []permission.Type) (access.ContentTypePermission, error)
	RevokeContentTypePermission(ctx context.Context, userID, tenantID, contentType string, perms []permission.Type) (access.ContentTypePermission, error)
	GrantResourcePermission(ctx context.Context, userID, tenantID string, res access.Resource, perms []permission.Type) (access.ResourcePermission, error)
	RevokeResourcePermission(ctx context.Context, userID, tenantID string, res access.Resource, perms []permission.Type) (access.ResourcePermission, error)
	ShareResource(ctx context.Context, req access.ShareRequest) (access.ResourcePermission, error)
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*authn.Claims, error)
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	svc      PermissionService
	verifier TokenVerifier
	logger   *slog.Logger
	version  string

	rateBurst    int
	ratePerSec   float64
	trustProxies bool
}

// Option configures API.
type Option func(*API)

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger overrides the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit configures the per-client token bucket. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithTrustedProxyHeaders keys the rate limiter on the first X-Forwarded-For entry.
// Without it the peer address is used and the header is ignored.
func WithTrustedProxyHeaders(trust bool) Option {
	return func(a *API) { a.trustProxies = trust }
}

// New wires the routes. Both the service and the verifier are required.
func New(svc PermissionService, verifier TokenVerifier, opts ...Option) (*API, error) {
	if svc == nil {
		return nil, errors.New("httpapi: permission service is required")
	}
	if verifier == nil {
		return nil, errors.New("httpapi: token verifier is required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		verifier:   verifier,
		logger:     obs.Logger(),
		version:    "dev",
		rateBurst:  100,
		ratePerSec: 50,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.routes()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustProxies)
	}
	h = MaxBodyBytes(h, maxBodyBytes)
	h = obs.Instrument(h)
	h = Logging(a.logger, h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "access",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.svc.Ping(ctx); err != nil {
		a.logger.Error("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "permission store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps service errors onto status codes. Storage failures are
// logged and hidden from the caller.
func (a *API) handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request canceled")
	default:
		a.logger.Error("permission request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", audit.RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, "permission store unavailable")
	}
}
