package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"qazna.org/access/internal/audit"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/permission"
)

const defaultBulkLimit = 500

// Service answers permission checks and applies grants, revocations and shares on top
// of a Store. Reads never lock; writes rely on the store's per-key atomicity.
type Service struct {
	store     Store
	now       func() time.Time
	logger    *slog.Logger
	validID   IDValidator
	bulkLimit int
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source used for expiry decisions.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithIDValidator overrides user and tenant id validation.
func WithIDValidator(v IDValidator) Option {
	return func(s *Service) error {
		if v != nil {
			s.validID = v
		}
		return nil
	}
}

// WithBulkLimit caps how many resource ids one bulk check may carry.
func WithBulkLimit(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return errors.New("access: bulk limit must be positive")
		}
		s.bulkLimit = n
		return nil
	}
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	svc := &Service{
		store:     store,
		now:       time.Now,
		logger:    obs.Logger(),
		validID:   DefaultIDValidator,
		bulkLimit: defaultBulkLimit,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// --- checks ---

// HasTenantPermission reports whether the user holds p at tenant scope, counting both
// the user's own grant and the tenant default.
func (s *Service) HasTenantPermission(ctx context.Context, userID, tenantID string, p permission.Type) (bool, error) {
	allowed, err := s.hasTenantPermission(ctx, userID, tenantID, p)
	obs.ObserveCheck("tenant", allowed, err)
	return allowed, err
}

func (s *Service) hasTenantPermission(ctx context.Context, userID, tenantID string, p permission.Type) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidInput, p)
	}
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return false, err
	}
	flags, err := s.tenantLayer(ctx, key)
	if err != nil {
		return false, err
	}
	return flags.Has(p), nil
}

// HasResourcePermission reports whether the user holds p on one resource after
// resolving the tenant, content-type and resource layers.
func (s *Service) HasResourcePermission(ctx context.Context, userID, tenantID string, res Resource, p permission.Type) (bool, error) {
	allowed, err := s.hasResourcePermission(ctx, userID, tenantID, res, p)
	obs.ObserveCheck("resource", allowed, err)
	return allowed, err
}

func (s *Service) hasResourcePermission(ctx context.Context, userID, tenantID string, res Resource, p permission.Type) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidInput, p)
	}
	key, res, err := s.resourceTarget(userID, tenantID, res)
	if err != nil {
		return false, err
	}
	resolved, err := s.effectiveResource(ctx, key, res, s.now())
	if err != nil {
		return false, err
	}
	return permission.HasPermission(resolved, p), nil
}

// GetEffectiveResourcePermissions returns the resolved permissions on one resource.
func (s *Service) GetEffectiveResourcePermissions(ctx context.Context, userID, tenantID string, res Resource) ([]permission.Type, error) {
	key, res, err := s.resourceTarget(userID, tenantID, res)
	if err != nil {
		return nil, err
	}
	resolved, err := s.effectiveResource(ctx, key, res, s.now())
	if err != nil {
		return nil, err
	}
	return resolved.Types(), nil
}

// GetEffectiveTenantPermissions returns the tenant default united with the user's
// tenant grant.
func (s *Service) GetEffectiveTenantPermissions(ctx context.Context, userID, tenantID string) ([]permission.Type, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return nil, err
	}
	flags, err := s.tenantLayer(ctx, key)
	if err != nil {
		return nil, err
	}
	return flags.Types(), nil
}

// GetUserTenantPermissions lists the permission types recorded on the user's own
// tenant row, without the tenant default.
func (s *Service) GetUserTenantPermissions(ctx context.Context, userID, tenantID string) ([]permission.Type, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return nil, err
	}
	rec, _, err := s.store.Tenants().Get(ctx, key)
	if err != nil {
		return nil, storageErr("get tenant permission", err)
	}
	return rec.Flags.Types(), nil
}

// GetTenantDefaultPermissions lists the tenant-wide baseline.
func (s *Service) GetTenantDefaultPermissions(ctx context.Context, tenantID string) ([]permission.Type, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.checkIDs(tenantID); err != nil {
		return nil, err
	}
	def, _, err := s.store.Tenants().GetDefault(ctx, tenantID)
	if err != nil {
		return nil, storageErr("get tenant default", err)
	}
	return def.Flags.Types(), nil
}

// BulkCheckResourcePermissions resolves the user's permissions on many resources of
// one type in a single pass. Every requested id appears in the result; ids without
// any applicable grant map to an empty list.
func (s *Service) BulkCheckResourcePermissions(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string][]permission.Type, error) {
	out, err := s.bulkCheck(ctx, userID, tenantID, resourceType, resourceIDs)
	obs.ObserveBulkCheck(err)
	return out, err
}

func (s *Service) bulkCheck(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string][]permission.Type, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return nil, err
	}
	resourceType = strings.TrimSpace(resourceType)
	if err := validateTypeName("resource type", resourceType); err != nil {
		return nil, err
	}
	ids, err := s.dedupeResourceIDs(resourceIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]permission.Type, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		base    permission.FlagSet
		ctFlags permission.FlagSet
		rows    map[string]ResourcePermission
		ctKey   = ContentTypeKey{UserID: key.UserID, TenantID: key.TenantID, ContentType: resourceType}
		now     = s.now()
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		flags, err := s.tenantLayer(gctx, key)
		base = flags
		return err
	})
	g.Go(func() error {
		rec, _, err := s.store.ContentTypes().Get(gctx, ctKey)
		if err != nil {
			return storageErr("get content type permission", err)
		}
		ctFlags = rec.Flags
		return nil
	})
	g.Go(func() error {
		found, err := s.store.Resources().GetMany(gctx, key.UserID, key.TenantID, resourceType, ids)
		if err != nil {
			return storageErr("get resource permissions", err)
		}
		rows = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		rec, ok := rows[id]
		// Rows for another tenant or type must never reach this point; guard anyway so a
		// misbehaving store cannot leak them.
		if ok && (rec.TenantID != key.TenantID || rec.UserID != key.UserID || rec.ResourceType != resourceType) {
			ok = false
		}
		resolved := permission.Resolve(base, ctFlags, rec.Flags, !ok || rec.Expired(now))
		out[id] = resolved.Types()
	}
	return out, nil
}

func (s *Service) dedupeResourceIDs(resourceIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(resourceIDs))
	ids := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		id = strings.TrimSpace(id)
		if err := DefaultIDValidator(id); err != nil {
			return nil, fmt.Errorf("resource id: %w", err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > s.bulkLimit {
		return nil, fmt.Errorf("%w: %d resource ids exceeds limit of %d", ErrInvalidInput, len(ids), s.bulkLimit)
	}
	return ids, nil
}

// ListResourceGrants returns the user's live resource grants within a tenant.
func (s *Service) ListResourceGrants(ctx context.Context, userID, tenantID string) ([]ResourcePermission, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Resources().ListByUser(ctx, key.UserID, key.TenantID)
	if err != nil {
		return nil, storageErr("list resource permissions", err)
	}
	now := s.now()
	live := rows[:0]
	for _, row := range rows {
		if row.TenantID != key.TenantID || row.Expired(now) {
			continue
		}
		live = append(live, row)
	}
	return live, nil
}

// ListContentTypeGrants returns the user's content-type grants within a tenant.
func (s *Service) ListContentTypeGrants(ctx context.Context, userID, tenantID string) ([]ContentTypePermission, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ContentTypes().ListByUser(ctx, key.UserID, key.TenantID)
	if err != nil {
		return nil, storageErr("list content type permissions", err)
	}
	return rows, nil
}

// --- writes ---

// GrantTenantPermission adds permissions to the user's tenant grant.
func (s *Service) GrantTenantPermission(ctx context.Context, userID, tenantID string, perms []permission.Type) (TenantPermission, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return TenantPermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return TenantPermission{}, err
	}
	rec, err := s.store.Tenants().Grant(ctx, key, flags)
	return rec, s.finishWrite(ctx, "tenant.grant", err, "user_id", key.UserID, "tenant_id", key.TenantID, "permissions", permission.Names(perms))
}

// RevokeTenantPermission clears the given permissions from the user's tenant grant and
// leaves the others untouched.
func (s *Service) RevokeTenantPermission(ctx context.Context, userID, tenantID string, perms []permission.Type) (TenantPermission, error) {
	key, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return TenantPermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return TenantPermission{}, err
	}
	rec, err := s.store.Tenants().Revoke(ctx, key, flags)
	return rec, s.finishWrite(ctx, "tenant.revoke", err, "user_id", key.UserID, "tenant_id", key.TenantID, "permissions", permission.Names(perms))
}

// SetTenantDefaultPermissions replaces the tenant-wide baseline. An empty list clears it.
func (s *Service) SetTenantDefaultPermissions(ctx context.Context, tenantID string, perms []permission.Type) (TenantDefault, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.checkIDs(tenantID); err != nil {
		return TenantDefault{}, err
	}
	flags, err := flagsOf(perms, true)
	if err != nil {
		return TenantDefault{}, err
	}
	def, err := s.store.Tenants().SetDefault(ctx, tenantID, flags)
	return def, s.finishWrite(ctx, "tenant.default", err, "tenant_id", tenantID, "permissions", permission.Names(perms))
}

// GrantContentTypePermission adds permissions over every resource of a content type.
func (s *Service) GrantContentTypePermission(ctx context.Context, userID, tenantID, contentType string, perms []permission.Type) (ContentTypePermission, error) {
	key, err := s.contentTypeKey(userID, tenantID, contentType)
	if err != nil {
		return ContentTypePermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return ContentTypePermission{}, err
	}
	rec, err := s.store.ContentTypes().Grant(ctx, key, flags)
	return rec, s.finishWrite(ctx, "content_type.grant", err, "user_id", key.UserID, "tenant_id", key.TenantID, "content_type", key.ContentType, "permissions", permission.Names(perms))
}

// RevokeContentTypePermission clears permissions from a content-type grant.
func (s *Service) RevokeContentTypePermission(ctx context.Context, userID, tenantID, contentType string, perms []permission.Type) (ContentTypePermission, error) {
	key, err := s.contentTypeKey(userID, tenantID, contentType)
	if err != nil {
		return ContentTypePermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return ContentTypePermission{}, err
	}
	rec, err := s.store.ContentTypes().Revoke(ctx, key, flags)
	return rec, s.finishWrite(ctx, "content_type.revoke", err, "user_id", key.UserID, "tenant_id", key.TenantID, "content_type", key.ContentType, "permissions", permission.Names(perms))
}

// GrantResourcePermission adds permanent permissions on one resource.
func (s *Service) GrantResourcePermission(ctx context.Context, userID, tenantID string, res Resource, perms []permission.Type) (ResourcePermission, error) {
	key, res, err := s.resourceTarget(userID, tenantID, res)
	if err != nil {
		return ResourcePermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return ResourcePermission{}, err
	}
	rec, err := s.store.Resources().Grant(ctx, key, flags, nil, s.now())
	return rec, s.finishWrite(ctx, "resource.grant", err, "user_id", key.UserID, "tenant_id", key.TenantID, "resource_type", res.Type, "resource_id", res.ID, "permissions", permission.Names(perms))
}

// RevokeResourcePermission clears permissions from a resource grant.
func (s *Service) RevokeResourcePermission(ctx context.Context, userID, tenantID string, res Resource, perms []permission.Type) (ResourcePermission, error) {
	key, res, err := s.resourceTarget(userID, tenantID, res)
	if err != nil {
		return ResourcePermission{}, err
	}
	flags, err := flagsOf(perms, false)
	if err != nil {
		return ResourcePermission{}, err
	}
	rec, err := s.store.Resources().Revoke(ctx, key, flags)
	return rec, s.finishWrite(ctx, "resource.revoke", err, "user_id", key.UserID, "tenant_id", key.TenantID, "resource_type", res.Type, "resource_id", res.ID, "permissions", permission.Names(perms))
}

// ShareResource lets an owner who holds Share on a resource hand a subset of their
// effective permissions on it to another user, optionally until ExpiresAt.
func (s *Service) ShareResource(ctx context.Context, req ShareRequest) (ResourcePermission, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	targetID := strings.TrimSpace(req.TargetUserID)
	tenantID := strings.TrimSpace(req.TenantID)
	if err := s.checkIDs(ownerID, targetID, tenantID); err != nil {
		return ResourcePermission{}, err
	}
	if ownerID == targetID {
		return ResourcePermission{}, fmt.Errorf("%w: cannot share a resource with its owner", ErrInvalidInput)
	}
	res, err := s.checkResource(req.Resource)
	if err != nil {
		return ResourcePermission{}, err
	}
	flags, err := flagsOf(req.Permissions, false)
	if err != nil {
		return ResourcePermission{}, err
	}
	now := s.now()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return ResourcePermission{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
		}
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}

	owner, err := s.effectiveResource(ctx, res.Key(ownerID, tenantID), res, now)
	if err != nil {
		return ResourcePermission{}, err
	}
	if !owner.Has(permission.Share) {
		s.logger.Warn("share denied", "owner_id", ownerID, "tenant_id", tenantID, "resource_type", res.Type, "resource_id", res.ID, "reason", "missing Share")
		obs.ObserveWrite("resource.share", ErrPermissionDenied)
		return ResourcePermission{}, fmt.Errorf("%w: owner lacks Share on %s/%s", ErrPermissionDenied, res.Type, res.ID)
	}
	if missing := flags.Without(owner); !missing.IsEmpty() {
		s.logger.Warn("share denied", "owner_id", ownerID, "tenant_id", tenantID, "resource_type", res.Type, "resource_id", res.ID, "missing", missing.String())
		obs.ObserveWrite("resource.share", ErrPermissionDenied)
		return ResourcePermission{}, fmt.Errorf("%w: owner does not hold %s on %s/%s", ErrPermissionDenied, missing, res.Type, res.ID)
	}

	rec, err := s.store.Resources().Grant(ctx, res.Key(targetID, tenantID), flags, expiresAt, now)
	fields := []any{"owner_id", ownerID, "user_id", targetID, "tenant_id", tenantID, "resource_type", res.Type, "resource_id", res.ID, "permissions", permission.Names(req.Permissions)}
	if expiresAt != nil {
		fields = append(fields, "expires_at", expiresAt.Format(time.RFC3339))
	}
	return rec, s.finishWrite(ctx, "resource.share", err, fields...)
}

// SweepExpired physically deletes resource grants that have expired. Reads already
// ignore them; this only reclaims storage.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.Resources().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storageErr("delete expired resource permissions", err)
	}
	return n, nil
}

// --- internals ---

// tenantLayer returns default(tenant) ∪ grant(user, tenant).
func (s *Service) tenantLayer(ctx context.Context, key TenantKey) (permission.FlagSet, error) {
	var (
		def, own permission.FlagSet
		g, gctx  = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		rec, _, err := s.store.Tenants().GetDefault(gctx, key.TenantID)
		if err != nil {
			return storageErr("get tenant default", err)
		}
		def = rec.Flags
		return nil
	})
	g.Go(func() error {
		rec, _, err := s.store.Tenants().Get(gctx, key)
		if err != nil {
			return storageErr("get tenant permission", err)
		}
		own = rec.Flags
		return nil
	})
	if err := g.Wait(); err != nil {
		return permission.Empty, err
	}
	return def.Union(own), nil
}

// effectiveResource loads every layer for one resource concurrently and resolves them.
func (s *Service) effectiveResource(ctx context.Context, key ResourceKey, res Resource, now time.Time) (permission.FlagSet, error) {
	var (
		base, ctFlags permission.FlagSet
		row           ResourcePermission
		found         bool
		g, gctx       = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		flags, err := s.tenantLayer(gctx, TenantKey{UserID: key.UserID, TenantID: key.TenantID})
		base = flags
		return err
	})
	g.Go(func() error {
		rec, _, err := s.store.ContentTypes().Get(gctx, res.ContentTypeKey(key.UserID, key.TenantID))
		if err != nil {
			return storageErr("get content type permission", err)
		}
		ctFlags = rec.Flags
		return nil
	})
	g.Go(func() error {
		rec, ok, err := s.store.Resources().Get(gctx, key)
		if err != nil {
			return storageErr("get resource permission", err)
		}
		row, found = rec, ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return permission.Empty, err
	}
	return permission.Resolve(base, ctFlags, row.Flags, !found || row.Expired(now)), nil
}

func (s *Service) resourceTarget(userID, tenantID string, res Resource) (ResourceKey, Resource, error) {
	tk, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return ResourceKey{}, Resource{}, err
	}
	res, err = s.checkResource(res)
	if err != nil {
		return ResourceKey{}, Resource{}, err
	}
	return res.Key(tk.UserID, tk.TenantID), res, nil
}

func (s *Service) contentTypeKey(userID, tenantID, contentType string) (ContentTypeKey, error) {
	tk, err := s.tenantKey(userID, tenantID)
	if err != nil {
		return ContentTypeKey{}, err
	}
	contentType = strings.TrimSpace(contentType)
	if err := validateTypeName("content type", contentType); err != nil {
		return ContentTypeKey{}, err
	}
	return ContentTypeKey{UserID: tk.UserID, TenantID: tk.TenantID, ContentType: contentType}, nil
}

// finishWrite records metrics, logs and audits a store write and wraps its error.
func (s *Service) finishWrite(ctx context.Context, op string, err error, fields ...any) error {
	obs.ObserveWrite(op, err)
	if err != nil {
		s.logger.Error("permission write failed", append([]any{"op", op, "error", err}, fields...)...)
		return storageErr(op, err)
	}
	s.logger.Info("permission write applied", append([]any{"op", op}, fields...)...)
	auditFields := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok {
			auditFields[k] = fields[i+1]
		}
	}
	if aerr := audit.LogEvent(ctx, "access."+op, auditFields); aerr != nil {
		s.logger.Warn("audit log failed", "op", op, "error", aerr)
	}
	return nil
}

// storageErr tags a store failure with ErrStorage while keeping the cause inspectable.
// Conflicts and context cancellation pass through so callers can tell them apart.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
