package access

import (
	"context"
	"time"

	"qazna.org/access/internal/permission"
)

// Store groups the per-layer permission stores.
//
// Implementations must return found=false with a zero record for a missing key rather
// than an error, must make every write atomic per key, and must use the tenant id in
// full on every lookup.
type Store interface {
	Tenants() TenantStore
	ContentTypes() ContentTypeStore
	Resources() ResourceStore
	Ping(ctx context.Context) error
}

// TenantStore persists tenant-scope grants and the tenant-wide default.
type TenantStore interface {
	Get(ctx context.Context, key TenantKey) (TenantPermission, bool, error)
	// Grant unions flags into the row, creating it when absent.
	Grant(ctx context.Context, key TenantKey, flags permission.FlagSet) (TenantPermission, error)
	// Revoke clears flags from the row and deletes it once empty. The returned record
	// is the zero value when no row remains.
	Revoke(ctx context.Context, key TenantKey, flags permission.FlagSet) (TenantPermission, error)
	GetDefault(ctx context.Context, tenantID string) (TenantDefault, bool, error)
	// SetDefault replaces the tenant-wide baseline.
	SetDefault(ctx context.Context, tenantID string, flags permission.FlagSet) (TenantDefault, error)
}

// ContentTypeStore persists grants scoped to a content type.
type ContentTypeStore interface {
	Get(ctx context.Context, key ContentTypeKey) (ContentTypePermission, bool, error)
	Grant(ctx context.Context, key ContentTypeKey, flags permission.FlagSet) (ContentTypePermission, error)
	Revoke(ctx context.Context, key ContentTypeKey, flags permission.FlagSet) (ContentTypePermission, error)
	ListByUser(ctx context.Context, userID, tenantID string) ([]ContentTypePermission, error)
}

// ResourceStore persists grants on individual resources.
type ResourceStore interface {
	// Get returns the row as stored, expired or not; callers decide on expiry.
	Get(ctx context.Context, key ResourceKey) (ResourcePermission, bool, error)
	// GetMany loads rows for many resource ids of one type in a single round trip. Ids
	// without a row are absent from the result.
	GetMany(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string]ResourcePermission, error)
	// Grant unions flags into the row. When the existing row is expired at now it is
	// replaced outright; otherwise its expiry becomes MergeExpiry(current, expiresAt).
	Grant(ctx context.Context, key ResourceKey, flags permission.FlagSet, expiresAt *time.Time, now time.Time) (ResourcePermission, error)
	Revoke(ctx context.Context, key ResourceKey, flags permission.FlagSet) (ResourcePermission, error)
	ListByUser(ctx context.Context, userID, tenantID string) ([]ResourcePermission, error)
	// DeleteExpired removes rows expired at now and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
