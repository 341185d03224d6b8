package access

import (
	"time"

	"qazna.org/access/internal/permission"
)

// TenantKey scopes a user's baseline grant within a tenant.
type TenantKey struct {
	UserID   string
	TenantID string
}

// ContentTypeKey scopes a grant to every resource of one content type.
type ContentTypeKey struct {
	UserID      string
	TenantID    string
	ContentType string
}

// ResourceKey scopes a grant to a single resource. Resource ids are only unique within
// a tenant and resource type, so all four fields form the identity.
type ResourceKey struct {
	UserID       string
	TenantID     string
	ResourceType string
	ResourceID   string
}

// Resource identifies a target object within a tenant.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Key returns the resource key for a user within a tenant.
func (r Resource) Key(userID, tenantID string) ResourceKey {
	return ResourceKey{UserID: userID, TenantID: tenantID, ResourceType: r.Type, ResourceID: r.ID}
}

// ContentTypeKey returns the content-type key the resource falls under.
func (r Resource) ContentTypeKey(userID, tenantID string) ContentTypeKey {
	return ContentTypeKey{UserID: userID, TenantID: tenantID, ContentType: r.Type}
}

// TenantPermission is a user's grant at tenant scope.
type TenantPermission struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	TenantID  string             `json:"tenant_id"`
	Flags     permission.FlagSet `json:"-"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// TenantDefault is the tenant-wide baseline every user of the tenant receives.
type TenantDefault struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Flags     permission.FlagSet `json:"-"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ContentTypePermission is a user's grant over a whole class of resources.
type ContentTypePermission struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	TenantID    string             `json:"tenant_id"`
	ContentType string             `json:"content_type"`
	Flags       permission.FlagSet `json:"-"`
	Version     int64              `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ResourcePermission is a user's grant on one resource, optionally time-bounded.
type ResourcePermission struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	TenantID     string             `json:"tenant_id"`
	ResourceType string             `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	Flags        permission.FlagSet `json:"-"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Key returns the record's scope key.
func (p ResourcePermission) Key() ResourceKey {
	return ResourceKey{UserID: p.UserID, TenantID: p.TenantID, ResourceType: p.ResourceType, ResourceID: p.ResourceID}
}

// Expired reports whether the grant no longer applies at now. A grant without an
// expiry never expires.
func (p ResourcePermission) Expired(now time.Time) bool {
	return IsExpired(p.ExpiresAt, now)
}

// IsExpired reports whether an optional expiry lies at or before now.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !now.Before(*expiresAt)
}

// MergeExpiry returns the expiry of a resource row after a new grant with expiry next
// lands on a live row whose expiry is current. A bound on either side survives the
// merge, so a permanent grant never lifts a share's expiry and a bounded grant never
// becomes permanent by landing on a permanent row. Between two bounds the later wins.
func MergeExpiry(current, next *time.Time) *time.Time {
	switch {
	case current == nil && next == nil:
		return nil
	case current == nil:
		t := *next
		return &t
	case next == nil:
		t := *current
		return &t
	}
	if next.After(*current) {
		t := *next
		return &t
	}
	t := *current
	return &t
}

// ShareRequest describes an owner handing a subset of their permissions on a resource
// to another user of the same tenant.
type ShareRequest struct {
	OwnerID      string
	TargetUserID string
	TenantID     string
	Resource     Resource
	Permissions  []permission.Type
	ExpiresAt    *time.Time
}
