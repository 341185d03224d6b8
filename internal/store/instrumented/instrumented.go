// Package instrumented wraps an access.Store with Prometheus metrics and slow-call
// logging.
package instrumented

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/permission"
)

// SlowCallThreshold is the duration above which successful store calls are logged.
var SlowCallThreshold = 100 * time.Millisecond

// Store decorates another access.Store.
type Store struct {
	inner  access.Store
	name   string
	logger *slog.Logger
}

var _ access.Store = (*Store)(nil)

// Wrap instruments inner under the store label name (memory, postgres, redis).
func Wrap(inner access.Store, name string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = obs.Logger()
	}
	return &Store{inner: inner, name: name, logger: logger}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() access.Store { return s.inner }

func (s *Store) Tenants() access.TenantStore {
	return tenantStore{s: s, inner: s.inner.Tenants()}
}

func (s *Store) ContentTypes() access.ContentTypeStore {
	return contentTypeStore{s: s, inner: s.inner.ContentTypes()}
}

func (s *Store) Resources() access.ResourceStore {
	return resourceStore{s: s, inner: s.inner.Resources()}
}

func (s *Store) Ping(ctx context.Context) error {
	return instrumentVoid(s, "ping", func() error { return s.inner.Ping(ctx) })
}

// instrument times fn and records its outcome.
func instrument[T any](s *Store, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	duration := time.Since(start)

	obs.StoreOperationDuration.WithLabelValues(s.name, operation).Observe(duration.Seconds())
	if err != nil {
		obs.StoreOperationsTotal.WithLabelValues(s.name, operation, classifyError(err)).Inc()
		s.logger.Error("store operation failed",
			"store", s.name,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return result, err
	}
	obs.StoreOperationsTotal.WithLabelValues(s.name, operation, "success").Inc()
	if duration > SlowCallThreshold {
		s.logger.Warn("slow store operation",
			"store", s.name,
			"operation", operation,
			"duration_ms", duration.Milliseconds())
	}
	return result, nil
}

func instrumentVoid(s *Store, operation string, fn func() error) error {
	_, err := instrument(s, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type lookup[T any] struct {
	value T
	found bool
}

func instrumentGet[T any](s *Store, operation string, fn func() (T, bool, error)) (T, bool, error) {
	res, err := instrument(s, operation, func() (lookup[T], error) {
		v, ok, err := fn()
		return lookup[T]{value: v, found: ok}, err
	})
	return res.value, res.found, err
}

// classifyError returns a label-safe outcome.
func classifyError(err error) string {
	switch {
	case errors.Is(err, access.ErrConflict):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

type tenantStore struct {
	s     *Store
	inner access.TenantStore
}

func (t tenantStore) Get(ctx context.Context, key access.TenantKey) (access.TenantPermission, bool, error) {
	return instrumentGet(t.s, "tenant_get", func() (access.TenantPermission, bool, error) {
		return t.inner.Get(ctx, key)
	})
}

func (t tenantStore) Grant(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	return instrument(t.s, "tenant_grant", func() (access.TenantPermission, error) {
		return t.inner.Grant(ctx, key, flags)
	})
}

func (t tenantStore) Revoke(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	return instrument(t.s, "tenant_revoke", func() (access.TenantPermission, error) {
		return t.inner.Revoke(ctx, key, flags)
	})
}

func (t tenantStore) GetDefault(ctx context.Context, tenantID string) (access.TenantDefault, bool, error) {
	return instrumentGet(t.s, "default_get", func() (access.TenantDefault, bool, error) {
		return t.inner.GetDefault(ctx, tenantID)
	})
}

func (t tenantStore) SetDefault(ctx context.Context, tenantID string, flags permission.FlagSet) (access.TenantDefault, error) {
	return instrument(t.s, "default_set", func() (access.TenantDefault, error) {
		return t.inner.SetDefault(ctx, tenantID, flags)
	})
}

type contentTypeStore struct {
	s     *Store
	inner access.ContentTypeStore
}

func (c contentTypeStore) Get(ctx context.Context, key access.ContentTypeKey) (access.ContentTypePermission, bool, error) {
	return instrumentGet(c.s, "content_type_get", func() (access.ContentTypePermission, bool, error) {
		return c.inner.Get(ctx, key)
	})
}

func (c contentTypeStore) Grant(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	return instrument(c.s, "content_type_grant", func() (access.ContentTypePermission, error) {
		return c.inner.Grant(ctx, key, flags)
	})
}

func (c contentTypeStore) Revoke(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	return instrument(c.s, "content_type_revoke", func() (access.ContentTypePermission, error) {
		return c.inner.Revoke(ctx, key, flags)
	})
}

func (c contentTypeStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ContentTypePermission, error) {
	return instrument(c.s, "content_type_list", func() ([]access.ContentTypePermission, error) {
		return c.inner.ListByUser(ctx, userID, tenantID)
	})
}

type resourceStore struct {
	s     *Store
	inner access.ResourceStore
}

func (r resourceStore) Get(ctx context.Context, key access.ResourceKey) (access.ResourcePermission, bool, error) {
	return instrumentGet(r.s, "resource_get", func() (access.ResourcePermission, bool, error) {
		return r.inner.Get(ctx, key)
	})
}

func (r resourceStore) GetMany(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string]access.ResourcePermission, error) {
	return instrument(r.s, "resource_get_many", func() (map[string]access.ResourcePermission, error) {
		return r.inner.GetMany(ctx, userID, tenantID, resourceType, resourceIDs)
	})
}

func (r resourceStore) Grant(ctx context.Context, key access.ResourceKey, flags permission.FlagSet, expiresAt *time.Time, now time.Time) (access.ResourcePermission, error) {
	return instrument(r.s, "resource_grant", func() (access.ResourcePermission, error) {
		return r.inner.Grant(ctx, key, flags, expiresAt, now)
	})
}

func (r resourceStore) Revoke(ctx context.Context, key access.ResourceKey, flags permission.FlagSet) (access.ResourcePermission, error) {
	return instrument(r.s, "resource_revoke", func() (access.ResourcePermission, error) {
		return r.inner.Revoke(ctx, key, flags)
	})
}

func (r resourceStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ResourcePermission, error) {
	return instrument(r.s, "resource_list", func() ([]access.ResourcePermission, error) {
		return r.inner.ListByUser(ctx, userID, tenantID)
	})
}

func (r resourceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return instrument(r.s, "resource_delete_expired", func() (int64, error) {
		return r.inner.DeleteExpired(ctx, now)
	})
}
