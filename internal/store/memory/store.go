// Package memory implements access.Store in process memory. Rows for one user within
// one tenant live in a single shard, so every write is atomic under that shard's lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

const defaultShards = 32

type shard struct {
	mu           sync.RWMutex
	tenants      map[access.TenantKey]access.TenantPermission
	defaults     map[string]access.TenantDefault
	contentTypes map[access.ContentTypeKey]access.ContentTypePermission
	resources    map[access.ResourceKey]access.ResourcePermission
}

// Store is a sharded in-memory permission store.
type Store struct {
	shards []*shard
	now    func() time.Time
}

var _ access.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithClock overrides the time source for row timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{shards: make([]*shard, defaultShards), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			tenants:      make(map[access.TenantKey]access.TenantPermission),
			defaults:     make(map[string]access.TenantDefault),
			contentTypes: make(map[access.ContentTypeKey]access.ContentTypePermission),
			resources:    make(map[access.ResourceKey]access.ResourcePermission),
		}
	}
	return s
}

func (s *Store) shardFor(tenantID, userID string) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(tenantID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(userID)
	return s.shards[d.Sum64()%uint64(len(s.shards))]
}

func (s *Store) timestamp() time.Time { return s.now().UTC() }

func (s *Store) Tenants() access.TenantStore           { return tenantStore{s} }
func (s *Store) ContentTypes() access.ContentTypeStore { return contentTypeStore{s} }
func (s *Store) Resources() access.ResourceStore       { return resourceStore{s} }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

type tenantStore struct{ s *Store }

func (t tenantStore) Get(ctx context.Context, key access.TenantKey) (access.TenantPermission, bool, error) {
	if err := ctx.Err(); err != nil {
		return access.TenantPermission{}, false, err
	}
	sh := t.s.shardFor(key.TenantID, key.UserID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.tenants[key]
	return rec, ok, nil
}

func (t tenantStore) Grant(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	if err := ctx.Err(); err != nil {
		return access.TenantPermission{}, err
	}
	sh := t.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := t.s.timestamp()
	rec, ok := sh.tenants[key]
	if !ok {
		rec = access.TenantPermission{ID: ids.NewAt(now), UserID: key.UserID, TenantID: key.TenantID, CreatedAt: now}
	}
	rec.Flags = rec.Flags.Union(flags)
	rec.Version++
	rec.UpdatedAt = now
	sh.tenants[key] = rec
	return rec, nil
}

func (t tenantStore) Revoke(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	if err := ctx.Err(); err != nil {
		return access.TenantPermission{}, err
	}
	sh := t.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.tenants[key]
	if !ok {
		return access.TenantPermission{}, nil
	}
	rec.Flags = rec.Flags.Without(flags)
	if rec.Flags.IsEmpty() {
		delete(sh.tenants, key)
		return access.TenantPermission{}, nil
	}
	rec.Version++
	rec.UpdatedAt = t.s.timestamp()
	sh.tenants[key] = rec
	return rec, nil
}

func (t tenantStore) GetDefault(ctx context.Context, tenantID string) (access.TenantDefault, bool, error) {
	if err := ctx.Err(); err != nil {
		return access.TenantDefault{}, false, err
	}
	sh := t.s.shardFor(tenantID, "")
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	def, ok := sh.defaults[tenantID]
	return def, ok, nil
}

func (t tenantStore) SetDefault(ctx context.Context, tenantID string, flags permission.FlagSet) (access.TenantDefault, error) {
	if err := ctx.Err(); err != nil {
		return access.TenantDefault{}, err
	}
	sh := t.s.shardFor(tenantID, "")
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := t.s.timestamp()
	def, ok := sh.defaults[tenantID]
	if !ok {
		def = access.TenantDefault{ID: ids.NewAt(now), TenantID: tenantID, CreatedAt: now}
	}
	def.Flags = flags
	def.Version++
	def.UpdatedAt = now
	sh.defaults[tenantID] = def
	return def, nil
}

type contentTypeStore struct{ s *Store }

func (c contentTypeStore) Get(ctx context.Context, key access.ContentTypeKey) (access.ContentTypePermission, bool, error) {
	if err := ctx.Err(); err != nil {
		return access.ContentTypePermission{}, false, err
	}
	sh := c.s.shardFor(key.TenantID, key.UserID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.contentTypes[key]
	return rec, ok, nil
}

func (c contentTypeStore) Grant(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	if err := ctx.Err(); err != nil {
		return access.ContentTypePermission{}, err
	}
	sh := c.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := c.s.timestamp()
	rec, ok := sh.contentTypes[key]
	if !ok {
		rec = access.ContentTypePermission{
			ID: ids.NewAt(now), UserID: key.UserID, TenantID: key.TenantID, ContentType: key.ContentType, CreatedAt: now,
		}
	}
	rec.Flags = rec.Flags.Union(flags)
	rec.Version++
	rec.UpdatedAt = now
	sh.contentTypes[key] = rec
	return rec, nil
}

func (c contentTypeStore) Revoke(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	if err := ctx.Err(); err != nil {
		return access.ContentTypePermission{}, err
	}
	sh := c.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.contentTypes[key]
	if !ok {
		return access.ContentTypePermission{}, nil
	}
	rec.Flags = rec.Flags.Without(flags)
	if rec.Flags.IsEmpty() {
		delete(sh.contentTypes, key)
		return access.ContentTypePermission{}, nil
	}
	rec.Version++
	rec.UpdatedAt = c.s.timestamp()
	sh.contentTypes[key] = rec
	return rec, nil
}

func (c contentTypeStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ContentTypePermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := c.s.shardFor(tenantID, userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var out []access.ContentTypePermission
	for key, rec := range sh.contentTypes {
		if key.UserID == userID && key.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentType < out[j].ContentType })
	return out, nil
}

type resourceStore struct{ s *Store }

func (r resourceStore) Get(ctx context.Context, key access.ResourceKey) (access.ResourcePermission, bool, error) {
	if err := ctx.Err(); err != nil {
		return access.ResourcePermission{}, false, err
	}
	sh := r.s.shardFor(key.TenantID, key.UserID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.resources[key]
	return copyResource(rec), ok, nil
}

func (r resourceStore) GetMany(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string]access.ResourcePermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := r.s.shardFor(tenantID, userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make(map[string]access.ResourcePermission, len(resourceIDs))
	for _, id := range resourceIDs {
		key := access.ResourceKey{UserID: userID, TenantID: tenantID, ResourceType: resourceType, ResourceID: id}
		if rec, ok := sh.resources[key]; ok {
			out[id] = copyResource(rec)
		}
	}
	return out, nil
}

func (r resourceStore) Grant(ctx context.Context, key access.ResourceKey, flags permission.FlagSet, expiresAt *time.Time, now time.Time) (access.ResourcePermission, error) {
	if err := ctx.Err(); err != nil {
		return access.ResourcePermission{}, err
	}
	sh := r.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := r.s.timestamp()
	rec, ok := sh.resources[key]
	switch {
	case !ok:
		rec = access.ResourcePermission{
			ID: ids.NewAt(ts), UserID: key.UserID, TenantID: key.TenantID,
			ResourceType: key.ResourceType, ResourceID: key.ResourceID,
			Flags: flags, ExpiresAt: cloneTime(expiresAt), CreatedAt: ts,
		}
	case rec.Expired(now):
		rec.Flags = flags
		rec.ExpiresAt = cloneTime(expiresAt)
	default:
		rec.Flags = rec.Flags.Union(flags)
		rec.ExpiresAt = access.MergeExpiry(rec.ExpiresAt, expiresAt)
	}
	rec.Version++
	rec.UpdatedAt = ts
	sh.resources[key] = rec
	return copyResource(rec), nil
}

func (r resourceStore) Revoke(ctx context.Context, key access.ResourceKey, flags permission.FlagSet) (access.ResourcePermission, error) {
	if err := ctx.Err(); err != nil {
		return access.ResourcePermission{}, err
	}
	sh := r.s.shardFor(key.TenantID, key.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.resources[key]
	if !ok {
		return access.ResourcePermission{}, nil
	}
	rec.Flags = rec.Flags.Without(flags)
	if rec.Flags.IsEmpty() {
		delete(sh.resources, key)
		return access.ResourcePermission{}, nil
	}
	rec.Version++
	rec.UpdatedAt = r.s.timestamp()
	sh.resources[key] = rec
	return copyResource(rec), nil
}

func (r resourceStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ResourcePermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := r.s.shardFor(tenantID, userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var out []access.ResourcePermission
	for key, rec := range sh.resources {
		if key.UserID == userID && key.TenantID == tenantID {
			out = append(out, copyResource(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (r resourceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for _, sh := range r.s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for key, rec := range sh.resources {
			if rec.Expired(now) {
				delete(sh.resources, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func copyResource(rec access.ResourcePermission) access.ResourcePermission {
	rec.ExpiresAt = cloneTime(rec.ExpiresAt)
	return rec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
