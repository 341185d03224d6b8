package redisstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

type tenantStore struct{ s *Store }

func tenantRecord(r row) access.TenantPermission {
	return access.TenantPermission{
		ID: r.id, UserID: r.userID, TenantID: r.tenantID, Flags: r.flags,
		Version: r.version, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt,
	}
}

func (t tenantStore) Get(ctx context.Context, key access.TenantKey) (access.TenantPermission, bool, error) {
	r, ok, err := loadRow(ctx, t.s.rdb, t.s.tenantKey(key), owner{userID: key.UserID, tenantID: key.TenantID})
	if err != nil || !ok {
		return access.TenantPermission{}, false, err
	}
	return tenantRecord(r), true, nil
}

func (t tenantStore) Grant(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	r, err := t.s.grantRow(ctx, t.s.tenantKey(key), row{userID: key.UserID, tenantID: key.TenantID}, flags, nil)
	if err != nil {
		return access.TenantPermission{}, err
	}
	return tenantRecord(r), nil
}

func (t tenantStore) Revoke(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	r, kept, err := t.s.revokeRow(ctx, t.s.tenantKey(key), owner{userID: key.UserID, tenantID: key.TenantID}, flags, nil)
	if err != nil || !kept {
		return access.TenantPermission{}, err
	}
	return tenantRecord(r), nil
}

func defaultRecord(r row) access.TenantDefault {
	return access.TenantDefault{
		ID: r.id, TenantID: r.tenantID, Flags: r.flags,
		Version: r.version, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt,
	}
}

func (t tenantStore) GetDefault(ctx context.Context, tenantID string) (access.TenantDefault, bool, error) {
	r, ok, err := loadRow(ctx, t.s.rdb, t.s.defaultKey(tenantID), owner{tenantID: tenantID})
	if err != nil || !ok {
		return access.TenantDefault{}, false, err
	}
	return defaultRecord(r), true, nil
}

func (t tenantStore) SetDefault(ctx context.Context, tenantID string, flags permission.FlagSet) (access.TenantDefault, error) {
	key := t.s.defaultKey(tenantID)
	var out row
	err := t.s.update(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		cur, ok, err := loadRow(ctx, tx, key, owner{tenantID: tenantID})
		if err != nil {
			return nil, err
		}
		now := t.s.timestamp()
		if !ok {
			cur = row{id: ids.NewAt(now), tenantID: tenantID, createdAt: now}
		}
		cur.flags = flags
		cur.version++
		cur.updatedAt = now
		out = cur
		return func(pipe redis.Pipeliner) error {
			if !ok {
				pipe.Del(ctx, key)
			}
			writeRow(ctx, pipe, key, cur)
			return nil
		}, nil
	}, key)
	if err != nil {
		return access.TenantDefault{}, err
	}
	return defaultRecord(out), nil
}

type contentTypeStore struct{ s *Store }

func contentTypeOwner(key access.ContentTypeKey) owner {
	return owner{userID: key.UserID, tenantID: key.TenantID, scope: key.ContentType}
}

func contentTypeRecord(r row) access.ContentTypePermission {
	return access.ContentTypePermission{
		ID: r.id, UserID: r.userID, TenantID: r.tenantID, ContentType: r.scope, Flags: r.flags,
		Version: r.version, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt,
	}
}

func (c contentTypeStore) Get(ctx context.Context, key access.ContentTypeKey) (access.ContentTypePermission, bool, error) {
	r, ok, err := loadRow(ctx, c.s.rdb, c.s.contentTypeKey(key), contentTypeOwner(key))
	if err != nil || !ok {
		return access.ContentTypePermission{}, false, err
	}
	return contentTypeRecord(r), true, nil
}

func (c contentTypeStore) Grant(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	hkey := c.s.contentTypeKey(key)
	index := c.s.contentTypeIndex(key.UserID, key.TenantID)
	init := row{userID: key.UserID, tenantID: key.TenantID, scope: key.ContentType}
	r, err := c.s.grantRow(ctx, hkey, init, flags, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, index, hkey)
	})
	if err != nil {
		return access.ContentTypePermission{}, err
	}
	return contentTypeRecord(r), nil
}

func (c contentTypeStore) Revoke(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	hkey := c.s.contentTypeKey(key)
	index := c.s.contentTypeIndex(key.UserID, key.TenantID)
	r, kept, err := c.s.revokeRow(ctx, hkey, contentTypeOwner(key), flags, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, index, hkey)
	})
	if err != nil || !kept {
		return access.ContentTypePermission{}, err
	}
	return contentTypeRecord(r), nil
}

func (c contentTypeStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ContentTypePermission, error) {
	rows, err := c.s.loadIndexed(ctx, c.s.contentTypeIndex(userID, tenantID), userID, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]access.ContentTypePermission, 0, len(rows))
	for _, r := range rows {
		out = append(out, contentTypeRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentType < out[j].ContentType })
	return out, nil
}

type resourceStore struct{ s *Store }

func resourceOwner(key access.ResourceKey) owner {
	return owner{userID: key.UserID, tenantID: key.TenantID, scope: key.ResourceType, resource: key.ResourceID}
}

func resourceRecord(r row) access.ResourcePermission {
	return access.ResourcePermission{
		ID: r.id, UserID: r.userID, TenantID: r.tenantID, ResourceType: r.scope, ResourceID: r.resource,
		Flags: r.flags, ExpiresAt: r.expiresAt,
		Version: r.version, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt,
	}
}

func (r resourceStore) Get(ctx context.Context, key access.ResourceKey) (access.ResourcePermission, bool, error) {
	rw, ok, err := loadRow(ctx, r.s.rdb, r.s.resourceKey(key), resourceOwner(key))
	if err != nil || !ok {
		return access.ResourcePermission{}, false, err
	}
	return resourceRecord(rw), true, nil
}

func (r resourceStore) GetMany(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string]access.ResourcePermission, error) {
	cmds := make([]*redis.MapStringStringCmd, len(resourceIDs))
	keys := make([]access.ResourceKey, len(resourceIDs))
	_, err := r.s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range resourceIDs {
			keys[i] = access.ResourceKey{UserID: userID, TenantID: tenantID, ResourceType: resourceType, ResourceID: id}
			cmds[i] = pipe.HGetAll(ctx, r.s.resourceKey(keys[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]access.ResourcePermission, len(resourceIDs))
	for i, cmd := range cmds {
		rw, ok, err := decodeOwned(r.s.resourceKey(keys[i]), cmd.Val(), resourceOwner(keys[i]))
		if err != nil {
			return nil, err
		}
		if ok {
			out[resourceIDs[i]] = resourceRecord(rw)
		}
	}
	return out, nil
}

func (r resourceStore) Grant(ctx context.Context, key access.ResourceKey, flags permission.FlagSet, expiresAt *time.Time, now time.Time) (access.ResourcePermission, error) {
	hkey := r.s.resourceKey(key)
	index := r.s.resourceIndex(key.UserID, key.TenantID)
	var out row
	err := r.s.update(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		cur, ok, err := loadRow(ctx, tx, hkey, resourceOwner(key))
		if err != nil {
			return nil, err
		}
		ts := r.s.timestamp()
		switch {
		case !ok:
			cur = row{
				id: ids.NewAt(ts), userID: key.UserID, tenantID: key.TenantID,
				scope: key.ResourceType, resource: key.ResourceID,
				flags: flags, expiresAt: utcPtr(expiresAt), createdAt: ts,
			}
		case access.IsExpired(cur.expiresAt, now):
			cur.flags = flags
			cur.expiresAt = utcPtr(expiresAt)
		default:
			cur.flags = cur.flags.Union(flags)
			cur.expiresAt = access.MergeExpiry(cur.expiresAt, expiresAt)
		}
		cur.version++
		cur.updatedAt = ts
		out = cur
		return func(pipe redis.Pipeliner) error {
			if !ok {
				pipe.Del(ctx, hkey)
			}
			writeRow(ctx, pipe, hkey, cur)
			pipe.SAdd(ctx, index, hkey)
			return nil
		}, nil
	}, hkey)
	if err != nil {
		return access.ResourcePermission{}, err
	}
	return resourceRecord(out), nil
}

func (r resourceStore) Revoke(ctx context.Context, key access.ResourceKey, flags permission.FlagSet) (access.ResourcePermission, error) {
	hkey := r.s.resourceKey(key)
	index := r.s.resourceIndex(key.UserID, key.TenantID)
	rw, kept, err := r.s.revokeRow(ctx, hkey, resourceOwner(key), flags, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, index, hkey)
	})
	if err != nil || !kept {
		return access.ResourcePermission{}, err
	}
	return resourceRecord(rw), nil
}

func (r resourceStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ResourcePermission, error) {
	rows, err := r.s.loadIndexed(ctx, r.s.resourceIndex(userID, tenantID), userID, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]access.ResourcePermission, 0, len(rows))
	for _, rw := range rows {
		out = append(out, resourceRecord(rw))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

// DeleteExpired walks the per-user resource indexes. Redis already evicts expired
// hashes through their TTL; this removes the ones still present at now and prunes index
// entries left behind by eviction.
func (r resourceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		removed int64
		cursor  uint64
		pattern = r.s.prefix + ":{*}:ri:*"
	)
	for {
		indexes, next, err := r.s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, err
		}
		for _, index := range indexes {
			n, err := r.pruneIndex(ctx, index, now)
			removed += n
			if err != nil {
				return removed, err
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (r resourceStore) pruneIndex(ctx context.Context, index string, now time.Time) (int64, error) {
	members, err := r.s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, hkey := range members {
		var gone bool
		err := r.s.update(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
			h, err := tx.HGetAll(ctx, hkey).Result()
			if err != nil {
				return nil, err
			}
			cur, ok, err := decodeRow(hkey, h)
			if err != nil {
				return nil, err
			}
			if ok && !access.IsExpired(cur.expiresAt, now) {
				gone = false
				return nil, nil
			}
			gone = true
			return func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, hkey)
				pipe.SRem(ctx, index, hkey)
				return nil
			}, nil
		}, hkey)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", hkey, err)
		}
		if gone {
			removed++
		}
	}
	return removed, nil
}

// loadIndexed reads every hash named in the index set, dropping members whose hash is
// gone or belongs to someone else.
func (s *Store) loadIndexed(ctx context.Context, index, userID, tenantID string) ([]row, error) {
	members, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]row, 0, len(members))
	for i, cmd := range cmds {
		r, ok, err := decodeRow(members[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		if ok && r.userID == userID && r.tenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
