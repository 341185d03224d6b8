// Package redisstore implements access.Store on Redis hashes.
//
// Every key embeds the tenant id as a hash tag, so one tenant's rows share a cluster
// slot. Id components are escaped before they are joined, so no id can reach into
// another segment of the key. Writes are optimistic: the row is watched, recomputed and written in a
// MULTI/EXEC block, and retried a bounded number of times when another writer wins.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

const (
	defaultPrefix     = "acc"
	defaultMaxRetries = 8
)

// Store is a Redis-backed permission store.
type Store struct {
	rdb        redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

var _ access.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxRetries bounds optimistic-lock retries per write.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
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

// New wraps a Redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: defaultPrefix, maxRetries: defaultMaxRetries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Tenants() access.TenantStore           { return tenantStore{s} }
func (s *Store) ContentTypes() access.ContentTypeStore { return contentTypeStore{s} }
func (s *Store) Resources() access.ResourceStore       { return resourceStore{s} }

// keyPart escapes the separators and hash tag braces used in key layout.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A", "{", "%7B", "}", "%7D").Replace

func (s *Store) tenantPrefix(tenantID string) string {
	return s.prefix + ":{" + keyPart(tenantID) + "}"
}

func (s *Store) tenantKey(key access.TenantKey) string {
	return s.tenantPrefix(key.TenantID) + ":t:" + keyPart(key.UserID)
}

func (s *Store) defaultKey(tenantID string) string {
	return s.tenantPrefix(tenantID) + ":d"
}

func (s *Store) contentTypeKey(key access.ContentTypeKey) string {
	return s.tenantPrefix(key.TenantID) + ":c:" + keyPart(key.UserID) + ":" + keyPart(key.ContentType)
}

func (s *Store) contentTypeIndex(userID, tenantID string) string {
	return s.tenantPrefix(tenantID) + ":ci:" + keyPart(userID)
}

func (s *Store) resourceKey(key access.ResourceKey) string {
	return s.tenantPrefix(key.TenantID) + ":r:" + keyPart(key.UserID) + ":" + keyPart(key.ResourceType) + ":" + keyPart(key.ResourceID)
}

func (s *Store) resourceIndex(userID, tenantID string) string {
	return s.tenantPrefix(tenantID) + ":ri:" + keyPart(userID)
}

// update runs fn under WATCH on keys. fn returns the pipeline to apply, or nil to
// leave the keys untouched.
func (s *Store) update(ctx context.Context, fn func(tx *redis.Tx) (func(redis.Pipeliner) error, error), keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			apply, err := fn(tx)
			if err != nil || apply == nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, apply)
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s changed concurrently %d times", access.ErrConflict, keys[0], s.maxRetries)
}

// row is the hash layout shared by every record kind.
type row struct {
	id        string
	userID    string
	tenantID  string
	scope     string
	resource  string
	flags     permission.FlagSet
	version   int64
	createdAt time.Time
	updatedAt time.Time
	expiresAt *time.Time
}

const (
	fieldID        = "id"
	fieldUser      = "uid"
	fieldTenant    = "tid"
	fieldScope     = "st"
	fieldResource  = "rid"
	fieldFlagsLo   = "f1"
	fieldFlagsHi   = "f2"
	fieldVersion   = "v"
	fieldCreatedAt = "ca"
	fieldUpdatedAt = "ua"
	fieldExpiresAt = "exp"
)

func decodeRow(key string, h map[string]string) (row, bool, error) {
	if len(h) == 0 {
		return row{}, false, nil
	}
	var (
		r   = row{id: h[fieldID], userID: h[fieldUser], tenantID: h[fieldTenant], scope: h[fieldScope], resource: h[fieldResource]}
		lo  uint64
		hi  uint64
		err error
	)
	if lo, err = parseUint(h[fieldFlagsLo]); err != nil {
		return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldFlagsLo, err)
	}
	if hi, err = parseUint(h[fieldFlagsHi]); err != nil {
		return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldFlagsHi, err)
	}
	r.flags = permission.FromWords(lo, hi)
	if r.version, err = strconv.ParseInt(h[fieldVersion], 10, 64); err != nil {
		return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldVersion, err)
	}
	if r.createdAt, err = parseTime(h[fieldCreatedAt]); err != nil {
		return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldCreatedAt, err)
	}
	if r.updatedAt, err = parseTime(h[fieldUpdatedAt]); err != nil {
		return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldUpdatedAt, err)
	}
	if v := h[fieldExpiresAt]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return row{}, false, fmt.Errorf("decode %s %s: %w", key, fieldExpiresAt, err)
		}
		r.expiresAt = &t
	}
	return r, true, nil
}

// owner is the identity a key was built for. Rows are only returned to callers that
// ask for the identity stored with them.
type owner struct {
	userID   string
	tenantID string
	scope    string
	resource string
}

func (r row) owner() owner {
	return owner{userID: r.userID, tenantID: r.tenantID, scope: r.scope, resource: r.resource}
}

func (r row) fields() []any {
	lo, hi := r.flags.Words()
	out := []any{
		fieldID, r.id,
		fieldUser, r.userID,
		fieldTenant, r.tenantID,
		fieldFlagsLo, strconv.FormatUint(lo, 10),
		fieldFlagsHi, strconv.FormatUint(hi, 10),
		fieldVersion, strconv.FormatInt(r.version, 10),
		fieldCreatedAt, formatTime(r.createdAt),
		fieldUpdatedAt, formatTime(r.updatedAt),
	}
	if r.scope != "" {
		out = append(out, fieldScope, r.scope)
	}
	if r.resource != "" {
		out = append(out, fieldResource, r.resource)
	}
	if r.expiresAt != nil {
		out = append(out, fieldExpiresAt, formatTime(*r.expiresAt))
	}
	return out
}

// writeRow stores r at key, replacing stale fields, and keeps the key's TTL in step with
// the row's expiry.
func writeRow(ctx context.Context, pipe redis.Pipeliner, key string, r row) {
	pipe.HSet(ctx, key, r.fields()...)
	if r.expiresAt == nil {
		pipe.HDel(ctx, key, fieldExpiresAt)
		pipe.Persist(ctx, key)
		return
	}
	pipe.PExpireAt(ctx, key, *r.expiresAt)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func formatTime(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func (s *Store) timestamp() time.Time { return s.now().UTC() }

// loadRow reads key through c, which is the client or a watching transaction. A row
// stored for a different owner reads as a miss.
func loadRow(ctx context.Context, c redis.Cmdable, key string, want owner) (row, bool, error) {
	h, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return row{}, false, err
	}
	return decodeOwned(key, h, want)
}

func decodeOwned(key string, h map[string]string, want owner) (row, bool, error) {
	r, ok, err := decodeRow(key, h)
	if err != nil || !ok || r.owner() != want {
		return row{}, false, err
	}
	return r, true, nil
}

// grantRow unions flags into the row at key, creating it from init when absent. after
// runs in the same transaction as the write.
func (s *Store) grantRow(ctx context.Context, key string, init row, flags permission.FlagSet, after func(redis.Pipeliner)) (row, error) {
	var out row
	err := s.update(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		cur, ok, err := loadRow(ctx, tx, key, init.owner())
		if err != nil {
			return nil, err
		}
		now := s.timestamp()
		if !ok {
			cur = init
			cur.id = ids.NewAt(now)
			cur.createdAt = now
		}
		cur.flags = cur.flags.Union(flags)
		cur.version++
		cur.updatedAt = now
		out = cur
		return func(pipe redis.Pipeliner) error {
			if !ok {
				pipe.Del(ctx, key)
			}
			writeRow(ctx, pipe, key, cur)
			if after != nil {
				after(pipe)
			}
			return nil
		}, nil
	}, key)
	return out, err
}

// revokeRow clears flags from the row at key, deleting it once empty. onDelete runs in
// the same transaction as the delete.
func (s *Store) revokeRow(ctx context.Context, key string, want owner, flags permission.FlagSet, onDelete func(redis.Pipeliner)) (row, bool, error) {
	var (
		out  row
		kept bool
	)
	err := s.update(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		cur, ok, err := loadRow(ctx, tx, key, want)
		if err != nil || !ok {
			out, kept = row{}, false
			return nil, err
		}
		cur.flags = cur.flags.Without(flags)
		if cur.flags.IsEmpty() {
			out, kept = row{}, false
			return func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if onDelete != nil {
					onDelete(pipe)
				}
				return nil
			}, nil
		}
		cur.version++
		cur.updatedAt = s.timestamp()
		out, kept = cur, true
		return func(pipe redis.Pipeliner) error {
			writeRow(ctx, pipe, key, cur)
			return nil
		}, nil
	}, key)
	return out, kept, err
}
