package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

const resourceColumns = `id, user_id, tenant_id, resource_type, resource_id, flags1, flags2, expires_at, version, created_at, updated_at`

type resourceStore struct{ s *Store }

func scanResource(row interface{ Scan(...any) error }) (access.ResourcePermission, error) {
	var (
		rec     access.ResourcePermission
		f1, f2  int64
		expires sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TenantID, &rec.ResourceType, &rec.ResourceID, &f1, &f2, &expires, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return access.ResourcePermission{}, err
	}
	rec.Flags = decodeFlags(f1, f2)
	rec.ExpiresAt = timePtr(expires)
	return rec, nil
}

func (r resourceStore) Get(ctx context.Context, key access.ResourceKey) (access.ResourcePermission, bool, error) {
	if r.s.db == nil {
		return access.ResourcePermission{}, false, errDBUnavailable
	}
	rec, err := scanResource(r.s.db.QueryRowContext(ctx, `
		select `+resourceColumns+`
		from resource_permissions
		where user_id = $1 and tenant_id = $2 and resource_type = $3 and resource_id = $4
	`, key.UserID, key.TenantID, key.ResourceType, key.ResourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return access.ResourcePermission{}, false, nil
	}
	if err != nil {
		return access.ResourcePermission{}, false, mapErr(err)
	}
	return rec, true, nil
}

func (r resourceStore) GetMany(ctx context.Context, userID, tenantID, resourceType string, resourceIDs []string) (map[string]access.ResourcePermission, error) {
	if r.s.db == nil {
		return nil, errDBUnavailable
	}
	out := make(map[string]access.ResourcePermission, len(resourceIDs))
	for start := 0; start < len(resourceIDs); start += maxBulkParams {
		end := min(start+maxBulkParams, len(resourceIDs))
		if err := r.getChunk(ctx, userID, tenantID, resourceType, resourceIDs[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r resourceStore) getChunk(ctx context.Context, userID, tenantID, resourceType string, chunk []string, out map[string]access.ResourcePermission) error {
	var (
		placeholders = make([]string, len(chunk))
		args         = []any{userID, tenantID, resourceType}
	)
	for i, id := range chunk {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		select %s
		from resource_permissions
		where user_id = $1 and tenant_id = $2 and resource_type = $3 and resource_id in (%s)
	`, resourceColumns, strings.Join(placeholders, ", "))
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanResource(rows)
		if err != nil {
			return err
		}
		out[rec.ResourceID] = rec
	}
	return mapErr(rows.Err())
}

func (r resourceStore) Grant(ctx context.Context, key access.ResourceKey, flags permission.FlagSet, expiresAt *time.Time, now time.Time) (access.ResourcePermission, error) {
	if r.s.db == nil {
		return access.ResourcePermission{}, errDBUnavailable
	}
	f1, f2 := encodeFlags(flags)
	// $9 is the caller's clock: a row already expired at that instant is replaced rather
	// than merged; otherwise flags union and greatest() keeps the later bound. greatest
	// skips nulls, so the row stays unbounded only when both sides are.
	rec, err := scanResource(r.s.db.QueryRowContext(ctx, `
		insert into resource_permissions (id, user_id, tenant_id, resource_type, resource_id, flags1, flags2, expires_at, version, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now())
		on conflict (user_id, tenant_id, resource_type, resource_id) do update
		set flags1 = case when resource_permissions.expires_at <= $9 then excluded.flags1
		                  else resource_permissions.flags1 | excluded.flags1 end,
		    flags2 = case when resource_permissions.expires_at <= $9 then excluded.flags2
		                  else resource_permissions.flags2 | excluded.flags2 end,
		    expires_at = case
		        when resource_permissions.expires_at <= $9 then excluded.expires_at
		        else greatest(resource_permissions.expires_at, excluded.expires_at)
		    end,
		    version = resource_permissions.version + 1,
		    updated_at = now()
		returning `+resourceColumns,
		ids.New(), key.UserID, key.TenantID, key.ResourceType, key.ResourceID, f1, f2, nullTime(expiresAt), now.UTC()))
	if err != nil {
		return access.ResourcePermission{}, mapErr(err)
	}
	return rec, nil
}

func (r resourceStore) Revoke(ctx context.Context, key access.ResourceKey, flags permission.FlagSet) (access.ResourcePermission, error) {
	var rec access.ResourcePermission
	_, err := r.s.revokeRow(ctx, "resource_permissions",
		"user_id = $1 and tenant_id = $2 and resource_type = $3 and resource_id = $4",
		[]any{key.UserID, key.TenantID, key.ResourceType, key.ResourceID}, flags, resourceColumns,
		func(row *sql.Row) error {
			var err error
			rec, err = scanResource(row)
			return err
		})
	if err != nil {
		return access.ResourcePermission{}, err
	}
	return rec, nil
}

func (r resourceStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ResourcePermission, error) {
	if r.s.db == nil {
		return nil, errDBUnavailable
	}
	rows, err := r.s.db.QueryContext(ctx, `
		select `+resourceColumns+`
		from resource_permissions
		where user_id = $1 and tenant_id = $2
		order by resource_type, resource_id
	`, userID, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []access.ResourcePermission
	for rows.Next() {
		rec, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (r resourceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.s.db == nil {
		return 0, errDBUnavailable
	}
	res, err := r.s.db.ExecContext(ctx, `
		delete from resource_permissions
		where expires_at is not null and expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}
