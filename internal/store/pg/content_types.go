package pg

import (
	"context"
	"database/sql"
	"errors"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

const contentTypeColumns = `id, user_id, tenant_id, content_type, flags1, flags2, version, created_at, updated_at`

type contentTypeStore struct{ s *Store }

func scanContentType(row interface{ Scan(...any) error }) (access.ContentTypePermission, error) {
	var (
		rec    access.ContentTypePermission
		f1, f2 int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TenantID, &rec.ContentType, &f1, &f2, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return access.ContentTypePermission{}, err
	}
	rec.Flags = decodeFlags(f1, f2)
	return rec, nil
}

func (c contentTypeStore) Get(ctx context.Context, key access.ContentTypeKey) (access.ContentTypePermission, bool, error) {
	if c.s.db == nil {
		return access.ContentTypePermission{}, false, errDBUnavailable
	}
	rec, err := scanContentType(c.s.db.QueryRowContext(ctx, `
		select `+contentTypeColumns+`
		from content_type_permissions
		where user_id = $1 and tenant_id = $2 and content_type = $3
	`, key.UserID, key.TenantID, key.ContentType))
	if errors.Is(err, sql.ErrNoRows) {
		return access.ContentTypePermission{}, false, nil
	}
	if err != nil {
		return access.ContentTypePermission{}, false, mapErr(err)
	}
	return rec, true, nil
}

func (c contentTypeStore) Grant(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	if c.s.db == nil {
		return access.ContentTypePermission{}, errDBUnavailable
	}
	f1, f2 := encodeFlags(flags)
	rec, err := scanContentType(c.s.db.QueryRowContext(ctx, `
		insert into content_type_permissions (id, user_id, tenant_id, content_type, flags1, flags2, version, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, 1, now(), now())
		on conflict (user_id, tenant_id, content_type) do update
		set flags1 = content_type_permissions.flags1 | excluded.flags1,
		    flags2 = content_type_permissions.flags2 | excluded.flags2,
		    version = content_type_permissions.version + 1,
		    updated_at = now()
		returning `+contentTypeColumns,
		ids.New(), key.UserID, key.TenantID, key.ContentType, f1, f2))
	if err != nil {
		return access.ContentTypePermission{}, mapErr(err)
	}
	return rec, nil
}

func (c contentTypeStore) Revoke(ctx context.Context, key access.ContentTypeKey, flags permission.FlagSet) (access.ContentTypePermission, error) {
	var rec access.ContentTypePermission
	_, err := c.s.revokeRow(ctx, "content_type_permissions", "user_id = $1 and tenant_id = $2 and content_type = $3",
		[]any{key.UserID, key.TenantID, key.ContentType}, flags, contentTypeColumns,
		func(row *sql.Row) error {
			var err error
			rec, err = scanContentType(row)
			return err
		})
	if err != nil {
		return access.ContentTypePermission{}, err
	}
	return rec, nil
}

func (c contentTypeStore) ListByUser(ctx context.Context, userID, tenantID string) ([]access.ContentTypePermission, error) {
	if c.s.db == nil {
		return nil, errDBUnavailable
	}
	rows, err := c.s.db.QueryContext(ctx, `
		select `+contentTypeColumns+`
		from content_type_permissions
		where user_id = $1 and tenant_id = $2
		order by content_type
	`, userID, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []access.ContentTypePermission
	for rows.Next() {
		rec, err := scanContentType(rows)
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
