package pg

import (
	"context"
	"database/sql"
	"errors"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/ids"
	"qazna.org/access/internal/permission"
)

const (
	tenantColumns  = `id, user_id, tenant_id, flags1, flags2, version, created_at, updated_at`
	defaultColumns = `id, tenant_id, flags1, flags2, version, created_at, updated_at`
)

type tenantStore struct{ s *Store }

func scanTenant(row interface{ Scan(...any) error }) (access.TenantPermission, error) {
	var (
		rec    access.TenantPermission
		f1, f2 int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TenantID, &f1, &f2, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return access.TenantPermission{}, err
	}
	rec.Flags = decodeFlags(f1, f2)
	return rec, nil
}

func scanDefault(row interface{ Scan(...any) error }) (access.TenantDefault, error) {
	var (
		def    access.TenantDefault
		f1, f2 int64
	)
	if err := row.Scan(&def.ID, &def.TenantID, &f1, &f2, &def.Version, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return access.TenantDefault{}, err
	}
	def.Flags = decodeFlags(f1, f2)
	return def, nil
}

func (t tenantStore) Get(ctx context.Context, key access.TenantKey) (access.TenantPermission, bool, error) {
	if t.s.db == nil {
		return access.TenantPermission{}, false, errDBUnavailable
	}
	rec, err := scanTenant(t.s.db.QueryRowContext(ctx, `
		select `+tenantColumns+`
		from tenant_permissions
		where user_id = $1 and tenant_id = $2
	`, key.UserID, key.TenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return access.TenantPermission{}, false, nil
	}
	if err != nil {
		return access.TenantPermission{}, false, mapErr(err)
	}
	return rec, true, nil
}

func (t tenantStore) Grant(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	if t.s.db == nil {
		return access.TenantPermission{}, errDBUnavailable
	}
	f1, f2 := encodeFlags(flags)
	rec, err := scanTenant(t.s.db.QueryRowContext(ctx, `
		insert into tenant_permissions (id, user_id, tenant_id, flags1, flags2, version, created_at, updated_at)
		values ($1, $2, $3, $4, $5, 1, now(), now())
		on conflict (user_id, tenant_id) do update
		set flags1 = tenant_permissions.flags1 | excluded.flags1,
		    flags2 = tenant_permissions.flags2 | excluded.flags2,
		    version = tenant_permissions.version + 1,
		    updated_at = now()
		returning `+tenantColumns,
		ids.New(), key.UserID, key.TenantID, f1, f2))
	if err != nil {
		return access.TenantPermission{}, mapErr(err)
	}
	return rec, nil
}

func (t tenantStore) Revoke(ctx context.Context, key access.TenantKey, flags permission.FlagSet) (access.TenantPermission, error) {
	var rec access.TenantPermission
	_, err := t.s.revokeRow(ctx, "tenant_permissions", "user_id = $1 and tenant_id = $2",
		[]any{key.UserID, key.TenantID}, flags, tenantColumns,
		func(row *sql.Row) error {
			var err error
			rec, err = scanTenant(row)
			return err
		})
	if err != nil {
		return access.TenantPermission{}, err
	}
	return rec, nil
}

func (t tenantStore) GetDefault(ctx context.Context, tenantID string) (access.TenantDefault, bool, error) {
	if t.s.db == nil {
		return access.TenantDefault{}, false, errDBUnavailable
	}
	def, err := scanDefault(t.s.db.QueryRowContext(ctx, `
		select `+defaultColumns+`
		from tenant_default_permissions
		where tenant_id = $1
	`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return access.TenantDefault{}, false, nil
	}
	if err != nil {
		return access.TenantDefault{}, false, mapErr(err)
	}
	return def, true, nil
}

func (t tenantStore) SetDefault(ctx context.Context, tenantID string, flags permission.FlagSet) (access.TenantDefault, error) {
	if t.s.db == nil {
		return access.TenantDefault{}, errDBUnavailable
	}
	f1, f2 := encodeFlags(flags)
	def, err := scanDefault(t.s.db.QueryRowContext(ctx, `
		insert into tenant_default_permissions (id, tenant_id, flags1, flags2, version, created_at, updated_at)
		values ($1, $2, $3, $4, 1, now(), now())
		on conflict (tenant_id) do update
		set flags1 = excluded.flags1,
		    flags2 = excluded.flags2,
		    version = tenant_default_permissions.version + 1,
		    updated_at = now()
		returning `+defaultColumns,
		ids.New(), tenantID, f1, f2))
	if err != nil {
		return access.TenantDefault{}, mapErr(err)
	}
	return def, nil
}
