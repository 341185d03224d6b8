package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/permission"
	"qazna.org/access/internal/store/memory"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T, opts ...access.Option) (*access.Service, *memory.Store, *clock) {
	t.Helper()
	c := &clock{now: t0}
	st := memory.New(memory.WithClock(c.Now))
	svc, err := access.NewService(st, append([]access.Option{access.WithClock(c.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st, c
}

var doc = access.Resource{Type: "Document", ID: "doc-1"}

func mustHaveResource(t *testing.T, svc *access.Service, user, tenant string, res access.Resource, p permission.Type, want bool) {
	t.Helper()
	got, err := svc.HasResourcePermission(context.Background(), user, tenant, res, p)
	if err != nil {
		t.Fatalf("HasResourcePermission(%s): %v", p, err)
	}
	if got != want {
		t.Fatalf("HasResourcePermission(%s, %s/%s, %s)=%v, want %v", user, res.Type, res.ID, p, got, want)
	}
}

func TestDefaultDeny(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	for _, p := range permission.All() {
		ok, err := svc.HasTenantPermission(ctx, "u1", "t1", p)
		if err != nil || ok {
			t.Fatalf("tenant %s: ok=%v err=%v", p, ok, err)
		}
		mustHaveResource(t, svc, "u1", "t1", doc, p, false)
	}
	perms, err := svc.GetEffectiveResourcePermissions(ctx, "u1", "t1", doc)
	if err != nil || len(perms) != 0 {
		t.Fatalf("expected no permissions, got %v err=%v", perms, err)
	}
}

func TestGrantIdempotent(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	perms := []permission.Type{permission.Read, permission.Edit}
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", perms); err != nil {
		t.Fatalf("grant: %v", err)
	}
	first, _ := svc.GetUserTenantPermissions(ctx, "u1", "t1")
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", perms); err != nil {
		t.Fatalf("grant again: %v", err)
	}
	second, _ := svc.GetUserTenantPermissions(ctx, "u1", "t1")
	if len(first) != 2 || len(second) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("grant not idempotent: %v vs %v", first, second)
	}
}

func TestPartialRevoke(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Read, permission.Edit, permission.Delete}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rec, err := svc.RevokeTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Edit})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.Flags != permission.Of(permission.Read, permission.Delete) {
		t.Fatalf("unexpected flags after revoke: %s", rec.Flags)
	}
	// Revoking bits never granted leaves the row alone.
	rec, err = svc.RevokeTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Vote})
	if err != nil || rec.Flags != permission.Of(permission.Read, permission.Delete) {
		t.Fatalf("no-op revoke changed row: %s err=%v", rec.Flags, err)
	}
}

func TestRevokeToEmptyDeletesRow(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "u1", "t1", doc, []permission.Type{permission.Read}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.RevokeResourcePermission(ctx, "u1", "t1", doc, []permission.Type{permission.Read}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok, _ := st.Resources().Get(ctx, doc.Key("u1", "t1")); ok {
		t.Fatalf("empty row should be deleted")
	}
}

func TestAdditiveUnion(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.SetTenantDefaultPermissions(ctx, "t1", []permission.Type{permission.Read}); err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Comment}); err != nil {
		t.Fatalf("tenant grant: %v", err)
	}
	if _, err := svc.GrantContentTypePermission(ctx, "u1", "t1", doc.Type, []permission.Type{permission.Edit}); err != nil {
		t.Fatalf("content type grant: %v", err)
	}
	if _, err := svc.GrantResourcePermission(ctx, "u1", "t1", doc, []permission.Type{permission.Delete}); err != nil {
		t.Fatalf("resource grant: %v", err)
	}

	perms, err := svc.GetEffectiveResourcePermissions(ctx, "u1", "t1", doc)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	want := []permission.Type{permission.Read, permission.Edit, permission.Delete, permission.Comment}
	if len(perms) != len(want) {
		t.Fatalf("effective=%v, want %v", perms, want)
	}
	for i := range want {
		if perms[i] != want[i] {
			t.Fatalf("effective=%v, want %v", perms, want)
		}
	}

	// Other documents only see the tenant and content-type layers.
	other := access.Resource{Type: doc.Type, ID: "doc-2"}
	mustHaveResource(t, svc, "u1", "t1", other, permission.Edit, true)
	mustHaveResource(t, svc, "u1", "t1", other, permission.Delete, false)

	tenantPerms, err := svc.GetEffectiveTenantPermissions(ctx, "u1", "t1")
	if err != nil || len(tenantPerms) != 2 {
		t.Fatalf("tenant effective=%v err=%v", tenantPerms, err)
	}
	ok, err := svc.HasTenantPermission(ctx, "u2", "t1", permission.Read)
	if err != nil || !ok {
		t.Fatalf("tenant default should apply to every user: ok=%v err=%v", ok, err)
	}
}

func TestResourceGrantWithoutContentType(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "u1", "t1", doc, []permission.Type{permission.Vote}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	mustHaveResource(t, svc, "u1", "t1", doc, permission.Vote, true)
}

func TestExpirationExclusion(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "owner", "t1", doc, []permission.Type{permission.Read, permission.Share}); err != nil {
		t.Fatalf("grant owner: %v", err)
	}
	exp := t0.Add(time.Hour)
	if _, err := svc.ShareResource(ctx, access.ShareRequest{
		OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc,
		Permissions: []permission.Type{permission.Read}, ExpiresAt: &exp,
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Read, true)

	c.now = exp
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Read, false)
	grants, err := svc.ListResourceGrants(ctx, "u2", "t1")
	if err != nil || len(grants) != 0 {
		t.Fatalf("expired grant listed: %v err=%v", grants, err)
	}

	n, err := svc.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep removed %d err=%v", n, err)
	}
	if grants, _ := svc.ListResourceGrants(ctx, "owner", "t1"); len(grants) != 1 {
		t.Fatalf("sweep removed a permanent grant: %v", grants)
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantTenantPermission(ctx, "u1", "tenant-a", permission.All()); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.GrantResourcePermission(ctx, "u1", "tenant-a", doc, permission.All()); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.SetTenantDefaultPermissions(ctx, "tenant-a", permission.All()); err != nil {
		t.Fatalf("default: %v", err)
	}
	for _, p := range permission.All() {
		ok, err := svc.HasTenantPermission(ctx, "u1", "tenant-b", p)
		if err != nil || ok {
			t.Fatalf("tenant-b %s leaked: ok=%v err=%v", p, ok, err)
		}
		mustHaveResource(t, svc, "u1", "tenant-b", doc, p, false)
	}
	res, err := svc.BulkCheckResourcePermissions(ctx, "u1", "tenant-b", doc.Type, []string{doc.ID})
	if err != nil || len(res[doc.ID]) != 0 {
		t.Fatalf("bulk leaked across tenants: %v err=%v", res, err)
	}
}

func TestBulkCheck(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "u1", "t1", access.Resource{Type: "Document", ID: "a"}, []permission.Type{permission.Read}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.GrantResourcePermission(ctx, "u1", "t1", access.Resource{Type: "Document", ID: "b"}, []permission.Type{permission.Edit, permission.Share}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	exp := t0.Add(time.Minute)
	if _, err := svc.ShareResource(ctx, access.ShareRequest{
		OwnerID: "u1", TargetUserID: "u2", TenantID: "t1", Resource: access.Resource{Type: "Document", ID: "b"},
		Permissions: []permission.Type{permission.Edit}, ExpiresAt: &exp,
	}); err != nil {
		t.Fatalf("share: %v", err)
	}

	res, err := svc.BulkCheckResourcePermissions(ctx, "u1", "t1", "Document", []string{"a", "b", "c", "a"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 entries, got %v", res)
	}
	if len(res["a"]) != 1 || res["a"][0] != permission.Read {
		t.Fatalf("a=%v", res["a"])
	}
	if len(res["b"]) != 2 {
		t.Fatalf("b=%v", res["b"])
	}
	if got, ok := res["c"]; !ok || len(got) != 0 {
		t.Fatalf("c should be present and empty: %v ok=%v", got, ok)
	}

	c.now = exp.Add(time.Second)
	res, err = svc.BulkCheckResourcePermissions(ctx, "u2", "t1", "Document", []string{"b"})
	if err != nil || len(res["b"]) != 0 {
		t.Fatalf("expired share counted in bulk: %v err=%v", res, err)
	}
}

func TestBulkCheckMetricResult(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ok := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "ok"))
	allow := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "allow"))
	failed := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "error"))

	if _, err := svc.BulkCheckResourcePermissions(ctx, "u1", "t1", "Document", []string{"a"}); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if _, err := svc.BulkCheckResourcePermissions(ctx, "u1", "t1", "Document", []string{""}); err == nil {
		t.Fatalf("expected error for an empty resource id")
	}

	if got := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "ok")); got != ok+1 {
		t.Fatalf("bulk ok=%v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "error")); got != failed+1 {
		t.Fatalf("bulk error=%v, want %v", got, failed+1)
	}
	if got := testutil.ToFloat64(obs.ChecksTotal.WithLabelValues("bulk", "allow")); got != allow {
		t.Fatalf("bulk calls counted as allow: %v", got)
	}
}

func TestBulkCheckMatchesSingleChecks(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, _ = svc.SetTenantDefaultPermissions(ctx, "t1", []permission.Type{permission.Read})
	_, _ = svc.GrantContentTypePermission(ctx, "u1", "t1", "Document", []permission.Type{permission.Comment})
	_, _ = svc.GrantResourcePermission(ctx, "u1", "t1", access.Resource{Type: "Document", ID: "x"}, []permission.Type{permission.Publish})

	ids := []string{"x", "y"}
	res, err := svc.BulkCheckResourcePermissions(ctx, "u1", "t1", "Document", ids)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	for _, id := range ids {
		single, err := svc.GetEffectiveResourcePermissions(ctx, "u1", "t1", access.Resource{Type: "Document", ID: id})
		if err != nil {
			t.Fatalf("single: %v", err)
		}
		if permission.Of(single...) != permission.Of(res[id]...) {
			t.Fatalf("%s: bulk=%v single=%v", id, res[id], single)
		}
	}
}

func TestBulkLimit(t *testing.T) {
	svc, _, _ := newService(t, access.WithBulkLimit(2))
	_, err := svc.BulkCheckResourcePermissions(context.Background(), "u1", "t1", "Document", []string{"a", "b", "c"})
	if !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.BulkCheckResourcePermissions(context.Background(), "u1", "t1", "Document", []string{"a", "b", "a"}); err != nil {
		t.Fatalf("duplicates should collapse before the limit: %v", err)
	}
	if _, err := access.NewService(memory.New(), access.WithBulkLimit(0)); err == nil {
		t.Fatalf("expected error for zero bulk limit")
	}
}

func TestShareRequiresShare(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "owner", "t1", doc, []permission.Type{permission.Read, permission.Edit}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	_, err := svc.ShareResource(ctx, access.ShareRequest{
		OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc,
		Permissions: []permission.Type{permission.Read},
	})
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, ok, _ := st.Resources().Get(ctx, doc.Key("u2", "t1")); ok {
		t.Fatalf("denied share created a row")
	}
}

func TestShareSubsetRule(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantContentTypePermission(ctx, "owner", "t1", doc.Type, []permission.Type{permission.Share}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.GrantResourcePermission(ctx, "owner", "t1", doc, []permission.Type{permission.Read}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	req := access.ShareRequest{OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc}

	req.Permissions = []permission.Type{permission.Read, permission.Delete}
	if _, err := svc.ShareResource(ctx, req); !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("sharing bits the owner lacks: %v", err)
	}

	req.Permissions = []permission.Type{permission.Read, permission.Share}
	rec, err := svc.ShareResource(ctx, req)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if rec.ExpiresAt != nil || rec.Flags != permission.Of(permission.Read, permission.Share) {
		t.Fatalf("unexpected shared row: %+v", rec)
	}
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Share, true)
}

func TestPermanentGrantKeepsShareBound(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "owner", "t1", doc, []permission.Type{permission.Edit, permission.Share}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	exp := t0.Add(time.Hour)
	if _, err := svc.ShareResource(ctx, access.ShareRequest{
		OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc,
		Permissions: []permission.Type{permission.Edit}, ExpiresAt: &exp,
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	rec, err := svc.GrantResourcePermission(ctx, "u2", "t1", doc, []permission.Type{permission.Comment})
	if err != nil {
		t.Fatalf("grant comment: %v", err)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(exp) {
		t.Fatalf("permanent grant lifted the share bound: %+v", rec)
	}
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Edit, true)

	c.now = t0.Add(48 * time.Hour)
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Edit, false)
	mustHaveResource(t, svc, "u2", "t1", doc, permission.Comment, false)
}

func TestShareValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantResourcePermission(ctx, "owner", "t1", doc, []permission.Type{permission.Read, permission.Share}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	past := t0.Add(-time.Second)
	cases := map[string]access.ShareRequest{
		"past expiry": {OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc, Permissions: []permission.Type{permission.Read}, ExpiresAt: &past},
		"now expiry":  {OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc, Permissions: []permission.Type{permission.Read}, ExpiresAt: &t0},
		"self":        {OwnerID: "owner", TargetUserID: "owner", TenantID: "t1", Resource: doc, Permissions: []permission.Type{permission.Read}},
		"no perms":    {OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: doc},
		"no target":   {OwnerID: "owner", TenantID: "t1", Resource: doc, Permissions: []permission.Type{permission.Read}},
		"bad type":    {OwnerID: "owner", TargetUserID: "u2", TenantID: "t1", Resource: access.Resource{Type: "9doc", ID: "1"}, Permissions: []permission.Type{permission.Read}},
	}
	for name, req := range cases {
		if _, err := svc.ShareResource(ctx, req); !errors.Is(err, access.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestUnknownPermissionRejected(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := access.ParsePermissions([]string{"Read", "Delete-All"}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Type(99)}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for undefined type, got %v", err)
	}
	if _, ok, _ := st.Tenants().Get(ctx, access.TenantKey{UserID: "u1", TenantID: "t1"}); ok {
		t.Fatalf("rejected grant created a row")
	}
	if _, err := svc.HasTenantPermission(ctx, "u1", "t1", permission.Type(99)); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for check, got %v", err)
	}
}

func TestInputValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.GrantTenantPermission(ctx, "", "t1", []permission.Type{permission.Read}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("empty user: %v", err)
	}
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t 1", []permission.Type{permission.Read}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("whitespace tenant: %v", err)
	}
	if _, err := svc.GrantTenantPermission(ctx, "u1", "t1", nil); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("empty permission list: %v", err)
	}
	if _, err := svc.SetTenantDefaultPermissions(ctx, "t1", nil); err != nil {
		t.Fatalf("clearing defaults should be allowed: %v", err)
	}
	if _, err := svc.GrantContentTypePermission(ctx, "u1", "t1", "", []permission.Type{permission.Read}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("empty content type: %v", err)
	}

	strict, _, _ := newService(t, access.WithIDValidator(access.UUIDValidator))
	if _, err := strict.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Read}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("strict validator accepted non-UUID: %v", err)
	}
	if _, err := strict.GrantTenantPermission(ctx, "7f0c8b1e-3c4d-4e8a-9b21-2a5f3c9d1e01", "0b8e7d3a-1f2c-4a5b-8c9d-0e1f2a3b4c5d", []permission.Type{permission.Read}); err != nil {
		t.Fatalf("strict validator rejected UUIDs: %v", err)
	}
}

type brokenStore struct {
	*memory.Store
	err error
}

func (b brokenStore) Tenants() access.TenantStore { return brokenTenants{b.Store.Tenants(), b.err} }

type brokenTenants struct {
	access.TenantStore
	err error
}

func (b brokenTenants) Get(context.Context, access.TenantKey) (access.TenantPermission, bool, error) {
	return access.TenantPermission{}, false, b.err
}

func (b brokenTenants) Grant(context.Context, access.TenantKey, permission.FlagSet) (access.TenantPermission, error) {
	return access.TenantPermission{}, b.err
}

func TestStorageErrorsWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	svc, err := access.NewService(brokenStore{memory.New(), cause})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	_, err = svc.HasTenantPermission(ctx, "u1", "t1", permission.Read)
	if !errors.Is(err, access.ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrStorage wrapping cause, got %v", err)
	}
	_, err = svc.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Read})
	if !errors.Is(err, access.ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrStorage wrapping cause, got %v", err)
	}

	conflict, _ := access.NewService(brokenStore{memory.New(), access.ErrConflict})
	_, err = conflict.GrantTenantPermission(ctx, "u1", "t1", []permission.Type{permission.Read})
	if !errors.Is(err, access.ErrConflict) || errors.Is(err, access.ErrStorage) {
		t.Fatalf("conflict should pass through unwrapped: %v", err)
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := access.NewService(nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestListContentTypeGrants(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, _ = svc.GrantContentTypePermission(ctx, "u1", "t1", "Comment", []permission.Type{permission.Edit})
	_, _ = svc.GrantContentTypePermission(ctx, "u1", "t1", "Article", []permission.Type{permission.Read})
	_, _ = svc.GrantContentTypePermission(ctx, "u1", "t2", "Poll", []permission.Type{permission.Vote})

	rows, err := svc.ListContentTypeGrants(ctx, "u1", "t1")
	if err != nil || len(rows) != 2 || rows[0].ContentType != "Article" {
		t.Fatalf("unexpected rows: %+v err=%v", rows, err)
	}
	if _, err := svc.RevokeContentTypePermission(ctx, "u1", "t1", "Comment", []permission.Type{permission.Edit}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	rows, _ = svc.ListContentTypeGrants(ctx, "u1", "t1")
	if len(rows) != 1 {
		t.Fatalf("revoked content type still listed: %+v", rows)
	}
}
