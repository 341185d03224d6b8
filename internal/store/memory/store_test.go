package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/permission"
)

func TestTenantGrantRevokeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(WithShards(4))
	key := access.TenantKey{UserID: "u1", TenantID: "t1"}

	if _, ok, err := s.Tenants().Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	rec, err := s.Tenants().Grant(ctx, key, permission.Of(permission.Read, permission.Edit))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if rec.ID == "" || rec.Version != 1 || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	rec, err = s.Tenants().Grant(ctx, key, permission.Of(permission.Read))
	if err != nil {
		t.Fatalf("grant again: %v", err)
	}
	if rec.Flags != permission.Of(permission.Read, permission.Edit) || rec.Version != 2 {
		t.Fatalf("unexpected record after regrant: %+v", rec)
	}

	rec, err = s.Tenants().Revoke(ctx, key, permission.Of(permission.Edit))
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.Flags != permission.Of(permission.Read) {
		t.Fatalf("unexpected flags after revoke: %s", rec.Flags)
	}
	if _, err := s.Tenants().Revoke(ctx, key, permission.Of(permission.Read)); err != nil {
		t.Fatalf("revoke last: %v", err)
	}
	if _, ok, _ := s.Tenants().Get(ctx, key); ok {
		t.Fatalf("row should be deleted once empty")
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Tenants().SetDefault(ctx, "t1", permission.Of(permission.Read, permission.Comment)); err != nil {
		t.Fatalf("set default: %v", err)
	}
	def, err := s.Tenants().SetDefault(ctx, "t1", permission.Of(permission.Read))
	if err != nil {
		t.Fatalf("replace default: %v", err)
	}
	if def.Flags != permission.Of(permission.Read) || def.Version != 2 {
		t.Fatalf("default should be replaced: %+v", def)
	}
	if _, ok, _ := s.Tenants().GetDefault(ctx, "t2"); ok {
		t.Fatalf("default leaked across tenants")
	}
}

func TestResourceExpiryMerge(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	key := access.ResourceKey{UserID: "u1", TenantID: "t1", ResourceType: "Doc", ResourceID: "42"}
	soon := now.Add(time.Hour)
	later := now.Add(2 * time.Hour)

	if _, err := s.Resources().Grant(ctx, key, permission.Of(permission.Read), &soon, now); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rec, err := s.Resources().Grant(ctx, key, permission.Of(permission.Comment), &later, now)
	if err != nil {
		t.Fatalf("grant later: %v", err)
	}
	if !rec.ExpiresAt.Equal(later) || rec.Flags != permission.Of(permission.Read, permission.Comment) {
		t.Fatalf("later expiry should win and flags union: %+v", rec)
	}
	rec, err = s.Resources().Grant(ctx, key, permission.Of(permission.Edit), nil, now)
	if err != nil {
		t.Fatalf("grant permanent: %v", err)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(later) || !rec.Flags.Has(permission.Edit) {
		t.Fatalf("permanent grant must keep the row's bound: %+v", rec)
	}

	// A bounded grant on a permanent row bounds it.
	perm := access.ResourceKey{UserID: "u1", TenantID: "t1", ResourceType: "Doc", ResourceID: "44"}
	if _, err := s.Resources().Grant(ctx, perm, permission.Of(permission.Read), nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rec, err = s.Resources().Grant(ctx, perm, permission.Of(permission.Edit), &soon, now)
	if err != nil || rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(soon) {
		t.Fatalf("bounded grant on permanent row: %+v err=%v", rec, err)
	}

	// An expired row is replaced, not merged.
	after := later.Add(time.Hour)
	other := access.ResourceKey{UserID: "u1", TenantID: "t1", ResourceType: "Doc", ResourceID: "43"}
	if _, err := s.Resources().Grant(ctx, other, permission.Of(permission.Manage), &soon, now); err != nil {
		t.Fatalf("grant: %v", err)
	}
	next := after.Add(time.Hour)
	rec, err = s.Resources().Grant(ctx, other, permission.Of(permission.Read), &next, after)
	if err != nil {
		t.Fatalf("regrant expired: %v", err)
	}
	if rec.Flags != permission.Of(permission.Read) || !rec.ExpiresAt.Equal(next) {
		t.Fatalf("expired row should be replaced: %+v", rec)
	}
}

func TestResourceGetManyAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	for _, id := range []string{"1", "2"} {
		key := access.ResourceKey{UserID: "u1", TenantID: "t1", ResourceType: "Doc", ResourceID: id}
		if _, err := s.Resources().Grant(ctx, key, permission.Of(permission.Read), nil, now); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	foreign := access.ResourceKey{UserID: "u1", TenantID: "t2", ResourceType: "Doc", ResourceID: "3"}
	if _, err := s.Resources().Grant(ctx, foreign, permission.Of(permission.Read), nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	got, err := s.Resources().GetMany(ctx, "u1", "t1", "Doc", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if _, ok := got["3"]; ok {
		t.Fatalf("row from another tenant leaked")
	}
	list, err := s.Resources().ListByUser(ctx, "u1", "t1")
	if err != nil || len(list) != 2 || list[0].ResourceID != "1" {
		t.Fatalf("unexpected list: %+v err=%v", list, err)
	}
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	grant := func(id string, exp *time.Time) {
		key := access.ResourceKey{UserID: "u1", TenantID: "t1", ResourceType: "Doc", ResourceID: id}
		if _, err := s.Resources().Grant(ctx, key, permission.Of(permission.Read), exp, now.Add(-time.Hour)); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	grant("old", &past)
	grant("new", &future)
	grant("forever", nil)

	n, err := s.Resources().DeleteExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d err=%v", n, err)
	}
	list, _ := s.Resources().ListByUser(ctx, "u1", "t1")
	if len(list) != 2 {
		t.Fatalf("expected 2 rows left, got %d", len(list))
	}
}

func TestConcurrentGrantsAreAtomic(t *testing.T) {
	ctx := context.Background()
	s := New(WithShards(2))
	key := access.ContentTypeKey{UserID: "u1", TenantID: "t1", ContentType: "Comment"}
	types := permission.All()

	var wg sync.WaitGroup
	for _, p := range types {
		wg.Add(1)
		go func(p permission.Type) {
			defer wg.Done()
			if _, err := s.ContentTypes().Grant(ctx, key, permission.Of(p)); err != nil {
				t.Errorf("grant %s: %v", p, err)
			}
		}(p)
	}
	wg.Wait()

	rec, ok, err := s.ContentTypes().Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Flags.Len() != len(types) || rec.Version != int64(len(types)) {
		t.Fatalf("lost update: flags=%s version=%d", rec.Flags, rec.Version)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	if _, err := s.Tenants().Grant(ctx, access.TenantKey{UserID: "u", TenantID: "t"}, permission.Of(permission.Read)); err == nil {
		t.Fatalf("expected context error")
	}
}
