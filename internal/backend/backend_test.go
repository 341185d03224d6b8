package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/config"
	"qazna.org/access/internal/permission"
	"qazna.org/access/internal/store/instrumented"
	"qazna.org/access/internal/store/redisstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestOpenMemory(t *testing.T) {
	cfg := config.Defaults()
	st, closeFn, err := Open(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*instrumented.Store); !ok {
		t.Fatalf("expected instrumented store, got %T", st)
	}
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Prefix = "test"

	st, closeFn, err := Open(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*instrumented.Store).Unwrap().(*redisstore.Store); !ok {
		t.Fatalf("expected redis store underneath")
	}

	svc, err := access.NewService(st, ServiceOptions(cfg, quietLogger())...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.GrantTenantPermission(context.Background(), "u1", "t1", []permission.Type{permission.Read}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !mr.Exists("test:{t1}:t:u1") {
		t.Fatalf("expected key under configured prefix, keys=%v", mr.Keys())
	}
}

func TestOpenRedisUnreachable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	if _, _, err := Open(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend = "etcd"
	if _, _, err := Open(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestServiceOptionsStrictIDs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Access.StrictUUIDIDs = true
	st, closeFn, err := Open(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	svc, err := access.NewService(st, ServiceOptions(cfg, quietLogger())...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.HasTenantPermission(context.Background(), "not-a-uuid", "also-not", permission.Read); err == nil {
		t.Fatalf("expected strict id validation to reject non-UUID ids")
	}
}
