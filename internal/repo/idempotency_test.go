package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
)

func newIdemDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

const testScope = "global-announcements"

func TestGetIdempotency_BlankScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", testScope, "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:             "expired",
		UserID:         "u1",
		Scope:          testScope,
		Key:            "k1",
		AnnouncementID: "a1",
		Status:         200,
		Response:       "{}",
		CreatedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "u1", testScope, "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}

	rec2, err2 := GetIdempotency(context.Background(), db, "u1", testScope, "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}
}

func TestGetIdempotency_Success(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	ok := &domain.Idempotency{
		ID:             "ok",
		UserID:         "u1",
		Scope:          testScope,
		Key:            "k2",
		AnnouncementID: "a1",
		Status:         200,
		Response:       `{"success":true}`,
		CreatedAt:      now.Add(-time.Minute),
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := db.Create(ok).Error; err != nil {
		t.Fatalf("seed ok: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "u1", testScope, "k2", now)
	if err != nil {
		t.Fatalf("GetIdempotency success err: %v", err)
	}
	if rec == nil || rec.AnnouncementID != "a1" || rec.Status != 200 || rec.Response != `{"success":true}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})

	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(context.Background(), db, "u9", testScope, "k9", "a9", 200, `{"x":1}`, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.UserID != "u9" || rec.Scope != testScope || rec.Key != "k9" || rec.AnnouncementID != "a9" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// loose bound to avoid timing flakes
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	_, err2 := CreateIdempotency(context.Background(), db, "u9", testScope, "k9", "aX", 200, "{}", ttl)
	if err2 != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err2)
	}
}

// Generic DB error path: attempt insert without migrating the table.
func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newIdemDB(t)
	_, err := CreateIdempotency(context.Background(), db, "uX", testScope, "kX", "aX", 200, "{}", time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestReserveIdempotency_Lifecycle(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	ctx := context.Background()

	res, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !res.Pending() || res.Response != "" || res.AnnouncementID != "" {
		t.Fatalf("reservation not pending: %+v", res)
	}

	// a second caller of the same key loses while the first is running
	if _, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k1", time.Minute); err != ErrDuplicate {
		t.Fatalf("second reserve err=%v; want ErrDuplicate", err)
	}
	got, err := GetIdempotency(ctx, db, "admin-1", testScope, "k1", time.Now().UTC())
	if err != nil || !got.Pending() {
		t.Fatalf("pending record not visible: %v %+v", err, got)
	}

	if err := CompleteIdempotency(ctx, db, res.ID, "ann-1", 200, `{"success":true}`, time.Hour); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err = GetIdempotency(ctx, db, "admin-1", testScope, "k1", time.Now().UTC().Add(30*time.Minute))
	if err != nil || got.Pending() || got.AnnouncementID != "ann-1" || got.Response != `{"success":true}` {
		t.Fatalf("completed record: %v %+v", err, got)
	}

	if err := CompleteIdempotency(ctx, db, res.ID, "ann-2", 200, `{}`, time.Hour); err != ErrNotFound {
		t.Fatalf("second complete err=%v; want ErrNotFound", err)
	}
	// release never drops a stored response
	if err := ReleaseIdempotency(ctx, db, res.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "admin-1", testScope, "k1", time.Now().UTC()); err != nil {
		t.Fatalf("completed record released: %v", err)
	}
}

func TestReserveIdempotency_ReleaseFreesKey(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	ctx := context.Background()

	res, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k2", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ReleaseIdempotency(ctx, db, res.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "admin-1", testScope, "k2", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("released key still visible: %v", err)
	}
	if _, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k2", time.Minute); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReserveIdempotency_ExpiredLeaseIsReclaimed(t *testing.T) {
	db := newIdemDB(t, &domain.Idempotency{})
	ctx := context.Background()

	// a request that died without completing: its lease is already over
	stale, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k3", -time.Second)
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	fresh, err := ReserveIdempotency(ctx, db, "admin-1", testScope, "k3", time.Minute)
	if err != nil {
		t.Fatalf("expired lease must be reclaimable: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Fatalf("expected a new reservation")
	}
	if err := CompleteIdempotency(ctx, db, stale.ID, "ann-x", 200, "{}", time.Hour); err != ErrNotFound {
		t.Fatalf("stale reservation completed: %v", err)
	}
}
