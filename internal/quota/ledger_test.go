package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.File{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func seedLedgerUser(t *testing.T, conn *gorm.DB, used, limit int64) uint64 {
	t.Helper()
	user := models.User{
		Username:          fmt.Sprintf("user_%d", time.Now().UnixNano()),
		Password:          "x",
		Role:              models.RoleUser,
		StorageUsedBytes:  used,
		StorageLimitBytes: limit,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
	return user.ID
}

func loadUsedBytes(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var user models.User
	if errFind := conn.First(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	return user.StorageUsedBytes
}

func TestReserveDeniesOverLimit(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 900, 1000)

	if errReserve := ledger.Reserve(context.Background(), userID, 150); errReserve != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", errReserve)
	}
}

func TestReserveAllowsAtBoundary(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 900, 1000)

	if errReserve := ledger.Reserve(context.Background(), userID, 100); errReserve != nil {
		t.Fatalf("expected allow at boundary, got %v", errReserve)
	}
	if errReserve := ledger.Reserve(context.Background(), userID, 101); errReserve != ErrQuotaExceeded {
		t.Fatalf("expected deny above boundary, got %v", errReserve)
	}
}

func TestReserveDeniesZeroSizeAtLimit(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 1000, 1000)

	if errReserve := ledger.Reserve(context.Background(), userID, 0); errReserve != ErrQuotaExceeded {
		t.Fatalf("expected deny at limit with zero size, got %v", errReserve)
	}
}

func TestReserveUnknownUser(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)

	if errReserve := ledger.Reserve(context.Background(), 424242, 1); errReserve != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", errReserve)
	}
}

func TestCommitChargesOnce(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 900, 1000)

	file := models.File{
		ObjectKey: "users/1/obj-a",
		URL:       "https://store.example/users/1/obj-a",
		Filename:  "a.png",
		MediaType: "image/png",
		SizeBytes: 80,
	}

	first, applied, errCommit := ledger.Commit(context.Background(), userID, file)
	if errCommit != nil {
		t.Fatalf("commit: %v", errCommit)
	}
	if !applied {
		t.Fatalf("expected first commit to apply")
	}
	if got := loadUsedBytes(t, conn, userID); got != 980 {
		t.Fatalf("used bytes after commit = %d, want 980", got)
	}

	second, applied, errCommit := ledger.Commit(context.Background(), userID, file)
	if errCommit != nil {
		t.Fatalf("repeat commit: %v", errCommit)
	}
	if applied {
		t.Fatalf("expected repeat commit to be a no-op")
	}
	if second.ID != first.ID {
		t.Fatalf("repeat commit returned a different record: %d vs %d", second.ID, first.ID)
	}
	if got := loadUsedBytes(t, conn, userID); got != 980 {
		t.Fatalf("used bytes after repeat commit = %d, want 980", got)
	}
}

func TestCommitRejectsOverage(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 900, 1000)

	file := models.File{
		ObjectKey: "users/1/too-big",
		Filename:  "big.bin",
		MediaType: "application/octet-stream",
		SizeBytes: 150,
	}
	if _, _, errCommit := ledger.Commit(context.Background(), userID, file); errCommit != ErrQuotaExceeded {
		t.Fatalf("expected commit-time ErrQuotaExceeded, got %v", errCommit)
	}
	if got := loadUsedBytes(t, conn, userID); got != 900 {
		t.Fatalf("used bytes after rejected commit = %d, want 900", got)
	}
	var count int64
	conn.Model(&models.File{}).Where("owner_id = ?", userID).Count(&count)
	if count != 0 {
		t.Fatalf("rejected commit left %d file rows", count)
	}
}

func TestReleaseIsIdempotentAndClamped(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 900, 1000)

	file := models.File{
		ObjectKey: "users/1/obj-b",
		Filename:  "b.png",
		MediaType: "image/png",
		SizeBytes: 80,
	}
	committed, _, errCommit := ledger.Commit(context.Background(), userID, file)
	if errCommit != nil {
		t.Fatalf("commit: %v", errCommit)
	}

	released, errRelease := ledger.Release(context.Background(), userID, committed.ID)
	if errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if !released {
		t.Fatalf("expected release to remove the record")
	}
	if got := loadUsedBytes(t, conn, userID); got != 900 {
		t.Fatalf("used bytes after release = %d, want 900", got)
	}

	released, errRelease = ledger.Release(context.Background(), userID, committed.ID)
	if errRelease != nil {
		t.Fatalf("repeat release: %v", errRelease)
	}
	if released {
		t.Fatalf("expected repeat release to be a no-op")
	}
	if got := loadUsedBytes(t, conn, userID); got != 900 {
		t.Fatalf("used bytes after repeat release = %d, want 900", got)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	// Counter drifted below the file's size before release.
	userID := seedLedgerUser(t, conn, 10, 1000)
	file := models.File{OwnerID: userID, ObjectKey: "users/1/drift", Filename: "d", MediaType: "application/octet-stream", SizeBytes: 50}
	if errCreate := conn.Create(&file).Error; errCreate != nil {
		t.Fatalf("seed file: %v", errCreate)
	}

	released, errRelease := ledger.Release(context.Background(), userID, file.ID)
	if errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if !released {
		t.Fatalf("expected release")
	}
	if got := loadUsedBytes(t, conn, userID); got != 0 {
		t.Fatalf("used bytes = %d, want clamp at 0", got)
	}
}

func TestReleaseIgnoresForeignFile(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	ownerID := seedLedgerUser(t, conn, 0, 1000)
	otherID := seedLedgerUser(t, conn, 0, 1000)

	committed, _, errCommit := ledger.Commit(context.Background(), ownerID, models.File{
		ObjectKey: "users/1/owned",
		Filename:  "o",
		MediaType: "image/png",
		SizeBytes: 40,
	})
	if errCommit != nil {
		t.Fatalf("commit: %v", errCommit)
	}

	released, errRelease := ledger.Release(context.Background(), otherID, committed.ID)
	if errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if released {
		t.Fatalf("release must not act across owners")
	}
	if got := loadUsedBytes(t, conn, ownerID); got != 40 {
		t.Fatalf("owner used bytes = %d, want 40", got)
	}
}

func TestConcurrentCommitsAndReleasesKeepCounterConsistent(t *testing.T) {
	conn := setupLedgerDB(t)
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	// Shared-cache SQLite rejects concurrent writers; a single
	// connection keeps the interleaving while avoiding busy errors.
	sqlDB.SetMaxOpenConns(1)

	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 0, 1<<40)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	ids := make([][]uint64, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				file := models.File{
					ObjectKey: fmt.Sprintf("users/%d/w%d-%d", userID, w, i),
					Filename:  "f",
					MediaType: "application/octet-stream",
					SizeBytes: 100,
				}
				committed, _, errCommit := ledger.Commit(context.Background(), userID, file)
				if errCommit != nil {
					t.Errorf("commit w%d-%d: %v", w, i, errCommit)
					return
				}
				ids[w] = append(ids[w], committed.ID)
			}
		}(w)
	}
	wg.Wait()

	// Release half of each worker's files concurrently, some twice.
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < len(ids[w])/2; i++ {
				if _, errRelease := ledger.Release(context.Background(), userID, ids[w][i]); errRelease != nil {
					t.Errorf("release w%d-%d: %v", w, i, errRelease)
					return
				}
				if _, errRelease := ledger.Release(context.Background(), userID, ids[w][i]); errRelease != nil {
					t.Errorf("repeat release w%d-%d: %v", w, i, errRelease)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	var actual int64
	conn.Model(&models.File{}).Where("owner_id = ?", userID).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&actual)
	if got := loadUsedBytes(t, conn, userID); got != actual {
		t.Fatalf("counter = %d, file sum = %d", got, actual)
	}
}

func TestReconcileCorrectsDrift(t *testing.T) {
	conn := setupLedgerDB(t)
	ledger := NewLedger(conn)
	userID := seedLedgerUser(t, conn, 0, 10000)

	if _, _, errCommit := ledger.Commit(context.Background(), userID, models.File{
		ObjectKey: "users/1/r1", Filename: "r1", MediaType: "image/png", SizeBytes: 300,
	}); errCommit != nil {
		t.Fatalf("commit: %v", errCommit)
	}

	// Inject drift directly, bypassing the ledger.
	if errDrift := conn.Model(&models.User{}).Where("id = ?", userID).
		Update("storage_used_bytes", 999).Error; errDrift != nil {
		t.Fatalf("inject drift: %v", errDrift)
	}

	report, errReconcile := ledger.Reconcile(context.Background(), userID)
	if errReconcile != nil {
		t.Fatalf("reconcile: %v", errReconcile)
	}
	if !report.Corrected || report.RecordedBytes != 999 || report.ActualBytes != 300 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := loadUsedBytes(t, conn, userID); got != 300 {
		t.Fatalf("used bytes after reconcile = %d, want 300", got)
	}

	report, errReconcile = ledger.Reconcile(context.Background(), userID)
	if errReconcile != nil {
		t.Fatalf("second reconcile: %v", errReconcile)
	}
	if report.Corrected {
		t.Fatalf("clean reconcile must not correct: %+v", report)
	}
}
