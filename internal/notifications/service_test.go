package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Notification{}, &models.NotificationRead{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	svc, err := NewService(NewRepository(conn))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, conn
}

func seedNotification(t *testing.T, conn *gorm.DB, recipientID *uuid.UUID, role *enums.Role, createdAt time.Time) models.Notification {
	t.Helper()
	row := models.Notification{
		ID:            uuid.New(),
		RecipientID:   recipientID,
		RecipientRole: role,
		Type:          enums.NotificationTypeNewRequest,
		Title:         "New Component Request",
		Message:       "A new request is waiting for review.",
		CreatedAt:     createdAt,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return row
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	pkgErr := pkgerrors.As(err)
	if pkgErr == nil {
		t.Fatalf("expected coded error %s, got %v", code, err)
	}
	if pkgErr.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, pkgErr.Code(), err)
	}
}

func TestList_MergesTargetedAndRoleFeed(t *testing.T) {
	service, db := newTestService(t)

	staffUser := uuid.New()
	otherUser := uuid.New()
	staffRole := enums.RoleStaff

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	targeted := seedNotification(t, db, &staffUser, nil, base.Add(2*time.Minute))
	broadcast := seedNotification(t, db, nil, &staffRole, base.Add(1*time.Minute))
	seedNotification(t, db, &otherUser, nil, base.Add(3*time.Minute))

	result, err := service.List(context.Background(), ListParams{
		RecipientID: staffUser,
		Role:        enums.RoleStaff,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(result.Items))
	}
	if result.Items[0].ID != targeted.ID || result.Items[1].ID != broadcast.ID {
		t.Fatalf("unexpected order: %v then %v", result.Items[0].ID, result.Items[1].ID)
	}
	if result.Cursor != "" {
		t.Fatalf("expected no cursor, got %q", result.Cursor)
	}
}

func TestList_StudentDoesNotSeeStaffFeed(t *testing.T) {
	service, db := newTestService(t)

	student := uuid.New()
	staffRole := enums.RoleStaff
	seedNotification(t, db, nil, &staffRole, time.Now().UTC())
	mine := seedNotification(t, db, &student, nil, time.Now().UTC())

	result, err := service.List(context.Background(), ListParams{
		RecipientID: student,
		Role:        enums.RoleStudent,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != mine.ID {
		t.Fatalf("expected only the targeted notification, got %d items", len(result.Items))
	}
}

func TestList_PaginatesWithCursor(t *testing.T) {
	service, db := newTestService(t)

	user := uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	oldest := seedNotification(t, db, &user, nil, base)
	middle := seedNotification(t, db, &user, nil, base.Add(time.Minute))
	newest := seedNotification(t, db, &user, nil, base.Add(2*time.Minute))

	first, err := service.List(context.Background(), ListParams{
		RecipientID: user,
		Role:        enums.RoleStudent,
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(first.Items))
	}
	if first.Items[0].ID != newest.ID || first.Items[1].ID != middle.ID {
		t.Fatal("expected newest-first ordering")
	}
	if first.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}

	second, err := service.List(context.Background(), ListParams{
		RecipientID: user,
		Role:        enums.RoleStudent,
		Limit:       2,
		Cursor:      first.Cursor,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != oldest.ID {
		t.Fatalf("expected the oldest notification, got %d items", len(second.Items))
	}
	if second.Cursor != "" {
		t.Fatalf("expected no further pages, got cursor %q", second.Cursor)
	}
}

func TestList_UnreadOnly(t *testing.T) {
	service, db := newTestService(t)

	user := uuid.New()
	read := seedNotification(t, db, &user, nil, time.Now().UTC().Add(-time.Minute))
	now := time.Now().UTC()
	if err := db.Model(&models.Notification{}).Where("id = ?", read.ID).UpdateColumn("read_at", now).Error; err != nil {
		t.Fatalf("mark seed read: %v", err)
	}
	unread := seedNotification(t, db, &user, nil, time.Now().UTC())

	result, err := service.List(context.Background(), ListParams{
		RecipientID: user,
		Role:        enums.RoleStudent,
		Limit:       10,
		UnreadOnly:  true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != unread.ID {
		t.Fatalf("expected only the unread notification, got %d items", len(result.Items))
	}
}

func TestList_Validation(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.List(context.Background(), ListParams{Role: enums.RoleStudent})
	expectCode(t, err, pkgerrors.CodeValidation)

	_, err = service.List(context.Background(), ListParams{
		RecipientID: uuid.New(),
		Role:        enums.RoleStudent,
		Cursor:      "not-a-cursor",
	})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestMarkRead(t *testing.T) {
	service, db := newTestService(t)

	user := uuid.New()
	row := seedNotification(t, db, &user, nil, time.Now().UTC())

	if err := service.MarkRead(context.Background(), user, enums.RoleStudent, row.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	var reloaded models.Notification
	if err := db.First(&reloaded, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ReadAt == nil {
		t.Fatal("expected read_at to be set")
	}

	// Idempotent on an already-read notification.
	if err := service.MarkRead(context.Background(), user, enums.RoleStudent, row.ID); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
}

func TestMarkRead_ScopedToRecipient(t *testing.T) {
	service, db := newTestService(t)

	owner := uuid.New()
	intruder := uuid.New()
	row := seedNotification(t, db, &owner, nil, time.Now().UTC())

	err := service.MarkRead(context.Background(), intruder, enums.RoleStudent, row.ID)
	expectCode(t, err, pkgerrors.CodeNotFound)

	err = service.MarkRead(context.Background(), owner, enums.RoleStudent, uuid.New())
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestMarkRead_BroadcastIsPerUser(t *testing.T) {
	service, db := newTestService(t)

	reader := uuid.New()
	colleague := uuid.New()
	staffRole := enums.RoleStaff
	broadcast := seedNotification(t, db, nil, &staffRole, time.Now().UTC())

	if err := service.MarkRead(context.Background(), reader, enums.RoleStaff, broadcast.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	// The shared row stays untouched; only the reader's marker is written.
	var reloaded models.Notification
	if err := db.First(&reloaded, "id = ?", broadcast.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ReadAt != nil {
		t.Fatal("broadcast row must not carry a shared read timestamp")
	}

	readerFeed, err := service.List(context.Background(), ListParams{
		RecipientID: reader,
		Role:        enums.RoleStaff,
		Limit:       10,
		UnreadOnly:  true,
	})
	if err != nil {
		t.Fatalf("reader feed: %v", err)
	}
	if len(readerFeed.Items) != 0 {
		t.Fatalf("reader should have no unread items, got %d", len(readerFeed.Items))
	}

	colleagueFeed, err := service.List(context.Background(), ListParams{
		RecipientID: colleague,
		Role:        enums.RoleStaff,
		Limit:       10,
		UnreadOnly:  true,
	})
	if err != nil {
		t.Fatalf("colleague feed: %v", err)
	}
	if len(colleagueFeed.Items) != 1 || colleagueFeed.Items[0].ID != broadcast.ID {
		t.Fatalf("colleague must still see the broadcast unread, got %d items", len(colleagueFeed.Items))
	}

	full, err := service.List(context.Background(), ListParams{
		RecipientID: reader,
		Role:        enums.RoleStaff,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("reader full feed: %v", err)
	}
	if len(full.Items) != 1 || full.Items[0].ReadAt == nil {
		t.Fatalf("reader's full feed must report the broadcast as read, got %+v", full.Items)
	}

	// Idempotent for the same reader.
	if err := service.MarkRead(context.Background(), reader, enums.RoleStaff, broadcast.ID); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
}

func TestMarkAllRead(t *testing.T) {
	service, db := newTestService(t)

	user := uuid.New()
	other := uuid.New()
	staffRole := enums.RoleStaff
	seedNotification(t, db, &user, nil, time.Now().UTC())
	broadcast := seedNotification(t, db, nil, &staffRole, time.Now().UTC())
	seedNotification(t, db, &other, nil, time.Now().UTC())

	count, err := service.MarkAllRead(context.Background(), user, enums.RoleStaff)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows updated, got %d", count)
	}

	unreadFeed, err := service.List(context.Background(), ListParams{
		RecipientID: user,
		Role:        enums.RoleStaff,
		Limit:       10,
		UnreadOnly:  true,
	})
	if err != nil {
		t.Fatalf("unread feed: %v", err)
	}
	if len(unreadFeed.Items) != 0 {
		t.Fatalf("expected empty unread feed, got %d items", len(unreadFeed.Items))
	}

	// The other user's targeted row is untouched and the broadcast stays
	// unread for everyone else on the role.
	otherFeed, err := service.List(context.Background(), ListParams{
		RecipientID: other,
		Role:        enums.RoleStaff,
		Limit:       10,
		UnreadOnly:  true,
	})
	if err != nil {
		t.Fatalf("other feed: %v", err)
	}
	if len(otherFeed.Items) != 2 {
		t.Fatalf("expected 2 unread items for the other user, got %d", len(otherFeed.Items))
	}

	// Second pass is a no-op.
	count, err = service.MarkAllRead(context.Background(), user, enums.RoleStaff)
	if err != nil {
		t.Fatalf("second mark all read: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows on second pass, got %d", count)
	}

	var markers int64
	if err := db.Model(&models.NotificationRead{}).
		Where("notification_id = ?", broadcast.ID).
		Count(&markers).Error; err != nil {
		t.Fatalf("count markers: %v", err)
	}
	if markers != 1 {
		t.Fatalf("expected a single marker on the broadcast, got %d", markers)
	}
}
