package requests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/internal/inventory"
	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/outbox"
	"github.com/labstock/labstock-backend/pkg/pagination"
)

type recordingOutbox struct {
	events []outbox.DomainEvent
	fail   bool
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if r.fail {
		return errors.New("outbox unavailable")
	}
	r.events = append(r.events, event)
	return nil
}

type testTxRunner struct {
	conn *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.conn.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type fixture struct {
	svc    Service
	repo   Repository
	conn   *gorm.DB
	outbox *recordingOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Component{}, &models.Request{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	recorder := &recordingOutbox{}
	guard, err := NewStockGuard(inventory.NewRepository(conn))
	if err != nil {
		t.Fatalf("stock guard: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "requests-test", Output: io.Discard})
	svc, err := NewService(NewRepository(conn), testTxRunner{conn: conn}, recorder, guard, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, repo: NewRepository(conn), conn: conn, outbox: recorder}
}

func (f *fixture) seedComponent(t *testing.T, name string, quantity int) *models.Component {
	t.Helper()
	component := &models.Component{
		ID:                uuid.New(),
		Name:              name,
		NormalizedName:    inventory.Normalize(name),
		Category:          "General",
		QuantityAvailable: quantity,
	}
	if err := f.conn.Create(component).Error; err != nil {
		t.Fatalf("seed component: %v", err)
	}
	return component
}

func (f *fixture) stock(t *testing.T, componentID uuid.UUID) int {
	t.Helper()
	var component models.Component
	if err := f.conn.First(&component, "id = ?", componentID).Error; err != nil {
		t.Fatalf("load component: %v", err)
	}
	return component.QuantityAvailable
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

func strPtr(s string) *string { return &s }

func TestSubmit_CreatesPendingAndEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Arduino Uno", 10)
	requester := uuid.New()

	dto, err := f.svc.Submit(ctx, SubmitInput{
		RequesterID: requester,
		ComponentID: component.ID,
		Quantity:    2,
		Reason:      strPtr("lab session"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dto.Status != enums.RequestStatusPending {
		t.Fatalf("expected pending, got %s", dto.Status)
	}
	if !dto.Component.Known || dto.Component.Name != "Arduino Uno" {
		t.Fatalf("expected resolved component, got %+v", dto.Component)
	}
	if f.stock(t, component.ID) != 10 {
		t.Fatal("submission must not touch stock")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventRequestSubmitted {
		t.Fatalf("expected submitted event, got %+v", f.outbox.events)
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Arduino Uno", 10)

	_, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 0})
	expectCode(t, err, pkgerrors.CodeValidation)

	_, err = f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: uuid.New(), Quantity: 1})
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestSubmit_OutboxFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Arduino Uno", 10)
	f.outbox.fail = true

	dto, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("submit should succeed despite outbox failure: %v", err)
	}
	if dto.Status != enums.RequestStatusPending {
		t.Fatalf("expected pending, got %s", dto.Status)
	}
}

func TestApprove_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Servo Motor", 10)
	reviewer := uuid.New()

	submitted, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 4})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	approved, err := f.svc.Approve(ctx, submitted.ID, reviewer, string(enums.RoleStaff))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != enums.RequestStatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ReviewerID == nil || *approved.ReviewerID != reviewer {
		t.Fatalf("expected reviewer recorded, got %v", approved.ReviewerID)
	}
	if f.stock(t, component.ID) != 6 {
		t.Fatalf("expected stock 6, got %d", f.stock(t, component.ID))
	}

	last := f.outbox.events[len(f.outbox.events)-1]
	if last.EventType != enums.EventRequestApproved {
		t.Fatalf("expected approved event, got %s", last.EventType)
	}
}

func TestApprove_InsufficientStockLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Servo Motor", 1)

	submitted, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Approve(ctx, submitted.ID, uuid.New(), string(enums.RoleStaff))
	expectCode(t, err, pkgerrors.CodeInsufficientStock)

	reloaded, err := f.svc.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.RequestStatusPending {
		t.Fatalf("failed approval must leave request pending, got %s", reloaded.Status)
	}
	if f.stock(t, component.ID) != 1 {
		t.Fatalf("failed approval must not change stock, got %d", f.stock(t, component.ID))
	}
}

func TestApprove_BorderlineStockExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Servo Motor", 10)

	first, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 6})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 6})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if _, err := f.svc.Approve(ctx, first.ID, uuid.New(), string(enums.RoleStaff)); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err = f.svc.Approve(ctx, second.ID, uuid.New(), string(enums.RoleStaff))
	expectCode(t, err, pkgerrors.CodeInsufficientStock)

	if f.stock(t, component.ID) != 4 {
		t.Fatalf("expected stock 4, got %d", f.stock(t, component.ID))
	}
	loser, err := f.svc.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if loser.Status != enums.RequestStatusPending {
		t.Fatalf("loser must remain pending, got %s", loser.Status)
	}
}

func TestApprove_ConcurrentApprovalsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Raspberry Pi 4", 2)

	// sqlite errors on overlapping write transactions; a single connection
	// makes the concurrent approvals queue instead.
	sqlDB, err := f.conn.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		submitted, err := f.svc.Submit(ctx, SubmitInput{
			RequesterID: uuid.New(),
			ComponentID: component.ID,
			Quantity:    1,
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids[i] = submitted.ID
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, id, uuid.New(), string(enums.RoleStaff))
		}(i, id)
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		if err == nil {
			won++
			continue
		}
		pkgErr := pkgerrors.As(err)
		if pkgErr == nil || pkgErr.Code() != pkgerrors.CodeInsufficientStock {
			t.Fatalf("approval %d: unexpected error %v", i, err)
		}
		lost++
	}
	if won != 2 || lost != 3 {
		t.Fatalf("expected 2 approvals and 3 stock failures, got %d/%d", won, lost)
	}
	if stock := f.stock(t, component.ID); stock != 0 {
		t.Fatalf("expected stock drained to 0, got %d", stock)
	}

	var approved int64
	if err := f.conn.Model(&models.Request{}).
		Where("status = ?", enums.RequestStatusApproved).
		Count(&approved).Error; err != nil {
		t.Fatalf("count approved: %v", err)
	}
	if approved != 2 {
		t.Fatalf("expected 2 approved rows, got %d", approved)
	}
}

func TestApprove_TerminalRequestFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Breadboard", 10)

	submitted, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Approve(ctx, submitted.ID, uuid.New(), string(enums.RoleStaff)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = f.svc.Approve(ctx, submitted.ID, uuid.New(), string(enums.RoleStaff))
	expectCode(t, err, pkgerrors.CodeStateConflict)

	_, err = f.svc.Reject(ctx, submitted.ID, uuid.New(), string(enums.RoleStaff), "late")
	expectCode(t, err, pkgerrors.CodeStateConflict)

	if f.stock(t, component.ID) != 9 {
		t.Fatalf("terminal retries must not touch stock again, got %d", f.stock(t, component.ID))
	}
}

func TestApprove_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Approve(context.Background(), uuid.New(), uuid.New(), string(enums.RoleStaff))
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestApprove_RemovedComponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Breadboard", 5)

	submitted, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.conn.Delete(&models.Component{}, "id = ?", component.ID).Error; err != nil {
		t.Fatalf("delete component: %v", err)
	}

	_, err = f.svc.Approve(ctx, submitted.ID, uuid.New(), string(enums.RoleStaff))
	expectCode(t, err, pkgerrors.CodeNotFound)

	reloaded, err := f.svc.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.RequestStatusPending {
		t.Fatalf("expected pending, got %s", reloaded.Status)
	}
	if reloaded.Component.Known || reloaded.Component.Name != "Unknown Component" {
		t.Fatalf("expected unknown component placeholder, got %+v", reloaded.Component)
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Breadboard", 5)
	reviewer := uuid.New()

	submitted, err := f.svc.Submit(ctx, SubmitInput{RequesterID: uuid.New(), ComponentID: component.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Reject(ctx, submitted.ID, reviewer, string(enums.RoleStaff), "   ")
	expectCode(t, err, pkgerrors.CodeValidation)

	pending, err := f.svc.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pending.Status != enums.RequestStatusPending {
		t.Fatalf("failed reject must leave pending, got %s", pending.Status)
	}

	rejected, err := f.svc.Reject(ctx, submitted.ID, reviewer, string(enums.RoleStaff), "out of term budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != enums.RequestStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "out of term budget" {
		t.Fatalf("expected reason recorded, got %v", rejected.RejectionReason)
	}
	if f.stock(t, component.ID) != 5 {
		t.Fatal("reject must not touch stock")
	}

	last := f.outbox.events[len(f.outbox.events)-1]
	if last.EventType != enums.EventRequestRejected {
		t.Fatalf("expected rejected event, got %s", last.EventType)
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	component := f.seedComponent(t, "Arduino Uno", 50)
	requester := uuid.New()
	other := uuid.New()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		request := &models.Request{
			ID:          uuid.New(),
			RequesterID: requester,
			ComponentID: &component.ID,
			Quantity:    1,
			Status:      enums.RequestStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := f.conn.Create(request).Error; err != nil {
			t.Fatalf("seed request: %v", err)
		}
	}
	otherRequest := &models.Request{
		ID:          uuid.New(),
		RequesterID: other,
		ComponentID: &component.ID,
		Quantity:    1,
		Status:      enums.RequestStatusPending,
		CreatedAt:   base.Add(time.Hour),
	}
	if err := f.conn.Create(otherRequest).Error; err != nil {
		t.Fatalf("seed other request: %v", err)
	}

	mine, err := f.svc.List(ctx, ListFilters{RequesterID: &requester}, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine.Requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(mine.Requests))
	}
	if mine.NextCursor == nil {
		t.Fatal("expected next cursor")
	}
	if !mine.Requests[0].CreatedAt.After(mine.Requests[1].CreatedAt) {
		t.Fatal("expected created_at descending order")
	}

	rest, err := f.svc.List(ctx, ListFilters{RequesterID: &requester}, pagination.Params{Limit: 2, Cursor: *mine.NextCursor})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest.Requests) != 1 || rest.NextCursor != nil {
		t.Fatalf("expected final page of 1, got %d (cursor %v)", len(rest.Requests), rest.NextCursor)
	}

	pendingStatus := enums.RequestStatusPending
	all, err := f.svc.List(ctx, ListFilters{Status: &pendingStatus}, pagination.Params{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Requests) != 4 {
		t.Fatalf("expected 4 pending requests, got %d", len(all.Requests))
	}
}
