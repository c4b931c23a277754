package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/internal/inventory"
	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/outbox"
	"github.com/labstock/labstock-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockGuard performs component reads and the guarded stock decrement inside
// the approval transaction.
type StockGuard interface {
	Decrement(ctx context.Context, tx *gorm.DB, componentID uuid.UUID, amount int) (int64, error)
	Find(ctx context.Context, tx *gorm.DB, componentID uuid.UUID) (*models.Component, error)
}

// Service drives the request state machine.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*RequestDTO, error)
	Approve(ctx context.Context, requestID, reviewerID uuid.UUID, reviewerRole string) (*RequestDTO, error)
	Reject(ctx context.Context, requestID, reviewerID uuid.UUID, reviewerRole, reason string) (*RequestDTO, error)
	Get(ctx context.Context, requestID uuid.UUID) (*RequestDTO, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*RequestList, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	stock  StockGuard
	logg   *logger.Logger
}

// NewService builds a request ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxPub outboxPublisher, stock StockGuard, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("requests repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxPub == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outboxPub,
		stock:  stock,
		logg:   logg,
	}, nil
}

// Submit opens a pending request. Stock is deliberately not checked here:
// availability can change between submission and review, so it is enforced
// only at approval time.
func (s *service) Submit(ctx context.Context, input SubmitInput) (*RequestDTO, error) {
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester id required")
	}
	if input.ComponentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "component id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var created *models.Request
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.stock.Find(ctx, tx, input.ComponentID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading component")
		}

		componentID := input.ComponentID
		request := &models.Request{
			RequesterID: input.RequesterID,
			ComponentID: &componentID,
			Quantity:    input.Quantity,
			Reason:      input.Reason,
			Status:      enums.RequestStatusPending,
		}
		var err error
		created, err = s.repo.WithTx(tx).Create(ctx, request)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto, err := s.loadDTO(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	actor := &outbox.ActorRef{UserID: input.RequesterID, Role: string(enums.RoleStudent)}
	s.emitLifecycle(ctx, enums.EventRequestSubmitted, dto, actor)
	return dto, nil
}

// Approve transitions a pending request to approved, decrementing stock
// atomically. On insufficient stock nothing is mutated and the request stays
// pending so it can be retried after restock.
func (s *service) Approve(ctx context.Context, requestID, reviewerID uuid.UUID, reviewerRole string) (*RequestDTO, error) {
	if reviewerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer id required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		request, err := repo.FindByID(ctx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading request")
		}
		if request.Status != enums.RequestStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("request already %s", request.Status))
		}
		if request.ComponentID == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "component no longer exists")
		}

		rows, err := s.stock.Decrement(ctx, tx, *request.ComponentID, request.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrementing stock")
		}
		if rows == 0 {
			component, findErr := s.stock.Find(ctx, tx, *request.ComponentID)
			if findErr != nil {
				if errors.Is(findErr, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "component no longer exists")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "loading component")
			}
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{
					"available": component.QuantityAvailable,
					"requested": request.Quantity,
				})
		}

		flipped, err := repo.MarkApproved(ctx, requestID, reviewerID, time.Now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approving request")
		}
		if flipped == 0 {
			// Another reviewer won the race after our read; rolling back
			// also restores the decrement.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "request already reviewed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto, err := s.loadDTO(ctx, requestID)
	if err != nil {
		return nil, err
	}
	actor := &outbox.ActorRef{UserID: reviewerID, Role: reviewerRole}
	s.emitLifecycle(ctx, enums.EventRequestApproved, dto, actor)
	return dto, nil
}

// Reject transitions a pending request to rejected. A non-empty reason is
// required; inventory is untouched.
func (s *service) Reject(ctx context.Context, requestID, reviewerID uuid.UUID, reviewerRole, reason string) (*RequestDTO, error) {
	if reviewerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer id required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		request, err := repo.FindByID(ctx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading request")
		}
		if request.Status != enums.RequestStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("request already %s", request.Status))
		}

		flipped, err := repo.MarkRejected(ctx, requestID, reviewerID, reason, time.Now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rejecting request")
		}
		if flipped == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "request already reviewed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto, err := s.loadDTO(ctx, requestID)
	if err != nil {
		return nil, err
	}
	actor := &outbox.ActorRef{UserID: reviewerID, Role: reviewerRole}
	s.emitLifecycle(ctx, enums.EventRequestRejected, dto, actor)
	return dto, nil
}

// Get loads a single request with its component resolved.
func (s *service) Get(ctx context.Context, requestID uuid.UUID) (*RequestDTO, error) {
	return s.loadDTO(ctx, requestID)
}

// List returns a cursor-paginated page ordered by creation time descending.
func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*RequestList, error) {
	rows, err := s.repo.List(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing requests")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var nextCursor *string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		nextCursor = &cursor
	}

	out := make([]RequestDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toRequestDTO(&rows[i]))
	}
	return &RequestList{Requests: out, NextCursor: nextCursor}, nil
}

func (s *service) loadDTO(ctx context.Context, requestID uuid.UUID) (*RequestDTO, error) {
	request, err := s.repo.FindDetailed(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading request")
	}
	dto := toRequestDTO(request)
	return &dto, nil
}

// emitLifecycle queues the outbox event after the state transition has
// committed. Emission is best-effort: a failure here is logged and never
// surfaces to the caller.
func (s *service) emitLifecycle(ctx context.Context, eventType enums.OutboxEventType, dto *RequestDTO, actor *outbox.ActorRef) {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRequest,
		AggregateID:   dto.ID,
		Actor:         actor,
		Version:       1,
		Data: RequestLifecycleEvent{
			RequestID:       dto.ID,
			RequesterID:     dto.RequesterID,
			ComponentID:     dto.ComponentID,
			ComponentName:   dto.Component.Name,
			Quantity:        dto.Quantity,
			RejectionReason: dto.RejectionReason,
		},
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		fields := map[string]any{
			"event_type": eventType,
			"request_id": dto.ID.String(),
		}
		s.logg.Error(s.logg.WithFields(ctx, fields), "queueing lifecycle event failed", err)
	}
}

type stockGuard struct {
	inv *inventory.Repository
}

// NewStockGuard adapts the inventory repository to the approval transaction.
func NewStockGuard(inv *inventory.Repository) (StockGuard, error) {
	if inv == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return stockGuard{inv: inv}, nil
}

func (g stockGuard) Decrement(ctx context.Context, tx *gorm.DB, componentID uuid.UUID, amount int) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock decrement")
	}
	return g.inv.WithTx(tx).DecrementGuarded(ctx, componentID, amount)
}

func (g stockGuard) Find(ctx context.Context, tx *gorm.DB, componentID uuid.UUID) (*models.Component, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for component lookup")
	}
	return g.inv.WithTx(tx).FindByID(ctx, componentID)
}
