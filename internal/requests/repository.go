package requests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
	"github.com/labstock/labstock-backend/pkg/pagination"
)

// Repository defines persistence operations for request records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.Request) (*models.Request, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	FindDetailed(ctx context.Context, id uuid.UUID) (*models.Request, error)
	MarkApproved(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time) (int64, error)
	MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reason string, reviewedAt time.Time) (int64, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Request, error)
	CountByStatus(ctx context.Context) (map[enums.RequestStatus]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.Request) (*models.Request, error) {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var request models.Request
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindDetailed(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var request models.Request
	if err := r.db.WithContext(ctx).
		Preload("Component").
		First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// MarkApproved flips a pending request to approved. The status guard in the
// WHERE clause makes the Pending-to-terminal transition atomic per request:
// of two racing reviewers exactly one sees an affected row.
func (r *repository) MarkApproved(ctx context.Context, id, reviewerID uuid.UUID, reviewedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ?", id, enums.RequestStatusPending).
		Updates(map[string]any{
			"status":      enums.RequestStatusApproved,
			"reviewer_id": reviewerID,
			"reviewed_at": reviewedAt,
		})
	return res.RowsAffected, res.Error
}

// MarkRejected flips a pending request to rejected with the same status guard.
func (r *repository) MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reason string, reviewedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ?", id, enums.RequestStatusPending).
		Updates(map[string]any{
			"status":           enums.RequestStatusRejected,
			"rejection_reason": reason,
			"reviewer_id":      reviewerID,
			"reviewed_at":      reviewedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Request, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Preload("Component").
		Order("created_at DESC").
		Order("id DESC")

	if filters.RequesterID != nil {
		query = query.Where("requester_id = ?", *filters.RequesterID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var requests []models.Request
	err = query.Limit(pagination.LimitWithBuffer(params.Limit)).Find(&requests).Error
	return requests, err
}

func (r *repository) CountByStatus(ctx context.Context) (map[enums.RequestStatus]int64, error) {
	type row struct {
		Status enums.RequestStatus
		Total  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.RequestStatus]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}
