package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
	"github.com/labstock/labstock-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, recipientID uuid.UUID, role enums.Role, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, role enums.Role, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	RecipientID uuid.UUID
	Role        enums.Role
	Limit       int
	Cursor      *pagination.Cursor
	UnreadOnly  bool
}

type notificationMarkResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(notification).Error
}

// feedScope matches rows targeted at the user plus rows broadcast to the
// user's role.
func feedScope(query *gorm.DB, recipientID uuid.UUID, role enums.Role) *gorm.DB {
	return query.Where("recipient_id = ? OR recipient_role = ?", recipientID, role)
}

// unreadFeedScope narrows the feed to unread rows. Targeted rows carry read
// state on the row; broadcast rows are unread until the user has a marker in
// notification_reads.
func unreadFeedScope(query *gorm.DB, recipientID uuid.UUID, role enums.Role) *gorm.DB {
	return query.Where(
		`(recipient_id = ? AND read_at IS NULL)
		 OR (recipient_role = ? AND NOT EXISTS (
		     SELECT 1 FROM notification_reads
		     WHERE notification_reads.notification_id = notifications.id
		       AND notification_reads.user_id = ?))`,
		recipientID, role, recipientID,
	)
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Notification{})
	if params.UnreadOnly {
		query = unreadFeedScope(query, params.RecipientID, params.Role)
	} else {
		query = feedScope(query, params.RecipientID, params.Role)
	}
	if params.Cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID,
		)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		next := notifications[normalized]
		notifications = notifications[:normalized]
		if err := r.overlayReadMarkers(ctx, params.RecipientID, notifications); err != nil {
			return nil, nil, err
		}
		return notifications, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	if err := r.overlayReadMarkers(ctx, params.RecipientID, notifications); err != nil {
		return nil, nil, err
	}
	return notifications, nil, nil
}

// overlayReadMarkers fills ReadAt on broadcast rows from the caller's own
// markers, so the feed reports the caller's read state rather than the shared
// row's.
func (r *repositoryImpl) overlayReadMarkers(ctx context.Context, recipientID uuid.UUID, rows []models.Notification) error {
	var broadcastIDs []uuid.UUID
	for _, row := range rows {
		if row.RecipientRole != nil {
			broadcastIDs = append(broadcastIDs, row.ID)
		}
	}
	if len(broadcastIDs) == 0 {
		return nil
	}

	var marks []models.NotificationRead
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND notification_id IN ?", recipientID, broadcastIDs).
		Find(&marks).Error; err != nil {
		return err
	}
	readAt := make(map[uuid.UUID]time.Time, len(marks))
	for _, mark := range marks {
		readAt[mark.NotificationID] = mark.CreatedAt
	}
	for i := range rows {
		if at, ok := readAt[rows[i].ID]; ok {
			rows[i].ReadAt = &at
		}
	}
	return nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, recipientID uuid.UUID, role enums.Role, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	var notification models.Notification
	err := feedScope(r.db.WithContext(ctx), recipientID, role).
		Where("id = ?", notificationID).
		First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notificationMarkResult{}, nil
	}
	if err != nil {
		return notificationMarkResult{}, err
	}

	if notification.RecipientRole != nil {
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.NotificationRead{
				NotificationID: notification.ID,
				UserID:         recipientID,
				CreatedAt:      now,
			})
		if result.Error != nil {
			return notificationMarkResult{}, result.Error
		}
		return notificationMarkResult{Found: true, Updated: result.RowsAffected > 0}, nil
	}

	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", notification.ID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}
	return notificationMarkResult{Found: true, Updated: result.RowsAffected > 0}, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, recipientID uuid.UUID, role enums.Role, now time.Time) (int64, error) {
	targeted := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		UpdateColumn("read_at", now)
	if targeted.Error != nil {
		return 0, targeted.Error
	}

	broadcast := r.db.WithContext(ctx).Exec(
		`INSERT INTO notification_reads (notification_id, user_id, created_at)
		 SELECT id, ?, ? FROM notifications
		 WHERE recipient_role = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM notification_reads
		     WHERE notification_reads.notification_id = notifications.id
		       AND notification_reads.user_id = ?)`,
		recipientID, now, role, recipientID,
	)
	if broadcast.Error != nil {
		return 0, broadcast.Error
	}
	return targeted.RowsAffected + broadcast.RowsAffected, nil
}
