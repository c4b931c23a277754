package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/enums"
)

// Notification stores in-app notification payloads. A row is either targeted
// at one user (RecipientID) or broadcast to a role's shared feed
// (RecipientRole); exactly one of the two is set. ReadAt tracks read state
// for targeted rows only; broadcast rows track it per user in
// NotificationRead.
type Notification struct {
	ID            uuid.UUID              `gorm:"type:uuid;primaryKey"`
	RecipientID   *uuid.UUID             `gorm:"type:uuid;index"`
	RecipientRole *enums.Role            `gorm:"type:text;index"`
	Type          enums.NotificationType `gorm:"type:text;not null"`
	Title         string                 `gorm:"type:text;not null"`
	Message       string                 `gorm:"type:text;not null"`
	Link          *string                `gorm:"type:text"`
	ReadAt        *time.Time             `gorm:"column:read_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// NotificationRead marks a role-broadcast notification as read for one user,
// so one reviewer's read state does not leak to the rest of the role.
type NotificationRead struct {
	NotificationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
