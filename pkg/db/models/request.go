package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/enums"
)

// Request tracks a student's checkout request through its review lifecycle.
type Request struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	RequesterID     uuid.UUID           `gorm:"column:requester_id;type:uuid;not null;index"`
	ComponentID     *uuid.UUID          `gorm:"column:component_id;type:uuid;index"`
	Quantity        int                 `gorm:"column:quantity;not null"`
	Reason          *string             `gorm:"column:reason;type:text"`
	Status          enums.RequestStatus `gorm:"column:status;type:text;not null;default:'pending';index"`
	RejectionReason *string             `gorm:"column:rejection_reason;type:text"`
	ReviewerID      *uuid.UUID          `gorm:"column:reviewer_id;type:uuid"`
	ReviewedAt      *time.Time          `gorm:"column:reviewed_at"`
	Component       *Component          `gorm:"foreignKey:ComponentID;constraint:OnDelete:SET NULL"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
