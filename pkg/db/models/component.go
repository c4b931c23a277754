package models

import (
	"time"

	"github.com/google/uuid"
)

// Component represents a physical part tracked by the lab inventory.
type Component struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name              string    `gorm:"column:name;type:text;not null"`
	NormalizedName    string    `gorm:"column:normalized_name;type:text;not null;uniqueIndex:ux_components_normalized_name"`
	Description       *string   `gorm:"column:description;type:text"`
	Category          string    `gorm:"column:category;type:text;not null;default:'General'"`
	QuantityAvailable int       `gorm:"column:quantity_available;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
