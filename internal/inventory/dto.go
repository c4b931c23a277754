package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/db/models"
)

// IntakeAction tells the caller whether an intake merged into an existing
// component or created a new one.
type IntakeAction string

const (
	IntakeActionCreated IntakeAction = "created"
	IntakeActionMerged  IntakeAction = "merged"
)

// ComponentDTO represents the catalog payload returned to clients.
type ComponentDTO struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	NormalizedName    string    `json:"normalized_name"`
	Description       *string   `json:"description,omitempty"`
	Category          string    `json:"category"`
	QuantityAvailable int       `json:"quantity_available"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IntakeResult pairs the intake outcome with the resulting component state.
type IntakeResult struct {
	Action    IntakeAction `json:"action"`
	Component ComponentDTO `json:"component"`
}

// IntakeInput holds the validated payload for a stock intake.
type IntakeInput struct {
	Name        string
	Description *string
	Category    string
	Quantity    int
}

func toComponentDTO(component *models.Component) ComponentDTO {
	return ComponentDTO{
		ID:                component.ID,
		Name:              component.Name,
		NormalizedName:    component.NormalizedName,
		Description:       component.Description,
		Category:          component.Category,
		QuantityAvailable: component.QuantityAvailable,
		CreatedAt:         component.CreatedAt,
		UpdatedAt:         component.UpdatedAt,
	}
}

func toComponentDTOs(components []models.Component) []ComponentDTO {
	out := make([]ComponentDTO, 0, len(components))
	for i := range components {
		out = append(out, toComponentDTO(&components[i]))
	}
	return out
}
