package requests

import (
	"time"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
)

const unknownComponentName = "Unknown Component"

// SubmitInput holds the validated payload to open a request.
type SubmitInput struct {
	RequesterID uuid.UUID
	ComponentID uuid.UUID
	Quantity    int
	Reason      *string
}

// ListFilters narrows request listings.
type ListFilters struct {
	RequesterID *uuid.UUID
	Status      *enums.RequestStatus
}

// ComponentSummary resolves a request's component reference. A removed
// component keeps the request readable: Known is false and the name is a
// placeholder instead of a dangling join error.
type ComponentSummary struct {
	ID                *uuid.UUID `json:"id,omitempty"`
	Name              string     `json:"name"`
	Category          string     `json:"category,omitempty"`
	QuantityAvailable int        `json:"quantity_available"`
	Known             bool       `json:"known"`
}

// RequestDTO represents the request payload returned to clients.
type RequestDTO struct {
	ID              uuid.UUID           `json:"id"`
	RequesterID     uuid.UUID           `json:"requester_id"`
	ComponentID     *uuid.UUID          `json:"component_id,omitempty"`
	Component       ComponentSummary    `json:"component"`
	Quantity        int                 `json:"quantity"`
	Reason          *string             `json:"reason,omitempty"`
	Status          enums.RequestStatus `json:"status"`
	RejectionReason *string             `json:"rejection_reason,omitempty"`
	ReviewerID      *uuid.UUID          `json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// RequestList is a cursor-paginated page of requests.
type RequestList struct {
	Requests   []RequestDTO `json:"requests"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

// RequestLifecycleEvent is the payload emitted on submit/approve/reject.
type RequestLifecycleEvent struct {
	RequestID       uuid.UUID  `json:"request_id"`
	RequesterID     uuid.UUID  `json:"requester_id"`
	ComponentID     *uuid.UUID `json:"component_id,omitempty"`
	ComponentName   string     `json:"component_name,omitempty"`
	Quantity        int        `json:"quantity"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

func toRequestDTO(request *models.Request) RequestDTO {
	return RequestDTO{
		ID:              request.ID,
		RequesterID:     request.RequesterID,
		ComponentID:     request.ComponentID,
		Component:       resolveComponent(request),
		Quantity:        request.Quantity,
		Reason:          request.Reason,
		Status:          request.Status,
		RejectionReason: request.RejectionReason,
		ReviewerID:      request.ReviewerID,
		ReviewedAt:      request.ReviewedAt,
		CreatedAt:       request.CreatedAt,
		UpdatedAt:       request.UpdatedAt,
	}
}

func resolveComponent(request *models.Request) ComponentSummary {
	if request.Component == nil {
		return ComponentSummary{Name: unknownComponentName}
	}
	id := request.Component.ID
	return ComponentSummary{
		ID:                &id,
		Name:              request.Component.Name,
		Category:          request.Component.Category,
		QuantityAvailable: request.Component.QuantityAvailable,
		Known:             true,
	}
}
