package notifications

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
)

const (
	fallbackComponentName = "Unknown Component"
	requestsFeedLink      = "/requests"
)

// requestEventPayload mirrors the lifecycle payload the requests service
// writes into the outbox. Decoded here so the worker does not depend on the
// emitting package.
type requestEventPayload struct {
	RequestID       uuid.UUID  `json:"request_id"`
	RequesterID     uuid.UUID  `json:"requester_id"`
	ComponentID     *uuid.UUID `json:"component_id,omitempty"`
	ComponentName   string     `json:"component_name,omitempty"`
	Quantity        int        `json:"quantity"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

func (p requestEventPayload) componentName() string {
	if strings.TrimSpace(p.ComponentName) == "" {
		return fallbackComponentName
	}
	return p.ComponentName
}

// reviewerRoles are the roles allowed to decide requests; each gets its own
// broadcast row for a new submission.
var reviewerRoles = []enums.Role{enums.RoleStaff, enums.RoleAdmin}

// buildNotifications maps a request lifecycle event to the in-app
// notifications it produces. Submissions land on the shared feed of every
// reviewer role, review decisions go to the requester.
func buildNotifications(eventType enums.OutboxEventType, payload requestEventPayload) ([]*models.Notification, error) {
	link := requestsFeedLink

	switch eventType {
	case enums.EventRequestSubmitted:
		rows := make([]*models.Notification, 0, len(reviewerRoles))
		for _, role := range reviewerRoles {
			role := role
			rows = append(rows, &models.Notification{
				RecipientRole: &role,
				Type:          enums.NotificationTypeNewRequest,
				Title:         "New Component Request",
				Message:       fmt.Sprintf("A new request for %d x %s is waiting for review.", payload.Quantity, payload.componentName()),
				Link:          &link,
			})
		}
		return rows, nil
	case enums.EventRequestApproved:
		recipient := payload.RequesterID
		return []*models.Notification{{
			RecipientID: &recipient,
			Type:        enums.NotificationTypeRequestApproved,
			Title:       "Request Approved",
			Message:     fmt.Sprintf("Your request for %d x %s was approved.", payload.Quantity, payload.componentName()),
			Link:        &link,
		}}, nil
	case enums.EventRequestRejected:
		recipient := payload.RequesterID
		message := fmt.Sprintf("Your request for %d x %s was rejected.", payload.Quantity, payload.componentName())
		if payload.RejectionReason != nil && strings.TrimSpace(*payload.RejectionReason) != "" {
			message = fmt.Sprintf("%s Reason: %s", message, *payload.RejectionReason)
		}
		return []*models.Notification{{
			RecipientID: &recipient,
			Type:        enums.NotificationTypeRequestRejected,
			Title:       "Request Rejected",
			Message:     message,
			Link:        &link,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported event type %q", eventType)
	}
}
