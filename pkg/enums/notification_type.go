package enums

import "fmt"

// NotificationType describes the allowed values for the `type` column in notifications.
type NotificationType string

const (
	NotificationTypeNewRequest      NotificationType = "new_request"
	NotificationTypeRequestApproved NotificationType = "request_approved"
	NotificationTypeRequestRejected NotificationType = "request_rejected"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeNewRequest,
	NotificationTypeRequestApproved,
	NotificationTypeRequestRejected,
}

// IsValid reports whether the value matches the canonical notification type enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts the raw string to NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
