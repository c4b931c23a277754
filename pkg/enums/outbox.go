package enums

// OutboxEventType names the lifecycle events stored in outbox_events.
type OutboxEventType string

const (
	EventRequestSubmitted OutboxEventType = "request.submitted"
	EventRequestApproved  OutboxEventType = "request.approved"
	EventRequestRejected  OutboxEventType = "request.rejected"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateRequest OutboxAggregateType = "request"
)
