package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/config"
	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/metrics"
	"github.com/labstock/labstock-backend/pkg/outbox"
)

const deliveryJob = "notification_delivery"

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EventPublisher fans a stored notification event out to an external channel.
// Publishing is best effort: the in-app notification row is already committed
// by the time Publish runs.
type EventPublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) error
}

// WorkerParams collects Worker dependencies.
type WorkerParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	TxRunner   txRunner
	Repository Repository
	Outbox     *outbox.Repository
	Publisher  EventPublisher
	Metrics    *metrics.JobMetrics
}

// Worker drains the outbox and turns request lifecycle events into
// notifications.
type Worker struct {
	logg         *logger.Logger
	tx           txRunner
	repo         Repository
	outboxRepo   *outbox.Repository
	publisher    EventPublisher
	jobs         *metrics.JobMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

// NewWorker wires the notification worker. Publisher may be nil when no
// external channel is configured.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Repository == nil {
		return nil, errors.New("notifications repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Worker{
		logg:         params.Logger,
		tx:           params.TxRunner,
		repo:         params.Repository,
		outboxRepo:   params.Outbox,
		publisher:    params.Publisher,
		jobs:         params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// Run polls the outbox until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := w.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "notification worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := w.processBatch(ctx)
		if err != nil {
			w.logg.Error(ctx, "notification worker batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := w.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := w.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.outboxRepo.FetchUnpublished(w.batchSize, w.maxAttempts)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		started := time.Now()
		err := w.processEvent(ctx, event)
		w.jobs.ObserveDuration(deliveryJob, time.Since(started))
		if err != nil {
			w.jobs.IncFailure(deliveryJob)
			fields := w.eventFields(event)
			fields["attempt_count"] = event.AttemptCount + 1
			ctxWithFields := w.logg.WithField(w.logg.WithFields(ctx, fields), "error", err.Error())
			if event.AttemptCount+1 >= w.maxAttempts {
				w.logg.Warn(ctxWithFields, "notification event exhausted retries")
			} else {
				w.logg.Warn(ctxWithFields, "notification event processing failed")
			}
			if markErr := w.outboxRepo.MarkFailed(event.ID, err); markErr != nil {
				return true, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
			}
			continue
		}
		w.jobs.IncSuccess(deliveryJob)
		w.logg.Info(w.logg.WithFields(ctx, w.eventFields(event)), "notification delivered")
	}
	return true, nil
}

// processEvent creates the notification rows and marks the event published in
// one transaction, then fans out to the external channel best effort.
func (w *Worker) processEvent(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	var payload requestEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	rows, err := buildNotifications(event.EventType, payload)
	if err != nil {
		return err
	}
	for _, row := range rows {
		row.CreatedAt = envelope.OccurredAt
	}

	err = w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := w.repo.WithTx(tx)
		for _, row := range rows {
			if err := repo.Create(ctx, row); err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
		}
		return w.outboxRepo.WithTx(tx).MarkPublished(event.ID)
	})
	if err != nil {
		return err
	}

	w.fanOut(ctx, event, envelope)
	return nil
}

func (w *Worker) fanOut(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) {
	if w.publisher == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	attributes := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := w.publisher.Publish(publishCtx, event.Payload, attributes); err != nil {
		ctxWithFields := w.logg.WithField(w.logg.WithFields(ctx, w.eventFields(event)), "error", err.Error())
		w.logg.Warn(ctxWithFields, "notification fan-out publish failed")
	}
}

func (w *Worker) eventFields(event models.OutboxEvent) map[string]any {
	return map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

// NewPubSubPublisher adapts a Pub/Sub publisher handle to EventPublisher.
func NewPubSubPublisher(p *gcppubsub.Publisher) EventPublisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{publisher: p}
}

type gcpPublisher struct {
	publisher *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) error {
	result := p.publisher.Publish(ctx, &gcppubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	_, err := result.Get(ctx)
	return err
}
