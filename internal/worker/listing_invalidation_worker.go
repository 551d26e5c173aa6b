package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"wellness-sessions/internal/model"
	"wellness-sessions/internal/platform/metrics"
	"wellness-sessions/internal/platform/rabbitmq"
)

type ListingInvalidator interface {
	Invalidate(ctx context.Context) error
}

// ListingInvalidationWorker consumes session lifecycle events and drops the
// cached public listing whenever an event can change it.
type ListingInvalidationWorker struct {
	conn      *amqp.Connection
	listing   ListingInvalidator
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewListingInvalidationWorker(conn *amqp.Connection, listing ListingInvalidator, queueName string, logger zerolog.Logger) *ListingInvalidationWorker {
	return &ListingInvalidationWorker{
		conn:      conn,
		listing:   listing,
		queueName: queueName,
		logger:    logger.With().Str("worker", "listing_invalidation").Logger(),
	}
}

func (w *ListingInvalidationWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("handle session event failed")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info().Str("queue", w.queueName).Msg("worker started")
	return nil
}

func (w *ListingInvalidationWorker) handle(ctx context.Context, body []byte) error {
	var event model.SessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.SessionEvents.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("decode session event failed: %w", err)
	}
	if !event.AffectsListing() {
		metrics.SessionEvents.WithLabelValues(event.Type, "skipped").Inc()
		return nil
	}
	if err := w.listing.Invalidate(ctx); err != nil {
		metrics.SessionEvents.WithLabelValues(event.Type, "failed").Inc()
		return err
	}
	metrics.SessionEvents.WithLabelValues(event.Type, "invalidated").Inc()
	w.logger.Debug().
		Str("session_id", event.SessionID).
		Str("event", event.Type).
		Msg("listing cache invalidated")
	return nil
}

func (w *ListingInvalidationWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
