package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
)

// Processor drains the sync queue to central once connectivity returns.
type Processor struct {
	store      *Store
	client     *Client
	batchSize  int
	retryDelay time.Duration
	maxRetries int
}

// NewProcessor builds a queue processor.
func NewProcessor(store *Store, client *Client, batchSize int, retryDelay time.Duration, maxRetries int) *Processor {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Processor{
		store:      store,
		client:     client,
		batchSize:  batchSize,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
	}
}

// Drain delivers pending queue items to central in FIFO batches. Items that
// fail delivery are retried on the next batch pass; an item that exhausts its
// retries is marked failed and skipped so it cannot block younger mutations.
// Drain returns when the queue has no deliverable items or ctx is cancelled.
func (p *Processor) Drain(ctx context.Context) {
	for {
		items, err := p.store.PeekPending(p.batchSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read sync queue")
			return
		}
		if len(items) == 0 {
			return
		}

		delivered := 0
		// A transiently failed item keeps its place at the head of its
		// node's sequence; younger items for the same node wait behind it
		// so mutations are never applied out of order.
		held := make(map[string]bool)
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			if held[item.MAC] {
				continue
			}
			if err := p.deliver(ctx, item); err != nil {
				updated, uerr := p.store.RecordAttempt(item.ID, err.Error(), p.maxRetries)
				if uerr != nil {
					log.Error().Err(uerr).Str("item", item.ID).Msg("Failed to record delivery attempt")
				}
				if updated != nil && updated.Status == models.QueueFailed {
					metrics.QueueDrains.WithLabelValues("failed").Inc()
					log.Error().
						Str("item", item.ID).
						Str("type", string(item.Type)).
						Str("mac", item.MAC).
						Int("attempts", updated.Attempts).
						Str("error", err.Error()).
						Msg("Queue item exhausted retries")
				} else {
					// Still pending: it stays ahead of this node's
					// younger items until it delivers or exhausts.
					held[item.MAC] = true
					metrics.QueueDrains.WithLabelValues("retry").Inc()
					log.Warn().Err(err).Str("item", item.ID).Msg("Queue item delivery failed, will retry")
				}
				continue
			}
			if err := p.store.Dequeue(item.ID); err != nil {
				log.Error().Err(err).Str("item", item.ID).Msg("Failed to dequeue delivered item")
				continue
			}
			metrics.QueueDrains.WithLabelValues("delivered").Inc()
			delivered++
		}

		log.Info().Int("delivered", delivered).Int("batch", len(items)).Msg("Sync queue batch drained")

		// A failed batch without progress waits before the next pass.
		if delivered == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
		}
	}
}

// deliver sends one queued mutation. Reports carry the queue item's id as the
// event id so a redelivery after an ambiguous failure is acknowledged by
// central instead of double-applied.
func (p *Processor) deliver(ctx context.Context, item *models.QueueItem) error {
	switch item.Type {
	case models.QueueRegistration:
		var node models.Node
		if err := json.Unmarshal(item.Payload, &node); err != nil {
			return err
		}
		_, err := p.client.RegisterNode(ctx, &node)
		if err != nil && strings.Contains(err.Error(), "DuplicateMAC") {
			// Already registered, most likely by a replay of this same item.
			return nil
		}
		return err

	case models.QueueStateUpdate, models.QueueEvent:
		var report lifecycle.Report
		if err := json.Unmarshal(item.Payload, &report); err != nil {
			return err
		}
		report.EventID = item.ID
		return p.client.Report(ctx, report)

	default:
		log.Warn().Str("item", item.ID).Str("type", string(item.Type)).Msg("Dropping queue item of unknown type")
		return nil
	}
}
