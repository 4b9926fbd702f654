package agent

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
)

// Enqueue appends a mutation to the sync queue. Keys are ULIDs, so iteration
// order is insertion order and per-node ordering is preserved.
func (s *Store) Enqueue(itemType models.QueueItemType, mac string, payload json.RawMessage) (*models.QueueItem, error) {
	item := &models.QueueItem{
		ID:        ulid.Make().String(),
		Type:      itemType,
		MAC:       mac,
		Payload:   payload,
		Status:    models.QueuePending,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQueue).Put([]byte(item.ID), data)
	})
	if err != nil {
		return nil, err
	}
	if depth, err := s.QueueDepth(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return item, nil
}

// PeekPending returns up to limit pending items in FIFO order. Items marked
// failed are skipped; they no longer block the queue.
func (s *Store) PeekPending(limit int) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil && len(items) < limit; k, v = c.Next() {
			var item models.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			if item.Status == models.QueueFailed {
				continue
			}
			items = append(items, &item)
		}
		return nil
	})
	return items, err
}

// Dequeue removes a delivered item.
func (s *Store) Dequeue(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	if depth, derr := s.QueueDepth(); derr == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return nil
}

// RecordAttempt bumps an item's attempt counter after a failed delivery and
// marks it failed once attempts reach maxRetries. Returns the updated item.
func (s *Store) RecordAttempt(id, errMsg string, maxRetries int) (*models.QueueItem, error) {
	var updated *models.QueueItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var item models.QueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		item.Attempts++
		item.LastError = errMsg
		if item.Attempts >= maxRetries {
			item.Status = models.QueueFailed
		} else {
			item.Status = models.QueuePending
		}
		out, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		updated = &item
		return bucket.Put([]byte(id), out)
	})
	return updated, err
}

// QueueDepth counts items still awaiting delivery, failed ones included.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	return n, err
}

// ListFailed returns items that exhausted their retries, for operator review.
func (s *Store) ListFailed() ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(_, v []byte) error {
			var item models.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			if item.Status == models.QueueFailed {
				items = append(items, &item)
			}
			return nil
		})
	})
	return items, err
}
