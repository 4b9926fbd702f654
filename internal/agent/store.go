// Package agent implements the site agent: a small daemon colocated with
// remote nodes that keeps PXE boots working when the central controller is
// unreachable. It caches node and workflow records locally, queues outbound
// mutations while offline, and reconciles with central on reconnect.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/pureboot/pureboot/internal/models"
)

var (
	bucketNodes     = []byte("cached_nodes")
	bucketWorkflows = []byte("cached_workflows")
	bucketQueue     = []byte("sync_queue")
	bucketConflicts = []byte("conflicts")
	bucketContent   = []byte("content_index")
	bucketMeta      = []byte("meta")
)

var keyLastSync = []byte("last_sync_at")

// Store is the agent's local persistence: one bbolt file holding the node
// cache, the sync queue, detected conflicts and the content index.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the agent database and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open agent database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketNodes, bucketWorkflows, bucketQueue, bucketConflicts, bucketContent, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutNode caches one node record keyed by normalized MAC.
func (s *Store) PutNode(n *models.CachedNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(n.MAC), data)
	})
}

// GetNode loads a cached node by MAC, or nil when unknown.
func (s *Store) GetNode(mac string) (*models.CachedNode, error) {
	var node *models.CachedNode
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(mac))
		if data == nil {
			return nil
		}
		var n models.CachedNode
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		node = &n
		return nil
	})
	return node, err
}

// ListNodes returns every cached node record.
func (s *Store) ListNodes() ([]*models.CachedNode, error) {
	var nodes []*models.CachedNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n models.CachedNode
			if err := json.Unmarshal(v, &n); err != nil {
				log.Warn().Err(err).Msg("Skipping corrupt cached node record")
				return nil
			}
			nodes = append(nodes, &n)
			return nil
		})
	})
	return nodes, err
}

// DeleteNode drops a cached node record.
func (s *Store) DeleteNode(mac string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(mac))
	})
}

// PutWorkflow caches one workflow record keyed by id.
func (s *Store) PutWorkflow(wf *models.Workflow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(wf)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkflows).Put([]byte(wf.ID), data)
	})
}

// GetWorkflow loads a cached workflow by id, or nil when unknown.
func (s *Store) GetWorkflow(id string) (*models.Workflow, error) {
	var wf *models.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(id))
		if data == nil {
			return nil
		}
		var w models.Workflow
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		wf = &w
		return nil
	})
	return wf, err
}

// SetLastSync records the time of the last successful full sync.
func (s *Store) SetLastSync(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyLastSync, []byte(t.UTC().Format(time.RFC3339)))
	})
}

// LastSync returns the last successful sync time; zero when never synced.
func (s *Store) LastSync() time.Time {
	var t time.Time
	s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyLastSync)
		if data == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, string(data))
		if err == nil {
			t = parsed
		}
		return nil
	})
	return t
}
