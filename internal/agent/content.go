package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

// Cache policies for boot content.
const (
	PolicyMinimal  = "minimal"  // nothing is prefetched
	PolicyAssigned = "assigned" // artifacts of workflows assigned to site nodes
	PolicyMirror   = "mirror"   // everything central serves
	PolicyPattern  = "pattern"  // paths matching a wildcard pattern
)

// prefetchConcurrency bounds parallel artifact downloads.
const prefetchConcurrency = 3

// contentEntry is the index record for one cached artifact.
type contentEntry struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ContentCache mirrors boot artifacts from central onto local disk so
// offline installs can proceed.
type ContentCache struct {
	store   *Store
	client  *Client
	dir     string
	policy  string
	pattern string
}

// NewContentCache builds a content cache rooted at dir.
func NewContentCache(store *Store, client *Client, dir, policy, pattern string) *ContentCache {
	return &ContentCache{store: store, client: client, dir: dir, policy: policy, pattern: pattern}
}

// ShouldCache decides whether a path falls under the configured policy.
// assigned reports whether the artifact belongs to a workflow assigned to a
// node at this site.
func (c *ContentCache) ShouldCache(path string, assigned bool) bool {
	switch c.policy {
	case PolicyMinimal:
		return false
	case PolicyAssigned:
		return assigned
	case PolicyMirror:
		return true
	case PolicyPattern:
		return wildcard.Match(c.pattern, path)
	default:
		return false
	}
}

// Has reports whether path is cached and its file still exists on disk.
func (c *ContentCache) Has(path string) bool {
	entry, err := c.entry(path)
	if err != nil || entry == nil {
		return false
	}
	_, err = os.Stat(c.localPath(path))
	return err == nil
}

// LocalPath returns where a cached artifact lives on disk.
func (c *ContentCache) LocalPath(path string) string {
	return c.localPath(path)
}

func (c *ContentCache) localPath(path string) string {
	return filepath.Join(c.dir, filepath.Clean("/"+path))
}

func (c *ContentCache) entry(path string) (*contentEntry, error) {
	var entry *contentEntry
	err := c.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContent).Get([]byte(path))
		if data == nil {
			return nil
		}
		var e contentEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	return entry, err
}

// Fetch downloads one artifact from central, verifies its checksum against
// the X-Checksum-SHA256 header, and records it in the index.
func (c *ContentCache) Fetch(ctx context.Context, path string) error {
	body, wantSum, err := c.client.FetchFile(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	local := c.localPath(path)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	tmp := local + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}

	gotSum := hex.EncodeToString(h.Sum(nil))
	if wantSum != "" && !strings.EqualFold(wantSum, gotSum) {
		os.Remove(tmp)
		return fmt.Errorf("checksum mismatch for %s: central %s, downloaded %s", path, wantSum, gotSum)
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return err
	}

	entry := contentEntry{Path: path, Checksum: gotSum, Size: size, FetchedAt: time.Now().UTC()}
	err = c.store.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContent).Put([]byte(path), data)
	})
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Int64("size", size).Msg("Boot artifact cached")
	return nil
}

// Prefetch downloads the given artifacts concurrently, skipping ones already
// cached. A failed download does not abort the others.
func (c *ContentCache) Prefetch(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, path := range paths {
		if c.Has(path) {
			continue
		}
		g.Go(func() error {
			if err := c.Fetch(ctx, path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Artifact prefetch failed")
			}
			return nil
		})
	}
	return g.Wait()
}
