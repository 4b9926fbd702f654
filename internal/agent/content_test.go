package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// seedArtifact puts a file on disk and an index entry for it, as if Fetch had
// downloaded it.
func seedArtifact(t *testing.T, st *Store, c *ContentCache, path, content string) {
	t.Helper()
	local := c.LocalPath(path)
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, []byte(content), 0644))
	entry := contentEntry{Path: path, Checksum: "deadbeef", Size: int64(len(content)), FetchedAt: time.Now().UTC()}
	require.NoError(t, st.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContent).Put([]byte(path), data)
	}))
}

func TestShouldCache(t *testing.T) {
	st := newTestStore(t)
	tests := []struct {
		name     string
		policy   string
		pattern  string
		path     string
		assigned bool
		want     bool
	}{
		{"minimal never caches", PolicyMinimal, "", "/files/vmlinuz", true, false},
		{"assigned caches assigned", PolicyAssigned, "", "/files/vmlinuz", true, true},
		{"assigned skips unassigned", PolicyAssigned, "", "/files/vmlinuz", false, false},
		{"mirror caches everything", PolicyMirror, "", "/files/anything", false, true},
		{"pattern match", PolicyPattern, "/files/ubuntu/*", "/files/ubuntu/vmlinuz", false, true},
		{"pattern miss", PolicyPattern, "/files/ubuntu/*", "/files/debian/vmlinuz", false, false},
		{"unknown policy is conservative", "everything", "", "/files/vmlinuz", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContentCache(st, nil, t.TempDir(), tt.policy, tt.pattern)
			assert.Equal(t, tt.want, c.ShouldCache(tt.path, tt.assigned))
		})
	}
}

func TestLocalPathStaysUnderCacheDir(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	c := NewContentCache(st, nil, dir, PolicyMirror, "")

	assert.Equal(t, filepath.Join(dir, "files", "vmlinuz"), c.LocalPath("/files/vmlinuz"))
	// Traversal attempts are collapsed inside the cache root.
	assert.Equal(t, filepath.Join(dir, "etc", "passwd"), c.LocalPath("../../etc/passwd"))
}

func TestHas(t *testing.T) {
	st := newTestStore(t)
	c := NewContentCache(st, nil, t.TempDir(), PolicyMirror, "")

	assert.False(t, c.Has("/files/vmlinuz"))

	seedArtifact(t, st, c, "/files/vmlinuz", "kernel bits")
	assert.True(t, c.Has("/files/vmlinuz"))

	// An index entry whose file vanished does not count as cached.
	require.NoError(t, os.Remove(c.LocalPath("/files/vmlinuz")))
	assert.False(t, c.Has("/files/vmlinuz"))
}
