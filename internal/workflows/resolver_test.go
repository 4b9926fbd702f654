package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/models"
)

func writeRecord(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestResolverGet(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "ubuntu-22.json", `{
		"id": "ubuntu-22",
		"name": "Ubuntu 22.04",
		"kernelPath": "/files/ubuntu/vmlinuz",
		"initrdPath": "/files/ubuntu/initrd",
		"cmdline": "autoinstall url=${server}/seed/${node_id}"
	}`)

	r := NewResolver(dir)
	wf, err := r.Get("ubuntu-22")
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu 22.04", wf.Name)
	// Defaults fill in when the record omits them.
	assert.Equal(t, models.ArchX86_64, wf.Architecture)
	assert.Equal(t, models.BootModeBIOS, wf.BootMode)
}

func TestResolverGetNotFound(t *testing.T) {
	r := NewResolver(t.TempDir())
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestResolverGetRejectsTraversal(t *testing.T) {
	r := NewResolver(t.TempDir())
	for _, id := range []string{"../etc/passwd", "a/b", `a\b`, ""} {
		_, err := r.Get(id)
		assert.ErrorIs(t, err, ErrWorkflowNotFound, "id %q", id)
	}
}

func TestResolverGetMismatchedID(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "alpha.json", `{"id":"beta","name":"n","kernelPath":"/k","initrdPath":"/i"}`)
	r := NewResolver(dir)
	_, err := r.Get("alpha")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestResolverListSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "good.json", `{"id":"good","name":"Good","kernelPath":"/k","initrdPath":"/i"}`)
	writeRecord(t, dir, "broken.json", `{not json`)
	writeRecord(t, dir, "incomplete.json", `{"id":"incomplete","name":"Missing paths"}`)
	writeRecord(t, dir, "badarch.json", `{"id":"badarch","name":"n","kernelPath":"/k","initrdPath":"/i","architecture":"sparc"}`)
	writeRecord(t, dir, "notes.txt", `ignored`)

	r := NewResolver(dir)
	wfs, err := r.List()
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, "good", wfs[0].ID)
}

func TestResolverListMissingDir(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "nope"))
	wfs, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, wfs)
}

func TestResolveCmdline(t *testing.T) {
	got := ResolveCmdline("url=${server}/seed/${node_id} mac=${mac} ip=${ip} keep=${unknown}", Vars{
		Server: "http://ctrl:8420",
		NodeID: "n-1",
		MAC:    "aa:bb:cc:dd:ee:ff",
		IP:     "10.0.0.5",
	})
	assert.Equal(t, "url=http://ctrl:8420/seed/n-1 mac=aa:bb:cc:dd:ee:ff ip=10.0.0.5 keep=${unknown}", got)
}
