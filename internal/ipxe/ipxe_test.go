package ipxe

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalBoot(t *testing.T) {
	s := LocalBoot()
	assert.Equal(t, KindLocal, s.Kind)
	assert.True(t, strings.HasPrefix(s.Body, "#!ipxe\n"))
	assert.Contains(t, s.Body, "exit")
}

func TestDiscovery(t *testing.T) {
	s := Discovery("aa:bb:cc:dd:ee:ff", 45)
	assert.Equal(t, KindDiscovery, s.Kind)
	assert.Contains(t, s.Body, "aa:bb:cc:dd:ee:ff")
	assert.Contains(t, s.Body, "sleep 45")

	// Zero wait falls back to the default.
	s = Discovery("aa:bb:cc:dd:ee:ff", 0)
	assert.Contains(t, s.Body, "sleep 30")
}

func TestInstall(t *testing.T) {
	s := Install("http://ctrl:8420", "/files/vmlinuz", "/files/initrd.img", "console=ttyS0 server=http://ctrl:8420")
	assert.Equal(t, KindInstall, s.Kind)
	assert.Contains(t, s.Body, "kernel http://ctrl:8420/files/vmlinuz console=ttyS0")
	assert.Contains(t, s.Body, "initrd http://ctrl:8420/files/initrd.img")
	assert.Contains(t, s.Body, "boot")
}

func TestInstallFailedSanitizesError(t *testing.T) {
	s := InstallFailed("aa:bb:cc:dd:ee:ff", 3, "disk error\nsleep 999")
	assert.Equal(t, KindInstallFailed, s.Kind)
	assert.Contains(t, s.Body, "after 3 attempts")
	assert.NotContains(t, s.Body, "\nsleep 999")
	assert.Contains(t, s.Body, "disk error sleep 999")
}

func TestConflictHold(t *testing.T) {
	s := ConflictHold("aa:bb:cc:dd:ee:ff", 0)
	assert.Equal(t, KindConflictHold, s.Kind)
	assert.Contains(t, s.Body, "unresolved state conflict")
	assert.Contains(t, s.Body, "sleep 30")
}

func TestOfflineBanner(t *testing.T) {
	s := Offline(LocalBoot(), time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(s.Body, "#!ipxe\necho *** OFFLINE MODE ***\n"))
	assert.Contains(t, s.Body, "Last sync: 2026-08-25T12:00:00Z")
	// The shebang from the wrapped script is not duplicated.
	assert.Equal(t, 1, strings.Count(s.Body, "#!ipxe"))

	s = Offline(LocalBoot(), time.Time{})
	assert.Contains(t, s.Body, "Last sync: never")
}
