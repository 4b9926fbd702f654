package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/models"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	stale := 15 * time.Minute
	offline := 60 * time.Minute
	seen := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name     string
		lastSeen *time.Time
		want     models.HealthStatus
	}{
		{"never seen", nil, models.HealthUnknown},
		{"just now", seen(0), models.HealthHealthy},
		{"at stale boundary", seen(15 * time.Minute), models.HealthHealthy},
		{"past stale", seen(16 * time.Minute), models.HealthStale},
		{"at offline boundary", seen(60 * time.Minute), models.HealthStale},
		{"past offline", seen(61 * time.Minute), models.HealthOffline},
		{"days ago", seen(48 * time.Hour), models.HealthOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.lastSeen, now, stale, offline))
		})
	}
}

func TestScore(t *testing.T) {
	cfg := config.Defaults()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	seen := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name string
		node models.Node
		want float64
	}{
		{"fresh node", models.Node{LastSeenAt: seen(0)}, 100},
		{"never seen takes full staleness penalty", models.Node{}, 60},
		{"twenty minutes stale", models.Node{LastSeenAt: seen(20 * time.Minute)}, 87},
		{"past offline threshold", models.Node{LastSeenAt: seen(2 * time.Hour)}, 60},
		{"two install attempts", models.Node{LastSeenAt: seen(0), InstallAttempts: 2}, 88},
		{"install penalty saturates at five", models.Node{LastSeenAt: seen(0), InstallAttempts: 9}, 70},
		{"first ten boots are free", models.Node{LastSeenAt: seen(0), BootCount: 10}, 100},
		{"twenty boots", models.Node{LastSeenAt: seen(0), BootCount: 20}, 85},
		{"boot penalty saturates", models.Node{LastSeenAt: seen(0), BootCount: 500}, 70},
		{"everything wrong clamps at zero", models.Node{InstallAttempts: 5, BootCount: 100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node
			assert.Equal(t, tt.want, Score(&node, now, cfg))
		})
	}
}
