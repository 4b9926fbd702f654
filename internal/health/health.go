// Package health derives per-node health status and score, manages alerts,
// and captures periodic snapshots.
package health

import (
	"math"
	"time"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/models"
)

// Classify derives a health status from when the node was last seen.
func Classify(lastSeen *time.Time, now time.Time, stale, offline time.Duration) models.HealthStatus {
	if lastSeen == nil {
		return models.HealthUnknown
	}
	age := now.Sub(*lastSeen)
	switch {
	case age <= stale:
		return models.HealthHealthy
	case age <= offline:
		return models.HealthStale
	default:
		return models.HealthOffline
	}
}

// Score computes the 0-100 health score. Three weighted penalties apply:
// staleness, repeated install failures, and boot instability. Each penalty
// is floored to a whole point so scores stay stable between passes.
func Score(node *models.Node, now time.Time, cfg *config.Config) float64 {
	score := 100.0

	// Staleness: full weight when never seen or past the offline threshold.
	staleFraction := 1.0
	if node.LastSeenAt != nil {
		minutes := now.Sub(*node.LastSeenAt).Minutes()
		staleFraction = math.Min(minutes/float64(cfg.OfflineThresholdMinutes), 1.0)
		if staleFraction < 0 {
			staleFraction = 0
		}
	}
	score -= math.Floor(cfg.ScoreStalenessWeight * staleFraction)

	// Install failures: saturates at five attempts.
	installFraction := math.Min(float64(node.InstallAttempts)/5.0, 1.0)
	score -= math.Floor(cfg.ScoreInstallWeight * installFraction)

	// Boot instability: the first ten boots are free.
	excess := float64(node.BootCount - 10)
	if excess < 0 {
		excess = 0
	}
	score -= math.Floor(cfg.ScoreBootWeight * math.Min(excess/20.0, 1.0))

	return math.Max(0, math.Min(100, score))
}
