package sender

import (
	"time"

	"chatdispatch/internal/domain"
)

const (
	HealthReward  = 1
	HealthPenalty = 5

	// AutoPauseFailures parks a sender until the next manual reconnect.
	AutoPauseFailures = 10

	MinSelectableHealth      = 50
	MaxSelectableConsecutive = 5
)

// HealthResult is the outcome of one health update. Err is set when the update
// could not be persisted; callers log it and carry on.
type HealthResult struct {
	SenderID            string
	Success             bool
	HealthScore         int
	ConsecutiveFailures int
	Paused              bool
	Err                 error
}

// ApplyOutcome folds one send result into the sender's health and reports
// whether this update paused it.
func ApplyOutcome(s *domain.Sender, success bool, now time.Time) (pausedNow bool) {
	if success {
		s.SuccessCount++
		s.ConsecutiveFailures = 0
		s.HealthScore = min(domain.MaxHealthScore, s.HealthScore+HealthReward)
		return false
	}

	s.FailureCount++
	s.ConsecutiveFailures++
	s.LastFailure = &now
	s.HealthScore = max(0, s.HealthScore-HealthPenalty)
	if s.ConsecutiveFailures >= AutoPauseFailures && s.Status != domain.SenderPaused {
		s.Status = domain.SenderPaused
		return true
	}
	return false
}

// Selectable reports whether health alone allows picking s.
func Selectable(s domain.Sender) bool {
	return s.HealthScore >= MinSelectableHealth && s.ConsecutiveFailures < MaxSelectableConsecutive
}
