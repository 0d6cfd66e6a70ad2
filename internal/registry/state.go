package registry

import (
	"errors"
	"fmt"

	"github.com/HerbHall/wolo/pkg/models"
)

// Thresholds controls how many consecutive probe outcomes are needed before
// a host's status flips.
type Thresholds struct {
	Success int `mapstructure:"success_threshold"`
	Failure int `mapstructure:"failure_threshold"`
}

// DefaultThresholds returns one success to come online and two failures to
// go offline.
func DefaultThresholds() Thresholds {
	return Thresholds{Success: 1, Failure: 2}
}

// Validate checks both thresholds are at least one.
func (t Thresholds) Validate() error {
	var errs []error
	if t.Success < 1 {
		errs = append(errs, fmt.Errorf("success threshold must be >= 1, got %d", t.Success))
	}
	if t.Failure < 1 {
		errs = append(errs, fmt.Errorf("failure threshold must be >= 1, got %d", t.Failure))
	}
	return errors.Join(errs...)
}

// Transition records a status change caused by a probe result.
type Transition struct {
	Key  string
	From models.HostStatus
	To   models.HostStatus
}

// Changed reports whether the status actually moved.
func (t Transition) Changed() bool { return t.From != t.To }

// applyProbe folds one probe result into s using the debounce rule.
//
// An unknown host goes offline on its first failure; an online host needs
// th.Failure consecutive failures. Any non-online host needs th.Success
// consecutive successes to come online.
func applyProbe(s *models.NetworkState, r models.ProbeResult, th Thresholds) (from, to models.HostStatus) {
	from = s.Status
	if from == "" {
		from = models.HostStatusUnknown
		s.Status = from
	}
	at := r.At
	s.LastProbeAt = &at
	s.LastProbeTarget = r.Target
	s.LastError = r.Error
	s.LastLatency = 0

	if r.Success {
		s.LastLatency = r.Latency
		s.LastError = ""
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		if s.Status != models.HostStatusOnline && s.ConsecutiveSuccesses >= th.Success {
			s.Status = models.HostStatusOnline
		}
		if s.Status == models.HostStatusOnline {
			s.LastOnlineAt = &at
		}
		return from, s.Status
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	switch s.Status {
	case models.HostStatusUnknown:
		s.Status = models.HostStatusOffline
	case models.HostStatusOnline:
		if s.ConsecutiveFailures >= th.Failure {
			s.Status = models.HostStatusOffline
		}
	}
	return from, s.Status
}
