package registry

import (
	"testing"
	"time"

	"github.com/HerbHall/wolo/pkg/models"
)

func TestApplyProbe(t *testing.T) {
	const (
		U = models.HostStatusUnknown
		N = models.HostStatusOnline
		F = models.HostStatusOffline
	)

	tests := []struct {
		name     string
		th       Thresholds
		start    models.HostStatus
		outcomes []bool
		want     []models.HostStatus
	}{
		{
			name:     "unknown goes offline on first failure",
			th:       DefaultThresholds(),
			start:    U,
			outcomes: []bool{false},
			want:     []models.HostStatus{F},
		},
		{
			name:     "unknown goes online on first success",
			th:       DefaultThresholds(),
			start:    U,
			outcomes: []bool{true},
			want:     []models.HostStatus{N},
		},
		{
			name:     "online needs two failures with default threshold",
			th:       DefaultThresholds(),
			start:    U,
			outcomes: []bool{true, false, false},
			want:     []models.HostStatus{N, N, F},
		},
		{
			name:     "success resets failure count",
			th:       DefaultThresholds(),
			start:    U,
			outcomes: []bool{true, false, true, false, true},
			want:     []models.HostStatus{N, N, N, N, N},
		},
		{
			name:     "offline stays offline on failure",
			th:       DefaultThresholds(),
			start:    U,
			outcomes: []bool{false, false, false},
			want:     []models.HostStatus{F, F, F},
		},
		{
			name:     "success threshold three",
			th:       Thresholds{Success: 3, Failure: 2},
			start:    U,
			outcomes: []bool{false, true, true, false, true, true, true},
			want:     []models.HostStatus{F, F, F, F, F, F, N},
		},
		{
			name:     "failure threshold one flips immediately",
			th:       Thresholds{Success: 1, Failure: 1},
			start:    U,
			outcomes: []bool{true, false, true},
			want:     []models.HostStatus{N, F, N},
		},
		{
			name:     "failure threshold four",
			th:       Thresholds{Success: 1, Failure: 4},
			start:    U,
			outcomes: []bool{true, false, false, false, false},
			want:     []models.HostStatus{N, N, N, N, F},
		},
		{
			name:     "unknown below success threshold stays unknown",
			th:       Thresholds{Success: 2, Failure: 2},
			start:    U,
			outcomes: []bool{true, true},
			want:     []models.HostStatus{U, N},
		},
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.NetworkState{Status: tt.start}
			for i, ok := range tt.outcomes {
				at := base.Add(time.Duration(i) * time.Second)
				_, to := applyProbe(&s, models.ProbeResult{Success: ok, At: at}, tt.th)
				if to != tt.want[i] {
					t.Fatalf("step %d: status = %s, want %s", i, to, tt.want[i])
				}
				if s.LastProbeAt == nil || !s.LastProbeAt.Equal(at) {
					t.Fatalf("step %d: LastProbeAt = %v, want %v", i, s.LastProbeAt, at)
				}
			}
		})
	}
}

func TestApplyProbeDetail(t *testing.T) {
	s := models.NetworkState{Status: models.HostStatusUnknown}
	th := DefaultThresholds()
	now := time.Now()

	applyProbe(&s, models.ProbeResult{Success: true, Target: "192.168.1.10", Latency: 3 * time.Millisecond, At: now}, th)
	if s.LastProbeTarget != "192.168.1.10" || s.LastLatency != 3*time.Millisecond || s.LastError != "" {
		t.Errorf("after success: target=%q latency=%v error=%q", s.LastProbeTarget, s.LastLatency, s.LastError)
	}

	applyProbe(&s, models.ProbeResult{Target: "192.168.1.11", Latency: time.Second, Error: "timeout", At: now}, th)
	if s.LastProbeTarget != "192.168.1.11" || s.LastLatency != 0 || s.LastError != "timeout" {
		t.Errorf("after failure: target=%q latency=%v error=%q", s.LastProbeTarget, s.LastLatency, s.LastError)
	}

	applyProbe(&s, models.ProbeResult{Success: true, Target: "192.168.1.10", Latency: time.Millisecond, At: now}, th)
	if s.LastError != "" {
		t.Errorf("LastError = %q, want cleared by success", s.LastError)
	}
}

func TestApplyProbeCounters(t *testing.T) {
	s := models.NetworkState{Status: models.HostStatusUnknown}
	th := DefaultThresholds()
	now := time.Now()

	applyProbe(&s, models.ProbeResult{Success: true, At: now}, th)
	applyProbe(&s, models.ProbeResult{Success: true, At: now}, th)
	if s.ConsecutiveSuccesses != 2 || s.ConsecutiveFailures != 0 {
		t.Errorf("after 2 successes: successes=%d failures=%d", s.ConsecutiveSuccesses, s.ConsecutiveFailures)
	}
	if s.LastOnlineAt == nil {
		t.Error("LastOnlineAt not set after coming online")
	}

	applyProbe(&s, models.ProbeResult{Success: false, At: now.Add(time.Second)}, th)
	if s.ConsecutiveSuccesses != 0 || s.ConsecutiveFailures != 1 {
		t.Errorf("after failure: successes=%d failures=%d", s.ConsecutiveSuccesses, s.ConsecutiveFailures)
	}
	if !s.LastOnlineAt.Equal(now) {
		t.Errorf("LastOnlineAt = %v, want %v (failures must not move it)", s.LastOnlineAt, now)
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"defaults", DefaultThresholds(), false},
		{"ones", Thresholds{1, 1}, false},
		{"zero success", Thresholds{0, 2}, true},
		{"zero failure", Thresholds{1, 0}, true},
		{"negative", Thresholds{-1, -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
