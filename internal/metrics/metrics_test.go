package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HerbHall/wolo/pkg/models"
)

func TestRecordProbe(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordProbe(true, 10*time.Millisecond)
	m.RecordProbe(false, time.Second)
	m.RecordProbe(false, time.Second)

	if got := testutil.ToFloat64(m.Probes.WithLabelValues("success")); got != 1 {
		t.Errorf("success probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Probes.WithLabelValues("failure")); got != 2 {
		t.Errorf("failure probes = %v, want 2", got)
	}
}

func TestUpdateHostCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.UpdateHostCounts(map[models.HostStatus]int{
		models.HostStatusOnline:  3,
		models.HostStatusOffline: 1,
	})

	if got := testutil.ToFloat64(m.Hosts.WithLabelValues("online")); got != 3 {
		t.Errorf("online = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Hosts.WithLabelValues("unknown")); got != 0 {
		t.Errorf("unknown = %v, want 0", got)
	}
}

func TestRecordWake(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordWake("partial", 2, 1)

	if got := testutil.ToFloat64(m.WakeRequests.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WakePackets.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent packets = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WakePackets.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed packets = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordProbe(true, time.Second)
	m.RecordCycle(time.Second)
	m.RecordTransition(models.HostStatusOnline)
	m.UpdateHostCounts(nil)
	m.RecordWake("sent", 1, 0)
	m.RecordSourceWarning("hosts")
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
