package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunsTotal.WithLabelValues("job-a", "succeeded").Inc()

	count := testutil.ToFloat64(m.RunsTotal.WithLabelValues("job-a", "succeeded"))
	if count != 1 {
		t.Errorf("expected 1 run recorded, got %v", count)
	}
}

func TestTwoIndependentRegistriesDoNotShareState(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RetriesTotal.WithLabelValues("job-a").Inc()

	if got := testutil.ToFloat64(b.RetriesTotal.WithLabelValues("job-a")); got != 0 {
		t.Errorf("registries should be isolated, got %v on the second registry", got)
	}
}
