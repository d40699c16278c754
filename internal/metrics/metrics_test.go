package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Epochs.WithLabelValues("stats").Inc()
	m.TrackedFlows.WithLabelValues("stats", "old").Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Epochs.WithLabelValues("stats")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ns_stats_epochs_total{table="stats"} 1`)
	assert.Contains(t, string(body), `ns_stats_tracked_flows{map="old",table="stats"} 3`)
}
