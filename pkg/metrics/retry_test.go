package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMetricsRecorders(t *testing.T) {
	promReg := prometheus.NewRegistry()
	rm := NewRetryMetrics(Namespace, promReg)

	rm.RecordAttempt("get_threads", "failure", "timeout", 0.25)
	rm.RecordAttempt("get_threads", "failure", "timeout", 0.30)
	rm.RecordAttempt("get_threads", "success", "none", 0.10)
	rm.RecordBackoff("get_threads", 0.2)
	rm.RecordFinalAttempt("get_threads", "success", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(rm.AttemptsTotal.WithLabelValues("get_threads", "failure", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.AttemptsTotal.WithLabelValues("get_threads", "success", "none")))

	families, err := promReg.Gather()
	require.NoError(t, err)

	var sawBackoff, sawFinal bool
	for _, f := range families {
		switch f.GetName() {
		case "tieba_mod_technical_retry_backoff_seconds":
			sawBackoff = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
		case "tieba_mod_technical_retry_final_attempts":
			sawFinal = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, 3.0, f.GetMetric()[0].GetHistogram().GetSampleSum())
		}
	}
	assert.True(t, sawBackoff)
	assert.True(t, sawFinal)
}
