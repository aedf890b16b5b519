package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEndpoint(t *testing.T, ttl time.Duration) (*EndpointHandler, *MetricsRegistry) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	reg := NewMetricsRegistry(Namespace, promReg)
	return NewEndpointHandler(promReg, EndpointConfig{CacheTTL: ttl}, nil), reg
}

func TestEndpointServesTextExposition(t *testing.T) {
	handler, reg := newTestEndpoint(t, 0)
	reg.Business().OperationsExecutedTotal.WithLabelValues("delete", "success").Inc()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "tieba_mod_business_operations_executed_total")
	assert.Contains(t, rec.Body.String(), `type="delete"`)
}

func TestEndpointRejectsNonGet(t *testing.T) {
	handler, _ := newTestEndpoint(t, 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEndpointHeadOmitsBody(t *testing.T) {
	handler, _ := newTestEndpoint(t, 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEndpointCachesWithinTTL(t *testing.T) {
	handler, reg := newTestEndpoint(t, time.Minute)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	first := rec.Body.String()

	// A counter bumped after the first scrape is invisible until the TTL
	// elapses.
	reg.Business().ConfirmEnqueuedTotal.WithLabelValues("alice").Inc()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, first, rec.Body.String())

	handler.cachedAt = time.Now().Add(-2 * time.Minute)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `tieba_mod_business_confirm_enqueued_total{user="alice"}`)
}

func TestEndpointRateLimits(t *testing.T) {
	promReg := prometheus.NewRegistry()
	handler := NewEndpointHandler(promReg, EndpointConfig{RateLimit: 1, RateBurst: 1}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
