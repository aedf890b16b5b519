package metrics

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/time/rate"
)

// EndpointConfig tunes the /metrics endpoint handler.
type EndpointConfig struct {
	// CacheTTL bounds how often the underlying gatherer runs; responses
	// within the window are served from the cached encoding. Zero
	// disables caching.
	CacheTTL time.Duration

	// RateLimit caps scrape requests per second; RateBurst is the token
	// bucket's burst size. A zero RateLimit disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultEndpointConfig returns the endpoint defaults.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{CacheTTL: 1 * time.Second, RateLimit: 10, RateBurst: 20}
}

// EndpointHandler serves gathered metrics in the Prometheus text
// exposition format, with a short response cache so an aggressive scrape
// interval doesn't re-gather every collector each time.
type EndpointHandler struct {
	gatherer prometheus.Gatherer
	cfg      EndpointConfig
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu       sync.Mutex
	cached   []byte
	cachedAt time.Time
}

// NewEndpointHandler builds a handler over gatherer (typically
// prometheus.DefaultGatherer).
func NewEndpointHandler(gatherer prometheus.Gatherer, cfg EndpointConfig, logger *slog.Logger) *EndpointHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &EndpointHandler{gatherer: gatherer, cfg: cfg, limiter: limiter, logger: logger.With("component", "metrics_endpoint")}
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := h.body()
	if err != nil {
		h.logger.Error("gather metrics failed", "error", err)
		http.Error(w, "metrics gathering failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(body)
	}
}

func (h *EndpointHandler) body() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.CacheTTL > 0 && !h.cachedAt.IsZero() && time.Since(h.cachedAt) < h.cfg.CacheTTL {
		return h.cached, nil
	}

	families, err := h.gatherer.Gather()
	if err != nil {
		// A partial gather still returns the families it could collect;
		// serve those rather than failing the whole scrape.
		if len(families) == 0 {
			return nil, err
		}
		h.logger.Warn("partial metrics gather", "error", err)
	}

	body, err := encodeFamilies(families)
	if err != nil {
		return nil, err
	}

	h.cached = body
	h.cachedAt = time.Now()
	return body, nil
}

func encodeFamilies(families []*dto.MetricFamily) ([]byte, error) {
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
