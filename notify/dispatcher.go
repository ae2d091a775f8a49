package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sentinel/core"
	"sentinel/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Result describes the outcome of a single delivery attempt. Skipped
// means no message was sent but the delivery still counts as handled,
// with Detail recording why (recipient opted out, non-critical on a
// critical-only channel).
type Result struct {
	Skipped bool
	Detail  string
}

// Dispatcher sends one notification to one recipient over one channel.
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	Type() core.ChannelType
	Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error)
}

// HTTPStatusError carries the status code of a non-2xx response so retry
// logic can tell permanent rejections from transient failures.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// StatusCode returns the HTTP status of the failed request.
func (e *HTTPStatusError) StatusCode() int {
	return e.Code
}

// Registry routes deliveries to the dispatcher for each channel type and
// wraps every external send in a per-channel rate limiter and circuit
// breaker keyed by channel ID.
type Registry struct {
	dispatchers map[core.ChannelType]Dispatcher
	logger      *zap.SugaredLogger

	cbMu     sync.RWMutex
	breakers map[string]*core.CircuitBreaker

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	rateCfg  RateConfig
}

// RateConfig bounds outbound sends per channel.
type RateConfig struct {
	PerSecond float64
	Burst     int
}

// DefaultRateConfig allows 10 sends per second with a burst of 20 per
// channel, enough for company-wide fan-out without tripping provider
// limits.
func DefaultRateConfig() RateConfig {
	return RateConfig{PerSecond: 10, Burst: 20}
}

// NewRegistry creates a dispatcher registry with the given rate limits.
func NewRegistry(rateCfg RateConfig, logger *zap.SugaredLogger) *Registry {
	if rateCfg.PerSecond <= 0 {
		rateCfg = DefaultRateConfig()
	}
	return &Registry{
		dispatchers: make(map[core.ChannelType]Dispatcher),
		logger:      logger,
		breakers:    make(map[string]*core.CircuitBreaker),
		limiters:    make(map[string]*rate.Limiter),
		rateCfg:     rateCfg,
	}
}

// Register adds a dispatcher for its channel type, replacing any previous
// one.
func (r *Registry) Register(d Dispatcher) {
	r.dispatchers[d.Type()] = d
}

// Get returns the dispatcher for a channel type.
func (r *Registry) Get(channelType core.ChannelType) (Dispatcher, error) {
	d, ok := r.dispatchers[channelType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownChannelType, channelType)
	}
	return d, nil
}

func (r *Registry) circuitBreaker(channelID string) *core.CircuitBreaker {
	r.cbMu.RLock()
	cb, exists := r.breakers[channelID]
	r.cbMu.RUnlock()
	if exists {
		return cb
	}

	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	if cb, exists := r.breakers[channelID]; exists {
		return cb
	}

	cb = core.MustNewCircuitBreaker(core.DefaultCircuitBreakerConfig())
	r.breakers[channelID] = cb
	return cb
}

func (r *Registry) limiter(channelID string) *rate.Limiter {
	r.limMu.Lock()
	defer r.limMu.Unlock()
	lim, exists := r.limiters[channelID]
	if !exists {
		lim = rate.NewLimiter(rate.Limit(r.rateCfg.PerSecond), r.rateCfg.Burst)
		r.limiters[channelID] = lim
	}
	return lim
}

// Deliver sends a notification to a recipient through a channel,
// applying the channel's rate limit and circuit breaker. Skipped results
// do not touch the breaker.
func (r *Registry) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	dispatcher, err := r.Get(channel.Type)
	if err != nil {
		return Result{}, err
	}

	cb := r.circuitBreaker(channel.ID)
	if err := cb.Allow(); err != nil {
		return Result{}, fmt.Errorf("channel %s: %w", channel.Name, err)
	}

	if err := r.limiter(channel.ID).Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait for channel %s: %w", channel.Name, err)
	}

	start := time.Now()
	result, err := dispatcher.Deliver(ctx, channel, notification, recipient)
	metrics.DispatchDuration.WithLabelValues(string(channel.Type)).Observe(time.Since(start).Seconds())

	if result.Skipped {
		return result, err
	}
	if err != nil {
		cb.RecordFailure()
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}

// httpClient builds the client used by the HTTP-based dispatchers.
// Certificate validation stays on.
func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}
