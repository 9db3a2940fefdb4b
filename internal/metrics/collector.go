package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
)

// Recorder receives one call per completed filesystem operation.
type Recorder interface {
	RecordOperation(operation, provider string, duration time.Duration, bytes int64, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordOperation(string, string, time.Duration, int64, error) {}
func (Noop) ClientConstructed(string, time.Duration, error)             {}
func (Noop) ClientDisposed(string)                                      {}
func (Noop) ClientInvalidated(string, string)                           {}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// DefaultConfig returns an enabled config serving /metrics on :9464.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Address:   ":9464",
		Path:      "/metrics",
		Namespace: "gvfs",
	}
}

// OperationMetrics tracks one operation per provider.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalBytes    int64         `json:"total_bytes"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// Collector exports operation and client cache metrics to Prometheus. It
// implements Recorder and the client cache observer.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationBytes    *prometheus.CounterVec
	clientConstructs  *prometheus.CounterVec
	clientLive        *prometheus.GaugeVec
	clientInvalidates *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{
		config:     config,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Registry returns the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoint and a JSON operation summary.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/debug/operations", c.operationsHandler)
	return mux
}

// Start serves Handler on the configured address until Stop or ctx ends.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Address == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:              c.config.Address,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("addr", c.config.Address).Error("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()
	return nil
}

// Stop stops the metrics server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation implements Recorder.
func (c *Collector) RecordOperation(operation, provider string, duration time.Duration, bytes int64, err error) {
	if provider == "" {
		provider = "none"
	}
	status := statusOf(err)

	c.mu.Lock()
	key := operation + "/" + provider
	m, ok := c.operations[key]
	if !ok {
		m = &OperationMetrics{}
		c.operations[key] = m
	}
	m.Count++
	if err != nil {
		m.Errors++
	}
	m.TotalDuration += duration
	m.TotalBytes += bytes
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"provider":  provider,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
		"provider":  provider,
	}).Observe(duration.Seconds())
	if bytes > 0 {
		c.operationBytes.With(prometheus.Labels{
			"operation": operation,
			"provider":  provider,
		}).Add(float64(bytes))
	}
}

// ClientConstructed records a backend client construction attempt.
func (c *Collector) ClientConstructed(provider string, took time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.clientConstructs.With(prometheus.Labels{"provider": provider, "status": statusOf(err)}).Inc()
	if err == nil {
		c.clientLive.With(prometheus.Labels{"provider": provider}).Inc()
	}
}

// ClientDisposed records a backend client being closed.
func (c *Collector) ClientDisposed(provider string) {
	if !c.config.Enabled {
		return
	}
	c.clientLive.With(prometheus.Labels{"provider": provider}).Dec()
}

// ClientInvalidated records a backend client leaving the cache.
func (c *Collector) ClientInvalidated(provider, reason string) {
	if !c.config.Enabled {
		return
	}
	c.clientInvalidates.With(prometheus.Labels{"provider": provider, "reason": reason}).Inc()
}

// Operations returns a copy of the per operation and provider counters,
// keyed "operation/provider".
func (c *Collector) Operations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics clears the operation summary. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("operations_total", "Total number of filesystem operations")),
		[]string{"operation", "provider", "status"},
	)

	durOpts := opts("operation_duration_seconds", "Duration of filesystem operations in seconds")
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   durOpts.Namespace,
			Subsystem:   durOpts.Subsystem,
			Name:        durOpts.Name,
			Help:        durOpts.Help,
			ConstLabels: durOpts.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation", "provider"},
	)

	c.operationBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("operation_bytes_total", "Bytes moved by filesystem operations")),
		[]string{"operation", "provider"},
	)

	c.clientConstructs = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("client_constructions_total", "Backend client construction attempts")),
		[]string{"provider", "status"},
	)

	c.clientLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("clients_live", "Backend clients constructed and not yet closed")),
		[]string{"provider"},
	)

	c.clientInvalidates = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("client_invalidations_total", "Backend clients removed from the cache")),
		[]string{"provider", "reason"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationBytes,
		c.clientConstructs,
		c.clientLive,
		c.clientInvalidates,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) operationsHandler(w http.ResponseWriter, r *http.Request) {
	ops := c.Operations()
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type row struct {
		Operation string `json:"operation"`
		Provider  string `json:"provider"`
		OperationMetrics
	}
	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		op, provider, _ := strings.Cut(k, "/")
		rows = append(rows, row{Operation: op, Provider: provider, OperationMetrics: ops[k]})
	}

	c.mu.RLock()
	since := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"since":      since,
		"operations": rows,
	})
}

// statusOf turns an error into a low-cardinality label value.
func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := vfserrors.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
