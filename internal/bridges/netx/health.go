package netx

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthReporter publishes periodic health status to MQTT.
type HealthReporter struct {
	deviceID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	tcp       Connector

	// httpHealthy is updated by the aggregator after each HTTP cycle.
	httpHealthy   bool
	httpHealthyMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// DeviceID identifies the thermostat in health messages and topics.
	DeviceID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status. Default: 30s.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// TCPClient provides session statistics.
	TCPClient Connector
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		deviceID:  cfg.DeviceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		tcp:       cfg.TCPClient,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetHTTPHealthy records whether the last HTTP poll cycle succeeded.
func (h *HealthReporter) SetHTTPHealthy(ok bool) {
	h.httpHealthyMu.Lock()
	h.httpHealthy = ok
	h.httpHealthyMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWT returns the health-topic Last Will registration for a device. The
// broker publishes the payload if the bridge dies without a graceful
// shutdown, so it must be handed to the MQTT client at connect time.
func LWT(deviceID string) (topic string, payload []byte, err error) {
	payload, err = json.Marshal(NewLWTMessage(deviceID))
	return HealthTopic(deviceID), payload, err
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status. The two pollers fail
// independently, so one healthy source is degraded, not unhealthy.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	tcpUp := h.tcp != nil && h.tcp.IsConnected()

	h.httpHealthyMu.RLock()
	httpUp := h.httpHealthy
	h.httpHealthyMu.RUnlock()

	switch {
	case tcpUp && httpUp:
		return HealthHealthy, ""
	case tcpUp:
		return HealthDegraded, "HTTP polling failing"
	case httpUp:
		return HealthDegraded, "TCP session down"
	default:
		return HealthUnhealthy, "no data source available"
	}
}

// publishStatus publishes one health message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var stats ClientStats
	if h.tcp != nil {
		stats = h.tcp.Stats()
	}

	h.httpHealthyMu.RLock()
	httpUp := h.httpHealthy
	h.httpHealthyMu.RUnlock()

	msg := NewHealthMessage(h.deviceID, h.version, status, stats, httpUp, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(HealthTopic(h.deviceID), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
