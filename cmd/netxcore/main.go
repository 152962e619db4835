// NetX Core - Networked Thermostat Bridge
//
// This is the main entry point for the NetX Core application.
// NetX Core bridges NetX thermostats onto an MQTT message bus:
//   - Authenticated TCP command session (port 10001)
//   - HTTP status and CO2 document polling
//   - Merged device state published as retained MQTT messages
//   - Command intake with per-command acknowledgements
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/netx-core/internal/bridges/netx"
	"github.com/nerrad567/netx-core/internal/infrastructure/config"
	"github.com/nerrad567/netx-core/internal/infrastructure/logging"
	"github.com/nerrad567/netx-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Cancellable so a remote shutdown request can stop the daemon too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NetX Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if !cfg.Protocols.NetX.Enabled {
		return fmt.Errorf("protocols.netx.enabled is false, nothing to do")
	}

	// Register the bridge's health topic as the Last Will so the broker
	// marks the thermostat offline if the daemon dies uncleanly.
	lwtTopic, lwtPayload, err := netx.LWT(cfg.Protocols.NetX.DeviceID)
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.ConnectWithWill(cfg.MQTT, mqtt.WillConfig{
		Topic:    lwtTopic,
		Payload:  lwtPayload,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// A message on the system shutdown topic stops the daemon the same way
	// an interrupt signal does.
	if err := mqttClient.Subscribe(mqtt.Topics{}.SystemShutdown(), 1, func(string, []byte) error {
		log.Info("shutdown requested over MQTT")
		cancel()
		return nil
	}); err != nil {
		return fmt.Errorf("subscribing to shutdown topic: %w", err)
	}

	// Start the thermostat bridge
	bridge, err := startNetXBridge(ctx, cfg, mqttClient, log)
	if err != nil {
		return fmt.Errorf("starting NetX bridge: %w", err)
	}
	defer func() {
		log.Info("stopping NetX bridge")
		bridge.Stop()
	}()

	// Verify MQTT is still healthy after startup
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	log.Info("NetX Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NETXCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NETXCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// netxBridge bundles the bridge components so the caller can stop them
// together in the right order.
type netxBridge struct {
	tcp        *netx.Client
	aggregator *netx.Aggregator
	health     *netx.HealthReporter
	log        *logging.Logger
}

// Stop shuts down the bridge components in dependency order: the health
// reporter publishes its stopping status while the session is still up,
// then the pollers stop, then the TCP session closes.
func (b *netxBridge) Stop() {
	b.health.Stop()
	b.aggregator.Stop()
	if err := b.tcp.Close(); err != nil {
		b.log.Error("error closing TCP session", "error", err)
	}
}

// startNetXBridge wires the TCP client, HTTP poller, aggregator, and health
// reporter together and starts them.
//
// Parameters:
//   - ctx: Context for connection/cancellation
//   - cfg: Application configuration
//   - mqttClient: MQTT client for publishing/subscribing
//   - log: Logger instance
//
// Returns:
//   - *netxBridge: Running bridge components
//   - error: If any component fails to start
func startNetXBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (*netxBridge, error) {
	netxCfg := cfg.Protocols.NetX

	// TCP session to the thermostat's command port
	tcpClient := netx.NewClient(netx.ClientConfig{
		Host:               netxCfg.Host,
		Port:               netxCfg.TCP.Port,
		Username:           netxCfg.TCP.Username,
		Password:           netxCfg.TCP.Password,
		ConnectTimeout:     netxCfg.TCP.ConnectTimeout,
		CommandTimeout:     netxCfg.TCP.CommandTimeout,
		ReconnectInterval:  netxCfg.TCP.ReconnectInterval,
		MaxConnectAttempts: netxCfg.TCP.MaxConnectAttempts,
	})
	tcpClient.SetLogger(log)

	if err := tcpClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to thermostat: %w", err)
	}
	log.Info("thermostat TCP session established",
		"host", netxCfg.Host,
		"port", netxCfg.TCP.Port,
	)

	// HTTP poller for the status and CO2 documents
	poller := netx.NewPoller(netx.PollerConfig{
		Host:     netxCfg.Host,
		Username: netxCfg.HTTP.Username,
		Password: netxCfg.HTTP.Password,
		Timeout:  netxCfg.HTTP.Timeout,
	})

	// Create MQTT adapter to satisfy the bridge interface
	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	aggregator, err := netx.NewAggregator(netx.AggregatorOptions{
		Config: netx.AggregatorConfig{
			DeviceID:         netxCfg.DeviceID,
			TCPPollInterval:  netxCfg.TCP.PollInterval,
			HTTPPollInterval: netxCfg.HTTP.PollInterval,
		},
		TCP:    tcpClient,
		HTTP:   poller,
		MQTT:   mqttAdapter,
		Logger: log,
	})
	if err != nil {
		_ = tcpClient.Close()
		return nil, fmt.Errorf("creating aggregator: %w", err)
	}

	// Health reporter publishes bridge status to the health topic
	health := netx.NewHealthReporter(netx.HealthReporterConfig{
		DeviceID:  netxCfg.DeviceID,
		Version:   version,
		Publisher: mqttAdapter,
		TCPClient: tcpClient,
	})
	health.SetLogger(log)
	aggregator.SetHTTPStatusCallback(health.SetHTTPHealthy)

	if err := aggregator.Start(ctx); err != nil {
		_ = tcpClient.Close()
		return nil, fmt.Errorf("starting aggregator: %w", err)
	}

	health.Start(ctx)
	if err := health.PublishNow(); err != nil {
		log.Error("failed to publish initial health status", "error", err)
	}

	log.Info("NetX bridge started", "device_id", netxCfg.DeviceID)

	return &netxBridge{
		tcp:        tcpClient,
		aggregator: aggregator,
		health:     health,
		log:        log,
	}, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the NetX
// bridge's MQTTClient interface. The primary difference is the Subscribe
// handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - NetX bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements netx.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements netx.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements netx.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
