package netx

import (
	"time"

	"github.com/nerrad567/netx-core/internal/infrastructure/mqtt"
)

// MQTT message types for communication between NetX Core and its clients.
// Topics come from the shared infrastructure builders and follow the flat
// scheme netxcore/{category}/netx/{device}.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "netx"

// StateTopic returns the retained topic carrying DeviceState snapshots.
//
// Example: netxcore/state/netx/thermostat-main
func StateTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeState(Protocol, deviceID)
}

// CommandTopic returns the topic the bridge listens on for write intents.
func CommandTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeCommand(Protocol, deviceID)
}

// AckTopic returns the topic for command acknowledgements.
func AckTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeAck(Protocol, deviceID)
}

// HealthTopic returns the retained topic for bridge health status.
func HealthTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeHealth(Protocol, deviceID)
}

// StateMessage is published whenever the merged snapshot changes.
// QoS: 1, Retained: yes.
type StateMessage struct {
	// DeviceID identifies the thermostat this snapshot belongs to.
	DeviceID string `json:"device_id"`

	// Timestamp is when the snapshot was merged (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Protocol is the protocol identifier ("netx").
	Protocol string `json:"protocol"`

	// State is the merged snapshot.
	State DeviceState `json:"state"`
}

// CommandMessage is received on the command topic to request a write.
type CommandMessage struct {
	// ID uniquely identifies this command for ack correlation.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is the intent name, e.g. "set_hvac_mode", "set_heat_setpoint",
	// or "reboot" for a device restart via the web interface.
	Command string `json:"command"`

	// Parameters carries the intent's values:
	//   {"mode": "COOL"}                      set_hvac_mode
	//   {"fan": "AUTO"}                       set_fan_mode
	//   {"temperature": 68}                   set_heat_setpoint / set_cool_setpoint
	//   {"scale": "F"}                        set_scale
	//   {"mode": "HUM"}                       set_relay_mode
	//   {"mode": "IH", "setpoint": 50, "variance": 5}  set_humidification
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus is the acknowledgement outcome of a command.
type AckStatus string

// Acknowledgement statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage is published in response to a CommandMessage.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Error describes the failure; includes the device's raw reply when the
	// write was rejected on the wire.
	Error string `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

// Health statuses.
const (
	// HealthHealthy indicates both transports are up and polling.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates one data source is down; the other keeps
	// the snapshot partially fresh.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates no source is delivering data.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStopping is published during graceful shutdown.
	HealthStopping HealthStatus = "stopping"

	// HealthOffline is the LWT payload status on unclean death.
	HealthOffline HealthStatus = "offline"
)

// HealthMessage is published periodically on the health topic.
// QoS: 1, Retained: yes.
type HealthMessage struct {
	DeviceID  string       `json:"device_id"`
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   string       `json:"version"`
	UptimeSec int64        `json:"uptime_sec"`

	// Session reports the TCP command channel.
	Session SessionHealth `json:"session"`

	// HTTPHealthy reports the web polling side.
	HTTPHealthy bool `json:"http_healthy"`
}

// SessionHealth summarises the TCP session for health messages.
type SessionHealth struct {
	State           string    `json:"state"`
	CommandsTx      uint64    `json:"commands_tx"`
	RepliesRx       uint64    `json:"replies_rx"`
	Rejections      uint64    `json:"rejections"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
}

// NewHealthMessage builds a health message from current stats.
func NewHealthMessage(deviceID, version string, status HealthStatus, stats ClientStats, httpHealthy bool, startTime time.Time) HealthMessage {
	return HealthMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Version:   version,
		UptimeSec: int64(time.Since(startTime).Seconds()),
		Session: SessionHealth{
			State:           stats.State.String(),
			CommandsTx:      stats.CommandsTx,
			RepliesRx:       stats.RepliesRx,
			Rejections:      stats.Rejections,
			ErrorsTotal:     stats.ErrorsTotal,
			ReconnectsTotal: stats.ReconnectsTotal,
			LastActivity:    stats.LastActivity,
		},
		HTTPHealthy: httpHealthy,
	}
}

// NewLWTMessage builds the Last Will payload published by the broker if the
// bridge dies without a graceful shutdown.
func NewLWTMessage(deviceID string) HealthMessage {
	return HealthMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
