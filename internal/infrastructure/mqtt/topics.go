package mqtt

import "fmt"

// Topic prefixes for the NetX Core MQTT namespace.
//
// All bridge topics use the flat scheme: netxcore/{category}/{protocol}/{device}
// This matches the NetX bridge's messages.go and all runtime subscribers.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: netxcore/{category}/{protocol}/{device_id}
	TopicPrefixBridge = "netxcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "netxcore/system"
)

// Topics provides builders for NetX Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Bridge topics use the flat scheme matching the NetX bridge's messages.go:
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("netx", "thermostat-hall")
//	// Returns: "netxcore/state/netx/thermostat-hall"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: netxcore/state/netx/thermostat-hall
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: netxcore/command/netx/thermostat-hall
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: netxcore/ack/netx/thermostat-hall
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: netxcore/health/netx/thermostat-hall
func (Topics) BridgeHealth(protocol, deviceID string) string {
	return fmt.Sprintf("%s/health/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: netxcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic. A message here stops
// the daemon the same way an interrupt signal does.
//
// Example: netxcore/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}
