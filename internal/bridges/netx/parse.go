package netx

import (
	"fmt"
	"strconv"
	"strings"
)

// Literal error tokens the thermostat uses to refuse a command.
var errorReplies = map[string]bool{
	"BAD COMMAND": true,
	"ERROR":       true,
	"?":           true,
}

// isErrorReply reports whether a reply line is one of the device's literal
// rejection tokens.
func isErrorReply(line string) bool {
	return errorReplies[strings.TrimSpace(line)]
}

// stripPrefix removes "CMD:" from a reply, returning the payload and whether
// the reply matched the expected command echo.
func stripPrefix(reply, cmd string) (string, bool) {
	prefix := cmd + ":"
	if !strings.HasPrefix(reply, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(reply, prefix)), true
}

// parseTemp parses a temperature value, mapping the device's "not connected"
// sentinels (NA, N/A, --, empty) to nil rather than zero.
func parseTemp(s string) *float64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "", "NA", "N/A", "--":
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseOptionalInt parses an integer field, degrading to nil on malformed
// input or a sentinel instead of failing the whole fragment.
func parseOptionalInt(s string) *int {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "NA", "N/A", "--":
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// parseOptionalBool coerces the textual booleans the device uses
// ("true"/"false", "YES"/"NO", "1"/"0").
func parseOptionalBool(s string) *bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "YES", "Y", "1", "ON":
		v := true
		return &v
	case "FALSE", "NO", "N", "0", "OFF":
		v := false
		return &v
	}
	return nil
}

// parseYesNo is parseOptionalBool for mandatory flags; unknown text is false.
func parseYesNo(s string) bool {
	v := parseOptionalBool(s)
	return v != nil && *v
}

// minRAS1Parts is the field count of a complete RAS1 reply:
// indoor,outdoor,mode,fan,override,recovery,spcool,spheat,opstatus,stage,event
const minRAS1Parts = 11

// parseRAS1 parses the composite state reply payload (prefix already
// stripped).
//
// Example: "70,NA,HEAT,FAN AUTO,NO,NO,77,68,HEAT,1,NONE"
func parseRAS1(payload string, frag *TCPFragment) error {
	parts := strings.Split(payload, ",")
	if len(parts) < minRAS1Parts {
		return fmt.Errorf("%w: RAS1 has %d fields, want %d", ErrProtocolError, len(parts), minRAS1Parts)
	}

	frag.IndoorTemp = parseTemp(parts[0])
	frag.OutdoorTemp = parseTemp(parts[1])
	frag.HVACMode = HVACMode(strings.ToUpper(strings.TrimSpace(parts[2])))

	// The fan field varies by firmware: "FAN ON", "FAN AUTO", or bare
	// "ON"/"AUTO". Anything containing ON is ON.
	if strings.Contains(strings.ToUpper(parts[3]), "ON") {
		frag.FanMode = FanOn
	} else {
		frag.FanMode = FanAuto
	}

	frag.OverrideActive = parseYesNo(parts[4])
	frag.RecoveryActive = parseYesNo(parts[5])
	frag.CoolSetpoint = parseOptionalInt(parts[6])
	frag.HeatSetpoint = parseOptionalInt(parts[7])
	frag.OperatingStatus = OperatingStatus(strings.ToUpper(strings.TrimSpace(parts[8])))
	frag.Stage = parseOptionalInt(parts[9])

	if event := strings.TrimSpace(parts[10]); !strings.EqualFold(event, "NONE") {
		frag.Event = event
	}

	return nil
}

// parseScale parses an RTS1 payload ("FAHRENHEIT" or "CELSIUS").
func parseScale(payload string) TemperatureScale {
	if strings.Contains(strings.ToUpper(payload), "FAHRENHEIT") {
		return ScaleFahrenheit
	}
	return ScaleCelsius
}

// parseManualMode parses an RNS1 payload: ON means manual mode, OFF means
// the thermostat is following its schedule.
func parseManualMode(payload string) bool {
	return strings.EqualFold(strings.TrimSpace(payload), "ON")
}

// parseRelayModes parses an RMRF1 payload ("OFF,OFF", "HUM,OFF", ...).
func parseRelayModes(payload string, frag *TCPFragment) {
	parts := strings.Split(payload, ",")
	if len(parts) >= 1 {
		frag.Relay1Mode = RelayMode(strings.ToUpper(strings.TrimSpace(parts[0])))
	}
	if len(parts) >= 2 {
		frag.Relay2Mode = RelayMode(strings.ToUpper(strings.TrimSpace(parts[1])))
	}
}

// parseHumidityConfig parses an RMHS1/RMDHS1 payload: "{mode},{setpoint},{variance}"
// e.g. "WH,50,5" or "IC,55,5".
func parseHumidityConfig(payload string) (*HumidityConfig, error) {
	parts := strings.Split(payload, ",")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: humidity config has %d fields, want 3", ErrProtocolError, len(parts))
	}

	setpoint, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: humidity setpoint %q: %w", ErrProtocolError, parts[1], err)
	}
	variance, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, fmt.Errorf("%w: humidity variance %q: %w", ErrProtocolError, parts[2], err)
	}

	return &HumidityConfig{
		Mode:     HumidityControlMode(strings.ToUpper(strings.TrimSpace(parts[0]))),
		Setpoint: setpoint,
		Variance: variance,
	}, nil
}

// validateWriteEcho checks a write reply against the command that was sent.
//
// A successful write echoes the command name and the accepted value:
// "WNHD1D70" is answered with "WNHD1D70:70". Anything else is a rejected
// write.
func validateWriteEcho(cmd, reply, expectValue string) error {
	if isErrorReply(reply) {
		return fmt.Errorf("%w: %q", ErrCommandRejected, reply)
	}

	name, value, found := strings.Cut(reply, ":")
	if !found {
		return fmt.Errorf("%w: no echo in reply %q", ErrCommandRejected, reply)
	}

	// The echoed name carries the written value appended to the command
	// prefix, so match on prefix rather than equality.
	prefix, _, _ := strings.Cut(cmd, "D")
	if !strings.HasPrefix(name, prefix) {
		return fmt.Errorf("%w: echo %q does not match command %q", ErrCommandRejected, reply, cmd)
	}

	if expectValue != "" && strings.TrimSpace(value) != expectValue {
		return fmt.Errorf("%w: device accepted %q, requested %q", ErrCommandRejected, strings.TrimSpace(value), expectValue)
	}

	return nil
}
