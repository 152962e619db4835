package netx

import (
	"fmt"
	"strconv"
)

// TCP wire commands. Read commands answer "CMD:payload"; write commands
// echo the command name and the accepted value on success.
const (
	cmdLogin = "WMLS1D" // WMLS1D{username},{token}

	// Reads.
	cmdGetScale            = "RTS1"   // temperature scale
	cmdGetAllStates        = "RAS1"   // composite state
	cmdGetHumidity         = "RRHS1"  // room humidity
	cmdGetOperationMode    = "RNS1"   // ON=manual, OFF=schedule
	cmdGetRelayMode        = "RMRF1"  // humidity relay functions
	cmdGetHumidification   = "RMHS1"  // mode,setpoint,variance
	cmdGetDehumidification = "RMDHS1" // mode,setpoint,variance
	cmdGetRelayState       = "RRS1"   // current relay state
	cmdGetOccupiedCool     = "ROC1"   // occupied cool setpoint
	cmdGetCoolStages       = "RCS1"   // cool stage configuration
	cmdGetSystemState      = "RSS1"   // system state

	// Writes, manual-mode family (WN prefix).
	cmdSetModeManual = "WNMS1D" // WNMS1D{OFF|HEAT|COOL|AUTO}
	cmdSetFanManual  = "WNFM1D" // WNFM1D{AUTO|ON}
	cmdSetHeatManual = "WNHD1D" // WNHD1D{temp}
	cmdSetCoolManual = "WNCD1D" // WNCD1D{temp}

	// Writes, schedule-mode family (setpoints apply as overrides).
	cmdSetModeSchedule = "WMS1D" // WMS1D{OFF|HEAT|COOL|AUTO}
	cmdSetFanSchedule  = "WFM1D" // WFM1D{AUTO|ON}
	cmdSetHeatOverride = "WOH1D" // WOH1D{temp}
	cmdSetCoolOverride = "WOC1D" // WOC1D{temp}

	// Writes, general family (valid in either operating mode).
	cmdSetScale            = "WTS1D"   // WTS1D{F|C}
	cmdSetRelayMode        = "WMRF1D"  // WMRF1D{OFF|HUM|DEHUM}
	cmdSetHumidification   = "WMHS1D"  // WMHS1D{IH|WH},{setpoint},{variance}
	cmdSetDehumidification = "WMDHS1D" // WMDHS1D{IC|WC},{setpoint},{variance}
)

// IntentKind identifies an abstract write intent.
type IntentKind int

// Write intents the bridge accepts.
const (
	IntentSetHVACMode IntentKind = iota
	IntentSetFanMode
	IntentSetHeatSetpoint
	IntentSetCoolSetpoint
	IntentSetScale
	IntentSetRelayMode
	IntentSetHumidification
	IntentSetDehumidification
)

// String returns the intent name used in logs and MQTT command messages.
func (k IntentKind) String() string {
	switch k {
	case IntentSetHVACMode:
		return "set_hvac_mode"
	case IntentSetFanMode:
		return "set_fan_mode"
	case IntentSetHeatSetpoint:
		return "set_heat_setpoint"
	case IntentSetCoolSetpoint:
		return "set_cool_setpoint"
	case IntentSetScale:
		return "set_scale"
	case IntentSetRelayMode:
		return "set_relay_mode"
	case IntentSetHumidification:
		return "set_humidification"
	case IntentSetDehumidification:
		return "set_dehumidification"
	default:
		return "unknown"
	}
}

// Intent is an abstract write request. Only the fields relevant to Kind are
// consulted.
type Intent struct {
	Kind IntentKind

	Mode     HVACMode
	Fan      FanMode
	Temp     int
	Scale    TemperatureScale
	Relay    RelayMode
	Humidity HumidityConfig
}

// commandPair holds the two mutually exclusive command prefixes for one
// intent. Which one is valid depends on the thermostat's live manual /
// schedule flag; the device rejects the wrong family.
type commandPair struct {
	manual   string
	schedule string
}

// forMode returns the prefix for the given operating mode.
func (p commandPair) forMode(manualActive bool) string {
	if manualActive {
		return p.manual
	}
	return p.schedule
}

// modeCommands is the two-state decision table for mode-dependent intents.
// General-family intents are not listed; they have a single prefix.
var modeCommands = map[IntentKind]commandPair{
	IntentSetHVACMode:     {manual: cmdSetModeManual, schedule: cmdSetModeSchedule},
	IntentSetFanMode:      {manual: cmdSetFanManual, schedule: cmdSetFanSchedule},
	IntentSetHeatSetpoint: {manual: cmdSetHeatManual, schedule: cmdSetHeatOverride},
	IntentSetCoolSetpoint: {manual: cmdSetCoolManual, schedule: cmdSetCoolOverride},
}

// WireCommand is a fully built command line plus the echo value used to
// validate the device's reply.
type WireCommand struct {
	// Line is the command without terminator, e.g. "WNMS1DCOOL".
	Line string

	// ExpectValue is the value the device must echo back for the write to
	// count as accepted. Empty means only the command-name echo is checked.
	ExpectValue string
}

// BuildCommand translates an intent into the concrete wire command, given
// the thermostat's current manual/schedule flag and its reported setpoint
// limits.
//
// Bound checks happen here, before anything touches the wire: an
// out-of-range setpoint or humidity value fails with ErrValidation and no
// network write is attempted.
func BuildCommand(intent Intent, manualActive bool, limits SetpointLimits) (WireCommand, error) {
	switch intent.Kind {
	case IntentSetHVACMode:
		if err := validHVACMode(intent.Mode); err != nil {
			return WireCommand{}, err
		}
		prefix := modeCommands[intent.Kind].forMode(manualActive)
		return WireCommand{Line: prefix + string(intent.Mode), ExpectValue: string(intent.Mode)}, nil

	case IntentSetFanMode:
		if intent.Fan != FanAuto && intent.Fan != FanOn {
			return WireCommand{}, fmt.Errorf("%w: fan mode %q", ErrValidation, intent.Fan)
		}
		prefix := modeCommands[intent.Kind].forMode(manualActive)
		return WireCommand{Line: prefix + string(intent.Fan), ExpectValue: string(intent.Fan)}, nil

	case IntentSetHeatSetpoint:
		if intent.Temp < limits.HeatMin || intent.Temp > limits.HeatMax {
			return WireCommand{}, fmt.Errorf("%w: heat setpoint %d outside device range %d-%d",
				ErrValidation, intent.Temp, limits.HeatMin, limits.HeatMax)
		}
		prefix := modeCommands[intent.Kind].forMode(manualActive)
		v := strconv.Itoa(intent.Temp)
		return WireCommand{Line: prefix + v, ExpectValue: v}, nil

	case IntentSetCoolSetpoint:
		if intent.Temp < limits.CoolMin || intent.Temp > limits.CoolMax {
			return WireCommand{}, fmt.Errorf("%w: cool setpoint %d outside device range %d-%d",
				ErrValidation, intent.Temp, limits.CoolMin, limits.CoolMax)
		}
		prefix := modeCommands[intent.Kind].forMode(manualActive)
		v := strconv.Itoa(intent.Temp)
		return WireCommand{Line: prefix + v, ExpectValue: v}, nil

	case IntentSetScale:
		if intent.Scale != ScaleFahrenheit && intent.Scale != ScaleCelsius {
			return WireCommand{}, fmt.Errorf("%w: temperature scale %q", ErrValidation, intent.Scale)
		}
		return WireCommand{Line: cmdSetScale + string(intent.Scale), ExpectValue: string(intent.Scale)}, nil

	case IntentSetRelayMode:
		switch intent.Relay {
		case RelayOff, RelayHum, RelayDehum:
		default:
			return WireCommand{}, fmt.Errorf("%w: relay mode %q", ErrValidation, intent.Relay)
		}
		return WireCommand{Line: cmdSetRelayMode + string(intent.Relay)}, nil

	case IntentSetHumidification:
		if err := validHumidityConfig(intent.Humidity, HumWithHeating, HumIndependentHeating); err != nil {
			return WireCommand{}, err
		}
		return WireCommand{Line: humidityCommand(cmdSetHumidification, intent.Humidity)}, nil

	case IntentSetDehumidification:
		if err := validHumidityConfig(intent.Humidity, DehumWithCooling, DehumIndependentCool); err != nil {
			return WireCommand{}, err
		}
		return WireCommand{Line: humidityCommand(cmdSetDehumidification, intent.Humidity)}, nil

	default:
		return WireCommand{}, fmt.Errorf("%w: unknown intent %d", ErrValidation, intent.Kind)
	}
}

// validHVACMode checks a requested HVAC mode against the accepted set.
func validHVACMode(m HVACMode) error {
	switch m {
	case HVACOff, HVACHeat, HVACCool, HVACAuto:
		return nil
	default:
		return fmt.Errorf("%w: hvac mode %q", ErrValidation, m)
	}
}

// validHumidityConfig checks a humidity program's control mode and bounds.
func validHumidityConfig(cfg HumidityConfig, allowed ...HumidityControlMode) error {
	ok := false
	for _, m := range allowed {
		if cfg.Mode == m {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: humidity control mode %q", ErrValidation, cfg.Mode)
	}
	if cfg.Setpoint < minHumiditySetpoint || cfg.Setpoint > maxHumiditySetpoint {
		return fmt.Errorf("%w: humidity setpoint %d outside %d-%d",
			ErrValidation, cfg.Setpoint, minHumiditySetpoint, maxHumiditySetpoint)
	}
	if cfg.Variance < minHumidityVariance || cfg.Variance > maxHumidityVariance {
		return fmt.Errorf("%w: humidity variance %d outside %d-%d",
			ErrValidation, cfg.Variance, minHumidityVariance, maxHumidityVariance)
	}
	return nil
}

// humidityCommand builds "{prefix}{mode},{setpoint},{variance}".
func humidityCommand(prefix string, cfg HumidityConfig) string {
	return fmt.Sprintf("%s%s,%d,%d", prefix, cfg.Mode, cfg.Setpoint, cfg.Variance)
}
