package netx

import "time"

// HVACMode is the thermostat's configured mode.
type HVACMode string

// HVAC modes accepted by the thermostat.
const (
	HVACOff  HVACMode = "OFF"
	HVACHeat HVACMode = "HEAT"
	HVACCool HVACMode = "COOL"
	HVACAuto HVACMode = "AUTO"
)

// FanMode is the thermostat's fan setting.
type FanMode string

// Fan modes accepted by the thermostat.
const (
	FanAuto FanMode = "AUTO"
	FanOn   FanMode = "ON"
)

// OperatingStatus is what the equipment is actually doing right now.
// It may differ from HVACMode (e.g. AUTO mode currently cooling).
type OperatingStatus string

// Operating statuses reported by RAS1.
const (
	StatusOff  OperatingStatus = "OFF"
	StatusHeat OperatingStatus = "HEAT"
	StatusCool OperatingStatus = "COOL"
)

// TemperatureScale is the display scale configured on the thermostat.
type TemperatureScale string

// Temperature scales.
const (
	ScaleFahrenheit TemperatureScale = "F"
	ScaleCelsius    TemperatureScale = "C"
)

// RelayMode is the configured function of a humidity relay.
type RelayMode string

// Humidity relay modes.
const (
	RelayOff   RelayMode = "OFF"
	RelayHum   RelayMode = "HUM"
	RelayDehum RelayMode = "DEHUM"
)

// HumidityControlMode selects when a humidity relay is allowed to run.
type HumidityControlMode string

// Humidity control modes. Humidification pairs with heating (WH/IH),
// dehumidification pairs with cooling (WC/IC).
const (
	HumWithHeating        HumidityControlMode = "WH"
	HumIndependentHeating HumidityControlMode = "IH"
	DehumWithCooling      HumidityControlMode = "WC"
	DehumIndependentCool  HumidityControlMode = "IC"
)

// HumidityConfig holds a humidification or dehumidification program.
type HumidityConfig struct {
	Mode     HumidityControlMode `json:"mode"`
	Setpoint int                 `json:"setpoint"` // target %RH
	Variance int                 `json:"variance"` // +/- %RH
}

// CO2Status holds the readings from the optional CO2 module.
// A thermostat without the module has no CO2Status at all (nil in the
// snapshot), which is distinct from a module that is present but stale.
type CO2Status struct {
	Level        *int   `json:"level,omitempty"`       // ppm
	PeakLevel    *int   `json:"peak_level,omitempty"`  // ppm
	AlertLevel   *int   `json:"alert_level,omitempty"` // ppm
	InAlert      *bool  `json:"in_alert,omitempty"`
	Valid        *bool  `json:"valid,omitempty"`
	Type         string `json:"type,omitempty"`
	Display      string `json:"display,omitempty"`
	RelayHigh    string `json:"relay_high,omitempty"`
	RelayFailure string `json:"relay_failure,omitempty"`
	PeakReset    string `json:"peak_reset,omitempty"`
}

// SetpointLimits are the device-reported setpoint bounds. The nominal
// firmware defaults apply only until the device has reported its own.
type SetpointLimits struct {
	HeatMin int `json:"heat_min"`
	HeatMax int `json:"heat_max"`
	CoolMin int `json:"cool_min"`
	CoolMax int `json:"cool_max"`
}

// Nominal firmware defaults, used until device-reported bounds arrive.
const (
	defaultHeatMin = 35
	defaultHeatMax = 89
	defaultCoolMin = 42
	defaultCoolMax = 90
)

// Humidity configuration bounds (firmware-fixed, not device-reported).
const (
	minHumiditySetpoint = 10
	maxHumiditySetpoint = 90
	minHumidityVariance = 2
	maxHumidityVariance = 10
)

// DefaultSetpointLimits returns the nominal firmware bounds.
func DefaultSetpointLimits() SetpointLimits {
	return SetpointLimits{
		HeatMin: defaultHeatMin,
		HeatMax: defaultHeatMax,
		CoolMin: defaultCoolMin,
		CoolMax: defaultCoolMax,
	}
}

// Source identifies which transport a field was last read from.
type Source string

// Field sources.
const (
	SourceTCP  Source = "tcp"
	SourceHTTP Source = "http"
)

// Field names the aggregator tracks freshness for. One entry per
// authoritative-source group, not per struct member.
type Field string

// Tracked fields.
const (
	FieldClimate  Field = "climate"  // RAS1 group: temps, modes, setpoints, stage
	FieldScale    Field = "scale"    // RTS1
	FieldHumidity Field = "humidity" // RRHS1 / index.xml humidity
	FieldOpMode   Field = "op_mode"  // RNS1 manual/schedule flag
	FieldRelays   Field = "relays"   // RMRF1 + RRS1
	FieldHumCfg   Field = "hum_cfg"  // RMHS1 + RMDHS1
	FieldStatus   Field = "status"   // index.xml document
	FieldCO2      Field = "co2"      // co2.json
)

// FieldStamp records when and from where a field group was last refreshed.
type FieldStamp struct {
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceState is the merged, immutable snapshot of the thermostat.
//
// Optional numeric fields are pointers: nil means the source reported a
// "not present" sentinel (NA, --, HTTP 404), never a fabricated zero.
// Snapshots are replaced wholesale on every merge cycle; callers receive
// copies and must not share them back.
type DeviceState struct {
	IndoorTemp  *float64 `json:"indoor_temp,omitempty"`
	OutdoorTemp *float64 `json:"outdoor_temp,omitempty"`

	HVACMode HVACMode `json:"hvac_mode,omitempty"`
	FanMode  FanMode  `json:"fan_mode,omitempty"`

	OverrideActive bool `json:"override_active"`
	RecoveryActive bool `json:"recovery_active"`

	CoolSetpoint *int `json:"cool_setpoint,omitempty"`
	HeatSetpoint *int `json:"heat_setpoint,omitempty"`

	OperatingStatus OperatingStatus `json:"operating_status,omitempty"`
	Stage           *int            `json:"stage,omitempty"`
	Event           string          `json:"event,omitempty"`

	// ManualModeActive selects which write-command family is valid.
	ManualModeActive bool `json:"manual_mode_active"`

	Humidity *int `json:"humidity,omitempty"`

	Relay1Mode RelayMode `json:"relay1_mode,omitempty"`
	Relay2Mode RelayMode `json:"relay2_mode,omitempty"`
	RelayState string    `json:"relay_state,omitempty"`

	Humidification   *HumidityConfig `json:"humidification,omitempty"`
	Dehumidification *HumidityConfig `json:"dehumidification,omitempty"`

	CO2 *CO2Status `json:"co2,omitempty"`

	Scale TemperatureScale `json:"scale,omitempty"`

	// From the HTTP status document.
	ScheduleStatus string `json:"schedule_status,omitempty"`
	SystemStatus   string `json:"system_status,omitempty"`

	Limits SetpointLimits `json:"limits"`

	Freshness map[Field]FieldStamp `json:"freshness,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Idle reports whether the equipment is at setpoint (stage 0).
// Returns false when the stage has never been read.
func (s *DeviceState) Idle() bool {
	return s.Stage != nil && *s.Stage == 0
}

// FieldFresh reports whether a field group was refreshed within staleAfter
// of now. A field that has never been read is not fresh.
func (s *DeviceState) FieldFresh(f Field, now time.Time, staleAfter time.Duration) bool {
	stamp, ok := s.Freshness[f]
	if !ok {
		return false
	}
	return now.Sub(stamp.UpdatedAt) <= staleAfter
}

// stamp records a field group's refresh time and source.
func (s *DeviceState) stamp(f Field, fs FieldStamp) {
	if s.Freshness == nil {
		s.Freshness = make(map[Field]FieldStamp)
	}
	s.Freshness[f] = fs
}

// clone returns a deep copy. The aggregator hands clones to subscribers so
// no caller can mutate the merge-owned state.
func (s *DeviceState) clone() DeviceState {
	out := *s

	out.IndoorTemp = cloneFloat(s.IndoorTemp)
	out.OutdoorTemp = cloneFloat(s.OutdoorTemp)
	out.CoolSetpoint = cloneInt(s.CoolSetpoint)
	out.HeatSetpoint = cloneInt(s.HeatSetpoint)
	out.Stage = cloneInt(s.Stage)
	out.Humidity = cloneInt(s.Humidity)

	if s.Humidification != nil {
		h := *s.Humidification
		out.Humidification = &h
	}
	if s.Dehumidification != nil {
		d := *s.Dehumidification
		out.Dehumidification = &d
	}
	if s.CO2 != nil {
		c := *s.CO2
		c.Level = cloneInt(s.CO2.Level)
		c.PeakLevel = cloneInt(s.CO2.PeakLevel)
		c.AlertLevel = cloneInt(s.CO2.AlertLevel)
		c.InAlert = cloneBool(s.CO2.InAlert)
		c.Valid = cloneBool(s.CO2.Valid)
		out.CO2 = &c
	}

	out.Freshness = make(map[Field]FieldStamp, len(s.Freshness))
	for k, v := range s.Freshness {
		out.Freshness[k] = v
	}

	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// TCPFragment is the parsed output of one TCP poll sequence, prior to merge.
// Pointer fields follow the same absent-vs-zero convention as DeviceState.
type TCPFragment struct {
	IndoorTemp      *float64
	OutdoorTemp     *float64
	HVACMode        HVACMode
	FanMode         FanMode
	OverrideActive  bool
	RecoveryActive  bool
	CoolSetpoint    *int
	HeatSetpoint    *int
	OperatingStatus OperatingStatus
	Stage           *int
	Event           string

	Scale            *TemperatureScale
	Humidity         *int
	ManualModeActive *bool
	Relay1Mode       RelayMode
	Relay2Mode       RelayMode
	RelayState       string
	Humidification   *HumidityConfig
	Dehumidification *HumidityConfig

	FetchedAt time.Time
}

// StatusFragment is the parsed index.xml document, prior to merge.
type StatusFragment struct {
	IndoorTemp   *float64
	OutdoorTemp  *float64
	Humidity     *int
	HVACMode     HVACMode
	FanMode      FanMode
	HeatSetpoint *int
	CoolSetpoint *int

	ScheduleStatus string
	SystemStatus   string

	// Device-reported setpoint bounds (ul_occ_* / l_occ_* elements).
	// nil when the document omits them.
	Limits *SetpointLimits

	FetchedAt time.Time
}

// CO2Fragment is the parsed co2.json document, prior to merge.
type CO2Fragment struct {
	Status    CO2Status
	FetchedAt time.Time
}
