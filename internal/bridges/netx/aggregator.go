package netx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Aggregator defaults. Poll intervals are deliberately conservative: the
// thermostat's embedded TCP stack handles one request at a time and slow
// polling keeps headroom for interactive commands.
const (
	defaultTCPPollInterval  = 30 * time.Second
	defaultHTTPPollInterval = 30 * time.Second

	// A field is considered stale once its age exceeds the poll interval
	// times this multiplier. Two missed cycles in a row means trouble.
	defaultStalenessMultiplier = 2

	// mergeQueueSize bounds the fragment channel feeding the merge loop.
	// Two pollers plus command refreshes never come close to this.
	mergeQueueSize = 8
)

// MQTTClient is the minimal MQTT surface the aggregator needs for state
// publishing and command intake. The infrastructure MQTT client is adapted
// to this interface in main.go.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// AggregatorConfig holds aggregator tuning. DeviceID is the only required
// field; zero intervals are replaced with defaults.
type AggregatorConfig struct {
	// DeviceID identifies this thermostat in MQTT topics and messages.
	DeviceID string

	// TCPPollInterval is the delay between TCP read cycles.
	TCPPollInterval time.Duration

	// HTTPPollInterval is the delay between HTTP document fetches.
	HTTPPollInterval time.Duration

	// StalenessMultiplier scales the poll interval into a freshness window.
	StalenessMultiplier int
}

// fragment carries one poll result (or command-driven refresh) into the
// merge loop. Exactly one of the pointers is set; a nil payload with
// failed=true marks the source's fields as no longer refreshing.
type fragment struct {
	tcp    *TCPFragment
	status *StatusFragment
	co2    *CO2Fragment
	// co2Installed distinguishes a read sensor from a 404: a fragment with
	// co2 set and co2Installed false records "module absent".
	co2Installed bool
	source       Source
	failed       bool
}

// Aggregator merges the thermostat's three data sources (TCP read cycle,
// HTTP status document, HTTP CO2 document) into a single DeviceState and
// fans changes out to MQTT and in-process subscribers.
//
// All state mutation happens on a single merge goroutine; readers get
// deep copies via Snapshot. Commands are serialized through the TCP
// client's own request queue, so Apply is safe to call concurrently.
type Aggregator struct {
	cfg  AggregatorConfig
	tcp  Connector
	http StatusFetcher
	mqtt MQTTClient // optional; nil disables MQTT publishing

	// merged is owned by the merge loop. Snapshot takes stateMu to copy it.
	merged  DeviceState
	stateMu sync.RWMutex

	// lastPublished holds the marshaled state of the previous MQTT publish
	// for change suppression. Owned by the merge loop.
	lastPublished []byte

	fragments chan fragment
	refresh   chan struct{}

	subscribers []func(DeviceState)
	subMu       sync.Mutex

	// httpStatusCB is invoked from the HTTP poll loop with the outcome of
	// each fetch so the health reporter can track the HTTP plane.
	httpStatusCB func(healthy bool)

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// AggregatorOptions bundles the aggregator's collaborators.
type AggregatorOptions struct {
	Config AggregatorConfig
	TCP    Connector
	HTTP   StatusFetcher
	MQTT   MQTTClient // optional
	Logger Logger     // optional
}

// NewAggregator validates options and constructs an Aggregator.
// Call Start to begin polling.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	if opts.Config.DeviceID == "" {
		return nil, fmt.Errorf("%w: device ID is required", ErrValidation)
	}
	if opts.TCP == nil {
		return nil, fmt.Errorf("%w: TCP connector is required", ErrValidation)
	}
	if opts.HTTP == nil {
		return nil, fmt.Errorf("%w: HTTP fetcher is required", ErrValidation)
	}

	cfg := opts.Config
	if cfg.TCPPollInterval <= 0 {
		cfg.TCPPollInterval = defaultTCPPollInterval
	}
	if cfg.HTTPPollInterval <= 0 {
		cfg.HTTPPollInterval = defaultHTTPPollInterval
	}
	if cfg.StalenessMultiplier <= 0 {
		cfg.StalenessMultiplier = defaultStalenessMultiplier
	}

	a := &Aggregator{
		cfg:       cfg,
		tcp:       opts.TCP,
		http:      opts.HTTP,
		mqtt:      opts.MQTT,
		fragments: make(chan fragment, mergeQueueSize),
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}
	a.merged.Limits = DefaultSetpointLimits()
	// Until the first operation-mode read lands, assume manual operation.
	// Thermostats ship in manual mode, and a wrong guess is self-correcting:
	// the device rejects the wrong write family.
	a.merged.ManualModeActive = true
	return a, nil
}

// SetLogger sets the logger. Safe to call concurrently.
func (a *Aggregator) SetLogger(l Logger) {
	a.loggerMu.Lock()
	a.logger = l
	a.loggerMu.Unlock()
}

// SetHTTPStatusCallback registers a callback invoked after each HTTP poll
// with its outcome. Must be called before Start.
func (a *Aggregator) SetHTTPStatusCallback(cb func(healthy bool)) {
	a.httpStatusCB = cb
}

// Subscribe registers a callback invoked with a state copy on every change.
// Callbacks run on the merge goroutine and must not block.
func (a *Aggregator) Subscribe(fn func(DeviceState)) {
	a.subMu.Lock()
	a.subscribers = append(a.subscribers, fn)
	a.subMu.Unlock()
}

// Start launches the poll and merge goroutines and subscribes to the MQTT
// command topic when an MQTT client is configured.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.mqtt != nil {
		topic := CommandTopic(a.cfg.DeviceID)
		if err := a.mqtt.Subscribe(topic, 1, func(t string, payload []byte) {
			a.handleCommandMessage(ctx, payload)
		}); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		a.logInfo("subscribed to commands", "topic", topic)
	}

	a.wg.Add(3)
	go a.mergeLoop(ctx)
	go a.tcpPollLoop(ctx)
	go a.httpPollLoop(ctx)

	a.logInfo("aggregator started",
		"device_id", a.cfg.DeviceID,
		"tcp_poll", a.cfg.TCPPollInterval.String(),
		"http_poll", a.cfg.HTTPPollInterval.String())
	return nil
}

// Stop shuts down the poll and merge goroutines. Idempotent.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.logInfo("aggregator stopped")
	})
}

// Snapshot returns a deep copy of the current merged state.
func (a *Aggregator) Snapshot() DeviceState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.merged.clone()
}

// Apply validates an intent against the current state, sends the resulting
// command over the TCP session, verifies the echo, and schedules an
// immediate refresh so the merged state converges quickly.
//
// When the TCP session is unavailable the intent is replayed through the
// embedded web server's form endpoints instead, for the intents the web UI
// exposes. An explicit device rejection never falls back: the device saw
// the command and refused it.
func (a *Aggregator) Apply(ctx context.Context, intent Intent) error {
	snap := a.Snapshot()

	wire, err := BuildCommand(intent, snap.ManualModeActive, snap.Limits)
	if err != nil {
		return err
	}

	reply, err := a.tcp.Execute(ctx, wire.Line)
	if err != nil {
		if sessionUnavailable(err) {
			if ferr := a.applyWebForm(ctx, intent); ferr == nil {
				a.logInfo("command applied over web form", "intent", intent.Kind.String())
				a.requestRefresh()
				return nil
			}
		}
		return fmt.Errorf("execute %s: %w", intent.Kind, err)
	}

	if err := validateWriteEcho(wire.Line, reply, wire.ExpectValue); err != nil {
		return fmt.Errorf("%s: %w", intent.Kind, err)
	}

	a.logDebug("command applied", "intent", intent.Kind.String(), "line", wire.Line)
	a.requestRefresh()
	return nil
}

// sessionUnavailable reports whether an Execute error means the TCP session
// is down rather than the device refusing the command.
func sessionUnavailable(err error) bool {
	return errors.Is(err, ErrNotReady) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrTimeout)
}

// applyWebForm replays an intent through the web server's form endpoints.
// The control form carries the same fields the device's own pages post.
func (a *Aggregator) applyWebForm(ctx context.Context, intent Intent) error {
	switch intent.Kind {
	case IntentSetHVACMode:
		return a.http.PostControl(ctx, url.Values{"mode": {string(intent.Mode)}, "update": {"Update"}})
	case IntentSetFanMode:
		return a.http.PostControl(ctx, url.Values{"fan": {string(intent.Fan)}, "update": {"Update"}})
	case IntentSetHeatSetpoint:
		return a.http.PostControl(ctx, url.Values{"sp_heat": {strconv.Itoa(intent.Temp)}, "update": {"Update"}})
	case IntentSetCoolSetpoint:
		return a.http.PostControl(ctx, url.Values{"sp_cool": {strconv.Itoa(intent.Temp)}, "update": {"Update"}})
	case IntentSetHumidification, IntentSetDehumidification:
		return a.http.PostHumidityConfig(ctx, url.Values{
			"mode":     {string(intent.Humidity.Mode)},
			"setpoint": {strconv.Itoa(intent.Humidity.Setpoint)},
			"variance": {strconv.Itoa(intent.Humidity.Variance)},
		})
	default:
		return fmt.Errorf("%w: no web form for %s", ErrValidation, intent.Kind)
	}
}

// requestRefresh nudges the TCP poll loop to run a cycle now. Non-blocking;
// a pending refresh absorbs duplicates.
func (a *Aggregator) requestRefresh() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

// tcpPollLoop runs the TCP read cycle on a ticker, with out-of-band cycles
// triggered by requestRefresh after successful writes.
func (a *Aggregator) tcpPollLoop(ctx context.Context) {
	defer a.wg.Done()

	// Prime immediately rather than waiting a full interval.
	a.runTCPCycle(ctx)

	ticker := time.NewTicker(a.cfg.TCPPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runTCPCycle(ctx)
		case <-a.refresh:
			a.runTCPCycle(ctx)
		}
	}
}

// runTCPCycle executes the full read sequence and queues the result for
// merging. A failed cycle queues a failure marker so TCP-sourced fields
// age out instead of lingering with a fresh timestamp.
func (a *Aggregator) runTCPCycle(ctx context.Context) {
	frag, err := a.readCycle(ctx)
	if err != nil {
		a.logWarn("tcp poll cycle failed", "error", err.Error())
		a.queueFragment(fragment{source: SourceTCP, failed: true})
		return
	}
	a.queueFragment(fragment{tcp: frag, source: SourceTCP})
}

// readCycle issues the TCP read commands in a fixed order and assembles a
// TCPFragment. The climate snapshot (RAS1) is mandatory; auxiliary reads
// degrade to absent fields on parse failure but abort on transport errors.
func (a *Aggregator) readCycle(ctx context.Context) (*TCPFragment, error) {
	frag := &TCPFragment{FetchedAt: time.Now()}

	// Composite climate snapshot first. Everything else decorates it.
	reply, err := a.tcp.Execute(ctx, cmdGetAllStates)
	if err != nil {
		return nil, fmt.Errorf("read climate: %w", err)
	}
	payload, ok := stripPrefix(reply, cmdGetAllStates)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply %q to %s", ErrProtocolError, reply, cmdGetAllStates)
	}
	if err := parseRAS1(payload, frag); err != nil {
		return nil, fmt.Errorf("read climate: %w", err)
	}

	steps := []struct {
		command string
		apply   func(payload string)
	}{
		{cmdGetScale, func(p string) {
			scale := parseScale(p)
			frag.Scale = &scale
		}},
		{cmdGetHumidity, func(p string) {
			frag.Humidity = parseOptionalInt(p)
		}},
		{cmdGetOperationMode, func(p string) {
			manual := parseManualMode(p)
			frag.ManualModeActive = &manual
		}},
		{cmdGetRelayMode, func(p string) {
			parseRelayModes(p, frag)
		}},
		{cmdGetRelayState, func(p string) {
			frag.RelayState = p
		}},
		{cmdGetHumidification, func(p string) {
			if cfg, err := parseHumidityConfig(p); err == nil {
				frag.Humidification = cfg
			}
		}},
		{cmdGetDehumidification, func(p string) {
			if cfg, err := parseHumidityConfig(p); err == nil {
				frag.Dehumidification = cfg
			}
		}},
	}

	for _, step := range steps {
		reply, err := a.tcp.Execute(ctx, step.command)
		if err != nil {
			// Rejections mean the firmware lacks the feature; skip the
			// field. Transport errors abort the cycle.
			if errors.Is(err, ErrCommandRejected) {
				continue
			}
			return nil, fmt.Errorf("%s: %w", step.command, err)
		}
		payload, ok := stripPrefix(reply, step.command)
		if !ok {
			continue
		}
		step.apply(payload)
	}

	return frag, nil
}

// httpPollLoop fetches the status and CO2 documents on a ticker.
func (a *Aggregator) httpPollLoop(ctx context.Context) {
	defer a.wg.Done()

	a.runHTTPCycle(ctx)

	ticker := time.NewTicker(a.cfg.HTTPPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runHTTPCycle(ctx)
		}
	}
}

// runHTTPCycle fetches both HTTP documents. The status document drives the
// HTTP health signal; a missing CO2 sensor (404) is a normal configuration,
// not a failure.
func (a *Aggregator) runHTTPCycle(ctx context.Context) {
	status, err := a.http.FetchStatus(ctx)
	if err != nil {
		a.logWarn("status fetch failed", "error", err.Error())
		a.queueFragment(fragment{source: SourceHTTP, failed: true})
		a.reportHTTPStatus(false)
	} else {
		a.queueFragment(fragment{status: &status, source: SourceHTTP})
		a.reportHTTPStatus(true)
	}

	co2, err := a.http.FetchCO2(ctx)
	switch {
	case errors.Is(err, ErrNotInstalled):
		a.queueFragment(fragment{co2: &CO2Fragment{FetchedAt: time.Now()}, source: SourceHTTP})
	case err != nil:
		a.logWarn("co2 fetch failed", "error", err.Error())
	default:
		a.queueFragment(fragment{co2: &co2, co2Installed: true, source: SourceHTTP})
	}
}

func (a *Aggregator) reportHTTPStatus(healthy bool) {
	if a.httpStatusCB != nil {
		a.httpStatusCB(healthy)
	}
}

// queueFragment hands a fragment to the merge loop without blocking the
// poller. Dropping under backpressure is safe: the next cycle re-reads.
func (a *Aggregator) queueFragment(f fragment) {
	select {
	case a.fragments <- f:
	case <-a.done:
	default:
		a.logWarn("merge queue full, dropping fragment", "source", string(f.source))
	}
}

// mergeLoop is the single writer of the merged state. It applies fragments,
// restamps freshness, and publishes on change.
func (a *Aggregator) mergeLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case f := <-a.fragments:
			a.applyFragment(f)
		}
	}
}

// applyFragment merges one fragment into the state under the write lock,
// then publishes outside it.
func (a *Aggregator) applyFragment(f fragment) {
	if f.failed {
		// Nothing to merge; staleness is derived from timestamps, so a
		// failed cycle simply lets the existing stamps age.
		return
	}

	a.stateMu.Lock()
	switch {
	case f.tcp != nil:
		a.mergeTCP(f.tcp)
	case f.status != nil:
		a.mergeStatus(f.status)
	case f.co2 != nil:
		a.mergeCO2(f.co2, f.co2Installed)
	}
	a.merged.UpdatedAt = time.Now()
	snapshot := a.merged.clone()
	a.stateMu.Unlock()

	a.publish(snapshot)
}

// mergeTCP applies a TCP read cycle. TCP is the authoritative source for
// every field it carries; the HTTP document only fills gaps.
func (a *Aggregator) mergeTCP(frag *TCPFragment) {
	s := &a.merged
	stamp := FieldStamp{Source: SourceTCP, UpdatedAt: frag.FetchedAt}

	s.IndoorTemp = frag.IndoorTemp
	s.OutdoorTemp = frag.OutdoorTemp
	s.HVACMode = frag.HVACMode
	s.FanMode = frag.FanMode
	s.OverrideActive = frag.OverrideActive
	s.RecoveryActive = frag.RecoveryActive
	s.HeatSetpoint = frag.HeatSetpoint
	s.CoolSetpoint = frag.CoolSetpoint
	s.OperatingStatus = frag.OperatingStatus
	s.Stage = frag.Stage
	s.Event = frag.Event
	s.stamp(FieldClimate, stamp)

	if frag.Humidity != nil {
		s.Humidity = frag.Humidity
		s.stamp(FieldHumidity, stamp)
	}
	if frag.ManualModeActive != nil {
		s.ManualModeActive = *frag.ManualModeActive
		s.stamp(FieldOpMode, stamp)
	}
	if frag.Scale != nil {
		s.Scale = *frag.Scale
		s.stamp(FieldScale, stamp)
	}
	if frag.Relay1Mode != "" || frag.Relay2Mode != "" || frag.RelayState != "" {
		if frag.Relay1Mode != "" {
			s.Relay1Mode = frag.Relay1Mode
		}
		if frag.Relay2Mode != "" {
			s.Relay2Mode = frag.Relay2Mode
		}
		if frag.RelayState != "" {
			s.RelayState = frag.RelayState
		}
		s.stamp(FieldRelays, stamp)
	}
	if frag.Humidification != nil || frag.Dehumidification != nil {
		if frag.Humidification != nil {
			s.Humidification = frag.Humidification
		}
		if frag.Dehumidification != nil {
			s.Dehumidification = frag.Dehumidification
		}
		s.stamp(FieldHumCfg, stamp)
	}
}

// mergeStatus applies the HTTP status document. TCP-sourced fields are only
// overwritten when the TCP data has gone stale; HTTP-only fields (system
// status string, device-reported limits) always win.
func (a *Aggregator) mergeStatus(frag *StatusFragment) {
	s := &a.merged
	stamp := FieldStamp{Source: SourceHTTP, UpdatedAt: frag.FetchedAt}

	now := frag.FetchedAt
	staleAfter := time.Duration(a.cfg.StalenessMultiplier) * a.cfg.TCPPollInterval

	if !s.FieldFresh(FieldClimate, now, staleAfter) {
		if frag.IndoorTemp != nil {
			s.IndoorTemp = frag.IndoorTemp
		}
		if frag.OutdoorTemp != nil {
			s.OutdoorTemp = frag.OutdoorTemp
		}
		if frag.HVACMode != "" {
			s.HVACMode = frag.HVACMode
		}
		if frag.FanMode != "" {
			s.FanMode = frag.FanMode
		}
		if frag.HeatSetpoint != nil {
			s.HeatSetpoint = frag.HeatSetpoint
		}
		if frag.CoolSetpoint != nil {
			s.CoolSetpoint = frag.CoolSetpoint
		}
		s.stamp(FieldClimate, stamp)
	}
	if frag.Humidity != nil && !s.FieldFresh(FieldHumidity, now, staleAfter) {
		s.Humidity = frag.Humidity
		s.stamp(FieldHumidity, stamp)
	}

	s.ScheduleStatus = frag.ScheduleStatus
	s.SystemStatus = frag.SystemStatus
	s.stamp(FieldStatus, stamp)

	if frag.Limits != nil {
		s.Limits = *frag.Limits
	}
}

// mergeCO2 applies the CO2 document. A not-installed fragment clears the
// CO2 block entirely, which is distinct from a stale reading.
func (a *Aggregator) mergeCO2(frag *CO2Fragment, installed bool) {
	s := &a.merged
	if installed {
		status := frag.Status
		s.CO2 = &status
	} else {
		s.CO2 = nil
	}
	s.stamp(FieldCO2, FieldStamp{Source: SourceHTTP, UpdatedAt: frag.FetchedAt})
}

// publish pushes a changed state to MQTT (retained) and to in-process
// subscribers. Identical consecutive states are suppressed by comparing
// the serialized form.
func (a *Aggregator) publish(state DeviceState) {
	msg := StateMessage{
		DeviceID:  a.cfg.DeviceID,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
		State:     state,
	}

	// Freshness stamps and the merge timestamp advance on every cycle, so
	// they are excluded from the changed-or-not comparison.
	cmp := state
	cmp.Freshness = nil
	cmp.UpdatedAt = time.Time{}
	payload, err := json.Marshal(cmp)
	if err != nil {
		a.logError("failed to marshal state", err)
		return
	}
	if string(payload) == string(a.lastPublished) {
		return
	}
	a.lastPublished = payload

	if a.mqtt != nil {
		full, err := json.Marshal(msg)
		if err != nil {
			a.logError("failed to marshal state message", err)
		} else if err := a.mqtt.Publish(StateTopic(a.cfg.DeviceID), full, 1, true); err != nil {
			a.logError("failed to publish state", err)
		}
	}

	a.subMu.Lock()
	subs := make([]func(DeviceState), len(a.subscribers))
	copy(subs, a.subscribers)
	a.subMu.Unlock()

	for _, fn := range subs {
		fn(state.clone())
	}
}

// handleCommandMessage decodes an MQTT command, applies it, and publishes
// an acknowledgement.
func (a *Aggregator) handleCommandMessage(ctx context.Context, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.logWarn("invalid command payload", "error", err.Error())
		return
	}

	var err error
	if msg.Command == "reboot" {
		// Reboot goes over the web interface; the TCP session has no
		// restart command.
		err = a.http.Reboot(ctx)
	} else {
		var intent Intent
		intent, err = intentFromCommand(msg)
		if err == nil {
			err = a.Apply(ctx, intent)
		}
	}

	ack := AckMessage{
		CommandID: msg.ID,
		Timestamp: time.Now().UTC(),
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
		a.logWarn("command failed", "command", msg.Command, "error", err.Error())
	} else {
		a.logInfo("command accepted", "command", msg.Command, "id", msg.ID)
	}

	if a.mqtt == nil {
		return
	}
	ackPayload, merr := json.Marshal(ack)
	if merr != nil {
		a.logError("failed to marshal ack", merr)
		return
	}
	if perr := a.mqtt.Publish(AckTopic(a.cfg.DeviceID), ackPayload, 1, false); perr != nil {
		a.logError("failed to publish ack", perr)
	}
}

// intentFromCommand maps an MQTT command message to an Intent.
func intentFromCommand(msg CommandMessage) (Intent, error) {
	var intent Intent

	switch msg.Command {
	case IntentSetHVACMode.String():
		intent.Kind = IntentSetHVACMode
		mode, err := paramString(msg.Parameters, "mode")
		if err != nil {
			return intent, err
		}
		intent.Mode = HVACMode(strings.ToUpper(mode))

	case IntentSetFanMode.String():
		intent.Kind = IntentSetFanMode
		fan, err := paramString(msg.Parameters, "fan")
		if err != nil {
			return intent, err
		}
		intent.Fan = FanMode(strings.ToUpper(fan))

	case IntentSetHeatSetpoint.String(), IntentSetCoolSetpoint.String():
		intent.Kind = IntentSetHeatSetpoint
		if msg.Command == IntentSetCoolSetpoint.String() {
			intent.Kind = IntentSetCoolSetpoint
		}
		temp, err := paramInt(msg.Parameters, "temperature")
		if err != nil {
			return intent, err
		}
		intent.Temp = temp

	case IntentSetScale.String():
		intent.Kind = IntentSetScale
		scale, err := paramString(msg.Parameters, "scale")
		if err != nil {
			return intent, err
		}
		intent.Scale = TemperatureScale(strings.ToUpper(scale))

	case IntentSetRelayMode.String():
		intent.Kind = IntentSetRelayMode
		relay, err := paramString(msg.Parameters, "mode")
		if err != nil {
			return intent, err
		}
		intent.Relay = RelayMode(strings.ToUpper(relay))

	case IntentSetHumidification.String(), IntentSetDehumidification.String():
		intent.Kind = IntentSetHumidification
		if msg.Command == IntentSetDehumidification.String() {
			intent.Kind = IntentSetDehumidification
		}
		mode, err := paramString(msg.Parameters, "mode")
		if err != nil {
			return intent, err
		}
		setpoint, err := paramInt(msg.Parameters, "setpoint")
		if err != nil {
			return intent, err
		}
		variance, err := paramInt(msg.Parameters, "variance")
		if err != nil {
			return intent, err
		}
		intent.Humidity = HumidityConfig{
			Mode:     HumidityControlMode(strings.ToUpper(mode)),
			Setpoint: setpoint,
			Variance: variance,
		}

	default:
		return intent, fmt.Errorf("%w: unknown command %q", ErrValidation, msg.Command)
	}

	return intent, nil
}

// paramString extracts a required string parameter.
func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing parameter %q", ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string", ErrValidation, key)
	}
	return s, nil
}

// paramInt extracts a required integer parameter. JSON numbers arrive as
// float64; string digits are accepted for convenience.
func paramInt(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", ErrValidation, key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrValidation, key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrValidation, key)
	}
}

func (a *Aggregator) log() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

func (a *Aggregator) logDebug(msg string, kv ...any) {
	if l := a.log(); l != nil {
		l.Debug(msg, kv...)
	}
}

func (a *Aggregator) logInfo(msg string, kv ...any) {
	if l := a.log(); l != nil {
		l.Info(msg, kv...)
	}
}

func (a *Aggregator) logWarn(msg string, kv ...any) {
	if l := a.log(); l != nil {
		l.Warn(msg, kv...)
	}
}

func (a *Aggregator) logError(msg string, err error) {
	if l := a.log(); l != nil {
		l.Error(msg, "error", err.Error())
	}
}
