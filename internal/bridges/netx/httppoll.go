package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP endpoints on the thermostat's embedded web server.
const (
	endpointStatus         = "/index.xml"
	endpointCO2            = "/co2.json"
	endpointControl        = "/index.htm"
	endpointHumidityConfig = "/confighumidity.htm"
	endpointReboot         = "/reboot.htm"

	// defaultHTTPTimeout bounds one HTTP request.
	defaultHTTPTimeout = 10 * time.Second

	// maxDocumentSize caps a fetched document.
	maxDocumentSize = 1 << 20 // 1MB
)

// PollerConfig holds HTTP poller configuration.
type PollerConfig struct {
	// Host is the thermostat address (IP or hostname).
	Host string

	// Username and Password are sent as HTTP basic auth.
	Username string
	Password string

	// Timeout bounds one request. Default: 10s.
	Timeout time.Duration
}

// StatusFetcher is the interface the aggregator uses for the HTTP side.
// This allows mocking the web server in tests.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (StatusFragment, error)
	FetchCO2(ctx context.Context) (CO2Fragment, error)
	PostControl(ctx context.Context, form url.Values) error
	PostHumidityConfig(ctx context.Context, form url.Values) error
	Reboot(ctx context.Context) error
}

// Ensure Poller implements StatusFetcher.
var _ StatusFetcher = (*Poller)(nil)

// Poller fetches and parses the thermostat's two HTTP documents and carries
// the form-encoded write path. It holds no mutable state beyond the shared
// http.Client and is safe for concurrent use.
type Poller struct {
	cfg    PollerConfig
	client *http.Client
}

// NewPoller creates an HTTP poller for the given thermostat.
func NewPoller(cfg PollerConfig) *Poller {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &Poller{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// FetchStatus fetches and parses the status document (index.xml).
//
// The document is a flat XML element list; every leaf is text. Sentinel
// values ("--", "NA", empty) degrade the single field to absent rather than
// failing the fragment.
func (p *Poller) FetchStatus(ctx context.Context) (StatusFragment, error) {
	body, status, err := p.get(ctx, endpointStatus)
	if err != nil {
		return StatusFragment{}, err
	}
	if status != http.StatusOK {
		return StatusFragment{}, fmt.Errorf("%w: status document returned HTTP %d", ErrConnectionFailed, status)
	}

	fields, err := parseFlatXML(body)
	if err != nil {
		return StatusFragment{}, fmt.Errorf("%w: status document: %w", ErrProtocolError, err)
	}

	return buildStatusFragment(fields, time.Now()), nil
}

// FetchCO2 fetches and parses the CO2 document (co2.json).
//
// A 404 is the canonical signal that no CO2 module is installed and is
// reported as ErrNotInstalled, not as a fault. All leaf values arrive as
// text; a malformed number degrades that one field to absent.
func (p *Poller) FetchCO2(ctx context.Context) (CO2Fragment, error) {
	body, status, err := p.get(ctx, endpointCO2)
	if err != nil {
		return CO2Fragment{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return CO2Fragment{}, ErrNotInstalled
	default:
		return CO2Fragment{}, fmt.Errorf("%w: co2 document returned HTTP %d", ErrConnectionFailed, status)
	}

	var doc struct {
		CO2 map[string]string `json:"co2"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return CO2Fragment{}, fmt.Errorf("%w: co2 document: %w", ErrProtocolError, err)
	}
	if doc.CO2 == nil {
		return CO2Fragment{}, ErrNotInstalled
	}

	return CO2Fragment{
		Status: CO2Status{
			Level:        parseOptionalInt(doc.CO2["level"]),
			PeakLevel:    parseOptionalInt(doc.CO2["peak_level"]),
			AlertLevel:   parseOptionalInt(doc.CO2["alert_level"]),
			InAlert:      parseOptionalBool(doc.CO2["in_alert"]),
			Valid:        parseOptionalBool(doc.CO2["valid"]),
			Type:         doc.CO2["type"],
			Display:      doc.CO2["display"],
			RelayHigh:    doc.CO2["relay_high"],
			RelayFailure: doc.CO2["relay_failure"],
			PeakReset:    doc.CO2["peak_reset"],
		},
		FetchedAt: time.Now(),
	}, nil
}

// PostControl issues a form-encoded write to the control endpoint
// (index.htm). The endpoint does not echo the accepted value; success is
// inferred from a non-error HTTP status.
func (p *Poller) PostControl(ctx context.Context, form url.Values) error {
	return p.postForm(ctx, endpointControl, form)
}

// PostHumidityConfig issues a form-encoded write to the humidity
// configuration endpoint (confighumidity.htm).
func (p *Poller) PostHumidityConfig(ctx context.Context, form url.Values) error {
	return p.postForm(ctx, endpointHumidityConfig, form)
}

// Reboot requests a device restart via the web interface.
func (p *Poller) Reboot(ctx context.Context) error {
	_, status, err := p.get(ctx, endpointReboot)
	if err != nil {
		return err
	}
	// The device drops the connection while restarting; any 2xx counts.
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: reboot returned HTTP %d", ErrCommandRejected, status)
	}
	return nil
}

// get performs one authenticated GET and returns body plus status code.
func (p *Poller) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	req.SetBasicAuth(p.cfg.Username, p.cfg.Password)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: GET %s: %w", ErrConnectionFailed, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %w", ErrConnectionFailed, path, err)
	}

	return body, resp.StatusCode, nil
}

// postForm performs one authenticated form-encoded POST.
func (p *Poller) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %w", ErrConnectionFailed, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize)) //nolint:errcheck // body content is irrelevant

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: POST %s returned HTTP %d", ErrCommandRejected, path, resp.StatusCode)
	}

	return nil
}

func (p *Poller) baseURL() string {
	return "http://" + p.cfg.Host
}

// parseFlatXML decodes a flat single-level XML document into tag → text.
func parseFlatXML(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	dec := xml.NewDecoder(bytes.NewReader(data))

	var current string
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = t.Name.Local
			}
		case xml.EndElement:
			depth--
			current = ""
		case xml.CharData:
			if current != "" {
				fields[current] += string(t)
			}
		}
	}

	return fields, nil
}

// buildStatusFragment maps the status document's fields into a fragment.
func buildStatusFragment(fields map[string]string, now time.Time) StatusFragment {
	frag := StatusFragment{
		IndoorTemp:     parseTemp(fields["curtemp"]),
		OutdoorTemp:    parseTemp(fields["outdoor"]),
		Humidity:       parseOptionalInt(fields["humidity"]),
		HeatSetpoint:   parseOptionalInt(fields["sptheat"]),
		CoolSetpoint:   parseOptionalInt(fields["sptcool"]),
		ScheduleStatus: strings.TrimSpace(fields["schedstat"]),
		SystemStatus:   strings.TrimSpace(fields["sysstat"]),
		FetchedAt:      now,
	}

	if mode := strings.ToUpper(strings.TrimSpace(fields["curmode"])); mode != "" {
		frag.HVACMode = HVACMode(mode)
	}
	if fan := strings.ToUpper(strings.TrimSpace(fields["curfan"])); fan != "" {
		if strings.Contains(fan, "ON") {
			frag.FanMode = FanOn
		} else {
			frag.FanMode = FanAuto
		}
	}

	// Device-reported setpoint bounds: only adopted when the document
	// carries the full occupied-limit set, so a partial read never narrows
	// the allowed range to garbage.
	heatLow := parseOptionalInt(fields["l_occ_heat"])
	heatHigh := parseOptionalInt(fields["ul_occ_heat"])
	coolLow := parseOptionalInt(fields["l_occ_cool"])
	coolHigh := parseOptionalInt(fields["ul_occ_cool"])
	if heatLow != nil && heatHigh != nil && coolLow != nil && coolHigh != nil {
		frag.Limits = &SetpointLimits{
			HeatMin: *heatLow,
			HeatMax: *heatHigh,
			CoolMin: *coolLow,
			CoolMax: *coolHigh,
		}
	}

	return frag
}
