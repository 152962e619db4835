package netx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for thermostat communication.
const (
	// DefaultPort is the thermostat's TCP command port.
	DefaultPort = 10001

	// defaultConnectTimeout is the maximum time to wait for dial + login.
	defaultConnectTimeout = 10 * time.Second

	// defaultCommandTimeout bounds one request/reply round trip.
	defaultCommandTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 2 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection
	// attempts.
	maxReconnectInterval = time.Minute

	// defaultMaxConnectAttempts caps reconnection attempts per request.
	// The next request starts a fresh sequence, so each poll cycle gets a
	// bounded retry budget rather than an unbounded background loop.
	defaultMaxConnectAttempts = 5

	// backoffFactor grows the reconnect delay after each failed attempt.
	backoffFactor = 1.5

	// requestQueueSize bounds queued commands waiting for the connection.
	requestQueueSize = 16

	// maxLineLength caps a reply line to keep a misbehaving device from
	// exhausting memory.
	maxLineLength = 4096

	// lineTerminator frames every command and reply.
	lineTerminator = "\r\n"
)

// SessionState is the TCP session lifecycle state.
type SessionState int32

// Session states. Any I/O error, remote close, or timeout moves the session
// unconditionally back to StateDisconnected.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

// String returns the state name for logs and health messages.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// ClientConfig holds TCP session configuration.
type ClientConfig struct {
	// Host is the thermostat address (IP or hostname).
	Host string

	// Port is the TCP command port. Default: 10001.
	Port int

	// Username and Password are the thermostat login credentials.
	Username string
	Password string

	// ConnectTimeout bounds dial plus login. Default: 10s.
	ConnectTimeout time.Duration

	// CommandTimeout bounds one request/reply round trip. Default: 5s.
	CommandTimeout time.Duration

	// ReconnectInterval is the initial reconnection backoff. Default: 2s.
	ReconnectInterval time.Duration

	// MaxConnectAttempts caps reconnection attempts per request. Default: 5.
	MaxConnectAttempts int
}

// ClientStats holds operational statistics.
type ClientStats struct {
	CommandsTx      uint64
	RepliesRx       uint64
	Rejections      uint64 // Commands the device explicitly refused
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	State           SessionState
	Privilege       string // Privilege level granted at login
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the interface the aggregator uses to talk to the thermostat.
// This allows mocking the TCP client in tests.
type Connector interface {
	Execute(ctx context.Context, command string) (string, error)
	IsConnected() bool
	State() SessionState
	Stats() ClientStats
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// Client owns the single logical session to the thermostat's command port.
//
// The protocol is not pipelined and carries no request identifiers, so one
// goroutine owns the connection and serves queued requests strictly one at
// a time: poll reads and user writes share the same serialisation point and
// never interleave on the wire.
//
// Auto-Reconnection:
//   - A failed round trip tears the session down; the next request triggers
//     a bounded reconnect-and-reauthenticate sequence with exponential
//     backoff (factor 1.5, capped).
//   - An explicit login rejection is fatal: it is never retried until a new
//     client is built with different credentials.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg ClientConfig

	// Connection state; conn and reader are touched only by the session
	// goroutine after Connect returns.
	conn   net.Conn
	reader *bufio.Reader

	requests chan *request
	started  atomic.Bool
	state    atomic.Int32

	// authFatal latches after an explicit login rejection.
	authFatal atomic.Bool

	privilege   string
	privilegeMu sync.RWMutex

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	commandsTx      atomic.Uint64
	repliesRx       atomic.Uint64
	rejections      atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// request is one queued command awaiting its turn on the connection.
type request struct {
	line string
	resp chan response // buffered; the owner never blocks on delivery
}

type response struct {
	line string
	err  error
}

// NewClient creates an unconnected client. Call Connect before Execute.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxConnectAttempts == 0 {
		cfg.MaxConnectAttempts = defaultMaxConnectAttempts
	}

	return &Client{
		cfg:      cfg,
		requests: make(chan *request, requestQueueSize),
		done:     newCloseOnce(),
	}
}

// Connect dials the thermostat, authenticates, and starts the session
// goroutine. Must be called once before Execute.
//
// Returns ErrConnectionFailed on dial/transport errors and ErrAuthFailed
// when the device rejects the login line.
func (c *Client) Connect(ctx context.Context) error {
	if c.started.Load() {
		return nil
	}

	if err := c.establishSession(ctx); err != nil {
		return err
	}

	c.started.Store(true)
	c.wg.Add(1)
	go c.sessionLoop()

	return nil
}

// establishSession performs dial + login. Called by Connect and by the
// session goroutine during reconnection.
func (c *Client) establishSession(ctx context.Context) error {
	c.setState(StateConnecting)

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.setState(StateDisconnected)
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	c.setState(StateAuthenticating)

	reader := bufio.NewReader(conn)
	reply, err := roundTrip(conn, reader, LoginCommand(c.cfg.Username, c.cfg.Password), c.cfg.CommandTimeout)
	if err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: login: %w", ErrConnectionFailed, err)
	}

	// Success is a reply beginning with the OK token; the remainder carries
	// the granted privilege level. Any other reply is a credential failure.
	if !strings.HasPrefix(reply, "OK") {
		conn.Close()
		c.setState(StateDisconnected)
		c.authFatal.Store(true)
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: device replied %q", ErrAuthFailed, reply)
	}

	c.privilegeMu.Lock()
	c.privilege = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(reply, "OK"), ":"))
	c.privilegeMu.Unlock()

	c.conn = conn
	c.reader = reader
	c.setState(StateReady)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// roundTrip writes one CRLF-terminated command and reads one reply line.
// Used for login (before the session goroutine exists) and by the session
// goroutine for every command.
func roundTrip(conn net.Conn, reader *bufio.Reader, command string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(command + lineTerminator)); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	// The reply is one line, reassembled from however many TCP segments it
	// arrives in. The length cap is enforced per read so a device streaming
	// bytes without ever sending a newline cannot grow the buffer until the
	// deadline fires.
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineLength {
			return "", fmt.Errorf("reply exceeds %d bytes", maxLineLength)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return strings.TrimRight(string(line), "\r\n"), nil
}

// Execute sends one command line and returns the device's reply line.
//
// Requests are served strictly one at a time; a concurrent caller's command
// queues behind the one in flight. Once a command has been written the
// session always consumes its reply even if ctx expires first, so
// cancellation is not honoured mid-flight.
//
// Errors: ErrNotReady before Connect, ErrCommandRejected when the device
// refused the command (session stays up), ErrTimeout / ErrConnectionFailed
// on transport trouble (session torn down), ErrAuthFailed when
// re-authentication was rejected, ErrClosed after Close.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if !c.started.Load() {
		return "", ErrNotReady
	}
	if c.isClosed() {
		return "", ErrClosed
	}

	req := &request{
		line: command,
		resp: make(chan response, 1),
	}

	select {
	case c.requests <- req:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.done.Done():
		return "", ErrClosed
	}

	select {
	case resp := <-req.resp:
		return resp.line, resp.err
	case <-ctx.Done():
		// The session goroutine still completes the round trip and drops
		// the buffered response; only the caller gives up.
		return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.done.Done():
		return "", ErrClosed
	}
}

// sessionLoop is the single connection owner. It serves queued requests one
// at a time until Close.
func (c *Client) sessionLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.teardown()
			c.drainRequests()
			return
		case req := <-c.requests:
			c.serve(req)
		}
	}
}

// serve handles one request: reconnect if needed, then one round trip.
func (c *Client) serve(req *request) {
	if c.State() != StateReady {
		if err := c.reconnect(); err != nil {
			req.resp <- response{err: err}
			return
		}
	}

	reply, err := roundTrip(c.conn, c.reader, req.line, c.cfg.CommandTimeout)
	c.commandsTx.Add(1)

	if err != nil {
		// A timed-out or failed round trip leaves the wire in an ambiguous
		// state (the reply may still arrive later), so the connection is
		// always terminated rather than reused.
		c.errorsTotal.Add(1)
		c.teardown()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logWarn("command timed out, closing session", "command", req.line)
			req.resp <- response{err: fmt.Errorf("%w: %s", ErrTimeout, req.line)}
			return
		}
		c.logError("command round trip failed", err)
		req.resp <- response{err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
		return
	}

	c.repliesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	if isErrorReply(reply) {
		// An explicit refusal is a healthy session; only the command failed.
		c.rejections.Add(1)
		req.resp <- response{err: fmt.Errorf("%w: %q", ErrCommandRejected, reply)}
		return
	}

	req.resp <- response{line: reply}
}

// reconnect runs one bounded reconnect-and-reauthenticate sequence with
// exponential backoff. A login rejection stops it permanently.
func (c *Client) reconnect() error {
	if c.authFatal.Load() {
		return fmt.Errorf("%w: credentials rejected, not retrying", ErrAuthFailed)
	}

	backoff := c.cfg.ReconnectInterval

	for attempt := 1; attempt <= c.cfg.MaxConnectAttempts; attempt++ {
		if c.isClosed() {
			return ErrClosed
		}

		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		err := c.establishSession(context.Background())
		if err == nil {
			c.reconnectsTotal.Add(1)
			c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
			return nil
		}
		if errors.Is(err, ErrAuthFailed) {
			c.logError("reauthentication rejected, giving up", err)
			return err
		}

		select {
		case <-c.done.Done():
			return ErrClosed
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}

	return fmt.Errorf("%w: gave up after %d attempts", ErrConnectionFailed, c.cfg.MaxConnectAttempts)
}

// teardown closes the connection and marks the session disconnected.
func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.setState(StateDisconnected)
}

// drainRequests fails any queued requests during shutdown.
func (c *Client) drainRequests() {
	for {
		select {
		case req := <-c.requests:
			req.resp <- response{err: ErrClosed}
		default:
			return
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close releases the connection and stops the session goroutine.
// Safe to call multiple times; pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.done.Close()
	c.wg.Wait()
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current session state.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// IsConnected returns true while the session is authenticated and ready.
func (c *Client) IsConnected() bool {
	return c.State() == StateReady
}

func (c *Client) setState(s SessionState) {
	c.state.Store(int32(s))
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	c.privilegeMu.RLock()
	privilege := c.privilege
	c.privilegeMu.RUnlock()

	return ClientStats{
		CommandsTx:      c.commandsTx.Load(),
		RepliesRx:       c.repliesRx.Load(),
		Rejections:      c.rejections.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		State:           c.State(),
		Privilege:       privilege,
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
