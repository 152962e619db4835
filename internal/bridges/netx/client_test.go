package netx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDevice is a scripted TCP thermostat. The handler receives each
// received line and returns the reply; an empty reply with drop=false
// swallows the command (used to simulate an unresponsive device), drop=true
// closes the connection.
type fakeDevice struct {
	ln      net.Listener
	handler func(line string) (reply string, drop bool)
	wg      sync.WaitGroup
}

func newFakeDevice(t *testing.T, handler func(line string) (string, bool)) *fakeDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d := &fakeDevice{ln: ln, handler: handler}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.close)

	return d
}

func (d *fakeDevice) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go d.handleConn(conn)
	}
}

func (d *fakeDevice) handleConn(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply, drop := d.handler(strings.TrimRight(line, "\r\n"))
		if drop {
			return
		}
		if reply == "" {
			continue
		}
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

func (d *fakeDevice) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(d.ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func (d *fakeDevice) close() {
	d.ln.Close()
	d.wg.Wait()
}

// scripted returns a handler that accepts any login and answers commands
// from the reply map, refusing everything else.
func scripted(loginReply string, replies map[string]string) func(string) (string, bool) {
	return func(line string) (string, bool) {
		if strings.HasPrefix(line, cmdLogin) {
			return loginReply, false
		}
		if r, ok := replies[line]; ok {
			return r, false
		}
		return "BAD COMMAND", false
	}
}

func testClient(t *testing.T, d *fakeDevice) *Client {
	t.Helper()
	host, port := d.hostPort(t)
	c := NewClient(ClientConfig{
		Host:               host,
		Port:               port,
		Username:           "admin",
		Password:           "secret",
		ConnectTimeout:     2 * time.Second,
		CommandTimeout:     2 * time.Second,
		ReconnectInterval:  10 * time.Millisecond,
		MaxConnectAttempts: 3,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_ConnectAndExecute(t *testing.T) {
	var loginLine string
	var loginMu sync.Mutex

	d := newFakeDevice(t, func(line string) (string, bool) {
		if strings.HasPrefix(line, cmdLogin) {
			loginMu.Lock()
			loginLine = line
			loginMu.Unlock()
			return "OK:FULL", false
		}
		if line == cmdGetScale {
			return "RTS1:FAHRENHEIT", false
		}
		return "BAD COMMAND", false
	})

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	loginMu.Lock()
	wantLogin := LoginCommand("admin", "secret")
	if loginLine != wantLogin {
		t.Errorf("login line = %q, want %q", loginLine, wantLogin)
	}
	loginMu.Unlock()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if got := c.State(); got != StateReady {
		t.Errorf("State() = %v, want StateReady", got)
	}

	reply, err := c.Execute(context.Background(), cmdGetScale)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if reply != "RTS1:FAHRENHEIT" {
		t.Errorf("reply = %q, want RTS1:FAHRENHEIT", reply)
	}

	stats := c.Stats()
	if stats.Privilege != "FULL" {
		t.Errorf("Privilege = %q, want FULL", stats.Privilege)
	}
	if stats.CommandsTx != 1 {
		t.Errorf("CommandsTx = %d, want 1", stats.CommandsTx)
	}
	if stats.RepliesRx != 1 {
		t.Errorf("RepliesRx = %d, want 1", stats.RepliesRx)
	}
}

func TestClient_AuthRejected(t *testing.T) {
	d := newFakeDevice(t, scripted("FAILED", nil))

	c := testClient(t, d)
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthFailed", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after rejected login")
	}

	// Connect never succeeded, so Execute must refuse without touching the
	// network.
	if _, err := c.Execute(context.Background(), cmdGetScale); !errors.Is(err, ErrNotReady) {
		t.Errorf("Execute() error = %v, want ErrNotReady", err)
	}
}

func TestClient_CommandRejected(t *testing.T) {
	d := newFakeDevice(t, scripted("OK:FULL", map[string]string{
		cmdGetScale: "RTS1:FAHRENHEIT",
	}))

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	_, err := c.Execute(context.Background(), "BOGUS1")
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Execute() error = %v, want ErrCommandRejected", err)
	}

	// An explicit refusal must not tear the session down.
	if !c.IsConnected() {
		t.Error("IsConnected() = false after command rejection")
	}
	if _, err := c.Execute(context.Background(), cmdGetScale); err != nil {
		t.Errorf("Execute() after rejection error: %v", err)
	}

	if got := c.Stats().Rejections; got != 1 {
		t.Errorf("Rejections = %d, want 1", got)
	}
}

func TestClient_Reconnect(t *testing.T) {
	d := newFakeDevice(t, func(line string) (string, bool) {
		switch {
		case strings.HasPrefix(line, cmdLogin):
			return "OK:FULL", false
		case line == "DROP":
			return "", true
		case line == cmdGetScale:
			return "RTS1:CELSIUS", false
		}
		return "BAD COMMAND", false
	})

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// The device hangs up mid round trip; the in-flight request fails and
	// the session is torn down.
	_, err := c.Execute(context.Background(), "DROP")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Execute(DROP) error = %v, want ErrConnectionFailed", err)
	}

	// The next request drives a reconnect-and-reauthenticate sequence.
	reply, err := c.Execute(context.Background(), cmdGetScale)
	if err != nil {
		t.Fatalf("Execute() after drop error: %v", err)
	}
	if reply != "RTS1:CELSIUS" {
		t.Errorf("reply = %q, want RTS1:CELSIUS", reply)
	}

	if got := c.Stats().ReconnectsTotal; got != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", got)
	}
}

func TestClient_CommandTimeout(t *testing.T) {
	d := newFakeDevice(t, func(line string) (string, bool) {
		if strings.HasPrefix(line, cmdLogin) {
			return "OK:FULL", false
		}
		// Swallow everything else.
		return "", false
	})

	host, port := d.hostPort(t)
	c := NewClient(ClientConfig{
		Host:               host,
		Port:               port,
		Username:           "admin",
		Password:           "secret",
		CommandTimeout:     100 * time.Millisecond,
		ReconnectInterval:  10 * time.Millisecond,
		MaxConnectAttempts: 1,
	})
	t.Cleanup(func() { c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	_, err := c.Execute(context.Background(), cmdGetScale)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}

	// A timed-out round trip leaves the wire ambiguous; the session must be
	// torn down rather than reused.
	if c.IsConnected() {
		t.Error("IsConnected() = true after command timeout")
	}
}

func TestClient_ExecuteBeforeConnect(t *testing.T) {
	c := NewClient(ClientConfig{Host: "127.0.0.1", Username: "admin", Password: "secret"})
	if _, err := c.Execute(context.Background(), cmdGetScale); !errors.Is(err, ErrNotReady) {
		t.Errorf("Execute() error = %v, want ErrNotReady", err)
	}
}

func TestClient_Close(t *testing.T) {
	d := newFakeDevice(t, scripted("OK:FULL", nil))

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := c.Execute(context.Background(), cmdGetScale); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() after Close error = %v, want ErrClosed", err)
	}

	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	// A listener that is immediately closed yields a port with nothing
	// listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	c := NewClient(ClientConfig{
		Host:           host,
		Port:           port,
		Username:       "admin",
		Password:       "secret",
		ConnectTimeout: time.Second,
	})
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_ConcurrentCallersSerialized(t *testing.T) {
	// The device answers every command with its own line echoed back, so a
	// misaligned request/reply pairing would hand a caller another caller's
	// reply.
	d := newFakeDevice(t, func(line string) (string, bool) {
		if strings.HasPrefix(line, cmdLogin) {
			return "OK:FULL", false
		}
		return line + ":ok", false
	})
	c := testClient(t, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	const callers = 8
	got := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = c.Execute(context.Background(), "WNHD1D"+strconv.Itoa(60+i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Execute(caller %d) error: %v", i, errs[i])
		}
		want := "WNHD1D" + strconv.Itoa(60+i) + ":ok"
		if got[i] != want {
			t.Errorf("caller %d reply = %q, want %q", i, got[i], want)
		}
	}

	stats := c.Stats()
	if stats.CommandsTx != callers {
		t.Errorf("CommandsTx = %d, want %d", stats.CommandsTx, callers)
	}
	if stats.RepliesRx != callers {
		t.Errorf("RepliesRx = %d, want %d", stats.RepliesRx, callers)
	}
}

func TestClient_OversizedReplyRejected(t *testing.T) {
	d := newFakeDevice(t, scripted("OK:FULL", map[string]string{
		"RTS1": strings.Repeat("A", maxLineLength+10),
	}))
	c := testClient(t, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if _, err := c.Execute(context.Background(), "RTS1"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Execute() error = %v, want ErrConnectionFailed", err)
	}
	if c.State() == StateReady {
		t.Error("session still ready after oversized reply")
	}
}
