package netx

import (
	"strings"
	"testing"
)

func TestDeriveCredential(t *testing.T) {
	token := DeriveCredential("admin", "secret")

	// base64(sha256) of a 32-byte digest is always 44 characters.
	if len(token) != 44 {
		t.Errorf("DeriveCredential() length = %d, want 44", len(token))
	}

	// Deterministic: same inputs, same token.
	if again := DeriveCredential("admin", "secret"); again != token {
		t.Errorf("DeriveCredential() not deterministic: %q != %q", again, token)
	}

	// Different credentials produce a different token.
	if other := DeriveCredential("admin", "Secret"); other == token {
		t.Error("DeriveCredential() identical token for different passwords")
	}

	// The raw password must never appear on the wire.
	if strings.Contains(token, "secret") {
		t.Error("DeriveCredential() leaks the raw password")
	}
}

func TestLoginCommand(t *testing.T) {
	line := LoginCommand("admin", "secret")

	if !strings.HasPrefix(line, "WMLS1Dadmin,") {
		t.Errorf("LoginCommand() = %q, want WMLS1Dadmin,{token} format", line)
	}

	token := strings.TrimPrefix(line, "WMLS1Dadmin,")
	if token != DeriveCredential("admin", "secret") {
		t.Errorf("LoginCommand() token = %q, want derived credential", token)
	}
}
