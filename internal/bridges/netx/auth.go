package netx

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DeriveCredential computes the login token for the TCP command protocol.
//
// The thermostat expects base64(sha256("{username}:{password}")). The
// function is pure and deterministic; identical inputs always yield the
// same token.
func DeriveCredential(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// LoginCommand builds the complete login line (without terminator) for the
// given credentials.
//
// Wire format: WMLS1D{username},{token}
func LoginCommand(username, password string) string {
	return fmt.Sprintf("%s%s,%s", cmdLogin, username, DeriveCredential(username, password))
}
