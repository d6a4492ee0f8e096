package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OAuth state tokens bind the provider redirect back to the browser session
// that started it. Format: <nonce>.<unix-expiry>.<hmac(nonce|expiry)>. The
// server stays stateless: the same value is stored in a short-lived cookie
// before the redirect and echoed by the provider in the callback query.

const stateTTL = 10 * time.Minute

// NewStateToken mints a signed, expiring CSRF state value.
func NewStateToken(secret string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	exp := time.Now().UTC().Add(stateTTL).Unix()
	return fmt.Sprintf("%s.%d.%s", nonce, exp, stateSig(secret, nonce, exp)), nil
}

// VerifyStateToken checks signature and expiry of a state value returned by
// the provider. It does not consume anything server-side; replay within the
// TTL is bounded by the cookie match performed by the caller.
func VerifyStateToken(secret, raw string) error {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return fmt.Errorf("malformed state")
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed state expiry")
	}
	if time.Now().UTC().Unix() > exp {
		return fmt.Errorf("state expired")
	}
	want := stateSig(secret, parts[0], exp)
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return fmt.Errorf("state signature mismatch")
	}
	return nil
}

func stateSig(secret, nonce string, exp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%d", nonce, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
