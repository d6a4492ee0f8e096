package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is what the app session token encodes. It is deliberately
// minimal: everything else (permission flags, username) is re-resolved from
// the users table on every request, so flag changes take effect immediately.
type SessionClaims struct {
	UID  string
	Role string
}

// NewSessionToken signs an HS256 JWT carrying {uid, role} with the given TTL.
func NewSessionToken(secret string, claims SessionClaims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":  claims.UID,
		"role": claims.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return t.SignedString([]byte(secret))
}

// VerifySessionToken validates signature and expiry and returns the claims.
// Any parse failure (bad signature, expired, wrong algorithm) is returned as
// an error; callers translate that into a 401.
func VerifySessionToken(secret, raw string) (SessionClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return SessionClaims{}, fmt.Errorf("invalid token")
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return SessionClaims{}, fmt.Errorf("invalid claims")
	}
	uid, _ := mc["uid"].(string)
	role, _ := mc["role"].(string)
	if uid == "" {
		return SessionClaims{}, fmt.Errorf("missing uid claim")
	}
	return SessionClaims{UID: uid, Role: role}, nil
}
