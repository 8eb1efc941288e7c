package domain

import "time"

// TokenPair is what a successful authentication returns: the short-lived
// signed access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // seconds until access token expiry
}

// RefreshToken models the stored refresh token record. Only the SHA-256
// fingerprint of the opaque value is persisted; the raw token is returned to
// the client once and is unrecoverable after that.
//
// Rotation forms a singly-linked chain through ReplacedBy: redeeming a token
// sets RevokedAt and ReplacedBy on the old record and creates the successor.
// A record with RevokedAt set is dead permanently; presenting it again is
// treated as evidence of theft.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string // base64url SHA-256 fingerprint

	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string // id of the successor token, set on rotation

	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Active reports whether the token can still be redeemed at t.
func (rt RefreshToken) Active(t time.Time) bool {
	return rt.RevokedAt == nil && t.Before(rt.ExpiresAt)
}

// Rotated reports whether the token was consumed by a rotation (as opposed
// to an explicit revoke).
func (rt RefreshToken) Rotated() bool {
	return rt.RevokedAt != nil && rt.ReplacedBy != nil
}
