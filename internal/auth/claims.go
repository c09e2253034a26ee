package auth

import "time"

// AccessClaims represents the claims stored in a PASETO access token.
// v4.local tokens are encrypted, so the claims are not readable without the key.
//
// Moderator status is deliberately absent: it is looked up on every request
// so revoking it takes effect before the token expires.
type AccessClaims struct {
	UserID string `json:"user_id"`

	// Standard PASETO claims
	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}
