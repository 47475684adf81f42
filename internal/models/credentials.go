package models

import (
	"fmt"
	"time"
)

// AuthKind identifies how a set of upstream credentials authenticates.
type AuthKind string

const (
	AuthKindPassword    AuthKind = "password"
	AuthKindOAuthBearer AuthKind = "oauth_bearer"
)

// Credentials is the immutable record C1 hands to the connection pools on
// demand. It is never persisted by the core; only the encrypted form backing
// it lives in the credential store (see internal/db).
type Credentials struct {
	Host           string
	Port           int
	User           string
	Secret         string // password, or OAuth2 bearer token
	AuthKind       AuthKind
	TokenExpiresAt *time.Time // only meaningful when AuthKind == AuthKindOAuthBearer
}

// Expired reports whether an OAuth bearer token has already passed its
// expiry. Password credentials are never considered expired.
func (c Credentials) Expired(now time.Time) bool {
	if c.AuthKind != AuthKindOAuthBearer || c.TokenExpiresAt == nil {
		return false
	}
	return c.TokenExpiresAt.Before(now)
}

// Addr returns the host:port pair for dialing.
func (c Credentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CredentialRecord is the persisted, encrypted-at-rest row backing C1: one
// per inbox id, holding both protocols' connection endpoints so a single
// resolve(inbox_id, protocol) call can serve either pool. EncryptedSecret is
// AES-GCM ciphertext; it never holds plaintext.
type CredentialRecord struct {
	InboxID         string
	IMAPHost        string
	IMAPPort        int
	SMTPHost        string
	SMTPPort        int
	Username        string
	AuthKind        AuthKind
	EncryptedSecret []byte
	TokenExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ForProtocol projects the record's endpoint for the given protocol.
func (r CredentialRecord) ForProtocol(p Protocol) (host string, port int) {
	if p == ProtocolSMTP {
		return r.SMTPHost, r.SMTPPort
	}
	return r.IMAPHost, r.IMAPPort
}
