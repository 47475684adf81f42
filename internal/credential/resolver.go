// Package credential implements C1, the Credential Resolver: a pure lookup
// from an opaque inbox id to upstream connection credentials, backed by the
// encrypted Postgres table in internal/db.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/agentmailproxy/mailproxy/internal/crypto"
	"github.com/agentmailproxy/mailproxy/internal/db"
	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
)

// Resolver resolves inbox ids to upstream credentials for a given protocol.
// It performs no I/O beyond the credential store; it never talks to the
// upstream IMAP/SMTP servers itself.
type Resolver struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	log       *logrus.Entry
}

// New builds a Resolver over the given connection pool and secret encryptor.
func New(pool *pgxpool.Pool, encryptor *crypto.Encryptor, log *logrus.Entry) *Resolver {
	return &Resolver{pool: pool, encryptor: encryptor, log: log}
}

// Resolve looks up the credentials for inboxID on the given protocol. It
// returns proxyerr.ErrNotFound if the inbox id is unknown, or
// proxyerr.ErrCredentialExpired if the stored OAuth token has already
// expired.
func (r *Resolver) Resolve(ctx context.Context, inboxID string, protocol models.Protocol) (models.Credentials, error) {
	rec, err := db.GetCredentialRecord(ctx, r.pool, inboxID)
	if err != nil {
		if err == db.ErrCredentialNotFound {
			return models.Credentials{}, fmt.Errorf("resolve %s: %w", idhash.Hash(inboxID), proxyerr.ErrNotFound)
		}
		return models.Credentials{}, fmt.Errorf("resolve %s: %w", idhash.Hash(inboxID), proxyerr.ErrStoreUnavailable)
	}

	secret, err := r.encryptor.Decrypt(inboxID, rec.EncryptedSecret)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("resolve: %w", err)
	}

	host, port := rec.ForProtocol(protocol)
	creds := models.Credentials{
		Host:           host,
		Port:           port,
		User:           rec.Username,
		Secret:         secret,
		AuthKind:       rec.AuthKind,
		TokenExpiresAt: rec.TokenExpiresAt,
	}

	if creds.Expired(time.Now()) {
		r.log.WithFields(logrus.Fields{
			"event":      "credential_expired",
			"inbox_hash": idhash.Hash(inboxID),
			"protocol":   protocol,
		}).Warn("token past expiry")
		return models.Credentials{}, fmt.Errorf("resolve %s: %w", idhash.Hash(inboxID), proxyerr.ErrCredentialExpired)
	}

	return creds, nil
}

// Provision encrypts and upserts a credential record. It is the write side
// of the resolver, used by onboarding tooling rather than the request path.
func (r *Resolver) Provision(ctx context.Context, inboxID string, rec models.CredentialRecord, secret string) error {
	ciphertext, err := r.encryptor.Encrypt(inboxID, secret)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	rec.InboxID = inboxID
	rec.EncryptedSecret = ciphertext
	return db.SaveCredentialRecord(ctx, r.pool, &rec)
}
