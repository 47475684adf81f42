package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmailproxy/mailproxy/internal/models"
)

// ErrCredentialNotFound is returned when no row exists for an inbox id.
var ErrCredentialNotFound = errors.New("credential record not found")

// GetCredentialRecord returns the persisted, still-encrypted credential row
// for an inbox id.
func GetCredentialRecord(ctx context.Context, pool *pgxpool.Pool, inboxID string) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord

	err := pool.QueryRow(ctx, `
		SELECT
			inbox_id,
			imap_host,
			imap_port,
			smtp_host,
			smtp_port,
			username,
			auth_kind,
			encrypted_secret,
			token_expires_at,
			created_at,
			updated_at
		FROM inbox_credentials
		WHERE inbox_id = $1
	`, inboxID).Scan(
		&rec.InboxID,
		&rec.IMAPHost,
		&rec.IMAPPort,
		&rec.SMTPHost,
		&rec.SMTPPort,
		&rec.Username,
		&rec.AuthKind,
		&rec.EncryptedSecret,
		&rec.TokenExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential record: %w", err)
	}

	return &rec, nil
}

// SaveCredentialRecord upserts a credential row, provisioning or rotating
// the encrypted secret for an inbox id.
func SaveCredentialRecord(ctx context.Context, pool *pgxpool.Pool, rec *models.CredentialRecord) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO inbox_credentials (
			inbox_id,
			imap_host,
			imap_port,
			smtp_host,
			smtp_port,
			username,
			auth_kind,
			encrypted_secret,
			token_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (inbox_id) DO UPDATE SET
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			username = EXCLUDED.username,
			auth_kind = EXCLUDED.auth_kind,
			encrypted_secret = EXCLUDED.encrypted_secret,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
	`,
		rec.InboxID,
		rec.IMAPHost,
		rec.IMAPPort,
		rec.SMTPHost,
		rec.SMTPPort,
		rec.Username,
		rec.AuthKind,
		rec.EncryptedSecret,
		rec.TokenExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save credential record: %w", err)
	}

	return nil
}

// DeleteCredentialRecord removes an inbox's credentials, e.g. on offboarding.
func DeleteCredentialRecord(ctx context.Context, pool *pgxpool.Pool, inboxID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM inbox_credentials WHERE inbox_id = $1`, inboxID)
	if err != nil {
		return fmt.Errorf("failed to delete credential record: %w", err)
	}
	return nil
}
