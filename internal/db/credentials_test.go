package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/db"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/testutil"
)

func TestSaveAndGetCredentialRecord(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := &models.CredentialRecord{
		InboxID:         "agent-inbox-1",
		IMAPHost:        "imap.example.com",
		IMAPPort:        993,
		SMTPHost:        "smtp.example.com",
		SMTPPort:        587,
		Username:        "agent@example.com",
		AuthKind:        models.AuthKindOAuthBearer,
		EncryptedSecret: []byte("ciphertext"),
		TokenExpiresAt:  &expires,
	}

	require.NoError(t, db.SaveCredentialRecord(ctx, pool, rec))

	got, err := db.GetCredentialRecord(ctx, pool, "agent-inbox-1")
	require.NoError(t, err)
	assert.Equal(t, rec.IMAPHost, got.IMAPHost)
	assert.Equal(t, rec.IMAPPort, got.IMAPPort)
	assert.Equal(t, rec.SMTPHost, got.SMTPHost)
	assert.Equal(t, rec.SMTPPort, got.SMTPPort)
	assert.Equal(t, rec.Username, got.Username)
	assert.Equal(t, rec.AuthKind, got.AuthKind)
	assert.Equal(t, rec.EncryptedSecret, got.EncryptedSecret)
	require.NotNil(t, got.TokenExpiresAt)
	assert.True(t, expires.Equal(got.TokenExpiresAt.UTC()))
}

func TestSaveCredentialRecordUpsert(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	rec := &models.CredentialRecord{
		InboxID:         "agent-inbox-2",
		IMAPHost:        "imap.example.com",
		IMAPPort:        993,
		SMTPHost:        "smtp.example.com",
		SMTPPort:        587,
		Username:        "agent@example.com",
		AuthKind:        models.AuthKindPassword,
		EncryptedSecret: []byte("v1"),
	}
	require.NoError(t, db.SaveCredentialRecord(ctx, pool, rec))

	rec.EncryptedSecret = []byte("v2")
	rec.IMAPHost = "imap2.example.com"
	require.NoError(t, db.SaveCredentialRecord(ctx, pool, rec))

	got, err := db.GetCredentialRecord(ctx, pool, "agent-inbox-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.EncryptedSecret)
	assert.Equal(t, "imap2.example.com", got.IMAPHost)
}

func TestGetCredentialRecordNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	_, err := db.GetCredentialRecord(context.Background(), pool, "does-not-exist")
	assert.ErrorIs(t, err, db.ErrCredentialNotFound)
}

func TestDeleteCredentialRecord(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	rec := &models.CredentialRecord{
		InboxID:         "agent-inbox-3",
		IMAPHost:        "imap.example.com",
		IMAPPort:        993,
		SMTPHost:        "smtp.example.com",
		SMTPPort:        587,
		Username:        "agent@example.com",
		AuthKind:        models.AuthKindPassword,
		EncryptedSecret: []byte("v1"),
	}
	require.NoError(t, db.SaveCredentialRecord(ctx, pool, rec))
	require.NoError(t, db.DeleteCredentialRecord(ctx, pool, "agent-inbox-3"))

	_, err := db.GetCredentialRecord(ctx, pool, "agent-inbox-3")
	assert.ErrorIs(t, err, db.ErrCredentialNotFound)
}
