package credential

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
	"github.com/agentmailproxy/mailproxy/internal/testutil"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestResolverResolveRoundTrip(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	encryptor := testutil.GetTestEncryptor(t)
	r := New(pool, encryptor, testLogger())

	ctx := context.Background()
	rec := models.CredentialRecord{
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Username: "agent@example.com",
		AuthKind: models.AuthKindPassword,
	}
	require.NoError(t, r.Provision(ctx, "inbox-a", rec, "s3cr3t"))

	imapCreds, err := r.Resolve(ctx, "inbox-a", models.ProtocolIMAP)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", imapCreds.Host)
	assert.Equal(t, 993, imapCreds.Port)
	assert.Equal(t, "s3cr3t", imapCreds.Secret)

	smtpCreds, err := r.Resolve(ctx, "inbox-a", models.ProtocolSMTP)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", smtpCreds.Host)
	assert.Equal(t, 587, smtpCreds.Port)
}

func TestResolverNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	r := New(pool, testutil.GetTestEncryptor(t), testLogger())

	_, err := r.Resolve(context.Background(), "missing-inbox", models.ProtocolIMAP)
	assert.ErrorIs(t, err, proxyerr.ErrNotFound)
}

func TestResolverCredentialExpired(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	r := New(pool, testutil.GetTestEncryptor(t), testLogger())

	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	rec := models.CredentialRecord{
		IMAPHost:       "imap.example.com",
		IMAPPort:       993,
		SMTPHost:       "smtp.example.com",
		SMTPPort:       587,
		Username:       "agent@example.com",
		AuthKind:       models.AuthKindOAuthBearer,
		TokenExpiresAt: &past,
	}
	require.NoError(t, r.Provision(ctx, "inbox-expired", rec, "bearer-token"))

	_, err := r.Resolve(ctx, "inbox-expired", models.ProtocolIMAP)
	assert.ErrorIs(t, err, proxyerr.ErrCredentialExpired)
}
