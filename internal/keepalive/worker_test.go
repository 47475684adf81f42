package keepalive

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/testutil"
)

type fakePool struct {
	noopAttempted bool
	noopErr       error
	byHash        map[string]string
}

func (f *fakePool) NoopByHash(ctx context.Context, hash string) (bool, error) {
	return f.noopAttempted, f.noopErr
}

func (f *fakePool) LookupInboxID(hash string) (string, bool) {
	id, ok := f.byHash[hash]
	return id, ok
}

type fakeResolver struct {
	creds models.Credentials
	err   error
}

func (f fakeResolver) Resolve(ctx context.Context, inboxID string, protocol models.Protocol) (models.Credentials, error) {
	return f.creds, f.err
}

func TestKeepAliveTouchesDueSession(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	rec := models.SessionRecord{
		CreatedAt:       time.Now().Add(-time.Hour).UnixMilli(),
		LastUsedAt:      time.Now().Add(-time.Hour).UnixMilli(),
		LastRefreshedAt: time.Now().Add(-time.Hour).UnixMilli(),
		TTLSeconds:      60,
		Status:          models.StatusActive,
		OwnerInstance:   "instance-a",
	}
	_, err := store.PutNew(ctx, models.ProtocolIMAP, "user@example.com", rec, time.Hour)
	require.NoError(t, err)

	pool := &fakePool{noopAttempted: true, byHash: map[string]string{}}
	resolver := fakeResolver{}
	w := New(Config{Interval: time.Second}, store, resolver, map[models.Protocol]Pool{
		models.ProtocolIMAP: pool,
	}, logrus.NewEntry(logrus.New()))

	w.Tick(ctx)

	got, err := store.Get(ctx, models.ProtocolIMAP, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Greater(t, got.LastRefreshedAt, rec.LastRefreshedAt)
	assert.Equal(t, int64(1), got.Stats.NoopsOK)
}

func TestKeepAliveSkipsFreshSession(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rec := models.SessionRecord{
		CreatedAt:       now,
		LastUsedAt:      now,
		LastRefreshedAt: now,
		TTLSeconds:      300,
		Status:          models.StatusActive,
		OwnerInstance:   "instance-a",
	}
	_, err := store.PutNew(ctx, models.ProtocolIMAP, "fresh@example.com", rec, time.Hour)
	require.NoError(t, err)

	pool := &fakePool{noopAttempted: true, byHash: map[string]string{}}
	w := New(Config{Interval: time.Second}, store, fakeResolver{}, map[models.Protocol]Pool{
		models.ProtocolIMAP: pool,
	}, logrus.NewEntry(logrus.New()))

	w.Tick(ctx)

	got, err := store.Get(ctx, models.ProtocolIMAP, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, now, got.LastRefreshedAt)
}

func TestKeepAliveTokenExpirySetsRefreshing(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rec := models.SessionRecord{
		CreatedAt:       now,
		LastUsedAt:      now,
		LastRefreshedAt: now,
		TTLSeconds:      300,
		Status:          models.StatusActive,
		OwnerInstance:   "instance-a",
	}
	_, err := store.PutNew(ctx, models.ProtocolIMAP, "oauth@example.com", rec, time.Hour)
	require.NoError(t, err)

	hash := idhash.Hash("oauth@example.com")
	expiresSoon := time.Now().Add(10 * time.Second)
	pool := &fakePool{
		noopAttempted: false,
		byHash:        map[string]string{hash: "oauth@example.com"},
	}
	resolver := fakeResolver{creds: models.Credentials{
		AuthKind:       models.AuthKindOAuthBearer,
		TokenExpiresAt: &expiresSoon,
	}}
	w := New(Config{Interval: time.Second}, store, resolver, map[models.Protocol]Pool{
		models.ProtocolIMAP: pool,
	}, logrus.NewEntry(logrus.New()))

	w.Tick(ctx)

	got, err := store.Get(ctx, models.ProtocolIMAP, "oauth@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefreshing, got.Status)
}

