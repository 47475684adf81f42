package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/session"
	"github.com/agentmailproxy/mailproxy/internal/testutil"
)

type fakeResolver struct {
	addr string
	user string
	pass string
}

func (f fakeResolver) Resolve(ctx context.Context, inboxID string, protocol models.Protocol) (models.Credentials, error) {
	host, portStr, _ := strings.Cut(f.addr, ":")
	port, _ := strconv.Atoi(portStr)
	return models.Credentials{
		Host:     host,
		Port:     port,
		User:     f.user,
		Secret:   f.pass,
		AuthKind: models.AuthKindPassword,
	}, nil
}

func newTestPool(t *testing.T, srv *testutil.TestIMAPServer, store *session.Store) *Pool {
	t.Helper()
	resolver := fakeResolver{addr: srv.Address, user: srv.Username(), pass: srv.Password()}
	return New(Config{
		MaxLiveHandles:     512,
		IdleProbeThreshold: time.Minute,
		SessionTTL:         5 * time.Minute,
		UseTLS:             false,
		InstanceID:         "test-instance",
	}, resolver, store, logrus.NewEntry(logrus.New()))
}

// S4 — warm checkout: 20 sequential checkouts against a fresh id yield
// exactly one miss and nineteen hits.
func TestIMAPPoolColdThenWarm(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	pool := newTestPool(t, srv, store)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		h, err := pool.Checkout(ctx, "user@example.com")
		require.NoError(t, err)
		h.Checkin(OutcomeOK)
	}

	stats, err := pool.Stats(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(19), stats.Hits)
}

// Property 1 — per-id exclusivity: concurrent checkouts for one id never
// overlap in-use.
func TestIMAPPoolExclusivity(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	pool := newTestPool(t, srv, store)
	ctx := context.Background()

	const n = 10
	counter := 0
	maxObserved := 0
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			h, err := pool.Checkout(ctx, "shared@example.com")
			if err != nil {
				return
			}
			counter++
			if counter > maxObserved {
				maxObserved = counter
			}
			time.Sleep(time.Millisecond)
			counter--
			h.Checkin(OutcomeOK)
		}()
	}

	for i := 0; i < n; i++ {
		<-done
	}

	assert.Equal(t, 1, maxObserved)
}

// S6 — expired session: deleting the session key and issuing a checkout
// still succeeds and records exactly one additional miss.
func TestIMAPPoolExpiredSessionRebuild(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	pool := newTestPool(t, srv, store)
	ctx := context.Background()

	h, err := pool.Checkout(ctx, "user2@example.com")
	require.NoError(t, err)
	h.Checkin(OutcomeOK)

	_, err = store.MarkRetired(ctx, models.ProtocolIMAP, "user2@example.com")
	require.NoError(t, err)

	h2, err := pool.Checkout(ctx, "user2@example.com")
	require.NoError(t, err)
	h2.Checkin(OutcomeOK)

	stats, err := pool.Stats(ctx, "user2@example.com")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Misses, int64(1))
}

// Regression for the acquireEntry/evictLocked race: eviction pressure from
// unrelated ids must never let a caller resurrect a handle that was
// concurrently evicted out from under it, which would let two callers hold
// the same id's handle at once.
func TestIMAPPoolExclusivityUnderEvictionPressure(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	resolver := fakeResolver{addr: srv.Address, user: srv.Username(), pass: srv.Password()}
	pool := New(Config{
		MaxLiveHandles:     2,
		IdleProbeThreshold: time.Minute,
		SessionTTL:         5 * time.Minute,
		UseTLS:             false,
		InstanceID:         "test-instance",
	}, resolver, store, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	const target = "shared@example.com"
	const noiseWorkers = 8
	const targetWorkers = 4
	const rounds = 30

	var mu sync.Mutex
	inUse := 0
	maxObserved := 0
	var wg sync.WaitGroup

	// Noise goroutines constantly check other ids in and out, keeping
	// eviction pressure on the pool's small MaxLiveHandles bound.
	for i := 0; i < noiseWorkers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("noise%d@example.com", i)
			for r := 0; r < rounds; r++ {
				h, err := pool.Checkout(ctx, id)
				if err != nil {
					continue
				}
				h.Checkin(OutcomeOK)
			}
		}(i)
	}

	// Target goroutines repeatedly check the same id in and out; exclusivity
	// must hold even while eviction is actively reclaiming other entries.
	for i := 0; i < targetWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				h, err := pool.Checkout(ctx, target)
				if err != nil {
					continue
				}

				mu.Lock()
				inUse++
				if inUse > maxObserved {
					maxObserved = inUse
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inUse--
				mu.Unlock()

				h.Checkin(OutcomeOK)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxObserved)
}

// S5 — restart survival: a fresh pool over the same store still reports the
// persisted hit/miss counters for an id it never itself checked out.
func TestIMAPPoolStatsSurvivesRestart(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	ctx := context.Background()

	pool1 := newTestPool(t, srv, store)
	for i := 0; i < 3; i++ {
		h, err := pool1.Checkout(ctx, "restart@example.com")
		require.NoError(t, err)
		h.Checkin(OutcomeOK)
	}

	pool2 := newTestPool(t, srv, store)
	stats, err := pool2.Stats(ctx, "restart@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, 0, stats.Live)
}

// S7 — store outage: checkouts keep succeeding and pool_stats falls back to
// in-memory counters when the session store becomes unreachable.
func TestIMAPPoolStatsFallsBackOnStoreOutage(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	store := testutil.NewTestStore(t)
	pool := newTestPool(t, srv, store)
	ctx := context.Background()

	h1, err := pool.Checkout(ctx, "outage@example.com")
	require.NoError(t, err)
	h1.Checkin(OutcomeOK)

	h2, err := pool.Checkout(ctx, "outage@example.com")
	require.NoError(t, err)
	h2.Checkin(OutcomeOK)

	require.NoError(t, store.Close())

	h3, err := pool.Checkout(ctx, "outage@example.com")
	require.NoError(t, err, "checkout must still succeed when the store is unreachable")
	h3.Checkin(OutcomeOK)

	stats, err := pool.Stats(ctx, "outage@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, 1, stats.Live)
}

func TestIMAPPoolFetchRecent(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)
	srv.AddMessage(t, "INBOX", "<m1@example.com>", "Hi", "a@example.com", "b@example.com", time.Now())
	srv.AddMessage(t, "INBOX", "<m2@example.com>", "Hi again", "a@example.com", "b@example.com", time.Now())

	store := testutil.NewTestStore(t)
	pool := newTestPool(t, srv, store)
	ctx := context.Background()

	raw, err := pool.FetchRecent(ctx, "user3@example.com", 1)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Contains(t, string(raw[0]), "Hi again")
}
