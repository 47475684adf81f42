// Package keepalive implements C5: a fixed-interval sweep over C2's active
// sessions that refreshes their TTLs and, where this instance holds the live
// handle, issues a protocol NOOP to confirm the upstream connection is still
// good.
package keepalive

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/session"
)

// Pool is the subset of imap.Pool / smtp.Pool the worker depends on. Declared
// here so the worker can be tested without a live IMAP/SMTP server.
type Pool interface {
	NoopByHash(ctx context.Context, hash string) (attempted bool, err error)
	LookupInboxID(hash string) (string, bool)
}

// CredentialResolver is the subset of credential.Resolver needed for the
// OAuth expiry check (spec.md section 4.5, step 4).
type CredentialResolver interface {
	Resolve(ctx context.Context, inboxID string, protocol models.Protocol) (models.Credentials, error)
}

// Config tunes the worker's tick cadence.
type Config struct {
	Interval     time.Duration
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 25 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	return c
}

// tokenExpiryWarning is how far ahead of an OAuth token's expiry the worker
// starts emitting token_expiring_soon events.
const tokenExpiryWarning = 60 * time.Second

// Worker is C5.
type Worker struct {
	cfg      Config
	store    *session.Store
	resolver CredentialResolver
	pools    map[models.Protocol]Pool
	log      *logrus.Entry
}

// New builds a keep-alive worker over the given pools, keyed by protocol.
func New(cfg Config, store *session.Store, resolver CredentialResolver, pools map[models.Protocol]Pool, log *logrus.Entry) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		store:    store,
		resolver: resolver,
		pools:    pools,
		log:      log,
	}
}

// Run blocks, ticking at cfg.Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep across both protocols. Exported so callers (and tests)
// can drive it deterministically instead of waiting on the ticker.
func (w *Worker) Tick(ctx context.Context) {
	for proto, pool := range w.pools {
		w.tickProtocol(ctx, proto, pool)
	}
}

func (w *Worker) tickProtocol(ctx context.Context, proto models.Protocol, pool Pool) {
	total, success, failed := 0, 0, 0

	scanCtx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
	defer cancel()

	err := w.store.ScanActive(scanCtx, proto, func(active session.ActiveSession) error {
		total++
		if w.refreshOne(ctx, proto, pool, active) {
			success++
		} else {
			failed++
		}
		return nil
	})
	if err != nil {
		w.log.WithFields(logrus.Fields{
			"event":    "store_unreachable",
			"protocol": proto,
		}).Warn("keep-alive scan failed, retrying next tick")
		return
	}

	w.log.WithFields(logrus.Fields{
		"event":    "noop_cycle_complete",
		"protocol": proto,
		"total":    total,
		"success":  success,
		"failed":   failed,
	}).Info("keep-alive tick complete")
}

// refreshOne implements spec.md section 4.5 steps 2 and 4 for a single
// scanned record. It reports false only when a NOOP was attempted and
// failed, or the TTL refresh itself could not be written.
func (w *Worker) refreshOne(ctx context.Context, proto models.Protocol, pool Pool, active session.ActiveSession) bool {
	rec := active.Record
	hash := active.InboxIDHash

	w.checkTokenExpiry(ctx, proto, pool, hash)

	dueBy := time.Duration(rec.TTLSeconds)*time.Second - 2*w.cfg.Interval
	age := time.Since(time.UnixMilli(rec.LastRefreshedAt))
	if age < dueBy {
		return true
	}

	attempted, noopErr := pool.NoopByHash(ctx, hash)
	if attempted {
		statField, logField := "noops_ok", "noop_ok"
		if noopErr != nil {
			statField, logField = "noops_fail", "noop_failed"
		}
		if err := w.store.IncrStatByHash(ctx, proto, hash, statField, 1); err != nil {
			w.log.WithFields(logrus.Fields{
				"event":      "store_unreachable",
				"protocol":   proto,
				"inbox_hash": hash,
			}).Warn("failed to record noop stat")
		}
		w.log.WithFields(logrus.Fields{
			"event":      logField,
			"protocol":   proto,
			"inbox_hash": hash,
		}).Debug("keep-alive noop")
	}

	// Touch regardless of whether a NOOP was attempted: a different
	// instance may own the live handle, and TTL refresh alone extends the
	// record's visibility until that instance's own tick probes it.
	touchCtx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
	defer cancel()
	touched, err := w.store.TouchByHash(touchCtx, proto, hash, time.Duration(rec.TTLSeconds)*time.Second)
	if err != nil {
		w.log.WithFields(logrus.Fields{
			"event":      "store_unreachable",
			"protocol":   proto,
			"inbox_hash": hash,
		}).Warn("failed to refresh session ttl")
		return false
	}
	if !touched {
		// TTL already elapsed and the store dropped the key; a future
		// checkout will rebuild it (spec.md section 4.5 step 3).
		return true
	}

	return !attempted || noopErr == nil
}

// checkTokenExpiry implements spec.md section 4.5 step 4: it only runs when
// this instance still holds the live handle, since resolving credentials
// needs the raw inbox id that scan_active never exposes.
func (w *Worker) checkTokenExpiry(ctx context.Context, proto models.Protocol, pool Pool, hash string) {
	inboxID, ok := pool.LookupInboxID(hash)
	if !ok {
		return
	}

	creds, err := w.resolver.Resolve(ctx, inboxID, proto)
	if err != nil || creds.AuthKind != models.AuthKindOAuthBearer || creds.TokenExpiresAt == nil {
		return
	}

	if time.Until(*creds.TokenExpiresAt) >= tokenExpiryWarning {
		return
	}

	w.log.WithFields(logrus.Fields{
		"event":      "token_expiring_soon",
		"protocol":   proto,
		"inbox_hash": hash,
	}).Warn("oauth token nearing expiry")

	if err := w.store.SetStatusByHash(ctx, proto, hash, models.StatusRefreshing); err != nil {
		w.log.WithFields(logrus.Fields{
			"event":      "store_unreachable",
			"protocol":   proto,
			"inbox_hash": hash,
		}).Warn("failed to mark session refreshing")
	}
}
