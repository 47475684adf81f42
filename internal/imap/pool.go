// Package imap implements C3, the IMAP Connection Pool: one exclusive,
// persistent IMAP4rev1 handle per inbox id, health-probed and LRU-bounded,
// with hit/miss/liveness accounting mirrored into the session store.
package imap

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
	"github.com/agentmailproxy/mailproxy/internal/session"
)

// CredentialResolver is the subset of credential.Resolver the pool needs.
// Declared here so tests can supply a fake without a Postgres dependency.
type CredentialResolver interface {
	Resolve(ctx context.Context, inboxID string, protocol models.Protocol) (models.Credentials, error)
}

// Config bounds and tunes the pool.
type Config struct {
	MaxLiveHandles     int
	IdleProbeThreshold time.Duration
	SessionTTL         time.Duration
	UseTLS             bool
	InstanceID         string
}

// Pool is the C3 connection pool: one *handle per inbox id, evicted LRU-wise
// once the live set exceeds MaxLiveHandles.
type Pool struct {
	cfg      Config
	resolver CredentialResolver
	store    *session.Store
	log      *logrus.Entry

	mu      sync.Mutex
	handles map[string]*handle
	lru     *list.List
	elems   map[string]*list.Element
	// byHash lets the keep-alive worker (internal/keepalive) find a live
	// handle from the hashed id a scan_active record carries, since the
	// session store never learns the raw inbox id back (see idhash).
	byHash map[string]string
}

// New builds an IMAP connection pool.
func New(cfg Config, resolver CredentialResolver, store *session.Store, log *logrus.Entry) *Pool {
	return &Pool{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		log:      log,
		handles:  make(map[string]*handle),
		lru:      list.New(),
		elems:    make(map[string]*list.Element),
		byHash:   make(map[string]string),
	}
}

// Checkout acquires the single handle for inboxID, blocking concurrent
// callers for the same id. It builds a new connection on first use or after
// a failed health probe.
func (p *Pool) Checkout(ctx context.Context, inboxID string) (*Handle, error) {
	h := p.acquireEntry(inboxID)

	hit, err := p.ensureConnected(ctx, h)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}

	h.state = stateInUse
	p.recordCheckout(ctx, h, inboxID, hit)

	return &Handle{InboxID: inboxID, Client: h.client, h: h, pool: p}, nil
}

// acquireEntry gets or creates the handle map entry for inboxID, touches its
// LRU position, and returns it with h.mu already held. It always locks the
// handle before releasing p.mu, so evictLocked (which also runs under p.mu
// and only evicts handles it can TryLock) can never win a race against a
// caller that has already claimed this entry: either this call grabs h.mu
// first, in which case eviction's TryLock against it fails, or eviction
// grabs it first, in which case this call blocks and re-checks state==gone
// once it acquires the lock and retries if so.
func (p *Pool) acquireEntry(inboxID string) *handle {
	for {
		p.mu.Lock()
		h, exists := p.handles[inboxID]
		if !exists {
			h = &handle{inboxID: inboxID, state: stateBuilding}
			p.handles[inboxID] = h
			p.elems[inboxID] = p.lru.PushFront(h)
			p.byHash[idhash.Hash(inboxID)] = inboxID
		} else {
			p.lru.MoveToFront(p.elems[inboxID])
		}

		locked := h.mu.TryLock()
		p.evictLocked()
		p.mu.Unlock()

		if locked {
			return h
		}

		// Someone else holds h.mu right now: either it's checked out, or
		// eviction is mid-flight against it. Block for it, then make sure
		// we didn't just inherit an evicted handle.
		h.mu.Lock()
		if h.state == stateGone {
			h.mu.Unlock()
			continue
		}
		return h
	}
}

// evictLocked drops the least-recently-used idle handle once the pool holds
// more than cfg.MaxLiveHandles entries. Handles currently InUse are never
// evicted; if every entry is busy the pool is briefly allowed to exceed the
// bound rather than block or fail a checkout.
func (p *Pool) evictLocked() {
	if p.cfg.MaxLiveHandles <= 0 {
		return
	}
	for len(p.handles) > p.cfg.MaxLiveHandles {
		elem := p.lru.Back()
		evicted := false
		for elem != nil {
			candidate := elem.Value.(*handle)
			prev := elem.Prev()
			if candidate.mu.TryLock() {
				if candidate.state == stateIdle {
					candidate.state = stateClosing
					if candidate.client != nil {
						_ = candidate.client.Logout()
						candidate.client = nil
					}
					candidate.state = stateGone
					candidate.mu.Unlock()
					delete(p.handles, candidate.inboxID)
					delete(p.elems, candidate.inboxID)
					delete(p.byHash, idhash.Hash(candidate.inboxID))
					p.lru.Remove(elem)
					evicted = true
				} else {
					candidate.mu.Unlock()
				}
			}
			if evicted {
				break
			}
			elem = prev
		}
		if !evicted {
			return
		}
	}
}

// ensureConnected makes sure h.client is a live, authenticated connection,
// probing or rebuilding as needed. It returns whether this checkout was a
// hit (reused an already-healthy handle) or a miss (built a new one).
func (p *Pool) ensureConnected(ctx context.Context, h *handle) (hit bool, err error) {
	if h.client != nil {
		if time.Since(h.lastUsed) <= p.cfg.IdleProbeThreshold || probe(h.client) {
			return true, nil
		}
		_ = h.client.Logout()
		h.client = nil
	}

	creds, err := p.resolver.Resolve(ctx, h.inboxID, models.ProtocolIMAP)
	if err != nil {
		return false, err
	}

	c, buildErr := build(creds, p.cfg.UseTLS)
	if buildErr != nil {
		c, buildErr = build(creds, p.cfg.UseTLS)
		if buildErr != nil {
			return false, fmt.Errorf("checkout %s: %w", idhash.Hash(h.inboxID), proxyerr.ErrUpstreamUnavailable)
		}
	}

	h.client = c
	return false, nil
}

// recordCheckout mirrors hit/miss accounting into local counters (used as a
// fallback when the store is unreachable) and the session store.
func (p *Pool) recordCheckout(ctx context.Context, h *handle, inboxID string, hit bool) {
	field := "misses"
	if hit {
		field = "hits"
		h.hits++
	} else {
		h.misses++
	}

	// Touch/PutNew must run before IncrStat: HINCRBY auto-creates the hash
	// key on a cold id with only the stat field set, which would make the
	// Touch below see the key as already existing and skip PutNew entirely
	// — leaving inbox_id_hash, status, and created_at unset forever.
	now := time.Now().UnixMilli()
	touched, err := p.store.Touch(ctx, models.ProtocolIMAP, inboxID, p.cfg.SessionTTL)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"event":      "store_unreachable",
			"inbox_hash": idhash.Hash(inboxID),
		}).Warn("failed to touch session")
		return
	}
	if !touched {
		rec := models.SessionRecord{
			InboxIDHash:     idhash.Hash(inboxID),
			CreatedAt:       now,
			LastUsedAt:      now,
			LastRefreshedAt: now,
			TTLSeconds:      int64(p.cfg.SessionTTL / time.Second),
			Status:          models.StatusActive,
			OwnerInstance:   p.cfg.InstanceID,
		}
		if _, err := p.store.PutNew(ctx, models.ProtocolIMAP, inboxID, rec, p.cfg.SessionTTL); err != nil {
			p.log.WithFields(logrus.Fields{
				"event":      "store_unreachable",
				"inbox_hash": idhash.Hash(inboxID),
			}).Warn("failed to persist new session")
		}
	}

	if err := p.store.IncrStat(ctx, models.ProtocolIMAP, inboxID, field, 1); err != nil {
		p.log.WithFields(logrus.Fields{
			"event":      "store_unreachable",
			"inbox_hash": idhash.Hash(inboxID),
		}).Warn("failed to record stat")
	}
}

// checkin returns a handle to the idle pool, or closes and drops it if the
// caller reports failure.
func (p *Pool) checkin(h *handle, outcome Outcome) {
	if outcome == OutcomeFailed && h.client != nil {
		_ = h.client.Logout()
		h.client = nil
	}
	h.state = stateIdle
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// Stats reports hit/miss/live counters. With a non-empty inboxID, it reports
// that inbox's counters; with an empty inboxID, it aggregates across every
// inbox id the pool currently tracks. It falls back to in-memory counters
// when the session store is unreachable (see S7).
func (p *Pool) Stats(ctx context.Context, inboxID string) (models.PoolStats, error) {
	if inboxID != "" {
		return p.statsForID(ctx, inboxID)
	}
	return p.aggregateStats(ctx)
}

func (p *Pool) statsForID(ctx context.Context, inboxID string) (models.PoolStats, error) {
	p.mu.Lock()
	h, exists := p.handles[inboxID]
	p.mu.Unlock()

	live := 0
	var localHits, localMisses int64
	if exists {
		h.mu.Lock()
		if h.client != nil {
			live = 1
		}
		localHits, localMisses = h.hits, h.misses
		h.mu.Unlock()
	}

	rec, err := p.store.Get(ctx, models.ProtocolIMAP, inboxID)
	if err != nil || rec == nil {
		return models.PoolStats{Hits: localHits, Misses: localMisses, Live: live}, nil
	}
	return models.PoolStats{Hits: rec.Stats.Hits, Misses: rec.Stats.Misses, Live: live}, nil
}

func (p *Pool) aggregateStats(ctx context.Context) (models.PoolStats, error) {
	p.mu.Lock()
	live := 0
	var localHits, localMisses int64
	for _, h := range p.handles {
		h.mu.Lock()
		if h.client != nil {
			live++
		}
		localHits += h.hits
		localMisses += h.misses
		h.mu.Unlock()
	}
	p.mu.Unlock()

	var storeHits, storeMisses int64
	err := p.store.ScanActive(ctx, models.ProtocolIMAP, func(s session.ActiveSession) error {
		storeHits += s.Record.Stats.Hits
		storeMisses += s.Record.Stats.Misses
		return nil
	})
	if err != nil {
		return models.PoolStats{Hits: localHits, Misses: localMisses, Live: live}, nil
	}
	return models.PoolStats{Hits: storeHits, Misses: storeMisses, Live: live}, nil
}

// Close logs out every live handle. Intended for graceful shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.handles {
		h.mu.Lock()
		if h.client != nil {
			_ = h.client.Logout()
			h.client = nil
		}
		h.state = stateGone
		h.mu.Unlock()
	}
}
