package imap

import (
	"context"
	"time"
)

// LookupInboxID reverses a hash back to the raw inbox id, but only when this
// instance has itself checked the id out since restart. The keep-alive
// worker uses it to look up OAuth credentials for the token-expiry check;
// when it returns false the worker skips that check for this tick rather
// than treating it as an error.
func (p *Pool) LookupInboxID(hash string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inboxID, ok := p.byHash[hash]
	return inboxID, ok
}

// NoopByHash resolves a scan_active record's inbox id hash back to a live
// handle and issues NOOP against it, for the keep-alive worker (C5). It
// never blocks waiting for an in-flight request: if the handle is
// currently checked out, this tick is skipped and the worker falls back to
// a TTL-only refresh (spec.md section 4.5).
func (p *Pool) NoopByHash(ctx context.Context, hash string) (attempted bool, err error) {
	p.mu.Lock()
	inboxID, ok := p.byHash[hash]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return p.Noop(ctx, inboxID)
}

// Noop issues a liveness probe against inboxID's live handle if the pool
// currently holds one and it is idle. attempted is false when there is no
// in-memory handle to probe (a different instance owns it, or it hasn't
// been checked out since restart).
func (p *Pool) Noop(ctx context.Context, inboxID string) (attempted bool, err error) {
	p.mu.Lock()
	h, exists := p.handles[inboxID]
	p.mu.Unlock()
	if !exists {
		return false, nil
	}

	if !h.mu.TryLock() {
		return false, nil
	}
	defer h.mu.Unlock()

	if h.client == nil || h.state != stateIdle {
		return false, nil
	}

	if nerr := h.client.Noop(); nerr != nil {
		_ = h.client.Logout()
		h.client = nil
		return true, nerr
	}

	h.lastUsed = time.Now()
	return true, nil
}
