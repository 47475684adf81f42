package smtp

import (
	"context"
	"time"
)

// LookupInboxID mirrors the IMAP pool's method of the same name.
func (p *Pool) LookupInboxID(hash string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inboxID, ok := p.byHash[hash]
	return inboxID, ok
}

// NoopByHash mirrors internal/imap's method of the same name: it resolves
// a scan_active record's inbox id hash back to a live handle and issues
// NOOP against it, for the keep-alive worker (C5).
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
// currently holds one and it is idle.
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
		_ = h.client.Close()
		h.client = nil
		return true, nerr
	}

	h.lastUsed = time.Now()
	return true, nil
}
