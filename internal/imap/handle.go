package imap

import (
	"sync"
	"time"

	imapclient "github.com/emersion/go-imap/client"
)

// handleState is a single handle's position in Building -> Idle <-> InUse ->
// Closing -> Gone. There is no transition back from Closing.
type handleState int

const (
	stateBuilding handleState = iota
	stateIdle
	stateInUse
	stateClosing
	stateGone
)

// handle is the pool's exclusive, mutable IMAP connection for one inbox id.
// mu serialises checkout: a caller holds it for the whole time the handle is
// InUse, so concurrent checkout(id) calls block on the same handle rather
// than racing the underlying stateful IMAP session.
type handle struct {
	mu       sync.Mutex
	inboxID  string
	client   *imapclient.Client
	state    handleState
	lastUsed time.Time

	hits   int64
	misses int64
}

// Handle is the caller-facing checkout result. Client is nil only if the
// pool could not build a connection (an error is returned instead in that
// case, so callers never see a nil Client in practice).
type Handle struct {
	InboxID string
	Client  *imapclient.Client

	h    *handle
	pool *Pool
}

// Outcome tells checkin how to dispose of a handle.
type Outcome int

const (
	// OutcomeOK returns the handle to the idle pool for reuse.
	OutcomeOK Outcome = iota
	// OutcomeFailed closes and drops the handle; the next checkout rebuilds.
	OutcomeFailed
)

// Checkin returns the handle to the pool. It must be called exactly once
// per successful Checkout.
func (h *Handle) Checkin(outcome Outcome) {
	h.pool.checkin(h.h, outcome)
}
