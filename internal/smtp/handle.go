package smtp

import (
	"sync"
	"time"

	smtpclient "github.com/emersion/go-smtp"
)

// handleState mirrors the IMAP pool's Building -> Idle <-> InUse -> Closing
// -> Gone state machine (spec.md section 4.3, reused verbatim by 4.4).
type handleState int

const (
	stateBuilding handleState = iota
	stateIdle
	stateInUse
	stateClosing
	stateGone
)

// handle is the pool's exclusive, mutable SMTP session for one inbox id.
// Unlike IMAP there is no selected mailbox, but the EHLO'd/authenticated
// session state still makes concurrent use of one client unsafe.
type handle struct {
	mu       sync.Mutex
	inboxID  string
	client   *smtpclient.Client
	state    handleState
	lastUsed time.Time

	hits   int64
	misses int64
}

// Handle is the caller-facing checkout result.
type Handle struct {
	InboxID string
	Client  *smtpclient.Client

	h    *handle
	pool *Pool
}

// Outcome tells checkin how to dispose of a handle.
type Outcome int

const (
	// OutcomeOK returns the handle to the idle pool for reuse. A sent
	// message never invalidates an SMTP session (spec.md section 4.4).
	OutcomeOK Outcome = iota
	// OutcomeFailed closes and drops the handle; the next checkout rebuilds.
	OutcomeFailed
)

// Checkin returns the handle to the pool. Must be called exactly once per
// successful Checkout.
func (h *Handle) Checkin(outcome Outcome) {
	h.pool.checkin(h.h, outcome)
}
