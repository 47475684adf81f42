package models

// Protocol distinguishes the two session families the pool/store manage.
type Protocol string

const (
	ProtocolIMAP Protocol = "imap"
	ProtocolSMTP Protocol = "smtp"
)

// SessionStatus is the lifecycle state of a persisted session record.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusRefreshing SessionStatus = "refreshing"
	StatusRetired    SessionStatus = "retired"
)

// SessionStats are the atomic counters kept alongside a session record.
// They are only ever mutated via the store's server-side increments; core
// code never sums or writes them from an in-memory cache.
type SessionStats struct {
	Hits      int64 `redis:"hits"`
	Misses    int64 `redis:"misses"`
	NoopsOK   int64 `redis:"noops_ok"`
	NoopsFail int64 `redis:"noops_fail"`
}

// SessionRecord is the metadata persisted in the session store for one
// (protocol, inbox id) pair. It is distinct from the in-memory live handle
// held by the connection pools.
type SessionRecord struct {
	InboxIDHash      string        `redis:"inbox_id_hash"`
	CreatedAt        int64         `redis:"created_at"`         // unix ms
	LastUsedAt       int64         `redis:"last_used_at"`       // unix ms
	LastRefreshedAt  int64         `redis:"last_refreshed_at"`  // unix ms
	TTLSeconds       int64         `redis:"ttl_seconds"`
	Status           SessionStatus `redis:"status"`
	OwnerInstance    string        `redis:"owner_instance"`
	Stats            SessionStats  `redis:"-"`
}

// PoolStats is the aggregate view returned by pool_stats.
type PoolStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Live   int   `json:"live"`
}
