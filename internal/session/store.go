// Package session implements C2, the Session Store: cross-restart metadata
// for live IMAP/SMTP handles, held in a Redis-semantics external store so a
// restarted proxy instance can rediscover which inbox ids were recently
// active instead of cold-starting every pool.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
)

// Store wraps a Redis client with the C2 contract: get, put_new, touch,
// mark_retired, incr_stat, scan_active. Every operation is atomic with
// respect to a single session key.
type Store struct {
	client *redis.Client
}

// New builds a Store from a redis:// URL (e.g. "redis://localhost:6379/0").
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return nil
}

func key(proto models.Protocol, inboxID string) string {
	return keyForHash(proto, idhash.Hash(inboxID))
}

func keyForHash(proto models.Protocol, hash string) string {
	return fmt.Sprintf("session:%s:%s", proto, hash)
}

// Get returns the session record for (proto, inboxID), or nil if missing.
func (s *Store) Get(ctx context.Context, proto models.Protocol, inboxID string) (*models.SessionRecord, error) {
	fields, err := s.client.HGetAll(ctx, key(proto, inboxID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := decodeRecord(fields)
	return &rec, nil
}

// PutNew creates a session record if one does not already exist for this
// key, returning (true, nil) when it was created and (false, nil) when a
// record already existed.
func (s *Store) PutNew(ctx context.Context, proto models.Protocol, inboxID string, rec models.SessionRecord, ttl time.Duration) (bool, error) {
	k := key(proto, inboxID)

	created, err := s.client.HSetNX(ctx, k, "inbox_id_hash", idhash.Hash(inboxID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if !created {
		return false, nil
	}

	fields := encodeRecord(rec)
	if err := s.client.HSet(ctx, k, fields).Err(); err != nil {
		return true, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
		return true, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return true, nil
}

// Touch resets a session's expiry and last_used_at. It returns false if the
// key does not exist.
func (s *Store) Touch(ctx context.Context, proto models.Protocol, inboxID string, ttl time.Duration) (bool, error) {
	k := key(proto, inboxID)

	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return false, nil
	}

	now := time.Now().UnixMilli()
	if err := s.client.HSet(ctx, k, "last_used_at", now).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return true, nil
}

// MarkRetired flips a session's status to retired without deleting it,
// removing it from scan_active until it expires naturally.
func (s *Store) MarkRetired(ctx context.Context, proto models.Protocol, inboxID string) (bool, error) {
	k := key(proto, inboxID)

	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return false, nil
	}

	if err := s.client.HSet(ctx, k, "status", string(models.StatusRetired)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return true, nil
}

// IncrStat atomically bumps one of the four stat counters. Per spec this
// never fails a caller's request: errors are returned so the caller can log
// and drop them, never propagate them as a request failure.
func (s *Store) IncrStat(ctx context.Context, proto models.Protocol, inboxID, field string, delta int64) error {
	k := key(proto, inboxID)
	if err := s.client.HIncrBy(ctx, k, field, delta).Err(); err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return nil
}

// TouchByHash is Touch for callers that only hold a scan_active record's
// hashed id (the keep-alive worker never learns the raw inbox id back).
func (s *Store) TouchByHash(ctx context.Context, proto models.Protocol, hash string, ttl time.Duration) (bool, error) {
	k := keyForHash(proto, hash)

	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return false, nil
	}

	now := time.Now().UnixMilli()
	if err := s.client.HSet(ctx, k, "last_refreshed_at", now).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return true, nil
}

// IncrStatByHash is IncrStat for callers that only hold a hashed id.
func (s *Store) IncrStatByHash(ctx context.Context, proto models.Protocol, hash, field string, delta int64) error {
	k := keyForHash(proto, hash)
	if err := s.client.HIncrBy(ctx, k, field, delta).Err(); err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return nil
}

// MarkRetiredByHash is MarkRetired for callers that only hold a hashed id.
func (s *Store) MarkRetiredByHash(ctx context.Context, proto models.Protocol, hash string) (bool, error) {
	k := keyForHash(proto, hash)

	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return false, nil
	}

	if err := s.client.HSet(ctx, k, "status", string(models.StatusRetired)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return true, nil
}

// SetStatusByHash records a session's lifecycle status without touching its
// TTL, used by the keep-alive worker to flag a session "refreshing" while an
// OAuth token nears expiry.
func (s *Store) SetStatusByHash(ctx context.Context, proto models.Protocol, hash string, status models.SessionStatus) error {
	k := keyForHash(proto, hash)
	if err := s.client.HSet(ctx, k, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
	}
	return nil
}

// ActiveSession pairs a scanned record with the inbox id hash it was found
// under (scan_active never learns the raw inbox id back from the store).
type ActiveSession struct {
	InboxIDHash string
	Record      models.SessionRecord
}

// ScanActive walks every non-retired session for a protocol via cursor-based
// SCAN, invoking fn for each. It tolerates concurrent mutation (may see
// duplicates or miss recently-added keys) and always terminates.
func (s *Store) ScanActive(ctx context.Context, proto models.Protocol, fn func(ActiveSession) error) error {
	pattern := fmt.Sprintf("session:%s:*", proto)
	prefix := keyForHash(proto, "")
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", proxyerr.ErrStoreUnavailable, err)
		}

		for _, k := range keys {
			fields, err := s.client.HGetAll(ctx, k).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			rec := decodeRecord(fields)
			if rec.Status == models.StatusRetired {
				continue
			}
			if err := fn(ActiveSession{InboxIDHash: k[len(prefix):], Record: rec}); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func encodeRecord(rec models.SessionRecord) map[string]interface{} {
	return map[string]interface{}{
		"inbox_id_hash":     rec.InboxIDHash,
		"created_at":        rec.CreatedAt,
		"last_used_at":      rec.LastUsedAt,
		"last_refreshed_at": rec.LastRefreshedAt,
		"ttl_seconds":       rec.TTLSeconds,
		"status":            string(rec.Status),
		"owner_instance":    rec.OwnerInstance,
	}
}

// decodeRecord reads only the fields it knows about; anything else in the
// hash (from a future field a newer instance wrote) is ignored.
func decodeRecord(fields map[string]string) models.SessionRecord {
	rec := models.SessionRecord{
		InboxIDHash:     fields["inbox_id_hash"],
		CreatedAt:       parseInt64(fields["created_at"]),
		LastUsedAt:      parseInt64(fields["last_used_at"]),
		LastRefreshedAt: parseInt64(fields["last_refreshed_at"]),
		TTLSeconds:      parseInt64(fields["ttl_seconds"]),
		Status:          models.SessionStatus(fields["status"]),
		OwnerInstance:   fields["owner_instance"],
	}
	rec.Stats = models.SessionStats{
		Hits:      parseInt64(fields["hits"]),
		Misses:    parseInt64(fields["misses"]),
		NoopsOK:   parseInt64(fields["noops_ok"]),
		NoopsFail: parseInt64(fields["noops_fail"]),
	}
	return rec
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
