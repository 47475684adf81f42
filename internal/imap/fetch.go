package imap

import (
	"context"
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
)

// FetchRecent checks out inboxID's handle, lists the n most recent UIDs in
// INBOX, and fetches each one's raw RFC 5322 bytes (BODY.PEEK[], so flags are
// left untouched). It always checks the handle back in.
func (p *Pool) FetchRecent(ctx context.Context, inboxID string, n int) ([][]byte, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return nil, err
	}

	raw, err := fetchRecent(h.Client, n)
	if err != nil {
		h.Checkin(OutcomeFailed)
		return nil, fmt.Errorf("fetch recent %s: %w", idhash.Hash(inboxID), proxyerr.ErrUpstreamProtocolError)
	}

	h.Checkin(OutcomeOK)
	return raw, nil
}

func fetchRecent(c *imapclient.Client, n int) ([][]byte, error) {
	uids, err := searchAllUIDs(c)
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > n {
		uids = uids[len(uids)-n:]
	}
	if len(uids) == 0 {
		return [][]byte{}, nil
	}

	return fetchRawBodies(c, uids)
}

func searchAllUIDs(c *imapclient.Client) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = nil
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	return uids, nil
}

func fetchRawBodies(c *imapclient.Client, uids []uint32) ([][]byte, error) {
	byUID, err := fetchRawBodiesMap(c, uids)
	if err != nil {
		return nil, err
	}

	result := make([][]byte, 0, len(uids))
	for _, uid := range uids {
		if b, ok := byUID[uid]; ok {
			result = append(result, b)
		}
	}
	return result, nil
}

func fetchRawBodiesMap(c *imapclient.Client, uids []uint32) (map[uint32][]byte, error) {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	byUID := make(map[uint32][]byte, len(uids))
	for msg := range messages {
		lit := msg.GetBody(section)
		if lit == nil {
			continue
		}
		buf := make([]byte, lit.Len())
		if _, err := lit.Read(buf); err != nil {
			continue
		}
		byUID[msg.Uid] = buf
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch bodies: %w", err)
	}
	return byUID, nil
}

// FetchedMessage pairs a UID with its raw RFC 5322 bytes.
type FetchedMessage struct {
	UID uint32
	Raw []byte
}

// FetchPage lists UIDs in INBOX newest-first and returns raw bytes for up to
// limit messages older than cursor (cursor == 0 starts from the newest).
// nextCursor is 0 once there is nothing older left to page through.
func (p *Pool) FetchPage(ctx context.Context, inboxID string, limit int, cursor uint32) ([]FetchedMessage, uint32, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return nil, 0, err
	}

	msgs, next, err := fetchPage(h.Client, limit, cursor)
	if err != nil {
		h.Checkin(OutcomeFailed)
		return nil, 0, fmt.Errorf("fetch page %s: %w", idhash.Hash(inboxID), proxyerr.ErrUpstreamProtocolError)
	}

	h.Checkin(OutcomeOK)
	return msgs, next, nil
}

func fetchPage(c *imapclient.Client, limit int, cursor uint32) ([]FetchedMessage, uint32, error) {
	uids, err := searchAllUIDs(c)
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if cursor != 0 {
		filtered := uids[:0]
		for _, uid := range uids {
			if uid < cursor {
				filtered = append(filtered, uid)
			}
		}
		uids = filtered
	}

	var next uint32
	if len(uids) > limit {
		next = uids[limit-1]
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return nil, next, nil
	}

	byUID, err := fetchRawBodiesMap(c, uids)
	if err != nil {
		return nil, 0, err
	}

	result := make([]FetchedMessage, 0, len(uids))
	for _, uid := range uids {
		if b, ok := byUID[uid]; ok {
			result = append(result, FetchedMessage{UID: uid, Raw: b})
		}
	}
	return result, next, nil
}

// FetchByUID checks out inboxID's handle and fetches a single message's raw
// bytes by UID, returning proxyerr.ErrNotFound if no such UID exists.
func (p *Pool) FetchByUID(ctx context.Context, inboxID string, uid uint32) ([]byte, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return nil, err
	}

	byUID, err := fetchRawBodiesMap(h.Client, []uint32{uid})
	if err != nil {
		h.Checkin(OutcomeFailed)
		return nil, fmt.Errorf("fetch uid %s: %w", idhash.Hash(inboxID), proxyerr.ErrUpstreamProtocolError)
	}

	h.Checkin(OutcomeOK)
	raw, ok := byUID[uid]
	if !ok {
		return nil, proxyerr.ErrNotFound
	}
	return raw, nil
}
