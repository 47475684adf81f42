// Package handler implements C7, the thin handler layer: it binds the four
// external operations (list_messages, send_message, get_message,
// pool_stats) to C1/C3/C4/C6, adding no business logic of its own beyond
// wiring credentials, pooled connections, and the transformer together.
package handler

import (
	"context"
	"fmt"

	"github.com/agentmailproxy/mailproxy/internal/imap"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
	"github.com/agentmailproxy/mailproxy/internal/transform"
)

// IMAPPool is the subset of imap.Pool the handler needs.
type IMAPPool interface {
	FetchPage(ctx context.Context, inboxID string, limit int, cursor uint32) ([]imap.FetchedMessage, uint32, error)
	FetchByUID(ctx context.Context, inboxID string, uid uint32) ([]byte, error)
	Stats(ctx context.Context, inboxID string) (models.PoolStats, error)
}

// SMTPPool is the subset of smtp.Pool the handler needs.
type SMTPPool interface {
	Send(ctx context.Context, inboxID string, req models.SendRequest) (string, error)
	Stats(ctx context.Context, inboxID string) (models.PoolStats, error)
}

// Handler is C7.
type Handler struct {
	imapPool IMAPPool
	smtpPool SMTPPool
	opts     transform.Options
}

// New builds a handler over the given pools with the given transformer
// options (see transform.DefaultOptions).
func New(imapPool IMAPPool, smtpPool SMTPPool, opts transform.Options) *Handler {
	return &Handler{imapPool: imapPool, smtpPool: smtpPool, opts: opts}
}

// MessagePage is the result of list_messages: a page of transformed
// messages plus a cursor for the next page (0 when exhausted).
type MessagePage struct {
	Messages   []models.TransformedMessage `json:"messages"`
	NextCursor uint32                      `json:"next_cursor"`
}

// ListMessages is list_messages: fetch a page of raw messages via C3 and run
// each through C6.
func (h *Handler) ListMessages(ctx context.Context, inboxID string, limit int, cursor uint32) (MessagePage, error) {
	if limit <= 0 {
		limit = 20
	}

	fetched, next, err := h.imapPool.FetchPage(ctx, inboxID, limit, cursor)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]models.TransformedMessage, 0, len(fetched))
	for _, f := range fetched {
		msg := transform.Transform(ctx, f.Raw, h.opts)
		msg.UID = f.UID
		messages = append(messages, msg)
	}

	return MessagePage{Messages: messages, NextCursor: next}, nil
}

// GetMessage is get_message: fetch one message by UID via C3 and run it
// through C6.
func (h *Handler) GetMessage(ctx context.Context, inboxID string, uid uint32) (models.TransformedMessage, error) {
	raw, err := h.imapPool.FetchByUID(ctx, inboxID, uid)
	if err != nil {
		return models.TransformedMessage{}, fmt.Errorf("get message: %w", err)
	}

	msg := transform.Transform(ctx, raw, h.opts)
	msg.UID = uid
	return msg, nil
}

// SendMessage is send_message: compose and submit via C4.
func (h *Handler) SendMessage(ctx context.Context, inboxID string, req models.SendRequest) (string, error) {
	if len(req.To) == 0 {
		return "", fmt.Errorf("send message: %w", proxyerr.ErrUpstreamProtocolError)
	}

	messageID, err := h.smtpPool.Send(ctx, inboxID, req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return messageID, nil
}

// PoolStats is pool_stats: aggregate or per-id counters across both pools.
// A missing/empty inboxID reports the aggregate view for both protocols.
func (h *Handler) PoolStats(ctx context.Context, inboxID string) (imap, smtp models.PoolStats, err error) {
	imap, err = h.imapPool.Stats(ctx, inboxID)
	if err != nil {
		return models.PoolStats{}, models.PoolStats{}, fmt.Errorf("imap pool stats: %w", err)
	}
	smtp, err = h.smtpPool.Stats(ctx, inboxID)
	if err != nil {
		return models.PoolStats{}, models.PoolStats{}, fmt.Errorf("smtp pool stats: %w", err)
	}
	return imap, smtp, nil
}
