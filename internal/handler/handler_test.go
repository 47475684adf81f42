package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/imap"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/transform"
)

const rawMessage = "From: a@example.com\r\nTo: b@example.com\r\nSubject: Hi\r\n\r\nHello there.\r\n"

type fakeIMAPPool struct {
	page       []imap.FetchedMessage
	nextCursor uint32
	byUID      map[uint32][]byte
	stats      models.PoolStats
}

func (f *fakeIMAPPool) FetchPage(ctx context.Context, inboxID string, limit int, cursor uint32) ([]imap.FetchedMessage, uint32, error) {
	return f.page, f.nextCursor, nil
}

func (f *fakeIMAPPool) FetchByUID(ctx context.Context, inboxID string, uid uint32) ([]byte, error) {
	raw, ok := f.byUID[uid]
	if !ok {
		return nil, assert.AnError
	}
	return raw, nil
}

func (f *fakeIMAPPool) Stats(ctx context.Context, inboxID string) (models.PoolStats, error) {
	return f.stats, nil
}

type fakeSMTPPool struct {
	messageID string
	stats     models.PoolStats
	lastReq   models.SendRequest
}

func (f *fakeSMTPPool) Send(ctx context.Context, inboxID string, req models.SendRequest) (string, error) {
	f.lastReq = req
	return f.messageID, nil
}

func (f *fakeSMTPPool) Stats(ctx context.Context, inboxID string) (models.PoolStats, error) {
	return f.stats, nil
}

func TestListMessages(t *testing.T) {
	imapPool := &fakeIMAPPool{
		page:       []imap.FetchedMessage{{UID: 5, Raw: []byte(rawMessage)}},
		nextCursor: 3,
	}
	h := New(imapPool, &fakeSMTPPool{}, transform.DefaultOptions())

	page, err := h.ListMessages(context.Background(), "user@example.com", 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, uint32(5), page.Messages[0].UID)
	assert.Equal(t, "Hi", page.Messages[0].Subject)
	assert.Equal(t, uint32(3), page.NextCursor)
}

func TestGetMessage(t *testing.T) {
	imapPool := &fakeIMAPPool{byUID: map[uint32][]byte{7: []byte(rawMessage)}}
	h := New(imapPool, &fakeSMTPPool{}, transform.DefaultOptions())

	msg, err := h.GetMessage(context.Background(), "user@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), msg.UID)
	assert.Equal(t, "Hi", msg.Subject)
}

func TestSendMessageRequiresRecipient(t *testing.T) {
	h := New(&fakeIMAPPool{}, &fakeSMTPPool{}, transform.DefaultOptions())

	_, err := h.SendMessage(context.Background(), "user@example.com", models.SendRequest{Subject: "no recipients"})
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	smtpPool := &fakeSMTPPool{messageID: "<abc@mailproxy>"}
	h := New(&fakeIMAPPool{}, smtpPool, transform.DefaultOptions())

	id, err := h.SendMessage(context.Background(), "user@example.com", models.SendRequest{
		To:      []string{"dest@example.com"},
		Subject: "hi",
		Body:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "<abc@mailproxy>", id)
	assert.Equal(t, []string{"dest@example.com"}, smtpPool.lastReq.To)
}

func TestPoolStats(t *testing.T) {
	imapPool := &fakeIMAPPool{stats: models.PoolStats{Hits: 5, Misses: 1, Live: 1}}
	smtpPool := &fakeSMTPPool{stats: models.PoolStats{Hits: 2, Misses: 0, Live: 1}}
	h := New(imapPool, smtpPool, transform.DefaultOptions())

	imapStats, smtpStats, err := h.PoolStats(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(5), imapStats.Hits)
	assert.Equal(t, int64(2), smtpStats.Hits)
}
