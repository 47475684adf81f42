package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmailproxy/mailproxy/internal/handler"
	"github.com/agentmailproxy/mailproxy/internal/imap"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
	"github.com/agentmailproxy/mailproxy/internal/transform"
)

const rawMessage = "From: a@example.com\r\nTo: b@example.com\r\nSubject: Hi\r\n\r\nHello there.\r\n"

type fakeIMAPPool struct {
	page  []imap.FetchedMessage
	byUID map[uint32][]byte
}

func (f *fakeIMAPPool) FetchPage(ctx context.Context, inboxID string, limit int, cursor uint32) ([]imap.FetchedMessage, uint32, error) {
	return f.page, 0, nil
}

func (f *fakeIMAPPool) FetchByUID(ctx context.Context, inboxID string, uid uint32) ([]byte, error) {
	raw, ok := f.byUID[uid]
	if !ok {
		return nil, fmt.Errorf("fetch uid: %w", proxyerr.ErrNotFound)
	}
	return raw, nil
}

func (f *fakeIMAPPool) Stats(ctx context.Context, inboxID string) (models.PoolStats, error) {
	return models.PoolStats{Hits: 3, Misses: 1, Live: 1}, nil
}

type fakeSMTPPool struct{}

func (fakeSMTPPool) Send(ctx context.Context, inboxID string, req models.SendRequest) (string, error) {
	return "<abc@mailproxy>", nil
}

func (fakeSMTPPool) Stats(ctx context.Context, inboxID string) (models.PoolStats, error) {
	return models.PoolStats{Hits: 1, Misses: 0, Live: 1}, nil
}

func newTestRouter() http.Handler {
	h := handler.New(&fakeIMAPPool{
		page:  []imap.FetchedMessage{{UID: 5, Raw: []byte(rawMessage)}},
		byUID: map[uint32][]byte{5: []byte(rawMessage)},
	}, fakeSMTPPool{}, transform.DefaultOptions())
	return NewRouter(h, AllowAny, logrus.NewEntry(logrus.New()))
}

func TestListMessagesRequiresAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/inboxes/user@example.com/messages", nil)
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListMessagesOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/inboxes/user@example.com/messages", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"subject\":\"Hi\"")
}

func TestGetMessageNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/inboxes/user@example.com/messages/999", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	body := `{"to":["dest@example.com"],"subject":"hi","body":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/inboxes/user@example.com/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc@mailproxy")
}

func TestPoolStats(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"imap\"")
}
