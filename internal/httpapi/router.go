// Package httpapi is the thin, non-core HTTP adapter over C7 (SPEC_FULL.md
// section 6): a net/http mux exposing list_messages, send_message,
// get_message, and pool_stats behind bearer-token auth. Status mapping is
// adapter policy, not core, per spec.md section 7.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentmailproxy/mailproxy/internal/handler"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
)

// NewRouter builds the mux described in SPEC_FULL.md's route table.
func NewRouter(h *handler.Handler, validate TokenValidator, log *logrus.Entry) http.Handler {
	if validate == nil {
		validate = AllowAny
	}

	a := &adapter{handler: h, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.Handle("/v1/pool/stats", requireAuth(validate, log)(http.HandlerFunc(a.poolStats)))
	mux.Handle("/v1/inboxes/", requireAuth(validate, log)(http.HandlerFunc(a.routeInbox)))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("mailproxy is running"))
}

type adapter struct {
	handler *handler.Handler
	log     *logrus.Entry
}

// routeInbox dispatches "/v1/inboxes/{inbox_id}/messages[/{uid}]" since the
// path segments carry an opaque inbox id that may itself contain characters
// a fixed pattern mux can't cleanly capture (spec.md section 3: inbox id is
// an opaque UTF-8 string, conventionally an email address).
func (a *adapter) routeInbox(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/inboxes/")
	segments := strings.Split(rest, "/messages")
	if len(segments) < 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	inboxID := segments[0]
	tail := strings.TrimPrefix(segments[1], "/")

	switch {
	case tail == "" && r.Method == http.MethodGet:
		a.listMessages(w, r, inboxID)
	case tail == "" && r.Method == http.MethodPost:
		a.sendMessage(w, r, inboxID)
	case tail != "" && r.Method == http.MethodGet:
		a.getMessage(w, r, inboxID, tail)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *adapter) listMessages(w http.ResponseWriter, r *http.Request, inboxID string) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var cursor uint64
	if v := r.URL.Query().Get("cursor"); v != "" {
		cursor, _ = strconv.ParseUint(v, 10, 32)
	}

	page, err := a.handler.ListMessages(r.Context(), inboxID, limit, uint32(cursor))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *adapter) getMessage(w http.ResponseWriter, r *http.Request, inboxID, uidStr string) {
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message uid")
		return
	}

	msg, err := a.handler.GetMessage(r.Context(), inboxID, uint32(uid))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type sendMessageRequest struct {
	To      []string          `json:"to"`
	Cc      []string          `json:"cc,omitempty"`
	Bcc     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (a *adapter) sendMessage(w http.ResponseWriter, r *http.Request, inboxID string) {
	var body sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	messageID, err := a.handler.SendMessage(r.Context(), inboxID, models.SendRequest{
		To:      body.To,
		Cc:      body.Cc,
		Bcc:     body.Bcc,
		Subject: body.Subject,
		Body:    body.Body,
		Headers: body.Headers,
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

func (a *adapter) poolStats(w http.ResponseWriter, r *http.Request) {
	inboxID := r.URL.Query().Get("inbox_id")

	imapStats, smtpStats, err := a.handler.PoolStats(r.Context(), inboxID)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.PoolStats{
		"imap": imapStats,
		"smtp": smtpStats,
	})
}

// writeErr maps a core error kind to the 4xx/5xx status spec.md section 7
// leaves to adapter policy.
func (a *adapter) writeErr(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithField("event", "request_failed").WithError(err).Error("handler error")
	}
	writeError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, proxyerr.ErrNotFound):
		return http.StatusNotFound, "inbox not found"
	case errors.Is(err, proxyerr.ErrCredentialExpired):
		return http.StatusUnauthorized, "credential expired"
	case errors.Is(err, proxyerr.ErrUpstreamAuthFailed):
		return http.StatusUnauthorized, "upstream authentication failed"
	case errors.Is(err, proxyerr.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream unavailable"
	case errors.Is(err, proxyerr.ErrUpstreamProtocolError):
		return http.StatusBadGateway, "upstream protocol error"
	case errors.Is(err, proxyerr.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
