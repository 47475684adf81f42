package smtp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	smtpclient "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/proxyerr"
)

// Send composes a MIME envelope for req and submits it over inboxID's
// checked-out session. The pool owns MIME composition; the handler layer
// need not (spec.md section 4.4).
func (p *Pool) Send(ctx context.Context, inboxID string, req models.SendRequest) (string, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@mailproxy>", uuid.NewString())
	raw, err := composeMessage(inboxID, req, messageID)
	if err != nil {
		h.Checkin(OutcomeOK)
		return "", fmt.Errorf("compose message %s: %w", idhash.Hash(inboxID), err)
	}

	if err := submit(h.Client, inboxID, req, raw); err != nil {
		h.Checkin(OutcomeFailed)
		return "", fmt.Errorf("send %s: %w", idhash.Hash(inboxID), proxyerr.ErrUpstreamProtocolError)
	}

	h.Checkin(OutcomeOK)
	return messageID, nil
}

// composeMessage builds the RFC 5322 envelope with enmime.Builder, the
// same library the transformer (internal/transform) uses to parse inbound
// mail, exercised here in the opposite direction.
func composeMessage(from string, req models.SendRequest, messageID string) ([]byte, error) {
	b := enmime.Builder{}.
		From("", from).
		Subject(req.Subject).
		Header("Message-Id", messageID).
		Header("Date", time.Now().Format(time.RFC1123Z)).
		Text([]byte(req.Body))

	for _, to := range req.To {
		b = b.To("", to)
	}
	for _, cc := range req.Cc {
		b = b.CC("", cc)
	}
	for _, bcc := range req.Bcc {
		b = b.BCC("", bcc)
	}
	for k, v := range req.Headers {
		b = b.Header(k, v)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func submit(c *smtpclient.Client, from string, req models.SendRequest, raw []byte) error {
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	for _, rcpt := range allRecipients(req) {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	return w.Close()
}

func allRecipients(req models.SendRequest) []string {
	out := make([]string, 0, len(req.To)+len(req.Cc)+len(req.Bcc))
	out = append(out, req.To...)
	out = append(out, req.Cc...)
	out = append(out, req.Bcc...)
	return out
}
