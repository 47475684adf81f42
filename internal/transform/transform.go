package transform

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/agentmailproxy/mailproxy/internal/models"
)

// Options tunes C6's size bounds and pluggable pieces. A zero Options
// falls back, field by field, to the same defaults DefaultOptions returns
// (applied by withDefaults).
type Options struct {
	BodyCharLimit        int
	AttachmentCharLimit  int
	TrackingHostPatterns []string
	Extractor            AttachmentExtractor
}

// DefaultOptions returns spec.md section 6's default transformer bounds
// with no tracking host patterns and no attachment extractor wired.
func DefaultOptions() Options {
	return Options{
		BodyCharLimit:       5000,
		AttachmentCharLimit: 2000,
		Extractor:           NoExtractor{},
	}
}

func (o Options) withDefaults() Options {
	if o.BodyCharLimit <= 0 {
		o.BodyCharLimit = 5000
	}
	if o.AttachmentCharLimit <= 0 {
		o.AttachmentCharLimit = 2000
	}
	if o.Extractor == nil {
		o.Extractor = NoExtractor{}
	}
	return o
}

// Transform runs the full C6 pipeline over raw RFC 5322/MIME bytes. It
// never returns an error: a malformed or unparseable message degrades to a
// best-effort record with an empty body and a populated Errors field,
// matching spec.md's error handling design for TransformDegraded.
func Transform(ctx context.Context, raw []byte, opts Options) (msg models.TransformedMessage) {
	opts = opts.withDefaults()

	defer func() {
		if r := recover(); r != nil {
			msg = models.TransformedMessage{
				ThreadID: hashSubjectParticipants("", nil),
				Errors:   []string{fmt.Sprintf("panic during transform: %v", r)},
			}
		}
	}()

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return models.TransformedMessage{
			ThreadID: hashSubjectParticipants("", nil),
			Errors:   []string{fmt.Sprintf("parse mime: %v", err)},
		}
	}

	msg.Subject = envelope.GetHeader("Subject")
	msg.From = envelope.GetHeader("From")
	msg.To = splitAddressList(envelope.GetHeader("To"))

	if raw := envelope.GetHeader("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			msg.Date = &t
		} else {
			msg.Errors = append(msg.Errors, fmt.Sprintf("parse date: %v", err))
		}
	}

	body, bodyErrs := extractBody(envelope, opts.TrackingHostPatterns)
	msg.Errors = append(msg.Errors, bodyErrs...)

	body = collapseQuotes(body)
	msg.Body = truncateBody(body, opts.BodyCharLimit)

	for _, part := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, buildAttachment(ctx, attachmentPart{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Charset:     part.Charset,
			Content:     part.Content,
		}, opts.Extractor, opts.AttachmentCharLimit))
	}

	msg.ThreadID = deriveThreadID(
		envelope.GetHeader("References"),
		envelope.GetHeader("In-Reply-To"),
		msg.Subject,
		collectParticipants(envelope),
	)

	return msg
}

// extractBody prefers text/plain per spec.md; when only HTML is present it
// degrades HTML -> text after signature/pixel/script stripping.
func extractBody(envelope *enmime.Envelope, trackingHostPatterns []string) (string, []string) {
	plain := strings.TrimSpace(envelope.Text)
	if plain != "" {
		return envelope.Text, nil
	}

	htmlBody := strings.TrimSpace(envelope.HTML)
	if htmlBody == "" {
		return "", nil
	}

	text, err := htmlToText(envelope.HTML, trackingHostPatterns)
	if err != nil {
		return envelope.HTML, []string{fmt.Sprintf("html cleanup: %v", err)}
	}
	return text, nil
}

func splitAddressList(raw string) []string {
	if raw == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(raw); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}
	return []string{strings.TrimSpace(raw)}
}

// collectParticipants gathers a lowercased, de-duplicated address set from
// From/To/Cc for the fallback thread-id hash (spec.md step 5).
func collectParticipants(envelope *enmime.Envelope) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, header := range []string{"From", "To", "Cc"} {
		raw := envelope.GetHeader(header)
		if raw == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(raw)
		if err != nil {
			addr := strings.ToLower(strings.TrimSpace(raw))
			if _, dup := seen[addr]; !dup {
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
			continue
		}
		for _, a := range addrs {
			addr := strings.ToLower(a.Address)
			if _, dup := seen[addr]; !dup {
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}

	sort.Strings(out)
	return out
}
