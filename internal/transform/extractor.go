// Package transform implements C6, the Message Transformer: raw RFC
// 5322/MIME bytes in, a compact RAG-ready models.TransformedMessage out.
// The pipeline never returns an error to its caller; a malformed message
// degrades to a best-effort record with an Errors list instead (see
// Transform's doc comment).
package transform

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by an AttachmentExtractor when it has no
// extraction path for a given content type. It is not a failure: the
// attachment is kept with a nil ExtractedText.
var ErrUnsupported = errors.New("attachment extraction unsupported")

// AttachmentExtractor is the injected capability C6 uses to pull text out
// of non-text attachments (PDF today; the interface leaves room for more).
// Implementations must return ErrUnsupported rather than a generic error
// when they simply don't handle a content type, so the pipeline can tell
// "no extractor available" apart from "extraction failed".
type AttachmentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// NoExtractor is the zero-value AttachmentExtractor: every attachment falls
// through with ErrUnsupported, matching "no extractor available" in
// spec.md's attachment extraction step for application/pdf.
type NoExtractor struct{}

// Extract always reports ErrUnsupported.
func (NoExtractor) Extract(context.Context, []byte, string) (string, error) {
	return "", ErrUnsupported
}
