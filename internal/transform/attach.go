package transform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/agentmailproxy/mailproxy/internal/models"
)

// attachmentPart is the subset of enmime.Part fields the extractor needs;
// declared locally so this file doesn't have to import enmime just for a
// struct shape.
type attachmentPart struct {
	Filename    string
	ContentType string
	Charset     string
	Content     []byte
}

// buildAttachment implements spec.md's step 4: PDFs go through the injected
// extractor, text/* is decoded per its declared charset, everything else is
// kept with a nil ExtractedText.
func buildAttachment(ctx context.Context, part attachmentPart, extractor AttachmentExtractor, charLimit int) models.Attachment {
	att := models.Attachment{
		Filename:    part.Filename,
		ContentType: part.ContentType,
		Size:        len(part.Content),
	}

	text, ok := extractText(ctx, part, extractor)
	if ok {
		clipped := truncateRunes(text, charLimit)
		att.ExtractedText = &clipped
	}
	return att
}

func extractText(ctx context.Context, part attachmentPart, extractor AttachmentExtractor) (string, bool) {
	switch {
	case part.ContentType == "application/pdf":
		text, err := extractor.Extract(ctx, part.Content, part.ContentType)
		if err != nil {
			if !errors.Is(err, ErrUnsupported) {
				return "", false
			}
			return "", false
		}
		return text, true
	case strings.HasPrefix(part.ContentType, "text/"):
		return decodeCharset(part.Content, part.Charset), true
	default:
		return "", false
	}
}

// decodeCharset decodes data using its declared charset, falling back to a
// lossy UTF-8 replace when the charset is unset or unrecognised.
func decodeCharset(data []byte, declared string) string {
	if declared == "" || strings.EqualFold(declared, "utf-8") {
		return utf8Replace(data)
	}

	r, err := charset.NewReaderLabel(declared, bytes.NewReader(data))
	if err != nil {
		return utf8Replace(data)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return utf8Replace(data)
	}
	return string(decoded)
}

func utf8Replace(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
