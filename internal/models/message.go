package models

import "time"

// Attachment is one non-inline part of a transformed message, with
// best-effort extracted text for text-like and PDF payloads.
type Attachment struct {
	Filename      string  `json:"filename"`
	ContentType   string  `json:"content_type"`
	Size          int     `json:"size"`
	ExtractedText *string `json:"extracted_text,omitempty"`
}

// TransformedMessage is the RAG-ready representation C6 produces from raw
// RFC 5322/MIME bytes: bounded in size, boilerplate/quotes/pixels stripped.
type TransformedMessage struct {
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Date        *time.Time   `json:"date,omitempty"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	ThreadID    string       `json:"thread_id"`
	UID         uint32       `json:"uid,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
}

// SendRequest is the input to send_message.
type SendRequest struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	Headers map[string]string
}
