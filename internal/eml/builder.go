// Package eml renders an email.Email into RFC 5322 bytes for the
// submission payload.
package eml

import (
	"bytes"
	"fmt"
	"net/mail"

	"github.com/jhillyerd/enmime"

	"github.com/placeflow/relay/internal/email"
)

// Build renders msg as a complete MIME message. Text and HTML bodies
// become an alternative part; every attachment is carried, inline ones
// included, so the submission backend sees the message as received.
func Build(msg *email.Email) ([]byte, error) {
	builder := enmime.Builder().
		Subject(msg.Subject).
		Text([]byte(msg.TextBody))

	if msg.HtmlBody != "" {
		builder = builder.HTML([]byte(msg.HtmlBody))
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		// Sender display strings from the host are not always
		// RFC-parseable; fall back to the raw value as the address.
		from = &mail.Address{Address: msg.From}
	}
	builder = builder.From(from.Name, from.Address)

	for _, addr := range msg.To {
		builder = builder.To("", addr)
	}
	for _, addr := range msg.Cc {
		builder = builder.CC("", addr)
	}
	if !msg.Received.IsZero() {
		builder = builder.Date(msg.Received)
	}
	if msg.InternetMessageID != "" {
		builder = builder.Header("Message-Id", msg.InternetMessageID)
	}

	for _, att := range msg.Attachments {
		if att.Inline {
			builder = builder.AddInline(att.Content, att.ContentType, att.Filename, "")
		} else {
			builder = builder.AddAttachment(att.Content, att.ContentType, att.Filename)
		}
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build MIME message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode MIME message: %w", err)
	}
	return buf.Bytes(), nil
}
