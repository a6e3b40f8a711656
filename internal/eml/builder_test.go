package eml

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/placeflow/relay/internal/email"
)

func TestBuild_CompleteMessage(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		From:              "Jane Doe <jane@example.com>",
		To:                []string{"broker@example.com"},
		Cc:                []string{"cc@example.com"},
		Subject:           "Offer letter",
		TextBody:          "please place this risk",
		HtmlBody:          "<p>please place this risk</p>",
		InternetMessageID: "<m1@example.com>",
		Received:          time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC),
		Attachments: []email.Attachment{
			{Filename: "doc.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
			{Filename: "logo.png", ContentType: "image/png", Content: []byte{0x89, 0x50}, Inline: true},
		},
	}

	raw, err := Build(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a readable MIME message: %v", err)
	}

	if got := env.GetHeader("Subject"); got != "Offer letter" {
		t.Errorf("Subject: got %q, want %q", got, "Offer letter")
	}
	if got := env.GetHeader("From"); !strings.Contains(got, "jane@example.com") {
		t.Errorf("From: got %q, want the sender address", got)
	}
	if got := env.GetHeader("To"); !strings.Contains(got, "broker@example.com") {
		t.Errorf("To: got %q, want the recipient address", got)
	}
	if got := env.GetHeader("Cc"); !strings.Contains(got, "cc@example.com") {
		t.Errorf("Cc: got %q, want the cc address", got)
	}
	if got := env.GetHeader("Message-Id"); got != "<m1@example.com>" {
		t.Errorf("Message-Id: got %q, want the original id", got)
	}
	if env.GetHeader("Date") == "" {
		t.Error("Date header should be set from the received time")
	}

	if !strings.Contains(env.Text, "please place this risk") {
		t.Errorf("text body: got %q, want the original text", env.Text)
	}
	if !strings.Contains(env.HTML, "<p>please place this risk</p>") {
		t.Errorf("html body: got %q, want the original html", env.HTML)
	}

	if len(env.Attachments) != 1 || env.Attachments[0].FileName != "doc.pdf" {
		t.Errorf("attachments: got %d, want doc.pdf only", len(env.Attachments))
	}
	if len(env.Inlines) != 1 || env.Inlines[0].FileName != "logo.png" {
		t.Errorf("inlines: got %d, want logo.png only", len(env.Inlines))
	}
}

func TestBuild_UnparseableSenderFallsBackToRawValue(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		From:     "Corporate Mail Gateway",
		To:       []string{"broker@example.com"},
		Subject:  "s",
		TextBody: "b",
	}

	raw, err := Build(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a readable MIME message: %v", err)
	}
	if got := env.GetHeader("From"); !strings.Contains(got, "Corporate Mail Gateway") {
		t.Errorf("From: got %q, want the raw host value carried", got)
	}
}

func TestBuild_TextOnlyMessage(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"broker@example.com"},
		Subject:  "plain",
		TextBody: "just text",
	}

	raw, err := Build(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a readable MIME message: %v", err)
	}
	if !strings.Contains(env.Text, "just text") {
		t.Errorf("text body: got %q, want %q", env.Text, "just text")
	}
	if env.HTML != "" {
		t.Errorf("html body: got %q, want none", env.HTML)
	}
}
