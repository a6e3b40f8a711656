// Package email defines the message data model shared by the host item
// adapter, the EML builder, and the forwarding composer.
package email

import "time"

// Email represents one mail message with all the components the pipeline
// touches. Identifier fields may be empty for unsaved drafts.
type Email struct {
	From              string
	To                []string
	Cc                []string
	Subject           string
	TextBody          string
	HtmlBody          string
	Attachments       []Attachment
	InternetMessageID string
	ConversationID    string
	Received          time.Time
}

// Attachment represents a file attached to an email message. Inline parts
// (embedded images referenced from the HTML body) are marked so the
// forwarding composer can skip them.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Inline      bool
}
