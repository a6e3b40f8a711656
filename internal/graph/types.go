// Package graph implements a typed client for the mailbox REST API:
// message fetch, draft creation, send, filtered searches, and
// Exchange-to-REST identifier translation.
package graph

import "fmt"

// fileAttachmentType is the odata type of plain file attachments. Item and
// reference attachments carry other types and are not forwarded.
const fileAttachmentType = "#microsoft.graph.fileAttachment"

// Mailbox identifies which mailbox endpoint a request targets: the
// authenticated user's own mailbox or an explicitly addressed shared one.
type Mailbox struct {
	shared  bool
	address string
}

// Personal returns the authenticated user's own mailbox.
func Personal() Mailbox {
	return Mailbox{}
}

// Shared returns the mailbox addressed by the given SMTP address.
func Shared(address string) Mailbox {
	return Mailbox{shared: true, address: address}
}

// IsShared reports whether the mailbox is addressed via the shared-mailbox
// endpoint variant.
func (m Mailbox) IsShared() bool {
	return m.shared
}

// Address returns the SMTP address of a shared mailbox, or "" for the
// personal mailbox.
func (m Mailbox) Address() string {
	return m.address
}

// endpoint returns the URL path segment that selects this mailbox.
func (m Mailbox) endpoint() string {
	if m.shared {
		return "users/" + m.address
	}
	return "me"
}

func (m Mailbox) String() string {
	if m.shared {
		return m.address
	}
	return "me"
}

// Message is a mailbox message as returned by the REST API.
type Message struct {
	ID                string       `json:"id"`
	Subject           string       `json:"subject"`
	Body              MessageBody  `json:"body"`
	From              *Recipient   `json:"from,omitempty"`
	ToRecipients      []Recipient  `json:"toRecipients,omitempty"`
	ConversationID    string       `json:"conversationId,omitempty"`
	InternetMessageID string       `json:"internetMessageId,omitempty"`
	IsDraft           bool         `json:"isDraft,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// MessageBody represents the body of a message.
type MessageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Recipient represents a message recipient.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress represents an address in a REST API request or response.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Attachment represents an attachment on a message.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes,omitempty"`
	IsInline     bool   `json:"isInline,omitempty"`
}

// IsFile reports whether the attachment is a plain file attachment.
func (a Attachment) IsFile() bool {
	return a.ODataType == fileAttachmentType
}

// Draft is the request body for message creation.
type Draft struct {
	Subject      string       `json:"subject"`
	Body         MessageBody  `json:"body"`
	ToRecipients []Recipient  `json:"toRecipients"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Query describes a filtered message search.
type Query struct {
	Filter  string
	Top     int
	OrderBy string
}

// listResponse is the envelope of collection responses.
type listResponse struct {
	Value []Message `json:"value"`
}

// translateRequest is the request body for identifier translation.
type translateRequest struct {
	InputIDs     []string `json:"inputIds"`
	SourceIDType string   `json:"sourceIdType"`
	TargetIDType string   `json:"targetIdType"`
}

// translateResponse is the identifier translation response envelope.
type translateResponse struct {
	Value []translatedID `json:"value"`
}

// translatedID is one converted identifier.
type translatedID struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// apiErrorResponse represents an error response from the REST API.
type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
}

// apiErrorDetail represents the error detail in an error response.
type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// createResponse is the response body of message creation; only the id of
// the created message is needed.
type createResponse struct {
	ID string `json:"id"`
}

func (m *Message) String() string {
	return fmt.Sprintf("message %q", m.ID)
}
