// Package forward locates the source email through an ordered ladder of
// resolution strategies and forwards it to the target shared mailbox.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/placeflow/relay/internal/graph"
	"github.com/placeflow/relay/internal/resolve"
)

// Retry ceilings of the resolution ladder. Every bound is attempt-count
// times fixed delay, not a wall-clock deadline.
const (
	notFoundMaxAttempts   = 10
	notFoundRetryDelay    = 5000 * time.Millisecond
	extendedNotFoundDelay = 10000 * time.Millisecond
	searchMaxAttempts     = 3
	searchRetryDelay      = 2000 * time.Millisecond
	draftSettleDelay      = 5000 * time.Millisecond
)

// Well-known folders consulted by the draft fallback search.
const (
	folderDrafts = "drafts"
	folderInbox  = "inbox"
)

// ErrNoIdentifier is returned when a request carries no entry point into
// the resolution ladder at all.
var ErrNoIdentifier = errors.New("no identifier available to locate the message")

// Request describes one forward operation. Identifier fields are
// progressively filled as strategies succeed; none is guaranteed present.
type Request struct {
	Token       string
	PlacementID string
	Target      string        // shared mailbox the copy is sent to
	Source      graph.Mailbox // mailbox the source item was detected in
	Account     string        // signed-in account SMTP address

	ExchangeID        string
	RestID            string
	ConversationID    string
	InternetMessageID string
	Subject           string
	Sender            string
	Created           time.Time

	IsDraft bool
}

// Engine drives the resolution ladder and the forward execution.
type Engine struct {
	client   *graph.Client
	resolver *resolve.Resolver

	sleep func(context.Context, time.Duration) error
}

// New creates a forwarding engine.
func New(client *graph.Client, resolver *resolve.Resolver) *Engine {
	return &Engine{
		client:   client,
		resolver: resolver,
		sleep:    sleepWithContext,
	}
}

// Forward locates the source message and sends a copy to the target shared
// mailbox. It returns the REST id the message was located under, when one
// was found, so callers can persist it for a later retry even if the send
// itself failed.
func (e *Engine) Forward(ctx context.Context, req *Request) (string, error) {
	msg, err := e.locate(ctx, req)
	if err != nil {
		return "", err
	}

	slog.Info("source message located",
		"mailbox", req.Source.String(),
		"placement_id", req.PlacementID,
	)

	if err := e.send(ctx, req, msg); err != nil {
		return msg.ID, err
	}
	return msg.ID, nil
}

// locate runs the resolution ladder until the source message is fetched or
// every strategy is exhausted.
func (e *Engine) locate(ctx context.Context, req *Request) (*graph.Message, error) {
	switch {
	case req.RestID != "" || req.ExchangeID != "":
		id := req.RestID
		if id == "" {
			id = e.resolver.Resolve(ctx, req.Token, req.ExchangeID)
		}
		return e.fetchWithRetries(ctx, req, id)

	case req.ConversationID != "":
		id, err := e.searchByConversation(ctx, req)
		if err != nil {
			return nil, err
		}
		return e.fetchWithRetries(ctx, req, id)

	case req.Subject != "" || req.Sender != "":
		id, err := e.searchByMetadata(ctx, req)
		if err != nil {
			return nil, err
		}
		return e.fetchWithRetries(ctx, req, id)
	}

	return nil, ErrNoIdentifier
}

// fetchWithRetries is the numbered-retry core of the ladder. The cheaper
// strategies fire only on the first occurrence of their trigger error;
// afterwards the loop falls back to fixed-interval retries of the fetch.
func (e *Engine) fetchWithRetries(ctx context.Context, req *Request, restID string) (*graph.Message, error) {
	id := restID
	delay := notFoundRetryDelay
	firstNotFound := true
	var lastErr error

	for attempt := 0; attempt < notFoundMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = notFoundRetryDelay
		}

		msg, err := e.client.GetMessage(ctx, req.Token, req.Source, id)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		switch {
		case graph.IsNotFound(err):
			if firstNotFound && req.ExchangeID != "" && req.ExchangeID != id {
				firstNotFound = false
				// The converted id may not be indexed yet while the
				// original still resolves against the personal mailbox.
				if msg, probeErr := e.client.GetMessage(ctx, req.Token, graph.Personal(), req.ExchangeID); probeErr == nil {
					return msg, nil
				}
				delay = extendedNotFoundDelay
				continue
			}
			firstNotFound = false
			slog.Debug("message not found yet, retrying",
				"attempt", attempt+1,
				"max_attempts", notFoundMaxAttempts,
			)

		case graph.IsMalformedID(err) && attempt == 0 && req.IsDraft:
			if found, searchErr := e.folderSearchByID(ctx, req, id); searchErr == nil && found != "" {
				id = found
				continue
			}

		case graph.IsParseOrServer(err) && attempt == 0:
			if found, searchErr := e.searchByInternetMessageID(ctx, req); searchErr == nil && found != "" {
				id = found
				continue
			}
			if req.IsDraft {
				if found, searchErr := e.folderSearchByID(ctx, req, id); searchErr == nil && found != "" {
					id = found
					continue
				}
			}

		case graph.IsMailboxMismatch(err):
			if req.ExchangeID != "" {
				if msg, probeErr := e.client.GetMessage(ctx, req.Token, graph.Personal(), req.ExchangeID); probeErr == nil {
					return msg, nil
				}
			}
			if msg, probeErr := e.client.GetMessage(ctx, req.Token, graph.Shared(req.Account), id); probeErr == nil {
				return msg, nil
			}

		case graph.IsTransient(err):
			// fall through to the fixed-interval retry

		default:
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}
	}

	if msg, err := e.lastChanceSearch(ctx, req, id); err == nil {
		return msg, nil
	}

	hint := e.identityMismatchHint(req)
	if hint != "" {
		return nil, fmt.Errorf("resolution exhausted after %d attempts (%s): %w", notFoundMaxAttempts, hint, lastErr)
	}
	return nil, fmt.Errorf("resolution exhausted after %d attempts: %w", notFoundMaxAttempts, lastErr)
}

// searchByConversation looks the message up by conversation id in the
// Drafts folder. Single attempt; callers without any direct identifier
// enter the ladder here.
func (e *Engine) searchByConversation(ctx context.Context, req *Request) (string, error) {
	q := graph.Query{
		Filter: fmt.Sprintf("conversationId eq '%s'", graph.EscapeFilterValue(req.ConversationID)),
		Top:    1,
	}
	msgs, err := e.client.FindFolderMessages(ctx, req.Token, req.Source, folderDrafts, q)
	if err != nil {
		return "", fmt.Errorf("conversation search failed: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("conversation search found no message: %w", ErrNoIdentifier)
	}
	return msgs[0].ID, nil
}

// searchByMetadata looks the message up by subject, sender and received
// date, newest first.
func (e *Engine) searchByMetadata(ctx context.Context, req *Request) (string, error) {
	filter := fmt.Sprintf("subject eq '%s' and from/emailAddress/address eq '%s'",
		graph.EscapeFilterValue(req.Subject),
		graph.EscapeFilterValue(req.Sender),
	)
	if !req.Created.IsZero() {
		filter += fmt.Sprintf(" and createdDateTime ge %s", req.Created.UTC().Format(time.RFC3339))
	}

	q := graph.Query{
		Filter:  filter,
		OrderBy: "createdDateTime desc",
		Top:     1,
	}
	msgs, err := e.client.FindMessages(ctx, req.Token, req.Source, q)
	if err != nil {
		return "", fmt.Errorf("metadata search failed: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("metadata search found no message: %w", ErrNoIdentifier)
	}
	return msgs[0].ID, nil
}

// searchByInternetMessageID resolves the id through an internetMessageId
// equality search, bounded at three attempts.
func (e *Engine) searchByInternetMessageID(ctx context.Context, req *Request) (string, error) {
	if req.InternetMessageID == "" {
		return "", nil
	}

	q := graph.Query{
		Filter: fmt.Sprintf("internetMessageId eq '%s'", graph.EscapeFilterValue(req.InternetMessageID)),
		Top:    1,
	}

	var lastErr error
	for attempt := 0; attempt < searchMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, searchRetryDelay); err != nil {
				return "", err
			}
		}
		msgs, err := e.client.FindMessages(ctx, req.Token, req.Source, q)
		if err != nil {
			lastErr = err
			continue
		}
		if len(msgs) > 0 {
			return msgs[0].ID, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("internet message id search failed: %w", lastErr)
	}
	return "", nil
}

// folderSearchByID runs an id-equality search scoped to the Drafts folder
// first, then the Inbox, each bounded at three attempts.
func (e *Engine) folderSearchByID(ctx context.Context, req *Request, id string) (string, error) {
	q := graph.Query{
		Filter: fmt.Sprintf("id eq '%s'", graph.EscapeFilterValue(id)),
		Top:    1,
	}

	for _, folder := range []string{folderDrafts, folderInbox} {
		for attempt := 0; attempt < searchMaxAttempts; attempt++ {
			if attempt > 0 {
				if err := e.sleep(ctx, searchRetryDelay); err != nil {
					return "", err
				}
			}
			msgs, err := e.client.FindFolderMessages(ctx, req.Token, req.Source, folder, q)
			if err != nil {
				continue
			}
			if len(msgs) > 0 {
				return msgs[0].ID, nil
			}
		}
	}
	return "", nil
}

// lastChanceSearch is the final id-filter probe after the numbered retries
// are exhausted. A hit is fetched once more so attachments come expanded.
func (e *Engine) lastChanceSearch(ctx context.Context, req *Request, id string) (*graph.Message, error) {
	q := graph.Query{
		Filter: fmt.Sprintf("id eq '%s'", graph.EscapeFilterValue(id)),
		Top:    1,
	}
	msgs, err := e.client.FindMessages(ctx, req.Token, req.Source, q)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("last-chance search found no message")
	}
	return e.client.GetMessage(ctx, req.Token, req.Source, msgs[0].ID)
}

// send composes the forward copy and creates then sends it in the target
// shared mailbox. Failures here are terminal for this call; retries exist
// only in the resolution ladder.
func (e *Engine) send(ctx context.Context, req *Request, msg *graph.Message) error {
	draft := composeForward(req, msg)

	if req.IsDraft {
		// Give host-side indexing a moment to settle before touching
		// the freshly saved draft's content again.
		if err := e.sleep(ctx, draftSettleDelay); err != nil {
			return err
		}
	}

	createdID, err := e.client.CreateMessage(ctx, req.Token, graph.Shared(req.Target), draft)
	if err != nil {
		return fmt.Errorf("failed to create forward message: %w", err)
	}

	if req.IsDraft {
		if err := e.sleep(ctx, draftSettleDelay); err != nil {
			return err
		}
	}

	if err := e.client.SendMessage(ctx, req.Token, graph.Shared(req.Target), createdID); err != nil {
		return fmt.Errorf("failed to send forward message: %w", err)
	}

	slog.Info("message forwarded",
		"target", req.Target,
		"placement_id", req.PlacementID,
	)
	return nil
}

// composeForward builds the forward copy: addressed to the target mailbox,
// subject prefixed with the placement identifier, body copied, file-kind
// attachments only.
func composeForward(req *Request, msg *graph.Message) *graph.Draft {
	attachments := make([]graph.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att.IsFile() {
			attachments = append(attachments, att)
		}
	}

	return &graph.Draft{
		Subject: fmt.Sprintf("[%s] %s", req.PlacementID, msg.Subject),
		Body:    msg.Body,
		ToRecipients: []graph.Recipient{
			{EmailAddress: graph.EmailAddress{Address: req.Target}},
		},
		Attachments: attachments,
	}
}

// sleepWithContext waits for the specified duration or until the context is
// cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
