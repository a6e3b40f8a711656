package submit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/placeflow/relay/internal/auth"
	"github.com/placeflow/relay/internal/email"
	"github.com/placeflow/relay/internal/eml"
	"github.com/placeflow/relay/internal/forward"
	"github.com/placeflow/relay/internal/graph"
	"github.com/placeflow/relay/internal/host"
	"github.com/placeflow/relay/internal/resolve"
)

// Draft save retry bounds: the host occasionally reports an empty id right
// after saving, so saves back off exponentially up to a fixed ceiling.
const (
	saveMaxAttempts = 5
	saveBaseDelay   = 1 * time.Second
	saveDelayCap    = 10 * time.Second
)

// stampProperty is the custom property written onto the source item after
// a successful submission, marking it as already processed.
const stampProperty = "placementSubmittedId"

// Result is the composite outcome of one submit operation. ForwardingFailed
// true implies Success true and LastPlacementID set: the placement always
// stands independently of the forwarding outcome, and the Last* fields
// carry the minimal state needed to retry forwarding alone.
type Result struct {
	Success     bool   `json:"success"`
	PlacementID string `json:"placementId,omitempty"`
	IngestionID string `json:"ingestionId,omitempty"`
	RunID       string `json:"runId,omitempty"`

	// Error carries the fatal failure reason when Success is false.
	Error string `json:"error,omitempty"`

	ForwardingFailed       bool   `json:"forwardingFailed"`
	ForwardingFailedReason string `json:"forwardingFailedReason,omitempty"`
	LastPlacementID        string `json:"lastPlacementId,omitempty"`
	LastGraphItemID        string `json:"lastGraphItemId,omitempty"`
	LastSharedMailbox      string `json:"lastSharedMailbox,omitempty"`
}

// Orchestrator sequences the submission pipeline: ensure identifier, build
// EML, create placement, stamp, and conditionally forward.
type Orchestrator struct {
	broker   *auth.Broker
	client   *Client
	engine   *forward.Engine
	resolver *resolve.Resolver
	target   string // shared mailbox forwards go to

	// DetectMailbox chooses which mailbox endpoint the source item lives
	// in. The default assumes the personal mailbox.
	DetectMailbox func(item host.Item) graph.Mailbox

	buildEML func(*email.Email) ([]byte, error)
	sleep    func(context.Context, time.Duration) error
}

// NewOrchestrator creates the submission orchestrator.
func NewOrchestrator(broker *auth.Broker, client *Client, engine *forward.Engine, resolver *resolve.Resolver, target string) *Orchestrator {
	return &Orchestrator{
		broker:   broker,
		client:   client,
		engine:   engine,
		resolver: resolver,
		target:   target,
		DetectMailbox: func(host.Item) graph.Mailbox {
			return graph.Personal()
		},
		buildEML: eml.Build,
		sleep:    sleepWithContext,
	}
}

// Submit runs the full pipeline for one item. Placement failure is fatal
// and returned as an error with Success false; forwarding failure is folded
// into the result and never propagates.
func (o *Orchestrator) Submit(ctx context.Context, item host.Item, productCode string, forwardRequested bool) (*Result, error) {
	hostID, restID := o.ensureIdentifier(ctx, item)

	msg, err := item.Snapshot(ctx)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to read item: %w", err)
	}

	emlBytes, err := o.buildEML(msg)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to build EML: %w", err)
	}

	tok, err := o.broker.Token(ctx, auth.KindSubmission)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to acquire submission token: %w", err)
	}

	placement, err := o.client.CreatePlacement(ctx, tok.AccessToken, &PlacementRequest{
		ProductCode:   productCode,
		EmailSender:   msg.From,
		EmailSubject:  msg.Subject,
		EmailReceived: msg.Received,
		EML:           emlBytes,
	})
	if err != nil {
		return &Result{}, fmt.Errorf("placement submission failed: %w", err)
	}

	slog.Info("placement created",
		"placement_id", placement.PlacementID,
		"product_code", productCode,
	)

	if err := item.SetProperty(ctx, stampProperty, placement.PlacementID); err != nil {
		slog.Warn("failed to stamp item", "error", err)
	}

	result := &Result{
		Success:     true,
		PlacementID: placement.PlacementID,
		IngestionID: placement.IngestionID,
		RunID:       placement.RunID,
	}

	if !forwardRequested {
		return result, nil
	}

	itemID, err := o.runForward(ctx, item, msg, hostID, restID, placement.PlacementID)
	if err != nil {
		slog.Warn("forwarding failed",
			"placement_id", placement.PlacementID,
			"error", err,
		)
		result.ForwardingFailed = true
		result.ForwardingFailedReason = err.Error()
		result.LastPlacementID = placement.PlacementID
		result.LastGraphItemID = itemID
		result.LastSharedMailbox = o.target
	}
	return result, nil
}

// RetryForward re-runs the forwarding step alone, after a prior partial
// failure, without re-submitting the placement.
func (o *Orchestrator) RetryForward(ctx context.Context, placementID, graphItemID, sharedMailbox string) (*Result, error) {
	if sharedMailbox == "" {
		sharedMailbox = o.target
	}

	result := &Result{
		Success:     true,
		PlacementID: placementID,
	}

	tok, err := o.broker.Token(ctx, auth.KindMailbox)
	if err != nil {
		result.markForwardingFailed(placementID, graphItemID, sharedMailbox, err)
		return result, nil
	}

	req := &forward.Request{
		Token:       tok.AccessToken,
		PlacementID: placementID,
		Target:      sharedMailbox,
		Source:      graph.Personal(),
		RestID:      graphItemID,
	}

	itemID, err := o.engine.Forward(ctx, req)
	if err != nil {
		if itemID == "" {
			itemID = graphItemID
		}
		result.markForwardingFailed(placementID, itemID, sharedMailbox, err)
	}
	return result, nil
}

// runForward acquires the mailbox token and delegates to the forwarding
// engine with every entry point the item offers.
func (o *Orchestrator) runForward(ctx context.Context, item host.Item, msg *email.Email, hostID, restID, placementID string) (string, error) {
	tok, err := o.broker.Token(ctx, auth.KindMailbox)
	if err != nil {
		return "", fmt.Errorf("failed to acquire mailbox token: %w", err)
	}

	req := &forward.Request{
		Token:             tok.AccessToken,
		PlacementID:       placementID,
		Target:            o.target,
		Source:            o.DetectMailbox(item),
		Account:           item.Account(),
		ExchangeID:        hostID,
		RestID:            restID,
		ConversationID:    msg.ConversationID,
		InternetMessageID: msg.InternetMessageID,
		Subject:           msg.Subject,
		Sender:            msg.From,
		Created:           msg.Received,
		IsDraft:           item.IsDraft(),
	}

	return o.engine.Forward(ctx, req)
}

// ensureIdentifier makes sure a persistable identifier exists before
// submission. Drafts without one are saved with exponential backoff while
// the host keeps answering with an empty id; any id found is resolved to
// its REST form opportunistically. Failures degrade, never abort.
func (o *Orchestrator) ensureIdentifier(ctx context.Context, item host.Item) (hostID, restID string) {
	id, err := item.ID(ctx)
	if err != nil {
		slog.Warn("failed to read item id", "error", err)
		return "", ""
	}

	if id == "" && item.IsDraft() {
		for attempt := 0; attempt < saveMaxAttempts; attempt++ {
			if attempt > 0 {
				if sleepErr := o.sleep(ctx, saveBackoffDelay(attempt)); sleepErr != nil {
					return "", ""
				}
			}
			id, err = item.Save(ctx)
			if err != nil {
				slog.Warn("draft save failed", "attempt", attempt+1, "error", err)
				return "", ""
			}
			if id != "" {
				break
			}
			slog.Debug("draft save returned no id yet", "attempt", attempt+1)
		}
		if id == "" {
			slog.Warn("draft save never produced an id", "attempts", saveMaxAttempts)
			return "", ""
		}
	}

	if id == "" {
		return "", ""
	}

	tok, err := o.broker.Token(ctx, auth.KindMailbox)
	if err != nil {
		slog.Warn("mailbox token unavailable for id resolution", "error", err)
		return id, ""
	}
	return id, o.resolver.Resolve(ctx, tok.AccessToken, id)
}

// markForwardingFailed folds a forwarding error into the partial-failure
// shape the UI uses to offer a retry.
func (r *Result) markForwardingFailed(placementID, itemID, mailbox string, err error) {
	r.ForwardingFailed = true
	r.ForwardingFailedReason = err.Error()
	r.LastPlacementID = placementID
	r.LastGraphItemID = itemID
	r.LastSharedMailbox = mailbox
}

// saveBackoffDelay returns the exponential backoff delay for the given save
// attempt, capped at saveDelayCap.
func saveBackoffDelay(attempt int) time.Duration {
	delay := saveBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > saveDelayCap {
		delay = saveDelayCap
	}
	return delay
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
