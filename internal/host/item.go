// Package host defines the collaborator contract for the mail client item
// the pipeline operates on. The real host exposes the current message
// through synchronous fields in read mode and async getters in compose
// mode; Item presents both behind one context-based surface.
package host

import (
	"context"
	"sync"

	"github.com/placeflow/relay/internal/email"
)

// Item is one addressable email in the host mail client.
type Item interface {
	// Snapshot returns the message content and addressing metadata.
	Snapshot(ctx context.Context) (*email.Email, error)

	// ID returns the host-proprietary identifier, or "" while an unsaved
	// draft has none.
	ID(ctx context.Context) (string, error)

	// IsDraft reports whether the item is an unsent draft.
	IsDraft() bool

	// Account returns the SMTP address of the signed-in mailbox owning
	// the item.
	Account() string

	// Save persists a draft and returns its host identifier. The host may
	// transiently return "" right after saving.
	Save(ctx context.Context) (string, error)

	// SetProperty writes a custom property onto the item, used for
	// idempotency stamping.
	SetProperty(ctx context.Context, key, value string) error
}

// MemoryItem is an in-memory Item used by the HTTP front end and tests.
type MemoryItem struct {
	Msg         email.Email
	HostID      string
	Draft       bool
	AccountAddr string

	// SaveFunc overrides Save when set, letting tests model hosts that
	// return empty ids transiently.
	SaveFunc func(ctx context.Context) (string, error)

	mu    sync.Mutex
	props map[string]string
}

func (m *MemoryItem) Snapshot(ctx context.Context) (*email.Email, error) {
	msg := m.Msg
	return &msg, nil
}

func (m *MemoryItem) ID(ctx context.Context) (string, error) {
	return m.HostID, nil
}

func (m *MemoryItem) IsDraft() bool {
	return m.Draft
}

func (m *MemoryItem) Account() string {
	return m.AccountAddr
}

func (m *MemoryItem) Save(ctx context.Context) (string, error) {
	if m.SaveFunc != nil {
		id, err := m.SaveFunc(ctx)
		if err == nil && id != "" {
			m.HostID = id
		}
		return id, err
	}
	return m.HostID, nil
}

func (m *MemoryItem) SetProperty(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.props == nil {
		m.props = make(map[string]string)
	}
	m.props[key] = value
	return nil
}

// Property returns a previously stamped property value.
func (m *MemoryItem) Property(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.props[key]
}
