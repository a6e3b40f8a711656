package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Kind names one of the two token cache slots.
type Kind string

// The two trust domains the broker serves.
const (
	KindSubmission Kind = "submission"
	KindMailbox    Kind = "mailbox"
)

// validityBuffer is the remaining lifetime below which a cached token is
// treated as expired, so a token never runs out mid-request.
const validityBuffer = 300 * time.Second

// Broker caches one bearer token per kind, deduplicates concurrent
// acquisitions, and serializes interactive sign-in so only one prompt is
// ever pending. All state lives for the process session and is cleared
// only by an explicit Clear.
type Broker struct {
	idp     Identity
	account string
	scopes  map[Kind][]string

	group singleflight.Group

	mu      sync.Mutex
	cache   map[Kind]*Token
	pending chan struct{} // non-nil while an interactive prompt is open

	now func() time.Time
}

// NewBroker creates a token broker over the given identity platform client.
func NewBroker(idp Identity, account string, submissionScopes, mailboxScopes []string) *Broker {
	b := &Broker{
		idp:     idp,
		account: account,
		scopes: map[Kind][]string{
			KindSubmission: submissionScopes,
			KindMailbox:    mailboxScopes,
		},
		cache: make(map[Kind]*Token),
		now:   time.Now,
	}
	return b
}

// Token returns a valid token for the given kind, from cache when possible.
// Concurrent calls for the same kind collapse into a single acquisition.
func (b *Broker) Token(ctx context.Context, kind Kind) (*Token, error) {
	if tok := b.cached(kind); tok != nil {
		return tok, nil
	}

	v, err, _ := b.group.Do(string(kind), func() (any, error) {
		// A queued caller may find the cache already refilled.
		if tok := b.cached(kind); tok != nil {
			return tok, nil
		}
		return b.acquire(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

// AcquireBoth acquires tokens for both kinds in one session. Each kind is
// tried silently first; only if either needs interaction is a single
// combined-scope prompt issued, and its token is stored under both kinds.
func (b *Broker) AcquireBoth(ctx context.Context) error {
	needInteraction := false
	for _, kind := range []Kind{KindSubmission, KindMailbox} {
		if b.cached(kind) != nil {
			continue
		}
		tok, err := b.idp.AcquireSilent(ctx, b.account, b.scopes[kind])
		switch {
		case err == nil:
			b.store(kind, tok)
		case errors.Is(err, ErrInteractionRequired):
			needInteraction = true
		default:
			return fmt.Errorf("silent acquisition for %s failed: %w", kind, err)
		}
	}

	if !needInteraction {
		return nil
	}

	combined := append(append([]string{}, b.scopes[KindSubmission]...), b.scopes[KindMailbox]...)
	tok, err := b.interactive(ctx, combined)
	if err != nil {
		return err
	}

	// One combined prompt yields one token; both slots hold it.
	b.store(KindSubmission, tok)
	b.store(KindMailbox, tok)
	return nil
}

// Clear wipes the token cache, e.g. on logout.
func (b *Broker) Clear() {
	b.mu.Lock()
	b.cache = make(map[Kind]*Token)
	b.mu.Unlock()
}

// acquire performs silent acquisition and escalates to the interactive
// path when the identity platform demands it.
func (b *Broker) acquire(ctx context.Context, kind Kind) (*Token, error) {
	scopes := b.scopes[kind]

	tok, err := b.idp.AcquireSilent(ctx, b.account, scopes)
	if err == nil {
		b.store(kind, tok)
		return tok, nil
	}
	if !errors.Is(err, ErrInteractionRequired) {
		return nil, fmt.Errorf("silent acquisition for %s failed: %w", kind, err)
	}

	slog.Debug("silent acquisition needs interaction", "kind", string(kind))

	tok, err = b.interactive(ctx, scopes)
	if err != nil {
		return nil, err
	}
	b.store(kind, tok)
	return tok, nil
}

// interactive obtains exclusive use of the interaction lock and shows one
// prompt. A caller that finds a prompt already pending awaits it, then
// re-attempts silent acquisition before deciding whether to prompt itself.
func (b *Broker) interactive(ctx context.Context, scopes []string) (*Token, error) {
	for {
		b.mu.Lock()
		if b.pending == nil {
			b.pending = make(chan struct{})
			b.mu.Unlock()
			break
		}
		wait := b.pending
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// The settled prompt may have established a session usable
		// without a second prompt.
		tok, err := b.idp.AcquireSilent(ctx, b.account, scopes)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrInteractionRequired) {
			return nil, fmt.Errorf("silent acquisition after sign-in failed: %w", err)
		}
	}

	tok, err := b.idp.AcquireInteractive(ctx, scopes)

	b.mu.Lock()
	close(b.pending)
	b.pending = nil
	b.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("interactive sign-in failed: %w", err)
	}
	return tok, nil
}

// cached returns the token for kind if it is still valid, else nil.
func (b *Broker) cached(kind Kind) *Token {
	b.mu.Lock()
	tok := b.cache[kind]
	b.mu.Unlock()

	if tok == nil {
		return nil
	}
	if !tok.ExpiresAt.After(b.now().Add(validityBuffer)) {
		return nil
	}
	return tok
}

// store writes a freshly acquired token into the cache.
func (b *Broker) store(kind Kind, tok *Token) {
	b.mu.Lock()
	b.cache[kind] = tok
	b.mu.Unlock()
}
