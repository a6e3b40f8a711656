// Package resolve converts host-proprietary Exchange message identifiers
// into the canonical REST identifiers the mailbox API requires.
package resolve

import (
	"context"
	"log/slog"
	"strings"
)

// ewsIDChars are characters that appear in the host's proprietary id
// encoding but never in a canonical REST id. An id containing none of them
// needs no conversion.
const ewsIDChars = "/+="

// Converter is the identifier-conversion capability, best-effort.
type Converter interface {
	TranslateIDs(ctx context.Context, token string, ids []string) ([]string, error)
}

// Resolver converts identifiers via the host's conversion capability.
type Resolver struct {
	converter Converter
}

// New creates a resolver over the given conversion capability.
func New(converter Converter) *Resolver {
	return &Resolver{converter: converter}
}

// Resolve returns the canonical REST identifier for hostID. Ids already in
// canonical form skip the network round-trip. Conversion failure is never
// fatal: the original id is returned unchanged and resolution quality
// degrades downstream.
func (r *Resolver) Resolve(ctx context.Context, token, hostID string) string {
	if hostID == "" {
		return hostID
	}
	if !strings.ContainsAny(hostID, ewsIDChars) {
		return hostID
	}

	converted, err := r.converter.TranslateIDs(ctx, token, []string{hostID})
	if err != nil {
		slog.Warn("identifier conversion failed, using original id", "error", err)
		return hostID
	}
	if len(converted) == 0 || converted[0] == "" {
		slog.Warn("identifier conversion returned no result, using original id")
		return hostID
	}
	return converted[0]
}
