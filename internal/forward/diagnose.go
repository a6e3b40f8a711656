package forward

import (
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// identityMismatchHint compares the principal the bearer token was issued
// to against the host-context account. Exhausted resolutions are often a
// sign the user is signed in to a different mailbox than the one the item
// lives in; the comparison exists purely for error context.
func (e *Engine) identityMismatchHint(req *Request) string {
	principal := principalFromToken(req.Token)
	if principal == "" || req.Account == "" {
		return ""
	}
	if strings.EqualFold(principal, req.Account) {
		return ""
	}

	slog.Warn("authenticated principal differs from host account",
		"principal", principal,
		"host_account", req.Account,
	)
	return "token principal " + principal + " does not match host account " + req.Account
}

// principalFromToken extracts the signed-in principal from the access
// token's claims. The token is the relay's own credential and the result is
// used for log context only, so the signature is not verified here.
func principalFromToken(accessToken string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}

	for _, key := range []string{"preferred_username", "upn", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
