package fsm

import (
	"context"
	"strings"

	"github.com/goliatone/go-claimbot/core"
)

// Token is a canonical menu keyword. Input is matched against tokens after
// trimming surrounding whitespace and upper-casing.
type Token string

const (
	TokenYes    Token = "YES"
	TokenNo     Token = "NO"
	TokenTerms  Token = "TERMS"
	TokenDelay  Token = "DELAY"
	TokenClaim  Token = "CLAIM"
	TokenStatus Token = "STATUS"
	TokenHelp   Token = "HELP"
	TokenLogout Token = "LOGOUT"
	TokenMenu   Token = "MENU"
	TokenRetry  Token = "RETRY"
	TokenSkip   Token = "SKIP"
	TokenResend Token = "RESEND"
	TokenNone   Token = "NONE"
)

// Normalize applies the input normalization contract: trim, then upper-case.
func Normalize(text string) string {
	return strings.ToUpper(strings.TrimSpace(text))
}

// tokenTable maps canonical tokens to outcomes for one state. Input that
// matches no token goes to fallback.
type tokenTable struct {
	routes   map[Token]HandlerFunc
	fallback HandlerFunc
}

func (t tokenTable) dispatch(ctx context.Context, in TransitionInput) core.HandlerResult {
	if handler, ok := t.routes[Token(Normalize(in.Text))]; ok && handler != nil {
		return handler(ctx, in)
	}
	return t.fallback(ctx, in)
}

func (t tokenTable) handler() HandlerFunc {
	return t.dispatch
}
