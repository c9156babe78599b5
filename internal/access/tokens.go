package access

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"codegate/internal/storage"
)

// tokenBytes of entropy, encoded as unpadded base64url (22 characters).
const tokenBytes = 16

const maxIssueAttempts = 8

var ErrTokenSpace = errors.New("access: could not draw an unused token")

// Binding is a registered token and the account it acts for.
type Binding struct {
	Token   string
	Account int64
}

// Tokens is the capability token registry.
type Tokens struct{ s *State }

// Issue draws a fresh token, binds it to account and persists the binding.
func (t *Tokens) Issue(ctx context.Context, account int64) (string, error) {
	var token string
	_, err := t.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		for range maxIssueAttempts {
			cand, err := newToken(t.s.rand)
			if err != nil {
				return false, err
			}
			if _, taken := doc.SecretCodes[cand]; taken {
				continue
			}
			doc.SecretCodes[cand] = account
			token = cand
			return true, nil
		}
		return false, ErrTokenSpace
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Revoke removes token. Revoking an unknown token is not an error.
func (t *Tokens) Revoke(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	return t.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if _, ok := doc.SecretCodes[token]; !ok {
			return false, nil
		}
		delete(doc.SecretCodes, token)
		return true, nil
	})
}

// Resolve returns the account bound to token.
func (t *Tokens) Resolve(token string) (account int64, ok bool) {
	t.s.read(func(doc *storage.Document) {
		account, ok = doc.SecretCodes[token]
	})
	return account, ok
}

// List returns all bindings ordered by account, then token.
func (t *Tokens) List() []Binding {
	var out []Binding
	t.s.read(func(doc *storage.Document) {
		out = make([]Binding, 0, len(doc.SecretCodes))
		for tok, acc := range doc.SecretCodes {
			out = append(out, Binding{Token: tok, Account: acc})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// TokenFor returns the first token bound to account in List order.
func (t *Tokens) TokenFor(account int64) (string, bool) {
	for _, b := range t.List() {
		if b.Account == account {
			return b.Token, true
		}
	}
	return "", false
}

func newToken(r io.Reader) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("access: read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
