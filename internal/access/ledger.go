package access

import (
	"context"
	"slices"

	"codegate/internal/storage"
)

// Ledger holds the authorized accounts and chats. The owner is always an
// authorized account.
type Ledger struct{ s *State }

func (l *Ledger) Owner() int64 { return l.s.owner }

func (l *Ledger) IsOwner(account int64) bool { return account == l.s.owner }

// AuthorizeAccount reports false when account already was authorized.
func (l *Ledger) AuthorizeAccount(ctx context.Context, account int64) (bool, error) {
	return l.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if account == l.s.owner || slices.Contains(doc.AuthorizedUsers, account) {
			return false, nil
		}
		doc.AuthorizedUsers = append(doc.AuthorizedUsers, account)
		return true, nil
	})
}

// DeauthorizeAccount removes account. Tokens bound to it stay registered but
// no longer pass the gate.
func (l *Ledger) DeauthorizeAccount(ctx context.Context, account int64) (bool, error) {
	if account == l.s.owner {
		return false, ErrOwnerPermanent
	}
	return l.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		i := slices.Index(doc.AuthorizedUsers, account)
		if i < 0 {
			return false, nil
		}
		doc.AuthorizedUsers = slices.Delete(doc.AuthorizedUsers, i, i+1)
		return true, nil
	})
}

func (l *Ledger) AuthorizeChat(ctx context.Context, chat int64) (bool, error) {
	return l.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if slices.Contains(doc.AuthorizedChats, chat) {
			return false, nil
		}
		doc.AuthorizedChats = append(doc.AuthorizedChats, chat)
		return true, nil
	})
}

func (l *Ledger) DeauthorizeChat(ctx context.Context, chat int64) (bool, error) {
	return l.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		i := slices.Index(doc.AuthorizedChats, chat)
		if i < 0 {
			return false, nil
		}
		doc.AuthorizedChats = slices.Delete(doc.AuthorizedChats, i, i+1)
		return true, nil
	})
}

func (l *Ledger) IsAccountAuthorized(account int64) (ok bool) {
	if account == l.s.owner {
		return true
	}
	l.s.read(func(doc *storage.Document) {
		ok = slices.Contains(doc.AuthorizedUsers, account)
	})
	return ok
}

func (l *Ledger) IsChatAuthorized(chat int64) (ok bool) {
	l.s.read(func(doc *storage.Document) {
		ok = slices.Contains(doc.AuthorizedChats, chat)
	})
	return ok
}

// Accounts returns the authorized accounts in insertion order.
func (l *Ledger) Accounts() (out []int64) {
	l.s.read(func(doc *storage.Document) { out = slices.Clone(doc.AuthorizedUsers) })
	return out
}

func (l *Ledger) Chats() (out []int64) {
	l.s.read(func(doc *storage.Document) { out = slices.Clone(doc.AuthorizedChats) })
	return out
}
