// Package access owns the persisted authorization state: the token
// registry, the account and chat ledger, and the dispatch settings.
//
// Every mutation runs under one writer lock on a copy of the document, is
// saved through the storage backend, and only then becomes visible.
package access

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"codegate/internal/storage"
	logx "codegate/pkg/logx"
)

const (
	DefaultCommand  = "/s"
	DefaultTemplate = "Hello {mention}! Welcome to the group!"
	Placeholder     = "{mention}"
)

var (
	ErrOwnerPermanent  = errors.New("access: owner cannot be deauthorized")
	ErrIndexOutOfRange = errors.New("access: template index out of range")
	ErrInvalidCommand  = errors.New("access: command must be a single word")
	ErrEmptyTemplate   = errors.New("access: template is empty")
)

type State struct {
	mu    sync.RWMutex
	doc   storage.Document
	owner int64

	store storage.Store
	log   logx.Logger
	rand  io.Reader
}

type Option func(*State)

// WithRandom replaces crypto/rand as token entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *State) { s.rand = r }
}

// Open loads the document from store (defaults when absent) and binds it to
// ownerID. The owner is added to the authorized accounts if missing.
func Open(ctx context.Context, store storage.Store, ownerID int64, log logx.Logger, opts ...Option) (*State, error) {
	if store == nil {
		return nil, errors.New("access: store is nil")
	}
	if ownerID == 0 {
		return nil, errors.New("access: owner id is required")
	}
	s := &State{owner: ownerID, store: store, log: log, rand: rand.Reader}
	for _, o := range opts {
		o(s)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory document with the stored one.
func (s *State) Reload(ctx context.Context) error {
	doc, found, err := s.store.LoadDocument(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !found {
		doc = defaultDocument()
	}
	dirty := normalize(&doc, s.owner)
	if !found || dirty {
		if err := s.store.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		s.log.Info("state normalized", logx.Bool("created", !found), logx.Int64("owner_id", s.owner))
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current document.
func (s *State) Snapshot() storage.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

func (s *State) Tokens() *Tokens     { return &Tokens{s: s} }
func (s *State) Ledger() *Ledger     { return &Ledger{s: s} }
func (s *State) Settings() *Settings { return &Settings{s: s} }

// mutate applies fn to a copy and persists it when fn reports a change.
// On a persist error the in-memory document is left untouched.
func (s *State) mutate(ctx context.Context, fn func(doc *storage.Document) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Clone()
	changed, err := fn(&next)
	if err != nil || !changed {
		return false, err
	}
	if err := s.store.SaveDocument(ctx, next); err != nil {
		return false, fmt.Errorf("persist state: %w", err)
	}
	s.doc = next
	return true, nil
}

func (s *State) read(fn func(doc *storage.Document)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.doc)
}

func defaultDocument() storage.Document {
	return storage.Document{
		AuthorizedUsers: []int64{},
		AuthorizedChats: []int64{},
		Command:         DefaultCommand,
		Messages:        []string{DefaultTemplate},
		SecretCodes:     map[string]int64{},
	}
}

// normalize enforces the document invariants and reports whether it had to
// change anything.
func normalize(doc *storage.Document, owner int64) bool {
	dirty := false
	if doc.OwnerID != owner {
		doc.OwnerID = owner
		dirty = true
	}

	users := dedupe(doc.AuthorizedUsers)
	if !slices.Contains(users, owner) {
		users = append(users, owner)
	}
	if !slices.Equal(users, doc.AuthorizedUsers) {
		doc.AuthorizedUsers = users
		dirty = true
	}
	if chats := dedupe(doc.AuthorizedChats); !slices.Equal(chats, doc.AuthorizedChats) {
		doc.AuthorizedChats = chats
		dirty = true
	}

	if cmd := normalizeCommand(doc.Command); cmd != doc.Command {
		doc.Command = cmd
		dirty = true
	}
	if doc.Messages == nil {
		doc.Messages = []string{DefaultTemplate}
		dirty = true
	}
	if doc.SecretCodes == nil {
		doc.SecretCodes = map[string]int64{}
	}
	return dirty
}

func normalizeCommand(raw string) string {
	cmd := strings.TrimSpace(raw)
	if cmd == "" || cmd == "/" {
		return DefaultCommand
	}
	if !strings.HasPrefix(cmd, "/") {
		cmd = "/" + cmd
	}
	return cmd
}

func dedupe(in []int64) []int64 {
	out := make([]int64, 0, len(in))
	seen := make(map[int64]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
