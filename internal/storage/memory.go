package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store. SaveErr, when set, fails every save.
type Memory struct {
	mu     sync.Mutex
	doc    *Document
	audit  []AuditEntry
	saves  int
	closed bool

	SaveErr error
}

func NewMemory() *Memory { return &Memory{} }

// NewMemoryWith returns a store that already holds doc.
func NewMemoryWith(doc Document) *Memory {
	d := doc.Clone()
	return &Memory{doc: &d}
}

func (m *Memory) LoadDocument(ctx context.Context) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return Document{}, false, nil
	}
	return m.doc.Clone(), true, nil
}

func (m *Memory) SaveDocument(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.SaveErr != nil {
		return m.SaveErr
	}
	d := doc.Clone()
	m.doc = &d
	m.saves++
	return nil
}

// Saves counts successful SaveDocument calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, stamp(e))
	return nil
}

func (m *Memory) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	start := len(m.audit) - n
	if start < 0 {
		start = 0
	}
	return newestFirst(append([]AuditEntry(nil), m.audit[start:]...)), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func stamp(e AuditEntry) AuditEntry {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}

func newestFirst(es []AuditEntry) []AuditEntry {
	slices.Reverse(es)
	return es
}
