package storage

import (
	"context"
	"fmt"
	"strings"

	logx "codegate/pkg/logx"
)

type Store interface {
	// LoadDocument reports found=false when nothing was saved yet.
	LoadDocument(ctx context.Context) (doc Document, found bool, err error)
	SaveDocument(ctx context.Context, doc Document) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to n entries, newest first.
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)

	Close() error
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
