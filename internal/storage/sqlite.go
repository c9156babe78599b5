package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "codegate/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadDocument(ctx context.Context) (Document, bool, error) {
	settings := map[string]string{}
	if err := queryEach(ctx, s.db, `SELECT key, value FROM settings`, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		settings[k] = v
		return nil
	}); err != nil {
		return Document{}, false, err
	}
	rawOwner, ok := settings["owner_id"]
	if !ok {
		return Document{}, false, nil
	}
	owner, err := strconv.ParseInt(rawOwner, 10, 64)
	if err != nil {
		return Document{}, false, fmt.Errorf("settings.owner_id: %w", err)
	}

	doc := Document{OwnerID: owner, Command: settings["command"], Messages: []string{}, SecretCodes: map[string]int64{}}
	scanInt := func(dst *[]int64) func(*sql.Rows) error {
		return func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			*dst = append(*dst, id)
			return nil
		}
	}
	if err := queryEach(ctx, s.db, `SELECT account_id FROM authorized_users ORDER BY pos`, scanInt(&doc.AuthorizedUsers)); err != nil {
		return Document{}, false, err
	}
	if err := queryEach(ctx, s.db, `SELECT chat_id FROM authorized_chats ORDER BY pos`, scanInt(&doc.AuthorizedChats)); err != nil {
		return Document{}, false, err
	}
	if err := queryEach(ctx, s.db, `SELECT body FROM templates ORDER BY pos`, func(rows *sql.Rows) error {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		doc.Messages = append(doc.Messages, body)
		return nil
	}); err != nil {
		return Document{}, false, err
	}
	if err := queryEach(ctx, s.db, `SELECT code, account_id FROM secret_codes`, func(rows *sql.Rows) error {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return err
		}
		doc.SecretCodes[code] = id
		return nil
	}); err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

// SaveDocument replaces the whole state in one transaction.
func (s *sqliteStore) SaveDocument(ctx context.Context, doc Document) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"settings", "authorized_users", "authorized_chats", "templates", "secret_codes"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO settings(key, value) VALUES('owner_id', ?), ('command', ?)`,
		strconv.FormatInt(doc.OwnerID, 10), doc.Command); err != nil {
		return err
	}
	for i, id := range doc.AuthorizedUsers {
		if _, err = tx.ExecContext(ctx, `INSERT INTO authorized_users(account_id, pos) VALUES(?, ?)`, id, i); err != nil {
			return err
		}
	}
	for i, id := range doc.AuthorizedChats {
		if _, err = tx.ExecContext(ctx, `INSERT INTO authorized_chats(chat_id, pos) VALUES(?, ?)`, id, i); err != nil {
			return err
		}
	}
	for i, body := range doc.Messages {
		if _, err = tx.ExecContext(ctx, `INSERT INTO templates(pos, body) VALUES(?, ?)`, i, body); err != nil {
			return err
		}
	}
	for code, id := range doc.SecretCodes {
		if _, err = tx.ExecContext(ctx, `INSERT INTO secret_codes(code, account_id) VALUES(?, ?)`, code, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	e = stamp(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.ChatID, e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.Meta),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []AuditEntry
	err := queryEach(ctx, s.db,
		`SELECT at, actor_id, chat_id, action, target, ok, fail, err, took_ms, meta
		 FROM audit ORDER BY id DESC LIMIT `+strconv.Itoa(n),
		func(rows *sql.Rows) error {
			var (
				e                 AuditEntry
				at                string
				target, msg, meta sql.NullString
			)
			if err := rows.Scan(&at, &e.ActorID, &e.ChatID, &e.Action, &target, &e.OK, &e.Fail, &msg, &e.TookMS, &meta); err != nil {
				return err
			}
			e.At, _ = time.Parse(time.RFC3339Nano, at)
			e.Target, e.Error, e.Meta = target.String, msg.String, meta.String
			out = append(out, e)
			return nil
		})
	return out, err
}

func queryEach(ctx context.Context, db *sql.DB, query string, fn func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
