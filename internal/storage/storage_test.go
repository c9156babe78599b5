package storage

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	logx "codegate/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "state.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "state.db")},
		{Driver: "memory"},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openAll(t) {
		if _, found, err := st.LoadDocument(ctx); err != nil || found {
			t.Fatalf("%s: empty load found=%v err=%v", name, found, err)
		}

		doc := Document{
			AuthorizedUsers: []int64{42, 7, 1000},
			AuthorizedChats: []int64{-100200, 100},
			Command:         "/go",
			Messages:        []string{"b {mention}", "a {mention}"},
			OwnerID:         42,
			SecretCodes:     map[string]int64{"tok1": 7, "tok2": 1000},
		}
		if err := st.SaveDocument(ctx, doc); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		doc.Messages = []string{"changed"}
		if err := st.SaveDocument(ctx, doc); err != nil {
			t.Fatalf("%s: second save: %v", name, err)
		}

		got, found, err := st.LoadDocument(ctx)
		if err != nil || !found {
			t.Fatalf("%s: load found=%v err=%v", name, found, err)
		}
		if !slices.Equal(got.AuthorizedUsers, []int64{42, 7, 1000}) || !slices.Equal(got.AuthorizedChats, []int64{-100200, 100}) {
			t.Fatalf("%s: order lost: %+v", name, got)
		}
		if got.Command != "/go" || got.OwnerID != 42 || !slices.Equal(got.Messages, []string{"changed"}) {
			t.Fatalf("%s: got %+v", name, got)
		}
		if len(got.SecretCodes) != 2 || got.SecretCodes["tok2"] != 1000 {
			t.Fatalf("%s: codes %+v", name, got.SecretCodes)
		}
	}
}

func TestRecentAuditNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openAll(t) {
		for _, action := range []string{"a", "b", "c"} {
			if err := st.AppendAudit(ctx, AuditEntry{Action: action, ActorID: 42, Target: "x"}); err != nil {
				t.Fatalf("%s: append: %v", name, err)
			}
		}
		got, err := st.RecentAudit(ctx, 2)
		if err != nil {
			t.Fatalf("%s: recent: %v", name, err)
		}
		if len(got) != 2 || got[0].Action != "c" || got[1].Action != "b" {
			t.Fatalf("%s: got %+v", name, got)
		}
		if got[0].At.IsZero() || got[0].ActorID != 42 || got[0].Target != "x" {
			t.Fatalf("%s: fields lost: %+v", name, got[0])
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	a := Document{AuthorizedUsers: []int64{1}, SecretCodes: map[string]int64{"x": 1}}
	b := a.Clone()
	b.AuthorizedUsers[0] = 2
	b.SecretCodes["x"] = 2
	if a.AuthorizedUsers[0] != 1 || a.SecretCodes["x"] != 1 {
		t.Fatalf("clone shares memory")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
