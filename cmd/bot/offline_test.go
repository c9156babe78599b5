package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"telegram":{"owner_id":1},"storage":{"driver":"file","path":%q}}`, filepath.Join(dir, "state.json"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestLedgerAndTokens(t *testing.T) {
	cfg := writeConfig(t)

	if _, err := run(t, cfg, "token", "issue", "42"); err == nil {
		t.Fatal("issued a code for an unauthorized account")
	}
	if out, err := run(t, cfg, "ledger", "authorize", "42"); err != nil || !strings.Contains(out, "42 authorized") {
		t.Fatalf("authorize: %v %q", err, out)
	}
	out, err := run(t, cfg, "token", "issue", "42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	token := strings.TrimSpace(out)
	if len(token) != 22 {
		t.Fatalf("token=%q", token)
	}

	out, err = run(t, cfg, "token", "list")
	if err != nil || !strings.Contains(out, token) || !strings.Contains(out, "42") {
		t.Fatalf("list: %v %q", err, out)
	}

	if _, err := run(t, cfg, "ledger", "deauthorize", "1"); err == nil {
		t.Fatal("owner deauthorized")
	}
	if _, err := run(t, cfg, "token", "revoke", token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := run(t, cfg, "token", "revoke", token); err == nil {
		t.Fatal("revoked twice")
	}

	out, err = run(t, cfg, "ledger", "list")
	if err != nil || !strings.Contains(out, "owner: 1") || !strings.Contains(out, "account: 42") {
		t.Fatalf("ledger list: %v %q", err, out)
	}
}

func TestParseAccount(t *testing.T) {
	t.Parallel()

	if _, err := parseAccount("@bob"); err == nil {
		t.Fatal("handle accepted")
	}
	if id, err := parseAccount("-5"); err != nil || id != -5 {
		t.Fatalf("id=%d err=%v", id, err)
	}
}
