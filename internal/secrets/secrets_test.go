package secrets

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseEnv(t *testing.T) {
	values, err := parseEnv([]byte(`
# comment
GITHUB_TOKEN=ghp_abc123

QUOTED="hello world"
SINGLE='single quoted'
WITH_EQUALS=a=b=c
  SPACED  =  padded
EMPTY=
noequals
`))
	if err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	want := map[string]string{
		"GITHUB_TOKEN": "ghp_abc123",
		"QUOTED":       "hello world",
		"SINGLE":       "single quoted",
		"WITH_EQUALS":  "a=b=c",
		"SPACED":       "padded",
		"EMPTY":        "",
	}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d: %v", len(values), len(want), values)
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("values[%q] = %q, want %q", k, values[k], v)
		}
	}
}

func TestStoreGetKeysReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "B_KEY=two\nA_KEY=one\n")

	s, err := Open(path, "", testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if v, ok := s.Get("A_KEY"); !ok || v != "one" {
		t.Fatalf("Get(A_KEY) = %q, %v", v, ok)
	}
	if _, ok := s.Get("MISSING"); ok {
		t.Fatal("Get(MISSING) unexpectedly found")
	}

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "A_KEY" || keys[1] != "B_KEY" {
		t.Fatalf("Keys() = %v, want sorted [A_KEY B_KEY]", keys)
	}

	writeFile(t, path, "A_KEY=changed\n")
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if v, _ := s.Get("A_KEY"); v != "changed" {
		t.Fatalf("after reload Get(A_KEY) = %q, want changed", v)
	}
	if s.Len() != 1 {
		t.Fatalf("after reload Len() = %d, want 1", s.Len())
	}
}

func TestStoreMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nope.env"), "", testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "TOKEN=s3cr3t\nEMPTY=\n")

	s, err := Open(path, "", testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got := s.Mask("auth failed for s3cr3t (token s3cr3t expired)")
	want := "auth failed for [REDACTED] (token [REDACTED] expired)"
	if got != want {
		t.Fatalf("Mask() = %q, want %q", got, want)
	}
	if s.Mask("nothing here") != "nothing here" {
		t.Fatal("Mask() altered text without secrets")
	}
}

func TestEncryptorRoundTrip(t *testing.T) {
	idPath := filepath.Join(t.TempDir(), "identity.txt")
	recipient, err := GenerateIdentity(idPath)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if recipient == "" {
		t.Fatal("empty recipient")
	}

	enc, err := LoadIdentity(idPath)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if enc.Recipient() != recipient {
		t.Fatalf("Recipient() = %q, want %q", enc.Recipient(), recipient)
	}

	sealed, err := enc.Encrypt([]byte("API_KEY=hunter2\n"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plain) != "API_KEY=hunter2\n" {
		t.Fatalf("Decrypt = %q", plain)
	}
}

func TestVaultEditAndStoreRead(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "identity.txt")
	vaultPath := filepath.Join(dir, "secrets.age")

	if _, err := GenerateIdentity(idPath); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	v, err := OpenVault(vaultPath, idPath)
	if err != nil {
		t.Fatalf("OpenVault: %v", err)
	}
	if err := v.Set("DB_PASSWORD", "pg-pass"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Set("API_KEY", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	keys, err := v.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "API_KEY" || keys[1] != "DB_PASSWORD" {
		t.Fatalf("Keys() = %v", keys)
	}

	s, err := Open(vaultPath, idPath, testLogger())
	if err != nil {
		t.Fatalf("Open store over vault: %v", err)
	}
	if got, _ := s.Get("DB_PASSWORD"); got != "pg-pass" {
		t.Fatalf("Get(DB_PASSWORD) = %q", got)
	}

	if err := v.Remove("API_KEY"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := v.Remove("API_KEY"); err == nil {
		t.Fatal("Remove of missing key succeeded")
	}
	keys, err = v.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "DB_PASSWORD" {
		t.Fatalf("Keys() after remove = %v", keys)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "KEY=before\n")

	s, err := Open(path, "", testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	if err := s.Watch(ctx, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, "KEY=after\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if v, _ := s.Get("KEY"); v != "after" {
		t.Fatalf("Get(KEY) = %q, want after", v)
	}
}
