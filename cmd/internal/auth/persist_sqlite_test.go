package auth

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func TestSQLitePersisterRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	key := testKey(t)

	p, err := NewSQLitePersister(path, key)
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}
	defer p.Close()

	if _, ok, err := p.Load(); err != nil || ok {
		t.Fatalf("fresh db: ok=%v err=%v", ok, err)
	}

	cred := Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Identity:     Identity{UserID: "u1", Email: "a@example.com", EmailVerified: true},
	}
	if err := p.Save(cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := p.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got != cred {
		t.Fatalf("roundtrip mismatch: got=%+v want=%+v", got, cred)
	}

	// Second save overwrites the single row.
	cred.AccessToken = "rotated"
	if err := p.Save(cred); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}
	got, _, _ = p.Load()
	if got.AccessToken != "rotated" {
		t.Fatalf("overwrite lost: got=%+v", got)
	}

	if err := p.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := p.Load(); ok {
		t.Fatal("credential survived Clear")
	}
}

func TestSQLitePersisterTokensNotOnDiskInPlaintext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	p, err := NewSQLitePersister(path, testKey(t))
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}

	if err := p.Save(Credential{AccessToken: "super-secret-access-token", Identity: Identity{UserID: "u"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw := readAll(t, path)
	if bytes.Contains(raw, []byte("super-secret-access-token")) {
		t.Fatal("plaintext token found in database file")
	}
}

func TestSQLitePersisterWrongKeyTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	p, err := NewSQLitePersister(path, testKey(t))
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}
	if err := p.Save(Credential{AccessToken: "at", Identity: Identity{UserID: "u"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := NewSQLitePersister(path, testKey(t))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	if _, ok, err := p2.Load(); err != nil || ok {
		t.Fatalf("wrong key should read as absent: ok=%v err=%v", ok, err)
	}
}

func TestSQLitePersisterRejectsBadKey(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLitePersister(filepath.Join(t.TempDir(), "c.db"), []byte("short")); err == nil {
		t.Fatal("expected key-size error")
	}
}

func TestLoadOrCreateDeviceKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "device.key")

	key1, err := LoadOrCreateDeviceKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("key length = %d, want 32", len(key1))
	}

	key2, err := LoadOrCreateDeviceKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Fatal("second load returned a different key")
	}
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
