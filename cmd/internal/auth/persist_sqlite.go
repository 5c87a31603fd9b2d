package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// SQLitePersister stores the credential in a local sqlite database, sealed
// with XChaCha20-Poly1305 under a per-device key. Tokens never touch disk
// in plaintext.
type SQLitePersister struct {
	db  *sql.DB
	key []byte
}

const credentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	sealed     BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// NewSQLitePersister opens (or creates) the credential database at path.
// key must be exactly 32 bytes; see LoadOrCreateDeviceKey.
func NewSQLitePersister(path string, key []byte) (*SQLitePersister, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrSealedKeySize
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	if _, err := db.Exec(credentialSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init credential schema: %w", err)
	}

	return &SQLitePersister{db: db, key: append([]byte(nil), key...)}, nil
}

// Load returns the persisted credential, if any. A credential sealed under
// a different device key is treated as absent rather than an error: the
// user logs in again and the row is overwritten.
func (p *SQLitePersister) Load() (Credential, bool, error) {
	var sealed []byte
	err := p.db.QueryRow(`SELECT sealed FROM credentials WHERE id = 1`).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("load credential: %w", err)
	}

	plain, err := p.open(sealed)
	if err != nil {
		return Credential{}, false, nil
	}

	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Save seals and upserts the credential row.
func (p *SQLitePersister) Save(cred Credential) error {
	plain, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	sealed, err := p.seal(plain)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`
		INSERT INTO credentials (id, sealed, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		sealed, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Clear removes the credential row.
func (p *SQLitePersister) Clear() error {
	if _, err := p.db.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *SQLitePersister) Close() error { return p.db.Close() }

func (p *SQLitePersister) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (p *SQLitePersister) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// LoadOrCreateDeviceKey reads the 32-byte sealing key at path, creating it
// with a fresh random key (mode 0600) on first run.
func LoadOrCreateDeviceKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, ErrSealedKeySize
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	return key, nil
}
