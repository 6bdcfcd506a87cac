package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scamazon/storefront/pkg/logger"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	secretKeyFile   = "secret.key"
	credentialsFile = "credentials"

	keySize   = 32
	nonceSize = 24
)

// Record is the persisted login state.
type Record struct {
	Token   string    `json:"token"`
	Role    string    `json:"role,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// Store keeps the bearer token in memory and, encrypted with a per-install
// secretbox key, on disk under its directory.
type Store struct {
	dir string
	now func() time.Time

	mu     sync.RWMutex
	key    *[keySize]byte
	record Record
}

// Open loads (or initializes) the store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	key, err := getOrCreateKey(filepath.Join(dir, secretKeyFile))
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, now: time.Now, key: key}

	rec, err := s.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		// A corrupt file is treated as logged out rather than fatal.
		logger.Warnf("credentials: ignoring unreadable credentials file: %v", err)
	default:
		s.record = rec
	}
	return s, nil
}

// Token implements Source. It returns ErrNoCredentials when logged out or
// when the stored token has expired.
func (s *Store) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	token := s.record.Token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoCredentials
	}
	if Expired(token, s.now()) {
		logger.Debugf("credentials: stored token expired")
		return "", ErrNoCredentials
	}
	return token, nil
}

// Role returns the stored user role ("customer", "admin", ...).
func (s *Store) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Role
}

// Save replaces the stored token and role.
func (s *Store) Save(token, role string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoCredentials
	}
	rec := Record{Token: token, Role: role, SavedAt: s.now().UTC()}
	if err := s.persist(rec); err != nil {
		return err
	}
	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
	return nil
}

// Clear forgets the stored token (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	s.record = Record{}
	s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, credentialsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

func (s *Store) persist(rec Record) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, s.key)

	path := filepath.Join(s.dir, credentialsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func (s *Store) load() (Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, credentialsFile))
	if err != nil {
		return Record{}, err
	}
	if len(data) < nonceSize {
		return Record{}, fmt.Errorf("credentials file too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, s.key)
	if !ok {
		return Record{}, fmt.Errorf("decrypt credentials: authentication failed")
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return rec, nil
}

// getOrCreateKey loads the base64 secretbox key at path, generating and
// saving a fresh one when missing.
func getOrCreateKey(path string) (*[keySize]byte, error) {
	var key [keySize]byte

	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode secret key: %w", err)
		}
		if len(raw) != keySize {
			return nil, fmt.Errorf("invalid secret key length: %d (expected %d)", len(raw), keySize)
		}
		copy(key[:], raw)
		return &key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return &key, nil
}
