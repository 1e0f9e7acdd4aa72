package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/pbkdf2"

	schemas "github.com/keyloom/keyloom/schemas"
)

const (
	// kdfIterations is the PBKDF2 round count for passphrase stretching.
	kdfIterations = 100000
	saltSize      = 16
	nonceSize     = 12
)

// EncryptedFileStorage stores keys as AES-256-GCM ciphertext on disk. The
// cipher key is derived from a passphrase with PBKDF2-SHA256 over a random
// salt persisted next to the entries, so the same passphrase reopens the
// store across processes. Until SetEncryptionKey succeeds, every data
// operation fails with an encryption error.
type EncryptedFileStorage struct {
	mu    sync.Mutex
	files *FileStorage
	aead  cipher.AEAD
}

// NewEncryptedFileStorage returns an encrypted store rooted at dir. The
// store is locked until SetEncryptionKey is called.
func NewEncryptedFileStorage(dir, prefix string) (*EncryptedFileStorage, *schemas.Error) {
	files, err := NewFileStorage(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStorage{files: files}, nil
}

func (s *EncryptedFileStorage) IsEncrypted() bool { return true }

// SetEncryptionKey derives the cipher key from the passphrase. On first use
// a random salt is generated and persisted; subsequent opens reuse it.
func (s *EncryptedFileStorage) SetEncryptionKey(passphrase string) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	salt, kerr := s.loadOrCreateSalt()
	if kerr != nil {
		return kerr
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeEncryption, "failed to initialize cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeEncryption, "failed to initialize cipher", err)
	}
	s.aead = aead
	return nil
}

// ClearEncryptionKey forgets the derived key, locking the store again.
func (s *EncryptedFileStorage) ClearEncryptionKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aead = nil
}

func (s *EncryptedFileStorage) loadOrCreateSalt() ([]byte, *schemas.Error) {
	path := s.files.path(saltEntry)
	if data, err := os.ReadFile(path); err == nil {
		salt, derr := base64.StdEncoding.DecodeString(string(data))
		if derr == nil && len(salt) == saltSize {
			return salt, nil
		}
		// Unreadable salt means existing ciphertext is unrecoverable anyway.
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeEncryption, "failed to generate salt", err)
	}
	if err := s.files.write(saltEntry, []byte(base64.StdEncoding.EncodeToString(salt))); err != nil {
		return nil, err
	}
	return salt, nil
}

func (s *EncryptedFileStorage) sealed() (cipher.AEAD, *schemas.Error) {
	if s.aead == nil {
		return nil, schemas.NewError(schemas.ErrCodeEncryption, "encryption key not set")
	}
	return s.aead, nil
}

func (s *EncryptedFileStorage) Get(_ context.Context, provider schemas.ProviderID) (*schemas.StoredKey, *schemas.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, kerr := s.sealed()
	if kerr != nil {
		return nil, kerr
	}
	data, err := os.ReadFile(s.files.path(string(provider)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeStorage, "failed to read key entry", err)
	}
	plaintext, ok := open(aead, data)
	if !ok {
		// Wrong passphrase or tampered entry, treat as absent.
		return nil, nil
	}
	var key schemas.StoredKey
	if err := sonic.Unmarshal(plaintext, &key); err != nil || key.Key == "" {
		_ = os.Remove(s.files.path(string(provider)))
		return nil, nil
	}
	return &key, nil
}

func (s *EncryptedFileStorage) Set(_ context.Context, provider schemas.ProviderID, key schemas.StoredKey) *schemas.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, kerr := s.sealed()
	if kerr != nil {
		return kerr
	}
	plaintext, err := sonic.Marshal(key)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeStorage, "failed to encode key entry", err)
	}
	ciphertext, kerr := seal(aead, plaintext)
	if kerr != nil {
		return kerr
	}
	return s.files.write(string(provider), ciphertext)
}

func (s *EncryptedFileStorage) Remove(ctx context.Context, provider schemas.ProviderID) *schemas.Error {
	return s.files.Remove(ctx, provider)
}

func (s *EncryptedFileStorage) List(ctx context.Context) ([]schemas.ProviderID, *schemas.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, kerr := s.sealed(); kerr != nil {
		return nil, kerr
	}
	return s.files.listEntries()
}

func (s *EncryptedFileStorage) Clear(ctx context.Context) *schemas.Error {
	return s.files.Clear(ctx)
}

// seal encrypts plaintext as base64(nonce || ciphertext) with a fresh nonce.
func seal(aead cipher.AEAD, plaintext []byte) ([]byte, *schemas.Error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeEncryption, "failed to generate nonce", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

// open reverses seal, reporting failure without detail.
func open(aead cipher.AEAD, data []byte) ([]byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil || len(raw) <= nonceSize {
		return nil, false
	}
	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
