// Package secrets implements the hub's on-disk authenticated-encryption
// key-value store: a master key at basedir/master.key, AES-256-GCM records
// each under a per-record subkey derived via HKDF, integrity-checked on
// every read (spec §4.10).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/mcphub/hub/pkg/errs"
)

const (
	masterKeyFile = "master.key"
	masterKeySize = 32 // AES-256
	nonceSize     = 12 // GCM standard nonce length

	recordType    = "hatago/secret"
	recordVersion = 1
	encA256GCM    = "A256GCM"
)

// Record is one secret's on-disk envelope, matching spec §4.10's encrypted
// shape exactly. Name and Labels are plaintext metadata (so List doesn't
// need to decrypt); IV/Tag/CT carry the encrypted value.
type Record struct {
	Type      string            `json:"type"`
	Version   int               `json:"version"`
	Enc       string            `json:"enc"`
	Name      string            `json:"name"`
	IV        string            `json:"iv"`
	Tag       string            `json:"tag"`
	CT        string            `json:"ct"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Meta is a record's metadata without its value, returned by List.
type Meta struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Labels    map[string]string
}

// Store is a thread-safe authenticated-encryption secret store rooted at
// one base directory.
type Store struct {
	baseDir string

	mu        sync.RWMutex
	masterKey [masterKeySize]byte
}

// Open loads the master key at baseDir/master.key, generating one if absent
// (baseDir is created with 0700, the key file with 0600, matching the
// teacher's token-store permission discipline).
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "creating secrets base directory")
	}

	s := &Store{baseDir: baseDir}
	key, err := loadOrCreateMasterKey(filepath.Join(baseDir, masterKeyFile))
	if err != nil {
		return nil, err
	}
	s.masterKey = key
	return s, nil
}

func loadOrCreateMasterKey(path string) ([masterKeySize]byte, error) {
	var key [masterKeySize]byte

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != masterKeySize {
			return key, errs.New(errs.KindIntegrity, "master key file has an unexpected length")
		}
		copy(key[:], data)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return key, errs.Wrap(errs.KindInternal, err, "reading master key")
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, errs.Wrap(errs.KindInternal, err, "generating master key")
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, errs.Wrap(errs.KindInternal, err, "writing master key")
	}
	return key, nil
}

// deriveKey derives a per-record AES-256 key from the master key, scoped to
// name via HKDF's info parameter so no two records ever share a key.
func deriveKey(masterKey [masterKeySize]byte, name string) ([]byte, error) {
	subkey := make([]byte, masterKeySize)
	reader := hkdf.New(sha256.New, masterKey[:], nil, []byte("mcphub/secret:"+name))
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "deriving record key")
	}
	return subkey, nil
}

func (s *Store) recordPath(name string) string {
	hash := sha256.Sum256([]byte(name))
	return filepath.Join(s.baseDir, hex.EncodeToString(hash[:16])+".json")
}

// Set encrypts value under a key derived from name and writes it to disk,
// replacing any existing record for the same name.
func (s *Store) Set(name string, value []byte, labels map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.readRecordLocked(name)
	createdAt := time.Now()
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	record, err := s.encryptLocked(name, value, labels, createdAt)
	if err != nil {
		return err
	}
	return writeRecord(s.recordPath(name), record)
}

func (s *Store) encryptLocked(name string, value []byte, labels map[string]string, createdAt time.Time) (*Record, error) {
	return encryptRecord(s.masterKey, name, value, labels, createdAt)
}

// encryptRecord seals value under a key derived from masterKey, for both
// Set (using the store's current key) and Rotate (using the not-yet-active
// replacement key).
func encryptRecord(masterKey [masterKeySize]byte, name string, value []byte, labels map[string]string, createdAt time.Time) (*Record, error) {
	key, err := deriveKey(masterKey, name)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "constructing cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "constructing GCM")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "generating nonce")
	}

	sealed := gcm.Seal(nil, nonce, value, nil)
	ct := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return &Record{
		Type:      recordType,
		Version:   recordVersion,
		Enc:       encA256GCM,
		Name:      name,
		IV:        hex.EncodeToString(nonce),
		Tag:       hex.EncodeToString(tag),
		CT:        hex.EncodeToString(ct),
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
		Labels:    labels,
	}, nil
}

// Get decrypts and returns the value stored for name, verifying its GCM tag
// on every read (spec §4.10 "integrity checks on every read"). A failed
// check returns a KindIntegrity error and the record is treated as
// unreadable.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.readRecordLocked(name)
	if err != nil {
		return nil, err
	}
	return s.decryptLocked(record)
}

func (s *Store) decryptLocked(record *Record) ([]byte, error) {
	key, err := deriveKey(s.masterKey, record.Name)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "constructing cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "constructing GCM")
	}

	nonce, err := hex.DecodeString(record.IV)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed").WithRecoverable(false)
	}
	ct, err := hex.DecodeString(record.CT)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed").WithRecoverable(false)
	}
	tag, err := hex.DecodeString(record.Tag)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed").WithRecoverable(false)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed").WithRecoverable(false)
	}
	return plaintext, nil
}

func (s *Store) readRecordLocked(name string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindResourceNotFound, "secret not found: "+name)
		}
		return nil, errs.Wrap(errs.KindInternal, err, "reading secret record")
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed")
	}
	return &record, nil
}

func writeRecord(path string, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshaling secret record")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.Wrap(errs.KindInternal, err, "writing secret record")
	}
	return nil
}

// List returns metadata for every stored secret, without decrypting any
// value.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing secrets directory")
	}

	out := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		out = append(out, Meta{Name: record.Name, CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt, Labels: record.Labels})
	}
	return out, nil
}

// Remove deletes the record for name, if any.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.recordPath(name))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, err, "removing secret record")
	}
	return nil
}

// Clear deletes every record (master.key is untouched).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "listing secrets directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil {
			return errs.Wrap(errs.KindInternal, err, "clearing secret record")
		}
	}
	return nil
}
