// Package vault implements the encrypted credential store as a single file:
// the full record set is sealed with AES-256-GCM and replaced atomically on
// every write, so key rotation is all-or-nothing.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialVault = (*Vault)(nil)

const (
	storeFormatVersion = 1
	keySize            = 32 // AES-256.
	keyIDSize          = 8  // SHA-256 prefix bytes stored as the key fingerprint.
	storeFileMode      = 0o600
)

// storeFile is the on-disk envelope. Data holds base64(nonce || ciphertext),
// the same layout the GCM Seal call produces. KeyID is a fingerprint of the
// encryption key used to tell a wrong key apart from a damaged store.
type storeFile struct {
	Version    int    `json:"version"`
	KeyVersion int    `json:"key_version"`
	KeyID      string `json:"key_id"`
	Data       string `json:"data"`
}

// storedRecord is one platform's entry inside the sealed payload.
type storedRecord struct {
	Fields  map[string]string `json:"fields"`
	Version int               `json:"version"`
}

// Vault is the file-backed implementation of the CredentialVault port.
// Plaintext exists only for the duration of a call; nothing decrypted is
// cached between calls.
type Vault struct {
	path string
	key  []byte
	mu   sync.Mutex // Serializes writers; readers rely on atomic replace.
}

// Init creates an empty store at path encrypted under key. It fails if a
// store already exists.
func Init(path string, key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("vault store already exists at %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat vault store: %w", err)
	}
	return writeStore(path, key, 1, map[string]storedRecord{})
}

// Open unlocks the store at path with key. It verifies the key against the
// stored fingerprint and authenticates the ciphertext before returning.
// Returns driven.ErrMissing, driven.ErrWrongKey, or driven.ErrCorrupt on the
// corresponding failure; all are fatal to startup.
func Open(path string, key []byte) (*Vault, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	v := &Vault{path: path, key: key}
	records, _, err := v.load()
	if err != nil {
		return nil, err
	}
	wipeRecords(records)
	return v, nil
}

// Get returns the platform's credential record.
func (v *Vault) Get(_ context.Context, platformID string) (model.CredentialRecord, error) {
	records, _, err := v.load()
	if err != nil {
		return model.CredentialRecord{}, err
	}
	defer wipeRecords(records)

	rec, ok := records[platformID]
	if !ok {
		return model.CredentialRecord{}, fmt.Errorf("platform %q: %w", platformID, driven.ErrCredentialNotFound)
	}

	out := model.CredentialRecord{
		PlatformID: platformID,
		Fields:     make(map[string]string, len(rec.Fields)),
		Version:    rec.Version,
	}
	for k, val := range rec.Fields {
		out.Fields[k] = val
	}
	return out, nil
}

// Put stores or replaces the platform's record, incrementing its version.
func (v *Vault) Put(_ context.Context, rec model.CredentialRecord) error {
	if rec.PlatformID == "" {
		return errors.New("vault: empty platform id")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	records, keyVersion, err := v.load()
	if err != nil {
		return err
	}
	defer wipeRecords(records)

	stored := storedRecord{Fields: make(map[string]string, len(rec.Fields)), Version: 1}
	if prev, ok := records[rec.PlatformID]; ok {
		stored.Version = prev.Version + 1
	}
	for k, val := range rec.Fields {
		stored.Fields[k] = val
	}
	records[rec.PlatformID] = stored

	return writeStore(v.path, v.key, keyVersion, records)
}

// Delete removes the platform's record. Deleting an absent record is a no-op.
func (v *Vault) Delete(_ context.Context, platformID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	records, keyVersion, err := v.load()
	if err != nil {
		return err
	}
	defer wipeRecords(records)

	if _, ok := records[platformID]; !ok {
		return nil
	}
	delete(records, platformID)
	return writeStore(v.path, v.key, keyVersion, records)
}

// List returns the stored platform IDs, sorted.
func (v *Vault) List(_ context.Context) ([]string, error) {
	records, _, err := v.load()
	if err != nil {
		return nil, err
	}
	defer wipeRecords(records)

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RotateKey re-encrypts the store under newKey. The new store is written to
// a temp file and renamed over the old one, so a crash at any point leaves
// either the old store (old key) or the new store (new key) fully intact.
func (v *Vault) RotateKey(_ context.Context, newKey []byte) error {
	if err := validateKey(newKey); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	records, keyVersion, err := v.load()
	if err != nil {
		return err
	}
	defer wipeRecords(records)

	if err := writeStore(v.path, newKey, keyVersion+1, records); err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	v.key = newKey
	return nil
}

// load reads and decrypts the store, returning the record set and the
// current key version. Callers wipe the returned map when done.
func (v *Vault) load() (map[string]storedRecord, int, error) {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%s: %w", v.path, driven.ErrMissing)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read vault store: %w", err)
	}

	var sf storeFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, 0, fmt.Errorf("parse store envelope: %w", driven.ErrCorrupt)
	}
	if sf.Version != storeFormatVersion {
		return nil, 0, fmt.Errorf("unsupported store version %d: %w", sf.Version, driven.ErrCorrupt)
	}
	if sf.KeyID != keyID(v.key) {
		return nil, 0, driven.ErrWrongKey
	}

	data, err := base64.StdEncoding.DecodeString(sf.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode store payload: %w", driven.ErrCorrupt)
	}

	plaintext, err := decrypt(v.key, data)
	if err != nil {
		// The key fingerprint matched, so failed authentication means
		// the stored bytes were altered.
		return nil, 0, fmt.Errorf("authenticate store payload: %w", driven.ErrCorrupt)
	}
	defer wipeBytes(plaintext)

	records := make(map[string]storedRecord)
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, 0, fmt.Errorf("parse store payload: %w", driven.ErrCorrupt)
	}
	return records, sf.KeyVersion, nil
}

// writeStore seals records under key and atomically replaces the store file.
func writeStore(path string, key []byte, keyVersion int, records map[string]storedRecord) error {
	plaintext, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	defer wipeBytes(plaintext)

	sealed, err := encrypt(key, plaintext)
	if err != nil {
		return err
	}

	sf := storeFile{
		Version:    storeFormatVersion,
		KeyVersion: keyVersion,
		KeyID:      keyID(key),
		Data:       base64.StdEncoding.EncodeToString(sealed),
	}
	raw, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("marshal store envelope: %w", err)
	}
	return replaceFile(path, raw)
}

// replaceFile writes data to a temp file in the target's directory, syncs it,
// and renames it over the target. Rename is atomic on POSIX filesystems, so
// readers observe either the old or the new store, never a partial write.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Chmod(storeFileMode); err != nil {
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		tmpName = ""
		return fmt.Errorf("replace store: %w", err)
	}
	tmpName = ""
	return nil
}

// encrypt seals plaintext with AES-256-GCM and returns nonce || ciphertext.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens nonce || ciphertext produced by encrypt.
func decrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func validateKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return nil
}

// keyID returns the hex-encoded SHA-256 prefix identifying the key.
func keyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:keyIDSize])
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func wipeRecords(records map[string]storedRecord) {
	for id, rec := range records {
		for k := range rec.Fields {
			delete(rec.Fields, k)
		}
		delete(records, id)
	}
}
