package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/mailsentry-console/internal/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLength   = 32
	nonceLength = 24
)

// FileStore persists values as a single JSON object on disk. Every write replaces the whole file
// through a temp file and rename, so readers never observe a partial update.
// When a key is configured the file content is sealed with NaCl secretbox.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  *[keyLength]byte
}

var _ Store = (*FileStore)(nil)

// FileStoreOption defines a function type to modify the FileStore instance.
type FileStoreOption func(*FileStore)

// WithSealingKey seals the file with the given 32 byte key.
func WithSealingKey(key [keyLength]byte) FileStoreOption {
	return func(fs *FileStore) {
		k := key
		fs.key = &k
	}
}

// NewFileStore creates a file backed credential store at path. The file is created on first write.
func NewFileStore(path string, options ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("[NewFileStore] path is required")
	}
	fs := &FileStore{path: path}
	for _, opt := range options {
		opt(fs)
	}
	return fs, nil
}

// ParseSealingKey decodes a base64 encoded 32 byte key.
func ParseSealingKey(encoded string) ([keyLength]byte, error) {
	var key [keyLength]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, errors.Wrapf(err, "decode sealing key")
	}
	if len(raw) != keyLength {
		return key, fmt.Errorf("sealing key must be %d bytes, got %d", keyLength, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (fs *FileStore) Get(key string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (fs *FileStore) Put(entries map[string]string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.load()
	if err != nil {
		// A corrupt file is overwritten rather than blocking a fresh login.
		if !errors.Is(err, errors.ErrCorruptStore) {
			return err
		}
		values = map[string]string{}
	}
	for k, v := range entries {
		if k == "" {
			return fmt.Errorf("key is required")
		}
		values[k] = v
	}
	return fs.save(values)
}

func (fs *FileStore) Delete(keys ...string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.load()
	if err != nil {
		if errors.Is(err, errors.ErrCorruptStore) {
			return fs.remove()
		}
		return err
	}
	for _, k := range keys {
		delete(values, k)
	}
	if len(values) == 0 {
		return fs.remove()
	}
	return fs.save(values)
}

func (fs *FileStore) load() (map[string]string, error) {
	content, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fs.path)
	}

	if fs.key != nil {
		if content, err = fs.open(content); err != nil {
			return nil, err
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(content, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptStore, err)
	}
	return values, nil
}

func (fs *FileStore) save(values map[string]string) error {
	content, err := json.Marshal(values)
	if err != nil {
		return errors.Wrapf(err, "marshal credentials")
	}
	if fs.key != nil {
		if content, err = fs.seal(content); err != nil {
			return err
		}
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write temp file")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), fs.path), "replace %s", fs.path)
}

func (fs *FileStore) remove() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", fs.path)
	}
	return nil
}

func (fs *FileStore) seal(plain []byte) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrapf(err, "generate nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, fs.key), nil
}

func (fs *FileStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLength+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed content too short", errors.ErrCorruptStore)
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plain, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, fs.key)
	if !ok {
		return nil, fmt.Errorf("%w: cannot open sealed content", errors.ErrCorruptStore)
	}
	return plain, nil
}
