// Package storage persists emitted liveness reports.
// File reports can be encrypted at rest using NaCl secretbox.
package storage

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	// DayFormat names one report file per day.
	DayFormat = "2006-01-02"

	reportsDir = "reports"
	reportExt  = ".jsonl"
)

// Store receives reports for persistence.
type Store interface {
	SaveReport(ctx context.Context, r liveness.Report) error
	Close() error
}

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrNoReports is returned when a day has no stored reports.
var ErrNoReports = errors.New("no reports stored")

// FileStore appends reports as JSON lines, one file per day.
type FileStore struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu sync.Mutex
}

// NewFileStore creates a FileStore under dataDir.
func NewFileStore(dataDir string, encryptionEnabled bool) (*FileStore, error) {
	fs := &FileStore{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	if err := os.MkdirAll(filepath.Join(dataDir, reportsDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder

	// Machine ID (Linux specific)
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("sentinel-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

func (fs *FileStore) dayPath(day string) string {
	return filepath.Join(fs.dataDir, reportsDir, day+reportExt)
}

// SaveReport appends r to the file of the day it was produced.
func (fs *FileStore) SaveReport(_ context.Context, r liveness.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	line := data
	if fs.encryptionEnabled {
		sealed, err := fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		line = []byte(base64.StdEncoding.EncodeToString(sealed))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.dayPath(r.Timestamp.Format(DayFormat)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LoadReports reads every report stored for day (YYYY-MM-DD).
func (fs *FileStore) LoadReports(day string) ([]liveness.Report, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.dayPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReports
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	defer f.Close()

	var reports []liveness.Report
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := line
		if fs.encryptionEnabled {
			sealed, err := base64.StdEncoding.DecodeString(string(line))
			if err != nil {
				return nil, ErrEncryption
			}
			if data, err = fs.decrypt(sealed); err != nil {
				return nil, err
			}
		}
		var r liveness.Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to parse report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	return reports, nil
}

// ListDays returns the days that have stored reports, oldest first.
func (fs *FileStore) ListDays() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, reportsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	days := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), reportExt) {
			continue
		}
		days = append(days, strings.TrimSuffix(entry.Name(), reportExt))
	}
	sort.Strings(days)
	return days, nil
}

// Close implements Store.
func (fs *FileStore) Close() error { return nil }

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
