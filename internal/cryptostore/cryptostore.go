// Package cryptostore is the encrypted blob persistence helper shared by
// the vector store, memory system, and auth audit log (spec §4.2). Every
// core store that touches disk goes through a Store built from the same
// process-wide secret, the way the teacher's security package derives all
// of its HMAC/token material from one configured secret
// (internal/security/token_broker.go).
package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aegisrt/core/internal/apierr"
	"golang.org/x/crypto/scrypt"
)

var magic = [4]byte{'A', 'E', 'G', '1'}

const version = byte(1)

const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

// Store derives a per-store AES-256-GCM key from a process-wide secret and
// persists frames in the format:
//
//	magic(4) || version(1) || iv(12) || tag(16) || ciphertext(*)
//
// scrypt(secret, salt=utf8(storeName)) is used so two stores sharing a
// process secret never share a key.
type Store struct {
	name   string
	gcm    cipher.AEAD
}

// New derives the store's key. Refuses to start if secret is shorter than
// 32 bytes, per spec §4.2.
func New(storeName string, secret []byte) (*Store, error) {
	if len(secret) < 32 {
		return nil, apierr.New(apierr.KindConfig, "cryptostore: secret must be at least 32 bytes", nil)
	}
	key, err := scrypt.Key(secret, []byte(storeName), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: gcm: %w", err)
	}
	return &Store{name: storeName, gcm: gcm}, nil
}

// Encrypt frames plaintext into the on-disk format, ready to be appended to
// a file or written whole via WriteFile.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("cryptostore: iv: %w", err)
	}
	// AAD binds the version byte into the GCM tag so a version downgrade
	// can't be silently replayed against a different framing.
	aad := []byte{version}
	sealed := s.gcm.Seal(nil, iv, plaintext, aad)
	if len(sealed) < 16 {
		return nil, fmt.Errorf("cryptostore: unexpected short seal output")
	}
	ciphertext := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	buf := make([]byte, 0, 4+1+len(iv)+len(tag)+len(ciphertext))
	buf = append(buf, magic[:]...)
	buf = append(buf, version)
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)
	return buf, nil
}

// Decrypt parses and authenticates a frame produced by Encrypt.
func (s *Store) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < 4+1+s.gcm.NonceSize()+16 {
		return nil, apierr.New(apierr.KindCorrupt, "cryptostore: frame too short", nil)
	}
	if [4]byte(frame[:4]) != magic {
		return nil, apierr.New(apierr.KindCorrupt, "cryptostore: bad magic", nil)
	}
	v := frame[4]
	if v != version {
		return nil, apierr.New(apierr.KindCorrupt, "cryptostore: unsupported version", map[string]any{"version": v})
	}
	off := 5
	iv := frame[off : off+s.gcm.NonceSize()]
	off += s.gcm.NonceSize()
	tag := frame[off : off+16]
	off += 16
	ciphertext := frame[off:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.gcm.Open(nil, iv, sealed, []byte{version})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCorrupt, "cryptostore: authentication failed", err)
	}
	return plaintext, nil
}

// WriteFile atomically persists plaintext as an encrypted frame at path:
// write path.tmp, fsync, rename over path.
func (s *Store) WriteFile(path string, plaintext []byte) error {
	frame, err := s.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cryptostore: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("cryptostore: open tmp: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cryptostore: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cryptostore: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cryptostore: close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cryptostore: rename: %w", err)
	}
	return nil
}

// ReadFile reads and decrypts a frame previously written by WriteFile.
// Returns apierr.KindNotFound if the file does not exist.
func (s *Store) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindNotFound, "cryptostore: file not found", map[string]any{"path": path})
		}
		return nil, fmt.Errorf("cryptostore: read %s: %w", path, err)
	}
	return s.Decrypt(data)
}

// AppendFrame appends a self-delimited length-prefixed encrypted frame to a
// rotating log file (used by the audit log). Each record is
// uint32(len(frame)) || frame so a reader can scan sequentially.
func (s *Store) AppendFrame(path string, plaintext []byte) error {
	frame, err := s.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cryptostore: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("cryptostore: open append: %w", err)
	}
	defer f.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("cryptostore: write length: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("cryptostore: write frame: %w", err)
	}
	return f.Sync()
}

// ReadFrames reads every length-prefixed frame from a file written with
// AppendFrame, decrypting each in turn.
func (s *Store) ReadFrames(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cryptostore: read %s: %w", path, err)
	}
	var out [][]byte
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, apierr.New(apierr.KindCorrupt, "cryptostore: truncated length prefix", nil)
		}
		n := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		if off+int(n) > len(data) {
			return nil, apierr.New(apierr.KindCorrupt, "cryptostore: truncated frame", nil)
		}
		frame := data[off : off+int(n)]
		off += int(n)
		plaintext, err := s.Decrypt(frame)
		if err != nil {
			return nil, err
		}
		out = append(out, plaintext)
	}
	return out, nil
}
