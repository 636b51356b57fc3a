package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/google/uuid"
)

const (
	auditRotateBytes = 64 * 1024 * 1024
	auditRotateAge   = 24 * time.Hour
)

// AuditStore persists audit entries. The default is RotatingFileAuditLog
// (an encrypted, size/time-rotated local file); SupabaseAuditStore is the
// optional external sink. Interface shape matches the teacher's
// internal/security/session_audit.go AuditStore exactly, generalized from
// interface{} to the typed AuditEntry this package defines.
type AuditStore interface {
	InsertAuditLog(entry interface{}) error
}

// RotatingFileAuditLog writes append-only encrypted frames via cryptostore
// (spec §4.2, §6), rotating at 64MiB or 24h, whichever comes first, with
// filenames `audit-YYYYMMDD-HHMMSS.log`. Grounded on the teacher's
// session_audit.go LogEvent (entry shape, non-blocking persist) with geo
// resolution dropped — spec §3's Audit Entry has no location fields, and
// no SPEC_FULL.md component needs IP geolocation.
type RotatingFileAuditLog struct {
	store *cryptostore.Store
	dir   string

	mu          sync.Mutex
	currentPath string
	openedAt    time.Time
	sizeBytes   int64
}

// NewRotatingFileAuditLog constructs a log writing under dir.
func NewRotatingFileAuditLog(store *cryptostore.Store, dir string) *RotatingFileAuditLog {
	return &RotatingFileAuditLog{store: store, dir: dir}
}

func (l *RotatingFileAuditLog) currentFileLocked() (string, error) {
	now := time.Now()
	if l.currentPath == "" || now.Sub(l.openedAt) >= auditRotateAge || l.sizeBytes >= auditRotateBytes {
		name := fmt.Sprintf("audit-%s.log", now.Format("20060102-150405"))
		l.currentPath = filepath.Join(l.dir, name)
		l.openedAt = now
		l.sizeBytes = 0
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return "", fmt.Errorf("auth: mkdir audit dir: %w", err)
		}
	}
	return l.currentPath, nil
}

// InsertAuditLog implements AuditStore. entry must be an *AuditEntry.
func (l *RotatingFileAuditLog) InsertAuditLog(entry interface{}) error {
	ae, ok := entry.(*AuditEntry)
	if !ok {
		return fmt.Errorf("auth: RotatingFileAuditLog expects *AuditEntry, got %T", entry)
	}
	if ae.ID == "" {
		ae.ID = uuid.NewString()
	}
	if ae.Timestamp.IsZero() {
		ae.Timestamp = time.Now()
	}

	data, err := json.Marshal(ae)
	if err != nil {
		return fmt.Errorf("auth: marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	path, err := l.currentFileLocked()
	if err != nil {
		return err
	}
	if err := l.store.AppendFrame(path, data); err != nil {
		return fmt.Errorf("auth: append audit frame: %w", err)
	}
	l.sizeBytes += int64(len(data))
	return nil
}

// auditLogger wraps an AuditStore with the non-blocking LogEvent contract
// spec §4.5 requires ("LogEvent(context, action, resource, details) as a
// public primitive so other components ... can contribute entries without
// breaching encapsulation"), matching the teacher's fire-and-forget
// persist in session_audit.go.
type auditLogger struct {
	store AuditStore
	seq   uint64
	seqMu sync.Mutex
}

func newAuditLogger(store AuditStore) *auditLogger {
	return &auditLogger{store: store}
}

// LogEvent persists an entry without blocking the caller. Per-process
// entries keep a monotonic sequence alongside their timestamp so readers
// can recover total order even when wall-clock timestamps tie (spec §5:
// "Audit log: per-process total order by timestamp, monotonic-seq").
func (a *auditLogger) LogEvent(entry *AuditEntry) {
	if a.store == nil {
		return
	}
	a.seqMu.Lock()
	a.seq++
	seq := a.seq
	a.seqMu.Unlock()

	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}
	entry.Details["_seq"] = seq

	go func() {
		if err := a.store.InsertAuditLog(entry); err != nil {
			slog.Error("auth: failed to persist audit entry", "action", entry.Action, "error", err)
		}
	}()
}

// ReadAllAuditEntries decrypts and parses every frame in every rotated file under dir,
// in file-creation order — used by audit review tooling, not by the hot
// path.
func ReadAllAuditEntries(store *cryptostore.Store, dir string) ([]*AuditEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: read audit dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*AuditEntry
	for _, name := range names {
		frames, err := store.ReadFrames(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for _, f := range frames {
			var ae AuditEntry
			if err := json.Unmarshal(f, &ae); err != nil {
				return nil, fmt.Errorf("auth: unmarshal audit entry in %s: %w", name, err)
			}
			out = append(out, &ae)
		}
	}
	return out, nil
}
