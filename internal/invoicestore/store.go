// Package invoicestore persists processed invoice records on the local
// filesystem, one JSON file per invoice, and keeps the in-memory dedup
// cache the polling engine checks before fetching anything.
//
// Canonical layout is <dir>/invoice_<PN>.json; the legacy shape <PN>.json
// is still accepted on read. Writes go to a temporary sibling and are
// renamed into place so readers never observe partial content.
package invoicestore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("invoice record not found")
)

// ============================================================================
// RECORD
// ============================================================================

// S3Metadata preserves where the artifact came from.
type S3Metadata struct {
	S3Key          string    `json:"s3Key"`
	S3Size         int64     `json:"s3Size"`
	S3LastModified time.Time `json:"s3LastModified"`
}

// Record is the on-disk invoice record. The invoice number is carried by the
// file name, not the payload, so it is excluded from serialization.
type Record struct {
	InvoiceNumber string `json:"-"`

	PlayerID    string     `json:"playerId"`
	Base64Data  string     `json:"base64Data"`
	Filename    string     `json:"filename"`
	FileSize    int64      `json:"fileSize"`
	ProcessedAt time.Time  `json:"processedAt"`
	S3Metadata  S3Metadata `json:"s3Metadata"`
	SavedAt     time.Time  `json:"savedAt"`
	FilePath    string     `json:"filePath"`
}

// Decode returns the raw artifact bytes.
func (r *Record) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.Base64Data)
	if err != nil {
		return nil, fmt.Errorf("decode invoice %s payload: %w", r.InvoiceNumber, err)
	}
	return data, nil
}

// ============================================================================
// STORE
// ============================================================================

// Store owns the invoice directory and the dedup cache. Only the polling
// engine writes; reads are lock-free against the filesystem and tolerate the
// rename window with a single retry.
type Store struct {
	dir    string
	mu     sync.RWMutex
	cache  map[string]struct{}
	logger *log.Logger
}

// NewStore creates the directory if needed and seeds the dedup cache from
// the files already present.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoice storage dir %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		cache:  make(map[string]struct{}),
		logger: log.New(log.Writer(), "[InvoiceStore] ", log.LstdFlags),
	}

	pns, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, pn := range pns {
		s.cache[pn] = struct{}{}
	}

	s.logger.Printf("📦 Seeded dedup cache with %d invoice record(s) from %s", len(pns), dir)
	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Has reports whether a record for pn exists on disk, per the cache.
func (s *Store) Has(pn string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[pn]
	return ok
}

// Count returns the number of cached records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Put persists the record atomically and marks pn processed. The cache is
// updated only after the rename, so it never leads the disk.
func (s *Store) Put(pn string, rec *Record) error {
	s.stamp(pn, rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal invoice %s: %w", pn, err)
	}

	if err := s.writeAtomic(s.canonicalPath(pn), func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[pn] = struct{}{}
	s.mu.Unlock()

	s.logger.Printf("Saved invoice %s (%d bytes) → %s", pn, rec.FileSize, rec.FilePath)
	return nil
}

// PutStream persists a record whose artifact arrives as a stream, base64-
// encoding it on the way to disk. rec.Base64Data must be empty; the on-disk
// bytes are identical to what Put would have produced.
func (s *Store) PutStream(pn string, rec *Record, artifact io.Reader) error {
	s.stamp(pn, rec)

	// Marshal the record around a sentinel, then stream the encoded artifact
	// into the hole the sentinel leaves.
	sentinel := uuid.NewString()
	rec.Base64Data = sentinel
	frame, err := json.Marshal(rec)
	rec.Base64Data = ""
	if err != nil {
		return fmt.Errorf("marshal invoice %s: %w", pn, err)
	}

	head, tail, ok := strings.Cut(string(frame), sentinel)
	if !ok {
		return fmt.Errorf("marshal invoice %s: sentinel lost", pn)
	}

	if err := s.writeAtomic(s.canonicalPath(pn), func(w io.Writer) error {
		if _, werr := io.WriteString(w, head); werr != nil {
			return werr
		}
		enc := base64.NewEncoder(base64.StdEncoding, w)
		if _, werr := io.Copy(enc, artifact); werr != nil {
			return werr
		}
		if werr := enc.Close(); werr != nil {
			return werr
		}
		_, werr := io.WriteString(w, tail)
		return werr
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[pn] = struct{}{}
	s.mu.Unlock()

	s.logger.Printf("Saved invoice %s (streamed, %d bytes) → %s", pn, rec.FileSize, rec.FilePath)
	return nil
}

// Get reads the record back, canonical file first, then legacy. When the
// cache says the record exists but the read fails, it retries once to ride
// out the rename window.
func (s *Store) Get(pn string) (*Record, error) {
	rec, err := s.read(pn)
	if err == nil {
		return rec, nil
	}

	if s.Has(pn) {
		time.Sleep(50 * time.Millisecond)
		return s.read(pn)
	}
	return nil, err
}

// Delete removes the record (both filename shapes) and the cache entry.
func (s *Store) Delete(pn string) error {
	var firstErr error
	for _, path := range []string{s.canonicalPath(pn), s.legacyPath(pn)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("delete invoice %s: %w", pn, err)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	s.mu.Lock()
	delete(s.cache, pn)
	s.mu.Unlock()
	return nil
}

// List scans the directory and returns every PN found, accepting both
// filename shapes. Used at startup to seed the cache.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan invoice dir %s: %w", s.dir, err)
	}

	var pns []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		pn := strings.TrimSuffix(name, ".json")
		pn = strings.TrimPrefix(pn, "invoice_")
		if pn != "" {
			pns = append(pns, pn)
		}
	}
	return pns, nil
}

// ============================================================================
// INTERNALS
// ============================================================================

func (s *Store) canonicalPath(pn string) string {
	return filepath.Join(s.dir, "invoice_"+pn+".json")
}

func (s *Store) legacyPath(pn string) string {
	return filepath.Join(s.dir, pn+".json")
}

// stamp fills the bookkeeping fields the writer owns.
func (s *Store) stamp(pn string, rec *Record) {
	rec.InvoiceNumber = pn
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	} else {
		rec.ProcessedAt = rec.ProcessedAt.UTC()
	}
	rec.SavedAt = time.Now().UTC()
	rec.FilePath = s.canonicalPath(pn)
}

// writeAtomic writes through a temporary sibling, fsyncs, and renames into
// place. Readers either see the old content or the complete new content.
func (s *Store) writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// read attempts both filename shapes once.
func (s *Store) read(pn string) (*Record, error) {
	var lastErr error
	for _, path := range []string{s.canonicalPath(pn), s.legacyPath(pn)} {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				lastErr = err
			}
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			lastErr = err
			continue
		}
		rec.InvoiceNumber = pn
		return &rec, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("read invoice %s: %w", pn, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, pn)
}
