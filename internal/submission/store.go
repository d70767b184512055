package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultDraftTTL           = 2 * time.Hour
	DefaultDraftCleanInterval = 10 * time.Minute
)

// StoreOptions configure a DraftStore.
type StoreOptions struct {
	// MaxFileBytes caps a single upload; zero disables the check.
	MaxFileBytes int64
	// TTL evicts drafts nobody touched for this long.
	TTL time.Duration
	// Dir spools uploads to disk. Empty keeps them in memory.
	Dir string
	Now func() time.Time
}

// DraftStore keeps one draft per browser session.
type DraftStore struct {
	opts StoreOptions
	seq  atomic.Uint64

	mu     sync.Mutex
	drafts map[string]*Draft
}

// NewDraftStore builds an empty store.
func NewDraftStore(opts StoreOptions) *DraftStore {
	if opts.TTL <= 0 {
		opts.TTL = DefaultDraftTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DraftStore{opts: opts, drafts: make(map[string]*Draft)}
}

// Get returns the draft of sessionID, creating an empty one.
func (s *DraftStore) Get(sessionID string) *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[sessionID]
	if !ok {
		d = newDraft(s.opts.MaxFileBytes, s.opts.Now)
		s.drafts[sessionID] = d
	}
	return d
}

// Discard drops the draft of sessionID and its spooled uploads.
func (s *DraftStore) Discard(sessionID string) {
	s.mu.Lock()
	d, ok := s.drafts[sessionID]
	delete(s.drafts, sessionID)
	s.mu.Unlock()
	if ok {
		d.Clear()
	}
	if s.opts.Dir != "" {
		_ = os.RemoveAll(s.sessionDir(sessionID))
	}
}

// Len reports the number of drafts held.
func (s *DraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// Spool copies a multipart upload out of the request so it outlives it.
func (s *DraftStore) Spool(sessionID string, fh *multipart.FileHeader) (File, error) {
	upload := FromFileHeader(fh)
	if err := CheckFile(upload.Name(), upload.Size(), s.opts.MaxFileBytes); err != nil {
		return nil, err
	}
	src, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if s.opts.Dir == "" {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return NewMemoryFile(upload.Name(), upload.MimeType(), data), nil
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%06d%s", s.seq.Add(1), filepath.Ext(upload.Name())))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	return NewDiskFile(path, upload.Name(), upload.MimeType(), n), nil
}

// session ids are bearer secrets, so they never appear in paths
func (s *DraftStore) sessionDir(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return filepath.Join(s.opts.Dir, hex.EncodeToString(sum[:8]))
}

// StartCleaner evicts idle drafts every interval until ctx is done.
func (s *DraftStore) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDraftCleanInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *DraftStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cleanupExpired(); n > 0 {
				log.Printf("evicted %d idle document drafts", n)
			}
		}
	}
}

func (s *DraftStore) cleanupExpired() int {
	cutoff := s.opts.Now().Add(-s.opts.TTL)
	s.mu.Lock()
	var expired []string
	for id, d := range s.drafts {
		if d.idleSince().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Discard(id)
	}
	return len(expired)
}
