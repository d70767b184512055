package submission

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vsoportal/internal/models"
)

var (
	ErrNoFiles         = errors.New("no files selected")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrIndexOutOfRange = errors.New("document index out of range")
)

// AllowedExtensions are the file types the upload form accepts.
var AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"}

// CheckFile returns why the named file cannot be attached, or nil.
func CheckFile(name string, size, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, a := range AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%s: %w", name, ErrUnsupportedFile)
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%s: %w", name, ErrFileTooLarge)
	}
	return nil
}

// FileInfo describes one attached file without its content.
type FileInfo struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// DraftEntry is one selection as shown in the document list.
type DraftEntry struct {
	Index int                 `json:"index"`
	Type  models.DocumentType `json:"type"`
	Label string              `json:"label"`
	Files []FileInfo          `json:"files"`
}

// Draft is the document list a staff member is assembling. Every change bumps
// the generation so a finished submission only clears what it actually sent.
type Draft struct {
	mu       sync.Mutex
	items    []Selection
	gen      uint64
	maxBytes int64
	touched  time.Time
	now      func() time.Time
}

func newDraft(maxBytes int64, now func() time.Time) *Draft {
	return &Draft{maxBytes: maxBytes, now: now, touched: now()}
}

// Add appends a batch of files under typ. The batch is rejected as a whole if
// any file fails the checks.
func (d *Draft) Add(typ models.DocumentType, files []File) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	for _, f := range files {
		if err := CheckFile(f.Name(), f.Size(), d.maxBytes); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, Selection{Type: typ, Files: append([]File(nil), files...)})
	d.changedLocked()
	return nil
}

// Remove drops the selection at index.
func (d *Draft) Remove(index int) error {
	d.mu.Lock()
	if index < 0 || index >= len(d.items) {
		d.mu.Unlock()
		return ErrIndexOutOfRange
	}
	removed := d.items[index]
	d.items = append(d.items[:index:index], d.items[index+1:]...)
	d.changedLocked()
	d.mu.Unlock()
	dispose(removed)
	return nil
}

// List returns the selections without file contents.
func (d *Draft) List() []DraftEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := make([]DraftEntry, len(d.items))
	for i, sel := range d.items {
		files := make([]FileInfo, len(sel.Files))
		for j, f := range sel.Files {
			files[j] = FileInfo{Name: f.Name(), MimeType: f.MimeType(), Size: f.Size()}
		}
		entries[i] = DraftEntry{Index: i, Type: sel.Type, Label: sel.Type.Label(), Files: files}
	}
	return entries
}

// Len counts the files across all selections.
func (d *Draft) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, sel := range d.items {
		n += len(sel.Files)
	}
	return n
}

// Snapshot copies the selections for a submission and returns the generation
// they belong to.
func (d *Draft) Snapshot() ([]Selection, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touched = d.now()
	out := make([]Selection, len(d.items))
	for i, sel := range d.items {
		out[i] = Selection{Type: sel.Type, Files: append([]File(nil), sel.Files...)}
	}
	return out, d.gen
}

// Clear empties the draft.
func (d *Draft) Clear() {
	d.mu.Lock()
	removed := d.items
	d.items = nil
	d.changedLocked()
	d.mu.Unlock()
	dispose(removed...)
}

// ClearIfGeneration empties the draft only if it is unchanged since the
// snapshot with generation gen.
func (d *Draft) ClearIfGeneration(gen uint64) bool {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return false
	}
	removed := d.items
	d.items = nil
	d.changedLocked()
	d.mu.Unlock()
	dispose(removed...)
	return true
}

func (d *Draft) changedLocked() {
	d.gen++
	d.touched = d.now()
}

func (d *Draft) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.touched
}

// DisposeFiles removes spooled copies of files that never made it into a draft.
func DisposeFiles(files []File) {
	dispose(Selection{Files: files})
}

func dispose(selections ...Selection) {
	for _, sel := range selections {
		for _, f := range sel.Files {
			if df, ok := f.(disposable); ok {
				if err := df.Dispose(); err != nil {
					log.Printf("dispose upload %s failed: %v", f.Name(), err)
				}
			}
		}
	}
}
