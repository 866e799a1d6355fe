package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotateStamp = "2006-01-02T15:04:05.000Z"

// RotatingFile is an append-only file that is renamed aside once it grows
// past maxSize. The rotated file plus the fresh file always hold every
// byte ever written, in order.
type RotatingFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	now     func() time.Time
}

// NewRotatingFile creates a RotatingFile at path.
func NewRotatingFile(path string, maxSize int64) *RotatingFile {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &RotatingFile{path: path, maxSize: maxSize, now: time.Now}
}

// Path returns the active file path.
func (r *RotatingFile) Path() string {
	return r.path
}

// Write appends p, rotating first when the current file exceeds the threshold.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}

	f, err := r.openLocked()
	if err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		r.closeLocked(f)
		return 0, fmt.Errorf("stat log: %w", err)
	}

	if info.Size() > r.maxSize {
		if err := os.Rename(r.path, r.rotatedName()); err != nil {
			r.closeLocked(f)
			return 0, fmt.Errorf("rotate log: %w", err)
		}
		r.closeLocked(f)
		if f, err = r.openLocked(); err != nil {
			return 0, err
		}
	}
	defer r.closeLocked(f)

	n, err := f.Write(p)
	if err != nil {
		return n, fmt.Errorf("append log: %w", err)
	}
	return n, nil
}

// Rotated lists the rotated siblings of the active file, oldest first.
func (r *RotatingFile) Rotated() ([]string, error) {
	dir := filepath.Dir(r.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	pattern := r.rotatedPattern()
	var out []string
	for _, e := range entries {
		if !e.IsDir() && pattern.MatchString(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	// The stamp is fixed-width, so lexical order is chronological.
	sort.Strings(out)
	return out, nil
}

func (r *RotatingFile) openLocked() (*os.File, error) {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock log: %w", err)
	}
	return f, nil
}

func (r *RotatingFile) closeLocked(f *os.File) {
	_ = unlockFile(f)
	f.Close()
}

// rotatedName picks <stem>-<stamp><ext>, bumping the stamp by a millisecond
// until the name is free.
func (r *RotatingFile) rotatedName() string {
	dir := filepath.Dir(r.path)
	ext := filepath.Ext(r.path)
	stem := strings.TrimSuffix(filepath.Base(r.path), ext)

	t := r.now().UTC()
	for {
		stamp := strings.NewReplacer(":", "-", ".", "-").Replace(t.Format(rotateStamp))
		name := filepath.Join(dir, stem+"-"+stamp+ext)
		if _, err := os.Lstat(name); os.IsNotExist(err) {
			return name
		}
		t = t.Add(time.Millisecond)
	}
}

func (r *RotatingFile) rotatedPattern() *regexp.Regexp {
	ext := filepath.Ext(r.path)
	stem := strings.TrimSuffix(filepath.Base(r.path), ext)
	return regexp.MustCompile(`^` + regexp.QuoteMeta(stem) +
		`-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z` + regexp.QuoteMeta(ext) + `$`)
}
