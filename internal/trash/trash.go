// Package trash manages the flat backup directory that purged files are
// copied into: backup, listing, expiry sweep and restore.
package trash

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/fsutil"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/jvs-project/hookctl/pkg/pathutil"
)

// Day is the unit of the expiry window.
const Day = 24 * time.Hour

// maxSuggestions bounds the "did you mean" list of Restore.
const maxSuggestions = 3

// Trash is a flat directory of backups keyed by basename.
type Trash struct {
	dir      string
	hooksDir string
	log      *logging.Logger

	// Now is the clock used for expiry; tests override it.
	Now func() time.Time
}

// New creates a Trash rooted at dir that restores into hooksDir.
func New(dir, hooksDir string, log *logging.Logger) *Trash {
	if log == nil {
		log = logging.Discard()
	}
	return &Trash{dir: dir, hooksDir: hooksDir, log: log, Now: time.Now}
}

// Dir returns the trash directory.
func (t *Trash) Dir() string {
	return t.dir
}

// Backup copies src into the trash under its basename and verifies the copy
// by size. An existing entry with the same name is only rewritten when its
// content is identical; otherwise the backup fails and src must be kept.
func (t *Trash) Backup(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", errclass.ErrBackupFailure.WithMessagef("stat %s: %v", src, err)
	}
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return "", errclass.ErrBackupFailure.WithMessagef("create trash dir: %v", err)
	}

	dst := filepath.Join(t.dir, filepath.Base(src))
	if _, err := os.Lstat(dst); err == nil {
		same, err := sameContent(src, dst)
		if err != nil {
			return "", errclass.ErrBackupFailure.WithMessagef("compare with %s: %v", dst, err)
		}
		if !same {
			return "", errclass.ErrBackupFailure.WithMessagef("trash already holds a different %s; restore or sweep it first", filepath.Base(src))
		}
	}
	n, err := fsutil.CopyFile(src, dst)
	if err != nil {
		return "", errclass.ErrBackupFailure.WithMessagef("%v", err)
	}

	copied, err := os.Stat(dst)
	if err != nil {
		return "", errclass.ErrBackupFailure.WithMessagef("verify %s: %v", dst, err)
	}
	if n != info.Size() || copied.Size() != info.Size() {
		return "", errclass.ErrBackupFailure.WithMessagef("verify %s: size %d, want %d", dst, copied.Size(), info.Size())
	}

	t.log.Debug("backed up", map[string]any{"src": src, "dst": dst, "bytes": n})
	return dst, nil
}

// List returns the trash entries sorted by name. A missing trash directory is empty.
func (t *Trash) List() ([]model.TrashEntry, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trash dir: %w", err)
	}

	var out []model.TrashEntry
	for _, entry := range entries {
		if fsutil.IsTemp(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, model.TrashEntry{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sweep deletes entries last modified strictly before now minus days.
// An entry exactly at the cutoff is kept. Failures are recorded and the
// sweep continues.
func (t *Trash) Sweep(days int, dryRun bool) (*model.SweepResult, error) {
	if days < 0 {
		return nil, errclass.ErrConfig.WithMessagef("trash expiry must be >= 0 days, got %d", days)
	}

	cutoff := t.Now().Add(-time.Duration(days) * Day)
	result := &model.SweepResult{Cutoff: cutoff.UTC(), Expired: []string{}, DryRun: dryRun}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			t.log.Debug("trash directory absent, nothing to sweep", map[string]any{"dir": t.dir})
			return result, nil
		}
		return nil, fmt.Errorf("read trash dir: %w", err)
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			result.Failed = append(result.Failed, entry.Name())
			t.log.ErrorErr("stat trash entry", err, map[string]any{"name": entry.Name()})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			result.Retained++
			continue
		}

		fields := map[string]any{"name": entry.Name(), "modified": info.ModTime().UTC().Format(time.RFC3339)}
		if dryRun {
			t.log.Info("would delete expired trash entry", fields)
			result.Expired = append(result.Expired, entry.Name())
			continue
		}
		if err := os.RemoveAll(filepath.Join(t.dir, entry.Name())); err != nil {
			result.Failed = append(result.Failed, entry.Name())
			t.log.ErrorErr("delete expired trash entry", err, fields)
			continue
		}
		t.log.Info("deleted expired trash entry", fields)
		result.Expired = append(result.Expired, entry.Name())
	}
	return result, nil
}

// Restore moves filename from the trash back into the hooks directory and
// returns the destination. filename must be a bare name. An existing
// destination is never overwritten.
func (t *Trash) Restore(filename string, dryRun bool) (string, error) {
	name, err := pathutil.ValidateName(filename)
	if err != nil {
		return "", err
	}

	src := filepath.Join(t.dir, name)
	if _, err := os.Lstat(src); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat trash entry: %w", err)
		}
		msg := fmt.Sprintf("%s is not in the trash", name)
		if s := t.Suggest(name); len(s) > 0 {
			msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(s, ", "))
		}
		return "", errclass.ErrRestoreSourceMissing.WithMessage(msg)
	}

	dst := filepath.Join(t.hooksDir, name)
	if _, err := os.Lstat(dst); err == nil {
		return "", errclass.ErrRestoreConflict.WithMessagef("%s already exists", dst)
	}

	fields := map[string]any{"name": name, "dst": dst}
	if dryRun {
		t.log.Info("would restore from trash", fields)
		return dst, nil
	}

	if err := os.MkdirAll(t.hooksDir, 0755); err != nil {
		return "", fmt.Errorf("create hooks dir: %w", err)
	}
	if err := fsutil.MoveFile(src, dst); err != nil {
		return "", fmt.Errorf("restore %s: %w", name, err)
	}
	t.log.Info("restored from trash", fields)
	return dst, nil
}

// Suggest returns up to three trash names close to name, best first.
func (t *Trash) Suggest(name string) []string {
	entries, err := t.List()
	if err != nil || len(entries) == 0 {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] && len(out) < maxSuggestions {
			seen[s] = true
			out = append(out, s)
		}
	}

	lower := strings.ToLower(name)
	stem := strings.TrimSuffix(lower, filepath.Ext(lower))
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), stem) {
			add(n)
		}
	}
	for _, pattern := range []string{name, strings.TrimSuffix(name, filepath.Ext(name))} {
		for _, m := range fuzzy.Find(pattern, names) {
			add(m.Str)
		}
	}
	return out
}

// sameContent reports whether the regular files a and b hold the same bytes.
func sameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if !ib.Mode().IsRegular() || ia.Size() != ib.Size() {
		return false, nil
	}
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}
