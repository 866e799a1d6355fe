// Package usage finds hook and manifest files that nothing in the project
// refers to.
//
// The check is textual: a file is used when its basename without extension
// appears anywhere in another source file of the project. Dynamic references
// built at runtime are not seen.
package usage

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jvs-project/hookctl/internal/manifest"
	"github.com/jvs-project/hookctl/pkg/jsonutil"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/model"
)

// Options selects which files take part in an audit.
type Options struct {
	HookExtensions     []string
	ManifestExtensions []string
	// SkipDirs holds directory base names ("node_modules") or absolute paths.
	SkipDirs []string
	// SkipFiles holds absolute paths of files that are neither candidates nor
	// references, such as the audit report itself.
	SkipFiles []string
	// Known decides which manifest phases are accepted when reading metadata.
	Known func(string) bool
}

// Auditor computes AuditReports.
type Auditor struct {
	opts Options
	log  *logging.Logger

	// Now stamps reports; tests override it.
	Now func() time.Time
}

// NewAuditor creates an Auditor.
func NewAuditor(opts Options, log *logging.Logger) *Auditor {
	if log == nil {
		log = logging.Discard()
	}
	return &Auditor{opts: opts, log: log, Now: time.Now}
}

type sourceFile struct {
	path string
	data []byte
}

// Audit scans hooksDir and manifestsDir for candidates and projectRoot for
// references. Report paths are projectRoot-relative, slash-separated and sorted.
func (a *Auditor) Audit(ctx context.Context, hooksDir, manifestsDir, projectRoot string) (*model.AuditReport, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	hookFiles, err := a.collect(ctx, hooksDir, a.opts.HookExtensions)
	if err != nil {
		return nil, fmt.Errorf("scan hooks: %w", err)
	}
	manifestFiles, err := a.collect(ctx, manifestsDir, a.opts.ManifestExtensions)
	if err != nil {
		return nil, fmt.Errorf("scan manifests: %w", err)
	}

	corpusExts := append(append([]string{}, a.opts.HookExtensions...), a.opts.ManifestExtensions...)
	corpusPaths, err := a.collect(ctx, root, corpusExts)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	// Candidates outside the project root still reference each other.
	corpusPaths = unionSorted(corpusPaths, hookFiles, manifestFiles)

	corpus := make([]sourceFile, 0, len(corpusPaths))
	for _, p := range corpusPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			a.log.Warn("skipping unreadable source file", map[string]any{"path": p, "error": err.Error()})
			continue
		}
		corpus = append(corpus, sourceFile{path: p, data: data})
	}

	report := &model.AuditReport{
		Timestamp:       a.Now().UTC().Truncate(time.Second),
		UnusedHooks:     []string{},
		UnusedManifests: []string{},
		Metadata:        map[string]model.CandidateMetadata{},
	}

	for _, p := range hookFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if referenced(p, corpus) {
			continue
		}
		rel := relPath(root, p)
		report.UnusedHooks = append(report.UnusedHooks, rel)
		if md, ok := hookMetadata(p); ok {
			report.Metadata[rel] = md
		}
	}

	for _, p := range manifestFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if referenced(p, corpus) {
			continue
		}
		rel := relPath(root, p)
		report.UnusedManifests = append(report.UnusedManifests, rel)
		if md, ok := a.manifestMetadata(p); ok {
			report.Metadata[rel] = md
		}
	}

	sort.Strings(report.UnusedHooks)
	sort.Strings(report.UnusedManifests)
	if len(report.Metadata) == 0 {
		report.Metadata = nil
	}

	report.Fingerprint, err = Fingerprint(report)
	if err != nil {
		return nil, err
	}

	a.log.Info("usage audit complete", map[string]any{
		"hooks":            len(hookFiles),
		"manifests":        len(manifestFiles),
		"unused_hooks":     len(report.UnusedHooks),
		"unused_manifests": len(report.UnusedManifests),
		"fingerprint":      report.Fingerprint,
	})
	return report, nil
}

// Fingerprint hashes the two unused lists of r.
func Fingerprint(r *model.AuditReport) (string, error) {
	return jsonutil.Fingerprint(fingerprinted(r))
}

// VerifyFingerprint reports whether the stored fingerprint of r matches its
// lists. A report without a fingerprint verifies.
func VerifyFingerprint(r *model.AuditReport) (bool, error) {
	if r.Fingerprint == "" {
		return true, nil
	}
	return jsonutil.SameFingerprint(fingerprinted(r), r.Fingerprint)
}

func fingerprinted(r *model.AuditReport) map[string]any {
	return map[string]any{
		"unusedHooks":     r.UnusedHooks,
		"unusedManifests": r.UnusedManifests,
	}
}

// collect returns the files under dir with one of exts, sorted. A missing
// dir yields nothing.
func (a *Auditor) collect(ctx context.Context, dir string, exts []string) ([]string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		a.log.Debug("scan directory absent", map[string]any{"dir": dir})
		return nil, nil
	}

	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && a.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(path, "_test.go") || a.skipFile(path) {
			return nil
		}
		if hasExt(path, exts) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (a *Auditor) skipFile(path string) bool {
	for _, f := range a.opts.SkipFiles {
		if abs, err := filepath.Abs(f); err == nil && abs == path {
			return true
		}
	}
	return false
}

func (a *Auditor) skipDir(path string) bool {
	base := filepath.Base(path)
	for _, s := range a.opts.SkipDirs {
		if filepath.IsAbs(s) {
			if filepath.Clean(s) == path {
				return true
			}
		} else if s == base {
			return true
		}
	}
	return false
}

func (a *Auditor) manifestMetadata(path string) (model.CandidateMetadata, bool) {
	m, err := manifest.Load(path, a.opts.Known)
	if err != nil {
		a.log.Warn("unused manifest is not parseable, no metadata", map[string]any{"path": path, "error": err.Error()})
		return model.CandidateMetadata{}, false
	}
	md := model.CandidateMetadata{Roles: m.Roles(), Stages: m.Stages()}
	return md, len(md.Roles) > 0 || len(md.Stages) > 0
}

// referenced reports whether any corpus file other than path contains its symbol.
func referenced(path string, corpus []sourceFile) bool {
	symbol := Symbol(path)
	if symbol == "" {
		return true
	}
	needle := []byte(symbol)
	for _, f := range corpus {
		if f.path == path {
			continue
		}
		if bytes.Contains(f.data, needle) {
			return true
		}
	}
	return false
}

// Symbol is the basename of path without its extension.
func Symbol(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasExt(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func unionSorted(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, p := range l {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}
