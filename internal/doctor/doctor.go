// Package doctor checks the health of a hookctl project layout and repairs
// what can be repaired safely.
package doctor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jvs-project/hookctl/internal/loader"
	"github.com/jvs-project/hookctl/internal/lock"
	"github.com/jvs-project/hookctl/internal/manifest"
	"github.com/jvs-project/hookctl/internal/usage"
	"github.com/jvs-project/hookctl/pkg/config"
	"github.com/jvs-project/hookctl/pkg/fsutil"
	"github.com/jvs-project/hookctl/pkg/model"
)

// Severities, most severe first. Only critical findings make a project unhealthy.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// RepairAction describes an available repair.
type RepairAction struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// RepairResult reports one executed repair.
type RepairResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cleaned int    `json:"cleaned"`
}

// Doctor performs project health checks.
type Doctor struct {
	cfg  *config.Config
	lock *lock.Manager
}

// NewDoctor creates a new doctor.
func NewDoctor(cfg *config.Config) *Doctor {
	ttl, _ := cfg.LockTTL()
	return &Doctor{
		cfg:  cfg,
		lock: lock.NewManager(filepath.Join(cfg.LogsDir(), lock.FileName), ttl),
	}
}

// Check runs all diagnostic checks. Strict additionally resolves every
// manifest declaration through the sandboxed loader.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}

	d.checkConfig(result)
	d.checkSandbox(result)
	d.checkManifests(result, strict)
	d.checkWritable(result, "trash", d.cfg.TrashDir())
	d.checkWritable(result, "logs", d.cfg.LogsDir())
	d.checkReport(result)
	d.checkLock(result)
	d.checkOrphanTmp(result)

	return result, nil
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

func (d *Doctor) checkConfig(result *Result) {
	if err := d.cfg.Validate(); err != nil {
		result.add(Finding{Category: "config", Description: err.Error(), Severity: SeverityCritical})
	}
}

func (d *Doctor) checkSandbox(result *Result) {
	root := d.cfg.SandboxRoot()
	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		result.add(Finding{
			Category:    "sandbox",
			Description: "sandbox root does not exist; every manifest hook will be rejected",
			Severity:    SeverityCritical,
			Path:        root,
		})
		return
	case err != nil:
		result.add(Finding{Category: "sandbox", Description: fmt.Sprintf("cannot stat sandbox root: %v", err), Severity: SeverityCritical, Path: root})
		return
	case !info.IsDir():
		result.add(Finding{Category: "sandbox", Description: "sandbox root is not a directory", Severity: SeverityCritical, Path: root})
		return
	}

	if hooks := d.cfg.HooksDir(); hooks != root {
		if _, err := os.Stat(hooks); os.IsNotExist(err) {
			result.add(Finding{Category: "sandbox", Description: "hooks directory does not exist", Severity: SeverityWarning, Path: hooks})
		}
	}
}

func (d *Doctor) checkManifests(result *Result, strict bool) {
	dir := d.cfg.ManifestsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // directory doesn't exist, that's fine
	}

	ld := loader.New(d.cfg.SandboxRoot(), d.cfg.SandboxRoot(), nil)
	ld.Extensions = d.cfg.Audit.HookExtensions

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			continue
		}
		if _, ok := manifest.FormatFor(path); !ok {
			continue
		}
		m, err := manifest.Load(path, nil)
		if err != nil {
			result.add(Finding{Category: "manifest", Description: err.Error(), Severity: SeverityError, Path: path})
			continue
		}
		if !strict {
			continue
		}
		for _, decl := range m.Declarations() {
			lr := ld.Load(decl.Action)
			if lr.Kind == loader.KindLoaded {
				continue
			}
			result.add(Finding{
				Category:    "manifest",
				Description: fmt.Sprintf("%s action %q is %s: %v", decl.Phase, decl.Action, lr.Kind, lr.Err),
				Severity:    SeverityWarning,
				Path:        path,
			})
		}
	}
}

func (d *Doctor) checkWritable(result *Result, category, dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return // created on first use
	}
	tmp, err := os.CreateTemp(dir, fsutil.TempPrefix+"doctor-*")
	if err != nil {
		result.add(Finding{Category: category, Description: fmt.Sprintf("directory is not writable: %v", err), Severity: SeverityError, Path: dir})
		return
	}
	tmp.Close()
	os.Remove(tmp.Name())
}

func (d *Doctor) checkReport(result *Result) {
	path := d.cfg.ReportPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.add(Finding{Category: "report", Description: "no audit report yet; run \"hookctl audit\"", Severity: SeverityInfo, Path: path})
		return
	}

	report, err := usage.ReadReport(path)
	if err != nil {
		result.add(Finding{Category: "report", Description: err.Error(), Severity: SeverityError, Path: path})
		return
	}
	if ok, err := usage.VerifyFingerprint(report); err == nil && !ok {
		result.add(Finding{Category: "report", Description: "audit report fingerprint does not match its contents", Severity: SeverityWarning, Path: path})
	}
	if newer := d.newestHook(); newer.After(report.Timestamp) {
		result.add(Finding{
			Category:    "report",
			Description: fmt.Sprintf("hooks changed after the audit report (%s); re-run \"hookctl audit\"", report.Timestamp.Format(time.RFC3339)),
			Severity:    SeverityInfo,
			Path:        path,
		})
	}
}

func (d *Doctor) newestHook() time.Time {
	var newest time.Time
	filepath.WalkDir(d.cfg.HooksDir(), func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

func (d *Doctor) checkLock(result *Result) {
	state, rec, err := d.lock.Status()
	if err != nil {
		result.add(Finding{Category: "lock", Description: fmt.Sprintf("unreadable lock file: %v", err), Severity: SeverityWarning, Path: d.lock.Path()})
		return
	}
	switch state {
	case model.LockStateExpired:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("expired %s lock held by pid %d (since %s)", rec.Purpose, rec.PID, rec.ExpiresAt.Format(time.RFC3339)),
			Severity:    SeverityInfo,
			Path:        d.lock.Path(),
		})
	case model.LockStateHeld:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("%s in progress (pid %d)", rec.Purpose, rec.PID),
			Severity:    SeverityInfo,
			Path:        d.lock.Path(),
		})
	}
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	for _, path := range d.orphanTmp() {
		result.add(Finding{
			Category:    "tmp",
			Description: fmt.Sprintf("orphan temp file: %s", filepath.Base(path)),
			Severity:    SeverityInfo,
			Path:        path,
		})
	}
}

// orphanTmp lists leftover atomic-write temp files in the directories hookctl writes to.
func (d *Doctor) orphanTmp() []string {
	dirs := []string{d.cfg.TrashDir(), d.cfg.LogsDir(), filepath.Dir(d.cfg.ReportPath()), d.cfg.HooksDir()}
	seen := map[string]bool{}
	var out []string
	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if fsutil.IsTemp(entry.Name()) {
				out = append(out, filepath.Join(dir, entry.Name()))
			}
		}
	}
	return out
}

// ListRepairActions returns the repairs Repair understands.
func (d *Doctor) ListRepairActions() []RepairAction {
	return []RepairAction{
		{ID: "clean_tmp", Description: "Remove orphan temp files left by interrupted writes"},
		{ID: "clear_expired_lock", Description: "Remove an expired purge/sweep/restore lock"},
	}
}

// Repair runs the named repair actions.
func (d *Doctor) Repair(actions []string) ([]RepairResult, error) {
	var results []RepairResult
	for _, action := range actions {
		switch action {
		case "clean_tmp":
			results = append(results, d.repairCleanTmp())
		case "clear_expired_lock":
			results = append(results, d.repairExpiredLock())
		default:
			results = append(results, RepairResult{Action: action, Message: fmt.Sprintf("unknown repair action: %s", action)})
		}
	}
	return results, nil
}

func (d *Doctor) repairCleanTmp() RepairResult {
	res := RepairResult{Action: "clean_tmp", Success: true}
	for _, path := range d.orphanTmp() {
		if err := os.Remove(path); err != nil {
			res.Success = false
			res.Message = err.Error()
			continue
		}
		res.Cleaned++
	}
	if res.Success {
		res.Message = fmt.Sprintf("removed %d temp files", res.Cleaned)
	}
	return res
}

func (d *Doctor) repairExpiredLock() RepairResult {
	res := RepairResult{Action: "clear_expired_lock"}
	state, rec, err := d.lock.Status()
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if state != model.LockStateExpired {
		res.Success = true
		res.Message = fmt.Sprintf("lock is %s; nothing to do", state)
		return res
	}
	if err := d.lock.Release(rec.HolderNonce); err != nil {
		res.Message = err.Error()
		return res
	}
	res.Success = true
	res.Cleaned = 1
	res.Message = "expired lock removed"
	return res
}
