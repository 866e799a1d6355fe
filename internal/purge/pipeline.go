// Package purge retires unused hooks and manifests listed in an audit
// report. Every file is copied into the trash and the copy verified before
// the original is deleted.
package purge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/jvs-project/hookctl/internal/confirm"
	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/jvs-project/hookctl/pkg/pathutil"
	"github.com/jvs-project/hookctl/pkg/progress"
)

// Options narrows and controls one purge run.
type Options struct {
	Role            string
	LifecycleStages []string
	DryRun          bool
	Force           bool
	SummaryOnly     bool
}

// Backuper copies a file into the trash and verifies the copy.
type Backuper interface {
	Backup(src string) (string, error)
}

// Remover deletes a file and reports how.
type Remover interface {
	Remove(ctx context.Context, path string) (model.DeleteMethod, error)
}

// Pipeline runs purges against one project.
type Pipeline struct {
	ProjectRoot string
	Trash       Backuper
	Remover     Remover
	Confirmer   confirm.Confirmer
	// Out receives the human-readable summary; nil discards it.
	Out      io.Writer
	Progress progress.Callback

	log *logging.Logger
}

// NewPipeline creates a Pipeline. A nil confirmer declines every run.
func NewPipeline(projectRoot string, trash Backuper, remover Remover, confirmer confirm.Confirmer, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Discard()
	}
	if confirmer == nil {
		confirmer = confirm.Never{}
	}
	return &Pipeline{
		ProjectRoot: projectRoot,
		Trash:       trash,
		Remover:     remover,
		Confirmer:   confirmer,
		Out:         io.Discard,
		log:         log,
	}
}

type candidate struct {
	rel  string
	kind model.CandidateKind
}

// Purge filters the report, prints the summary and, unless told otherwise,
// backs up and deletes every candidate. A declined confirmation is not an error.
func (p *Pipeline) Purge(ctx context.Context, report *model.AuditReport, opts Options) (*model.PurgeSummary, error) {
	if report == nil {
		return nil, errclass.ErrAuditIO.WithMessage("no audit report")
	}

	summary := &model.PurgeSummary{
		RunID:       ulid.Make().String(),
		Role:        opts.Role,
		Stages:      opts.LifecycleStages,
		DryRun:      opts.DryRun,
		SummaryOnly: opts.SummaryOnly,
	}
	log := p.log.WithFields(map[string]any{"run_id": summary.RunID, "dry_run": opts.DryRun})

	hooks, skippedHooks := filter(report.UnusedHooks, report.Metadata, opts)
	manifests, skippedManifests := filter(report.UnusedManifests, report.Metadata, opts)
	summary.Hooks = len(hooks)
	summary.Manifests = len(manifests)
	summary.Candidates = len(hooks) + len(manifests)
	summary.SkippedByFilter = skippedHooks + skippedManifests

	var candidates []candidate
	for _, h := range hooks {
		candidates = append(candidates, candidate{rel: h, kind: model.KindHook})
	}
	for _, m := range manifests {
		candidates = append(candidates, candidate{rel: m, kind: model.KindManifest})
	}

	WriteSummary(p.out(), summary)
	log.Info("purge summary", map[string]any{
		"hooks":             summary.Hooks,
		"manifests":         summary.Manifests,
		"candidates":        summary.Candidates,
		"skipped_by_filter": summary.SkippedByFilter,
		"role":              roleLabel(opts.Role),
	})

	if opts.SummaryOnly {
		return summary, nil
	}
	if len(candidates) == 0 {
		fmt.Fprintln(p.out(), "Nothing to purge.")
		log.Info("nothing to purge")
		return summary, nil
	}

	if !opts.Force {
		prompt := fmt.Sprintf("Purge %d files for role=%s?", len(candidates), roleLabel(opts.Role))
		if opts.DryRun {
			prompt = "[dry-run] " + prompt
		}
		ok, err := p.Confirmer.Confirm(prompt)
		if err != nil {
			log.ErrorErr("confirmation failed, treating as declined", err)
		}
		if !ok || err != nil {
			summary.Declined = true
			fmt.Fprintln(p.out(), "Purge cancelled; nothing was changed.")
			log.Info("purge declined", map[string]any{"error_class": errclass.ErrConfirmationDeclined.Code})
			return summary, nil
		}
	}

	prog := progress.New("purge", len(candidates), p.Progress)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome := p.purgeOne(ctx, log, c, opts.DryRun)
		summary.Files = append(summary.Files, outcome)
		switch outcome.Outcome {
		case model.OutcomePurged:
			summary.Purged++
		case model.OutcomeMissing:
			summary.Missing++
		case model.OutcomeBackupFailure:
			summary.BackupFailures++
		case model.OutcomeDeleteFailure:
			summary.DeleteFailures++
		case model.OutcomeRejected:
			summary.Rejected++
		}
		prog.Increment(c.rel)
	}

	log.Info("purge complete", map[string]any{
		"purged":          summary.Purged,
		"missing":         summary.Missing,
		"backup_failures": summary.BackupFailures,
		"delete_failures": summary.DeleteFailures,
	})
	return summary, nil
}

func (p *Pipeline) purgeOne(ctx context.Context, log *logging.Logger, c candidate, dryRun bool) model.FileOutcome {
	out := model.FileOutcome{Path: c.rel, Kind: c.kind}
	fields := map[string]any{"path": c.rel, "kind": string(c.kind)}

	abs, err := p.resolve(c.rel)
	if err != nil {
		out.Outcome = model.OutcomeRejected
		out.Error = err.Error()
		log.Warn("candidate outside project root, skipped", fields)
		return out
	}

	if _, err := os.Lstat(abs); err != nil {
		out.Outcome = model.OutcomeMissing
		log.Info("candidate no longer exists", fields)
		return out
	}

	if dryRun {
		out.Outcome = model.OutcomePurged
		log.Info("[dry-run] would back up to trash and delete", fields)
		return out
	}

	dst, err := p.Trash.Backup(abs)
	if err != nil {
		out.Outcome = model.OutcomeBackupFailure
		out.Error = err.Error()
		log.ErrorErr("backup failed, file kept", err, fields)
		return out
	}
	fields["backup"] = dst

	method, err := p.Remover.Remove(ctx, abs)
	if err != nil {
		out.Outcome = model.OutcomeDeleteFailure
		out.Error = err.Error()
		log.ErrorErr("delete failed, file kept", err, fields)
		return out
	}

	out.Outcome = model.OutcomePurged
	out.Method = method
	fields["method"] = string(method)
	log.Info("purged", fields)
	return out
}

// resolve maps a report path to an absolute path inside the project root.
func (p *Pipeline) resolve(rel string) (string, error) {
	root, err := filepath.Abs(p.ProjectRoot)
	if err != nil {
		return "", err
	}
	abs, err := pathutil.Canonicalize(root, filepath.FromSlash(rel))
	if err != nil {
		return "", err
	}
	if abs == root || !pathutil.IsUnder(root, abs) {
		return "", errclass.ErrSandboxViolation.WithMessagef("%s is outside %s", rel, root)
	}
	return abs, nil
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

// filter keeps the paths whose metadata matches the role and stage filters.
func filter(paths []string, metadata map[string]model.CandidateMetadata, opts Options) ([]string, int) {
	var kept []string
	skipped := 0
	for _, path := range paths {
		md := metadata[path]
		if opts.Role != "" && !md.HasRole(opts.Role) {
			skipped++
			continue
		}
		if len(opts.LifecycleStages) > 0 && !md.InAnyStage(opts.LifecycleStages) {
			skipped++
			continue
		}
		kept = append(kept, path)
	}
	return kept, skipped
}

func roleLabel(role string) string {
	if role == "" {
		return "any"
	}
	return role
}
