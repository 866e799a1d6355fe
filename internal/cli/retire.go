package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/internal/confirm"
	"github.com/jvs-project/hookctl/internal/purge"
	"github.com/jvs-project/hookctl/internal/usage"
	"github.com/jvs-project/hookctl/internal/vcs"
	"github.com/jvs-project/hookctl/pkg/color"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/jvs-project/hookctl/pkg/progress"
	"github.com/jvs-project/hookctl/pkg/webhook"
)

type retireFlags struct {
	purge       bool
	restore     string
	trashExpiry int
	dryRun      bool
	force       bool
	role        string
	lifecycle   []string
	summaryOnly bool
}

// retireOutput is the --json document of one retire invocation.
type retireOutput struct {
	Restored string              `json:"restored,omitempty"`
	Sweep    *model.SweepResult  `json:"sweep,omitempty"`
	Purge    *model.PurgeSummary `json:"purge,omitempty"`
}

func newRetireCmd(g *globalFlags) *cobra.Command {
	f := &retireFlags{}

	cmd := &cobra.Command{
		Use:   "retire",
		Short: "Purge unused hooks, expire the trash, or restore from it",
		Long: `Retire hook and manifest files listed in the audit report.

Actions run in this order when combined: --restore, --trash-expiry, --purge.
Without an action flag the purge summary is printed and nothing changes.

Every purged file is copied to the trash before it is deleted. Deletion goes
through version control when possible and falls back to a plain unlink.

Examples:
  hookctl retire                             # summary of the current report
  hookctl retire --purge --role=admin        # purge admin hooks, with confirmation
  hookctl retire --purge --dry-run --force   # show what would happen
  hookctl retire --trash-expiry=30           # drop trash entries older than 30 days
  hookctl retire --restore=seedPages.go      # move a file back into the hooks dir`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			sweep := cmd.Flags().Changed("trash-expiry")
			if f.restore == "" && !sweep && !f.purge {
				f.summaryOnly = true
			}

			mgr, err := e.lock()
			if err != nil {
				return err
			}
			out := &retireOutput{}
			err = mgr.With("retire", func() error {
				if f.restore != "" {
					if err := runRestore(cmd.Context(), e, f, out); err != nil {
						return err
					}
				}
				if sweep {
					if err := runSweep(cmd.Context(), e, f.trashExpiry, f.dryRun, out); err != nil {
						return err
					}
				}
				if f.purge || f.summaryOnly {
					return runPurge(cmd, e, f, out)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if g.json {
				return outputJSON(e.out, out)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.purge, "purge", false, "back up and delete the files in the audit report")
	fl.StringVar(&f.restore, "restore", "", "move `filename` from the trash back into the hooks directory")
	fl.IntVar(&f.trashExpiry, "trash-expiry", 0, "delete trash entries older than `days`")
	fl.BoolVar(&f.dryRun, "dry-run", false, "show what would happen without changing anything")
	fl.BoolVar(&f.force, "force", false, "skip the confirmation prompt")
	fl.StringVar(&f.role, "role", "", "only purge files bound to this role")
	fl.StringSliceVar(&f.lifecycle, "lifecycle", nil, "only purge files bound to one of these lifecycle stages")
	fl.BoolVar(&f.summaryOnly, "summary-only", false, "print the purge summary and stop")
	return cmd
}

func runRestore(ctx context.Context, e *env, f *retireFlags, out *retireOutput) error {
	dst, err := e.trash().Restore(f.restore, f.dryRun)
	if err != nil {
		e.notify(ctx, webhook.Event{Event: webhook.EventRestoreFailed, DryRun: f.dryRun, Error: err.Error(),
			Metadata: map[string]any{"filename": f.restore}})
		return err
	}
	out.Restored = dst
	e.notify(ctx, webhook.Event{Event: webhook.EventRestoreComplete, DryRun: f.dryRun,
		Metadata: map[string]any{"filename": f.restore, "destination": dst}})
	if f.dryRun {
		fmt.Fprintf(e.human(), "[dry-run] would restore %s to %s\n", f.restore, color.Path(dst))
	} else {
		fmt.Fprintf(e.human(), "Restored %s to %s\n", f.restore, color.Path(dst))
	}
	return nil
}

func runSweep(ctx context.Context, e *env, days int, dryRun bool, out *retireOutput) error {
	res, err := e.trash().Sweep(days, dryRun)
	if err != nil {
		return err
	}
	out.Sweep = res
	e.notify(ctx, webhook.Event{Event: webhook.EventSweepComplete, DryRun: dryRun, Metadata: map[string]any{
		"days":     days,
		"expired":  res.Expired,
		"retained": res.Retained,
		"failed":   len(res.Failed),
	}})
	printSweep(e, days, res)
	return nil
}

func printSweep(e *env, days int, res *model.SweepResult) {
	w := e.human()
	verb := "Expired"
	if res.DryRun {
		verb = "[dry-run] would expire"
	}
	fmt.Fprintf(w, "%s %d trash entries older than %d days (retained %d)\n", verb, len(res.Expired), days, res.Retained)
	for _, name := range res.Expired {
		fmt.Fprintf(w, "  %s\n", color.Path(name))
	}
	if len(res.Failed) > 0 {
		fmt.Fprintln(w, color.Warningf("  failed to remove %d entries; see the log", len(res.Failed)))
	}
}

func runPurge(cmd *cobra.Command, e *env, f *retireFlags, out *retireOutput) error {
	report, err := usage.ReadReport(e.cfg.ReportPath())
	if err != nil {
		return err
	}

	var confirmer confirm.Confirmer = &confirm.Terminal{In: cmd.InOrStdin(), Out: e.human()}
	if f.force {
		confirmer = confirm.Always{}
	}

	remover := vcs.NewRemover(e.cfg.VCS.Command, e.log)
	remover.Disabled = e.cfg.VCS.Disabled

	p := purge.NewPipeline(e.cfg.Root, e.trash(), remover, confirmer, e.log)
	p.Out = e.human()

	var bar *progress.Terminal
	if !e.g.json && progress.IsTTY(e.err) {
		bar = progress.NewTerminal(e.err, "purge", 0, true)
		p.Progress = bar.Callback()
	}

	summary, err := p.Purge(cmd.Context(), report, purge.Options{
		Role:            f.role,
		LifecycleStages: f.lifecycle,
		DryRun:          f.dryRun,
		Force:           f.force,
		SummaryOnly:     f.summaryOnly,
	})
	if bar != nil && summary != nil && summary.Candidates > 0 && !summary.Declined && !summary.SummaryOnly {
		bar.Done("")
	}
	if err != nil {
		return err
	}
	out.Purge = summary

	purge.WriteResult(e.human(), summary)
	switch {
	case summary.Declined:
		e.notify(cmd.Context(), webhook.Event{Event: webhook.EventPurgeDeclined, RunID: summary.RunID, DryRun: summary.DryRun})
	case !summary.SummaryOnly && summary.Candidates > 0:
		e.notify(cmd.Context(), webhook.Event{Event: webhook.EventPurgeComplete, RunID: summary.RunID, DryRun: summary.DryRun,
			Metadata: map[string]any{
				"candidates":      summary.Candidates,
				"purged":          summary.Purged,
				"missing":         summary.Missing,
				"backup_failures": summary.BackupFailures,
				"delete_failures": summary.DeleteFailures,
			}})
	}
	return nil
}
