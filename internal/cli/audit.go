package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/internal/usage"
	"github.com/jvs-project/hookctl/pkg/color"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Find hook and manifest files nothing refers to",
		Long: `Scan the project for hook and manifest files whose name does not appear
in any other source file, and write the result to the audit report.

The check is textual: references built at runtime are not seen. Review the
report before purging.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}

			auditor := usage.NewAuditor(usage.Options{
				HookExtensions:     e.cfg.Audit.HookExtensions,
				ManifestExtensions: e.cfg.Audit.ManifestExtensions,
				SkipDirs:           e.cfg.SkipDirs(),
				SkipFiles:          e.cfg.SkipFiles(),
			}, e.log)

			report, err := auditor.Audit(cmd.Context(), e.cfg.HooksDir(), e.cfg.ManifestsDir(), e.cfg.Root)
			if err != nil {
				return err
			}
			if !dryRun {
				if err := usage.WriteReport(e.cfg.ReportPath(), report); err != nil {
					return err
				}
			}

			if g.json {
				return outputJSON(e.out, report)
			}

			w := e.out
			fmt.Fprintf(w, "%s (%d):\n", color.Header("Unused hooks"), len(report.UnusedHooks))
			for _, p := range report.UnusedHooks {
				fmt.Fprintf(w, "  %s\n", color.Path(p))
			}
			fmt.Fprintf(w, "%s (%d):\n", color.Header("Unused manifests"), len(report.UnusedManifests))
			for _, p := range report.UnusedManifests {
				fmt.Fprintf(w, "  %s\n", color.Path(p))
			}
			if dryRun {
				fmt.Fprintln(w, color.Dim("Dry run: report not written."))
			} else {
				fmt.Fprintf(w, "Report written to %s\n", e.cfg.ReportPath())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the report without writing it")
	return cmd
}
