package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/internal/doctor"
	"github.com/jvs-project/hookctl/pkg/color"
)

func newDoctorCmd(g *globalFlags) *cobra.Command {
	var (
		strict bool
		repair bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check project health",
		Long: `Check the hookctl project layout and report any issues.

Use --strict to also resolve every manifest action through the sandbox.
Use --repair to remove leftover temp files and an expired lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}

			doc := doctor.NewDoctor(e.cfg)
			if repair {
				ids := make([]string, 0)
				for _, a := range doc.ListRepairActions() {
					ids = append(ids, a.ID)
				}
				results, err := doc.Repair(ids)
				if err != nil {
					return err
				}
				for _, r := range results {
					mark := color.Success("ok")
					if !r.Success {
						mark = color.Error("failed")
					}
					fmt.Fprintf(e.human(), "repair %s: %s (%s)\n", r.Action, mark, r.Message)
				}
			}

			result, err := doc.Check(strict)
			if err != nil {
				return fmt.Errorf("doctor: %w", err)
			}

			if g.json {
				if err := outputJSON(e.out, result); err != nil {
					return err
				}
			} else if len(result.Findings) == 0 {
				fmt.Fprintln(e.out, color.Success("Project is healthy."))
			} else {
				fmt.Fprintf(e.out, "Findings (%d):\n", len(result.Findings))
				for _, f := range result.Findings {
					fmt.Fprintf(e.out, "  [%s] %s: %s\n", color.Severity(f.Severity), f.Category, f.Description)
				}
			}

			if !result.Healthy {
				return errSilent
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "resolve every manifest action")
	cmd.Flags().BoolVar(&repair, "repair", false, "run all safe repairs before checking")
	return cmd
}
