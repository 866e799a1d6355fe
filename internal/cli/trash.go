package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/pkg/color"
)

func newTrashCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and expire the hook trash",
	}
	cmd.AddCommand(newTrashListCmd(g), newTrashSweepCmd(g))
	return cmd
}

func newTrashListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backed-up files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			entries, err := e.trash().List()
			if err != nil {
				return err
			}
			if g.json {
				return outputJSON(e.out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(e.out, "Trash is empty.")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(e.out, "%s  %8d  %s\n",
					entry.ModTime.Local().Format("2006-01-02 15:04"), entry.Size, color.Path(entry.Name))
			}
			return nil
		},
	}
}

func newTrashSweepCmd(g *globalFlags) *cobra.Command {
	var (
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete trash entries older than the expiry",
		Long: `Delete trash entries whose backup time is older than the expiry.

Without --days the trash.expiry_days setting is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = e.cfg.Trash.ExpiryDays
			}

			mgr, err := e.lock()
			if err != nil {
				return err
			}
			out := &retireOutput{}
			if err := mgr.With("sweep", func() error {
				return runSweep(cmd.Context(), e, days, dryRun, out)
			}); err != nil {
				return err
			}
			if g.json {
				return outputJSON(e.out, out.Sweep)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "expiry in days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be deleted")
	return cmd
}
