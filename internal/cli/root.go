// Package cli implements the hookctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/pkg/color"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	json       bool
	verbose    bool
	noColor    bool
	configPath string
}

// errSilent signals a failure whose message was already printed.
var errSilent = errors.New("")

// NewRootCommand builds the hookctl command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "hookctl",
		Short: "hookctl - declarative lifecycle hooks with safe retirement",
		Long: `hookctl binds hook code to lifecycle phases through declarative manifests,
audits which hooks and manifests are no longer referenced, and retires them
through a backup-first purge with a recoverable trash.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(g.noColor)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&g.json, "json", false, "output in JSON format")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "verbose logging, echoed to stderr")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")
	pf.StringVar(&g.configPath, "config", "", "path to the config file (default ./hookctl.yaml)")

	root.AddCommand(
		newAuditCmd(g),
		newRetireCmd(g),
		newRunCmd(g),
		newTrashCmd(g),
		newDoctorCmd(g),
		newConfigCmd(g),
		newCompletionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSilent) {
			fmtErr(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// outputJSON prints v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
