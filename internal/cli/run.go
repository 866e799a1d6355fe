package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/internal/hooks"
	"github.com/jvs-project/hookctl/internal/loader"
	"github.com/jvs-project/hookctl/internal/manifest"
	"github.com/jvs-project/hookctl/pkg/color"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		manifestPath string
		watch        bool
		phases       []string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a manifest and run its hooks",
		Long: `Load a hook manifest and invoke each declared action in order.

Actions are resolved against the sandbox root (paths.sandbox_root, which
defaults to paths.hooks_dir), not against the manifest's directory: ./seed
names <sandbox_root>/seed. A declaration whose path escapes
the sandbox, or that has nothing callable, is skipped with a warning. A failing
hook is recorded and the remaining hooks still run.

With --phase the manifest is bound into a hook registry and only the named
phases are triggered, in the order given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" {
				return fmt.Errorf("--manifest is required")
			}
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}

			root := e.cfg.SandboxRoot()
			ld := loader.New(root, root, e.log, loader.PluginResolver{}, loader.ExecResolver{Stdout: e.human()})
			ld.Extensions = e.cfg.Audit.HookExtensions

			runOnce := func(ctx context.Context) ([]loader.Result, error) {
				if len(phases) == 0 {
					return ld.LoadAndRun(ctx, manifestPath)
				}
				return triggerPhases(ctx, ld, e, manifestPath, phases, dryRun)
			}

			results, err := runOnce(cmd.Context())
			if err != nil {
				return err
			}
			if err := printResults(e, results); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			fmt.Fprintf(e.human(), "Watching %s for changes (Ctrl+C to stop)\n", manifestPath)
			w := manifest.NewWatcher(manifestPath, func(ctx context.Context) {
				results, err := runOnce(ctx)
				if err != nil {
					fmtErr(e.err, err)
					return
				}
				_ = printResults(e, results)
			})
			return w.Run(cmd.Context())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&manifestPath, "manifest", "m", "", "manifest file (.json, .yaml, .yml or .toml)")
	fl.BoolVar(&watch, "watch", false, "re-run whenever the manifest changes")
	fl.StringSliceVar(&phases, "phase", nil, "bind the manifest and trigger only these phases")
	fl.BoolVar(&dryRun, "dry-run", false, "pass dryRun to hooks triggered with --phase")
	return cmd
}

// triggerPhases binds the manifest into a fresh registry and triggers phases in order.
func triggerPhases(ctx context.Context, ld *loader.Loader, e *env, path string, phases []string, dryRun bool) ([]loader.Result, error) {
	m, err := manifest.Load(path, nil)
	if err != nil {
		e.log.ErrorErr("manifest load failed", err, map[string]any{"manifest": path})
		return nil, err
	}

	reg := hooks.NewRegistry(e.log)
	results, unbind, err := ld.Bind(m, reg)
	if err != nil {
		return nil, err
	}
	defer unbind()

	ec := hooks.ExecutionContext{DryRun: dryRun, Verbose: e.g.verbose}
	for _, phase := range phases {
		if err := reg.Trigger(ctx, hooks.Event(phase), ec); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func printResults(e *env, results []loader.Result) error {
	if e.g.json {
		return outputJSON(e.out, results)
	}
	writeResults(e.out, results)
	return nil
}

func writeResults(w io.Writer, results []loader.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "Manifest declares no hooks.")
		return
	}
	for _, r := range results {
		status := string(r.Status)
		switch r.Status {
		case loader.StatusSuccess, loader.StatusBound:
			status = color.Success(status)
		case loader.StatusInvocationError:
			status = color.Error(status)
		default:
			status = color.Warning(status)
		}
		fmt.Fprintf(w, "  [%s] %s %s/%s %s", status, r.Phase, r.Module, color.Role(r.Role), r.Action)
		if r.Error != "" {
			fmt.Fprintf(w, " %s", color.Dim("("+r.Error+")"))
		}
		fmt.Fprintln(w)
	}
}
