package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jvs-project/hookctl/internal/lock"
	"github.com/jvs-project/hookctl/internal/trash"
	"github.com/jvs-project/hookctl/pkg/color"
	"github.com/jvs-project/hookctl/pkg/config"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/webhook"
)

// env is the per-invocation state every subcommand works from.
type env struct {
	cfg *config.Config
	log *logging.Logger
	out io.Writer
	err io.Writer
	g   *globalFlags
}

// loadEnv loads the configuration of the project in the current directory
// and opens its log files.
func loadEnv(cmd *cobra.Command, g *globalFlags) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot get current directory: %w", err)
	}
	cfg, err := config.Load(cwd, g.configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.Open(logging.Options{
		Dir:     cfg.LogsDir(),
		MaxSize: cfg.Logging.MaxSizeBytes,
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Format:  logging.Format(cfg.Logging.Format),
		Console: cmd.ErrOrStderr(),
		Verbose: g.verbose,
	})
	if err != nil {
		return nil, err
	}

	return &env{
		cfg: cfg,
		log: log.WithFields(map[string]any{"command": cmd.Name()}),
		out: cmd.OutOrStdout(),
		err: cmd.ErrOrStderr(),
		g:   g,
	}, nil
}

// human is where prose goes: stdout normally, stderr when stdout carries JSON.
func (e *env) human() io.Writer {
	if e.g.json {
		return e.err
	}
	return e.out
}

func (e *env) trash() *trash.Trash {
	return trash.New(e.cfg.TrashDir(), e.cfg.HooksDir(), e.log)
}

func (e *env) lock() (*lock.Manager, error) {
	ttl, err := e.cfg.LockTTL()
	if err != nil {
		return nil, err
	}
	return lock.NewManager(filepath.Join(e.cfg.LogsDir(), lock.FileName), ttl), nil
}

// notify delivers event to the configured webhooks. Delivery failures are
// logged by the client and never fail the command.
func (e *env) notify(ctx context.Context, event webhook.Event) {
	if len(e.cfg.Webhooks.Hooks) == 0 {
		return
	}
	event.ProjectRoot = e.cfg.Root
	_ = webhook.NewClient(e.cfg.Webhooks, e.log).Send(ctx, event)
}

func fmtErr(w io.Writer, err error) {
	prefix := "hookctl: "
	if color.Enabled() {
		prefix = color.Error("hookctl:") + " "
	}
	fmt.Fprintln(w, prefix+err.Error())
	if hint := hintFor(err); hint != "" {
		fmt.Fprintln(w, color.Dim("  "+hint))
	}
}
