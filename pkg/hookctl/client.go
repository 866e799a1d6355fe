package hookctl

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jvs-project/hookctl/internal/hooks"
	"github.com/jvs-project/hookctl/internal/loader"
	"github.com/jvs-project/hookctl/internal/lock"
	"github.com/jvs-project/hookctl/internal/manifest"
	"github.com/jvs-project/hookctl/internal/purge"
	"github.com/jvs-project/hookctl/internal/trash"
	"github.com/jvs-project/hookctl/internal/usage"
	"github.com/jvs-project/hookctl/internal/vcs"
	"github.com/jvs-project/hookctl/pkg/config"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/jvs-project/hookctl/pkg/webhook"
)

type (
	Event            = hooks.Event
	ExecutionContext = hooks.ExecutionContext
	Handler          = hooks.Handler
	HookFunc         = loader.HookFunc
	Catalog          = loader.Catalog
	Result           = loader.Result
	PurgeOptions     = purge.Options
)

const (
	OnInit     = hooks.OnInit
	OnDestroy  = hooks.OnDestroy
	OnUpdate   = hooks.OnUpdate
	OnRender   = hooks.OnRender
	OnValidate = hooks.OnValidate
	OnMerge    = hooks.OnMerge
)

// Confirmer approves a purge before anything is deleted.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// OpenOptions configures Open.
type OpenOptions struct {
	ConfigPath  string          // Explicit config file; empty means <root>/hookctl.yaml
	Logger      *logging.Logger // Defaults to rotating files under the configured logs dir
	Catalog     Catalog         // Hooks compiled into the host, tried before plugins and executables
	ExtraEvents []Event         // Events accepted in addition to the built-in ones
	Confirmer   Confirmer       // Asked before a purge without Force; nil declines
}

// Client provides hook and housekeeping operations on one project.
type Client struct {
	cfg       *config.Config
	log       *logging.Logger
	registry  *hooks.Registry
	loader    *loader.Loader
	confirmer Confirmer
}

// Open loads the configuration of the project at root.
func Open(root string, opts OpenOptions) (*Client, error) {
	cfg, err := config.Load(root, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("hookctl open: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log, err = logging.Open(logging.Options{
			Dir:     cfg.LogsDir(),
			MaxSize: cfg.Logging.MaxSizeBytes,
			Level:   logging.ParseLevel(cfg.Logging.Level),
			Format:  logging.Format(cfg.Logging.Format),
		})
		if err != nil {
			return nil, fmt.Errorf("hookctl open: %w", err)
		}
	}

	reg := hooks.NewRegistry(log, opts.ExtraEvents...)
	known := make(map[string]bool)
	for _, e := range reg.Events() {
		known[string(e)] = true
	}

	resolvers := []loader.Resolver{loader.PluginResolver{}, loader.ExecResolver{}}
	if len(opts.Catalog) > 0 {
		resolvers = append([]loader.Resolver{opts.Catalog}, resolvers...)
	}
	sandbox := cfg.SandboxRoot()
	ld := loader.New(sandbox, sandbox, log, resolvers...)
	ld.Extensions = cfg.Audit.HookExtensions
	ld.Known = func(name string) bool { return known[name] }

	return &Client{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		loader:    ld,
		confirmer: opts.Confirmer,
	}, nil
}

// Root returns the absolute project root.
func (c *Client) Root() string {
	return c.cfg.Root
}

// Config returns the effective configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Register adds handler to event. The returned func removes it again.
func (c *Client) Register(event Event, handler Handler) (func(), error) {
	return c.registry.Register(event, handler)
}

// Trigger runs every handler of event in registration order.
func (c *Client) Trigger(ctx context.Context, event Event, ec ExecutionContext) error {
	return c.registry.Trigger(ctx, event, ec)
}

// BindManifest registers every loadable action of the manifest at path under
// its phase. Declarations that were rejected are reported in the results and
// not bound. A relative manifest path is resolved against the project root,
// while the actions it declares resolve against the sandbox root: "./seed"
// names <sandbox_root>/seed.
func (c *Client) BindManifest(path string) (func(), []Result, error) {
	m, err := manifest.Load(c.abs(path), c.loader.Known)
	if err != nil {
		return nil, nil, err
	}
	results, unbind, err := c.loader.Bind(m, c.registry)
	if err != nil {
		return nil, nil, err
	}
	return unbind, results, nil
}

// RunManifest invokes every action of the manifest at path once, in order.
// Actions resolve against the sandbox root as in BindManifest.
func (c *Client) RunManifest(ctx context.Context, path string) ([]Result, error) {
	return c.loader.LoadAndRun(ctx, c.abs(path))
}

// Audit computes the usage report. With write it also replaces the report file.
func (c *Client) Audit(ctx context.Context, write bool) (*model.AuditReport, error) {
	auditor := usage.NewAuditor(usage.Options{
		HookExtensions:     c.cfg.Audit.HookExtensions,
		ManifestExtensions: c.cfg.Audit.ManifestExtensions,
		SkipDirs:           c.cfg.SkipDirs(),
		SkipFiles:          c.cfg.SkipFiles(),
		Known:              c.loader.Known,
	}, c.log)
	report, err := auditor.Audit(ctx, c.cfg.HooksDir(), c.cfg.ManifestsDir(), c.cfg.Root)
	if err != nil {
		return nil, err
	}
	if write {
		if err := usage.WriteReport(c.cfg.ReportPath(), report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Purge backs up and deletes the files listed in the last written report.
// Without Force the configured Confirmer decides; with none the run is declined.
func (c *Client) Purge(ctx context.Context, opts PurgeOptions) (*model.PurgeSummary, error) {
	report, err := usage.ReadReport(c.cfg.ReportPath())
	if err != nil {
		return nil, err
	}

	remover := vcs.NewRemover(c.cfg.VCS.Command, c.log)
	remover.Disabled = c.cfg.VCS.Disabled
	p := purge.NewPipeline(c.cfg.Root, c.trash(), remover, c.confirmer, c.log)

	var summary *model.PurgeSummary
	err = c.withLock("purge", func() error {
		var err error
		summary, err = p.Purge(ctx, report, opts)
		return err
	})
	if err != nil {
		return summary, err
	}

	switch {
	case summary.Declined:
		c.notify(ctx, webhook.Event{Event: webhook.EventPurgeDeclined, RunID: summary.RunID, DryRun: summary.DryRun})
	case !summary.SummaryOnly && summary.Candidates > 0:
		c.notify(ctx, webhook.Event{Event: webhook.EventPurgeComplete, RunID: summary.RunID, DryRun: summary.DryRun,
			Metadata: map[string]any{"candidates": summary.Candidates, "purged": summary.Purged}})
	}
	return summary, nil
}

// Sweep removes trash entries older than days.
func (c *Client) Sweep(ctx context.Context, days int, dryRun bool) (*model.SweepResult, error) {
	var res *model.SweepResult
	err := c.withLock("sweep", func() error {
		var err error
		res, err = c.trash().Sweep(days, dryRun)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.notify(ctx, webhook.Event{Event: webhook.EventSweepComplete, DryRun: dryRun,
		Metadata: map[string]any{"days": days, "expired": res.Expired, "retained": res.Retained}})
	return res, nil
}

// Restore moves filename from the trash back into the hooks directory and
// returns where it landed.
func (c *Client) Restore(ctx context.Context, filename string, dryRun bool) (string, error) {
	var dst string
	err := c.withLock("restore", func() error {
		var err error
		dst, err = c.trash().Restore(filename, dryRun)
		return err
	})
	if err != nil {
		c.notify(ctx, webhook.Event{Event: webhook.EventRestoreFailed, DryRun: dryRun, Error: err.Error(),
			Metadata: map[string]any{"filename": filename}})
		return "", err
	}
	c.notify(ctx, webhook.Event{Event: webhook.EventRestoreComplete, DryRun: dryRun,
		Metadata: map[string]any{"filename": filename, "destination": dst}})
	return dst, nil
}

// TrashEntries lists what the trash currently holds.
func (c *Client) TrashEntries() ([]model.TrashEntry, error) {
	return c.trash().List()
}

func (c *Client) trash() *trash.Trash {
	return trash.New(c.cfg.TrashDir(), c.cfg.HooksDir(), c.log)
}

func (c *Client) withLock(purpose string, fn func() error) error {
	ttl, err := c.cfg.LockTTL()
	if err != nil {
		return err
	}
	return lock.NewManager(filepath.Join(c.cfg.LogsDir(), lock.FileName), ttl).With(purpose, fn)
}

func (c *Client) notify(ctx context.Context, event webhook.Event) {
	if len(c.cfg.Webhooks.Hooks) == 0 {
		return
	}
	event.ProjectRoot = c.cfg.Root
	_ = webhook.NewClient(c.cfg.Webhooks, c.log).Send(ctx, event)
}

func (c *Client) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.cfg.Root, path)
}
