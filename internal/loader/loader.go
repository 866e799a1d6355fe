// Package loader resolves manifest actions to hooks inside a sandbox root
// and invokes them.
//
// Every action path is canonicalized against the working directory and
// checked against the sandbox root, symlinks resolved, before any resolver
// sees it. A rejected path is never opened, loaded or executed.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jvs-project/hookctl/internal/hooks"
	"github.com/jvs-project/hookctl/internal/manifest"
	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/pathutil"
)

// Kind tags the outcome of Load.
type Kind string

const (
	KindLoaded          Kind = "loaded"
	KindSandboxRejected Kind = "sandbox_rejected"
	KindNotCallable     Kind = "not_callable"
)

// LoadResult is the capability-checked result of resolving one action.
// Hook is set only for KindLoaded.
type LoadResult struct {
	Kind Kind
	Hook HookFunc
	Path string
	Err  error
}

// Status is the per-declaration outcome of LoadAndRun.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusSandboxRejected Status = "sandbox_rejected"
	StatusInvalidExport   Status = "invalid_export"
	StatusInvocationError Status = "invocation_error"
	StatusBound           Status = "bound"
)

// Result records what happened to one manifest declaration.
type Result struct {
	Phase    string        `json:"phase"`
	Module   string        `json:"module"`
	Role     string        `json:"role"`
	Action   string        `json:"action"`
	Path     string        `json:"path,omitempty"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Loader resolves and runs manifest declarations.
type Loader struct {
	SandboxRoot string
	WorkDir     string
	Resolvers   []Resolver
	// Extensions are appended to an action path when the exact path does not resolve.
	Extensions []string
	// Known decides which manifest phases are accepted; nil means the built-in events.
	Known func(string) bool

	log *logging.Logger
}

// New creates a Loader. With no resolvers, plugins and executables are tried.
func New(sandboxRoot, workDir string, log *logging.Logger, resolvers ...Resolver) *Loader {
	if log == nil {
		log = logging.Discard()
	}
	if len(resolvers) == 0 {
		resolvers = []Resolver{PluginResolver{}, ExecResolver{}}
	}
	return &Loader{
		SandboxRoot: sandboxRoot,
		WorkDir:     workDir,
		Resolvers:   resolvers,
		log:         log,
	}
}

// Load resolves action to a callable hook.
func (l *Loader) Load(action string) LoadResult {
	root, err := filepath.EvalSymlinks(l.SandboxRoot)
	if err != nil {
		return LoadResult{Kind: KindSandboxRejected, Err: errclass.ErrSandboxViolation.WithMessagef("cannot resolve sandbox root: %v", err)}
	}

	abs, err := pathutil.Canonicalize(l.WorkDir, action)
	if err != nil {
		return LoadResult{Kind: KindSandboxRejected, Err: errclass.ErrSandboxViolation.WithMessagef("canonicalize %s: %v", action, err)}
	}

	resolved, err := pathutil.WithinRoot(root, abs)
	if err != nil {
		return LoadResult{Kind: KindSandboxRejected, Path: abs, Err: err}
	}

	candidates := []string{resolved}
	for _, ext := range l.Extensions {
		candidates = append(candidates, abs+ext)
	}

	for i, candidate := range candidates {
		path := candidate
		if i > 0 {
			// Extension candidates may be symlinks of their own.
			if path, err = pathutil.WithinRoot(root, candidate); err != nil {
				return LoadResult{Kind: KindSandboxRejected, Path: candidate, Err: err}
			}
		}
		for _, r := range l.Resolvers {
			fn, err := r.Resolve(root, path)
			if err != nil {
				return LoadResult{Kind: KindNotCallable, Path: path, Err: err}
			}
			if fn != nil {
				return LoadResult{Kind: KindLoaded, Hook: fn, Path: path}
			}
		}
	}

	return LoadResult{
		Kind: KindNotCallable,
		Path: resolved,
		Err:  errclass.ErrInvalidHookExport.WithMessagef("no callable hook at %s", action),
	}
}

// LoadAndRun loads the manifest and runs every declaration in order.
// Only a manifest configuration error is returned; per-declaration failures
// are logged and reported in the results.
func (l *Loader) LoadAndRun(ctx context.Context, manifestPath string) ([]Result, error) {
	m, err := manifest.Load(manifestPath, l.Known)
	if err != nil {
		l.log.ErrorErr("manifest rejected", err, map[string]any{"manifest": manifestPath})
		return nil, err
	}
	return l.Run(ctx, m), nil
}

// Run invokes the declarations of an already parsed manifest.
func (l *Loader) Run(ctx context.Context, m *manifest.Manifest) []Result {
	decls := m.Declarations()
	results := make([]Result, 0, len(decls))

	for _, d := range decls {
		res := Result{Phase: d.Phase, Module: d.Module, Role: d.Role, Action: d.Action}

		lr := l.Load(d.Action)
		res.Path = lr.Path
		if lr.Kind != KindLoaded {
			results = append(results, l.reject(res, lr))
			continue
		}

		ec := executionContext(d, hooks.ExecutionContext{DryRun: false, Verbose: true})
		_ = l.log.Trace(d.Phase, map[string]any{"action": d.Action, "path": lr.Path, "context": ec})

		start := time.Now()
		err := invoke(ctx, lr.Hook, ec)
		res.Duration = time.Since(start)

		fields := map[string]any{"phase": d.Phase, "action": d.Action, "module": d.Module, "role": d.Role}
		if err != nil {
			res.Status = StatusInvocationError
			res.Error = err.Error()
			l.log.ErrorErr("hook invocation failed", err, fields)
		} else {
			res.Status = StatusSuccess
			l.log.Info("hook completed", fields)
		}
		results = append(results, res)
	}
	return results
}

// Bind registers every loadable declaration of m on reg under its phase
// instead of invoking it. The returned func removes all bindings.
func (l *Loader) Bind(m *manifest.Manifest, reg *hooks.Registry) ([]Result, func(), error) {
	var (
		results []Result
		unbinds []func()
	)
	unbindAll := func() {
		for _, u := range unbinds {
			u()
		}
	}

	for _, d := range m.Declarations() {
		res := Result{Phase: d.Phase, Module: d.Module, Role: d.Role, Action: d.Action}

		lr := l.Load(d.Action)
		res.Path = lr.Path
		if lr.Kind != KindLoaded {
			results = append(results, l.reject(res, lr))
			continue
		}

		decl, fn := d, lr.Hook
		unbind, err := reg.RegisterNamed(hooks.Event(d.Phase), d.Action, func(ctx context.Context, ec hooks.ExecutionContext) error {
			return fn(ctx, executionContext(decl, ec))
		})
		if err != nil {
			unbindAll()
			return nil, func() {}, err
		}
		unbinds = append(unbinds, unbind)

		res.Status = StatusBound
		l.log.Debug("hook bound", map[string]any{"phase": d.Phase, "action": d.Action})
		results = append(results, res)
	}
	return results, unbindAll, nil
}

func (l *Loader) reject(res Result, lr LoadResult) Result {
	fields := map[string]any{"phase": res.Phase, "action": res.Action}
	if lr.Err != nil {
		res.Error = lr.Err.Error()
		fields["error"] = res.Error
	}
	if lr.Kind == KindSandboxRejected {
		res.Status = StatusSandboxRejected
		l.log.Warn("hook path rejected by sandbox", fields)
	} else {
		res.Status = StatusInvalidExport
		l.log.Warn("hook has no callable export", fields)
	}
	return res
}

// executionContext stamps the declaration's module, role and phase onto base.
func executionContext(d manifest.Declaration, base hooks.ExecutionContext) hooks.ExecutionContext {
	ec := base
	ec.Module = d.Module
	ec.Role = d.Role
	extra := make(map[string]any, len(base.Extra)+1)
	for k, v := range base.Extra {
		extra[k] = v
	}
	extra["phase"] = d.Phase
	ec.Extra = extra
	return ec
}

// invoke calls fn, converting a panic into an invocation error.
func invoke(ctx context.Context, fn HookFunc, ec hooks.ExecutionContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errclass.ErrInvocation.WithMessagef("panic: %v", p)
		}
	}()
	if err := fn(ctx, ec); err != nil {
		var he *errclass.HookError
		if errors.As(err, &he) {
			return err
		}
		return fmt.Errorf("%w: %w", errclass.ErrInvocation, err)
	}
	return nil
}
