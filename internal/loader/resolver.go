package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jvs-project/hookctl/internal/hooks"
	"github.com/jvs-project/hookctl/pkg/errclass"
)

// HookFunc is the callable form of every loaded hook.
type HookFunc func(ctx context.Context, ec hooks.ExecutionContext) error

// Resolver turns a sandbox-validated path into a callable hook.
//
// Resolve returns (nil, nil) when path is not something the resolver handles,
// and an error when it is but no valid hook could be obtained from it.
type Resolver interface {
	Resolve(root, path string) (HookFunc, error)
}

// Catalog holds hooks compiled into the host binary, keyed by their
// sandbox-relative slash path without extension ("seed", "pages/warm").
type Catalog map[string]HookFunc

// Add registers fn under key.
func (c Catalog) Add(key string, fn HookFunc) {
	c[strings.TrimSuffix(filepath.ToSlash(key), filepath.Ext(key))] = fn
}

func (c Catalog) Resolve(root, path string) (HookFunc, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, nil
	}
	rel = filepath.ToSlash(rel)
	if fn, ok := c[strings.TrimSuffix(rel, filepath.Ext(rel))]; ok {
		return fn, nil
	}
	return nil, nil
}

// PluginResolver loads Go plugins (.so) and selects the exported Default
// symbol, falling back to Run.
type PluginResolver struct{}

// pluginSymbols is the lookup order for plugin exports.
var pluginSymbols = []string{"Default", "Run"}

func (PluginResolver) Resolve(_ string, path string) (HookFunc, error) {
	if filepath.Ext(path) != ".so" || !isRegular(path) {
		return nil, nil
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, errclass.ErrInvalidHookExport.WithMessagef("open plugin %s: %v", path, err)
	}

	for _, name := range pluginSymbols {
		sym, err := p.Lookup(name)
		if err != nil {
			continue
		}
		if fn := asHookFunc(sym); fn != nil {
			return fn, nil
		}
		return nil, errclass.ErrInvalidHookExport.WithMessagef("%s: symbol %s is %T, not a hook function", path, name, sym)
	}
	return nil, errclass.ErrInvalidHookExport.WithMessagef("%s exports neither Default nor Run", path)
}

func asHookFunc(sym any) HookFunc {
	switch fn := sym.(type) {
	case func(context.Context, hooks.ExecutionContext) error:
		return fn
	case HookFunc:
		return fn
	case *HookFunc:
		if fn != nil && *fn != nil {
			return *fn
		}
	case *func(context.Context, hooks.ExecutionContext) error:
		if fn != nil && *fn != nil {
			return *fn
		}
	}
	return nil
}

// ExecResolver runs executable files (scripts or binaries) as hooks.
//
// The hook receives the execution context as JSON on stdin and as HOOK_*
// environment variables. Its working directory is the sandbox root.
type ExecResolver struct {
	// Stdout receives the hook's standard output; nil discards it.
	Stdout io.Writer
	// Timeout bounds a single invocation; zero means no limit.
	Timeout time.Duration
}

func (r ExecResolver) Resolve(root, path string) (HookFunc, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
		return nil, nil
	}

	return func(ctx context.Context, ec hooks.ExecutionContext) error {
		return r.run(ctx, root, path, ec)
	}, nil
}

func (r ExecResolver) run(ctx context.Context, root, path string, ec hooks.ExecutionContext) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("marshal execution context: %w", err)
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = root
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), hookEnv(ec)...)
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(path), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func hookEnv(ec hooks.ExecutionContext) []string {
	env := []string{
		"HOOK_MODULE=" + ec.Module,
		"HOOK_ROLE=" + ec.Role,
		"HOOK_DRY_RUN=" + strconv.FormatBool(ec.DryRun),
		"HOOK_VERBOSE=" + strconv.FormatBool(ec.Verbose),
	}
	if phase, ok := ec.Extra["phase"].(string); ok {
		env = append(env, "HOOK_PHASE="+phase)
	}
	return env
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
