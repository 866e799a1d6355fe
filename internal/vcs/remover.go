// Package vcs deletes files through the version control system when the
// file is tracked, so the removal is staged, and falls back to a plain unlink.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/logging"
	"github.com/jvs-project/hookctl/pkg/model"
)

// Runner executes name with args in dir.
type Runner func(ctx context.Context, dir, name string, args ...string) error

// Remover deletes files, preferring "git rm".
type Remover struct {
	Command  string
	Disabled bool
	Run      Runner

	log *logging.Logger
}

// NewRemover creates a Remover that shells out to command (usually "git").
func NewRemover(command string, log *logging.Logger) *Remover {
	if command == "" {
		command = "git"
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Remover{Command: command, Run: ExecRunner, log: log}
}

// Remove deletes path and reports which method succeeded. When both the VCS
// removal and the unlink fail the error is an errclass.ErrDeleteFailure.
func (r *Remover) Remove(ctx context.Context, path string) (model.DeleteMethod, error) {
	if !r.Disabled && r.Run != nil {
		dir, base := filepath.Dir(path), filepath.Base(path)
		err := r.Run(ctx, dir, r.Command, "-C", dir, "rm", "-q", "-f", "--", base)
		if err == nil {
			if _, statErr := os.Lstat(path); os.IsNotExist(statErr) {
				return model.DeleteVCS, nil
			}
		} else {
			r.log.Debug("vcs remove failed, falling back to unlink", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if err := os.Remove(path); err != nil {
		return "", errclass.ErrDeleteFailure.WithMessagef("remove %s: %v", path, err)
	}
	return model.DeleteUnlink, nil
}

// ExecRunner runs the command with os/exec, folding stderr into the error.
func ExecRunner(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s", msg)
		}
		return err
	}
	return nil
}
