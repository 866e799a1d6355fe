package purge_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/hookctl/internal/confirm"
	"github.com/jvs-project/hookctl/internal/purge"
	"github.com/jvs-project/hookctl/internal/trash"
	"github.com/jvs-project/hookctl/internal/vcs"
	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root     string
	trashDir string
	trash    *trash.Trash
	remover  *vcs.Remover
	report   *model.AuditReport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/hooks/seedPages.ts":    "export default () => {}\n",
		"src/hooks/legacyImport.js": "module.exports = () => {}\n",
		"src/manifests/orphan.yaml": "onInit: []\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	trashDir := filepath.Join(root, ".trash", "hooks")
	remover := vcs.NewRemover("git", nil)
	remover.Disabled = true

	return &fixture{
		root:     root,
		trashDir: trashDir,
		trash:    trash.New(trashDir, filepath.Join(root, "src", "hooks"), nil),
		remover:  remover,
		report: &model.AuditReport{
			UnusedHooks:     []string{"src/hooks/legacyImport.js", "src/hooks/seedPages.ts"},
			UnusedManifests: []string{"src/manifests/orphan.yaml"},
			Metadata: map[string]model.CandidateMetadata{
				"src/hooks/seedPages.ts":    {Roles: []string{"admin"}, Stages: []string{"onInit"}},
				"src/hooks/legacyImport.js": {Roles: []string{"editor"}},
				"src/manifests/orphan.yaml": {Roles: []string{"admin"}, Stages: []string{"onInit"}},
			},
		},
	}
}

func (f *fixture) pipeline(c confirm.Confirmer) *purge.Pipeline {
	return purge.NewPipeline(f.root, f.trash, f.remover, c, nil)
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func TestPurge_ForceWithRoleFilter(t *testing.T) {
	f := newFixture(t)

	summary, err := f.pipeline(nil).Purge(context.Background(), f.report, purge.Options{Role: "admin", Force: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Purged)
	assert.Equal(t, 1, summary.SkippedByFilter)
	assert.Equal(t, 1, summary.Hooks)
	assert.Equal(t, 1, summary.Manifests)
	assert.Equal(t, 2, summary.Candidates)
	assert.NotEmpty(t, summary.RunID)

	assert.FileExists(t, filepath.Join(f.trashDir, "seedPages.ts"))
	assert.FileExists(t, filepath.Join(f.trashDir, "orphan.yaml"))
	assert.NoFileExists(t, f.path("src/hooks/seedPages.ts"))
	assert.NoFileExists(t, f.path("src/manifests/orphan.yaml"))
	assert.FileExists(t, f.path("src/hooks/legacyImport.js"))

	for _, fo := range summary.Files {
		assert.Equal(t, model.DeleteUnlink, fo.Method)
	}
}

func TestPurge_LifecycleFilter(t *testing.T) {
	f := newFixture(t)

	summary, err := f.pipeline(nil).Purge(context.Background(), f.report,
		purge.Options{LifecycleStages: []string{"onDestroy", "onInit"}, SummaryOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.SkippedByFilter)
}

func TestPurge_DeclinedChangesNothing(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	p := f.pipeline(&confirm.Terminal{In: bytes.NewBufferString("n\n"), Out: &out})

	summary, err := p.Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)

	assert.True(t, summary.Declined)
	assert.Zero(t, summary.Purged)
	assert.Contains(t, out.String(), "Purge 3 files for role=any? [y/N]")
	assert.NoDirExists(t, f.trashDir)
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"))
	assert.FileExists(t, f.path("src/hooks/legacyImport.js"))
	assert.FileExists(t, f.path("src/manifests/orphan.yaml"))
}

type failingConfirmer struct{}

func (failingConfirmer) Confirm(string) (bool, error) { return true, errors.New("tty gone") }

func TestPurge_ConfirmErrorIsDecline(t *testing.T) {
	f := newFixture(t)
	summary, err := f.pipeline(failingConfirmer{}).Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)
	assert.True(t, summary.Declined)
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"))
}

func TestPurge_ConfirmedPromptShowsRole(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	p := f.pipeline(&confirm.Terminal{In: bytes.NewBufferString("yes\n"), Out: &out})

	summary, err := p.Purge(context.Background(), f.report, purge.Options{Role: "admin"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Purge 2 files for role=admin?")
	assert.Equal(t, 2, summary.Purged)
}

// checkingRemover asserts the backup exists whenever a file is deleted.
type checkingRemover struct {
	t        *testing.T
	trashDir string
	removed  []string
}

func (r *checkingRemover) Remove(_ context.Context, path string) (model.DeleteMethod, error) {
	assert.FileExists(r.t, filepath.Join(r.trashDir, filepath.Base(path)), "backup must exist before delete")
	r.removed = append(r.removed, path)
	return model.DeleteUnlink, os.Remove(path)
}

func TestPurge_BackupBeforeDelete(t *testing.T) {
	f := newFixture(t)
	rm := &checkingRemover{t: t, trashDir: f.trashDir}
	p := purge.NewPipeline(f.root, f.trash, rm, confirm.Always{}, nil)

	summary, err := p.Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Purged)
	assert.Len(t, rm.removed, 3)
}

type selectiveBackup struct {
	inner purge.Backuper
	fail  string
}

func (b selectiveBackup) Backup(src string) (string, error) {
	if filepath.Base(src) == b.fail {
		return "", errclass.ErrBackupFailure.WithMessage("disk full")
	}
	return b.inner.Backup(src)
}

func TestPurge_BackupFailureSkipsOnlyThatFile(t *testing.T) {
	f := newFixture(t)
	p := purge.NewPipeline(f.root, selectiveBackup{inner: f.trash, fail: "seedPages.ts"}, f.remover, confirm.Always{}, nil)

	summary, err := p.Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.BackupFailures)
	assert.Equal(t, 2, summary.Purged)
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"), "file with failed backup is kept")
	assert.NoFileExists(t, f.path("src/hooks/legacyImport.js"))
	assert.NoFileExists(t, f.path("src/manifests/orphan.yaml"))
}

func TestPurge_SameBasenameKeepsSecondFile(t *testing.T) {
	f := newFixture(t)
	for dir, content := range map[string]string{"a": "AAA", "b": "BBB"} {
		path := f.path("src/hooks/" + dir + "/seed.ts")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	report := &model.AuditReport{UnusedHooks: []string{"src/hooks/a/seed.ts", "src/hooks/b/seed.ts"}}

	summary, err := f.pipeline(confirm.Always{}).Purge(context.Background(), report, purge.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Purged)
	assert.Equal(t, 1, summary.BackupFailures)

	data, err := os.ReadFile(filepath.Join(f.trashDir, "seed.ts"))
	require.NoError(t, err)
	assert.Equal(t, "AAA", string(data))
	assert.NoFileExists(t, f.path("src/hooks/a/seed.ts"))
	assert.FileExists(t, f.path("src/hooks/b/seed.ts"), "second file is kept when its backup would clobber the first")
}

type brokenRemover struct{}

func (brokenRemover) Remove(context.Context, string) (model.DeleteMethod, error) {
	return "", errclass.ErrDeleteFailure.WithMessage("read-only filesystem")
}

func TestPurge_DeleteFailureRecorded(t *testing.T) {
	f := newFixture(t)
	p := purge.NewPipeline(f.root, f.trash, brokenRemover{}, confirm.Always{}, nil)

	summary, err := p.Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.DeleteFailures)
	assert.Zero(t, summary.Purged)
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"))
	for _, fo := range summary.Files {
		assert.Contains(t, fo.Error, "read-only filesystem")
	}
}

func TestPurge_DryRunSimulates(t *testing.T) {
	f := newFixture(t)

	summary, err := f.pipeline(confirm.Always{}).Purge(context.Background(), f.report, purge.Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 3, summary.Purged)
	assert.NoDirExists(t, f.trashDir)
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"))
}

func TestPurge_MissingAndRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.path("src/hooks/legacyImport.js")))
	f.report.UnusedHooks = append(f.report.UnusedHooks, "../outside.sh")

	outside := filepath.Join(filepath.Dir(f.root), "outside.sh")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	t.Cleanup(func() { os.Remove(outside) })

	summary, err := f.pipeline(confirm.Always{}).Purge(context.Background(), f.report, purge.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 2, summary.Purged)
	assert.FileExists(t, outside)
}

func TestPurge_SummaryOnly(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	p := f.pipeline(confirm.Always{})
	p.Out = &out

	summary, err := p.Purge(context.Background(), f.report, purge.Options{SummaryOnly: true, Role: "admin"})
	require.NoError(t, err)
	assert.True(t, summary.SummaryOnly)
	assert.Empty(t, summary.Files)
	assert.Contains(t, out.String(), "Purge summary for role=admin:")
	assert.Contains(t, out.String(), "candidates:        2")
	assert.FileExists(t, f.path("src/hooks/seedPages.ts"))
}

func TestPurge_NothingToPurge(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	p := f.pipeline(failingConfirmer{})
	p.Out = &out

	summary, err := p.Purge(context.Background(), f.report, purge.Options{Role: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)
	assert.False(t, summary.Declined)
	assert.Contains(t, out.String(), "Nothing to purge.")
}

func TestPurge_Progress(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(confirm.Always{})
	var seen []string
	p.Progress = func(op string, current, total int, message string) {
		assert.Equal(t, "purge", op)
		assert.Equal(t, 3, total)
		seen = append(seen, message)
	}

	_, err := p.Purge(context.Background(), f.report, purge.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/hooks/legacyImport.js", "src/hooks/seedPages.ts", "src/manifests/orphan.yaml"}, seen)
}

func TestPurge_NilReport(t *testing.T) {
	_, err := purge.NewPipeline(t.TempDir(), nil, nil, nil, nil).Purge(context.Background(), nil, purge.Options{})
	require.ErrorIs(t, err, errclass.ErrAuditIO)
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	purge.WriteResult(&buf, &model.PurgeSummary{Candidates: 2, Purged: 1, DeleteFailures: 1})
	assert.Equal(t, "purged 1, missing 0, backup failures 0, delete failures 1\n", buf.String())

	buf.Reset()
	purge.WriteResult(&buf, &model.PurgeSummary{Candidates: 2, Declined: true})
	assert.Empty(t, buf.String())
}
