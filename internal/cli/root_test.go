package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/hookctl/internal/lock"
	"github.com/jvs-project/hookctl/pkg/color"
	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/jvs-project/hookctl/pkg/webhook"
)

func TestMain(m *testing.M) {
	color.Disable()
	os.Exit(m.Run())
}

type result struct {
	stdout string
	stderr string
	err    error
}

func executeCommand(stdin string, args ...string) result {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeFile(t *testing.T, root, rel, content string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

// setupProject creates a project with one referenced hook, one unused admin
// hook and one unreferenced manifest, and makes it the working directory.
func setupProject(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "src/hooks/used.sh", "#!/bin/sh\necho used\n", 0755)
	writeFile(t, dir, "src/hooks/orphan.sh", "# @role admin\necho orphan\n", 0644)
	writeFile(t, dir, "src/app.ts", "import used from './hooks/used'\n", 0644)
	writeFile(t, dir, "src/manifests/pages.json", `{"onInit": [{"module": "pages", "role": "admin", "action": "./used"}]}`, 0644)

	originalWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(originalWd)
	})
	return dir
}

func TestRootCommand_Help(t *testing.T) {
	res := executeCommand("", "--help")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "lifecycle phases")
	for _, sub := range []string{"audit", "retire", "run", "trash", "doctor", "config"} {
		assert.Contains(t, res.stdout, sub)
	}
}

func TestRetireCommand_HelpListsFlags(t *testing.T) {
	res := executeCommand("", "retire", "--help")
	require.NoError(t, res.err)
	for _, flag := range []string{"--purge", "--restore", "--trash-expiry", "--dry-run", "--verbose", "--force", "--role", "--lifecycle", "--summary-only"} {
		assert.Contains(t, res.stdout, flag)
	}
}

func TestRunCommand_HelpExplainsActionPaths(t *testing.T) {
	res := executeCommand("", "run", "--help")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "./seed\nnames <sandbox_root>/seed")
	assert.Contains(t, res.stdout, "defaults to paths.hooks_dir")
}

func TestAuditCommand_WritesReport(t *testing.T) {
	dir := setupProject(t)

	res := executeCommand("", "audit")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "src/hooks/orphan.sh")
	assert.Contains(t, res.stdout, "src/manifests/pages.json")
	assert.NotContains(t, res.stdout, "used.sh")
	assert.Contains(t, res.stdout, "Report written to")
	assert.FileExists(t, filepath.Join(dir, "logs", "hook-audit-report.json"))
	assert.FileExists(t, filepath.Join(dir, "logs", "hooks.log"))
}

func TestAuditCommand_JSONDryRun(t *testing.T) {
	dir := setupProject(t)

	res := executeCommand("", "audit", "--dry-run", "--json")
	require.NoError(t, res.err)

	var report model.AuditReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, []string{"src/hooks/orphan.sh"}, report.UnusedHooks)
	assert.Equal(t, []string{"src/manifests/pages.json"}, report.UnusedManifests)
	assert.Equal(t, []string{"admin"}, report.Metadata["src/hooks/orphan.sh"].Roles)
	assert.NoFileExists(t, filepath.Join(dir, "logs", "hook-audit-report.json"))
}

func TestRetireCommand_MissingReport(t *testing.T) {
	setupProject(t)

	res := executeCommand("", "retire", "--purge", "--force")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errclass.ErrAuditIO)
	assert.Contains(t, hintFor(res.err), "hookctl audit")
}

func TestRetireCommand_NoActionPrintsSummaryOnly(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	res := executeCommand("", "retire")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Purge summary for role=any")
	assert.Contains(t, res.stdout, "candidates:        2")
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
	assert.NoFileExists(t, filepath.Join(dir, "logs", lock.FileName))
}

func TestRetireCommand_PurgeForce(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	res := executeCommand("", "retire", "--purge", "--force", "--role=admin")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "purged 2, missing 0, backup failures 0, delete failures 0")

	assert.NoFileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
	assert.NoFileExists(t, filepath.Join(dir, "src", "manifests", "pages.json"))
	assert.FileExists(t, filepath.Join(dir, ".trash", "hooks", "orphan.sh"))
	assert.FileExists(t, filepath.Join(dir, ".trash", "hooks", "pages.json"))
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "used.sh"))
}

func TestRetireCommand_PurgeDeclined(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	res := executeCommand("n\n", "retire", "--purge")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Purge 2 files for role=any? [y/N]")
	assert.Contains(t, res.stdout, "Purge cancelled; nothing was changed.")
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
	assert.NoDirExists(t, filepath.Join(dir, ".trash", "hooks"))
}

func TestRetireCommand_PurgeConfirmedJSON(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	res := executeCommand("yes\n", "retire", "--purge", "--lifecycle=onInit", "--json")
	require.NoError(t, res.err)

	var out retireOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.NotNil(t, out.Purge)
	assert.Equal(t, 1, out.Purge.Candidates)
	assert.Equal(t, 1, out.Purge.SkippedByFilter)
	assert.Equal(t, 1, out.Purge.Purged)
	assert.Contains(t, res.stderr, "Purge summary")
	assert.NoFileExists(t, filepath.Join(dir, "src", "manifests", "pages.json"))
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
}

func TestRetireCommand_DryRun(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	res := executeCommand("", "retire", "--purge", "--force", "--dry-run")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "would purge 2")
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
	assert.NoDirExists(t, filepath.Join(dir, ".trash", "hooks"))
}

func TestRetireCommand_RestoreRoundTrip(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)
	require.NoError(t, executeCommand("", "retire", "--purge", "--force").err)

	res := executeCommand("", "retire", "--restore=orphan.sh")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Restored orphan.sh")
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
	assert.NoFileExists(t, filepath.Join(dir, ".trash", "hooks", "orphan.sh"))

	res = executeCommand("", "retire", "--restore=orphan.sh")
	assert.ErrorIs(t, res.err, errclass.ErrRestoreSourceMissing)
}

func TestRetireCommand_RestoreSuggests(t *testing.T) {
	setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)
	require.NoError(t, executeCommand("", "retire", "--purge", "--force").err)

	res := executeCommand("", "retire", "--restore=orphan")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errclass.ErrRestoreSourceMissing)
	assert.Contains(t, res.err.Error(), "orphan.sh")
}

func TestRetireCommand_TrashExpiry(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)
	require.NoError(t, executeCommand("", "retire", "--purge", "--force").err)

	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, ".trash", "hooks", "orphan.sh"), old, old))

	res := executeCommand("", "retire", "--trash-expiry=7", "--dry-run")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "[dry-run] would expire 1 trash entries older than 7 days (retained 1)")
	assert.FileExists(t, filepath.Join(dir, ".trash", "hooks", "orphan.sh"))

	res = executeCommand("", "retire", "--trash-expiry=7")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Expired 1 trash entries")
	assert.NoFileExists(t, filepath.Join(dir, ".trash", "hooks", "orphan.sh"))
	assert.FileExists(t, filepath.Join(dir, ".trash", "hooks", "pages.json"))
}

func TestRetireCommand_LockConflict(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)

	mgr := lock.NewManager(filepath.Join(dir, "logs", lock.FileName), time.Hour)
	rec, err := mgr.Acquire("purge")
	require.NoError(t, err)
	defer mgr.Release(rec.HolderNonce)

	res := executeCommand("", "retire", "--purge", "--force")
	assert.ErrorIs(t, res.err, errclass.ErrLockConflict)
	assert.FileExists(t, filepath.Join(dir, "src", "hooks", "orphan.sh"))
}

func TestRetireCommand_NotifiesWebhooks(t *testing.T) {
	dir := setupProject(t)

	var events []webhook.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			events = append(events, ev)
		}
	}))
	defer server.Close()

	writeFile(t, dir, "hookctl.yaml", "webhooks:\n  hooks:\n    - url: "+server.URL+"\n      events: [\"*\"]\n      enabled: true\n", 0644)
	require.NoError(t, executeCommand("", "audit").err)

	require.NoError(t, executeCommand("n\n", "retire", "--purge").err)
	require.NoError(t, executeCommand("", "retire", "--purge", "--force").err)
	require.NoError(t, executeCommand("", "retire", "--restore=orphan.sh").err)

	require.Len(t, events, 3)
	assert.Equal(t, webhook.EventPurgeDeclined, events[0].Event)
	assert.Equal(t, webhook.EventPurgeComplete, events[1].Event)
	assert.Equal(t, float64(2), events[1].Metadata["purged"])
	assert.NotEmpty(t, events[1].RunID)
	assert.Equal(t, webhook.EventRestoreComplete, events[2].Event)
	assert.NotEmpty(t, events[2].ProjectRoot)
}

func TestTrashCommand_ListAndSweep(t *testing.T) {
	dir := setupProject(t)

	res := executeCommand("", "trash", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Trash is empty.")

	require.NoError(t, executeCommand("", "audit").err)
	require.NoError(t, executeCommand("", "retire", "--purge", "--force").err)

	res = executeCommand("", "trash", "list", "--json")
	require.NoError(t, res.err)
	var entries []model.TrashEntry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "orphan.sh", entries[0].Name)
	assert.Equal(t, "pages.json", entries[1].Name)

	// Default expiry is 30 days.
	res = executeCommand("", "trash", "sweep")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Expired 0 trash entries older than 30 days (retained 2)")

	res = executeCommand("", "trash", "sweep", "--days=0")
	require.NoError(t, res.err)
	assert.NoFileExists(t, filepath.Join(dir, ".trash", "hooks", "orphan.sh"))
}

func TestRunCommand_ExecHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell hooks need a unix shell")
	}
	dir := setupProject(t)
	writeFile(t, dir, "src/hooks/record.sh", "#!/bin/sh\necho \"$HOOK_PHASE $HOOK_MODULE $HOOK_ROLE\" >> ran.txt\n", 0755)
	writeFile(t, dir, "src/manifests/record.yaml", `onInit:
  - module: pages
    role: admin
    action: ./record
onRender:
  - module: pages
    role: editor
    action: ../../outside
`, 0644)

	res := executeCommand("", "run", "--manifest", filepath.Join("src", "manifests", "record.yaml"))
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "[success] onInit pages/admin ./record")
	assert.Contains(t, res.stdout, "[sandbox_rejected] onRender pages/editor ../../outside")

	data, err := os.ReadFile(filepath.Join(dir, "src", "hooks", "ran.txt"))
	require.NoError(t, err)
	assert.Equal(t, "onInit pages admin\n", string(data))
}

func TestRunCommand_Phase(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell hooks need a unix shell")
	}
	dir := setupProject(t)
	writeFile(t, dir, "src/hooks/record.sh", "#!/bin/sh\necho \"$HOOK_PHASE $HOOK_DRY_RUN\" >> ran.txt\n", 0755)
	writeFile(t, dir, "src/manifests/record.json", `{
  "onInit": [{"module": "pages", "role": "admin", "action": "./record"}],
  "onDestroy": [{"module": "pages", "role": "admin", "action": "./record"}]
}`, 0644)

	res := executeCommand("", "run", "-m", filepath.Join("src", "manifests", "record.json"), "--phase", "onDestroy", "--dry-run", "--json")
	require.NoError(t, res.err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "bound", results[0]["status"])

	data, err := os.ReadFile(filepath.Join(dir, "src", "hooks", "ran.txt"))
	require.NoError(t, err)
	assert.Equal(t, "onDestroy true\n", string(data))
}

func TestRunCommand_ManifestErrors(t *testing.T) {
	setupProject(t)

	res := executeCommand("", "run")
	assert.Error(t, res.err)

	res = executeCommand("", "run", "--manifest", "missing.json")
	assert.ErrorIs(t, res.err, errclass.ErrConfig)

	writeFile(t, ".", "bad.json", `{"onInit": [`, 0644)
	res = executeCommand("", "run", "--manifest", "bad.json")
	assert.ErrorIs(t, res.err, errclass.ErrConfig)
}

func TestDoctorCommand(t *testing.T) {
	dir := setupProject(t)

	res := executeCommand("", "doctor")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "[info] report")

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "src", "hooks")))
	res = executeCommand("", "doctor")
	assert.ErrorIs(t, res.err, errSilent)
	assert.Contains(t, res.stdout, "[critical] sandbox")
}

func TestDoctorCommand_Repair(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, executeCommand("", "audit").err)
	writeFile(t, dir, "logs/.hookctl-tmp-42", "partial", 0644)

	res := executeCommand("", "doctor", "--repair")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "repair clean_tmp: ok (removed 1 temp files)")
	assert.NoFileExists(t, filepath.Join(dir, "logs", ".hookctl-tmp-42"))
}

func TestConfigCommand_InitAndShow(t *testing.T) {
	dir := setupProject(t)

	res := executeCommand("", "config", "init")
	require.NoError(t, res.err)
	assert.FileExists(t, filepath.Join(dir, "hookctl.yaml"))

	res = executeCommand("", "config", "init")
	assert.ErrorIs(t, res.err, errclass.ErrConfig)

	res = executeCommand("", "config", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "hooks_dir: src/hooks")
	assert.Contains(t, res.stdout, "expiry_days: 30")
}

func TestGlobalConfigFlag(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, dir, "alt.yaml", "paths:\n  hooks_dir: src/hooks\n  trash_dir: bin\n  logs_dir: var/log\n  report_path: var/report.json\n", 0644)

	res := executeCommand("", "--config", "alt.yaml", "audit")
	require.NoError(t, res.err)
	assert.FileExists(t, filepath.Join(dir, "var", "report.json"))

	res = executeCommand("", "--config", "missing.yaml", "audit")
	assert.ErrorIs(t, res.err, errclass.ErrConfig)
}

func TestCompletionCommand(t *testing.T) {
	res := executeCommand("", "completion", "bash")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "hookctl")

	res = executeCommand("", "completion", "tcsh")
	assert.Error(t, res.err)
}

func TestFmtErr(t *testing.T) {
	var buf bytes.Buffer
	fmtErr(&buf, errclass.ErrAuditIO.WithMessage("read report"))
	assert.Contains(t, buf.String(), "hookctl: E_AUDIT_IO: read report")
	assert.Contains(t, buf.String(), "hookctl audit")

	buf.Reset()
	fmtErr(&buf, os.ErrPermission)
	assert.Equal(t, "hookctl: permission denied\n", buf.String())
}
