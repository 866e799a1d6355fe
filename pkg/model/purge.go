package model

// CandidateKind distinguishes hook files from manifest files.
type CandidateKind string

const (
	KindHook     CandidateKind = "hook"
	KindManifest CandidateKind = "manifest"
)

// Outcome is what happened to one purge candidate.
type Outcome string

const (
	OutcomePurged        Outcome = "purged"
	OutcomeMissing       Outcome = "missing"
	OutcomeBackupFailure Outcome = "backup_failure"
	OutcomeDeleteFailure Outcome = "delete_failure"
	OutcomeRejected      Outcome = "rejected"
)

// DeleteMethod records which deletion path removed a file.
type DeleteMethod string

const (
	DeleteVCS    DeleteMethod = "vcs"
	DeleteUnlink DeleteMethod = "unlink"
)

// FileOutcome is the per-file record of a purge run.
type FileOutcome struct {
	Path    string        `json:"path"`
	Kind    CandidateKind `json:"kind"`
	Outcome Outcome       `json:"outcome"`
	Method  DeleteMethod  `json:"method,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PurgeSummary is the result of one purge run.
type PurgeSummary struct {
	RunID           string        `json:"runId"`
	Role            string        `json:"role,omitempty"`
	Stages          []string      `json:"lifecycleStages,omitempty"`
	Hooks           int           `json:"hooks"`
	Manifests       int           `json:"manifests"`
	Candidates      int           `json:"candidates"`
	SkippedByFilter int           `json:"skippedByFilter"`
	Purged          int           `json:"purged"`
	Missing         int           `json:"missing"`
	BackupFailures  int           `json:"backupFailures"`
	DeleteFailures  int           `json:"deleteFailures"`
	Rejected        int           `json:"rejected,omitempty"`
	Declined        bool          `json:"declined"`
	DryRun          bool          `json:"dryRun"`
	SummaryOnly     bool          `json:"summaryOnly"`
	Files           []FileOutcome `json:"files,omitempty"`
}
