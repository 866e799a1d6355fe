package usage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/fsutil"
	"github.com/jvs-project/hookctl/pkg/model"
)

// WriteReport persists r at path atomically.
func WriteReport(path string, r *model.AuditReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errclass.ErrAuditIO.WithMessagef("marshal report: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errclass.ErrAuditIO.WithMessagef("create report dir: %v", err)
	}
	if err := fsutil.AtomicWrite(path, append(data, '\n'), 0644); err != nil {
		return errclass.ErrAuditIO.WithMessagef("write report: %v", err)
	}
	return nil
}

// ReadReport loads the report at path. A missing or malformed report is an
// errclass.ErrAuditIO.
func ReadReport(path string) (*model.AuditReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrAuditIO.WithMessagef("no audit report at %s; run \"hookctl audit\" first", path)
		}
		return nil, errclass.ErrAuditIO.WithMessagef("read report: %v", err)
	}

	var r model.AuditReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errclass.ErrAuditIO.WithMessagef("parse report %s: %v", path, err)
	}
	if r.UnusedHooks == nil || r.UnusedManifests == nil {
		return nil, errclass.ErrAuditIO.WithMessagef("report %s is missing unusedHooks or unusedManifests", path)
	}
	return &r, nil
}
