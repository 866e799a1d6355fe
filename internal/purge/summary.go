package purge

import (
	"fmt"
	"io"
	"strings"

	"github.com/jvs-project/hookctl/pkg/model"
)

// WriteSummary prints the pre-mutation counts of s.
func WriteSummary(w io.Writer, s *model.PurgeSummary) {
	header := "Purge summary"
	if s.DryRun {
		header += " (dry-run)"
	}
	fmt.Fprintf(w, "%s for role=%s", header, roleLabel(s.Role))
	if len(s.Stages) > 0 {
		fmt.Fprintf(w, " lifecycle=%s", strings.Join(s.Stages, ","))
	}
	fmt.Fprintln(w, ":")
	fmt.Fprintf(w, "  unused hooks:      %d\n", s.Hooks)
	fmt.Fprintf(w, "  unused manifests:  %d\n", s.Manifests)
	fmt.Fprintf(w, "  candidates:        %d\n", s.Candidates)
	fmt.Fprintf(w, "  skipped by filter: %d\n", s.SkippedByFilter)
}

// WriteResult prints the per-file outcome counts of a finished run.
func WriteResult(w io.Writer, s *model.PurgeSummary) {
	if s.SummaryOnly || s.Declined || s.Candidates == 0 {
		return
	}
	verb := "purged"
	if s.DryRun {
		verb = "would purge"
	}
	fmt.Fprintf(w, "%s %d, missing %d, backup failures %d, delete failures %d",
		verb, s.Purged, s.Missing, s.BackupFailures, s.DeleteFailures)
	if s.Rejected > 0 {
		fmt.Fprintf(w, ", rejected %d", s.Rejected)
	}
	fmt.Fprintln(w)
}
