package cli

import (
	"errors"
	"fmt"

	"github.com/jvs-project/hookctl/pkg/color"
	"github.com/jvs-project/hookctl/pkg/errclass"
)

// hintFor returns a follow-up suggestion for the error classes an operator
// can act on, or "".
func hintFor(err error) string {
	switch {
	case errors.Is(err, errclass.ErrAuditIO):
		return fmt.Sprintf("Run %s to produce a fresh report.", color.Code("hookctl audit"))
	case errors.Is(err, errclass.ErrRestoreSourceMissing):
		return fmt.Sprintf("Run %s to see what can be restored.", color.Code("hookctl trash list"))
	case errors.Is(err, errclass.ErrRestoreConflict):
		return "Move or rename the existing hook first; restore never overwrites."
	case errors.Is(err, errclass.ErrLockConflict):
		return fmt.Sprintf("Wait for the other run to finish, or run %s if it crashed.", color.Code("hookctl doctor --repair"))
	case errors.Is(err, errclass.ErrConfig):
		return fmt.Sprintf("Run %s to check the project layout.", color.Code("hookctl doctor"))
	}
	return ""
}
