// Package errclass defines the stable, machine-readable error classes of hookctl.
package errclass

import "fmt"

// HookError is a stable, machine-readable error class.
type HookError struct {
	Code    string
	Message string
}

func (e *HookError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HookError) Is(target error) bool {
	t, ok := target.(*HookError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new HookError with the same Code but a specific message.
func (e *HookError) WithMessage(msg string) *HookError {
	return &HookError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new HookError with a formatted message.
func (e *HookError) WithMessagef(format string, args ...any) *HookError {
	return &HookError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Fatal reports whether errors of this class abort the invoking command.
// Per-declaration and per-file classes are recorded and the batch continues.
func Fatal(err error) bool {
	for _, c := range fatalClasses {
		if is(err, c) {
			return true
		}
	}
	return false
}

func is(err error, class *HookError) bool {
	for err != nil {
		if he, ok := err.(*HookError); ok && he.Code == class.Code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	ErrConfig               = &HookError{Code: "E_CONFIG"}
	ErrSandboxViolation     = &HookError{Code: "E_SANDBOX_VIOLATION"}
	ErrInvalidHookExport    = &HookError{Code: "E_INVALID_HOOK_EXPORT"}
	ErrInvocation           = &HookError{Code: "E_INVOCATION"}
	ErrAuditIO              = &HookError{Code: "E_AUDIT_IO"}
	ErrConfirmationDeclined = &HookError{Code: "E_CONFIRMATION_DECLINED"}
	ErrBackupFailure        = &HookError{Code: "E_BACKUP_FAILURE"}
	ErrDeleteFailure        = &HookError{Code: "E_DELETE_FAILURE"}
	ErrRestoreSourceMissing = &HookError{Code: "E_RESTORE_SOURCE_MISSING"}
	ErrRestoreConflict      = &HookError{Code: "E_RESTORE_CONFLICT"}
	ErrNameInvalid          = &HookError{Code: "E_NAME_INVALID"}
	ErrUnknownEvent         = &HookError{Code: "E_UNKNOWN_EVENT"}
	ErrLockConflict         = &HookError{Code: "E_LOCK_CONFLICT"}
)

var fatalClasses = []*HookError{
	ErrConfig,
	ErrAuditIO,
	ErrRestoreSourceMissing,
	ErrRestoreConflict,
	ErrNameInvalid,
	ErrUnknownEvent,
	ErrLockConflict,
}
