package model

import "time"

// LockRecord is stored in the single-instance lock file of the trash directory.
type LockRecord struct {
	HolderNonce string    `json:"holder_nonce"`
	PID         int       `json:"pid"`
	Host        string    `json:"host,omitempty"`
	Purpose     string    `json:"purpose,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired returns true if the lock has expired.
func (l *LockRecord) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockState describes the lock as observed.
type LockState string

const (
	LockStateFree    LockState = "free"
	LockStateHeld    LockState = "held"
	LockStateExpired LockState = "expired"
)
