package model

import "time"

// TrashEntry is a file in the flat trash directory, keyed by basename.
// Its mtime is the time it was backed up.
type TrashEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// SweepResult reports one trash expiry pass.
type SweepResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Expired  []string  `json:"expired"`
	Retained int       `json:"retained"`
	Failed   []string  `json:"failed,omitempty"`
	DryRun   bool      `json:"dryRun"`
}
