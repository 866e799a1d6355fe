// Package model holds the persisted and reported data types of hookctl.
package model

import "time"

// AuditReport is a snapshot of which hook and manifest files had no textual
// references when the usage audit ran. Paths are project-root relative.
type AuditReport struct {
	Timestamp       time.Time                    `json:"timestamp"`
	UnusedHooks     []string                     `json:"unusedHooks"`
	UnusedManifests []string                     `json:"unusedManifests"`
	Fingerprint     string                       `json:"fingerprint,omitempty"`
	Metadata        map[string]CandidateMetadata `json:"metadata,omitempty"`
}

// CandidateMetadata carries the roles and lifecycle stages a file is bound to.
type CandidateMetadata struct {
	Roles  []string `json:"roles,omitempty"`
	Stages []string `json:"stages,omitempty"`
}

// HasRole reports whether role is one of the file's roles (exact match).
func (m CandidateMetadata) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// InAnyStage reports whether one of the file's stages is in stages.
func (m CandidateMetadata) InAnyStage(stages []string) bool {
	for _, s := range m.Stages {
		for _, want := range stages {
			if s == want {
				return true
			}
		}
	}
	return false
}
