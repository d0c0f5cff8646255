package domain

import "time"

// OutputRef points at a cached copy of one output file in the blob store.
type OutputRef struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Size   int64  `json:"size,omitzero"`
}

// Entry is one fingerprint cache record for a target.
// It is written after a successful build and fully replaced, never merged,
// by the next successful build of the same target.
type Entry struct {
	TargetName  string      `json:"target_name,omitzero"`
	Fingerprint string      `json:"fingerprint,omitzero"`
	OutputHash  string      `json:"output_hash,omitzero"`
	Outputs     []OutputRef `json:"outputs,omitempty"`
	Timestamp   time.Time   `json:"timestamp,omitzero"`
}
