package model

import (
	"encoding/json"
	"time"
)

// CheckKind identifies one of the supported email-authentication checks.
type CheckKind string

// Supported check kinds.
const (
	KindDMARC    CheckKind = "dmarc"
	KindSPF      CheckKind = "spf"
	KindDKIM     CheckKind = "dkim"
	KindMailEcho CheckKind = "mail_echo"
)

// Kinds lists every supported check kind in a stable order.
var Kinds = []CheckKind{KindDMARC, KindSPF, KindDKIM, KindMailEcho}

// ValidKind reports whether k is a supported check kind.
func ValidKind(k CheckKind) bool {
	switch k {
	case KindDMARC, KindSPF, KindDKIM, KindMailEcho:
		return true
	}
	return false
}

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// failed→pending is the explicit retry edge: it re-arms the same record rather
// than creating a new one. pending→failed exists only for runs whose execution
// could not start at all (the store rejected the running transition); without
// it such a run would be stranded in pending forever.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusPending: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a run in the given status can make no further
// progress on its own. A failed run may still be re-armed via retry.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Run is one point-in-time execution of a check against a domain.
// RawResult, Score and Recommendations are set only once the run completes;
// FailureReason only once it fails. The two outcomes are mutually exclusive.
type Run struct {
	ID              string          `json:"id"`
	DomainID        string          `json:"domain_id"`
	Kind            CheckKind       `json:"kind"`
	Status          string          `json:"status"`
	RawResult       json.RawMessage `json:"raw_result,omitempty"`
	Score           *int            `json:"score,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
