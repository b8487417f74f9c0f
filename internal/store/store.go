package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mailaudit/mailaudit/internal/model"
)

// Sentinel errors for the typed failure taxonomy. Storage-engine error codes
// are translated into these at this boundary and never escape the package.
var (
	// ErrNotFound is returned when a domain or run does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunInFlight is returned when a run for the same (domain, kind) is
	// already pending or running.
	ErrRunInFlight = errors.New("run already in flight for domain and kind")

	// ErrDuplicateDomain is returned when an active domain with the same
	// (owner, name) already exists.
	ErrDuplicateDomain = errors.New("domain already registered")

	// ErrInvalidState is returned when a conditional update finds the run in
	// a state that does not permit the transition.
	ErrInvalidState = errors.New("run is not in a state that permits this operation")
)

// RunFilter narrows ListRunsForOwner results. Zero values mean "any".
type RunFilter struct {
	DomainID string
	Kind     model.CheckKind
	Status   string
}

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgScore      float64        `json:"avg_score"`
}

// Store defines the persistence operations for domains and runs.
//
// Implementations must enforce two uniqueness invariants atomically:
// at most one active domain per (owner, name), and at most one run in a
// non-terminal status per (domain, kind).
type Store interface {
	CreateDomain(ctx context.Context, d *model.Domain) error
	GetDomain(ctx context.Context, id string) (*model.Domain, error)
	ListDomains(ctx context.Context, ownerID string) ([]*model.Domain, error)
	DeactivateDomain(ctx context.Context, id string) error

	// CreateRun inserts a pending run. It returns ErrRunInFlight when another
	// run for the same (domain, kind) is still pending or running.
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// GetInFlightRun returns the pending or running run for (domain, kind),
	// or ErrNotFound when none is in flight.
	GetInFlightRun(ctx context.Context, domainID string, kind model.CheckKind) (*model.Run, error)
	// MarkRunning transitions a pending run to running and stamps its
	// execution time. Returns ErrInvalidState if the run is not pending.
	MarkRunning(ctx context.Context, id string) error
	// CompleteRun transitions a running run to completed with its outcome.
	CompleteRun(ctx context.Context, id string, raw json.RawMessage, score int, recommendations []string) error
	// FailRun transitions a pending or running run to failed with a reason.
	FailRun(ctx context.Context, id string, reason string) error
	// RearmRun resets a failed run to pending, clearing result, score,
	// recommendations and failure reason. Returns ErrInvalidState if the run
	// is not failed.
	RearmRun(ctx context.Context, id string) error

	ListRunsForOwner(ctx context.Context, ownerID string, f RunFilter, limit, offset int) ([]*model.Run, int, error)
	ListPendingRuns(ctx context.Context) ([]*model.Run, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
