package stores

import (
	"context"
	"time"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the full persistence contract: the engine's StateStore plus
// the lifecycle and query operations the CLI uses.
type Store interface {
	engine.StateStore

	// Init opens the database connection.
	Init(ctx context.Context) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// HealthCheck verifies the database connection is alive.
	HealthCheck(ctx context.Context) error

	// GetPlan retrieves a stored plan by ID.
	GetPlan(ctx context.Context, id string) (*engine.Plan, error)

	// LatestPlan returns the most recently created plan, or nil when no
	// plans are stored.
	LatestPlan(ctx context.Context) (*engine.Plan, error)

	// ListPlans returns stored plans newest first. A negative limit
	// returns all plans.
	ListPlans(ctx context.Context, limit, offset int) ([]*engine.Plan, error)

	// GetApplyReport retrieves an apply report by run ID.
	GetApplyReport(ctx context.Context, runID string) (*engine.ApplyReport, error)

	// ListApplyReports returns apply reports newest first. A negative
	// limit returns all reports.
	ListApplyReports(ctx context.Context, limit, offset int) ([]*engine.ApplyReport, error)

	// GetTaskReport retrieves a task run report by run ID.
	GetTaskReport(ctx context.Context, runID string) (*engine.TaskReport, error)

	// ListTaskReports returns task run reports newest first. A negative
	// limit returns all reports.
	ListTaskReports(ctx context.Context, limit, offset int) ([]*engine.TaskReport, error)

	// ListEvents returns persisted events in insertion order, optionally
	// filtered by run ID and resource ID. A negative limit returns all
	// matching events.
	ListEvents(ctx context.Context, runID, resourceID *string, limit, offset int) ([]*engine.Event, error)

	// ListFacts returns the cached facts for all hosts, ordered by host name.
	ListFacts(ctx context.Context) ([]*engine.Facts, error)
}
