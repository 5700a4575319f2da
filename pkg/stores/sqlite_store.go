package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/groundworkhq/groundwork/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// execer is satisfied by both *sql.DB and *sql.Tx so inserts can run
// standalone or inside a restore transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool. An in-memory database is private to a
	// single connection, so the pool must not grow beyond one.
	if s.cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// BeginTx starts a new serializable transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// LoadObservedState reads the full observed resource snapshot.
func (s *SQLiteStore) LoadObservedState(ctx context.Context) (*engine.ObservedState, error) {
	query := `
		SELECT id, kind, provider_id, status, properties, computed, depends_on, updated_at
		FROM resources
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := engine.NewObservedState()
	for rows.Next() {
		resource, err := scanObservedResource(rows)
		if err != nil {
			return nil, err
		}
		state.Put(resource)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}

	return state, nil
}

// SaveObservedResource upserts the observed snapshot of a single resource.
func (s *SQLiteStore) SaveObservedResource(ctx context.Context, resource *engine.ObservedResource) error {
	return s.insertObservedResource(ctx, s.db, resource)
}

func (s *SQLiteStore) insertObservedResource(ctx context.Context, ex execer, resource *engine.ObservedResource) error {
	propsJSON, err := json.Marshal(resource.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	computedJSON, err := json.Marshal(resource.Computed)
	if err != nil {
		return fmt.Errorf("failed to marshal computed: %w", err)
	}
	dependsJSON, err := json.Marshal(resource.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}

	query := `
		INSERT INTO resources (id, kind, provider_id, status, properties, computed, depends_on, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			provider_id = excluded.provider_id,
			status = excluded.status,
			properties = excluded.properties,
			computed = excluded.computed,
			depends_on = excluded.depends_on,
			updated_at = excluded.updated_at
	`

	_, err = ex.ExecContext(ctx, query,
		resource.ID,
		string(resource.Kind),
		resource.ProviderID,
		string(resource.Status),
		string(propsJSON),
		string(computedJSON),
		string(dependsJSON),
		resource.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save resource %s: %w", resource.ID, err)
	}

	return nil
}

// DeleteObservedResource removes the observed snapshot of a resource.
// Deleting a resource that is not tracked is not an error; the drift
// refresher deletes resources that already vanished from the provider.
func (s *SQLiteStore) DeleteObservedResource(ctx context.Context, resourceID string) error {
	query := `DELETE FROM resources WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, resourceID); err != nil {
		return fmt.Errorf("failed to delete resource %s: %w", resourceID, err)
	}

	return nil
}

// SavePlan upserts a plan, keyed by plan ID.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.Plan) error {
	return s.insertPlan(ctx, s.db, plan)
}

func (s *SQLiteStore) insertPlan(ctx context.Context, ex execer, plan *engine.Plan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	query := `
		INSERT INTO plans (id, created_at, total_resources, to_create, to_update, to_delete, to_replace, no_change, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			total_resources = excluded.total_resources,
			to_create = excluded.to_create,
			to_update = excluded.to_update,
			to_delete = excluded.to_delete,
			to_replace = excluded.to_replace,
			no_change = excluded.no_change,
			payload = excluded.payload
	`

	_, err = ex.ExecContext(ctx, query,
		plan.ID,
		plan.CreatedAt.UTC(),
		plan.Summary.TotalResources,
		plan.Summary.ToCreate,
		plan.Summary.ToUpdate,
		plan.Summary.ToDelete,
		plan.Summary.ToReplace,
		plan.Summary.NoChange,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.ID, err)
	}

	return nil
}

// GetPlan retrieves a stored plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*engine.Plan, error) {
	query := `SELECT payload FROM plans WHERE id = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	var plan engine.Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", id, err)
	}

	return &plan, nil
}

// LatestPlan returns the most recently created plan, or nil when no
// plans are stored.
func (s *SQLiteStore) LatestPlan(ctx context.Context) (*engine.Plan, error) {
	query := `SELECT payload FROM plans ORDER BY created_at DESC, id DESC LIMIT 1`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plan: %w", err)
	}

	var plan engine.Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}

	return &plan, nil
}

// ListPlans returns stored plans newest first. A negative limit returns
// all plans.
func (s *SQLiteStore) ListPlans(ctx context.Context, limit, offset int) ([]*engine.Plan, error) {
	query := `SELECT payload FROM plans ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*engine.Plan
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		var plan engine.Plan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
		plans = append(plans, &plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}

	return plans, nil
}

// SaveApplyReport upserts an apply report, keyed by run ID.
func (s *SQLiteStore) SaveApplyReport(ctx context.Context, report *engine.ApplyReport) error {
	return s.insertApplyReport(ctx, s.db, report)
}

func (s *SQLiteStore) insertApplyReport(ctx context.Context, ex execer, report *engine.ApplyReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal apply report: %w", err)
	}

	query := `
		INSERT INTO apply_reports (run_id, plan_id, status, started_at, completed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			payload = excluded.payload
	`

	_, err = ex.ExecContext(ctx, query,
		report.RunID,
		report.PlanID,
		string(report.Status),
		report.StartedAt.UTC(),
		report.CompletedAt.UTC(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save apply report %s: %w", report.RunID, err)
	}

	return nil
}

// GetApplyReport retrieves an apply report by run ID.
func (s *SQLiteStore) GetApplyReport(ctx context.Context, runID string) (*engine.ApplyReport, error) {
	query := `SELECT payload FROM apply_reports WHERE run_id = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("apply report not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get apply report: %w", err)
	}

	var report engine.ApplyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal apply report %s: %w", runID, err)
	}

	return &report, nil
}

// ListApplyReports returns apply reports newest first. A negative limit
// returns all reports.
func (s *SQLiteStore) ListApplyReports(ctx context.Context, limit, offset int) ([]*engine.ApplyReport, error) {
	query := `SELECT payload FROM apply_reports ORDER BY started_at DESC, run_id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list apply reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*engine.ApplyReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan apply report: %w", err)
		}
		var report engine.ApplyReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal apply report: %w", err)
		}
		reports = append(reports, &report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apply reports: %w", err)
	}

	return reports, nil
}

// SaveTaskReport upserts a task run report, keyed by run ID.
func (s *SQLiteStore) SaveTaskReport(ctx context.Context, report *engine.TaskReport) error {
	return s.insertTaskReport(ctx, s.db, report)
}

func (s *SQLiteStore) insertTaskReport(ctx context.Context, ex execer, report *engine.TaskReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal task report: %w", err)
	}

	query := `
		INSERT INTO task_reports (run_id, task_list, status, started_at, completed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			task_list = excluded.task_list,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			payload = excluded.payload
	`

	_, err = ex.ExecContext(ctx, query,
		report.RunID,
		report.TaskList,
		string(report.Status),
		report.StartedAt.UTC(),
		report.CompletedAt.UTC(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save task report %s: %w", report.RunID, err)
	}

	return nil
}

// GetTaskReport retrieves a task run report by run ID.
func (s *SQLiteStore) GetTaskReport(ctx context.Context, runID string) (*engine.TaskReport, error) {
	query := `SELECT payload FROM task_reports WHERE run_id = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task report not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task report: %w", err)
	}

	var report engine.TaskReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task report %s: %w", runID, err)
	}

	return &report, nil
}

// ListTaskReports returns task run reports newest first. A negative
// limit returns all reports.
func (s *SQLiteStore) ListTaskReports(ctx context.Context, limit, offset int) ([]*engine.TaskReport, error) {
	query := `SELECT payload FROM task_reports ORDER BY started_at DESC, run_id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list task reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*engine.TaskReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan task report: %w", err)
		}
		var report engine.TaskReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task report: %w", err)
		}
		reports = append(reports, &report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task reports: %w", err)
	}

	return reports, nil
}

// SaveFacts upserts the cached facts for a host.
func (s *SQLiteStore) SaveFacts(ctx context.Context, facts *engine.Facts) error {
	return s.insertFacts(ctx, s.db, facts)
}

func (s *SQLiteStore) insertFacts(ctx context.Context, ex execer, facts *engine.Facts) error {
	payload, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts: %w", err)
	}

	query := `
		INSERT INTO facts (host, collected_at, ttl_seconds, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			collected_at = excluded.collected_at,
			ttl_seconds = excluded.ttl_seconds,
			payload = excluded.payload
	`

	_, err = ex.ExecContext(ctx, query,
		facts.Host,
		facts.CollectedAt.UTC(),
		int64(facts.TTL/time.Second),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save facts for %s: %w", facts.Host, err)
	}

	return nil
}

// GetFacts returns the cached facts for a host, or nil when absent.
func (s *SQLiteStore) GetFacts(ctx context.Context, host string) (*engine.Facts, error) {
	query := `SELECT payload FROM facts WHERE host = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, host).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}

	var facts engine.Facts
	if err := json.Unmarshal(payload, &facts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal facts for %s: %w", host, err)
	}

	return &facts, nil
}

// ListFacts returns the cached facts for all hosts, ordered by host name.
func (s *SQLiteStore) ListFacts(ctx context.Context) ([]*engine.Facts, error) {
	query := `SELECT payload FROM facts ORDER BY host`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []*engine.Facts
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan facts: %w", err)
		}
		var facts engine.Facts
		if err := json.Unmarshal(payload, &facts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal facts: %w", err)
		}
		all = append(all, &facts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}

	return all, nil
}

// AppendEvent appends an event to the persisted timeline. A missing
// event ID, timestamp, or level is filled in before insertion.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = "info"
	}

	return s.insertEvent(ctx, s.db, event)
}

func (s *SQLiteStore) insertEvent(ctx context.Context, ex execer, event *engine.Event) error {
	var detailsJSON interface{}
	if event.Details != nil {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
		detailsJSON = string(data)
	}

	query := `
		INSERT INTO events (event_id, type, level, run_id, resource_id, host, task, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Level,
		event.RunID,
		event.ResourceID,
		event.Host,
		event.Task,
		event.Message,
		detailsJSON,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents returns persisted events in insertion order, optionally
// filtered by run ID and resource ID. A negative limit returns all
// matching events.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID, resourceID *string, limit, offset int) ([]*engine.Event, error) {
	query := `
		SELECT event_id, type, level, run_id, resource_id, host, task, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR resource_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, resourceID, resourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*engine.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// allEvents reads the complete event timeline for a backup snapshot.
func (s *SQLiteStore) allEvents(ctx context.Context) ([]*engine.Event, error) {
	return s.ListEvents(ctx, nil, nil, -1, 0)
}

func scanObservedResource(rows *sql.Rows) (*engine.ObservedResource, error) {
	var (
		resource     engine.ObservedResource
		kind         string
		status       string
		propsJSON    []byte
		computedJSON []byte
		dependsJSON  []byte
	)

	err := rows.Scan(
		&resource.ID,
		&kind,
		&resource.ProviderID,
		&status,
		&propsJSON,
		&computedJSON,
		&dependsJSON,
		&resource.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}

	resource.Kind = engine.Kind(kind)
	resource.Status = engine.ResourceStatus(status)

	if err := json.Unmarshal(propsJSON, &resource.Properties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties for %s: %w", resource.ID, err)
	}
	if err := json.Unmarshal(computedJSON, &resource.Computed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal computed for %s: %w", resource.ID, err)
	}
	if err := json.Unmarshal(dependsJSON, &resource.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal depends_on for %s: %w", resource.ID, err)
	}

	return &resource, nil
}

func scanEvent(rows *sql.Rows) (*engine.Event, error) {
	var (
		event       engine.Event
		eventType   string
		detailsJSON sql.NullString
	)

	err := rows.Scan(
		&event.ID,
		&eventType,
		&event.Level,
		&event.RunID,
		&event.ResourceID,
		&event.Host,
		&event.Task,
		&event.Message,
		&detailsJSON,
		&event.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = engine.EventType(eventType)

	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}

	return &event, nil
}
