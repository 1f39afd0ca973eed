// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides service/tool persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// pathLocks serializes mutations per service path. SQLite gives us
	// transactional safety; this gives read-modify-write operations like
	// Toggle a stable ordering per path without a store-wide lock.
	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		logger:    logger,
		pathLocks: make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS services (
			path                 TEXT PRIMARY KEY,
			display_name         TEXT NOT NULL,
			proxy_target_url     TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			tags_json            TEXT NOT NULL DEFAULT '[]',
			tool_count           INTEGER NOT NULL DEFAULT 0,
			star_rating          INTEGER NOT NULL DEFAULT 0,
			license              TEXT NOT NULL DEFAULT 'N/A',
			is_python            INTEGER NOT NULL DEFAULT 0,
			enabled              INTEGER NOT NULL DEFAULT 1,
			health_status        TEXT NOT NULL DEFAULT 'unknown',
			last_health_check_at DATETIME,
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL,

			CHECK (health_status IN ('unknown', 'healthy', 'unhealthy'))
		);

		CREATE INDEX IF NOT EXISTS idx_services_enabled ON services(enabled);

		CREATE TABLE IF NOT EXISTS tools (
			service_path      TEXT NOT NULL,
			position          INTEGER NOT NULL,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			input_schema_json TEXT,
			tags_json         TEXT NOT NULL DEFAULT '[]',

			PRIMARY KEY (service_path, name),
			FOREIGN KEY (service_path) REFERENCES services(path) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tools_service ON tools(service_path, position);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// lockPath acquires the mutation lock for a single service path.
// Returns the unlock function.
func (s *SQLiteStore) lockPath(path string) func() {
	s.mu.Lock()
	l, ok := s.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.pathLocks[path] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Register inserts a new service record after validation, applying
// defaults for optional fields.
func (s *SQLiteStore) Register(ctx context.Context, record *ServiceRecord) (*ServiceRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lockPath(record.Path)
	defer unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM services WHERE path = ?`, record.Path).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking existing path: %w", err)
	}
	if exists > 0 {
		return nil, ErrDuplicatePath
	}

	stored := *record
	stored.applyDefaults()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	// New registrations start enabled; Toggle is the only way to disable.
	stored.Enabled = true
	stored.HealthStatus = HealthUnknown
	stored.LastHealthCheckAt = nil
	if len(stored.ToolCatalog) > 0 {
		stored.ToolCount = len(stored.ToolCatalog)
	}

	tagsJSON, err := json.Marshal(stored.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services (
			path, display_name, proxy_target_url, description, tags_json,
			tool_count, star_rating, license, is_python, enabled,
			health_status, last_health_check_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		stored.Path, stored.DisplayName, stored.ProxyTargetURL, stored.Description, string(tagsJSON),
		stored.ToolCount, stored.StarRating, stored.License, boolToInt(stored.IsPython), boolToInt(stored.Enabled),
		string(stored.HealthStatus), stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting service: %w", err)
	}

	if len(stored.ToolCatalog) > 0 {
		if err := s.writeCatalog(ctx, stored.Path, stored.ToolCatalog); err != nil {
			return nil, err
		}
	}

	s.logger.Info("service registered", "path", stored.Path, "target", stored.ProxyTargetURL)
	return &stored, nil
}

// Remove deletes a service. The tools table cascades.
func (s *SQLiteStore) Remove(ctx context.Context, path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("deleting service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Info("service removed", "path", path)
	return nil
}

// Toggle flips the enabled flag. Re-enabling resets health status to
// unknown so the next monitor tick re-evaluates the service.
func (s *SQLiteStore) Toggle(ctx context.Context, path string) (bool, error) {
	unlock := s.lockPath(path)
	defer unlock()

	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM services WHERE path = ?`, path).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading enabled flag: %w", err)
	}

	newEnabled := enabled == 0
	now := time.Now().UTC()
	if newEnabled {
		_, err = s.db.ExecContext(ctx,
			`UPDATE services SET enabled = 1, health_status = ?, updated_at = ? WHERE path = ?`,
			string(HealthUnknown), now, path)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE services SET enabled = 0, updated_at = ? WHERE path = ?`,
			now, path)
	}
	if err != nil {
		return false, fmt.Errorf("updating enabled flag: %w", err)
	}

	s.logger.Info("service toggled", "path", path, "enabled", newEnabled)
	return newEnabled, nil
}

// Get returns the service registered at path, including its cached
// tool catalog.
func (s *SQLiteStore) Get(ctx context.Context, path string) (*ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, display_name, proxy_target_url, description, tags_json,
		       tool_count, star_rating, license, is_python, enabled,
		       health_status, last_health_check_at, created_at, updated_at
		FROM services WHERE path = ?`, path)

	record, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading service: %w", err)
	}

	catalog, err := s.readCatalog(ctx, path)
	if err != nil {
		return nil, err
	}
	record.ToolCatalog = catalog
	return record, nil
}

// List returns services matching the filter in stable path order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*ServiceRecord, error) {
	query := `
		SELECT path, display_name, proxy_target_url, description, tags_json,
		       tool_count, star_rating, license, is_python, enabled,
		       health_status, last_health_check_at, created_at, updated_at
		FROM services`
	var args []any
	if filter.EnabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var records []*ServiceRecord
	for rows.Next() {
		record, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		if filter.Tag != "" && !record.HasTag(filter.Tag) {
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}

	for _, record := range records {
		catalog, err := s.readCatalog(ctx, record.Path)
		if err != nil {
			return nil, err
		}
		record.ToolCatalog = catalog
	}
	return records, nil
}

// UpdateHealth writes only the health fields. Field-level ownership:
// this is the single write path the health monitor uses.
func (s *SQLiteStore) UpdateHealth(ctx context.Context, path string, status HealthStatus, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET health_status = ?, last_health_check_at = ? WHERE path = ?`,
		string(status), checkedAt.UTC(), path)
	if err != nil {
		return fmt.Errorf("updating health: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking health update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceToolCatalog swaps the cached catalog and tool count in one
// transaction. Field-level ownership: the single write path the tool
// index uses.
func (s *SQLiteStore) ReplaceToolCatalog(ctx context.Context, path string, tools []ToolDescriptor) error {
	unlock := s.lockPath(path)
	defer unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM services WHERE path = ?`, path).Scan(&exists); err != nil {
		return fmt.Errorf("checking service: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE service_path = ?`, path); err != nil {
		return fmt.Errorf("clearing catalog: %w", err)
	}

	for i, tool := range tools {
		var schemaJSON sql.NullString
		if tool.InputSchema != nil {
			b, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return fmt.Errorf("encoding tool schema: %w", err)
			}
			schemaJSON = sql.NullString{String: string(b), Valid: true}
		}
		tagsJSON, err := json.Marshal(tool.Tags)
		if err != nil {
			return fmt.Errorf("encoding tool tags: %w", err)
		}
		if tool.Tags == nil {
			tagsJSON = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tools (service_path, position, name, description, input_schema_json, tags_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			path, i, tool.Name, tool.Description, schemaJSON, string(tagsJSON))
		if err != nil {
			return fmt.Errorf("inserting tool %q: %w", tool.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE services SET tool_count = ?, updated_at = ? WHERE path = ?`,
		len(tools), time.Now().UTC(), path)
	if err != nil {
		return fmt.Errorf("updating tool count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// writeCatalog inserts a catalog for a freshly registered service.
func (s *SQLiteStore) writeCatalog(ctx context.Context, path string, tools []ToolDescriptor) error {
	// Register holds the path lock already; ReplaceToolCatalog would
	// deadlock on it, so insert directly.
	for i, tool := range tools {
		var schemaJSON sql.NullString
		if tool.InputSchema != nil {
			b, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return fmt.Errorf("encoding tool schema: %w", err)
			}
			schemaJSON = sql.NullString{String: string(b), Valid: true}
		}
		tagsJSON, err := json.Marshal(tool.Tags)
		if err != nil {
			return fmt.Errorf("encoding tool tags: %w", err)
		}
		if tool.Tags == nil {
			tagsJSON = []byte("[]")
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO tools (service_path, position, name, description, input_schema_json, tags_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			path, i, tool.Name, tool.Description, schemaJSON, string(tagsJSON))
		if err != nil {
			return fmt.Errorf("inserting tool %q: %w", tool.Name, err)
		}
	}
	return nil
}

// readCatalog loads the ordered tool catalog for a service.
func (s *SQLiteStore) readCatalog(ctx context.Context, path string) ([]ToolDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, input_schema_json, tags_json
		FROM tools WHERE service_path = ? ORDER BY position`, path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	defer rows.Close()

	var tools []ToolDescriptor
	for rows.Next() {
		var tool ToolDescriptor
		var schemaJSON sql.NullString
		var tagsJSON string
		if err := rows.Scan(&tool.Name, &tool.Description, &schemaJSON, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		if schemaJSON.Valid {
			if err := json.Unmarshal([]byte(schemaJSON.String), &tool.InputSchema); err != nil {
				return nil, fmt.Errorf("decoding tool schema: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(tagsJSON), &tool.Tags); err != nil {
			return nil, fmt.Errorf("decoding tool tags: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tools: %w", err)
	}
	return tools, nil
}

// scanService scans one services row into a ServiceRecord.
func scanService(row interface{ Scan(...any) error }) (*ServiceRecord, error) {
	var record ServiceRecord
	var tagsJSON, healthStatus string
	var isPython, enabled int
	var lastCheck sql.NullTime

	err := row.Scan(
		&record.Path, &record.DisplayName, &record.ProxyTargetURL, &record.Description, &tagsJSON,
		&record.ToolCount, &record.StarRating, &record.License, &isPython, &enabled,
		&healthStatus, &lastCheck, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &record.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	record.IsPython = isPython != 0
	record.Enabled = enabled != 0
	record.HealthStatus = HealthStatus(healthStatus)
	if lastCheck.Valid {
		t := lastCheck.Time
		record.LastHealthCheckAt = &t
	}
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
