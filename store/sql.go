package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// Dialect selects the SQL flavour spoken by a SQLStore.
type Dialect string

const (
	// DialectSQLite targets modernc.org/sqlite (driver name "sqlite").
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres targets github.com/lib/pq (driver name "postgres").
	DialectPostgres Dialect = "postgres"
)

// Extended sqlite result codes for constraint violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// SQLOptions configure a SQLStore.
type SQLOptions struct {
	Dialect         Dialect
	Logger          logging.Logger
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// SQLStore implements core.Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  logging.Logger
	now     func() time.Time
}

var _ core.Store = (*SQLStore)(nil)

func defaultSQLOptions() SQLOptions {
	return SQLOptions{
		Dialect:         DialectSQLite,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// OpenSQLite opens (and pings) a SQLite database, e.g. "file:agentgraph.db"
// or ":memory:".
func OpenSQLite(dsn string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	return open(string(DialectSQLite), dsn, append([]func(o *SQLOptions){func(o *SQLOptions) {
		o.Dialect = DialectSQLite
		// writers are serialized and :memory: databases live per connection
		o.MaxOpenConns = 1
	}}, optFns...)...)
}

// OpenPostgres opens (and pings) a PostgreSQL database from a DSN or URL.
func OpenPostgres(dsn string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	return open(string(DialectPostgres), dsn, append([]func(o *SQLOptions){func(o *SQLOptions) {
		o.Dialect = DialectPostgres
	}}, optFns...)...)
}

func open(driver, dsn string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	opts := defaultSQLOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, func(o *SQLOptions) { *o = opts }), nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, optFns ...func(o *SQLOptions)) *SQLStore {
	opts := defaultSQLOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &SQLStore{
		db:      db,
		dialect: opts.Dialect,
		logger:  logging.OrNoOp(opts.Logger),
		now:     time.Now,
	}
}

// DB exposes the underlying database connection.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		graph_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_context ON tasks (context_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		role TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		text TEXT NOT NULL,
		parts TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		active_agent_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		tool_call_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		graph_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		summary TEXT,
		full_data TEXT,
		metadata TEXT,
		pending_generation BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (artifact_id, task_id, tool_call_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts (task_id)`,
	`CREATE TABLE IF NOT EXISTS graphs (
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		graph_id TEXT NOT NULL,
		config TEXT NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		models TEXT
	)`,
}

// Migrate creates the tables used by the store if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	s.logger.Debug("schema migrated", "dialect", string(s.dialect), "statements", len(schemaStatements))
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint violation for either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

// CreateTask inserts t; a duplicate id yields core.ErrAlreadyExists.
func (s *SQLStore) CreateTask(ctx context.Context, t *core.Task) error {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (id, tenant_id, project_id, graph_id, context_id, agent_id, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Scope.TenantID, t.Scope.ProjectID, t.Scope.GraphID, t.ContextID, t.AgentID,
		string(t.Status), meta, created, created,
	)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, tenant_id, project_id, graph_id, context_id, agent_id, status, metadata, created_at, updated_at
		FROM tasks WHERE id = ?`), id)

	var (
		t      core.Task
		status string
		meta   sql.NullString
	)
	err := row.Scan(&t.ID, &t.Scope.TenantID, &t.Scope.ProjectID, &t.Scope.GraphID, &t.ContextID,
		&t.AgentID, &status, &meta, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t.Status = core.TaskStatus(status)
	if t.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask applies a status transition and merges metadata in one
// transaction.
func (s *SQLStore) UpdateTask(ctx context.Context, id string, u core.TaskUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status string
		meta   sql.NullString
	)
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status, metadata FROM tasks WHERE id = ?`), id).Scan(&status, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	merged, err := decodeMap(meta)
	if err != nil {
		return err
	}
	if merged == nil && len(u.Metadata) > 0 {
		merged = make(map[string]any, len(u.Metadata))
	}
	for k, v := range u.Metadata {
		merged[k] = v
	}
	if u.Status != "" {
		status = string(u.Status)
	}
	encoded, err := encodeJSON(merged)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET status = ?, metadata = ?, updated_at = ? WHERE id = ?`),
		status, encoded, s.now(), id); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return tx.Commit()
}

// ListTaskIDsByContext returns the task ids of a context ordered by creation.
func (s *SQLStore) ListTaskIDsByContext(ctx context.Context, contextID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id FROM tasks WHERE context_id = ? ORDER BY created_at, id`), contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateMessage inserts a message.
func (s *SQLStore) CreateMessage(ctx context.Context, m *core.Message) error {
	parts, err := core.MarshalParts(m.Parts)
	if err != nil {
		return err
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, conversation_id, task_id, role, agent_id, text, parts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.ConversationID, m.TaskID, m.Role, m.AgentID, m.Text, string(parts), created,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns the latest limit messages in chronological order.
// limit <= 0 returns every message.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	query := `SELECT id, conversation_id, task_id, role, agent_id, text, parts, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var (
			m     core.Message
			parts sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TaskID, &m.Role, &m.AgentID, &m.Text, &parts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if parts.Valid {
			if m.Parts, err = core.UnmarshalParts([]byte(parts.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetActiveAgent returns the active agent of a conversation or "".
func (s *SQLStore) GetActiveAgent(ctx context.Context, conversationID string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT active_agent_id FROM conversations WHERE id = ?`), conversationID).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active agent: %w", err)
	}
	return agentID, nil
}

// SetActiveAgent upserts the conversation's active agent.
func (s *SQLStore) SetActiveAgent(ctx context.Context, conversationID, agentID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, active_agent_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET active_agent_id = excluded.active_agent_id, updated_at = excluded.updated_at`),
		conversationID, agentID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to set active agent: %w", err)
	}
	return nil
}

const artifactColumns = `artifact_id, task_id, tool_call_id, context_id, tenant_id, project_id, graph_id,
	type, name, description, summary, full_data, metadata, pending_generation, created_at`

func artifactArgs(a *core.Artifact) ([]any, error) {
	summary, err := encodeJSON(a.Summary)
	if err != nil {
		return nil, err
	}
	full, err := encodeJSON(a.Full)
	if err != nil {
		return nil, err
	}
	meta, err := encodeJSON(a.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		a.ArtifactID, a.TaskID, a.ToolCallID, a.ContextID, a.Scope.TenantID, a.Scope.ProjectID, a.Scope.GraphID,
		a.Type, a.Name, a.Description, summary, full, meta, a.PendingGeneration, a.CreatedAt,
	}, nil
}

// CreateArtifact inserts a; an existing key yields core.ErrAlreadyExists.
func (s *SQLStore) CreateArtifact(ctx context.Context, a *core.Artifact) error {
	args, err := artifactArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), args...)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

// UpsertArtifact inserts or replaces a.
func (s *SQLStore) UpsertArtifact(ctx context.Context, a *core.Artifact) error {
	args, err := artifactArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (artifact_id, task_id, tool_call_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			summary = excluded.summary,
			full_data = excluded.full_data,
			metadata = excluded.metadata,
			pending_generation = excluded.pending_generation`), args...)
	if err != nil {
		return fmt.Errorf("failed to upsert artifact: %w", err)
	}
	return nil
}

// GetArtifacts returns the artifacts stored under (artifactID, taskID). An
// empty taskID matches any task.
func (s *SQLStore) GetArtifacts(ctx context.Context, artifactID, taskID string) ([]*core.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE artifact_id = ?`
	args := []any{artifactID}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	return s.queryArtifacts(ctx, query+` ORDER BY created_at, tool_call_id`, args...)
}

// ListArtifactsByTask returns every artifact of a task.
func (s *SQLStore) ListArtifactsByTask(ctx context.Context, taskID string) ([]*core.Artifact, error) {
	return s.queryArtifacts(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE task_id = ? ORDER BY created_at, artifact_id`, taskID)
}

func (s *SQLStore) queryArtifacts(ctx context.Context, query string, args ...any) ([]*core.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var out []*core.Artifact
	for rows.Next() {
		var a core.Artifact
		var summary, full, meta sql.NullString
		if err := rows.Scan(&a.ArtifactID, &a.TaskID, &a.ToolCallID, &a.ContextID,
			&a.Scope.TenantID, &a.Scope.ProjectID, &a.Scope.GraphID,
			&a.Type, &a.Name, &a.Description, &summary, &full, &meta, &a.PendingGeneration, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if a.Summary, err = decodeMap(summary); err != nil {
			return nil, err
		}
		if a.Full, err = decodeMap(full); err != nil {
			return nil, err
		}
		if a.Metadata, err = decodeMap(meta); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// PutGraph upserts a graph configuration.
func (s *SQLStore) PutGraph(ctx context.Context, scope core.Scope, cfg core.GraphConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode graph config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO graphs (tenant_id, project_id, graph_id, config) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, project_id, graph_id) DO UPDATE SET config = excluded.config`),
		scope.TenantID, scope.ProjectID, scope.GraphID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to put graph: %w", err)
	}
	return nil
}

// GetGraphConfig loads the configuration of the graph addressed by scope.
func (s *SQLStore) GetGraphConfig(ctx context.Context, scope core.Scope) (*core.GraphConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT config FROM graphs WHERE tenant_id = ? AND project_id = ? AND graph_id = ?`),
		scope.TenantID, scope.ProjectID, scope.GraphID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}
	var cfg core.GraphConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode graph config: %w", err)
	}
	return &cfg, nil
}

// PutAgent upserts an agent configuration.
func (s *SQLStore) PutAgent(ctx context.Context, cfg core.AgentConfig) error {
	models, err := encodeJSON(cfg.Models)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO agents (id, name, description, models) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description, models = excluded.models`),
		cfg.ID, cfg.Name, cfg.Description, models,
	)
	if err != nil {
		return fmt.Errorf("failed to put agent: %w", err)
	}
	return nil
}

// GetAgent loads an agent configuration.
func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (*core.AgentConfig, error) {
	var (
		cfg    core.AgentConfig
		models sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, description, models FROM agents WHERE id = ?`), agentID).
		Scan(&cfg.ID, &cfg.Name, &cfg.Description, &models)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if models.Valid && models.String != "" {
		if err := json.Unmarshal([]byte(models.String), &cfg.Models); err != nil {
			return nil, fmt.Errorf("failed to decode agent models: %w", err)
		}
	}
	return &cfg, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(raw) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return m, nil
}
