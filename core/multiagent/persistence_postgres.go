package multiagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	hiveerrors "github.com/carabistouflette/hive/errors"
)

// PostgresConfig configures the PostgreSQL-backed PersistenceStore: its
// connection-pool and prepared-statement knobs, plus this engine's
// three-table layout.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	PreparedStmts    bool
	StatementTimeout time.Duration

	TasksTable        string
	DependenciesTable string
	SprintsTable      string
}

// DefaultPostgresConfig returns sensible defaults for local development.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:              "localhost",
		Port:              5432,
		Database:          "hive",
		User:              "hive",
		Password:          "hive",
		SSLMode:           "disable",
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		ConnMaxIdleTime:   1 * time.Minute,
		PreparedStmts:     true,
		StatementTimeout:  30 * time.Second,
		TasksTable:        "tasks",
		DependenciesTable: "task_dependencies",
		SprintsTable:      "sprints",
	}
}

// PostgresStore implements PersistenceStore against PostgreSQL: connection
// setup, prepared-statement handling, and JSON-blob marshal/unmarshal over
// this engine's own three-table schema.
type PostgresStore struct {
	config *PostgresConfig
	db     *sql.DB

	stmtSaveTask   *sql.Stmt
	stmtGetTask    *sql.Stmt
	stmtSaveEdge   *sql.Stmt
	stmtSaveSprint *sql.Stmt
	stmtGetSprint  *sql.Stmt
}

// NewPostgresStore opens a connection pool and, if configured, prepares the
// hot-path statements. The three tables are created if absent so a fresh
// database is usable without a separate migration step.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode,
	)
	if config.StatementTimeout > 0 {
		connStr += fmt.Sprintf(" statement_timeout=%d", config.StatementTimeout.Milliseconds())
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, hiveerrors.NewPersistenceError("store", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, hiveerrors.NewPersistenceError("store", "ping", err)
	}

	ps := &PostgresStore{config: config, db: db}

	if err := ps.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if config.PreparedStmts {
		if err := ps.prepareStatements(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return ps, nil
}

func (ps *PostgresStore) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			spec_blob TEXT NOT NULL,
			status TEXT NOT NULL,
			role TEXT,
			capability_id TEXT,
			inputs_blob TEXT,
			outputs_blob TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			retry_policy_blob TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			est_ms BIGINT,
			actual_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			assigned_agent_id TEXT,
			error_message TEXT,
			sprint_id TEXT
		)`, ps.config.TasksTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			condition_blob TEXT,
			data_mapping_blob TEXT
		)`, ps.config.DependenciesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			start_date TIMESTAMPTZ,
			end_date TIMESTAMPTZ,
			planned_blob TEXT,
			completed_blob TEXT,
			review_notes TEXT
		)`, ps.config.SprintsTable),
	}
	for _, s := range stmts {
		if _, err := ps.db.ExecContext(ctx, s); err != nil {
			return hiveerrors.NewPersistenceError("schema", "create", err)
		}
	}
	return nil
}

func (ps *PostgresStore) prepareStatements(ctx context.Context) error {
	var err error

	ps.stmtSaveTask, err = ps.db.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, name, description, spec_blob, status, role, capability_id,
			inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
			est_ms, actual_ms, created_at, updated_at, assigned_agent_id,
			error_message, sprint_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			spec_blob = EXCLUDED.spec_blob, status = EXCLUDED.status,
			role = EXCLUDED.role, capability_id = EXCLUDED.capability_id,
			inputs_blob = EXCLUDED.inputs_blob, outputs_blob = EXCLUDED.outputs_blob,
			retry_count = EXCLUDED.retry_count, retry_policy_blob = EXCLUDED.retry_policy_blob,
			priority = EXCLUDED.priority, est_ms = EXCLUDED.est_ms,
			actual_ms = EXCLUDED.actual_ms, updated_at = EXCLUDED.updated_at,
			assigned_agent_id = EXCLUDED.assigned_agent_id,
			error_message = EXCLUDED.error_message, sprint_id = EXCLUDED.sprint_id
	`, ps.config.TasksTable))
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "prepare_save", err)
	}

	ps.stmtGetTask, err = ps.db.PrepareContext(ctx, fmt.Sprintf(`
		SELECT id, name, description, spec_blob, status, role, capability_id,
		       inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
		       est_ms, actual_ms, created_at, updated_at, assigned_agent_id,
		       error_message, sprint_id
		FROM %s WHERE id = $1
	`, ps.config.TasksTable))
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "prepare_get", err)
	}

	ps.stmtSaveEdge, err = ps.db.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_id, target_id, edge_type, condition_blob, data_mapping_blob)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id, target_id = EXCLUDED.target_id,
			edge_type = EXCLUDED.edge_type, condition_blob = EXCLUDED.condition_blob,
			data_mapping_blob = EXCLUDED.data_mapping_blob
	`, ps.config.DependenciesTable))
	if err != nil {
		return hiveerrors.NewPersistenceError("edge", "prepare_save", err)
	}

	ps.stmtSaveSprint, err = ps.db.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, goal = EXCLUDED.goal, status = EXCLUDED.status,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			planned_blob = EXCLUDED.planned_blob, completed_blob = EXCLUDED.completed_blob,
			review_notes = EXCLUDED.review_notes
	`, ps.config.SprintsTable))
	if err != nil {
		return hiveerrors.NewPersistenceError("sprint", "prepare_save", err)
	}

	ps.stmtGetSprint, err = ps.db.PrepareContext(ctx, fmt.Sprintf(`
		SELECT id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes
		FROM %s WHERE id = $1
	`, ps.config.SprintsTable))
	if err != nil {
		return hiveerrors.NewPersistenceError("sprint", "prepare_get", err)
	}

	return nil
}

func (ps *PostgresStore) SaveTask(ctx context.Context, node *TaskNode) error {
	specBlob, err := json.Marshal(node.TaskSpec)
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "marshal_spec", err)
	}
	inputsBlob, err := json.Marshal(node.Inputs)
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "marshal_inputs", err)
	}
	outputsBlob, err := json.Marshal(node.Outputs)
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "marshal_outputs", err)
	}
	var retryPolicyBlob []byte
	if node.RetryPolicy != nil {
		retryPolicyBlob, err = json.Marshal(node.RetryPolicy)
		if err != nil {
			return hiveerrors.NewPersistenceError("task", "marshal_retry_policy", err)
		}
	}
	var role string
	if node.AgentRoleType != nil {
		role = string(*node.AgentRoleType)
	}

	exec := func(stmt *sql.Stmt) error {
		var err error
		if stmt != nil {
			_, err = stmt.ExecContext(ctx,
				node.ID, node.Name, node.Description, string(specBlob), node.Status, role,
				node.CapabilityID, string(inputsBlob), string(outputsBlob), node.RetryCount,
				nullableString(retryPolicyBlob), node.Priority, node.EstimatedDurationMS,
				node.ActualDurationMS, node.CreatedAt, node.UpdatedAt, node.AssignedAgentID,
				node.ErrorMessage, node.SprintID,
			)
		} else {
			query := fmt.Sprintf(`
				INSERT INTO %s (
					id, name, description, spec_blob, status, role, capability_id,
					inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
					est_ms, actual_ms, created_at, updated_at, assigned_agent_id,
					error_message, sprint_id
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name, description = EXCLUDED.description,
					spec_blob = EXCLUDED.spec_blob, status = EXCLUDED.status,
					role = EXCLUDED.role, capability_id = EXCLUDED.capability_id,
					inputs_blob = EXCLUDED.inputs_blob, outputs_blob = EXCLUDED.outputs_blob,
					retry_count = EXCLUDED.retry_count, retry_policy_blob = EXCLUDED.retry_policy_blob,
					priority = EXCLUDED.priority, est_ms = EXCLUDED.est_ms,
					actual_ms = EXCLUDED.actual_ms, updated_at = EXCLUDED.updated_at,
					assigned_agent_id = EXCLUDED.assigned_agent_id,
					error_message = EXCLUDED.error_message, sprint_id = EXCLUDED.sprint_id
			`, ps.config.TasksTable)
			_, err = ps.db.ExecContext(ctx, query,
				node.ID, node.Name, node.Description, string(specBlob), node.Status, role,
				node.CapabilityID, string(inputsBlob), string(outputsBlob), node.RetryCount,
				nullableString(retryPolicyBlob), node.Priority, node.EstimatedDurationMS,
				node.ActualDurationMS, node.CreatedAt, node.UpdatedAt, node.AssignedAgentID,
				node.ErrorMessage, node.SprintID,
			)
		}
		return err
	}

	if err := exec(ps.stmtSaveTask); err != nil {
		return hiveerrors.NewPersistenceError("task", "save", err)
	}
	return nil
}

func (ps *PostgresStore) LoadTask(ctx context.Context, id string) (*TaskNode, error) {
	node := &TaskNode{}
	var specBlob, inputsBlob, outputsBlob string
	var retryPolicyBlob sql.NullString
	var role sql.NullString

	scan := func(row *sql.Row) error {
		return row.Scan(
			&node.ID, &node.Name, &node.Description, &specBlob, &node.Status, &role,
			&node.CapabilityID, &inputsBlob, &outputsBlob, &node.RetryCount, &retryPolicyBlob,
			&node.Priority, &node.EstimatedDurationMS, &node.ActualDurationMS, &node.CreatedAt,
			&node.UpdatedAt, &node.AssignedAgentID, &node.ErrorMessage, &node.SprintID,
		)
	}

	var err error
	if ps.stmtGetTask != nil {
		err = scan(ps.stmtGetTask.QueryRowContext(ctx, id))
	} else {
		query := fmt.Sprintf(`
			SELECT id, name, description, spec_blob, status, role, capability_id,
			       inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
			       est_ms, actual_ms, created_at, updated_at, assigned_agent_id,
			       error_message, sprint_id
			FROM %s WHERE id = $1
		`, ps.config.TasksTable)
		err = scan(ps.db.QueryRowContext(ctx, query, id))
	}

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, hiveerrors.NewPersistenceError("task", "load", err)
	}

	if err := json.Unmarshal([]byte(specBlob), &node.TaskSpec); err != nil {
		return nil, hiveerrors.NewPersistenceError("task", "unmarshal_spec", err)
	}
	if inputsBlob != "" {
		if err := json.Unmarshal([]byte(inputsBlob), &node.Inputs); err != nil {
			return nil, hiveerrors.NewPersistenceError("task", "unmarshal_inputs", err)
		}
	}
	if outputsBlob != "" {
		if err := json.Unmarshal([]byte(outputsBlob), &node.Outputs); err != nil {
			return nil, hiveerrors.NewPersistenceError("task", "unmarshal_outputs", err)
		}
	}
	if retryPolicyBlob.Valid && retryPolicyBlob.String != "" {
		node.RetryPolicy = &TaskRetryPolicy{}
		if err := json.Unmarshal([]byte(retryPolicyBlob.String), node.RetryPolicy); err != nil {
			return nil, hiveerrors.NewPersistenceError("task", "unmarshal_retry_policy", err)
		}
	}
	if role.Valid && role.String != "" {
		r := AgentRole(role.String)
		node.AgentRoleType = &r
	}

	return node, nil
}

func (ps *PostgresStore) LoadAllTasks(ctx context.Context) ([]*TaskNode, error) {
	query := fmt.Sprintf(`
		SELECT id, name, description, spec_blob, status, role, capability_id,
		       inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
		       est_ms, actual_ms, created_at, updated_at, assigned_agent_id,
		       error_message, sprint_id
		FROM %s
	`, ps.config.TasksTable)

	rows, err := ps.db.QueryContext(ctx, query)
	if err != nil {
		return nil, hiveerrors.NewPersistenceError("task", "load_all", err)
	}
	defer rows.Close()

	var nodes []*TaskNode
	for rows.Next() {
		node := &TaskNode{}
		var specBlob, inputsBlob, outputsBlob string
		var retryPolicyBlob sql.NullString
		var role sql.NullString

		if err := rows.Scan(
			&node.ID, &node.Name, &node.Description, &specBlob, &node.Status, &role,
			&node.CapabilityID, &inputsBlob, &outputsBlob, &node.RetryCount, &retryPolicyBlob,
			&node.Priority, &node.EstimatedDurationMS, &node.ActualDurationMS, &node.CreatedAt,
			&node.UpdatedAt, &node.AssignedAgentID, &node.ErrorMessage, &node.SprintID,
		); err != nil {
			return nil, hiveerrors.NewPersistenceError("task", "scan", err)
		}

		if err := json.Unmarshal([]byte(specBlob), &node.TaskSpec); err != nil {
			return nil, hiveerrors.NewPersistenceError("task", "unmarshal_spec", err)
		}
		if inputsBlob != "" {
			if err := json.Unmarshal([]byte(inputsBlob), &node.Inputs); err != nil {
				return nil, hiveerrors.NewPersistenceError("task", "unmarshal_inputs", err)
			}
		}
		if outputsBlob != "" {
			if err := json.Unmarshal([]byte(outputsBlob), &node.Outputs); err != nil {
				return nil, hiveerrors.NewPersistenceError("task", "unmarshal_outputs", err)
			}
		}
		if retryPolicyBlob.Valid && retryPolicyBlob.String != "" {
			node.RetryPolicy = &TaskRetryPolicy{}
			if err := json.Unmarshal([]byte(retryPolicyBlob.String), node.RetryPolicy); err != nil {
				return nil, hiveerrors.NewPersistenceError("task", "unmarshal_retry_policy", err)
			}
		}
		if role.Valid && role.String != "" {
			r := AgentRole(role.String)
			node.AgentRoleType = &r
		}

		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, hiveerrors.NewPersistenceError("task", "iterate", err)
	}
	return nodes, nil
}

func (ps *PostgresStore) SaveEdge(ctx context.Context, edge *TaskEdge) error {
	var conditionBlob sql.NullString
	if edge.Condition != nil {
		conditionBlob = sql.NullString{String: *edge.Condition, Valid: true}
	}
	dataMappingBlob, err := json.Marshal(edge.DataMapping)
	if err != nil {
		return hiveerrors.NewPersistenceError("edge", "marshal_data_mapping", err)
	}

	exec := func(stmt *sql.Stmt) error {
		var err error
		if stmt != nil {
			_, err = stmt.ExecContext(ctx, edge.ID, edge.FromNodeID, edge.ToNodeID, edge.EdgeType, conditionBlob, string(dataMappingBlob))
		} else {
			query := fmt.Sprintf(`
				INSERT INTO %s (id, source_id, target_id, edge_type, condition_blob, data_mapping_blob)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO UPDATE SET
					source_id = EXCLUDED.source_id, target_id = EXCLUDED.target_id,
					edge_type = EXCLUDED.edge_type, condition_blob = EXCLUDED.condition_blob,
					data_mapping_blob = EXCLUDED.data_mapping_blob
			`, ps.config.DependenciesTable)
			_, err = ps.db.ExecContext(ctx, query, edge.ID, edge.FromNodeID, edge.ToNodeID, edge.EdgeType, conditionBlob, string(dataMappingBlob))
		}
		return err
	}

	if err := exec(ps.stmtSaveEdge); err != nil {
		return hiveerrors.NewPersistenceError("edge", "save", err)
	}
	return nil
}

func (ps *PostgresStore) LoadAllEdges(ctx context.Context) ([]*TaskEdge, error) {
	query := fmt.Sprintf(`SELECT id, source_id, target_id, edge_type, condition_blob, data_mapping_blob FROM %s`, ps.config.DependenciesTable)
	rows, err := ps.db.QueryContext(ctx, query)
	if err != nil {
		return nil, hiveerrors.NewPersistenceError("edge", "load_all", err)
	}
	defer rows.Close()

	var edges []*TaskEdge
	for rows.Next() {
		edge := &TaskEdge{}
		var conditionBlob sql.NullString
		var dataMappingBlob string
		if err := rows.Scan(&edge.ID, &edge.FromNodeID, &edge.ToNodeID, &edge.EdgeType, &conditionBlob, &dataMappingBlob); err != nil {
			return nil, hiveerrors.NewPersistenceError("edge", "scan", err)
		}
		if conditionBlob.Valid {
			c := conditionBlob.String
			edge.Condition = &c
		}
		if dataMappingBlob != "" {
			json.Unmarshal([]byte(dataMappingBlob), &edge.DataMapping)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, hiveerrors.NewPersistenceError("edge", "iterate", err)
	}
	return edges, nil
}

func (ps *PostgresStore) SaveSprint(ctx context.Context, sprint *Sprint) error {
	plannedBlob, err := json.Marshal(sprint.PlannedTasks)
	if err != nil {
		return hiveerrors.NewPersistenceError("sprint", "marshal_planned", err)
	}
	completedBlob, err := json.Marshal(sprint.CompletedTasks)
	if err != nil {
		return hiveerrors.NewPersistenceError("sprint", "marshal_completed", err)
	}

	exec := func(stmt *sql.Stmt) error {
		var err error
		if stmt != nil {
			_, err = stmt.ExecContext(ctx, sprint.ID, sprint.Name, sprint.Goal, sprint.Status,
				sprint.StartDate, sprint.EndDate, string(plannedBlob), string(completedBlob), sprint.ReviewNotes)
		} else {
			query := fmt.Sprintf(`
				INSERT INTO %s (id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name, goal = EXCLUDED.goal, status = EXCLUDED.status,
					start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
					planned_blob = EXCLUDED.planned_blob, completed_blob = EXCLUDED.completed_blob,
					review_notes = EXCLUDED.review_notes
			`, ps.config.SprintsTable)
			_, err = ps.db.ExecContext(ctx, query, sprint.ID, sprint.Name, sprint.Goal, sprint.Status,
				sprint.StartDate, sprint.EndDate, string(plannedBlob), string(completedBlob), sprint.ReviewNotes)
		}
		return err
	}

	if err := exec(ps.stmtSaveSprint); err != nil {
		return hiveerrors.NewPersistenceError("sprint", "save", err)
	}
	return nil
}

func (ps *PostgresStore) LoadSprint(ctx context.Context, id string) (*Sprint, error) {
	sprint := &Sprint{}
	var plannedBlob, completedBlob string

	scan := func(row *sql.Row) error {
		return row.Scan(&sprint.ID, &sprint.Name, &sprint.Goal, &sprint.Status,
			&sprint.StartDate, &sprint.EndDate, &plannedBlob, &completedBlob, &sprint.ReviewNotes)
	}

	var err error
	if ps.stmtGetSprint != nil {
		err = scan(ps.stmtGetSprint.QueryRowContext(ctx, id))
	} else {
		query := fmt.Sprintf(`SELECT id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes FROM %s WHERE id = $1`, ps.config.SprintsTable)
		err = scan(ps.db.QueryRowContext(ctx, query, id))
	}

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, hiveerrors.NewPersistenceError("sprint", "load", err)
	}

	if plannedBlob != "" {
		json.Unmarshal([]byte(plannedBlob), &sprint.PlannedTasks)
	}
	if completedBlob != "" {
		json.Unmarshal([]byte(completedBlob), &sprint.CompletedTasks)
	}
	return sprint, nil
}

func (ps *PostgresStore) LoadAllSprints(ctx context.Context) ([]*Sprint, error) {
	query := fmt.Sprintf(`SELECT id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes FROM %s`, ps.config.SprintsTable)
	rows, err := ps.db.QueryContext(ctx, query)
	if err != nil {
		return nil, hiveerrors.NewPersistenceError("sprint", "load_all", err)
	}
	defer rows.Close()

	var sprints []*Sprint
	for rows.Next() {
		sprint := &Sprint{}
		var plannedBlob, completedBlob string
		if err := rows.Scan(&sprint.ID, &sprint.Name, &sprint.Goal, &sprint.Status,
			&sprint.StartDate, &sprint.EndDate, &plannedBlob, &completedBlob, &sprint.ReviewNotes); err != nil {
			return nil, hiveerrors.NewPersistenceError("sprint", "scan", err)
		}
		if plannedBlob != "" {
			json.Unmarshal([]byte(plannedBlob), &sprint.PlannedTasks)
		}
		if completedBlob != "" {
			json.Unmarshal([]byte(completedBlob), &sprint.CompletedTasks)
		}
		sprints = append(sprints, sprint)
	}
	if err := rows.Err(); err != nil {
		return nil, hiveerrors.NewPersistenceError("sprint", "iterate", err)
	}
	return sprints, nil
}

func (ps *PostgresStore) Health(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

func (ps *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{ps.stmtSaveTask, ps.stmtGetTask, ps.stmtSaveEdge, ps.stmtSaveSprint, ps.stmtGetSprint} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return ps.db.Close()
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
