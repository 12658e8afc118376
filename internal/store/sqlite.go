package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/coordroom/coordroom/internal/types"
)

// SQLiteStore is the Task Store of spec.md §4.A, backed by modernc.org/sqlite
// (pure Go, no cgo), grounded on the teacher's internal/tasks/store.go.
type SQLiteStore struct {
	db     *sql.DB
	retry  RetryPolicy
}

// Open creates the backing *sql.DB and returns an initialized SQLiteStore.
// path may be a filesystem path or ":memory:".
func Open(path string, retry RetryPolicy) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite; avoids SQLITE_BUSY under concurrent room actors
	s := &SQLiteStore{db: db, retry: retry}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			epic_id TEXT,
			parent_task_id TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'todo',
			priority TEXT NOT NULL DEFAULT 'medium',
			assigned_agent TEXT,
			estimated_hours REAL NOT NULL DEFAULT 0,
			actual_hours REAL NOT NULL DEFAULT 0,
			requires_human_review INTEGER NOT NULL DEFAULT 0,
			review_note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

		CREATE TABLE IF NOT EXISTS agent_activity (
			agent_name TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'offline',
			task_id TEXT,
			note TEXT NOT NULL DEFAULT '',
			last_check_in TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_blocks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			blocked_agent TEXT NOT NULL,
			blocking_owner TEXT,
			reason TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT 'medium',
			requires_human_intervention INTEGER NOT NULL DEFAULT 0,
			resolved_at TIMESTAMP,
			resolved_by TEXT,
			resolution_note TEXT,
			acked INTEGER NOT NULL DEFAULT 0,
			last_notified TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_blocks_task_agent ON task_blocks(task_id, blocked_agent);

		CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			from_status TEXT,
			to_status TEXT NOT NULL,
			changed_at TIMESTAMP NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return newErr(op, KindNotFound, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return newErr(op, KindTransient, err)
	}
	if strings.Contains(msg, "UNIQUE constraint") {
		return newErr(op, KindConflict, err)
	}
	return newErr(op, KindFatal, err)
}

// --- tasks ---

const taskColumns = `id, project_id, epic_id, parent_task_id, title, description, status, priority, assigned_agent, estimated_hours, actual_hours, requires_human_review, review_note, created_at, updated_at`

func scanTask(row interface {
	Scan(dest ...any) error
}) (*types.Task, error) {
	var t types.Task
	var epicID, parentID, assignedAgent sql.NullString
	err := row.Scan(
		&t.ID, &t.ProjectID, &epicID, &parentID, &t.Title, &t.Description,
		&t.Status, &t.Priority, &assignedAgent, &t.EstimatedHours, &t.ActualHours,
		&t.RequiresHumanReview, &t.ReviewNote, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if epicID.Valid {
		t.EpicID = &epicID.String
	}
	if parentID.Valid {
		t.ParentTaskID = &parentID.String
	}
	if assignedAgent.Valid {
		t.AssignedAgent = &assignedAgent.String
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	var tasks []types.Task
	err := withRetry(ctx, s.retry, func() error {
		tasks = nil
		query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
		var args []any
		if filter.ProjectID != "" {
			query += ` AND project_id = ?`
			args = append(args, filter.ProjectID)
		}
		if filter.EpicID != "" {
			query += ` AND epic_id = ?`
			args = append(args, filter.EpicID)
		}
		if filter.ParentTaskID != "" {
			query += ` AND parent_task_id = ?`
			args = append(args, filter.ParentTaskID)
		}
		if filter.Agent != "" {
			query += ` AND assigned_agent = ?`
			args = append(args, filter.Agent)
		}
		if filter.Status != "" {
			query += ` AND status = ?`
			args = append(args, string(filter.Status))
		}
		if filter.Search != "" {
			query += ` AND (title LIKE ? OR description LIKE ? OR assigned_agent LIKE ?)`
			needle := "%" + filter.Search + "%"
			args = append(args, needle, needle, needle)
		}
		if len(filter.TaskIDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.TaskIDs)), ",")
			query += ` AND id IN (` + placeholders + `)`
			for _, id := range filter.TaskIDs {
				args = append(args, id)
			}
		}
		query += ` ORDER BY updated_at DESC`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return classify("listTasks", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return classify("listTasks", err)
			}
			tasks = append(tasks, *t)
		}
		return classify("listTasks", rows.Err())
	})
	return tasks, err
}

func (s *SQLiteStore) GetTaskByID(ctx context.Context, id string) (*types.Task, error) {
	var task *types.Task
	err := withRetry(ctx, s.retry, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
		t, err := scanTask(row)
		if err != nil {
			if err == sql.ErrNoRows {
				task = nil
				return nil
			}
			return classify("getTaskById", err)
		}
		task = t
		return nil
	})
	return task, err
}

func (s *SQLiteStore) ListOpenTasks(ctx context.Context) ([]types.Task, error) {
	var tasks []types.Task
	err := withRetry(ctx, s.retry, func() error {
		tasks = nil
		rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status != 'done'`)
		if err != nil {
			return classify("listOpenTasks", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return classify("listOpenTasks", err)
			}
			tasks = append(tasks, *t)
		}
		return classify("listOpenTasks", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	sortOpenTasks(tasks)
	return tasks, nil
}

func sortOpenTasks(tasks []types.Task) {
	for i := 1; i < len(tasks); i++ {
		j := i
		for j > 0 && less(tasks[j], tasks[j-1]) {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
			j--
		}
	}
}

func less(a, b types.Task) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func (s *SQLiteStore) CreateTask(ctx context.Context, input types.CreateTaskInput) (*types.Task, error) {
	now := time.Now().UTC()
	priority := input.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	t := types.Task{
		ID:                  uuid.NewString(),
		ProjectID:           input.ProjectID,
		EpicID:              input.EpicID,
		ParentTaskID:        input.ParentTaskID,
		Title:               input.Title,
		Description:         input.Description,
		Status:              types.StatusTodo,
		Priority:            priority,
		AssignedAgent:       input.AssignedAgent,
		EstimatedHours:      input.EstimatedHours,
		RequiresHumanReview: input.RequiresHumanReview,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ProjectID, t.EpicID, t.ParentTaskID, t.Title, t.Description,
		t.Status, t.Priority, t.AssignedAgent, t.EstimatedHours, t.ActualHours,
		t.RequiresHumanReview, t.ReviewNote, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, classify("createTask", err)
	}
	return &t, nil
}

func (s *SQLiteStore) BulkReassignTasks(ctx context.Context, ids []string, agent string) ([]types.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("bulkReassignTasks", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET assigned_agent = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return nil, classify("bulkReassignTasks", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, agent, now, id); err != nil {
			return nil, classify("bulkReassignTasks", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("bulkReassignTasks", err)
	}
	return s.ListTasks(ctx, types.TaskFilter{TaskIDs: ids})
}

func (s *SQLiteStore) BulkUpdateTaskStatuses(ctx context.Context, updates []types.StatusUpdate) ([]types.Task, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("bulkUpdateTaskStatuses", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return nil, classify("bulkUpdateTaskStatuses", err)
	}
	defer stmt.Close()

	histStmt, err := tx.PrepareContext(ctx, `INSERT INTO task_history (task_id, from_status, to_status, changed_at) SELECT ?, status, ?, ? FROM tasks WHERE id = ?`)
	if err != nil {
		return nil, classify("bulkUpdateTaskStatuses", err)
	}
	defer histStmt.Close()

	seen := make(map[string]bool)
	var ids []string
	for _, u := range updates {
		if _, err := histStmt.ExecContext(ctx, u.TaskID, string(u.Status), now, u.TaskID); err != nil {
			return nil, classify("bulkUpdateTaskStatuses", err)
		}
		if _, err := stmt.ExecContext(ctx, string(u.Status), now, u.TaskID); err != nil {
			return nil, classify("bulkUpdateTaskStatuses", err)
		}
		if !seen[u.TaskID] {
			seen[u.TaskID] = true
			ids = append(ids, u.TaskID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("bulkUpdateTaskStatuses", err)
	}
	return s.ListTasks(ctx, types.TaskFilter{TaskIDs: ids})
}

func (s *SQLiteStore) GetTaskCounts(ctx context.Context) (*types.TaskCounts, error) {
	var counts *types.TaskCounts
	err := withRetry(ctx, s.retry, func() error {
		counts = &types.TaskCounts{ByStatus: make(map[types.TaskStatus]int)}
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
		if err != nil {
			return classify("getTaskCounts", err)
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return classify("getTaskCounts", err)
			}
			counts.ByStatus[types.TaskStatus(status)] = n
			counts.Total += n
		}
		return classify("getTaskCounts", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// --- agent activity ---

func scanActivity(row interface {
	Scan(dest ...any) error
}) (*types.AgentActivity, error) {
	var a types.AgentActivity
	var taskID sql.NullString
	err := row.Scan(&a.AgentName, &a.Status, &taskID, &a.Note, &a.LastCheckIn, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		a.TaskID = &taskID.String
	}
	return &a, nil
}

func (s *SQLiteStore) ListAgentActivity(ctx context.Context) ([]types.AgentActivity, error) {
	var out []types.AgentActivity
	err := withRetry(ctx, s.retry, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `SELECT agent_name, status, task_id, note, last_check_in, updated_at FROM agent_activity ORDER BY updated_at DESC`)
		if err != nil {
			return classify("listAgentActivity", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanActivity(rows)
			if err != nil {
				return classify("listAgentActivity", err)
			}
			out = append(out, *a)
		}
		return classify("listAgentActivity", rows.Err())
	})
	return out, err
}

func (s *SQLiteStore) UpsertAgentActivity(ctx context.Context, input types.UpsertAgentActivityInput) (*types.AgentActivity, error) {
	var result *types.AgentActivity
	err := withRetry(ctx, s.retry, func() error {
		now := time.Now().UTC()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_activity (agent_name, status, task_id, note, last_check_in, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_name) DO UPDATE SET
				status=excluded.status, task_id=excluded.task_id, note=excluded.note,
				last_check_in=excluded.last_check_in, updated_at=excluded.updated_at
		`, input.AgentName, input.Status, input.TaskID, input.Note, now, now)
		if err != nil {
			return classify("upsertAgentActivity", err)
		}
		row := s.db.QueryRowContext(ctx, `SELECT agent_name, status, task_id, note, last_check_in, updated_at FROM agent_activity WHERE agent_name = ?`, input.AgentName)
		a, err := scanActivity(row)
		if err != nil {
			return classify("upsertAgentActivity", err)
		}
		result = a
		return nil
	})
	return result, err
}

// --- task blocks ---

func scanBlock(row interface {
	Scan(dest ...any) error
}) (*types.Blocker, error) {
	var b types.Blocker
	var blockingOwner, resolvedBy, resolutionNote sql.NullString
	var resolvedAt, lastNotified sql.NullTime
	err := row.Scan(
		&b.ID, &b.ProjectID, &b.TaskID, &b.BlockedAgent, &blockingOwner, &b.Reason,
		&b.Severity, &b.RequiresHumanIntervention, &resolvedAt, &resolvedBy, &resolutionNote,
		&b.Acked, &lastNotified, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if blockingOwner.Valid {
		b.BlockingOwner = &blockingOwner.String
	}
	if resolvedAt.Valid {
		b.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		b.ResolvedBy = &resolvedBy.String
	}
	if resolutionNote.Valid {
		b.ResolutionNote = &resolutionNote.String
	}
	if lastNotified.Valid {
		b.LastNotified = &lastNotified.Time
	}
	return &b, nil
}

const blockColumns = `id, project_id, task_id, blocked_agent, blocking_owner, reason, severity, requires_human_intervention, resolved_at, resolved_by, resolution_note, acked, last_notified, created_at, updated_at`

// InsertTaskBlock implements the at-most-one-open-row-per-key invariant:
// the existence check and the update/insert execute inside one transaction.
func (s *SQLiteStore) InsertTaskBlock(ctx context.Context, input types.BlockInput) (*types.Blocker, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("insertTaskBlock", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM task_blocks WHERE task_id = ? AND blocked_agent = ? AND resolved_at IS NULL`, input.TaskID, input.BlockedAgent)
	existing, scanErr := scanBlock(row)
	now := time.Now().UTC()

	severity := input.Severity
	if severity == "" {
		severity = types.SeverityMedium
	}

	var result *types.Blocker
	if scanErr == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE task_blocks SET reason = ?, blocking_owner = ?, acked = 0, updated_at = ?
			WHERE id = ?
		`, input.Reason, input.BlockingOwner, now, existing.ID)
		if err != nil {
			return nil, classify("insertTaskBlock", err)
		}
		existing.Reason = input.Reason
		existing.BlockingOwner = input.BlockingOwner
		existing.Acked = false
		existing.UpdatedAt = now
		result = existing
	} else if scanErr == sql.ErrNoRows {
		b := types.Blocker{
			ID:                        uuid.NewString(),
			ProjectID:                 input.ProjectID,
			TaskID:                    input.TaskID,
			BlockedAgent:              input.BlockedAgent,
			BlockingOwner:             input.BlockingOwner,
			Reason:                    input.Reason,
			Severity:                  severity,
			RequiresHumanIntervention: input.RequiresHumanIntervention,
			Acked:                     false,
			CreatedAt:                 now,
			UpdatedAt:                 now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_blocks (`+blockColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.ProjectID, b.TaskID, b.BlockedAgent, b.BlockingOwner, b.Reason,
			b.Severity, b.RequiresHumanIntervention, b.ResolvedAt, b.ResolvedBy,
			b.ResolutionNote, b.Acked, b.LastNotified, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return nil, classify("insertTaskBlock", err)
		}
		result = &b
	} else {
		return nil, classify("insertTaskBlock", scanErr)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, types.StatusBlocked, now, input.TaskID); err != nil {
		return nil, classify("insertTaskBlock", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("insertTaskBlock", err)
	}
	return result, nil
}

func (s *SQLiteStore) ResolveTaskBlock(ctx context.Context, input types.ResolveInput) (*types.Blocker, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("resolveTaskBlock", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM task_blocks WHERE task_id = ? AND blocked_agent = ? AND resolved_at IS NULL`, input.TaskID, input.BlockedAgent)
	existing, err := scanBlock(row)
	if err == sql.ErrNoRows {
		// idempotence: already resolved, return the most recent row for the key
		row := tx.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM task_blocks WHERE task_id = ? AND blocked_agent = ? ORDER BY updated_at DESC LIMIT 1`, input.TaskID, input.BlockedAgent)
		already, err2 := scanBlock(row)
		if err2 == sql.ErrNoRows {
			return nil, nil
		}
		if err2 != nil {
			return nil, classify("resolveTaskBlock", err2)
		}
		return already, nil
	}
	if err != nil {
		return nil, classify("resolveTaskBlock", err)
	}

	now := time.Now().UTC()
	resolvedBy := input.ResolvedBy
	_, err = tx.ExecContext(ctx, `
		UPDATE task_blocks SET resolved_at = ?, resolved_by = ?, resolution_note = ?, updated_at = ? WHERE id = ?
	`, now, resolvedBy, input.ResolutionNote, now, existing.ID)
	if err != nil {
		return nil, classify("resolveTaskBlock", err)
	}
	existing.ResolvedAt = &now
	existing.ResolvedBy = &resolvedBy
	existing.ResolutionNote = input.ResolutionNote
	existing.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return nil, classify("resolveTaskBlock", err)
	}
	return existing, nil
}

func (s *SQLiteStore) AckTaskBlock(ctx context.Context, taskID, agent string) (*types.Blocker, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM task_blocks WHERE task_id = ? AND blocked_agent = ? ORDER BY updated_at DESC LIMIT 1`, taskID, agent)
	existing, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("ackTaskBlock", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE task_blocks SET acked = 1, updated_at = ? WHERE id = ?`, now, existing.ID)
	if err != nil {
		return nil, classify("ackTaskBlock", err)
	}
	existing.Acked = true
	existing.UpdatedAt = now
	return existing, nil
}

func (s *SQLiteStore) ListBlockedTasks(ctx context.Context, filter types.BlockedTasksFilter) ([]types.Blocker, error) {
	var out []types.Blocker
	err := withRetry(ctx, s.retry, func() error {
		out = nil
		query := `SELECT ` + blockColumns + ` FROM task_blocks`
		if !filter.IncludeAcked {
			query += ` WHERE acked = 0`
		}
		query += ` ORDER BY updated_at DESC`
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return classify("listBlockedTasks", err)
		}
		defer rows.Close()
		for rows.Next() {
			b, err := scanBlock(rows)
			if err != nil {
				return classify("listBlockedTasks", err)
			}
			out = append(out, *b)
		}
		return classify("listBlockedTasks", rows.Err())
	})
	return out, err
}

func (s *SQLiteStore) TouchBlockLastNotified(ctx context.Context, blockID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE task_blocks SET last_notified = ? WHERE id = ?`, now, blockID)
	return classify("touchBlockLastNotified", err)
}
