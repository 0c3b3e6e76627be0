package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shuvam773/kanban/domain"
)

// Postgres is a PostgreSQL-backed board store. Section task lists live in a
// join table ordered by a sequence, so appends are race-free under the
// unique (section_id, task_id) constraint.
type Postgres struct {
	pool    *pgxpool.Pool
	boardID string
}

// NewPostgres connects to the database at url.
func NewPostgres(ctx context.Context, url, boardID string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, boardID: boardID}, nil
}

// EnsureSchema creates the board tables if they don't exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS board_sections (
			board_id   TEXT NOT NULL,
			id         TEXT NOT NULL,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (board_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS board_tasks (
			board_id    TEXT NOT NULL,
			id          TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date    TIMESTAMPTZ NOT NULL,
			assignee    TEXT NOT NULL DEFAULT '',
			priority    TEXT NOT NULL DEFAULT '',
			section_id  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (board_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_board_tasks_section ON board_tasks(board_id, section_id)`,
		`CREATE TABLE IF NOT EXISTS board_section_tasks (
			seq        BIGSERIAL PRIMARY KEY,
			board_id   TEXT NOT NULL,
			section_id TEXT NOT NULL,
			task_id    TEXT NOT NULL,
			UNIQUE (board_id, section_id, task_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_board_section_tasks_task ON board_section_tasks(board_id, task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, name, description, due_date, assignee, priority, section_id, created_at, updated_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var priority string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.DueDate, &t.Assignee, &priority, &t.Section, &t.CreatedAt, &t.UpdatedAt)
	t.Priority = domain.Priority(priority)
	t.DueDate = t.DueDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

func (s *Postgres) ListSections(ctx context.Context) ([]domain.Section, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, created_at, updated_at FROM board_sections WHERE board_id = $1`, s.boardID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	out := []domain.Section{}
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.CreatedAt = sec.CreatedAt.UTC()
		sec.UpdatedAt = sec.UpdatedAt.UTC()
		out = append(out, sec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}

	lists := make(map[string][]string, len(out))
	refRows, err := s.pool.Query(ctx, `
		SELECT section_id, task_id FROM board_section_tasks WHERE board_id = $1 ORDER BY seq`, s.boardID)
	if err != nil {
		return nil, fmt.Errorf("list section tasks: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var sectionID, taskID string
		if err := refRows.Scan(&sectionID, &taskID); err != nil {
			return nil, fmt.Errorf("scan section task: %w", err)
		}
		lists[sectionID] = append(lists[sectionID], taskID)
	}
	if err := refRows.Err(); err != nil {
		return nil, fmt.Errorf("list section tasks: %w", err)
	}
	for i := range out {
		out[i].Tasks = lists[out[i].ID]
		if out[i].Tasks == nil {
			out[i].Tasks = []string{}
		}
	}
	sortSections(out)
	return out, nil
}

func (s *Postgres) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	var sec domain.Section
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at FROM board_sections WHERE board_id = $1 AND id = $2`,
		s.boardID, id).Scan(&sec.ID, &sec.Name, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get section %s: %w", id, err)
	}
	sec.CreatedAt = sec.CreatedAt.UTC()
	sec.UpdatedAt = sec.UpdatedAt.UTC()
	rows, err := s.pool.Query(ctx, `
		SELECT task_id FROM board_section_tasks WHERE board_id = $1 AND section_id = $2 ORDER BY seq`, s.boardID, id)
	if err != nil {
		return nil, fmt.Errorf("get section tasks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("get section tasks: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	sec.Tasks = ids
	return &sec, nil
}

func (s *Postgres) InsertSection(ctx context.Context, sec domain.Section) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO board_sections (board_id, id, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		s.boardID, sec.ID, sec.Name, sec.CreatedAt, sec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateSection(ctx context.Context, sec domain.Section) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE board_sections SET name = $3, updated_at = $4 WHERE board_id = $1 AND id = $2`,
		s.boardID, sec.ID, sec.Name, sec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.SectionNotFound(sec.ID)
	}
	return nil
}

func (s *Postgres) DeleteSection(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM board_section_tasks WHERE board_id = $1 AND section_id = $2`, s.boardID, id); err != nil {
			return fmt.Errorf("delete section tasks: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM board_sections WHERE board_id = $1 AND id = $2`, s.boardID, id); err != nil {
			return fmt.Errorf("delete section: %w", err)
		}
		return nil
	})
}

// appendRef locks the section row so a concurrent section delete cannot
// leave a list entry behind.
func (s *Postgres) appendRef(ctx context.Context, tx pgx.Tx, sectionID, taskID string) (bool, error) {
	var id string
	err := tx.QueryRow(ctx, `
		SELECT id FROM board_sections WHERE board_id = $1 AND id = $2 FOR UPDATE`, s.boardID, sectionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.SectionNotFound(sectionID)
		}
		return false, fmt.Errorf("lock section: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO board_section_tasks (board_id, section_id, task_id) VALUES ($1, $2, $3)
		ON CONFLICT (board_id, section_id, task_id) DO NOTHING`, s.boardID, sectionID, taskID)
	if err != nil {
		return false, fmt.Errorf("append task ref: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	added := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		added, err = s.appendRef(ctx, tx, sectionID, taskID)
		return err
	})
	return added, err
}

func (s *Postgres) RemoveTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM board_section_tasks WHERE board_id = $1 AND section_id = $2 AND task_id = $3`,
		s.boardID, sectionID, taskID)
	if err != nil {
		return false, fmt.Errorf("remove task ref: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM board_tasks WHERE board_id = $1 ORDER BY created_at, id`, s.boardID)
}

func (s *Postgres) TasksBySection(ctx context.Context, sectionID string) ([]domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM board_tasks WHERE board_id = $1 AND section_id = $2 ORDER BY created_at, id`, s.boardID, sectionID)
}

func (s *Postgres) queryTasks(ctx context.Context, sql string, args ...any) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM board_tasks WHERE board_id = $1 AND id = $2`, s.boardID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Postgres) CreateTask(ctx context.Context, t domain.Task) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.appendRef(ctx, tx, t.Section, t.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO board_tasks (board_id, `+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.boardID, t.ID, t.Name, t.Description, t.DueDate, t.Assignee, string(t.Priority), t.Section, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

func (s *Postgres) SaveTask(ctx context.Context, t domain.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE board_tasks
		SET name = $3, description = $4, due_date = $5, assignee = $6, priority = $7, updated_at = GREATEST(updated_at, $8)
		WHERE board_id = $1 AND id = $2`,
		s.boardID, t.ID, t.Name, t.Description, t.DueDate, t.Assignee, string(t.Priority), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TaskNotFound(t.ID)
	}
	return nil
}

func (s *Postgres) SetTaskSection(ctx context.Context, id, sectionID string, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE board_tasks SET section_id = $3, updated_at = GREATEST(updated_at, $4) WHERE board_id = $1 AND id = $2`,
		s.boardID, id, sectionID, updatedAt)
	if err != nil {
		return fmt.Errorf("set task section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TaskNotFound(id)
	}
	return nil
}

func (s *Postgres) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	var deleted *domain.Task
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		t, err := scanTask(tx.QueryRow(ctx, `
			DELETE FROM board_tasks WHERE board_id = $1 AND id = $2 RETURNING `+taskColumns, s.boardID, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("delete task: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM board_section_tasks WHERE board_id = $1 AND task_id = $2`, s.boardID, id); err != nil {
			return fmt.Errorf("delete task refs: %w", err)
		}
		deleted = &t
		return nil
	})
	return deleted, err
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Postgres) Close() { s.pool.Close() }
