package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/shuvam773/kanban/domain"
)

type sectionRow struct {
	BoardID   string    `gorm:"primaryKey;size:64"`
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (sectionRow) TableName() string { return "sections" }

type taskRow struct {
	BoardID     string    `gorm:"primaryKey;size:64"`
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"not null"`
	Description string    `gorm:"not null"`
	DueDate     time.Time `gorm:"not null"`
	Assignee    string    `gorm:"not null"`
	Priority    string    `gorm:"size:16"`
	SectionID   string    `gorm:"size:64;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (taskRow) TableName() string { return "tasks" }

// sectionTaskRow is one entry of a section's ordered task list. Seq keeps
// insertion order.
type sectionTaskRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	BoardID   string `gorm:"size:64;uniqueIndex:idx_section_task,priority:1"`
	SectionID string `gorm:"size:64;uniqueIndex:idx_section_task,priority:2"`
	TaskID    string `gorm:"size:64;uniqueIndex:idx_section_task,priority:3;index"`
}

func (sectionTaskRow) TableName() string { return "section_tasks" }

func (r taskRow) toDomain() domain.Task {
	return domain.Task{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		DueDate:     r.DueDate.UTC(),
		Assignee:    r.Assignee,
		Priority:    domain.Priority(r.Priority),
		Section:     r.SectionID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func newTaskRow(boardID string, t domain.Task) taskRow {
	return taskRow{
		BoardID:     boardID,
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		DueDate:     t.DueDate.UTC(),
		Assignee:    t.Assignee,
		Priority:    string(t.Priority),
		SectionID:   t.Section,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

// SQLite stores the board in a SQLite database through gorm. Paired writes
// run inside a transaction.
type SQLite struct {
	db      *gorm.DB
	boardID string
}

// NewSQLite opens the database at dsn and migrates the schema.
func NewSQLite(dsn, boardID string, l *log.Logger) (*SQLite, error) {
	if dsn == "" {
		dsn = "kanban.db"
	}
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}
	if l == nil {
		l = log.StandardLogger()
	}
	dbLogger := logger.New(l, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes transactions
	// instead of failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	s := &SQLite{db: db, boardID: boardID}
	if err := s.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates or migrates the board tables.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sectionRow{}, &taskRow{}, &sectionTaskRow{}); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

func (s *SQLite) refs(tx *gorm.DB, sectionID string) ([]string, error) {
	q := tx.Model(&sectionTaskRow{}).Where("board_id = ?", s.boardID)
	if sectionID != "" {
		q = q.Where("section_id = ?", sectionID)
	}
	var ids []string
	if err := q.Order("seq").Pluck("task_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLite) ListSections(ctx context.Context) ([]domain.Section, error) {
	db := s.db.WithContext(ctx)
	var rows []sectionRow
	if err := db.Where("board_id = ?", s.boardID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	var refs []sectionTaskRow
	if err := db.Where("board_id = ?", s.boardID).Order("seq").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("list section tasks: %w", err)
	}
	lists := make(map[string][]string, len(rows))
	for _, r := range refs {
		lists[r.SectionID] = append(lists[r.SectionID], r.TaskID)
	}
	out := make([]domain.Section, 0, len(rows))
	for _, r := range rows {
		out = append(out, sectionFromRow(r, lists[r.ID]))
	}
	sortSections(out)
	return out, nil
}

func sectionFromRow(r sectionRow, tasks []string) domain.Section {
	if tasks == nil {
		tasks = []string{}
	}
	return domain.Section{ID: r.ID, Name: r.Name, Tasks: tasks, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()}
}

func (s *SQLite) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	db := s.db.WithContext(ctx)
	var row sectionRow
	if err := db.Where("board_id = ? AND id = ?", s.boardID, id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get section: %w", err)
	}
	ids, err := s.refs(db, id)
	if err != nil {
		return nil, fmt.Errorf("get section tasks: %w", err)
	}
	sec := sectionFromRow(row, ids)
	return &sec, nil
}

func (s *SQLite) InsertSection(ctx context.Context, sec domain.Section) error {
	row := sectionRow{BoardID: s.boardID, ID: sec.ID, Name: sec.Name, CreatedAt: sec.CreatedAt.UTC(), UpdatedAt: sec.UpdatedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateSection(ctx context.Context, sec domain.Section) error {
	res := s.db.WithContext(ctx).Model(&sectionRow{}).
		Where("board_id = ? AND id = ?", s.boardID, sec.ID).
		Updates(map[string]any{"name": sec.Name, "updated_at": sec.UpdatedAt.UTC()})
	if res.Error != nil {
		return fmt.Errorf("update section: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.SectionNotFound(sec.ID)
	}
	return nil
}

func (s *SQLite) DeleteSection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ? AND section_id = ?", s.boardID, id).Delete(&sectionTaskRow{}).Error; err != nil {
			return fmt.Errorf("delete section tasks: %w", err)
		}
		if err := tx.Where("board_id = ? AND id = ?", s.boardID, id).Delete(&sectionRow{}).Error; err != nil {
			return fmt.Errorf("delete section: %w", err)
		}
		return nil
	})
}

func (s *SQLite) sectionExists(tx *gorm.DB, id string) (bool, error) {
	var n int64
	if err := tx.Model(&sectionRow{}).Where("board_id = ? AND id = ?", s.boardID, id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) appendRef(tx *gorm.DB, sectionID, taskID string) (bool, error) {
	row := sectionTaskRow{BoardID: s.boardID, SectionID: sectionID, TaskID: taskID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *SQLite) AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.sectionExists(tx, sectionID)
		if err != nil {
			return fmt.Errorf("check section: %w", err)
		}
		if !ok {
			return domain.SectionNotFound(sectionID)
		}
		added, err = s.appendRef(tx, sectionID, taskID)
		if err != nil {
			return fmt.Errorf("append task ref: %w", err)
		}
		return nil
	})
	return added, err
}

func (s *SQLite) RemoveTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("board_id = ? AND section_id = ? AND task_id = ?", s.boardID, sectionID, taskID).
		Delete(&sectionTaskRow{})
	if res.Error != nil {
		return false, fmt.Errorf("remove task ref: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLite) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.findTasks(ctx, "board_id = ?", s.boardID)
}

func (s *SQLite) TasksBySection(ctx context.Context, sectionID string) ([]domain.Task, error) {
	return s.findTasks(ctx, "board_id = ? AND section_id = ?", s.boardID, sectionID)
}

func (s *SQLite) findTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *SQLite) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("board_id = ? AND id = ?", s.boardID, id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	t := row.toDomain()
	return &t, nil
}

func (s *SQLite) CreateTask(ctx context.Context, t domain.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.sectionExists(tx, t.Section)
		if err != nil {
			return fmt.Errorf("check section: %w", err)
		}
		if !ok {
			return domain.SectionNotFound(t.Section)
		}
		row := newTaskRow(s.boardID, t)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if _, err := s.appendRef(tx, t.Section, t.ID); err != nil {
			return fmt.Errorf("append task ref: %w", err)
		}
		return nil
	})
}

func (s *SQLite) SaveTask(ctx context.Context, t domain.Task) error {
	row := newTaskRow(s.boardID, t)
	return s.updateTask(ctx, t.ID, row.UpdatedAt, map[string]any{
		"name":        row.Name,
		"description": row.Description,
		"due_date":    row.DueDate,
		"assignee":    row.Assignee,
		"priority":    row.Priority,
	})
}

func (s *SQLite) SetTaskSection(ctx context.Context, id, sectionID string, updatedAt time.Time) error {
	return s.updateTask(ctx, id, updatedAt.UTC(), map[string]any{"section_id": sectionID})
}

// updateTask writes fields and keeps the later of the stored and given
// updated_at.
func (s *SQLite) updateTask(ctx context.Context, id string, updatedAt time.Time, fields map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur taskRow
		if err := tx.Select("updated_at").Where("board_id = ? AND id = ?", s.boardID, id).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.TaskNotFound(id)
			}
			return fmt.Errorf("get task: %w", err)
		}
		if cur.UpdatedAt.After(updatedAt) {
			updatedAt = cur.UpdatedAt.UTC()
		}
		fields["updated_at"] = updatedAt
		res := tx.Model(&taskRow{}).Where("board_id = ? AND id = ?", s.boardID, id).Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.TaskNotFound(id)
		}
		return nil
	})
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	var deleted *domain.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.Where("board_id = ? AND id = ?", s.boardID, id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("get task: %w", err)
		}
		if err := tx.Where("board_id = ? AND id = ?", s.boardID, id).Delete(&taskRow{}).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := tx.Where("board_id = ? AND task_id = ?", s.boardID, id).Delete(&sectionTaskRow{}).Error; err != nil {
			return fmt.Errorf("delete task refs: %w", err)
		}
		t := row.toDomain()
		deleted = &t
		return nil
	})
	return deleted, err
}

func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
