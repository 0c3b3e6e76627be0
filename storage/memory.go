package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shuvam773/kanban/domain"
)

// Memory keeps a single board in process memory. Every method takes the same
// lock, so the paired section/task writes are atomic.
type Memory struct {
	mu       sync.RWMutex
	sections map[string]*domain.Section
	tasks    map[string]*domain.Task
}

// NewMemory returns an empty in-memory board.
func NewMemory() *Memory {
	return &Memory{
		sections: make(map[string]*domain.Section),
		tasks:    make(map[string]*domain.Task),
	}
}

func cloneSection(s *domain.Section) *domain.Section {
	c := *s
	c.Tasks = slices.Clone(s.Tasks)
	if c.Tasks == nil {
		c.Tasks = []string{}
	}
	return &c
}

func (m *Memory) ListSections(ctx context.Context) ([]domain.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Section, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, *cloneSection(s))
	}
	sortSections(out)
	return out, nil
}

func (m *Memory) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[id]
	if !ok {
		return nil, nil
	}
	return cloneSection(s), nil
}

func (m *Memory) InsertSection(ctx context.Context, s domain.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[s.ID] = cloneSection(&s)
	return nil
}

func (m *Memory) UpdateSection(ctx context.Context, s domain.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sections[s.ID]
	if !ok {
		return domain.SectionNotFound(s.ID)
	}
	cur.Name = s.Name
	cur.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *Memory) DeleteSection(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sections, id)
	return nil
}

func (m *Memory) AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[sectionID]
	if !ok {
		return false, domain.SectionNotFound(sectionID)
	}
	if slices.Contains(s.Tasks, taskID) {
		return false, nil
	}
	s.Tasks = append(s.Tasks, taskID)
	return true, nil
}

func (m *Memory) RemoveTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[sectionID]
	if !ok {
		return false, nil
	}
	n := len(s.Tasks)
	s.Tasks = slices.DeleteFunc(s.Tasks, func(id string) bool { return id == taskID })
	return len(s.Tasks) != n, nil
}

func (m *Memory) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) TasksBySection(ctx context.Context, sectionID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.Section == sectionID {
			out = append(out, *t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (m *Memory) CreateTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[t.Section]
	if !ok {
		return domain.SectionNotFound(t.Section)
	}
	c := t
	m.tasks[t.ID] = &c
	if !slices.Contains(s.Tasks, t.ID) {
		s.Tasks = append(s.Tasks, t.ID)
	}
	return nil
}

// SaveTask writes the task's content fields. The owning section is only
// changed through SetTaskSection. Neither write moves UpdatedAt backwards.
func (m *Memory) SaveTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return domain.TaskNotFound(t.ID)
	}
	cur.Name = t.Name
	cur.Description = t.Description
	cur.DueDate = t.DueDate
	cur.Assignee = t.Assignee
	cur.Priority = t.Priority
	if t.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = t.UpdatedAt
	}
	return nil
}

func (m *Memory) SetTaskSection(ctx context.Context, id, sectionID string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return domain.TaskNotFound(id)
	}
	cur.Section = sectionID
	if updatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = updatedAt
	}
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	delete(m.tasks, id)
	if s, ok := m.sections[t.Section]; ok {
		s.Tasks = slices.DeleteFunc(s.Tasks, func(v string) bool { return v == id })
	}
	return t, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
