package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shuvam773/kanban/domain"
)

// Tasks returns the tasks that name sectionID as their section.
func (s *BoardService) Tasks(ctx context.Context, sectionID string) (_ []domain.Task, err error) {
	ctx, span := s.begin(ctx, "Tasks", attribute.String("section.id", sectionID))
	defer func() { end(span, err) }()

	sec, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, storeErr("get section", err)
	}
	if sec == nil {
		return nil, domain.SectionNotFound(sectionID)
	}
	tasks, err := s.store.TasksBySection(ctx, sectionID)
	if err != nil {
		return nil, storeErr("list section tasks", err)
	}
	return tasks, nil
}

// CreateTask adds a task to the end of its section. Nothing is persisted or
// broadcast when the section does not exist.
func (s *BoardService) CreateTask(ctx context.Context, in domain.TaskInput) (_ domain.Task, err error) {
	ctx, span := s.begin(ctx, "CreateTask", attribute.String("section.id", in.Section))
	defer func() { end(span, err) }()

	in, err = in.Normalize()
	if err != nil {
		return domain.Task{}, err
	}
	ts := now()
	t := domain.Task{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		DueDate:     in.DueDate.UTC(),
		Assignee:    in.Assignee,
		Priority:    in.Priority,
		Section:     in.Section,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return domain.Task{}, storeErr("create task", err)
	}
	span.SetAttributes(attribute.String("task.id", t.ID))
	s.commit(ctx, domain.NewTaskAdded(s.boardID, t))
	return t, nil
}

// UpdateTask merges patch into the task. The owning section is never changed
// here; use MoveTask. Updates and moves of one task are serialized, so the
// stamp taken here is newer than any move already committed.
func (s *BoardService) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (_ domain.Task, err error) {
	ctx, span := s.begin(ctx, "UpdateTask", attribute.String("task.id", id))
	defer func() { end(span, err) }()

	defer lockTask(id)()
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, storeErr("get task", err)
	}
	if t == nil {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	changed, err := patch.Apply(t)
	if err != nil {
		return domain.Task{}, err
	}
	if !changed {
		return *t, nil
	}
	t.UpdatedAt = now()
	if err := s.store.SaveTask(ctx, *t); err != nil {
		return domain.Task{}, storeErr("save task", err)
	}
	// Re-read so the event carries the section and updatedAt as committed,
	// even if a move on another instance landed between the read and the save.
	if cur, err := s.store.GetTask(ctx, id); err == nil && cur != nil {
		t = cur
	}
	s.commit(ctx, domain.NewTaskUpdated(s.boardID, *t))
	return *t, nil
}

// DeleteTask removes the task and its section list entry.
func (s *BoardService) DeleteTask(ctx context.Context, id string) (_ domain.Task, err error) {
	ctx, span := s.begin(ctx, "DeleteTask", attribute.String("task.id", id))
	defer func() { end(span, err) }()

	t, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return domain.Task{}, storeErr("delete task", err)
	}
	if t == nil {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	s.commit(ctx, domain.NewTaskDeleted(s.boardID, *t))
	return *t, nil
}
