package service

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shuvam773/kanban/domain"
)

// Verify reports every place where section lists and task back-references
// disagree.
func (s *BoardService) Verify(ctx context.Context) (_ []domain.Violation, err error) {
	ctx, span := s.begin(ctx, "Verify")
	defer func() { end(span, err) }()

	sections, err := s.store.ListSections(ctx)
	if err != nil {
		return nil, storeErr("list sections", err)
	}
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	v := findViolations(sections, tasks)
	span.SetAttributes(attribute.Int("board.violations", len(v)))
	return v, nil
}

func findViolations(sections []domain.Section, tasks []domain.Task) []domain.Violation {
	byTask := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byTask[t.ID] = t
	}
	bySection := make(map[string]domain.Section, len(sections))
	var out []domain.Violation
	for _, sec := range sections {
		bySection[sec.ID] = sec
		seen := make(map[string]bool, len(sec.Tasks))
		for _, id := range sec.Tasks {
			if seen[id] {
				out = append(out, domain.Violation{Kind: domain.DuplicateRef, TaskID: id, SectionID: sec.ID})
				continue
			}
			seen[id] = true
			t, ok := byTask[id]
			switch {
			case !ok:
				out = append(out, domain.Violation{Kind: domain.DanglingRef, TaskID: id, SectionID: sec.ID})
			case t.Section != sec.ID:
				out = append(out, domain.Violation{Kind: domain.StaleRef, TaskID: id, SectionID: sec.ID})
			}
		}
	}
	for _, t := range tasks {
		sec, ok := bySection[t.Section]
		switch {
		case !ok:
			out = append(out, domain.Violation{Kind: domain.OrphanTask, TaskID: t.ID, SectionID: t.Section})
		case !sec.HasTask(t.ID):
			out = append(out, domain.Violation{Kind: domain.MissingRef, TaskID: t.ID, SectionID: t.Section})
		}
	}
	return out
}

// Repair fixes every violation Verify finds, treating each task's section
// field as the truth. Tasks whose section no longer exists are deleted.
// Clients are told about every task whose placement changed.
func (s *BoardService) Repair(ctx context.Context) (_ int, err error) {
	ctx, span := s.begin(ctx, "Repair")
	defer func() { end(span, err) }()

	violations, err := s.Verify(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, v := range violations {
		entry := s.log.WithFields(log.Fields{"board": s.boardID, "kind": v.Kind, "task": v.TaskID, "section": v.SectionID})
		switch v.Kind {
		case domain.DuplicateRef:
			if _, err := s.store.RemoveTaskRef(ctx, v.SectionID, v.TaskID); err != nil {
				return repaired, storeErr("remove task ref", err)
			}
			if _, err := s.store.AddTaskRef(ctx, v.SectionID, v.TaskID); err != nil && !domain.IsNotFound(err) {
				return repaired, storeErr("append task ref", err)
			}
		case domain.DanglingRef:
			if _, err := s.store.RemoveTaskRef(ctx, v.SectionID, v.TaskID); err != nil {
				return repaired, storeErr("remove task ref", err)
			}
		case domain.StaleRef:
			if _, err := s.store.RemoveTaskRef(ctx, v.SectionID, v.TaskID); err != nil {
				return repaired, storeErr("remove task ref", err)
			}
			s.announce(ctx, v.TaskID)
		case domain.MissingRef:
			if _, err := s.store.AddTaskRef(ctx, v.SectionID, v.TaskID); err != nil && !domain.IsNotFound(err) {
				return repaired, storeErr("append task ref", err)
			}
			s.announce(ctx, v.TaskID)
		case domain.OrphanTask:
			t, err := s.store.DeleteTask(ctx, v.TaskID)
			if err != nil {
				return repaired, storeErr("delete task", err)
			}
			if t != nil && s.pub != nil {
				s.pub.Publish(ctx, domain.NewTaskDeleted(s.boardID, *t))
			}
		}
		entry.Warn("repaired board inconsistency")
		repaired++
	}
	if repaired > 0 {
		s.evict(ctx)
	}
	span.SetAttributes(attribute.Int("board.repaired", repaired))
	return repaired, nil
}

// announce broadcasts the committed state of a task whose placement was
// repaired.
func (s *BoardService) announce(ctx context.Context, taskID string) {
	if s.pub == nil {
		return
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil || t == nil {
		return
	}
	s.pub.Publish(ctx, domain.NewTaskUpdated(s.boardID, *t))
}
