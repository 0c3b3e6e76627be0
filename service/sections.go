package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shuvam773/kanban/domain"
)

// Snapshot returns every section in display order with its tasks embedded.
// A task is listed under the section it names, in list order, followed by
// any task that names the section but is missing from its list.
func (s *BoardService) Snapshot(ctx context.Context) (_ []domain.BoardSection, err error) {
	ctx, span := s.begin(ctx, "Snapshot")
	defer func() { end(span, err) }()

	var gen int64
	if s.cache != nil {
		var ok bool
		var cached []domain.BoardSection
		if cached, gen, ok = s.cache.Load(ctx); ok {
			span.SetAttributes(attribute.Bool("board.cache_hit", true))
			return cached, nil
		}
	}
	sections, err := s.store.ListSections(ctx)
	if err != nil {
		return nil, storeErr("list sections", err)
	}
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	board := assemble(sections, tasks)
	if s.cache != nil {
		s.cache.Store(ctx, gen, board)
	}
	return board, nil
}

func assemble(sections []domain.Section, tasks []domain.Task) []domain.BoardSection {
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	out := make([]domain.BoardSection, 0, len(sections))
	for _, sec := range sections {
		bs := sec.Header()
		placed := make(map[string]struct{}, len(sec.Tasks))
		for _, id := range sec.Tasks {
			t, ok := byID[id]
			if !ok || t.Section != sec.ID {
				continue
			}
			if _, dup := placed[id]; dup {
				continue
			}
			placed[id] = struct{}{}
			bs.Tasks = append(bs.Tasks, t)
		}
		for _, t := range tasks {
			if t.Section != sec.ID {
				continue
			}
			if _, ok := placed[t.ID]; ok {
				continue
			}
			placed[t.ID] = struct{}{}
			bs.Tasks = append(bs.Tasks, t)
		}
		out = append(out, bs)
	}
	slices.SortStableFunc(out, func(a, b domain.BoardSection) int {
		switch {
		case domain.Less(a.CreatedAt, a.ID, b.CreatedAt, b.ID):
			return -1
		case domain.Less(b.CreatedAt, b.ID, a.CreatedAt, a.ID):
			return 1
		}
		return 0
	})
	return out
}

// insertAfter picks a creation time after sel and before both its successor
// and now, so the new section sorts right behind sel and ahead of anything
// created later. With no millisecond left in between it takes the upper bound.
func insertAfter(sel domain.Section, sections []domain.Section, now time.Time) time.Time {
	upper := now
	for _, other := range sections {
		if other.ID == sel.ID || !domain.Less(sel.CreatedAt, sel.ID, other.CreatedAt, other.ID) {
			continue
		}
		if other.CreatedAt.Before(upper) {
			upper = other.CreatedAt
		}
	}
	if candidate := sel.CreatedAt.Add(InsertAfterGap); candidate.Before(upper) {
		return candidate
	}
	// Stores keep milliseconds.
	mid := sel.CreatedAt.Add(upper.Sub(sel.CreatedAt) / 2).Truncate(time.Millisecond)
	if !mid.After(sel.CreatedAt) {
		mid = sel.CreatedAt.Add(time.Millisecond)
	}
	return mid
}

// CreateSection adds a section. When in.SelectedSectionID names an existing
// section the new one sorts directly after it, otherwise it is stamped now.
func (s *BoardService) CreateSection(ctx context.Context, in domain.SectionInput) (_ domain.Section, err error) {
	ctx, span := s.begin(ctx, "CreateSection")
	defer func() { end(span, err) }()

	name, err := in.Validate()
	if err != nil {
		return domain.Section{}, err
	}
	ts := now()
	created := ts
	if after := strings.TrimSpace(in.SelectedSectionID); after != "" {
		sel, err := s.store.GetSection(ctx, after)
		if err != nil {
			return domain.Section{}, storeErr("get section", err)
		}
		if sel != nil {
			sections, err := s.store.ListSections(ctx)
			if err != nil {
				return domain.Section{}, storeErr("list sections", err)
			}
			created = insertAfter(*sel, sections, ts)
		}
	}
	sec := domain.Section{
		ID:        uuid.NewString(),
		Name:      name,
		Tasks:     []string{},
		CreatedAt: created,
		UpdatedAt: ts,
	}
	if err := s.store.InsertSection(ctx, sec); err != nil {
		return domain.Section{}, storeErr("insert section", err)
	}
	span.SetAttributes(attribute.String("section.id", sec.ID))
	s.commit(ctx, domain.NewSectionAdded(s.boardID, sec))
	return sec, nil
}

// UpdateSection renames a section.
func (s *BoardService) UpdateSection(ctx context.Context, id, name string) (_ domain.Section, err error) {
	ctx, span := s.begin(ctx, "UpdateSection", attribute.String("section.id", id))
	defer func() { end(span, err) }()

	name, err = domain.SectionInput{Name: name}.Validate()
	if err != nil {
		return domain.Section{}, err
	}
	sec, err := s.store.GetSection(ctx, id)
	if err != nil {
		return domain.Section{}, storeErr("get section", err)
	}
	if sec == nil {
		return domain.Section{}, domain.SectionNotFound(id)
	}
	sec.Name = name
	sec.UpdatedAt = now()
	if err := s.store.UpdateSection(ctx, *sec); err != nil {
		return domain.Section{}, storeErr("update section", err)
	}
	s.commit(ctx, domain.NewSectionUpdated(s.boardID, *sec))
	return *sec, nil
}

// DeleteSection removes a section together with every task it owns, whether
// listed or only back-referencing it. It returns the deleted task ids.
func (s *BoardService) DeleteSection(ctx context.Context, id string) (_ []string, err error) {
	ctx, span := s.begin(ctx, "DeleteSection", attribute.String("section.id", id))
	defer func() { end(span, err) }()

	sec, err := s.store.GetSection(ctx, id)
	if err != nil {
		return nil, storeErr("get section", err)
	}
	if sec == nil {
		return nil, domain.SectionNotFound(id)
	}
	owned, err := s.store.TasksBySection(ctx, id)
	if err != nil {
		return nil, storeErr("list section tasks", err)
	}
	ids := slices.Clone(sec.Tasks)
	for _, t := range owned {
		if !slices.Contains(ids, t.ID) {
			ids = append(ids, t.ID)
		}
	}

	deleted := make([]string, 0, len(ids))
	for _, taskID := range ids {
		t, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, storeErr("get task", err)
		}
		// A listed task that already moved elsewhere is not owned here.
		if t == nil || t.Section != id {
			continue
		}
		if _, err := s.store.DeleteTask(ctx, taskID); err != nil {
			return nil, storeErr("delete task", err)
		}
		deleted = append(deleted, taskID)
	}
	if err := s.store.DeleteSection(ctx, id); err != nil {
		return nil, storeErr("delete section", err)
	}
	span.SetAttributes(attribute.Int("section.deleted_tasks", len(deleted)))
	s.log.WithFields(log.Fields{"board": s.boardID, "section": id, "tasks": len(deleted)}).Info("section deleted")
	s.commit(ctx, domain.NewSectionDeleted(s.boardID, id, deleted))
	return deleted, nil
}
