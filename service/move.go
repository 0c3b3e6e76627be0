package service

import (
	"context"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shuvam773/kanban/domain"
)

// settleRounds bounds how often settle re-reads the owner after another move
// changed it underneath.
const settleRounds = 5

// moveLocks serializes moves and updates of the same task within this
// process. Moves racing across instances are converged by settle instead.
var moveLocks [64]sync.Mutex

func lockTask(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &moveLocks[h.Sum32()%uint32(len(moveLocks))]
	mu.Lock()
	return mu.Unlock
}

// MoveTask moves a task from one section to another and returns the task and
// the destination as committed. The task's current owner is authoritative:
// its entry is removed from the named source and from the owner, the
// back-reference is switched, and the destination gains the entry at most
// once. A final settle pass leaves exactly one list holding the task even
// when several moves of the same task race.
func (s *BoardService) MoveTask(ctx context.Context, in domain.MoveInput) (_ domain.Task, _ domain.Section, err error) {
	ctx, span := s.begin(ctx, "MoveTask",
		attribute.String("task.id", in.TaskID),
		attribute.String("section.source", in.SourceSectionID),
		attribute.String("section.destination", in.DestinationSectionID))
	defer func() { end(span, err) }()

	if err := in.Validate(); err != nil {
		return domain.Task{}, domain.Section{}, err
	}
	defer lockTask(in.TaskID)()

	src, err := s.store.GetSection(ctx, in.SourceSectionID)
	if err != nil {
		return domain.Task{}, domain.Section{}, storeErr("get section", err)
	}
	if src == nil {
		return domain.Task{}, domain.Section{}, domain.SectionNotFound(in.SourceSectionID)
	}
	dst, err := s.store.GetSection(ctx, in.DestinationSectionID)
	if err != nil {
		return domain.Task{}, domain.Section{}, storeErr("get section", err)
	}
	if dst == nil {
		return domain.Task{}, domain.Section{}, domain.SectionNotFound(in.DestinationSectionID)
	}
	t, err := s.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.Task{}, domain.Section{}, storeErr("get task", err)
	}
	if t == nil {
		return domain.Task{}, domain.Section{}, domain.TaskNotFound(in.TaskID)
	}

	if _, err := s.store.RemoveTaskRef(ctx, src.ID, t.ID); err != nil {
		return domain.Task{}, domain.Section{}, storeErr("remove task ref", err)
	}
	if t.Section != src.ID && t.Section != dst.ID {
		if _, err := s.store.RemoveTaskRef(ctx, t.Section, t.ID); err != nil {
			return domain.Task{}, domain.Section{}, storeErr("remove task ref", err)
		}
	}
	if err := s.store.SetTaskSection(ctx, t.ID, dst.ID, now()); err != nil {
		if domain.IsNotFound(err) {
			return domain.Task{}, domain.Section{}, err
		}
		return domain.Task{}, domain.Section{}, storeErr("set task section", err)
	}
	if _, err := s.store.AddTaskRef(ctx, dst.ID, t.ID); err != nil {
		if domain.IsNotFound(err) {
			// The destination was deleted mid-move; put the task back.
			s.restore(ctx, t.ID, src.ID)
			s.evict(ctx)
			return domain.Task{}, domain.Section{}, err
		}
		return domain.Task{}, domain.Section{}, storeErr("append task ref", err)
	}

	moved, err := s.settle(ctx, t.ID)
	if err != nil {
		return domain.Task{}, domain.Section{}, err
	}
	if moved == nil {
		return domain.Task{}, domain.Section{}, domain.TaskNotFound(t.ID)
	}
	dest, err := s.store.GetSection(ctx, moved.Section)
	if err != nil {
		return domain.Task{}, domain.Section{}, storeErr("get section", err)
	}
	if dest == nil {
		return domain.Task{}, domain.Section{}, domain.SectionNotFound(moved.Section)
	}
	if moved.Section != dst.ID {
		s.log.WithFields(log.Fields{"task": t.ID, "requested": dst.ID, "owner": moved.Section}).
			Info("concurrent move won; reporting committed owner")
	}
	s.commit(ctx, domain.NewTaskMoved(s.boardID, src.ID, *moved))
	return *moved, *dest, nil
}

// settle makes the task's owning section the only list holding it. It
// returns nil when the task no longer exists.
func (s *BoardService) settle(ctx context.Context, taskID string) (*domain.Task, error) {
	var t *domain.Task
	for round := 0; round < settleRounds; round++ {
		var err error
		t, err = s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, storeErr("get task", err)
		}
		if t == nil {
			return nil, nil
		}
		sections, err := s.store.ListSections(ctx)
		if err != nil {
			return nil, storeErr("list sections", err)
		}
		for _, sec := range sections {
			if sec.ID == t.Section || !sec.HasTask(taskID) {
				continue
			}
			if _, err := s.store.RemoveTaskRef(ctx, sec.ID, taskID); err != nil {
				return nil, storeErr("remove task ref", err)
			}
		}
		if _, err := s.store.AddTaskRef(ctx, t.Section, taskID); err != nil && !domain.IsNotFound(err) {
			return nil, storeErr("append task ref", err)
		}
		cur, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, storeErr("get task", err)
		}
		if cur == nil || cur.Section == t.Section {
			return cur, nil
		}
	}
	return t, nil
}

// restore points the task back at sectionID, or deletes it when that
// section is gone too. Errors are logged; the integrity sweep repairs
// anything left behind.
func (s *BoardService) restore(ctx context.Context, taskID, sectionID string) {
	entry := s.log.WithFields(log.Fields{"task": taskID, "section": sectionID})
	if err := s.store.SetTaskSection(ctx, taskID, sectionID, now()); err != nil {
		entry.WithError(err).Error("restore task section")
		return
	}
	if _, err := s.store.AddTaskRef(ctx, sectionID, taskID); err != nil {
		if !domain.IsNotFound(err) {
			entry.WithError(err).Error("restore task ref")
			return
		}
		if _, err := s.store.DeleteTask(ctx, taskID); err != nil {
			entry.WithError(err).Error("delete orphaned task")
			return
		}
		if s.pub != nil {
			s.pub.Publish(ctx, domain.Event{Type: domain.TaskDeleted, BoardID: s.boardID, TaskID: taskID})
		}
	}
}

func (s *BoardService) evict(ctx context.Context) {
	if s.cache != nil {
		s.cache.Evict(ctx)
	}
}
