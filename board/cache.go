// Package board holds a client's in-memory copy of the board and the reducer
// that folds REST responses and broadcast events into it. Every rule is keyed
// by entity id, so applying the same change twice, or receiving a response and
// its broadcast echo, yields one state.
package board

import (
	"slices"
	"sync"

	"github.com/shuvam773/kanban/domain"
)

// Outcome describes what Apply did. Stale means the cache can no longer be
// trusted to match the server and should be refetched.
type Outcome struct {
	Changed bool
	Stale   bool
}

func (o Outcome) merge(other Outcome) Outcome {
	return Outcome{Changed: o.Changed || other.Changed, Stale: o.Stale || other.Stale}
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	sections []domain.BoardSection

	deletedTasks    map[string]struct{}
	deletedSections map[string]struct{}

	// baseline is the version observed with the last full fetch; highest is
	// the largest version applied since.
	baseline int64
	highest  int64
}

func NewCache() *Cache {
	return &Cache{
		deletedTasks:    map[string]struct{}{},
		deletedSections: map[string]struct{}{},
	}
}

// Reset replaces the cached board with the result of a full fetch taken at
// version. Tombstones for ids the fetch still contains are dropped.
func (c *Cache) Reset(sections []domain.BoardSection, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections = cloneBoard(sections)
	sortSections(c.sections)
	for i := range c.sections {
		delete(c.deletedSections, c.sections[i].ID)
		for _, t := range c.sections[i].Tasks {
			delete(c.deletedTasks, t.ID)
		}
	}
	c.baseline = version
	c.highest = version
}

// Sections returns a copy of the board in display order.
func (c *Cache) Sections() []domain.BoardSection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneBoard(c.sections)
}

// Version returns the highest event version applied, or the baseline.
func (c *Cache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.highest
}

// Task returns the cached copy of a task and the section listing it.
func (c *Cache) Task(id string) (domain.Task, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.find(id)
}

// Apply folds one broadcast event into the cache. Events at or below the
// baseline are already reflected by the last fetch and are skipped. Unversioned
// events are always applied.
func (c *Cache) Apply(ev domain.Event) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out Outcome
	if ev.Version > 0 {
		if ev.Version <= c.baseline {
			return out
		}
		if ev.Version > c.highest+1 {
			out.Stale = true
		}
		if ev.Version > c.highest {
			c.highest = ev.Version
		}
	}

	switch ev.Type {
	case domain.SectionAdded, domain.SectionUpdated:
		if ev.Section == nil {
			return out
		}
		return out.merge(c.upsertSection(*ev.Section))
	case domain.SectionDeleted:
		return out.merge(c.removeSection(ev.SectionID, ev.TaskIDs))
	case domain.TaskAdded, domain.TaskUpdated:
		if ev.Task == nil {
			return out
		}
		return out.merge(c.upsertTask(*ev.Task, ev.SectionID))
	case domain.TaskMoved:
		if ev.Task == nil {
			// A move without the task body still tells us where it went.
			if t, _, ok := c.find(ev.TaskID); ok {
				t.Section = ev.DestinationSectionID
				return out.merge(c.upsertTask(t, ev.DestinationSectionID))
			}
			out.Stale = true
			return out
		}
		return out.merge(c.upsertTask(*ev.Task, ev.DestinationSectionID))
	case domain.TaskDeleted:
		return out.merge(c.removeTask(ev.TaskID))
	}
	return out
}

// AddSection applies a created section returned by the API.
func (c *Cache) AddSection(s domain.Section) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertSection(s)
}

// UpdateSection applies a renamed section returned by the API.
func (c *Cache) UpdateSection(s domain.Section) Outcome {
	return c.AddSection(s)
}

// RemoveSection applies a section deletion and its cascaded task ids.
func (c *Cache) RemoveSection(id string, taskIDs []string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeSection(id, taskIDs)
}

// UpsertTask applies a created or updated task returned by the API.
func (c *Cache) UpsertTask(t domain.Task) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertTask(t, "")
}

// MoveTask applies a move response. The task ends up listed in its own
// section only, whatever the cache held for either side of the move.
func (c *Cache) MoveTask(t domain.Task, destinationID string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertTask(t, destinationID)
}

// RemoveTask applies a task deletion.
func (c *Cache) RemoveTask(id string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeTask(id)
}

func (c *Cache) sectionIndex(id string) int {
	return slices.IndexFunc(c.sections, func(s domain.BoardSection) bool { return s.ID == id })
}

func (c *Cache) find(taskID string) (domain.Task, string, bool) {
	for _, sec := range c.sections {
		for _, t := range sec.Tasks {
			if t.ID == taskID {
				return t, sec.ID, true
			}
		}
	}
	return domain.Task{}, "", false
}

func (c *Cache) upsertSection(s domain.Section) Outcome {
	if _, gone := c.deletedSections[s.ID]; gone {
		return Outcome{}
	}
	i := c.sectionIndex(s.ID)
	if i < 0 {
		c.sections = append(c.sections, domain.BoardSection{
			ID:        s.ID,
			Name:      s.Name,
			Tasks:     []domain.Task{},
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
		sortSections(c.sections)
		return Outcome{Changed: true}
	}
	cur := &c.sections[i]
	if cur.UpdatedAt.After(s.UpdatedAt) {
		return Outcome{}
	}
	if cur.Name == s.Name && cur.UpdatedAt.Equal(s.UpdatedAt) && cur.CreatedAt.Equal(s.CreatedAt) {
		return Outcome{}
	}
	cur.Name = s.Name
	cur.UpdatedAt = s.UpdatedAt
	if !cur.CreatedAt.Equal(s.CreatedAt) {
		cur.CreatedAt = s.CreatedAt
		sortSections(c.sections)
	}
	return Outcome{Changed: true}
}

func (c *Cache) removeSection(id string, taskIDs []string) Outcome {
	var out Outcome
	c.deletedSections[id] = struct{}{}
	for _, tid := range taskIDs {
		c.deletedTasks[tid] = struct{}{}
	}
	if i := c.sectionIndex(id); i >= 0 {
		for _, t := range c.sections[i].Tasks {
			c.deletedTasks[t.ID] = struct{}{}
		}
		c.sections = slices.Delete(c.sections, i, i+1)
		out.Changed = true
	}
	for _, tid := range taskIDs {
		if c.dropCopies(tid, "") {
			out.Changed = true
		}
	}
	return out
}

func (c *Cache) removeTask(id string) Outcome {
	c.deletedTasks[id] = struct{}{}
	return Outcome{Changed: c.dropCopies(id, "")}
}

// upsertTask places the newest copy of t in its section and removes every
// other copy. The incoming task wins ties. hint names the destination when the
// task carries no section.
func (c *Cache) upsertTask(t domain.Task, hint string) Outcome {
	if _, gone := c.deletedTasks[t.ID]; gone {
		return Outcome{}
	}
	winner := t
	if cur, _, ok := c.find(t.ID); ok && cur.UpdatedAt.After(t.UpdatedAt) {
		winner = cur
	}
	target := winner.Section
	if target == "" {
		target = hint
	}

	ti := c.sectionIndex(target)
	if ti < 0 {
		// The owner is unknown here, so no listed copy can be right.
		return Outcome{Changed: c.dropCopies(t.ID, ""), Stale: true}
	}
	changed := c.dropCopies(t.ID, target)
	sec := &c.sections[ti]
	if j := slices.IndexFunc(sec.Tasks, func(x domain.Task) bool { return x.ID == t.ID }); j >= 0 {
		if !sameTask(sec.Tasks[j], winner) {
			sec.Tasks[j] = winner
			changed = true
		}
		// Collapse duplicates within the target list.
		for k := len(sec.Tasks) - 1; k > j; k-- {
			if sec.Tasks[k].ID == t.ID {
				sec.Tasks = slices.Delete(sec.Tasks, k, k+1)
				changed = true
			}
		}
		return Outcome{Changed: changed}
	}
	sec.Tasks = append(sec.Tasks, winner)
	return Outcome{Changed: true}
}

// dropCopies removes taskID from every section except keep and reports
// whether anything was removed.
func (c *Cache) dropCopies(taskID, keep string) bool {
	removed := false
	for i := range c.sections {
		if c.sections[i].ID == keep {
			continue
		}
		n := len(c.sections[i].Tasks)
		c.sections[i].Tasks = slices.DeleteFunc(c.sections[i].Tasks, func(t domain.Task) bool { return t.ID == taskID })
		if len(c.sections[i].Tasks) != n {
			removed = true
		}
	}
	return removed
}

func sameTask(a, b domain.Task) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Description == b.Description &&
		a.DueDate.Equal(b.DueDate) &&
		a.Assignee == b.Assignee &&
		a.Priority == b.Priority &&
		a.Section == b.Section &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func sortSections(sections []domain.BoardSection) {
	slices.SortStableFunc(sections, func(a, b domain.BoardSection) int {
		switch {
		case domain.Less(a.CreatedAt, a.ID, b.CreatedAt, b.ID):
			return -1
		case domain.Less(b.CreatedAt, b.ID, a.CreatedAt, a.ID):
			return 1
		}
		return 0
	})
}

func cloneBoard(in []domain.BoardSection) []domain.BoardSection {
	out := make([]domain.BoardSection, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Tasks = append([]domain.Task{}, s.Tasks...)
	}
	return out
}
