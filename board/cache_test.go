package board

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shuvam773/kanban/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func section(id string, offset int) domain.Section {
	ts := t0.Add(time.Duration(offset) * time.Second)
	return domain.Section{ID: id, Name: "section " + id, Tasks: []string{}, CreatedAt: ts, UpdatedAt: ts}
}

func task(id, sectionID string, updated int) domain.Task {
	return domain.Task{
		ID:        id,
		Name:      "task " + id,
		Assignee:  "sam",
		Section:   sectionID,
		DueDate:   t0.Add(48 * time.Hour),
		CreatedAt: t0,
		UpdatedAt: t0.Add(time.Duration(updated) * time.Millisecond),
	}
}

func seeded(sections ...domain.Section) *Cache {
	c := NewCache()
	board := make([]domain.BoardSection, 0, len(sections))
	for _, s := range sections {
		board = append(board, s.Header())
	}
	c.Reset(board, 0)
	return c
}

// placement maps task id to the ids of every section listing it.
func placement(c *Cache) map[string][]string {
	out := map[string][]string{}
	for _, s := range c.Sections() {
		for _, t := range s.Tasks {
			out[t.ID] = append(out[t.ID], s.ID)
		}
	}
	return out
}

func assertPlaced(t *testing.T, c *Cache, taskID, sectionID string) {
	t.Helper()
	got := placement(c)[taskID]
	if len(got) != 1 || got[0] != sectionID {
		t.Fatalf("expected %s only in %s, got %v", taskID, sectionID, got)
	}
}

func TestSectionAddedIsUpsertByID(t *testing.T) {
	c := NewCache()
	a := section("a", 0)
	ev := domain.NewSectionAdded("b", a)
	if out := c.Apply(ev); !out.Changed {
		t.Fatalf("expected first add to change the cache")
	}
	if out := c.Apply(ev); out.Changed {
		t.Fatalf("expected repeated add to be a no-op")
	}
	if out := c.AddSection(a); out.Changed {
		t.Fatalf("expected REST response after echo to be a no-op")
	}
	if n := len(c.Sections()); n != 1 {
		t.Fatalf("expected one section, got %d", n)
	}
}

func TestSectionsStayOrderedByCreation(t *testing.T) {
	c := NewCache()
	c.AddSection(section("b", 5))
	c.AddSection(section("a", 0))
	c.AddSection(section("c", 1))
	var order []string
	for _, s := range c.Sections() {
		order = append(order, s.ID)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "c" || order[2] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestSectionUpdateKeepsTasksAndIgnoresOlder(t *testing.T) {
	c := seeded(section("a", 0))
	c.UpsertTask(task("t1", "a", 1))

	renamed := section("a", 0)
	renamed.Name = "Doing"
	renamed.UpdatedAt = t0.Add(time.Minute)
	if out := c.Apply(domain.NewSectionUpdated("b", renamed)); !out.Changed {
		t.Fatalf("expected rename to change the cache")
	}
	older := section("a", 0)
	older.Name = "Old"
	if out := c.UpdateSection(older); out.Changed {
		t.Fatalf("expected older rename to be ignored")
	}
	got := c.Sections()[0]
	if got.Name != "Doing" || len(got.Tasks) != 1 {
		t.Fatalf("unexpected section %#v", got)
	}
}

func TestTaskResponseAndEchoConverge(t *testing.T) {
	c := seeded(section("a", 0))
	created := task("t1", "a", 1)

	// A client that appended on both paths showed the card twice.
	c.UpsertTask(created)
	c.Apply(domain.NewTaskAdded("b", created))
	c.Apply(domain.NewTaskAdded("b", created))

	if n := len(c.Sections()[0].Tasks); n != 1 {
		t.Fatalf("expected one task, got %d", n)
	}
}

func TestTaskAddedForUnknownSectionIsStale(t *testing.T) {
	c := seeded(section("a", 0))
	out := c.Apply(domain.NewTaskAdded("b", task("t1", "zzz", 1)))
	if !out.Stale {
		t.Fatalf("expected stale outcome")
	}
	if _, _, ok := c.Task("t1"); ok {
		t.Fatalf("task must not be placed in an unknown section")
	}
}

func TestMoveConvergesFromAnyCacheState(t *testing.T) {
	moved := task("t1", "b", 5)
	cases := map[string]func(c *Cache){
		"source only": func(c *Cache) { c.UpsertTask(task("t1", "a", 1)) },
		"destination only": func(c *Cache) {
			c.UpsertTask(moved)
		},
		"neither": func(c *Cache) {},
		"both sides": func(c *Cache) {
			c.UpsertTask(task("t1", "a", 1))
			c.sections[1].Tasks = append(c.sections[1].Tasks, task("t1", "b", 1))
		},
		"stale copy elsewhere": func(c *Cache) {
			c.UpsertTask(task("t1", "a", 1))
			c.sections[2].Tasks = append(c.sections[2].Tasks, task("t1", "c", 0))
		},
	}
	for name, prepare := range cases {
		t.Run(name, func(t *testing.T) {
			c := seeded(section("a", 0), section("b", 1), section("c", 2))
			prepare(c)
			c.Apply(domain.NewTaskMoved("board", "a", moved))
			assertPlaced(t, c, "t1", "b")
			c.MoveTask(moved, "b")
			assertPlaced(t, c, "t1", "b")
		})
	}
}

func TestMoveWithoutBodyUsesCachedTask(t *testing.T) {
	c := seeded(section("a", 0), section("b", 1))
	c.UpsertTask(task("t1", "a", 1))
	out := c.Apply(domain.Event{Type: domain.TaskMoved, TaskID: "t1", SourceSectionID: "a", DestinationSectionID: "b"})
	if !out.Changed {
		t.Fatalf("expected move to change the cache")
	}
	assertPlaced(t, c, "t1", "b")
}

func TestOlderTaskCopyNeverWins(t *testing.T) {
	c := seeded(section("a", 0), section("b", 1))
	c.Apply(domain.NewTaskMoved("board", "a", task("t1", "b", 5)))
	// Delayed update from before the move.
	stale := task("t1", "a", 2)
	stale.Name = "old name"
	if out := c.Apply(domain.NewTaskUpdated("board", stale)); out.Changed {
		t.Fatalf("expected older copy to be ignored")
	}
	assertPlaced(t, c, "t1", "b")
	got, _, _ := c.Task("t1")
	if got.Name != "task t1" {
		t.Fatalf("unexpected name %q", got.Name)
	}
}

func TestDeletesAreSafeWhenAbsent(t *testing.T) {
	c := seeded(section("a", 0))
	if out := c.Apply(domain.Event{Type: domain.TaskDeleted, TaskID: "nope"}); out.Changed || out.Stale {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out := c.RemoveSection("nope", nil); out.Changed {
		t.Fatalf("unexpected change")
	}
	c.UpsertTask(task("t1", "a", 1))
	c.RemoveTask("t1")
	if out := c.RemoveTask("t1"); out.Changed {
		t.Fatalf("second delete must be a no-op")
	}
}

func TestDeletedTaskIsNotResurrected(t *testing.T) {
	c := seeded(section("a", 0))
	added := task("t1", "a", 1)
	c.Apply(domain.Event{Type: domain.TaskDeleted, TaskID: "t1", SectionID: "a"})
	if out := c.Apply(domain.NewTaskAdded("board", added)); out.Changed {
		t.Fatalf("delayed add resurrected a deleted task")
	}
	if _, _, ok := c.Task("t1"); ok {
		t.Fatalf("task should be absent")
	}
}

func TestSectionDeletedCascades(t *testing.T) {
	c := seeded(section("a", 0), section("b", 1))
	c.UpsertTask(task("t1", "a", 1))
	c.UpsertTask(task("t2", "b", 1))

	out := c.Apply(domain.NewSectionDeleted("board", "a", []string{"t1"}))
	if !out.Changed {
		t.Fatalf("expected change")
	}
	if len(c.Sections()) != 1 {
		t.Fatalf("expected one section left")
	}
	if out := c.Apply(domain.NewSectionAdded("board", section("a", 0))); out.Changed {
		t.Fatalf("deleted section came back")
	}
	if out := c.UpsertTask(task("t1", "b", 9)); out.Changed {
		t.Fatalf("cascaded task came back")
	}
	assertPlaced(t, c, "t2", "b")
}

func TestVersionBaselineAndGaps(t *testing.T) {
	c := NewCache()
	c.Reset([]domain.BoardSection{section("a", 0).Header()}, 5)

	old := domain.NewTaskAdded("board", task("t1", "a", 1))
	old.Version = 5
	if out := c.Apply(old); out.Changed {
		t.Fatalf("event at baseline must be skipped")
	}
	next := domain.NewTaskAdded("board", task("t2", "a", 1))
	next.Version = 6
	if out := c.Apply(next); !out.Changed || out.Stale {
		t.Fatalf("unexpected outcome %+v", out)
	}
	jump := domain.NewTaskAdded("board", task("t3", "a", 1))
	jump.Version = 9
	if out := c.Apply(jump); !out.Stale || !out.Changed {
		t.Fatalf("expected gap to mark stale, got %+v", out)
	}
	late := domain.NewTaskAdded("board", task("t4", "a", 1))
	late.Version = 7
	if out := c.Apply(late); out.Stale || !out.Changed {
		t.Fatalf("late event below highest should apply cleanly, got %+v", out)
	}
	unversioned := domain.NewTaskAdded("board", task("t5", "a", 1))
	if out := c.Apply(unversioned); !out.Changed {
		t.Fatalf("unversioned event should apply")
	}
	if c.Version() != 9 {
		t.Fatalf("expected version 9, got %d", c.Version())
	}
}

func TestResetClearsTombstonesForFetchedIDs(t *testing.T) {
	c := seeded(section("a", 0))
	c.RemoveTask("t1")
	sec := section("a", 0).Header()
	sec.Tasks = []domain.Task{task("t1", "a", 1)}
	c.Reset([]domain.BoardSection{sec}, 3)
	if out := c.UpsertTask(task("t1", "a", 2)); !out.Changed {
		t.Fatalf("fetched task should accept updates")
	}
}

func TestApplicationIsOrderIndependent(t *testing.T) {
	events := []domain.Event{
		domain.NewTaskAdded("board", task("t1", "a", 1)),
		domain.NewTaskMoved("board", "a", task("t1", "b", 3)),
		domain.NewTaskUpdated("board", task("t1", "b", 4)),
		domain.NewTaskAdded("board", task("t2", "b", 1)),
		domain.NewTaskMoved("board", "b", task("t2", "c", 2)),
		domain.NewTaskMoved("board", "c", task("t2", "a", 6)),
		domain.NewTaskAdded("board", task("t3", "c", 1)),
		{Type: domain.TaskDeleted, BoardID: "board", TaskID: "t3", SectionID: "c"},
		domain.NewTaskAdded("board", task("t4", "c", 2)),
	}

	reference := seeded(section("a", 0), section("b", 1), section("c", 2))
	for _, ev := range events {
		reference.Apply(ev)
	}
	want := placement(reference)
	if len(want) != 3 {
		t.Fatalf("unexpected reference placement %v", want)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		c := seeded(section("a", 0), section("b", 1), section("c", 2))
		shuffled := append([]domain.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		// Duplicate delivery of a random subset.
		for _, ev := range shuffled {
			c.Apply(ev)
			if rng.Intn(3) == 0 {
				c.Apply(ev)
			}
		}
		got := placement(c)
		if len(got) != len(want) {
			t.Fatalf("round %d: got %v want %v", round, got, want)
		}
		for id, secs := range want {
			if len(got[id]) != 1 || got[id][0] != secs[0] {
				t.Fatalf("round %d: task %s placed in %v, want %v", round, id, got[id], secs)
			}
		}
		if tk, _, _ := c.Task("t1"); !tk.UpdatedAt.Equal(t0.Add(4 * time.Millisecond)) {
			t.Fatalf("round %d: expected newest copy of t1, got %v", round, tk.UpdatedAt)
		}
	}
}

func TestSectionsReturnsCopy(t *testing.T) {
	c := seeded(section("a", 0))
	c.UpsertTask(task("t1", "a", 1))
	out := c.Sections()
	out[0].Tasks[0].Name = "mutated"
	out[0].Name = "mutated"
	got := c.Sections()
	if got[0].Name == "mutated" || got[0].Tasks[0].Name == "mutated" {
		t.Fatalf("cache leaked internal state")
	}
}
