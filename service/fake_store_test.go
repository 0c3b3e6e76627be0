package service

import (
	"context"
	"sync"
	"time"

	"github.com/shuvam773/kanban/domain"
	"github.com/shuvam773/kanban/storage"
)

// faultyStore wraps the in-memory store and fails the next call of each
// armed operation.
type faultyStore struct {
	*storage.Memory
	mu    sync.Mutex
	fail  map[string]error
	hooks map[string]func()
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: storage.NewMemory(), fail: map[string]error{}, hooks: map[string]func(){}}
}

// before runs fn once, just ahead of the next call of op. fn stands in for
// another instance writing to the shared store, so it must use f.Memory.
func (f *faultyStore) before(op string, fn func()) {
	f.mu.Lock()
	f.hooks[op] = fn
	f.mu.Unlock()
}

func (f *faultyStore) runHook(op string) {
	f.mu.Lock()
	fn := f.hooks[op]
	delete(f.hooks, op)
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *faultyStore) failOn(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *faultyStore) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.fail[op]
	delete(f.fail, op)
	return err
}

func (f *faultyStore) InsertSection(ctx context.Context, s domain.Section) error {
	if err := f.err("InsertSection"); err != nil {
		return err
	}
	return f.Memory.InsertSection(ctx, s)
}

func (f *faultyStore) CreateTask(ctx context.Context, t domain.Task) error {
	if err := f.err("CreateTask"); err != nil {
		return err
	}
	return f.Memory.CreateTask(ctx, t)
}

func (f *faultyStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if err := f.err("GetTask"); err != nil {
		return nil, err
	}
	return f.Memory.GetTask(ctx, id)
}

func (f *faultyStore) AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	f.runHook("AddTaskRef")
	if err := f.err("AddTaskRef"); err != nil {
		return false, err
	}
	return f.Memory.AddTaskRef(ctx, sectionID, taskID)
}

func (f *faultyStore) SaveTask(ctx context.Context, t domain.Task) error {
	f.runHook("SaveTask")
	return f.Memory.SaveTask(ctx, t)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPublisher) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingPublisher) Last() domain.Event {
	evs := r.Events()
	if len(evs) == 0 {
		return domain.Event{}
	}
	return evs[len(evs)-1]
}

type fakeCache struct {
	mu       sync.Mutex
	board    []domain.BoardSection
	gen      int64
	loads    int
	hits     int
	evicts   int
	storedAt int64
}

func (c *fakeCache) Load(context.Context) ([]domain.BoardSection, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.board == nil {
		return nil, c.gen, false
	}
	c.hits++
	return c.board, c.gen, true
}

func (c *fakeCache) Store(_ context.Context, gen int64, sections []domain.BoardSection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.board = sections
	c.storedAt = gen
}

func (c *fakeCache) Evict(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicts++
	c.gen++
	c.board = nil
}

var due = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func taskInput(name, section string) domain.TaskInput {
	return domain.TaskInput{Name: name, Description: "d", DueDate: due, Assignee: " sam ", Section: section}
}
