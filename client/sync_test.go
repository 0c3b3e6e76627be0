package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/shuvam773/kanban/board"
	"github.com/shuvam773/kanban/domain"
)

// startSync runs s until the test ends and waits for the first full fetch.
func startSync(t *testing.T, c *Client, opts ...SyncOption) *Sync {
	t.Helper()
	logger, _ := test.NewNullLogger()
	fetched := make(chan struct{}, 1)
	opts = append(opts, WithBackoff(10*time.Millisecond, 50*time.Millisecond), WithOnChange(func([]domain.BoardSection) {
		select {
		case fetched <- struct{}{}:
		default:
		}
	}))
	s := NewSync(c, board.NewCache(), logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never fetched the board")
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countTask(sections []domain.BoardSection, id string) int {
	n := 0
	for _, s := range sections {
		for _, task := range s.Tasks {
			if task.ID == id {
				n++
			}
		}
	}
	return n
}

// layout renders each section as "name:task,task" in board order.
func layout(sections []domain.BoardSection) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		ids := make([]string, 0, len(s.Tasks))
		for _, task := range s.Tasks {
			ids = append(ids, task.ID+"@"+task.Section)
		}
		out = append(out, s.ID+"/"+s.Name+":"+strings.Join(ids, ","))
	}
	return out
}

func TestSyncConvergesWithServer(t *testing.T) {
	srv := newStack(t)
	other := newClient(srv.URL)
	ctx := context.Background()

	todo, err := other.CreateSection(ctx, domain.SectionInput{Name: "Todo"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	s := startSync(t, newClient(srv.URL))
	if got := s.Cache().Sections(); len(got) != 1 || got[0].ID != todo.ID {
		t.Fatalf("initial fetch missed the board: %+v", got)
	}

	// Own mutation: the response and the broadcast echo land on one copy.
	own, err := s.CreateTask(ctx, taskInput("own", todo.ID))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if n := countTask(s.Cache().Sections(), own.ID); n != 1 {
		t.Fatalf("expected response applied once, got %d copies", n)
	}

	// Someone else's mutations arrive through the stream.
	done, err := other.CreateSection(ctx, domain.SectionInput{Name: "Done"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	theirs, err := other.CreateTask(ctx, taskInput("theirs", done.ID))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	waitFor(t, "remote task", func() bool {
		_, section, ok := s.Cache().Task(theirs.ID)
		return ok && section == done.ID
	})

	if _, _, err := other.MoveTask(ctx, domain.MoveInput{TaskID: own.ID, SourceSectionID: todo.ID, DestinationSectionID: done.ID}); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "remote move", func() bool {
		_, section, ok := s.Cache().Task(own.ID)
		return ok && section == done.ID
	})

	waitFor(t, "cache to match server", func() bool {
		remote, version, err := other.Sections(ctx)
		if err != nil {
			return false
		}
		return s.Cache().Version() == version && reflect.DeepEqual(layout(remote), layout(s.Cache().Sections()))
	})
	if n := countTask(s.Cache().Sections(), own.ID); n != 1 {
		t.Fatalf("expected one copy of moved task, got %d", n)
	}
}

func TestSyncFailedMoveLeavesCacheUnchanged(t *testing.T) {
	srv := newStack(t)
	c := newClient(srv.URL)
	ctx := context.Background()
	todo, err := c.CreateSection(ctx, domain.SectionInput{Name: "Todo"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	task, err := c.CreateTask(ctx, taskInput("a", todo.ID))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	s := startSync(t, c, WithResyncOnFailure())
	before := s.Cache().Sections()

	_, err = s.MoveTask(ctx, domain.MoveInput{TaskID: task.ID, SourceSectionID: todo.ID, DestinationSectionID: "missing"})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if after := s.Cache().Sections(); !reflect.DeepEqual(layout(before), layout(after)) {
		t.Fatalf("failed move changed the cache:\n%+v\n%+v", before, after)
	}
	if _, section, ok := s.Cache().Task(task.ID); !ok || section != todo.ID {
		t.Fatalf("task left its section")
	}
}

func TestSyncDeletesFoldIntoCache(t *testing.T) {
	srv := newStack(t)
	c := newClient(srv.URL)
	ctx := context.Background()
	s := startSync(t, c)

	sec, err := s.CreateSection(ctx, domain.SectionInput{Name: "Todo"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	task, err := s.CreateTask(ctx, taskInput("a", sec.ID))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, _, ok := s.Cache().Task(task.ID); ok {
		t.Fatal("deleted task still cached")
	}
	if err := s.DeleteSection(ctx, sec.ID); err != nil {
		t.Fatalf("delete section: %v", err)
	}

	// Late echoes of the creates must not bring anything back.
	waitFor(t, "stream to catch up", func() bool { return s.Cache().Version() == 4 })
	if got := s.Cache().Sections(); len(got) != 0 {
		t.Fatalf("expected empty board, got %+v", got)
	}
}

// A version gap in the stream triggers a full refetch.
func TestSyncRefetchesOnGap(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := []domain.BoardSection{{ID: "s1", Name: "Todo", Tasks: []domain.Task{}, CreatedAt: created, UpdatedAt: created}}
	second := append(append([]domain.BoardSection(nil), first...),
		domain.BoardSection{ID: "s2", Name: "Done", Tasks: []domain.Task{}, CreatedAt: created.Add(time.Second), UpdatedAt: created.Add(time.Second)})

	var fetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/section", func(w http.ResponseWriter, r *http.Request) {
		sections, version := first, "1"
		if fetches.Add(1) > 1 {
			sections, version = second, "3"
		}
		body, _ := sonic.Marshal(sections)
		w.Header().Set(headerBoardVersion, version)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "id: 1\nevent: ready\ndata: {\"version\":1}\n\n")
		flusher.Flush()
		// Wait for the first fetch so the frame below is judged against it.
		for fetches.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		data, _ := sonic.MarshalString(domain.Event{
			Type:    domain.SectionUpdated,
			BoardID: boardID,
			Version: 3,
			Section: &domain.Section{ID: "s1", Name: "Todo", Tasks: []string{}, CreatedAt: created, UpdatedAt: created},
		})
		_, _ = fmt.Fprintf(w, "id: 3\nevent: section-updated\ndata: %s\n\n", data)
		flusher.Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := startSync(t, newClient(srv.URL))
	waitFor(t, "refetch", func() bool { return fetches.Load() == 2 })
	waitFor(t, "refetched board", func() bool {
		return len(s.Cache().Sections()) == 2 && s.Cache().Version() == 3
	})
}

// A refetch requested by a failed mutation must not roll back events that
// arrive while it is in flight.
func TestSyncResyncAfterFailureKeepsNewerEvents(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := []domain.BoardSection{{ID: "s1", Name: "Todo", Tasks: []domain.Task{}, CreatedAt: created, UpdatedAt: created}}

	var fetches atomic.Int32
	refetching := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/api/section", func(w http.ResponseWriter, r *http.Request) {
		if fetches.Add(1) > 1 {
			once.Do(func() { close(refetching) })
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		body, _ := sonic.Marshal(first)
		w.Header().Set(headerBoardVersion, "1")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/api/task", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"message":"name is required"}`)
	})
	mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "id: 1\nevent: ready\ndata: {\"version\":1}\n\n")
		flusher.Flush()
		select {
		case <-refetching:
		case <-r.Context().Done():
			return
		}
		data, _ := sonic.MarshalString(domain.Event{
			Type:    domain.TaskAdded,
			BoardID: boardID,
			Version: 2,
			Task:    &domain.Task{ID: "t1", Name: "late", Section: "s1", CreatedAt: created, UpdatedAt: created},
		})
		_, _ = fmt.Fprintf(w, "id: 2\nevent: task-added\ndata: %s\n\n", data)
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)
		close(release)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := startSync(t, newClient(srv.URL), WithResyncOnFailure())
	if _, err := s.CreateTask(context.Background(), taskInput("", "s1")); err == nil {
		t.Fatal("expected the create to fail")
	}

	waitFor(t, "event after refetch", func() bool {
		_, _, ok := s.Cache().Task("t1")
		return ok && s.Cache().Version() == 2
	})
	time.Sleep(20 * time.Millisecond)
	if _, section, ok := s.Cache().Task("t1"); !ok || section != "s1" {
		t.Fatalf("refetch dropped a newer event")
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("expected the initial fetch and one refetch, got %d", n)
	}
}
