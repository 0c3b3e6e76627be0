package client

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/board"
	"github.com/shuvam773/kanban/domain"
)

const (
	readyEvent = "ready"

	defaultMinBackoff = time.Second
	defaultMaxBackoff = 5 * time.Second
)

// SyncOption configures a Sync.
type SyncOption func(*Sync)

// WithResyncOnFailure refetches the whole board after a failed mutation.
// The refetch is made by Run.
func WithResyncOnFailure() SyncOption {
	return func(s *Sync) { s.resyncOnFailure = true }
}

// WithOnChange registers a callback that receives the board after every
// change to the cache.
func WithOnChange(fn func([]domain.BoardSection)) SyncOption {
	return func(s *Sync) { s.onChange = fn }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(initial, limit time.Duration) SyncOption {
	return func(s *Sync) {
		s.minBackoff = initial
		s.maxBackoff = limit
	}
}

// Sync keeps a board.Cache converged with the server: it subscribes to the
// event stream, fetches the full board, then applies events until the
// stream drops or the cache reports a gap, in which case it refetches.
// Mutations made through Sync fold the REST response into the cache; the
// broadcast echo of the same change is then a no-op. Full fetches only ever
// replace the cache from the Run loop, in order with the events it applies.
type Sync struct {
	client *Client
	cache  *board.Cache
	logger *log.Logger

	resyncOnFailure bool
	onChange        func([]domain.BoardSection)
	minBackoff      time.Duration
	maxBackoff      time.Duration

	resync chan struct{}
}

func NewSync(c *Client, cache *board.Cache, logger *log.Logger, opts ...SyncOption) *Sync {
	s := &Sync{
		client:     c,
		cache:      cache,
		logger:     logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		resync:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sync) Cache() *board.Cache { return s.cache }

// RequestResync asks Run to refetch the board. Requests made while Run is
// reconnecting are served by the fetch every connection starts with.
func (s *Sync) RequestResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Run streams until ctx is cancelled. Connection failures are retried with
// exponential backoff; every reconnect starts from a full fetch.
func (s *Sync) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		synced, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			backoff = s.minBackoff
		}
		s.logger.WithError(err).WithField("retry_in", backoff).Warn("board stream interrupted")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// session runs one stream connection. The stream is opened before the fetch
// so nothing committed in between is missed; events already reflected in the
// fetch are skipped by version. synced reports whether the initial fetch
// succeeded.
func (s *Sync) session(ctx context.Context) (synced bool, err error) {
	stream, err := s.client.Stream(ctx)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	ready, err := stream.Next()
	if err != nil {
		return false, err
	}
	if ready.Event != readyEvent {
		return false, errors.New("stream did not start with a ready frame")
	}
	// This fetch covers any refetch requested before the connection.
	select {
	case <-s.resync:
	default:
	}
	if err := s.fetch(ctx); err != nil {
		return false, err
	}

	done := make(chan struct{})
	defer close(done)
	frames := make(chan Frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			return true, err
		case <-s.resync:
			if err := s.fetch(ctx); err != nil {
				return true, err
			}
		case frame := <-frames:
			if err := s.apply(ctx, frame); err != nil {
				return true, err
			}
		}
	}
}

func (s *Sync) apply(ctx context.Context, frame Frame) error {
	if frame.Event == readyEvent {
		return nil
	}
	var ev domain.Event
	if err := sonic.Unmarshal(frame.Data, &ev); err != nil {
		s.logger.WithError(err).WithField("event", frame.Event).Warn("dropping malformed event")
		return nil
	}
	if ev.Version == 0 {
		ev.Version = frame.Version()
	}
	out := s.cache.Apply(ev)
	if out.Stale {
		s.logger.WithFields(log.Fields{"event": ev.Type, "version": ev.Version}).Info("board cache stale, refetching")
		return s.fetch(ctx)
	}
	if out.Changed {
		s.notify()
	}
	return nil
}

// fetch replaces the cache with a full fetch.
func (s *Sync) fetch(ctx context.Context) error {
	sections, version, err := s.client.Sections(ctx)
	if err != nil {
		return err
	}
	s.cache.Reset(sections, version)
	s.notify()
	return nil
}

func (s *Sync) notify() {
	if s.onChange != nil {
		s.onChange(s.cache.Sections())
	}
}

func (s *Sync) fold(out board.Outcome) {
	if out.Changed {
		s.notify()
	}
}

// failed leaves the cache untouched and optionally asks Run to refetch.
func (s *Sync) failed(op string, err error) error {
	s.logger.WithError(err).WithField("op", op).Warn("mutation failed")
	if s.resyncOnFailure {
		s.RequestResync()
	}
	return err
}

func (s *Sync) CreateSection(ctx context.Context, in domain.SectionInput) (domain.Section, error) {
	sec, err := s.client.CreateSection(ctx, in)
	if err != nil {
		return sec, s.failed("CreateSection", err)
	}
	s.fold(s.cache.AddSection(sec))
	return sec, nil
}

func (s *Sync) UpdateSection(ctx context.Context, id, name string) (domain.Section, error) {
	sec, err := s.client.UpdateSection(ctx, id, name)
	if err != nil {
		return sec, s.failed("UpdateSection", err)
	}
	s.fold(s.cache.UpdateSection(sec))
	return sec, nil
}

func (s *Sync) DeleteSection(ctx context.Context, id string) error {
	taskIDs, err := s.client.DeleteSection(ctx, id)
	if err != nil {
		return s.failed("DeleteSection", err)
	}
	s.fold(s.cache.RemoveSection(id, taskIDs))
	return nil
}

func (s *Sync) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	t, err := s.client.CreateTask(ctx, in)
	if err != nil {
		return t, s.failed("CreateTask", err)
	}
	s.fold(s.cache.UpsertTask(t))
	return t, nil
}

func (s *Sync) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := s.client.UpdateTask(ctx, id, patch)
	if err != nil {
		return t, s.failed("UpdateTask", err)
	}
	s.fold(s.cache.UpsertTask(t))
	return t, nil
}

func (s *Sync) DeleteTask(ctx context.Context, id string) error {
	if err := s.client.DeleteTask(ctx, id); err != nil {
		return s.failed("DeleteTask", err)
	}
	s.fold(s.cache.RemoveTask(id))
	return nil
}

// MoveTask applies the move to the cache only once the server committed it.
func (s *Sync) MoveTask(ctx context.Context, in domain.MoveInput) (domain.Task, error) {
	t, dest, err := s.client.MoveTask(ctx, in)
	if err != nil {
		return t, s.failed("MoveTask", err)
	}
	destID := dest.ID
	if destID == "" {
		destID = in.DestinationSectionID
	}
	s.fold(s.cache.MoveTask(t, destID))
	return t, nil
}
