// Package service implements the board mutations: every operation keeps the
// section task lists and the task back-references in agreement, and hands one
// event per committed change to the broadcast gateway.
package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shuvam773/kanban/domain"
)

// InsertAfterGap is added to the selected section's creation time when a new
// section is inserted after it.
const InsertAfterGap = time.Second

const tracerName = "github.com/shuvam773/kanban/service"

// Store is the persistence the service needs. Reads of missing entities
// return nil, nil.
type Store interface {
	ListSections(ctx context.Context) ([]domain.Section, error)
	GetSection(ctx context.Context, id string) (*domain.Section, error)
	InsertSection(ctx context.Context, s domain.Section) error
	UpdateSection(ctx context.Context, s domain.Section) error
	DeleteSection(ctx context.Context, id string) error
	// AddTaskRef appends taskID to the section list unless it is already
	// there. It reports whether the list changed.
	AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error)
	RemoveTaskRef(ctx context.Context, sectionID, taskID string) (bool, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	TasksBySection(ctx context.Context, sectionID string) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// CreateTask inserts the task and appends it to its section atomically.
	CreateTask(ctx context.Context, t domain.Task) error
	SaveTask(ctx context.Context, t domain.Task) error
	SetTaskSection(ctx context.Context, id, sectionID string, updatedAt time.Time) error
	// DeleteTask removes the task and every list entry naming it.
	DeleteTask(ctx context.Context, id string) (*domain.Task, error)
	Ping(ctx context.Context) error
}

// Publisher receives the event of every committed mutation.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// SnapshotCache caches the assembled board.
type SnapshotCache interface {
	Load(ctx context.Context) ([]domain.BoardSection, int64, bool)
	Store(ctx context.Context, gen int64, sections []domain.BoardSection)
	Evict(ctx context.Context)
}

// BoardService runs section and task operations for one board.
type BoardService struct {
	store   Store
	pub     Publisher
	cache   SnapshotCache
	boardID string
	log     *log.Logger
	tracer  trace.Tracer
}

type Option func(*BoardService)

// WithSnapshotCache serves Snapshot through c and evicts it on every mutation.
func WithSnapshotCache(c SnapshotCache) Option {
	return func(s *BoardService) { s.cache = c }
}

func New(store Store, pub Publisher, boardID string, logger *log.Logger, opts ...Option) *BoardService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &BoardService{
		store:   store,
		pub:     pub,
		boardID: boardID,
		log:     logger,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BoardID returns the board this service mutates.
func (s *BoardService) BoardID() string { return s.boardID }

// Ping checks the backing store.
func (s *BoardService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

var lastMillis int64

// now returns a strictly increasing wall clock at millisecond precision, so
// later writes from this process always carry a later updatedAt.
func now() time.Time {
	for {
		ms := time.Now().UnixMilli()
		last := atomic.LoadInt64(&lastMillis)
		if ms <= last {
			ms = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastMillis, last, ms) {
			return time.UnixMilli(ms).UTC()
		}
	}
}

// storeErr classifies a store failure. Domain errors pass through; anything
// else becomes a TransientStoreError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *domain.NotFoundError
	var ve *domain.ValidationError
	var te *domain.TransientStoreError
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &te) {
		return err
	}
	return &domain.TransientStoreError{Op: op, Err: err}
}

// begin starts a span for op and detaches ctx from the caller's
// cancellation: once started, a mutation runs to completion.
func (s *BoardService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "board."+op,
		trace.WithAttributes(append(attrs, attribute.String("board.id", s.boardID))...))
	return ctx, span
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// commit evicts the cached board and publishes ev.
func (s *BoardService) commit(ctx context.Context, ev domain.Event) {
	if s.cache != nil {
		s.cache.Evict(ctx)
	}
	if s.pub != nil {
		s.pub.Publish(ctx, ev)
	}
}
