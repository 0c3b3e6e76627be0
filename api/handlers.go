package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/domain"
)

const (
	// HeaderBoardVersion carries the board version a GET /api/section
	// response is at least as new as.
	HeaderBoardVersion = "X-Board-Version"

	maxBodySize = 1 << 20

	defaultHeartbeat = 25 * time.Second
)

// Option configures Register.
type Option func(*options)

type options struct {
	heartbeat time.Duration
	checks    []healthCheck
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// WithHeartbeat sets the interval between SSE keep-alive comments.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithHealthCheck adds a dependency to GET /healthz.
func WithHealthCheck(name string, ping func(ctx context.Context) error) Option {
	return func(o *options) { o.checks = append(o.checks, healthCheck{name: name, ping: ping}) }
}

// Register wires up all API routes on the provided Echo instance. auth and
// dedupe may be nil.
func Register(e *echo.Echo, board Board, stream Stream, auth Authenticator, dedupe Deduper, logger *log.Logger, opts ...Option) {
	o := options{heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	g := e.Group("/api", observe(logger, board.BoardID()), GzipRequestMiddleware(), requireAuth(auth, false))
	once := idempotent(dedupe, logger)

	g.GET("/section", getSections(board, stream, logger))
	g.POST("/section", createSection(board, logger), once)
	g.PUT("/section/:id", updateSection(board, logger), once)
	g.DELETE("/section/:id", deleteSection(board, logger), once)

	g.GET("/task/:section", getTasks(board, logger))
	g.POST("/task", createTask(board, logger), once)
	g.PUT("/task/:taskId", updateTask(board, logger), once)
	g.DELETE("/task/:taskId", deleteTask(board, logger), once)
	g.PATCH("/task/move", moveTask(board, logger), once)

	g.GET("/auth/me", currentUser())

	e.GET("/api/stream", streamBoard(board, stream, logger, o.heartbeat), requireAuth(auth, true))
	e.GET("/healthz", healthz(board, o.checks))
}

// decodeJSON reads a bounded JSON body into v. strict rejects unknown fields.
func decodeJSON(c echo.Context, v any, strict bool) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Message: "invalid body"}
	}
	return nil
}

// currentUser reports the caller as the auth middleware resolved it.
func currentUser() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, identity(c))
	}
}

func getSections(board Board, stream Stream, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		// Read the version first: every event above it is newer than the
		// snapshot or already reflected in it.
		version := stream.Version(ctx, board.BoardID())
		sections, err := board.Snapshot(ctx)
		if err != nil {
			return writeError(c, logger, err)
		}
		c.Response().Header().Set(HeaderBoardVersion, strconv.FormatInt(version, 10))
		return c.JSON(http.StatusOK, sections)
	}
}

func createSection(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.SectionInput
		if err := decodeJSON(c, &in, true); err != nil {
			return writeError(c, logger, err)
		}
		sec, err := board.CreateSection(c.Request().Context(), in)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, sec)
	}
}

func updateSection(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in renameRequest
		if err := decodeJSON(c, &in, false); err != nil {
			return writeError(c, logger, err)
		}
		sec, err := board.UpdateSection(c.Request().Context(), c.Param("id"), in.Name)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, sec)
	}
}

func deleteSection(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ids, err := board.DeleteSection(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, deleteSectionResponse{Message: "Section deleted successfully", TaskIDs: ids})
	}
}

func getTasks(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := board.Tasks(c.Request().Context(), c.Param("section"))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func createTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.TaskInput
		if err := decodeJSON(c, &in, true); err != nil {
			return writeError(c, logger, err)
		}
		t, err := board.CreateTask(c.Request().Context(), in)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, taskResponse{Message: "Task added successfully", Task: t})
	}
}

// updateTask accepts the whole task as edit forms send it; fields outside
// the patch, such as the id or section, are ignored.
func updateTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeJSON(c, &patch, false); err != nil {
			return writeError(c, logger, err)
		}
		t, err := board.UpdateTask(c.Request().Context(), c.Param("taskId"), patch)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, taskResponse{Message: "Task updated successfully", Task: t})
	}
}

func deleteTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := board.DeleteTask(c.Request().Context(), c.Param("taskId")); err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Task deleted successfully"})
	}
}

func moveTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.MoveInput
		if err := decodeJSON(c, &in, true); err != nil {
			return writeError(c, logger, err)
		}
		t, dest, err := board.MoveTask(c.Request().Context(), in)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, moveResponse{Message: "Task moved successfully", Task: t, Destination: dest})
	}
}

func healthz(board Board, checks []healthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := board.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failed": "store"})
		}
		for _, check := range checks {
			if err := check.ping(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failed": check.name})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func newConnectionID() string { return uuid.NewString() }
