package api

import (
	"context"

	"github.com/shuvam773/kanban/broadcast"
	"github.com/shuvam773/kanban/domain"
)

// Board is the mutation service behind the REST handlers.
type Board interface {
	BoardID() string
	Ping(ctx context.Context) error
	Snapshot(ctx context.Context) ([]domain.BoardSection, error)
	CreateSection(ctx context.Context, in domain.SectionInput) (domain.Section, error)
	UpdateSection(ctx context.Context, id, name string) (domain.Section, error)
	DeleteSection(ctx context.Context, id string) ([]string, error)
	Tasks(ctx context.Context, sectionID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (domain.Task, error)
	MoveTask(ctx context.Context, in domain.MoveInput) (domain.Task, domain.Section, error)
}

// Stream is the board room a connection joins for live events.
type Stream interface {
	Subscribe(boardID, connID string) *broadcast.Subscription
	Unsubscribe(boardID, connID string)
	Version(ctx context.Context, boardID string) int64
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// IdentityAuthenticator also reports the email and name a token carries.
type IdentityAuthenticator interface {
	Authenticator
	IdentityFromAuthHeader(string) (Identity, error)
}

// Deduper remembers responses by idempotency key.
type Deduper interface {
	// Begin claims key. It returns the stored response of a completed
	// request, or started=false while another request holds the key.
	Begin(ctx context.Context, scope, key string) (stored *StoredResponse, started bool, err error)
	// Complete stores the response for replay.
	Complete(ctx context.Context, scope, key string, resp StoredResponse) error
	// Abort releases a claimed key so the request can be retried.
	Abort(ctx context.Context, scope, key string) error
}

// StoredResponse is a replayable response.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type taskResponse struct {
	Message string      `json:"message"`
	Task    domain.Task `json:"task"`
}

type moveResponse struct {
	Message     string         `json:"message"`
	Task        domain.Task    `json:"task"`
	Destination domain.Section `json:"destination"`
}

type deleteSectionResponse struct {
	Message string   `json:"message"`
	TaskIDs []string `json:"taskIds"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type readyPayload struct {
	ConnectionID string `json:"connectionId"`
	BoardID      string `json:"boardId"`
	Version      int64  `json:"version"`
}
