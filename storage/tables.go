package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/shuvam773/kanban/domain"
)

const (
	edmInt64 = "Edm.Int64"
	// maxETagRetries bounds the optimistic-concurrency loop on section lists.
	maxETagRetries = 8
)

var codec = sonic.ConfigStd

// tableKeys represents base table entity keys.
type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type sectionEntity struct {
	tableKeys
	Name          string `json:"Name"`
	Tasks         string `json:"Tasks"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type taskEntity struct {
	tableKeys
	Name          string `json:"Name"`
	Description   string `json:"Description"`
	DueDate       int64  `json:"DueDate,string"`
	DueDateType   string `json:"DueDate@odata.type"`
	Assignee      string `json:"Assignee"`
	Priority      string `json:"Priority"`
	Section       string `json:"Section,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (e sectionEntity) toDomain() (domain.Section, error) {
	ids := []string{}
	if e.Tasks != "" {
		if err := codec.UnmarshalFromString(e.Tasks, &ids); err != nil {
			return domain.Section{}, fmt.Errorf("decode section %s tasks: %w", e.RowKey, err)
		}
	}
	return domain.Section{
		ID:        e.RowKey,
		Name:      e.Name,
		Tasks:     ids,
		CreatedAt: fromMillis(e.CreatedAt),
		UpdatedAt: fromMillis(e.UpdatedAt),
	}, nil
}

func (s *Tables) newSectionEntity(sec domain.Section) (sectionEntity, error) {
	ids := sec.Tasks
	if ids == nil {
		ids = []string{}
	}
	list, err := codec.MarshalToString(ids)
	if err != nil {
		return sectionEntity{}, err
	}
	return sectionEntity{
		tableKeys:     tableKeys{PartitionKey: s.boardID, RowKey: sec.ID},
		Name:          sec.Name,
		Tasks:         list,
		CreatedAt:     toMillis(sec.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     toMillis(sec.UpdatedAt),
		UpdatedAtType: edmInt64,
	}, nil
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Name:        e.Name,
		Description: e.Description,
		DueDate:     fromMillis(e.DueDate),
		Assignee:    e.Assignee,
		Priority:    domain.Priority(e.Priority),
		Section:     e.Section,
		CreatedAt:   fromMillis(e.CreatedAt),
		UpdatedAt:   fromMillis(e.UpdatedAt),
	}
}

func (s *Tables) newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		tableKeys:     tableKeys{PartitionKey: s.boardID, RowKey: t.ID},
		Name:          t.Name,
		Description:   t.Description,
		DueDate:       toMillis(t.DueDate),
		DueDateType:   edmInt64,
		Assignee:      t.Assignee,
		Priority:      string(t.Priority),
		Section:       t.Section,
		CreatedAt:     toMillis(t.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     toMillis(t.UpdatedAt),
		UpdatedAtType: edmInt64,
	}
}

// Tables stores the board in two Azure Storage tables partitioned by board
// id. A section's task list is a JSON column guarded by the entity ETag.
type Tables struct {
	sectionTable *aztables.Client
	taskTable    *aztables.Client
	boardID      string
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, sectionsTable, tasksTable, boardID string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		sectionTable: svc.NewClient(sectionsTable),
		taskTable:    svc.NewClient(tasksTable),
		boardID:      boardID,
	}, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func (s *Tables) partitionFilter() *string {
	filter := "PartitionKey eq '" + s.boardID + "'"
	return &filter
}

func (s *Tables) ListSections(ctx context.Context) ([]domain.Section, error) {
	pager := s.sectionTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: s.partitionFilter()})
	out := []domain.Section{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sections: %w", err)
		}
		for _, raw := range resp.Entities {
			var ent sectionEntity
			if err := codec.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			sec, err := ent.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, sec)
		}
	}
	sortSections(out)
	return out, nil
}

func (s *Tables) getSection(ctx context.Context, id string) (*domain.Section, azcore.ETag, error) {
	resp, err := s.sectionTable.GetEntity(ctx, s.boardID, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("get section %s: %w", id, err)
	}
	var ent sectionEntity
	if err := codec.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	sec, err := ent.toDomain()
	if err != nil {
		return nil, "", err
	}
	return &sec, resp.ETag, nil
}

func (s *Tables) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	sec, _, err := s.getSection(ctx, id)
	return sec, err
}

func (s *Tables) InsertSection(ctx context.Context, sec domain.Section) error {
	ent, err := s.newSectionEntity(sec)
	if err != nil {
		return err
	}
	payload, err := codec.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.sectionTable.AddEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

// mutateSection applies fn to the stored section and writes it back guarded
// by the ETag it was read with, retrying on concurrent modification. fn
// returns false to skip the write.
func (s *Tables) mutateSection(ctx context.Context, id string, fn func(*domain.Section) bool) (bool, error) {
	for attempt := 0; attempt < maxETagRetries; attempt++ {
		sec, etag, err := s.getSection(ctx, id)
		if err != nil {
			return false, err
		}
		if sec == nil {
			return false, domain.SectionNotFound(id)
		}
		if !fn(sec) {
			return false, nil
		}
		ent, err := s.newSectionEntity(*sec)
		if err != nil {
			return false, err
		}
		payload, err := codec.Marshal(ent)
		if err != nil {
			return false, err
		}
		_, err = s.sectionTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return true, nil
		}
		if !isStatus(err, http.StatusPreconditionFailed) {
			return false, fmt.Errorf("update section %s: %w", id, err)
		}
	}
	return false, domain.ErrConcurrencyConflict
}

func (s *Tables) UpdateSection(ctx context.Context, sec domain.Section) error {
	_, err := s.mutateSection(ctx, sec.ID, func(cur *domain.Section) bool {
		cur.Name = sec.Name
		cur.UpdatedAt = sec.UpdatedAt
		return true
	})
	return err
}

func (s *Tables) DeleteSection(ctx context.Context, id string) error {
	if _, err := s.sectionTable.DeleteEntity(ctx, s.boardID, id, nil); err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete section: %w", err)
	}
	return nil
}

func (s *Tables) AddTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	return s.mutateSection(ctx, sectionID, func(sec *domain.Section) bool {
		if slices.Contains(sec.Tasks, taskID) {
			return false
		}
		sec.Tasks = append(sec.Tasks, taskID)
		return true
	})
}

func (s *Tables) RemoveTaskRef(ctx context.Context, sectionID, taskID string) (bool, error) {
	removed, err := s.mutateSection(ctx, sectionID, func(sec *domain.Section) bool {
		n := len(sec.Tasks)
		sec.Tasks = slices.DeleteFunc(sec.Tasks, func(id string) bool { return id == taskID })
		return len(sec.Tasks) != n
	})
	if domain.IsNotFound(err) {
		return false, nil
	}
	return removed, err
}

func (s *Tables) listTasks(ctx context.Context, filter *string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: filter})
	out := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := codec.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent.toDomain())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *Tables) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.listTasks(ctx, s.partitionFilter())
}

func (s *Tables) TasksBySection(ctx context.Context, sectionID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + s.boardID + "' and Section eq '" + sectionID + "'"
	return s.listTasks(ctx, &filter)
}

func (s *Tables) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, s.boardID, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var ent taskEntity
	if err := codec.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	t := ent.toDomain()
	return &t, nil
}

// CreateTask inserts the task and appends it to its section. Tables have no
// cross-table transaction, so a failed append deletes the task again.
func (s *Tables) CreateTask(ctx context.Context, t domain.Task) error {
	payload, err := codec.Marshal(s.newTaskEntity(t))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if _, err := s.AddTaskRef(ctx, t.Section, t.ID); err != nil {
		if _, derr := s.taskTable.DeleteEntity(ctx, s.boardID, t.ID, nil); derr != nil && !isStatus(derr, http.StatusNotFound) {
			return errors.Join(err, fmt.Errorf("rollback task %s: %w", t.ID, derr))
		}
		return err
	}
	return nil
}

// taskContentUpdate merges the editable task fields, leaving Section and
// CreatedAt untouched.
type taskContentUpdate struct {
	tableKeys
	Name          string `json:"Name"`
	Description   string `json:"Description"`
	DueDate       int64  `json:"DueDate,string"`
	DueDateType   string `json:"DueDate@odata.type"`
	Assignee      string `json:"Assignee"`
	Priority      string `json:"Priority"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type taskSectionUpdate struct {
	tableKeys
	Section       string `json:"Section"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// mergeTask merges the entity built by build into the stored task, guarded by
// the ETag it was read with. UpdatedAt never moves backwards, so a write
// stamped before a concurrent one cannot hide it.
func (s *Tables) mergeTask(ctx context.Context, id string, updatedAt time.Time, build func(updatedAt int64) any) error {
	for attempt := 0; attempt < maxETagRetries; attempt++ {
		resp, err := s.taskTable.GetEntity(ctx, s.boardID, id, nil)
		if err != nil {
			if isStatus(err, http.StatusNotFound) {
				return domain.TaskNotFound(id)
			}
			return fmt.Errorf("get task %s: %w", id, err)
		}
		var cur taskEntity
		if err := codec.Unmarshal(resp.Value, &cur); err != nil {
			return err
		}
		payload, err := codec.Marshal(build(max(cur.UpdatedAt, toMillis(updatedAt))))
		if err != nil {
			return err
		}
		et := resp.ETag
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
		if err == nil {
			return nil
		}
		switch {
		case isStatus(err, http.StatusNotFound):
			return domain.TaskNotFound(id)
		case !isStatus(err, http.StatusPreconditionFailed):
			return fmt.Errorf("update task %s: %w", id, err)
		}
	}
	return domain.ErrConcurrencyConflict
}

func (s *Tables) SaveTask(ctx context.Context, t domain.Task) error {
	return s.mergeTask(ctx, t.ID, t.UpdatedAt, func(updatedAt int64) any {
		return taskContentUpdate{
			tableKeys:     tableKeys{PartitionKey: s.boardID, RowKey: t.ID},
			Name:          t.Name,
			Description:   t.Description,
			DueDate:       toMillis(t.DueDate),
			DueDateType:   edmInt64,
			Assignee:      t.Assignee,
			Priority:      string(t.Priority),
			UpdatedAt:     updatedAt,
			UpdatedAtType: edmInt64,
		}
	})
}

func (s *Tables) SetTaskSection(ctx context.Context, id, sectionID string, updatedAt time.Time) error {
	return s.mergeTask(ctx, id, updatedAt, func(ms int64) any {
		return taskSectionUpdate{
			tableKeys:     tableKeys{PartitionKey: s.boardID, RowKey: id},
			Section:       sectionID,
			UpdatedAt:     ms,
			UpdatedAtType: edmInt64,
		}
	})
}

func (s *Tables) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, s.boardID, id, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if _, err := s.RemoveTaskRef(ctx, t.Section, id); err != nil {
		return t, fmt.Errorf("remove task ref: %w", err)
	}
	return t, nil
}

func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.sectionTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top, Filter: s.partitionFilter()})
	_, err := pager.NextPage(ctx)
	return err
}
