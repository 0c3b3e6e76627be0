package domain

// EventType names a broadcast event kind.
type EventType string

const (
	SectionAdded   EventType = "section-added"
	SectionUpdated EventType = "section-updated"
	SectionDeleted EventType = "section-deleted"
	TaskAdded      EventType = "task-added"
	TaskUpdated    EventType = "task-updated"
	TaskMoved      EventType = "task-moved"
	TaskDeleted    EventType = "task-deleted"
)

// Event is the envelope broadcast to every subscriber of a board after a
// committed mutation. Payload fields are populated according to Type and
// always carry the full post-mutation state of the entity.
type Event struct {
	Type                 EventType `json:"type"`
	BoardID              string    `json:"boardId"`
	Version              int64     `json:"version"`
	Section              *Section  `json:"section,omitempty"`
	SectionID            string    `json:"sectionId,omitempty"`
	TaskIDs              []string  `json:"taskIds,omitempty"`
	Task                 *Task     `json:"task,omitempty"`
	TaskID               string    `json:"taskId,omitempty"`
	SourceSectionID      string    `json:"sourceSectionId,omitempty"`
	DestinationSectionID string    `json:"destinationSectionId,omitempty"`
}

func NewSectionAdded(boardID string, s Section) Event {
	return Event{Type: SectionAdded, BoardID: boardID, Section: &s}
}

func NewSectionUpdated(boardID string, s Section) Event {
	return Event{Type: SectionUpdated, BoardID: boardID, Section: &s}
}

func NewSectionDeleted(boardID, sectionID string, taskIDs []string) Event {
	return Event{Type: SectionDeleted, BoardID: boardID, SectionID: sectionID, TaskIDs: taskIDs}
}

func NewTaskAdded(boardID string, t Task) Event {
	return Event{Type: TaskAdded, BoardID: boardID, Task: &t, SectionID: t.Section}
}

func NewTaskUpdated(boardID string, t Task) Event {
	return Event{Type: TaskUpdated, BoardID: boardID, Task: &t}
}

func NewTaskMoved(boardID, sourceID string, t Task) Event {
	return Event{
		Type:                 TaskMoved,
		BoardID:              boardID,
		TaskID:               t.ID,
		SourceSectionID:      sourceID,
		DestinationSectionID: t.Section,
		Task:                 &t,
	}
}

func NewTaskDeleted(boardID string, t Task) Event {
	return Event{Type: TaskDeleted, BoardID: boardID, TaskID: t.ID, SectionID: t.Section}
}

// Violation describes a broken section/task reference pair found by an
// integrity check.
type Violation struct {
	Kind      ViolationKind `json:"kind"`
	TaskID    string        `json:"taskId"`
	SectionID string        `json:"sectionId"`
}

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	// MissingRef: the task names a section whose list lacks the task.
	MissingRef ViolationKind = "missing-ref"
	// StaleRef: a section list holds a task that names another section.
	StaleRef ViolationKind = "stale-ref"
	// DanglingRef: a section list holds an id with no task behind it.
	DanglingRef ViolationKind = "dangling-ref"
	// OrphanTask: the task names a section that does not exist.
	OrphanTask ViolationKind = "orphan-task"
	// DuplicateRef: a section list holds the same id more than once.
	DuplicateRef ViolationKind = "duplicate-ref"
)
