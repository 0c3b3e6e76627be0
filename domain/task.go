package domain

import (
	"strings"
	"time"
)

// Priority is the optional urgency marker of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityUnset  Priority = ""
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityUnset:
		return true
	}
	return false
}

// Task is a single card on the board. Section is the id of the owning section.
type Task struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Assignee    string    `json:"assignee"`
	Priority    Priority  `json:"priority,omitempty"`
	Section     string    `json:"section"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Assignee    string    `json:"assignee"`
	Priority    Priority  `json:"priority,omitempty"`
	Section     string    `json:"section"`
}

// Normalize trims free text fields and validates the input.
func (in TaskInput) Normalize() (TaskInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Assignee = strings.TrimSpace(in.Assignee)
	in.Section = strings.TrimSpace(in.Section)
	in.Priority = Priority(strings.ToLower(strings.TrimSpace(string(in.Priority))))
	switch {
	case in.Name == "":
		return in, &ValidationError{Field: "name", Message: "task name is required"}
	case in.Description == "":
		return in, &ValidationError{Field: "description", Message: "task description is required"}
	case in.DueDate.IsZero():
		return in, &ValidationError{Field: "dueDate", Message: "task due date is required"}
	case in.Assignee == "":
		return in, &ValidationError{Field: "assignee", Message: "task assignee is required"}
	case in.Section == "":
		return in, &ValidationError{Field: "section", Message: "task section is required"}
	case !in.Priority.Valid():
		return in, &ValidationError{Field: "priority", Message: "priority must be high, medium or low"}
	}
	return in, nil
}

// TaskPatch is a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Assignee    *string    `json:"assignee,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
}

// Apply merges the patch into t. It returns whether any field changed.
func (p TaskPatch) Apply(t *Task) (bool, error) {
	changed := false
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return false, &ValidationError{Field: "name", Message: "task name is required"}
		}
		if name != t.Name {
			t.Name = name
			changed = true
		}
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if desc != t.Description {
			t.Description = desc
			changed = true
		}
	}
	if p.DueDate != nil {
		if p.DueDate.IsZero() {
			return false, &ValidationError{Field: "dueDate", Message: "task due date is required"}
		}
		if !p.DueDate.Equal(t.DueDate) {
			t.DueDate = *p.DueDate
			changed = true
		}
	}
	if p.Assignee != nil {
		assignee := strings.TrimSpace(*p.Assignee)
		if assignee != t.Assignee {
			t.Assignee = assignee
			changed = true
		}
	}
	if p.Priority != nil {
		pr := Priority(strings.ToLower(strings.TrimSpace(string(*p.Priority))))
		if !pr.Valid() {
			return false, &ValidationError{Field: "priority", Message: "priority must be high, medium or low"}
		}
		if pr != t.Priority {
			t.Priority = pr
			changed = true
		}
	}
	return changed, nil
}

// MoveInput names a task and the two sections involved in a move.
type MoveInput struct {
	TaskID               string `json:"taskId"`
	SourceSectionID      string `json:"sourceSectionId"`
	DestinationSectionID string `json:"destinationSectionId"`
}

// Validate checks that every id is present.
func (in MoveInput) Validate() error {
	switch {
	case strings.TrimSpace(in.TaskID) == "":
		return &ValidationError{Field: "taskId", Message: "task id is required"}
	case strings.TrimSpace(in.SourceSectionID) == "":
		return &ValidationError{Field: "sourceSectionId", Message: "source section id is required"}
	case strings.TrimSpace(in.DestinationSectionID) == "":
		return &ValidationError{Field: "destinationSectionId", Message: "destination section id is required"}
	}
	return nil
}
