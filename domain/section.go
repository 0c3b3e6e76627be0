package domain

import (
	"strings"
	"time"
)

// Section is a named column on the board. Tasks holds the ordered ids of the
// tasks it owns.
type Section struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Tasks     []string  `json:"tasks"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BoardSection is the client-facing projection of a section with its tasks
// embedded in list order.
type BoardSection struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SectionInput carries the fields accepted when creating a section.
type SectionInput struct {
	Name              string `json:"name"`
	SelectedSectionID string `json:"selectedSectionId,omitempty"`
}

// Validate checks the input and returns the trimmed name.
func (in SectionInput) Validate() (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "section name is required"}
	}
	return name, nil
}

// HasTask reports whether the section list contains id.
func (s Section) HasTask(id string) bool {
	for _, t := range s.Tasks {
		if t == id {
			return true
		}
	}
	return false
}

// Header returns the section without its task list.
func (s Section) Header() BoardSection {
	return BoardSection{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Tasks: []Task{}}
}

// Less orders sections for display: oldest first, ties broken by id.
func Less(aCreated time.Time, aID string, bCreated time.Time, bID string) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.Before(bCreated)
	}
	return aID < bID
}
