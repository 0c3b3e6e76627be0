package storage

import (
	"slices"
	"strings"

	"github.com/shuvam773/kanban/domain"
)

func sortSections(sections []domain.Section) {
	slices.SortFunc(sections, func(a, b domain.Section) int {
		if domain.Less(a.CreatedAt, a.ID, b.CreatedAt, b.ID) {
			return -1
		}
		if domain.Less(b.CreatedAt, b.ID, a.CreatedAt, a.ID) {
			return 1
		}
		return 0
	})
}

func sortTasks(tasks []domain.Task) {
	slices.SortFunc(tasks, func(a, b domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
