package domain

import (
	"sort"
	"strings"
	"time"
)

// OrderByCreatedAt is the only sort field supported by task queries.
const OrderByCreatedAt = "createdAt"

// Task represents a single entry on a user's board.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsPublic  bool      `json:"isPublic"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// Query selects the tasks of one owner in a fixed order.
type Query struct {
	Owner      string
	OrderBy    string
	Descending bool
}

// OwnerQuery returns the board query for owner: newest first.
func OwnerQuery(owner string) Query {
	return Query{Owner: owner, OrderBy: OrderByCreatedAt, Descending: true}
}

// BlankText reports whether s has no visible content.
func BlankText(s string) bool {
	return strings.TrimSpace(s) == ""
}

// SortTasks orders tasks by creation time. Ties fall back to the id so the
// order is total and repeated snapshots compare equal.
func SortTasks(tasks []Task, descending bool) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if descending {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if descending {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}
