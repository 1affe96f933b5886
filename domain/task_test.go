package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesPublicFlag(t *testing.T) {
	task := Task{ID: "t1", Text: "buy milk", Owner: "a@x.com"}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"isPublic\":false") {
		t.Fatalf("expected isPublic field to be present, got %s", payload)
	}
}

func TestSortTasksNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "b", CreatedAt: base.Add(time.Minute)},
		{ID: "d", CreatedAt: base.Add(time.Minute)},
	}

	SortTasks(tasks, true)

	got := make([]string, 0, len(tasks))
	for _, task := range tasks {
		got = append(got, task.ID)
	}
	if strings.Join(got, ",") != "c,d,b,a" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestSortTasksAscending(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "b", CreatedAt: base.Add(time.Second)},
		{ID: "a", CreatedAt: base},
	}

	SortTasks(tasks, false)

	if tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", tasks)
	}
}

func TestBlankText(t *testing.T) {
	cases := map[string]bool{
		"":         true,
		"   ":      true,
		"\n\t":     true,
		"buy milk": false,
		" x ":      false,
	}
	for in, want := range cases {
		if got := BlankText(in); got != want {
			t.Fatalf("BlankText(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOwnerQuery(t *testing.T) {
	q := OwnerQuery("a@x.com")
	if q.Owner != "a@x.com" || q.OrderBy != OrderByCreatedAt || !q.Descending {
		t.Fatalf("unexpected query: %+v", q)
	}
}
