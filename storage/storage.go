package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard/domain"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("storage: task not found")
	// ErrUnsupportedOrder is returned for queries not ordered by creation time.
	ErrUnsupportedOrder = errors.New("storage: unsupported order field")
	// ErrMissingOwner is returned for queries and records without an owner.
	ErrMissingOwner = errors.New("storage: owner is required")
)

// Backend is the durable task collection.
type Backend interface {
	List(ctx context.Context, owner string) ([]domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Insert(ctx context.Context, task domain.Task) (domain.Task, error)
	Delete(ctx context.Context, owner, id string) error
}

// Tables stores tasks in an Azure table. Rows are partitioned by owner and
// keyed by task id.
type Tables struct {
	table *aztables.Client
	newID func() string
}

// New creates a Tables backend from the given connection string.
func New(connStr, tasksTable string) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tasksTable), newID: uuid.NewString}, nil
}

type taskEntity struct {
	aztables.Entity
	Text      string `json:"Text"`
	IsPublic  bool   `json:"IsPublic"`
	Owner     string `json:"Owner"`
	CreatedAt string `json:"CreatedAt"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:       ent.RowKey,
		Text:     ent.Text,
		IsPublic: ent.IsPublic,
		Owner:    ent.Owner,
	}
	if task.Owner == "" {
		task.Owner = ent.PartitionKey
	}
	if ent.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
		if err != nil {
			return domain.Task{}, err
		}
		task.CreatedAt = ts.UTC()
	}
	return task, nil
}

func encodeTaskEntity(task domain.Task) ([]byte, error) {
	ent := map[string]any{
		"PartitionKey": task.Owner,
		"RowKey":       task.ID,
		"Text":         task.Text,
		"IsPublic":     task.IsPublic,
		"Owner":        task.Owner,
		"CreatedAt":    task.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(ent)
}

// odataString quotes s for use in a table filter expression.
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// List retrieves all tasks of owner, newest first.
func (t *Tables) List(ctx context.Context, owner string) ([]domain.Task, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	filter := "PartitionKey eq " + odataString(owner)
	tasks, err := t.list(ctx, &aztables.ListEntitiesOptions{Filter: &filter})
	if err != nil {
		return nil, err
	}
	domain.SortTasks(tasks, true)
	return tasks, nil
}

// Get looks a task up by id across all owners.
func (t *Tables) Get(ctx context.Context, id string) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, ErrNotFound
	}
	filter := "RowKey eq " + odataString(id)
	top := int32(1)
	tasks, err := t.list(ctx, &aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, ErrNotFound
	}
	return tasks[0], nil
}

func (t *Tables) list(ctx context.Context, opts *aztables.ListEntitiesOptions) ([]domain.Task, error) {
	pager := t.table.NewListEntitiesPager(opts)
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
		if opts.Top != nil && len(tasks) >= int(*opts.Top) {
			break
		}
	}
	return tasks, nil
}

// Insert adds task under a freshly generated id.
func (t *Tables) Insert(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.Owner == "" {
		return domain.Task{}, ErrMissingOwner
	}
	task.ID = t.newID()
	payload, err := encodeTaskEntity(task)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := t.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// Delete removes a task of owner. Missing rows are not an error.
func (t *Tables) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return ErrMissingOwner
	}
	if id == "" {
		return nil
	}
	_, err := t.table.DeleteEntity(ctx, owner, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}
