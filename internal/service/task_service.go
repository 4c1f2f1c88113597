// Package service defines the resource services consumed by the local API.
// Each service owns its cache keys, fetch functions, and mutation
// descriptors; all reads flow through the query cache and all writes flow
// through its mutation pathway, so cached data stays consistent with the
// backend.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/eventbus"
	"github.com/viralboost/boostd/internal/querycache"
)

// Task is one micro-task offered to the user.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Reward      float64 `json:"reward"`
	Status      string  `json:"status"`
}

// TaskPage is one cached page of tasks.
type TaskPage struct {
	Tasks      []Task             `json:"tasks"`
	Pagination backend.Pagination `json:"pagination"`
}

// TaskCompletion is the backend's response to completing a task.
type TaskCompletion struct {
	TaskID string  `json:"task_id"`
	Reward float64 `json:"reward"`
}

// TaskService exposes task browsing and completion.
type TaskService interface {
	// ListTasks returns one page of available tasks, served from cache
	// when fresh.
	ListTasks(ctx context.Context, page, limit int, search string) (*TaskPage, error)
	// CompleteTask submits a task completion. On success the completed
	// task is patched out of every cached page and the wallet refetches.
	CompleteTask(ctx context.Context, taskID string) (*TaskCompletion, error)
}

type taskServiceImpl struct {
	cache  *querycache.Coordinator
	client *backend.Client
	events EventPublisher
	logger *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(cache *querycache.Coordinator, client *backend.Client, events EventPublisher, logger *slog.Logger) TaskService {
	return &taskServiceImpl{cache: cache, client: client, events: events, logger: logger}
}

func taskKey(page, limit int, search string) querycache.Key {
	return querycache.NewKey("tasks", page, limit, search)
}

func (s *taskServiceImpl) ListTasks(ctx context.Context, page, limit int, search string) (*TaskPage, error) {
	fetch := func(fctx context.Context) (any, error) {
		q := backend.ListQuery{Page: page, Limit: limit}
		if search != "" {
			q.Filters = map[string][]string{"search": {search}}
		}
		raw, err := s.client.List(fctx, "/tasks", q)
		if err != nil {
			return nil, err
		}
		return decodeTaskPage(raw)
	}

	v, err := s.cache.Query(ctx, taskKey(page, limit, search), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	page2, ok := v.(*TaskPage)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for tasks", v)
	}
	return page2, nil
}

func (s *taskServiceImpl) CompleteTask(ctx context.Context, taskID string) (*TaskCompletion, error) {
	if taskID == "" {
		return nil, &ValidationError{Field: "task_id", Message: "must not be empty"}
	}

	desc := querycache.Descriptor{
		Run: func(rctx context.Context, _ any) (any, error) {
			data, err := s.client.Mutate(rctx, http.MethodPost, "/tasks/"+taskID+"/complete", nil)
			if err != nil {
				return nil, err
			}
			var completion TaskCompletion
			if err := json.Unmarshal(data, &completion); err != nil {
				return nil, fmt.Errorf("decoding task completion: %w", err)
			}
			return &completion, nil
		},
		OnSuccess: []querycache.Effect{
			// Remove the completed task from every cached page immediately,
			// without a network round-trip.
			querycache.PatchWithResult(querycache.NewKey("tasks"), removeCompletedTask),
			// Balance changed server-side; actively watched wallet entries
			// refetch right away.
			querycache.Invalidate(querycache.NewKey("wallet")),
			querycache.Invalidate(querycache.NewKey("transactions")),
		},
	}

	result, err := s.cache.Mutate(ctx, desc, nil)
	if err != nil {
		return nil, err
	}
	completion, ok := result.(*TaskCompletion)
	if !ok {
		return nil, fmt.Errorf("unexpected mutation result %T for task completion", result)
	}

	s.events.Publish(eventbus.EventTaskCompleted, map[string]string{
		"task_id": completion.TaskID,
		"reward":  fmt.Sprintf("%.2f", completion.Reward),
	})
	return completion, nil
}

func decodeTaskPage(raw backend.ListPage) (*TaskPage, error) {
	page := &TaskPage{Tasks: make([]Task, 0, len(raw.Items)), Pagination: raw.Pagination}
	for _, item := range raw.Items {
		var t Task
		if err := json.Unmarshal(item, &t); err != nil {
			return nil, fmt.Errorf("decoding task record: %w", err)
		}
		page.Tasks = append(page.Tasks, t)
	}
	return page, nil
}

// removeCompletedTask is the PatchWithResult function applied to cached task
// pages after a completion succeeds.
func removeCompletedTask(existing any, result any) any {
	page, ok := existing.(*TaskPage)
	if !ok {
		return existing
	}
	completion, ok := result.(*TaskCompletion)
	if !ok {
		return existing
	}

	out := &TaskPage{
		Tasks:      make([]Task, 0, len(page.Tasks)),
		Pagination: page.Pagination,
	}
	for _, t := range page.Tasks {
		if t.ID == completion.TaskID {
			continue
		}
		out.Tasks = append(out.Tasks, t)
	}
	return out
}
