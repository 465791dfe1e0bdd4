package eden

import (
	"errors"
	"fmt"
)

// TaskStatus is the lifecycle state reported by the task service.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status will not change again.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one entry of a batch status response.
type Task struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
	// Creation references the result object once the task completed.
	Creation string `json:"creation,omitempty"`
}

// Creation is the result object of a completed task.
type Creation struct {
	ID   string `json:"_id"`
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ErrMissingCreation is returned when a creation lookup has no reference.
var ErrMissingCreation = errors.New("task has no creation reference")

// APIError carries a non-2xx response from the task service.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eden %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}
