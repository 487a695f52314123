// Package tasks tracks bulk link update tasks and the per-granule
// outcomes recorded while a task runs.
package tasks

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusComplete   TaskStatus = "COMPLETE"
)

// GranuleUpdateStatus is the outcome of updating a single granule.
type GranuleUpdateStatus string

const (
	GranuleUpdated GranuleUpdateStatus = "UPDATED"
	GranuleFailed  GranuleUpdateStatus = "FAILED"
	GranuleSkipped GranuleUpdateStatus = "SKIPPED"
)

// Task represents one bulk link update run.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	Status    TaskStatus `json:"status"`
}

// GranuleStatus records the outcome of updating one granule under a task.
type GranuleStatus struct {
	GranuleUR string              `json:"granuleUr"`
	Status    GranuleUpdateStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// NewTask returns an in-progress task with a fresh random ID.
func NewTask(name string) Task {
	return Task{
		ID:        newTaskID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Status:    StatusInProgress,
	}
}

func newTaskID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Store is the interface for persisting and retrieving tasks.
type Store interface {
	// CreateTask persists a new task.
	CreateTask(task Task) error

	// GetTask returns the task with the given ID,
	// or nil if no such task exists.
	GetTask(taskID string) (*Task, error)

	// ListTasks returns all tasks, newest first.
	ListTasks() ([]Task, error)

	// CompleteTask marks the task with the given ID as complete.
	CompleteTask(taskID string) error

	// SetGranuleStatus records the outcome of updating one granule under
	// the task. A later status for the same granule replaces the earlier one.
	SetGranuleStatus(taskID string, status GranuleStatus) error

	// GranuleStatuses returns the per-granule outcomes recorded for the task
	// in the order they were first recorded.
	GranuleStatuses(taskID string) ([]GranuleStatus, error)
}

// EmptyStore is a no-op implementation of the Store interface.
// It discards everything written to it and never returns any tasks.
type EmptyStore struct{}

func NewEmptyStore() *EmptyStore {
	return &EmptyStore{}
}

func (s EmptyStore) CreateTask(task Task) error {
	return nil
}

func (s EmptyStore) GetTask(taskID string) (*Task, error) {
	return nil, nil
}

func (s EmptyStore) ListTasks() ([]Task, error) {
	return []Task{}, nil
}

func (s EmptyStore) CompleteTask(taskID string) error {
	return nil
}

func (s EmptyStore) SetGranuleStatus(taskID string, status GranuleStatus) error {
	return nil
}

func (s EmptyStore) GranuleStatuses(taskID string) ([]GranuleStatus, error) {
	return []GranuleStatus{}, nil
}
