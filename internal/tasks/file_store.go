package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FileStore persists tasks as JSON files in a directory,
// one file per task. It is safe for concurrent use.
type FileStore struct {
	rootDir string
	mu      sync.RWMutex
}

// taskFile is the on-disk representation of a task and its
// per-granule outcomes.
type taskFile struct {
	Task     Task            `json:"task"`
	Statuses []GranuleStatus `json:"statuses"`
}

func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create task directory %s: %v", rootDir, err)
	}
	return &FileStore{rootDir: rootDir}, nil
}

// taskPath returns the file path for the given task ID.
// IDs are generated as hex strings, but escape separators anyway so an
// ID read back from disk can never point outside the root directory.
func (s *FileStore) taskPath(taskID string) string {
	safe := strings.ReplaceAll(taskID, ":", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	return filepath.Join(s.rootDir, safe+".json")
}

func (s *FileStore) readTaskFile(taskID string) (*taskFile, error) {
	data, err := os.ReadFile(s.taskPath(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %v", taskID, err)
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse task %s: %v", taskID, err)
	}
	return &tf, nil
}

func (s *FileStore) writeTaskFile(tf *taskFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %v", tf.Task.ID, err)
	}
	if err := os.WriteFile(s.taskPath(tf.Task.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write task %s: %v", tf.Task.ID, err)
	}
	return nil
}

func (s *FileStore) CreateTask(task Task) error {
	if task.ID == "" {
		return fmt.Errorf("task has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readTaskFile(task.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	return s.writeTaskFile(&taskFile{Task: task})
}

func (s *FileStore) GetTask(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tf, err := s.readTaskFile(taskID)
	if err != nil || tf == nil {
		return nil, err
	}
	return &tf.Task, nil
}

func (s *FileStore) ListTasks() ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list task directory %s: %v", s.rootDir, err)
	}
	tasks := []Task{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.rootDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read task file %s: %v", e.Name(), err)
		}
		var tf taskFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("failed to parse task file %s: %v", e.Name(), err)
		}
		tasks = append(tasks, tf.Task)
	}
	slices.SortFunc(tasks, func(a, b Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

func (s *FileStore) CompleteTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.readTaskFile(taskID)
	if err != nil {
		return err
	}
	if tf == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	tf.Task.Status = StatusComplete
	return s.writeTaskFile(tf)
}

func (s *FileStore) SetGranuleStatus(taskID string, status GranuleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.readTaskFile(taskID)
	if err != nil {
		return err
	}
	if tf == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	replaced := false
	for i, gs := range tf.Statuses {
		if gs.GranuleUR == status.GranuleUR {
			tf.Statuses[i] = status
			replaced = true
			break
		}
	}
	if !replaced {
		tf.Statuses = append(tf.Statuses, status)
	}
	return s.writeTaskFile(tf)
}

func (s *FileStore) GranuleStatuses(taskID string) ([]GranuleStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tf, err := s.readTaskFile(taskID)
	if err != nil {
		return nil, err
	}
	if tf == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if tf.Statuses == nil {
		return []GranuleStatus{}, nil
	}
	return tf.Statuses, nil
}
