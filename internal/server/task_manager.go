package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus defines the possible states of a task.
type TaskStatus string

const (
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// maxFinishedTasks bounds how many completed or failed tasks are remembered.
const maxFinishedTasks = 256

// Task represents an operation started asynchronously through the API, such
// as a maintenance pass.
type Task struct {
	mu       sync.RWMutex
	id       string
	kind     string
	status   TaskStatus
	result   any
	err      string
	created  time.Time
	finished time.Time
}

// TaskView is the JSON form of a Task.
type TaskView struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Status   TaskStatus `json:"status"`
	Result   any        `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
	Created  time.Time  `json:"created"`
	Finished *time.Time `json:"finished,omitempty"`
}

// TaskManager tracks asynchronous tasks.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	finished []string
}

// NewTaskManager creates a new task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
	}
}

// Start registers a task of the given kind and runs fn in a new goroutine.
func (tm *TaskManager) Start(kind string, fn func() (any, error)) *Task {
	task := &Task{
		id:      uuid.NewString(),
		kind:    kind,
		status:  TaskStatusStarted,
		created: time.Now(),
	}
	tm.mu.Lock()
	tm.tasks[task.id] = task
	tm.mu.Unlock()

	go func() {
		task.setStatus(TaskStatusRunning)
		result, err := fn()
		task.finish(result, err)
		tm.retire(task.id)
	}()
	return task
}

// GetTask safely retrieves a task by its ID.
func (tm *TaskManager) GetTask(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}

// retire forgets the oldest finished tasks beyond maxFinishedTasks.
func (tm *TaskManager) retire(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.finished = append(tm.finished, id)
	for len(tm.finished) > maxFinishedTasks {
		delete(tm.tasks, tm.finished[0])
		tm.finished = tm.finished[1:]
	}
}

// ID returns the task id.
func (t *Task) ID() string {
	return t.id
}

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

func (t *Task) finish(result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	if err != nil {
		t.status = TaskStatusFailed
		t.err = err.Error()
		return
	}
	t.status = TaskStatusCompleted
	t.result = result
}

// View returns a consistent copy of the task state.
func (t *Task) View() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := TaskView{
		ID:      t.id,
		Kind:    t.kind,
		Status:  t.status,
		Result:  t.result,
		Error:   t.err,
		Created: t.created,
	}
	if !t.finished.IsZero() {
		f := t.finished
		v.Finished = &f
	}
	return v
}
