package comm

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskState is a task board lifecycle state. Transitions only move
// forward: pending → claimed → completed or failed.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskClaimed
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskClaimed:
		return "claimed"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Task is one task board entry.
type Task struct {
	ID           string
	Title        string
	Description  string
	Requirements []string
	Priority     int
	Data         map[string]any
	State        TaskState
	Owner        string
	Result       any
	Reason       string
	CreatedAt    time.Time
	ClaimedAt    time.Time
	DoneAt       time.Time
}

func (t *Task) clone() *Task {
	c := *t
	if t.Requirements != nil {
		c.Requirements = append([]string(nil), t.Requirements...)
	}
	if t.Data != nil {
		c.Data = make(map[string]any, len(t.Data))
		for k, v := range t.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// meets reports whether the capability set covers every requirement.
func meets(capabilities, requirements []string) bool {
	if len(requirements) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		have[c] = struct{}{}
	}
	for _, r := range requirements {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// PublishTask posts a new pending task and returns its generated id.
func (m *Middleware) PublishTask(title, description string, requirements []string, priority int, data map[string]any) string {
	t := &Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Requirements: append([]string(nil), requirements...),
		Priority:     priority,
		Data:         data,
		State:        TaskPending,
		CreatedAt:    time.Now(),
	}
	m.taskMu.Lock()
	m.tasks[t.ID] = t
	m.taskMu.Unlock()
	m.logger.Debug("task published",
		zap.String("task", t.ID),
		zap.String("title", title),
		zap.Int("priority", priority))
	return t.ID
}

// ClaimTask attempts to claim a pending task for claimant. The claim
// succeeds only when the task is still pending and capabilities cover
// every requirement; under concurrent claims exactly one caller wins.
// An absent id yields ErrUnknownTask.
func (m *Middleware) ClaimTask(id, claimant string, capabilities []string) (bool, error) {
	m.taskMu.Lock()
	defer m.taskMu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if t.State != TaskPending {
		return false, nil
	}
	if !meets(capabilities, t.Requirements) {
		return false, nil
	}
	t.State = TaskClaimed
	t.Owner = claimant
	t.ClaimedAt = time.Now()
	m.logger.Debug("task claimed",
		zap.String("task", id), zap.String("owner", claimant))
	return true, nil
}

// CompleteTask marks a claimed task as completed with a result. Only
// the claimant may complete it.
func (m *Middleware) CompleteTask(id, claimant string, result any) error {
	return m.finishTask(id, claimant, TaskCompleted, result, "")
}

// FailTask marks a claimed task as failed with a reason. Only the
// claimant may fail it.
func (m *Middleware) FailTask(id, claimant, reason string) error {
	return m.finishTask(id, claimant, TaskFailed, nil, reason)
}

func (m *Middleware) finishTask(id, claimant string, state TaskState, result any, reason string) error {
	m.taskMu.Lock()
	defer m.taskMu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if t.State != TaskClaimed {
		return fmt.Errorf("%w: task %q is %s", ErrTaskNotClaimed, id, t.State)
	}
	if t.Owner != claimant {
		return fmt.Errorf("%w: task %q belongs to %q", ErrNotTaskOwner, id, t.Owner)
	}
	t.State = state
	t.Result = result
	t.Reason = reason
	t.DoneAt = time.Now()
	m.logger.Debug("task finished",
		zap.String("task", id), zap.String("state", state.String()))
	return nil
}

// Task returns a copy of the task with the given id.
func (m *Middleware) Task(id string) (*Task, error) {
	m.taskMu.Lock()
	defer m.taskMu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	return t.clone(), nil
}

// PendingTasks returns copies of the pending tasks the capability set
// is eligible for, highest priority first. Ties keep publish order.
func (m *Middleware) PendingTasks(capabilities []string) []*Task {
	m.taskMu.Lock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.State == TaskPending && meets(capabilities, t.Requirements) {
			out = append(out, t.clone())
		}
	}
	m.taskMu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
