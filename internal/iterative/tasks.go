package iterative

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one unit of work parsed out of the prompt.
type Task struct {
	ID          int
	Description string
	Status      TaskStatus
	CreatedAt   time.Time
	CompletedAt time.Time
	Iteration   int
}

var taskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*-\s*\[\s*\]\s*(.+)$`), // checkbox
	regexp.MustCompile(`^\s*\d+\.\s*(.+)$`),       // numbered
	regexp.MustCompile(`^Task:\s*(.+)$`),
	regexp.MustCompile(`^TODO:\s*(.+)$`),
}

// completionWords are the substrings in agent output that mark the
// current task done.
var completionWords = []string{"completed", "finished", "done", "committed"}

// TaskTracker parses a lightweight task queue out of the prompt text
// purely for richer per-iteration telemetry; it never gates the
// completion-marker check that actually stops the driver.
type TaskTracker struct {
	mu        sync.Mutex
	queue     []*Task
	current   *Task
	completed []*Task
	now       func() time.Time
}

// NewTaskTracker returns an empty tracker.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{now: time.Now}
}

// ExtractFromPrompt parses task-like lines out of prompt into the
// queue. A no-op once any task has been seen (queue, current, or
// completed), matching the source's "only extract once" behavior.
func (t *TaskTracker) ExtractFromPrompt(prompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) > 0 || t.current != nil || len(t.completed) > 0 {
		return
	}

	for _, line := range strings.Split(prompt, "\n") {
		for _, pat := range taskPatterns {
			if m := pat.FindStringSubmatch(line); m != nil {
				t.queue = append(t.queue, &Task{
					ID:          len(t.queue) + len(t.completed) + 1,
					Description: strings.TrimSpace(m[1]),
					Status:      TaskPending,
					CreatedAt:   t.now(),
				})
				break
			}
		}
	}

	if len(t.queue) == 0 {
		t.queue = append(t.queue, &Task{
			ID:          1,
			Description: "Execute orchestrator instructions",
			Status:      TaskPending,
			CreatedAt:   t.now(),
		})
	}
}

// ClaimNext promotes the head of the queue to current if there is no
// current task yet; a no-op otherwise.
func (t *TaskTracker) ClaimNext(iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil || len(t.queue) == 0 {
		return
	}
	t.current = t.queue[0]
	t.queue = t.queue[1:]
	t.current.Status = TaskInProgress
	t.current.Iteration = iteration
}

// CompleteCurrent marks the current task completed and moves it to the
// completed list. A no-op if there is no current task.
func (t *TaskTracker) CompleteCurrent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.Status = TaskCompleted
	t.current.CompletedAt = t.now()
	t.completed = append(t.completed, t.current)
	t.current = nil
}

// OutputIndicatesCompletion reports whether agent output contains a
// word that signals the current task finished.
func OutputIndicatesCompletion(output string) bool {
	lower := strings.ToLower(output)
	for _, w := range completionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// TaskSnapshot is a read-only view of the task queue state.
type TaskSnapshot struct {
	Current        *Task
	QueueLength    int
	CompletedCount int
}

// Snapshot returns the current task-queue state.
func (t *TaskTracker) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		Current:        t.current,
		QueueLength:    len(t.queue),
		CompletedCount: len(t.completed),
	}
}
