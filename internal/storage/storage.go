// Package storage defines the repository contracts the identity and
// task-manager agents' tools are built on (§6): a User keyed by phone
// number, and the Tasks owned by an authenticated user.
//
// Concrete implementations live in sub-packages (internal/storage/postgres).
// The contract here is intentionally narrow — exactly the operations §6
// names — so that a fake in-memory implementation is trivial to write for
// agent/tool tests without a database.
package storage

import (
	"context"
	"time"

	"github.com/corevox/corevox/internal/corerr"
)

// TaskStatus is the closed set of states a Task can be in.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Valid reports whether s is one of the closed TaskStatus values.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseTaskStatus validates a caller-supplied status string, returning an
// [corerr.ArgumentError] for anything outside the closed set.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.Valid() {
		return "", corerr.NewArgumentError("status", s, "status must be one of OPEN, IN_PROGRESS, COMPLETED, CANCELLED")
	}
	return status, nil
}

// ClampPriority clamps p into [1, 5], per §6's "every persisted task has
// 1 <= priority <= 5" invariant.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// User is a caller account, looked up by phone number during the bridge's
// authentication gate (§4.9) and created by the identity agent's
// create_user tool (§4.1).
type User struct {
	ID          string
	PhoneNumber string
	FullName    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task belongs to exactly one User and is owned end-to-end by the
// task-manager agent's tools (§4.1).
type Task struct {
	ID          string
	UserID      string
	Description string
	Priority    int
	Status      TaskStatus
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserRepo is the repository contract for User persistence (§6).
type UserRepo interface {
	// Create inserts a new user. PhoneNumber must be unique; a duplicate
	// returns an error.
	Create(ctx context.Context, phoneNumber, fullName string) (*User, error)

	// GetByPhone looks up a user by phone number. Returns (nil, nil) when no
	// user exists with that number.
	GetByPhone(ctx context.Context, phoneNumber string) (*User, error)

	// GetByID looks up a user by ID. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id string) (*User, error)

	// Update replaces a user's full name. Returns (nil, nil) when id does
	// not exist.
	Update(ctx context.Context, id, fullName string) (*User, error)

	// Delete removes a user. Reports whether a row was actually deleted.
	Delete(ctx context.Context, id string) (bool, error)

	// GetOrCreate looks up a user by phone number, creating one with
	// fullName if none exists. The bool result reports whether a new user
	// was created.
	GetOrCreate(ctx context.Context, phoneNumber, fullName string) (*User, bool, error)
}

// TaskRepo is the repository contract for Task persistence (§6). All
// listing methods scope results to a single user; there is no
// cross-user query surface.
type TaskRepo interface {
	// Create inserts a task for userID. Priority is clamped to [1, 5].
	// DueDate may be nil.
	Create(ctx context.Context, userID, description string, priority int, dueDate *time.Time) (*Task, error)

	// GetByID looks up a single task. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id string) (*Task, error)

	// GetByUser lists a user's tasks, optionally filtered by status and/or
	// priority, ordered by priority ASC then due_date ASC. A zero limit
	// defaults to 50.
	GetByUser(ctx context.Context, userID string, status *TaskStatus, priority *int, limit int) ([]Task, error)

	// Search performs a case-insensitive substring match against
	// description, optionally filtered by status.
	Search(ctx context.Context, userID, substring string, status *TaskStatus) ([]Task, error)

	// Update replaces the mutable fields of a task. Zero-value fields to
	// leave the stored value unchanged are not supported; callers pass the
	// full set of fields to persist.
	Update(ctx context.Context, id string, description string, priority int, dueDate *time.Time) (*Task, error)

	// UpdateStatus transitions a task to a new, validated status.
	UpdateStatus(ctx context.Context, id string, status TaskStatus) (*Task, error)

	// Delete removes a task. Deleting a non-existent task is not an error.
	Delete(ctx context.Context, id string) error

	// GetDueToday returns a user's OPEN or IN_PROGRESS tasks due during the
	// current day, ordered by priority. Overdue tasks are not included.
	GetDueToday(ctx context.Context, userID string) ([]Task, error)

	// GetHighPriority returns a user's active (OPEN or IN_PROGRESS) tasks
	// with priority <= 2, ordered by priority, up to limit (default 5).
	GetHighPriority(ctx context.Context, userID string, limit int) ([]Task, error)

	// GetOpenCount returns the count of a user's active (OPEN or
	// IN_PROGRESS) tasks.
	GetOpenCount(ctx context.Context, userID string) (int, error)
}
