package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corevox/corevox/internal/storage"
)

// TaskRepo is a storage.TaskRepo backed by PostgreSQL.
type TaskRepo struct {
	db      DB
	breaker *breakerGuard
}

var _ storage.TaskRepo = (*TaskRepo)(nil)

// NewTaskRepo creates a TaskRepo over the given database connection or pool.
func NewTaskRepo(db DB) *TaskRepo {
	return &TaskRepo{db: db, breaker: newBreakerGuard("tasks")}
}

func (r *TaskRepo) Create(ctx context.Context, userID, description string, priority int, dueDate *time.Time) (*storage.Task, error) {
	t := &storage.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: description,
		Priority:    storage.ClampPriority(priority),
		Status:      storage.StatusOpen,
		DueDate:     dueDate,
	}

	const query = `
		INSERT INTO tasks (id, user_id, description, priority, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.breaker.run(func() error {
		return r.db.QueryRow(ctx, query, t.ID, t.UserID, t.Description, t.Priority, t.Status, t.DueDate).
			Scan(&t.CreatedAt, &t.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: create task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id string) (*storage.Task, error) {
	const query = `
		SELECT id, user_id, description, priority, status, due_date, created_at, updated_at
		FROM tasks WHERE id = $1`

	var t storage.Task
	var scanErr error
	err := r.breaker.run(func() error {
		scanErr = r.db.QueryRow(ctx, query, id).Scan(
			&t.ID, &t.UserID, &t.Description, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get task %q: %w", id, err)
	}
	return &t, nil
}

func (r *TaskRepo) GetByUser(ctx context.Context, userID string, status *storage.TaskStatus, priority *int, limit int) ([]storage.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, description, priority, status, due_date, created_at, updated_at
		FROM tasks WHERE user_id = $1`
	args := []any{userID}

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if priority != nil {
		args = append(args, *priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY priority ASC, due_date ASC NULLS LAST LIMIT $%d", len(args))

	return r.queryTasks(ctx, query, args...)
}

func (r *TaskRepo) Search(ctx context.Context, userID, substring string, status *storage.TaskStatus) ([]storage.Task, error) {
	query := `
		SELECT id, user_id, description, priority, status, due_date, created_at, updated_at
		FROM tasks WHERE user_id = $1 AND description ILIKE $2`
	args := []any{userID, likePattern(substring)}

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY priority ASC, due_date ASC NULLS LAST"

	return r.queryTasks(ctx, query, args...)
}

func (r *TaskRepo) Update(ctx context.Context, id, description string, priority int, dueDate *time.Time) (*storage.Task, error) {
	const query = `
		UPDATE tasks SET description = $2, priority = $3, due_date = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, user_id, description, priority, status, due_date, created_at, updated_at`

	var t storage.Task
	var scanErr error
	err := r.breaker.run(func() error {
		scanErr = r.db.QueryRow(ctx, query, id, description, storage.ClampPriority(priority), dueDate).Scan(
			&t.ID, &t.UserID, &t.Description, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: task %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update task: %w", err)
	}
	return &t, nil
}

func (r *TaskRepo) UpdateStatus(ctx context.Context, id string, status storage.TaskStatus) (*storage.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("postgres: invalid status %q", status)
	}

	const query = `
		UPDATE tasks SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, user_id, description, priority, status, due_date, created_at, updated_at`

	var t storage.Task
	var scanErr error
	err := r.breaker.run(func() error {
		scanErr = r.db.QueryRow(ctx, query, id, status).Scan(
			&t.ID, &t.UserID, &t.Description, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: task %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update task status: %w", err)
	}
	return &t, nil
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM tasks WHERE id = $1`
	err := r.breaker.run(func() error {
		_, err := r.db.Exec(ctx, query, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: delete task %q: %w", id, err)
	}
	return nil
}

func (r *TaskRepo) GetDueToday(ctx context.Context, userID string) ([]storage.Task, error) {
	const query = `
		SELECT id, user_id, description, priority, status, due_date, created_at, updated_at
		FROM tasks
		WHERE user_id = $1
		  AND status IN ('OPEN', 'IN_PROGRESS')
		  AND due_date >= date_trunc('day', now())
		  AND due_date <= date_trunc('day', now()) + interval '1 day' - interval '1 microsecond'
		ORDER BY priority ASC`
	return r.queryTasks(ctx, query, userID)
}

func (r *TaskRepo) GetHighPriority(ctx context.Context, userID string, limit int) ([]storage.Task, error) {
	if limit <= 0 {
		limit = 5
	}
	const query = `
		SELECT id, user_id, description, priority, status, due_date, created_at, updated_at
		FROM tasks
		WHERE user_id = $1
		  AND status IN ('OPEN', 'IN_PROGRESS')
		  AND priority <= 2
		ORDER BY priority ASC, due_date ASC NULLS LAST
		LIMIT $2`
	return r.queryTasks(ctx, query, userID, limit)
}

func (r *TaskRepo) GetOpenCount(ctx context.Context, userID string) (int, error) {
	const query = `SELECT count(*) FROM tasks WHERE user_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')`
	var count int
	err := r.breaker.run(func() error {
		return r.db.QueryRow(ctx, query, userID).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: count open tasks: %w", err)
	}
	return count, nil
}

// queryTasks runs query, scanning every row into a storage.Task, wrapped in
// the repo's circuit breaker.
func (r *TaskRepo) queryTasks(ctx context.Context, query string, args ...any) ([]storage.Task, error) {
	var tasks []storage.Task
	err := r.breaker.run(func() error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var t storage.Task
			if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	return tasks, nil
}
