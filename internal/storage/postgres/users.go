package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/corevox/corevox/internal/storage"
)

// UserRepo is a storage.UserRepo backed by PostgreSQL.
type UserRepo struct {
	db      DB
	breaker *breakerGuard
}

var _ storage.UserRepo = (*UserRepo)(nil)

// NewUserRepo creates a UserRepo over the given database connection or pool.
func NewUserRepo(db DB) *UserRepo {
	return &UserRepo{db: db, breaker: newBreakerGuard("users")}
}

func (r *UserRepo) Create(ctx context.Context, phoneNumber, fullName string) (*storage.User, error) {
	u := &storage.User{ID: uuid.NewString(), PhoneNumber: phoneNumber, FullName: fullName}

	const query = `
		INSERT INTO users (id, phone_number, full_name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := r.breaker.run(func() error {
		return r.db.QueryRow(ctx, query, u.ID, u.PhoneNumber, u.FullName).Scan(&u.CreatedAt, &u.UpdatedAt)
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("postgres: user with phone %q already exists", phoneNumber)
		}
		return nil, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) GetByPhone(ctx context.Context, phoneNumber string) (*storage.User, error) {
	const query = `
		SELECT id, phone_number, full_name, created_at, updated_at
		FROM users WHERE phone_number = $1`
	return r.scanOneUser(ctx, query, phoneNumber)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*storage.User, error) {
	const query = `
		SELECT id, phone_number, full_name, created_at, updated_at
		FROM users WHERE id = $1`
	return r.scanOneUser(ctx, query, id)
}

func (r *UserRepo) Update(ctx context.Context, id, fullName string) (*storage.User, error) {
	const query = `
		UPDATE users SET full_name = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, phone_number, full_name, created_at, updated_at`

	var u storage.User
	var scanErr error
	err := r.breaker.run(func() error {
		scanErr = r.db.QueryRow(ctx, query, id, fullName).Scan(&u.ID, &u.PhoneNumber, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM users WHERE id = $1`
	var tag pgconn.CommandTag
	err := r.breaker.run(func() error {
		var execErr error
		tag, execErr = r.db.Exec(ctx, query, id)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("postgres: delete user %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetOrCreate looks up a user by phone number, creating one with fullName
// when none exists, per original_source's UserRepository.get_or_create.
func (r *UserRepo) GetOrCreate(ctx context.Context, phoneNumber, fullName string) (*storage.User, bool, error) {
	existing, err := r.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	created, err := r.Create(ctx, phoneNumber, fullName)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *UserRepo) scanOneUser(ctx context.Context, query string, arg string) (*storage.User, error) {
	var u storage.User
	var scanErr error
	err := r.breaker.run(func() error {
		scanErr = r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.PhoneNumber, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
		// pgx.ErrNoRows is an expected outcome, not a connectivity failure;
		// don't let it trip the breaker.
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return &u, nil
}
