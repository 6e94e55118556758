package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tresgarza/log-u/internal/model"
)

const userCols = `id, name, email, role, created_at`

// UserRepository resolves accounts by id. Registration lives elsewhere.
type UserRepository struct{}

func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// CreateUser inserts a user and sets its ID.
func (r *UserRepository) CreateUser(ctx context.Context, db DBExecutor, user *model.User) error {
	user.CreatedAt = time.Now().UTC()
	err := db.GetContext(ctx, &user.ID, db.Rebind(`
		INSERT INTO users (name, email, role, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), user.Name, user.Email, user.Role, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, db DBExecutor, id int64) (*model.User, error) {
	var user model.User
	if err := get(ctx, db, &user, `SELECT `+userCols+` FROM users WHERE id = ?`, id); err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
