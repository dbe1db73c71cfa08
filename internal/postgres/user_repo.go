package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepo resolves display names. This subsystem only reads users; account
// management lives elsewhere.
type UserRepo struct {
	db *pgxpool.Pool
}

func NewUserRepo(db *pgxpool.Pool) *UserRepo {
	return &UserRepo{db: db}
}

// Nickname returns the display name for a user.
func (r *UserRepo) Nickname(ctx context.Context, userID string) (string, error) {
	var nickname string
	err := r.db.QueryRow(ctx, `
		SELECT nickname FROM users WHERE id = $1
	`, userID).Scan(&nickname)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup nickname: %w", err)
	}
	return nickname, nil
}
