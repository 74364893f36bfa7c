// Package users is the boundary to the external user store. The matchmaking
// core only needs one capability from it: an atomic honor decrement that
// returns the updated value, or reports that the identity is unknown.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultHonor is the reputation assigned to a user on first login.
const DefaultHonor = 10

// ErrNotFound is returned when no user exists for the given id.
var ErrNotFound = errors.New("users: not found")

// User is a stored user identity with its reputation score.
type User struct {
	UserID  string
	Email   string
	Name    string
	Picture string
	Honor   int
}

// Store manages user records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts the user on first login or refreshes the profile fields on
// subsequent logins. Honor is only set on insert; repeated logins never reset
// an earned (or lost) reputation.
func (s *Store) Upsert(ctx context.Context, u User) error {
	const query = `
		INSERT INTO users (user_id, email, name, picture, honor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, picture = EXCLUDED.picture`

	_, err := s.db.ExecContext(ctx, query, u.UserID, u.Email, u.Name, u.Picture, DefaultHonor)
	if err != nil {
		return fmt.Errorf("users: upsert: %w", err)
	}
	return nil
}

// Get returns the stored user for userID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	const query = `
		SELECT user_id, email, name, picture, honor
		FROM users WHERE user_id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&u.UserID, &u.Email, &u.Name, &u.Picture, &u.Honor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get: %w", err)
	}
	return &u, nil
}

// DecrementHonor atomically subtracts one from the user's honor and returns
// the new value. Returns ErrNotFound when no row matches, which callers treat
// as an unresolved offender.
func (s *Store) DecrementHonor(ctx context.Context, userID string) (int, error) {
	const query = `
		UPDATE users SET honor = honor - 1
		WHERE user_id = $1
		RETURNING honor`

	var honor int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&honor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("users: decrement honor: %w", err)
	}
	return honor, nil
}
