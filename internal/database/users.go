package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/snarg/voicenotes/internal/models"
)

const userColumns = `id, username, email, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

// CreateUser inserts a user. Email is stored lower-cased.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		username, strings.ToLower(email), passwordHash,
	)
	return scanUser(row)
}

// FindConflicts returns existing users holding either the username or the
// email (case-insensitive).
func (db *DB) FindConflicts(ctx context.Context, username, email string) ([]models.User, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 OR lower(email) = lower($2)
	`, username, email)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetUserByLogin finds a user by email when the identifier contains '@',
// otherwise by username.
func (db *DB) GetUserByLogin(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	if strings.Contains(identifier, "@") {
		query = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	}
	return scanUser(db.Pool.QueryRow(ctx, query, identifier))
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (db *DB) UpdateUsername(ctx context.Context, id int64, username string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE users SET username = $2 WHERE id = $1`, id, username)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
