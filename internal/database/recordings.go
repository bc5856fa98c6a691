package database

import (
	"context"
	"fmt"

	"github.com/snarg/voicenotes/internal/models"
)

const recordingColumns = `id, user_id, label, audio_url, created_at`

func scanRecording(row interface{ Scan(...any) error }) (*models.Recording, error) {
	var r models.Recording
	if err := row.Scan(&r.ID, &r.UserID, &r.Label, &r.AudioURL, &r.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (db *DB) CreateRecording(ctx context.Context, userID int64, label, audioURL string) (*models.Recording, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO recordings (user_id, label, audio_url)
		VALUES ($1, $2, $3)
		RETURNING `+recordingColumns,
		userID, label, audioURL,
	)
	return scanRecording(row)
}

// ListRecordings returns the user's recordings, newest first.
func (db *DB) ListRecordings(ctx context.Context, userID int64) ([]models.Recording, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordingColumns+`
		FROM recordings
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	recs := []models.Recording{}
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

func (db *DB) GetRecording(ctx context.Context, userID, id int64) (*models.Recording, error) {
	return scanRecording(db.Pool.QueryRow(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1 AND user_id = $2`, id, userID))
}

func (db *DB) RenameRecording(ctx context.Context, userID, id int64, label string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE recordings SET label = $3 WHERE id = $1 AND user_id = $2`, id, userID, label)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecording removes a recording and its transcript together.
func (db *DB) DeleteRecording(ctx context.Context, userID, id int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcripts WHERE recording_id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM recordings WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// ListAudioURLs returns the blob URLs of every recording the user owns.
func (db *DB) ListAudioURLs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT audio_url FROM recordings WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list audio urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, rows.Err()
}

func (db *DB) DeleteRecordingsByUser(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM recordings WHERE user_id = $1`, userID)
	return classify(err)
}
