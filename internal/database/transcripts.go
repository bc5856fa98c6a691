package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/snarg/voicenotes/internal/models"
)

// ErrTranscriptExists is returned when the recording already has a transcript.
var ErrTranscriptExists = errors.New("transcript already exists for recording")

const transcriptColumns = `id, user_id, recording_id, full_text, words, updated_at`

func scanTranscript(row interface{ Scan(...any) error }) (*models.Transcript, error) {
	var (
		t     models.Transcript
		words []byte
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.RecordingID, &t.FullText, &words, &t.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	t.Words = []models.Word{}
	if len(words) > 0 {
		if err := json.Unmarshal(words, &t.Words); err != nil {
			return nil, fmt.Errorf("decode words for transcript %d: %w", t.ID, err)
		}
	}
	return &t, nil
}

func encodeWords(words []models.Word) ([]byte, error) {
	if words == nil {
		words = []models.Word{}
	}
	return json.Marshal(words)
}

// InsertTranscript stores the transcript for a recording. At most one
// transcript exists per recording; a second insert returns ErrTranscriptExists.
func (db *DB) InsertTranscript(ctx context.Context, t *models.Transcript) (int64, error) {
	words, err := encodeWords(t.Words)
	if err != nil {
		return 0, fmt.Errorf("encode words: %w", err)
	}

	var id int64
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO transcripts (user_id, recording_id, full_text, words)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (recording_id) DO NOTHING
		RETURNING id
	`, t.UserID, t.RecordingID, t.FullText, string(words)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTranscriptExists
	}
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// ListTranscripts returns the user's transcripts, most recently updated first.
// A non-zero recordingID narrows the list to that recording.
func (db *DB) ListTranscripts(ctx context.Context, userID, recordingID int64) ([]models.Transcript, error) {
	query := `SELECT ` + transcriptColumns + ` FROM transcripts WHERE user_id = $1`
	args := []any{userID}
	if recordingID != 0 {
		query += ` AND recording_id = $2`
		args = append(args, recordingID)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	list := []models.Transcript{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// UpdateTranscript edits the text of an owned transcript. Words are replaced
// only when non-nil.
func (db *DB) UpdateTranscript(ctx context.Context, userID, id int64, fullText string, words []models.Word) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if words == nil {
		tag, err = db.Pool.Exec(ctx, `
			UPDATE transcripts SET full_text = $3, updated_at = now()
			WHERE id = $1 AND user_id = $2
		`, id, userID, fullText)
	} else {
		encoded, encErr := encodeWords(words)
		if encErr != nil {
			return fmt.Errorf("encode words: %w", encErr)
		}
		tag, err = db.Pool.Exec(ctx, `
			UPDATE transcripts SET full_text = $3, words = $4::jsonb, updated_at = now()
			WHERE id = $1 AND user_id = $2
		`, id, userID, fullText, string(encoded))
	}
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) DeleteTranscriptsByUser(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM transcripts WHERE user_id = $1`, userID)
	return classify(err)
}
