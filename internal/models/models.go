// Package models holds the records shared by the store, the transcription
// pipeline and the HTTP layer.
package models

import "time"

// User is an account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recording is a stored audio clip. AudioURL points at a blob in the object
// store; deleting the recording must delete that blob as well.
type Recording struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Label     string    `json:"label"`
	AudioURL  string    `json:"audio_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Word is one timed word of a transcript.
type Word struct {
	Word  string   `json:"word"`
	Start float64  `json:"start"`
	End   *float64 `json:"end,omitempty"`
}

// Transcript is the text derived from one recording.
type Transcript struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	RecordingID int64     `json:"recording_id"`
	FullText    string    `json:"full_text"`
	Words       []Word    `json:"words"`
	UpdatedAt   time.Time `json:"updated_at"`
}
