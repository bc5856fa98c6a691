package audio

import (
	"testing"
	"time"
)

func TestExtFromContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want string
	}{
		{"audio/webm;codecs=opus", "webm"},
		{"audio/mpeg", "mp3"},
		{"audio/MP3", "mp3"},
		{"audio/wav", "wav"},
		{"audio/x-wav", "wav"},
		{"audio/ogg", "ogg"},
		{"", "webm"},
		{"application/octet-stream", "webm"},
	}
	for _, tt := range tests {
		t.Run(tt.ct, func(t *testing.T) {
			if got := ExtFromContentType(tt.ct); got != tt.want {
				t.Errorf("ExtFromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
			}
		})
	}
}

func TestContentTypeRoundTrip(t *testing.T) {
	for _, ext := range []string{"webm", "mp3", "wav", "ogg"} {
		if got := ExtFromContentType(ContentType(ext)); got != ext {
			t.Errorf("ext %q -> %q -> %q", ext, ContentType(ext), got)
		}
	}
}

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(1708881234567)
	if got := ObjectKey(42, at, "webm"); got != "42_1708881234567.webm" {
		t.Errorf("ObjectKey = %q", got)
	}
}
