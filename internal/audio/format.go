package audio

import (
	"fmt"
	"strings"
	"time"
)

// DefaultExt is used when the upload's content type is unknown. Browsers
// record webm/opus.
const DefaultExt = "webm"

// ExtFromContentType maps an upload's MIME type to a file extension.
func ExtFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	default:
		return DefaultExt
	}
}

// ContentType returns the MIME type stored with a blob of the given extension.
func ContentType(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}

// ObjectKey names the blob for a user's upload: {userID}_{unixMillis}.{ext}
func ObjectKey(userID int64, at time.Time, ext string) string {
	return fmt.Sprintf("%d_%d.%s", userID, at.UnixMilli(), ext)
}
