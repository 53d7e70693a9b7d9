package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/failed"
	"github.com/google/uuid"
)

// DecodeFailedJobCursor parses a cursor produced by EncodeFailedJobCursor.
// An empty string is the first page.
func DecodeFailedJobCursor(cursorStr string) (*failed.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var failedAt int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &failedAt); err != nil {
		return nil, fmt.Errorf("invalid failed_at in cursor: %w", err)
	}

	eventID, err := uuid.Parse(decodedParts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid event_id in cursor: %w", err)
	}

	return &failed.Cursor{
		FailedAt: time.Unix(0, failedAt).UTC(),
		EventID:  eventID,
	}, nil
}

// EncodeFailedJobCursor returns an opaque URL-safe token for cursor
func EncodeFailedJobCursor(cursor *failed.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.FailedAt.UnixNano(), cursor.EventID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
