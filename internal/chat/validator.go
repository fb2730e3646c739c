package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// ErrEmptyContent is returned for messages that are blank after trimming.
var ErrEmptyContent = errors.New("message text is empty")

// ValidateContent trims the outgoing text and checks it meets content
// requirements. The trimmed text is returned on success.
func ValidateContent(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if len(trimmed) > MaxMessageBytes {
		return "", fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(trimmed) > MaxTextChars {
		return "", fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return trimmed, nil
}
