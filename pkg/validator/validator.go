package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxChatNameLength = 120
	maxMessageLength  = 32 * 1024
	maxCodeBytes      = 512 * 1024
	maxFileNameLength = 255
)

// ValidateChatName checks a user-supplied chat name.
func ValidateChatName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("chat name cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxChatNameLength {
		return fmt.Errorf("chat name exceeds %d characters", maxChatNameLength)
	}
	return nil
}

// ValidateMessage checks a chat message body.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len(content) > maxMessageLength {
		return fmt.Errorf("message exceeds %d bytes", maxMessageLength)
	}
	return nil
}

// ValidateCode checks generated or user-supplied app code.
func ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if len(code) > maxCodeBytes {
		return fmt.Errorf("code exceeds %d bytes", maxCodeBytes)
	}
	return nil
}

// ValidateFileName checks an uploaded file's name.
func ValidateFileName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if len(trimmed) > maxFileNameLength {
		return fmt.Errorf("file name exceeds %d characters", maxFileNameLength)
	}
	if strings.ContainsAny(trimmed, "/\\\x00") {
		return fmt.Errorf("file name contains invalid characters")
	}
	return nil
}

// ValidateUploadSize checks an upload against the configured cap.
func ValidateUploadSize(size int, maxBytes int64) error {
	if size == 0 {
		return fmt.Errorf("file is empty")
	}
	if int64(size) > maxBytes {
		return fmt.Errorf("file exceeds maximum size of %d bytes", maxBytes)
	}
	return nil
}
