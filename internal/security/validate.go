package security

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidFileID   = errors.New("invalid file id")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidEmail    = errors.New("invalid email address format")
)

const maxFilenameLen = 512

// ValidateFileID requires a well-formed UUID, which is the only id shape the
// service ever issues. Everything else is rejected before touching the
// database.
func ValidateFileID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidFileID
	}
	return nil
}

// ValidateFilename rejects names that could be abused downstream: path
// traversal, path separators, control characters, header injection via the
// Content-Disposition echo, and oversized names.
func ValidateFilename(name string) error {
	if name == "" || len(name) > maxFilenameLen {
		return ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\\r\n\x00\"") {
		return ErrInvalidFilename
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return ErrInvalidFilename
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 {
			return ErrInvalidFilename
		}
	}
	return nil
}

// ValidateEmail is a minimal shape check that also blocks header injection
// through notification recipients.
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n") {
		return ErrInvalidEmail
	}
	atIdx := strings.Index(email, "@")
	dotIdx := strings.LastIndex(email, ".")
	if atIdx < 1 || dotIdx < atIdx+2 || dotIdx == len(email)-1 {
		return ErrInvalidEmail
	}
	return nil
}
