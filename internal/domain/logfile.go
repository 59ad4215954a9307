package domain

import (
	"fmt"
	"strings"
	"time"
)

// RawLog represents an uploaded log file belonging to an issue. Files are
// append-only: once uploaded they are never rewritten by the engine.
type RawLog struct {
	Name       string
	Size       int64
	UploadedAt time.Time
}

// NewRawLog creates a new RawLog instance
func NewRawLog(name string, size int64, uploadedAt time.Time) *RawLog {
	return &RawLog{
		Name:       name,
		Size:       size,
		UploadedAt: uploadedAt,
	}
}

// ValidateLogFilename checks that an uploaded filename is safe to store and
// carries one of the allowed extensions.
func ValidateLogFilename(name string, allowedExts []string) error {
	if name == "" {
		return fmt.Errorf("filename is required")
	}

	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("filename must not contain path separators")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("filename must not be hidden")
	}

	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return fmt.Errorf("filename must have an extension")
	}

	ext := strings.ToLower(name[dot:])
	for _, allowed := range allowedExts {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("extension %s is not an allowed log type", ext)
}
