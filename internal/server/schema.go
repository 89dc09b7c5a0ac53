package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoSchema is returned when a SchemaSource names neither a file nor an inline definition.
var ErrNoSchema = errors.New("no schema source")

// SchemaSource locates the schema definition. Path wins over Inline.
type SchemaSource struct {
	Path   string
	Inline string
}

// Load returns the schema definition text.
func (s SchemaSource) Load() (string, error) {
	if s.Path != "" {
		b, err := os.ReadFile(s.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read schema %s: %w", s.Path, err)
		}
		if strings.TrimSpace(string(b)) == "" {
			return "", fmt.Errorf("schema %s is empty: %w", s.Path, ErrNoSchema)
		}
		return string(b), nil
	}
	if strings.TrimSpace(s.Inline) == "" {
		return "", ErrNoSchema
	}
	return s.Inline, nil
}
