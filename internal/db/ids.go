package db

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns prefix_ followed by a time-ordered UUIDv7 without
// dashes, so ids of one kind sort by creation.
func GenerateID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating %s id: %w", prefix, err)
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", ""), nil
}
