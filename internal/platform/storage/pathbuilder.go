package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ArchivePathParams identify one archived webhook payload.
type ArchivePathParams struct {
	Prefix     string
	Provider   string
	ReceivedAt time.Time
	ObjectID   string
}

// BuildArchivePath returns {prefix}/{provider}/{yyyy}/{mm}/{dd}/{objectID}.json using the UTC date.
func BuildArchivePath(params ArchivePathParams) (string, error) {
	provider, err := validateSegment("provider", params.Provider)
	if err != nil {
		return "", err
	}
	objectID, err := validateSegment("objectID", params.ObjectID)
	if err != nil {
		return "", err
	}
	if params.ReceivedAt.IsZero() {
		return "", fmt.Errorf("storage: receivedAt is required")
	}
	prefix := strings.Trim(strings.TrimSpace(params.Prefix), "/")
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage: prefix contains invalid traversal sequence")
	}
	day := params.ReceivedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, provider, day, objectID+".json"), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
