package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates that no watermark record exists for the source.
// Callers treat this as "first export", not as a failure.
var ErrNotFound = errors.New("watermark not found")

// StoreError wraps any retrieval or persistence failure other than a
// missing record. Op is "read" or "write".
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("watermark %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store persists the last successful export time per source.
type Store interface {
	// Load returns the recorded watermark in epoch milliseconds.
	// Returns ErrNotFound when no record exists for the source.
	Load(ctx context.Context, sourceID string) (int64, error)
	// Save records a new watermark. Written only after the export
	// request for the range ending at millis has been accepted.
	Save(ctx context.Context, sourceID string, millis int64) error
}

// record is the JSON body stored per source.
type record struct {
	LastExportTime int64 `json:"last_export_time"`
}

// Key returns the object key holding the watermark for a source.
// Path separators in the source identifier are flattened so every
// source maps to exactly one object under the timestamps/ prefix.
func Key(sourceID string) string {
	return "timestamps/" + Sanitize(sourceID) + ".json"
}

// Sanitize replaces path-separator characters in a source identifier.
func Sanitize(sourceID string) string {
	return strings.ReplaceAll(sourceID, "/", "-")
}
