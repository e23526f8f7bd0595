// Package staging holds extracted records between the extract and load
// phases of a migration run.
package staging

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gourab8389/migrata-new/internal/org"
)

// uniqueKeyDelimiter joins the configured unique field values into one key.
const uniqueKeyDelimiter = "~"

// StagedRecord is one sanitized source record held for loading.
type StagedRecord struct {
	Object      string
	SourceOrg   string
	SourceID    string
	UniqueKey   string
	ContentHash string
	Fields      org.Record
	StagedAt    time.Time
}

// Store persists staged records keyed by (object, source org).
type Store interface {
	// Put stages records, replacing any prior record with the same
	// (object, source org, source id).
	Put(ctx context.Context, records []StagedRecord) error

	// List returns all staged records for the object and source org.
	List(ctx context.Context, object, sourceOrg string) ([]StagedRecord, error)

	// Clear drops all staged records for the object and source org.
	Clear(ctx context.Context, object, sourceOrg string) error

	// SetLastSync records the completion time of the latest extraction.
	SetLastSync(ctx context.Context, object, sourceOrg string, ts time.Time) error

	// LastSync returns the latest extraction time; zero when never synced.
	LastSync(ctx context.Context, object, sourceOrg string) (time.Time, error)

	Close() error
}

const (
	CodeStagingUnavailable = "E_STAGING_UNAVAILABLE"
	CodeStagingConflict    = "E_STAGING_CONFLICT"
)

// Error wraps staging failures with a code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// UniqueKey joins the record's unique field values with the key delimiter.
// Missing or nil fields contribute an empty segment so the key shape stays
// stable across records.
func UniqueKey(rec org.Record, uniqueFields []string) string {
	parts := make([]string, len(uniqueFields))
	for i, f := range uniqueFields {
		if v, ok := rec[f]; ok && v != nil {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, uniqueKeyDelimiter)
}

// ContentHash returns the MD5 hex digest of the unique key.
func ContentHash(uniqueKey string) string {
	sum := md5.Sum([]byte(uniqueKey))
	return hex.EncodeToString(sum[:])
}

// Sanitize removes the transport metadata envelope (the "attributes" key)
// from a record and from every nested map, returning a deep copy. The
// input record is not modified.
func Sanitize(rec org.Record) org.Record {
	out := make(org.Record, len(rec))
	for k, v := range rec {
		if k == "attributes" {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
