// Package record defines the locally stored, synchronizable log records and
// their typed payloads.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a record collection
type Kind string

const (
	KindWorkout   Kind = "workout"
	KindLifestyle Kind = "lifestyle"
)

// Kinds lists every collection in the order they are synchronized
var Kinds = []Kind{KindWorkout, KindLifestyle}

// ParseKind converts user input into a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindWorkout, KindLifestyle:
		return k, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Collection returns the remote collection name holding records of this kind
func (k Kind) Collection() string {
	return string(k) + "_logs"
}

// Record is one locally persisted log entry together with its sync state.
// An empty RemoteKey means the record has never been pushed.
type Record struct {
	LocalKey  int64
	RemoteKey string
	Kind      Kind
	Owner     string
	Payload   json.RawMessage
	Version   int64
	Synced    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRemote reports whether the remote store already knows the record
func (r *Record) HasRemote() bool {
	return r.RemoteKey != ""
}

// String is used as the per-record prefix in error lists
func (r *Record) String() string {
	return fmt.Sprintf("%s %d", r.Kind, r.LocalKey)
}

// New builds a pending record at version 0 after validating its payload
func New(kind Kind, owner string, payload any, now time.Time) (*Record, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	if err := Validate(kind, raw); err != nil {
		return nil, err
	}
	return &Record{
		Kind:      kind,
		Owner:     owner,
		Payload:   raw,
		Version:   0,
		Synced:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
