// Package store persists records locally and answers the queries the sync
// engine and the status tracker need.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no record has the requested local key
var ErrNotFound = errors.New("record not found")

// Patch is a partial update of the sync-managed record fields. Nil fields are
// left untouched; every set field is written in a single statement so readers
// never observe half of a patch.
type Patch struct {
	RemoteKey *string
	Payload   json.RawMessage
	Version   *int64
	Synced    *bool
	UpdatedAt *time.Time
}

// MarkSynced builds the patch committed after a successful push
func MarkSynced(version int64) Patch {
	synced := true
	return Patch{Synced: &synced, Version: &version}
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.RemoteKey == nil && p.Payload == nil && p.Version == nil && p.Synced == nil && p.UpdatedAt == nil
}

// assignments renders the SET list; placeholder maps an argument position
// (starting at 1) to the driver's parameter syntax.
func (p Patch) assignments(firstArg int, placeholder func(int) string, encodeTime func(time.Time) any) (string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = %s", column, placeholder(firstArg+len(args)-1)))
	}
	if p.RemoteKey != nil {
		add("remote_key", *p.RemoteKey)
	}
	if p.Payload != nil {
		add("payload", string(p.Payload))
	}
	if p.Version != nil {
		add("version", *p.Version)
	}
	if p.Synced != nil {
		add("synced", *p.Synced)
	}
	if p.UpdatedAt != nil {
		add("updated_at", encodeTime(*p.UpdatedAt))
	}
	return strings.Join(sets, ", "), args
}

const recordColumns = "local_key, kind, owner, remote_key, payload, version, synced, created_at, updated_at"
