package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
)

// Conflict describes a record that was changed on both replicas and resolved automatically
type Conflict struct {
	Kind            record.Kind     `json:"kind"`
	LocalKey        int64           `json:"localKey"`
	RemoteKey       string          `json:"remoteKey"`
	LocalVersion    int64           `json:"localVersion"`
	RemoteVersion   int64           `json:"remoteVersion"`
	LocalUpdatedAt  time.Time       `json:"localUpdatedAt"`
	RemoteUpdatedAt time.Time       `json:"remoteUpdatedAt"`
	Winner          Winner          `json:"resolvedBy"`
	Discarded       json.RawMessage `json:"discardedPayload,omitempty"`
}

// Result is the outcome of one sync run. A run succeeded only when it hit no
// fatal error and collected no record errors.
type Result struct {
	RunID      string              `json:"runId"`
	Success    bool                `json:"success"`
	Synced     map[record.Kind]int `json:"recordsSyncedByCollection"`
	Conflicts  []Conflict          `json:"conflicts"`
	Errors     []string            `json:"errors"`
	Fatal      error               `json:"-"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

func newResult(runID string, now time.Time) Result {
	synced := make(map[record.Kind]int, len(record.Kinds))
	for _, kind := range record.Kinds {
		synced[kind] = 0
	}
	return Result{
		RunID:     runID,
		Synced:    synced,
		Conflicts: []Conflict{},
		Errors:    []string{},
		StartedAt: now,
	}
}

// fail turns the result into an outright failure with err as the sole error
func (r Result) fail(err error, now time.Time) Result {
	r.Success = false
	r.Fatal = err
	r.Errors = []string{err.Error()}
	r.FinishedAt = now
	return r
}

func (r *Result) addRecordError(rec *record.Record, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", rec, err))
}

// Total returns the number of records synced across all collections
func (r Result) Total() int {
	total := 0
	for _, n := range r.Synced {
		total += n
	}
	return total
}
