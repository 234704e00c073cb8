// Package remote talks to the authoritative record collections.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
)

// Document is the remote copy of a record. Updated is assigned by the server clock.
type Document struct {
	Key     string
	Payload json.RawMessage
	Version int64
	Updated time.Time
}

// Store performs create/read/update against the remote collection of a record kind
type Store interface {
	Create(ctx context.Context, kind record.Kind, owner string, payload json.RawMessage, version int64) (Document, error)
	Get(ctx context.Context, kind record.Kind, key string) (Document, error)
	Update(ctx context.Context, kind record.Kind, key string, payload json.RawMessage, version int64) (Document, error)
}

// Service hands out a Store acting on behalf of one session.
// RequiresToken reports whether a session without a token can be served at all.
type Service interface {
	Bind(session auth.Session) Store
	RequiresToken() bool
}

// Prober checks that the remote service is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// TransportError is a failed remote call. Status is zero when no response arrived.
type TransportError struct {
	Op         string
	Collection string
	Status     int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %v", e.Op, e.Collection, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed: network failures,
// timeouts, throttling and server errors are retried, other client errors are not
func (e *TransportError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}
