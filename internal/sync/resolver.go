package sync

import (
	"encoding/json"
	"time"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
)

// Winner names the replica whose version survives a conflict
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Resolution is the outcome of comparing a local record with a newer remote version
type Resolution struct {
	Winner    Winner
	Version   int64           // version both replicas end up with
	Payload   json.RawMessage // payload both replicas end up with
	UpdatedAt time.Time       // local updatedAt after the resolution
	Discarded json.RawMessage // losing payload, dropped in full
}

// Resolve applies last-writer-wins on whole records. Local wins only when its
// updatedAt is strictly later than the remote timestamp; ties go to remote.
func Resolve(local *record.Record, doc remote.Document) Resolution {
	if local.UpdatedAt.After(doc.Updated) {
		return Resolution{
			Winner:    WinnerLocal,
			Version:   doc.Version + 1,
			Payload:   local.Payload,
			UpdatedAt: local.UpdatedAt,
			Discarded: doc.Payload,
		}
	}
	return Resolution{
		Winner:    WinnerRemote,
		Version:   doc.Version,
		Payload:   doc.Payload,
		UpdatedAt: doc.Updated,
		Discarded: local.Payload,
	}
}
