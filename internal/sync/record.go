package sync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
	"github.com/cybertec-postgresql/fitlog_sync/internal/store"
)

// recordSync carries one record through its retry attempts. Once the remote
// side accepted a write, commit holds the local patch still to be stored, so
// a retry only repeats the local step and never re-creates the remote record.
type recordSync struct {
	rec      *record.Record
	commit   *store.Patch
	conflict *Conflict
	created  bool
}

// orphanedKey returns the key of a remote record this run created but could
// not store locally. The next run will create the record again.
func (st *recordSync) orphanedKey() string {
	if !st.created || st.commit == nil {
		return ""
	}
	return *st.commit.RemoteKey
}

func (s *Service) attempt(ctx context.Context, rs remote.Store, st *recordSync) error {
	if st.commit == nil {
		if err := s.reconcile(ctx, rs, st); err != nil {
			return err
		}
	}
	if err := s.store.Upsert(ctx, st.rec.LocalKey, *st.commit); err != nil {
		return err
	}
	st.commit = nil
	return nil
}

// reconcile performs the remote half of the per-record procedure and leaves
// the matching local patch in st.commit
func (s *Service) reconcile(ctx context.Context, rs remote.Store, st *recordSync) error {
	rec := st.rec
	if !rec.HasRemote() {
		if err := record.Validate(rec.Kind, rec.Payload); err != nil {
			return err
		}
		doc, err := rs.Create(ctx, rec.Kind, rec.Owner, rec.Payload, rec.Version)
		if err != nil {
			return err
		}
		rec.RemoteKey = doc.Key
		st.commit = syncedPatch(doc.Key, rec.Version)
		st.created = true
		return nil
	}

	doc, err := rs.Get(ctx, rec.Kind, rec.RemoteKey)
	if err != nil {
		return err
	}
	if doc.Version > rec.Version {
		return s.resolve(ctx, rs, st, doc)
	}

	version := rec.Version + 1
	if err := s.push(ctx, rs, rec, version); err != nil {
		return err
	}
	st.commit = syncedPatch(rec.RemoteKey, version)
	return nil
}

func (s *Service) resolve(ctx context.Context, rs remote.Store, st *recordSync, doc remote.Document) error {
	rec := st.rec
	res := Resolve(rec, doc)

	patch := syncedPatch(rec.RemoteKey, res.Version)
	if res.Winner == WinnerLocal {
		if err := s.push(ctx, rs, rec, res.Version); err != nil {
			return err
		}
	} else {
		patch.Payload = res.Payload
		patch.UpdatedAt = &res.UpdatedAt
	}

	st.commit = patch
	st.conflict = &Conflict{
		Kind:            rec.Kind,
		LocalKey:        rec.LocalKey,
		RemoteKey:       rec.RemoteKey,
		LocalVersion:    rec.Version,
		RemoteVersion:   doc.Version,
		LocalUpdatedAt:  rec.UpdatedAt,
		RemoteUpdatedAt: doc.Updated,
		Winner:          res.Winner,
		Discarded:       res.Discarded,
	}
	logrus.WithFields(logrus.Fields{
		"kind":           rec.Kind,
		"local_key":      rec.LocalKey,
		"remote_key":     rec.RemoteKey,
		"local_version":  rec.Version,
		"remote_version": doc.Version,
		"winner":         res.Winner,
	}).Info("Conflict resolved")
	return nil
}

func (s *Service) push(ctx context.Context, rs remote.Store, rec *record.Record, version int64) error {
	if err := record.Validate(rec.Kind, rec.Payload); err != nil {
		return err
	}
	_, err := rs.Update(ctx, rec.Kind, rec.RemoteKey, rec.Payload, version)
	return err
}

// syncedPatch always carries the remote key so synced and remote_key land in one statement
func syncedPatch(remoteKey string, version int64) *store.Patch {
	patch := store.MarkSynced(version)
	patch.RemoteKey = &remoteKey
	return &patch
}
