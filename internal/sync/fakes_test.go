package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	gosync "sync"
	"time"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
	"github.com/cybertec-postgresql/fitlog_sync/internal/store"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

var testSession = auth.Session{Owner: "user-1", Token: "token"}

// memStore is an in-memory RecordStore
type memStore struct {
	mu             gosync.Mutex
	records        map[int64]record.Record
	calls          int
	listErr        map[record.Kind]error
	vanished       map[int64]bool
	upsertFailures int
}

func newMemStore(recs ...record.Record) *memStore {
	s := &memStore{
		records:  map[int64]record.Record{},
		listErr:  map[record.Kind]error{},
		vanished: map[int64]bool{},
	}
	for _, r := range recs {
		s.records[r.LocalKey] = r
	}
	return s
}

func (s *memStore) ListPending(_ context.Context, owner string, kind record.Kind) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.listErr[kind]; err != nil {
		return nil, err
	}
	keys := slices.Sorted(maps.Keys(s.records))
	var out []record.Record
	for _, key := range keys {
		r := s.records[key]
		if r.Owner == owner && r.Kind == kind && !r.Synced {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, localKey int64) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r, ok := s.records[localKey]
	if !ok || s.vanished[localKey] {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) Upsert(_ context.Context, localKey int64, patch store.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.upsertFailures > 0 {
		s.upsertFailures--
		return errors.New("database is locked")
	}
	r, ok := s.records[localKey]
	if !ok {
		return store.ErrNotFound
	}
	if patch.RemoteKey != nil {
		r.RemoteKey = *patch.RemoteKey
	}
	if patch.Payload != nil {
		r.Payload = patch.Payload
	}
	if patch.Version != nil {
		r.Version = *patch.Version
	}
	if patch.Synced != nil {
		r.Synced = *patch.Synced
	}
	if patch.UpdatedAt != nil {
		r.UpdatedAt = *patch.UpdatedAt
	}
	s.records[localKey] = r
	return nil
}

func (s *memStore) record(key int64) record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key]
}

func (s *memStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type pushed struct {
	key     string
	payload json.RawMessage
	version int64
}

// memRemote is an in-memory remote.Service whose calls can be made to fail
type memRemote struct {
	mu        gosync.Mutex
	docs      map[string]remote.Document
	bound     []auth.Session
	creates   int
	updates   []pushed
	nextID    int
	createErr func(payload json.RawMessage) error
	updateErr error
	now       time.Time
}

func newMemRemote() *memRemote {
	return &memRemote{docs: map[string]remote.Document{}, now: t0.Add(time.Hour)}
}

func (m *memRemote) Bind(session auth.Session) remote.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound = append(m.bound, session)
	return m
}

func (m *memRemote) RequiresToken() bool {
	return false
}

func (m *memRemote) Create(_ context.Context, kind record.Kind, _ string, payload json.RawMessage, version int64) (remote.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		if err := m.createErr(payload); err != nil {
			return remote.Document{}, err
		}
	}
	m.creates++
	m.nextID++
	doc := remote.Document{Key: fmt.Sprintf("r%d", m.nextID), Payload: payload, Version: version, Updated: m.now}
	m.docs[doc.Key] = doc
	return doc, nil
}

func (m *memRemote) Get(_ context.Context, kind record.Kind, key string) (remote.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return remote.Document{}, &remote.TransportError{Op: "get", Collection: kind.Collection(), Status: 404, Err: errors.New("not found")}
	}
	return doc, nil
}

func (m *memRemote) Update(_ context.Context, kind record.Kind, key string, payload json.RawMessage, version int64) (remote.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return remote.Document{}, m.updateErr
	}
	m.updates = append(m.updates, pushed{key: key, payload: payload, version: version})
	doc := remote.Document{Key: key, Payload: payload, Version: version, Updated: m.now}
	m.docs[key] = doc
	return doc, nil
}

func (m *memRemote) put(doc remote.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Key] = doc
}

func (m *memRemote) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

func (m *memRemote) pushes() []pushed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pushed(nil), m.updates...)
}

// stubProbe answers immediately, or blocks until released when gate is set
type stubProbe struct {
	err     error
	calls   int
	entered chan struct{}
	gate    chan struct{}
}

func (p *stubProbe) Probe(ctx context.Context) error {
	p.calls++
	if p.gate != nil {
		close(p.entered)
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

type recordingSleeper struct {
	mu     gosync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type observerFunc func(ctx context.Context, owner string, res Result)

func (f observerFunc) RunCompleted(ctx context.Context, owner string, res Result) {
	f(ctx, owner, res)
}
