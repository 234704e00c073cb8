// Package status keeps the user-facing view of sync state and decides when
// sync runs are triggered.
package status

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

const (
	DefaultSyncInterval = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Syncer runs sync passes; *sync.Service satisfies it
type Syncer interface {
	Run(ctx context.Context, session auth.Session) sync.Result
	Running() bool
}

// PendingCounter counts pending records of one owner without scanning other owners
type PendingCounter interface {
	CountPending(ctx context.Context, owner string, kind record.Kind) (int, error)
}

// Snapshot is the externally visible sync status
type Snapshot struct {
	Online        bool                `json:"isOnline"`
	Syncing       bool                `json:"isSyncing"`
	LastSyncTime  *time.Time          `json:"lastSyncTime"`
	LastSyncError string              `json:"lastSyncError,omitempty"`
	Pending       map[record.Kind]int `json:"pendingByCollection"`
	LastResult    *sync.Result        `json:"lastResult,omitempty"`
}

// Tracker polls pending counts and connectivity and triggers sync runs on a
// fixed interval, on reconnect, on foreground transitions and on request.
// Runs never overlap; the syncer rejects concurrent attempts.
type Tracker struct {
	syncer       Syncer
	counter      PendingCounter
	probe        remote.Prober
	session      auth.Session
	syncInterval time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration

	foreground chan struct{}

	mu   gosync.Mutex
	snap Snapshot
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithSyncInterval sets the period of automatic runs while online
func WithSyncInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.syncInterval = d
		}
	}
}

// WithPollInterval sets how often connectivity and pending counts are refreshed
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// NewTracker creates a tracker for the records of one session
func NewTracker(syncer Syncer, counter PendingCounter, probe remote.Prober, session auth.Session, opts ...Option) *Tracker {
	t := &Tracker{
		syncer:       syncer,
		counter:      counter,
		probe:        probe,
		session:      session,
		syncInterval: DefaultSyncInterval,
		pollInterval: DefaultPollInterval,
		probeTimeout: remote.DefaultProbeTimeout,
		foreground:   make(chan struct{}, 1),
		snap:         Snapshot{Pending: map[record.Kind]int{}},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run drives the periodic work until ctx is cancelled
func (t *Tracker) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(t.pollInterval)
	defer pollTicker.Stop()
	syncTicker := time.NewTicker(t.syncInterval)
	defer syncTicker.Stop()

	t.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			t.poll(ctx)
		case <-syncTicker.C:
			t.syncIfOnline(ctx, "interval")
		case <-t.foreground:
			t.syncIfOnline(ctx, "foreground")
		}
	}
}

// Foreground signals that the user came back to the application
func (t *Tracker) Foreground() {
	select {
	case t.foreground <- struct{}{}:
	default:
	}
}

// RequestSync runs a sync on behalf of the user and returns its result
func (t *Tracker) RequestSync(ctx context.Context) sync.Result {
	return t.sync(ctx, "request")
}

// Status returns a copy of the current snapshot
func (t *Tracker) Status() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap
	snap.Syncing = t.syncer.Running()
	snap.Pending = make(map[record.Kind]int, len(t.snap.Pending))
	for k, v := range t.snap.Pending {
		snap.Pending[k] = v
	}
	return snap
}

// PendingCounts returns the number of pending records per kind for owner
func (t *Tracker) PendingCounts(ctx context.Context, owner string) (map[record.Kind]int, error) {
	counts := make(map[record.Kind]int, len(record.Kinds))
	for _, kind := range record.Kinds {
		n, err := t.counter.CountPending(ctx, owner, kind)
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// poll refreshes connectivity and pending counts; coming back online starts a sync
func (t *Tracker) poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	err := t.probe.Probe(probeCtx)
	cancel()
	online := err == nil

	t.mu.Lock()
	wasOnline := t.snap.Online
	t.snap.Online = online
	t.mu.Unlock()
	setOnline(online)

	if online != wasOnline {
		logrus.WithField("online", online).Info("Connectivity changed")
	}
	if online && !wasOnline {
		t.sync(ctx, "reconnect")
		return
	}
	t.refreshPending(ctx)
}

func (t *Tracker) syncIfOnline(ctx context.Context, reason string) {
	t.mu.Lock()
	online := t.snap.Online
	t.mu.Unlock()
	if !online {
		logrus.WithField("trigger", reason).Debug("Offline, sync skipped")
		return
	}
	t.sync(ctx, reason)
}

func (t *Tracker) sync(ctx context.Context, reason string) sync.Result {
	res := t.syncer.Run(ctx, t.session)
	triggersTotal.WithLabelValues(reason).Inc()

	if !errors.Is(res.Fatal, sync.ErrInProgress) {
		t.mu.Lock()
		t.snap.LastResult = &res
		if res.Success {
			finished := res.FinishedAt
			t.snap.LastSyncTime = &finished
			t.snap.LastSyncError = ""
		} else {
			t.snap.LastSyncError = strings.Join(res.Errors, "; ")
		}
		t.mu.Unlock()
	}

	t.refreshPending(ctx)
	return res
}

func (t *Tracker) refreshPending(ctx context.Context) {
	counts, err := t.PendingCounts(ctx, t.session.Owner)
	if err != nil {
		logrus.WithError(err).Warn("Failed to count pending records")
		return
	}
	t.mu.Lock()
	t.snap.Pending = counts
	t.mu.Unlock()
	for kind, n := range counts {
		pendingRecords.WithLabelValues(string(kind)).Set(float64(n))
	}
}
