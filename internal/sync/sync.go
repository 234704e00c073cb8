// Package sync reconciles locally pending records with the remote collections.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/log"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
	"github.com/cybertec-postgresql/fitlog_sync/internal/retry"
	"github.com/cybertec-postgresql/fitlog_sync/internal/store"
)

// RecordStore is the part of the local store the orchestrator needs
type RecordStore interface {
	ListPending(ctx context.Context, owner string, kind record.Kind) ([]record.Record, error)
	Get(ctx context.Context, localKey int64) (*record.Record, error)
	Upsert(ctx context.Context, localKey int64, patch store.Patch) error
}

// Observer is notified after every run that got past authentication and the single-flight guard
type Observer interface {
	RunCompleted(ctx context.Context, owner string, res Result)
}

// Service orchestrates sync runs. At most one run is active per Service.
type Service struct {
	store        RecordStore
	remote       remote.Service
	probe        remote.Prober
	retry        *retry.Config
	probeTimeout time.Duration
	now          func() time.Time
	observers    []Observer
	running      atomic.Bool
}

// Option customizes a Service
type Option func(*Service)

// WithRetryConfig replaces the per-record retry policy
func WithRetryConfig(c *retry.Config) Option {
	return func(s *Service) { s.retry = c }
}

// WithProbeTimeout bounds the connectivity check
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithObserver registers an observer of completed runs
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// NewService creates a new synchronization service
func NewService(st RecordStore, rs remote.Service, probe remote.Prober, opts ...Option) *Service {
	s := &Service{
		store:        st,
		remote:       rs,
		probe:        probe,
		retry:        retry.RecordDefaults(),
		probeTimeout: remote.DefaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a run is in flight
func (s *Service) Running() bool {
	return s.running.Load()
}

// Run synchronizes every pending record of the session owner. It never
// returns an error: fatal failures are reported in Result.Fatal.
func (s *Service) Run(ctx context.Context, session auth.Session) Result {
	res := newResult(uuid.NewString(), s.now())
	if !session.Valid(s.now()) || (session.Token == "" && s.remote.RequiresToken()) {
		runsTotal.WithLabelValues(outcomeFailed).Inc()
		return res.fail(ErrAuth, s.now())
	}
	if !s.running.CompareAndSwap(false, true) {
		runsTotal.WithLabelValues(outcomeRejected).Inc()
		logrus.WithField("run_id", res.RunID).Debug("Sync rejected, another run is active")
		return res.fail(ErrInProgress, s.now())
	}

	res = s.run(ctx, session, res)
	observeRun(res)
	for _, o := range s.observers {
		o.RunCompleted(ctx, session.Owner, res)
	}
	return res
}

func (s *Service) run(ctx context.Context, session auth.Session, res Result) Result {
	defer s.running.Store(false)

	start := time.Now()
	logger := logrus.WithFields(logrus.Fields{"run_id": res.RunID, "owner": session.Owner})

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	err := s.probe.Probe(probeCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Warn("Remote store unreachable, skipping sync")
		return res.fail(fmt.Errorf("%w: %v", ErrNetwork, err), s.now())
	}

	rs := s.remote.Bind(session)
	for _, kind := range record.Kinds {
		s.syncCollection(ctx, rs, session.Owner, kind, &res)
	}

	res.Success = len(res.Errors) == 0
	res.FinishedAt = s.now()
	logger.WithFields(log.Since(start)).WithFields(logrus.Fields{
		"synced":    res.Total(),
		"conflicts": len(res.Conflicts),
		"errors":    len(res.Errors),
	}).Info("Sync run completed")
	return res
}

func (s *Service) syncCollection(ctx context.Context, rs remote.Store, owner string, kind record.Kind, res *Result) {
	pending, err := s.store.ListPending(ctx, owner, kind)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", kind, err))
		return
	}

	for i := range pending {
		rec, err := s.store.Get(ctx, pending[i].LocalKey)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted since it was listed
		}
		if err != nil {
			res.addRecordError(&pending[i], err)
			recordErrors.WithLabelValues(string(kind)).Inc()
			continue
		}
		if rec.Synced {
			continue
		}

		st := &recordSync{rec: rec}
		err = retry.Do(ctx, s.retry, rec.String(), func(ctx context.Context) error {
			return s.attempt(ctx, rs, st)
		})
		if err != nil {
			fields := logrus.Fields{"kind": kind, "local_key": rec.LocalKey}
			if key := st.orphanedKey(); key != "" {
				fields["remote_key"] = key
				err = fmt.Errorf("remote record %s created but not stored locally: %w", key, err)
			}
			logrus.WithError(err).WithFields(fields).Error("Failed to sync record")
			res.addRecordError(rec, err)
			recordErrors.WithLabelValues(string(kind)).Inc()
			continue
		}

		res.Synced[kind]++
		recordsSynced.WithLabelValues(string(kind)).Inc()
		if st.conflict != nil {
			res.Conflicts = append(res.Conflicts, *st.conflict)
			conflictsTotal.WithLabelValues(string(kind), string(st.conflict.Winner)).Inc()
		}
	}
}
